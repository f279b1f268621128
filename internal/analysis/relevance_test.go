package analysis

import (
	"reflect"
	"testing"

	"github.com/antoniostano/dona/internal/store"
)

func historyOf(bodies ...string) []store.Message {
	msgs := make([]store.Message, 0, len(bodies))
	for i, b := range bodies {
		msgs = append(msgs, store.Message{Seq: int64(i) + 1, Body: b})
	}
	return msgs
}

func seqsOf(msgs []store.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Seq)
	}
	return out
}

func TestPruneHistoryExcludesCurrentMessage(t *testing.T) {
	history := historyOf("a", "b", "c")
	kept, _ := PruneHistory(history, 3, nil, 10, 1000)
	for _, m := range kept {
		if m.Seq == 3 {
			t.Fatalf("current message retained in window")
		}
	}
	if len(kept) != 2 {
		t.Fatalf("len(kept) = %d, want 2", len(kept))
	}
}

func TestPruneHistoryIsDeterministic(t *testing.T) {
	history := historyOf("redis is down", "lunch plans", "fixed the redis timeout", "weather looks nice")
	entities := []string{"redis"}

	first, usedA := PruneHistory(history, 5, entities, 2, 100)
	second, usedB := PruneHistory(history, 5, entities, 2, 100)
	if !reflect.DeepEqual(seqsOf(first), seqsOf(second)) || usedA != usedB {
		t.Fatalf("identical inputs pruned differently: %v vs %v", seqsOf(first), seqsOf(second))
	}
}

func TestPruneHistoryPrefersEntityOverlap(t *testing.T) {
	history := []store.Message{
		{Seq: 1, Body: "x", Annotation: &store.Annotation{Entities: []string{"redis"}}},
		{Seq: 2, Body: "x", Annotation: &store.Annotation{Entities: nil}},
		{Seq: 3, Body: "x", Annotation: &store.Annotation{Entities: nil}},
	}
	kept, _ := PruneHistory(history, 4, []string{"redis"}, 1, 1000)
	if len(kept) != 1 || kept[0].Seq != 1 {
		t.Fatalf("kept = %v, want the overlapping seq 1", seqsOf(kept))
	}
}

func TestPruneHistoryFallsBackToRecency(t *testing.T) {
	history := historyOf("aaa", "bbb", "ccc", "ddd")
	kept, _ := PruneHistory(history, 5, nil, 2, 1000)
	if !reflect.DeepEqual(seqsOf(kept), []int64{3, 4}) {
		t.Fatalf("kept = %v, want the two most recent [3 4]", seqsOf(kept))
	}
}

func TestPruneHistoryRespectsBudget(t *testing.T) {
	long := make([]byte, 50)
	for i := range long {
		long[i] = 'x'
	}
	history := []store.Message{
		{Seq: 1, Body: "short"},
		{Seq: 2, Body: string(long)},
		{Seq: 3, Body: "tiny"},
	}
	kept, used := PruneHistory(history, 4, nil, 3, 20)
	for _, m := range kept {
		if m.Seq == 2 {
			t.Fatalf("over-budget message retained")
		}
	}
	if used > 20 {
		t.Fatalf("used = %d, want <= budget 20", used)
	}
	if len(kept) != 2 {
		t.Fatalf("len(kept) = %d, want 2", len(kept))
	}
}

func TestPruneHistoryReturnsChronologicalOrder(t *testing.T) {
	history := historyOf("one", "two", "three", "four", "five")
	kept, _ := PruneHistory(history, 6, nil, 3, 1000)
	for i := 1; i < len(kept); i++ {
		if kept[i].Seq <= kept[i-1].Seq {
			t.Fatalf("window out of order: %v", seqsOf(kept))
		}
	}
}

func TestPruneHistoryZeroBudget(t *testing.T) {
	kept, used := PruneHistory(historyOf("a"), 2, nil, 3, 0)
	if len(kept) != 0 || used != 0 {
		t.Fatalf("kept=%v used=%d, want empty", seqsOf(kept), used)
	}
}
