package store

import (
	"context"
	"errors"
	"testing"
)

func fakeFetch(total int64, calls *int) func(context.Context, int64, int) ([]Message, error) {
	return func(_ context.Context, afterSeq int64, limit int) ([]Message, error) {
		if calls != nil {
			*calls++
		}
		var out []Message
		for seq := afterSeq + 1; seq <= total && len(out) < limit; seq++ {
			out = append(out, Message{Seq: seq})
		}
		return out, nil
	}
}

func TestCursorBatchesLazily(t *testing.T) {
	calls := 0
	cur := newCursor(4, fakeFetch(10, &calls))

	ctx := context.Background()
	count := 0
	for cur.Next(ctx) {
		count++
		if cur.Message().Seq != int64(count) {
			t.Fatalf("Seq = %d, want %d", cur.Message().Seq, count)
		}
	}
	if count != 10 {
		t.Fatalf("count = %d, want 10", count)
	}
	// 10 messages in batches of 4: three fetches, the last short batch ends
	// iteration without a fourth.
	if calls != 3 {
		t.Fatalf("fetch calls = %d, want 3", calls)
	}
}

func TestCursorEmptyHistory(t *testing.T) {
	cur := newCursor(5, fakeFetch(0, nil))
	if cur.Next(context.Background()) {
		t.Fatalf("Next() = true on empty history")
	}
	if cur.Err() != nil {
		t.Fatalf("Err() = %v, want nil", cur.Err())
	}
}

func TestCursorPropagatesFetchError(t *testing.T) {
	boom := errors.New("boom")
	cur := newCursor(5, func(context.Context, int64, int) ([]Message, error) {
		return nil, boom
	})
	if cur.Next(context.Background()) {
		t.Fatalf("Next() = true, want false on error")
	}
	if !errors.Is(cur.Err(), boom) {
		t.Fatalf("Err() = %v, want boom", cur.Err())
	}

	// Seek clears the error and allows a retry.
	cur.Seek(0)
	if cur.Err() != nil {
		t.Fatalf("Err() after Seek = %v, want nil", cur.Err())
	}
}

func TestCursorSeekSkipsConsumedPrefix(t *testing.T) {
	cur := newCursor(3, fakeFetch(6, nil))
	cur.Seek(4)

	ctx := context.Background()
	var seqs []int64
	for cur.Next(ctx) {
		seqs = append(seqs, cur.Message().Seq)
	}
	if len(seqs) != 2 || seqs[0] != 5 || seqs[1] != 6 {
		t.Fatalf("seqs = %v, want [5 6]", seqs)
	}
}
