package analysis

import (
	"sort"
	"unicode/utf8"

	"github.com/antoniostano/dona/internal/store"
)

// PruneHistory scores each prior message against the current entity set and
// keeps the top-K within the length budget. Scoring uses entity overlap plus
// positional recency decay, so identical inputs always prune identically.
// Long messages consume more of the budget than short ones.
func PruneHistory(history []store.Message, currentSeq int64, currentEntities []string, topK, budget int) ([]store.Message, int) {
	if topK <= 0 || budget <= 0 {
		return nil, 0
	}

	current := make(map[string]struct{}, len(currentEntities))
	for _, e := range currentEntities {
		current[e] = struct{}{}
	}

	type scored struct {
		msg   store.Message
		score float64
	}
	candidates := make([]scored, 0, len(history))
	for i, m := range history {
		if m.Seq == currentSeq {
			continue
		}
		overlap := 0
		for _, e := range entitiesOf(m) {
			if _, ok := current[e]; ok {
				overlap++
			}
		}
		// Positional decay: the further from the newest message, the less
		// a candidate is worth absent entity overlap.
		distance := len(history) - 1 - i
		score := float64(overlap)*2 + 1/float64(1+distance)
		candidates = append(candidates, scored{msg: m, score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].msg.Seq > candidates[j].msg.Seq
	})

	kept := make([]store.Message, 0, topK)
	used := 0
	for _, c := range candidates {
		if len(kept) >= topK {
			break
		}
		length := utf8.RuneCountInString(c.msg.Body)
		if used+length > budget {
			continue
		}
		kept = append(kept, c.msg)
		used += length
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Seq < kept[j].Seq })
	return kept, used
}

// entitiesOf reuses the stored annotation when present and falls back to
// re-extraction for unannotated messages.
func entitiesOf(m store.Message) []string {
	if m.Annotation != nil {
		return m.Annotation.Entities
	}
	return ExtractEntities(m.Body)
}
