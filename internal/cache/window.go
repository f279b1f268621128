package cache

import (
	"sync"
	"time"
)

// minuteWindow counts events per wall-clock minute over a fixed ring of
// recent minutes, for the realtime activity stats.
type minuteWindow struct {
	mu     sync.Mutex
	counts []int64
	stamps []int64
}

func newMinuteWindow(minutes int) *minuteWindow {
	if minutes <= 0 {
		minutes = 15
	}
	return &minuteWindow{
		counts: make([]int64, minutes),
		stamps: make([]int64, minutes),
	}
}

func (w *minuteWindow) Record(now time.Time) {
	minute := now.Unix() / 60
	slot := int(minute % int64(len(w.counts)))

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stamps[slot] != minute {
		w.stamps[slot] = minute
		w.counts[slot] = 0
	}
	w.counts[slot]++
}

// Total sums events recorded within the window ending at now.
func (w *minuteWindow) Total(now time.Time) int64 {
	minute := now.Unix() / 60
	oldest := minute - int64(len(w.counts)) + 1

	w.mu.Lock()
	defer w.mu.Unlock()
	var total int64
	for i, stamp := range w.stamps {
		if stamp >= oldest && stamp <= minute {
			total += w.counts[i]
		}
	}
	return total
}

func (w *minuteWindow) Minutes() int { return len(w.counts) }
