package cache

import (
	"testing"
	"time"
)

func TestMinuteWindowCountsWithinWindow(t *testing.T) {
	w := newMinuteWindow(5)
	now := time.Unix(6000, 0)

	w.Record(now)
	w.Record(now)
	w.Record(now.Add(-2 * time.Minute))

	if got := w.Total(now); got != 3 {
		t.Fatalf("Total() = %d, want 3", got)
	}
}

func TestMinuteWindowDropsOldMinutes(t *testing.T) {
	w := newMinuteWindow(5)
	base := time.Unix(6000, 0)

	w.Record(base)
	// Five minutes later the base minute falls outside the ring.
	later := base.Add(5 * time.Minute)
	if got := w.Total(later); got != 0 {
		t.Fatalf("Total() = %d after window passed, want 0", got)
	}
}

func TestMinuteWindowSlotReuse(t *testing.T) {
	w := newMinuteWindow(3)
	base := time.Unix(6000, 0)

	w.Record(base)
	w.Record(base)
	// Same ring slot, different minute: the stale count must reset.
	reuse := base.Add(3 * time.Minute)
	w.Record(reuse)

	if got := w.Total(reuse); got != 1 {
		t.Fatalf("Total() = %d at reused slot, want 1", got)
	}
}

func TestMinuteWindowDefaultSize(t *testing.T) {
	if got := newMinuteWindow(0).Minutes(); got != 15 {
		t.Fatalf("Minutes() = %d, want 15", got)
	}
}
