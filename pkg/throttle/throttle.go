package throttle

import (
	"context"
	"math/rand"
	"time"
)

// Throttle inserts a randomized pause before each operation. Every Wait picks
// a fresh duration uniformly from [Min, Max], so request timing never settles
// into a detectable cadence. It is safe for concurrent use by multiple
// goroutines.
type Throttle struct {
	min time.Duration
	max time.Duration
}

// New creates a throttle that sleeps between min and max per Wait call.
// Negative bounds are clamped to zero and inverted bounds are swapped.
// If both bounds resolve to zero, Wait does not block.
func New(min, max time.Duration) *Throttle {
	if min < 0 {
		min = 0
	}
	if max < 0 {
		max = 0
	}
	if max < min {
		min, max = max, min
	}
	return &Throttle{min: min, max: max}
}

// Wait blocks for a random duration within the configured bounds, or until
// the context is canceled.
func (t *Throttle) Wait(ctx context.Context) error {
	d := t.pick()
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Bounds returns the configured min and max delay.
func (t *Throttle) Bounds() (min, max time.Duration) {
	return t.min, t.max
}

func (t *Throttle) pick() time.Duration {
	if t.max == 0 {
		return 0
	}
	if t.max == t.min {
		return t.min
	}
	return t.min + time.Duration(rand.Int63n(int64(t.max-t.min)+1))
}
