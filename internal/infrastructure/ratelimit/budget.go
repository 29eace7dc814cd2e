package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Budget enforces two independent constraints on outbound requests: a hard
// cap on how many may start inside any rolling window, and a minimum gap
// between consecutive starts. The upstream counts actual requests in a
// rolling window, so a token bucket alone is not enough: a refilled bucket
// can burst right after a full window. The window is tracked with explicit
// start timestamps and the bucket only paces the gap.
type Budget struct {
	spacing *rate.Limiter

	mu     sync.Mutex
	window time.Duration
	limit  int
	starts []time.Time

	now func() time.Time
}

// New returns a budget allowing at most limit request starts per window,
// spaced at least minInterval apart.
func New(limit int, window, minInterval time.Duration) *Budget {
	return &Budget{
		spacing: rate.NewLimiter(rate.Every(minInterval), 1),
		window:  window,
		limit:   limit,
		starts:  make([]time.Time, 0, limit),
		now:     time.Now,
	}
}

// Wait blocks until the next request may start, then records the start.
// Returns early with the context error on cancellation.
func (b *Budget) Wait(ctx context.Context) error {
	if err := b.spacing.Wait(ctx); err != nil {
		return err
	}

	for {
		wait, ok := b.tryReserve()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryReserve records a start when the window has room. Otherwise it returns
// how long until the oldest start falls out of the window.
func (b *Budget) tryReserve() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.prune(now)

	if len(b.starts) < b.limit {
		b.starts = append(b.starts, now)
		return 0, true
	}
	return b.starts[0].Add(b.window).Sub(now), false
}

// Remaining reports how many starts the current window still allows.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(b.now())
	return b.limit - len(b.starts)
}

func (b *Budget) prune(now time.Time) {
	cut := now.Add(-b.window)
	i := 0
	for i < len(b.starts) && !b.starts[i].After(cut) {
		i++
	}
	if i > 0 {
		b.starts = append(b.starts[:0], b.starts[i:]...)
	}
}
