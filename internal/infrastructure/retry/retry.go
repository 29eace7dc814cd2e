package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Policy describes exponential backoff between attempts. Delays grow by
// Multiplier each attempt, with optional uniform jitter of +/-Jitter
// fraction to keep concurrent retries from aligning.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Jitter      float64
}

// Default mirrors the upstream's documented retry contract: three attempts,
// eight seconds base, quadrupling.
var Default = Policy{
	MaxAttempts: 3,
	BaseDelay:   8 * time.Second,
	Multiplier:  4,
	Jitter:      0.1,
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// immediately when an operation yields one.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the no-retry marker.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Delay returns the backoff before the given retry. attempt counts from 1,
// meaning the delay after the first failure.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	if p.Jitter > 0 {
		d *= 1 + p.Jitter*(2*rand.Float64()-1)
	}
	return time.Duration(d)
}

// Do runs op up to MaxAttempts times, sleeping the policy delay between
// failures. A Permanent error or a dead context stops immediately. The last
// error is returned unwrapped from the marker.
func (p Policy) Do(ctx context.Context, name string, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt)
		log.Warn().
			Str("op", name).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(err).
			Msg("retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
