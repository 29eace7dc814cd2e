package moex

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth is a 401/403 from the upstream. Never retried.
	ErrAuth = errors.New("moex: authorization rejected")

	// ErrRateLimited is a 429. Retried with backoff.
	ErrRateLimited = errors.New("moex: rate limited")

	// ErrCircuitOpen means the key has failed enough consecutive times
	// this cycle that further fetches are skipped until the next reset.
	ErrCircuitOpen = errors.New("moex: circuit open")
)

// StatusError carries an unexpected HTTP status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("moex: unexpected http %d", e.Code)
}

// Retryable reports whether the status is a server-side failure worth
// another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500
}
