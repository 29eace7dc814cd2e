package port

import (
	"context"

	"spreadwatch/internal/domain/model"
)

// MarketData is one quote source the scheduler can poll. Implementations
// own their rate budget, retries and per-endpoint breaker state.
type MarketData interface {
	// FetchMany returns one quote pair per input pair, preserving order.
	// Pairs that could not be priced come back incomplete; only fatal
	// conditions (auth rejection, dead context) surface as errors.
	FetchMany(ctx context.Context, pairs []model.InstrumentPair) ([]model.QuotePair, error)

	// ResetCycle clears per-cycle breaker state. Called once per completed
	// coverage pass so a tripped endpoint gets a fresh chance next pass.
	ResetCycle()
}

// SourcePicker maps a bucket's rotation index onto a usable market data
// source. Implementations backed by health probing drop blocked or
// unreachable upstreams out of rotation; ok is false when nothing is
// currently usable.
type SourcePicker interface {
	Pick(rotation int) (MarketData, bool)
	ActiveCount() int
}
