package port

import (
	"context"

	"spreadwatch/internal/domain/model"
)

// Notifier delivers one signal to one recipient. A delivery failure is the
// notifier's problem alone: recipient state is never mutated on error.
type Notifier interface {
	Send(ctx context.Context, recipient int64, sig model.Signal) error
}

// Publisher broadcasts a signal to an unaddressed channel, such as a Redis
// stream or a websocket fan-out.
type Publisher interface {
	Publish(ctx context.Context, sig model.Signal) error
}

// Observer receives operational counters from the polling loop. The
// metrics package provides the production implementation.
type Observer interface {
	CycleRan(cadence int)
	BatchFetched(cadence, pairs int)
	SignalEmitted(action string)
	QuoteGap()
	OpenPositions(n int)
	QueueDepth(n int)
}
