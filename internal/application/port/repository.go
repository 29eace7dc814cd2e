package port

import (
	"context"

	"spreadwatch/internal/domain/model"
)

// SubscriberStore persists notification recipients and their polling
// preferences.
type SubscriberStore interface {
	Save(ctx context.Context, sub model.Subscriber) error
	Get(ctx context.Context, id int64) (model.Subscriber, error)
	List(ctx context.Context) ([]model.Subscriber, error)
	Delete(ctx context.Context, id int64) error
	Close() error
}

// SignalRepository records emitted signals and mirrors the engine's open
// positions so a restart can restore them.
type SignalRepository interface {
	InsertSignal(ctx context.Context, sig model.Signal) error
	UpsertPosition(ctx context.Context, pos model.Position) error
	DeletePosition(ctx context.Context, pairKey string) error
	ListPositions(ctx context.Context) ([]model.Position, error)
	Close() error
}
