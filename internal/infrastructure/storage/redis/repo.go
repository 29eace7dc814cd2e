package redis

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"

	"spreadwatch/internal/application/port"
	"spreadwatch/internal/domain/model"
)

// Repo fans signals out through Redis: a stream for durable consumers and
// a pub/sub channel for live listeners.
type Repo struct {
	rdb          *redis.Client
	signalStream string
	signalChan   string
}

func New(rdb *redis.Client, prefix, signalStream, signalChan string) *Repo {
	if strings.TrimSpace(signalStream) == "" {
		signalStream = prefix + ":signals"
	}
	if strings.TrimSpace(signalChan) == "" {
		signalChan = prefix + ":signals:pub"
	}
	return &Repo{
		rdb:          rdb,
		signalStream: signalStream,
		signalChan:   signalChan,
	}
}

func (r *Repo) Publish(ctx context.Context, sig model.Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}

	// Stream first so durable consumers never miss what pub/sub saw.
	_, err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.signalStream,
		Values: map[string]any{
			"pair":    sig.Pair.Key(),
			"action":  sig.Action.String(),
			"spread":  sig.SpreadPercent,
			"urgency": sig.Urgency,
			"ts_ms":   sig.Timestamp.UnixMilli(),
			"payload": string(payload),
		},
	}).Result()
	if err != nil {
		return err
	}

	return r.rdb.Publish(ctx, r.signalChan, string(payload)).Err()
}

func (r *Repo) Close() error { return r.rdb.Close() }

var _ port.Publisher = (*Repo)(nil)
