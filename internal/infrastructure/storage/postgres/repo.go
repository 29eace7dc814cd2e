package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"spreadwatch/internal/application/port"
	"spreadwatch/internal/domain/model"
)

// Repo is the optional long-term signal archive. The embedded sqlite store
// remains authoritative; this one only appends for later analysis.
type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS signal_archive (
  id BIGSERIAL PRIMARY KEY,
  pair_key TEXT NOT NULL,
  action TEXT NOT NULL,
  spread_percent DOUBLE PRECISION NOT NULL,
  urgency INT NOT NULL,
  payload JSONB NOT NULL,
  ts_ms BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_signal_archive_pair ON signal_archive(pair_key);
CREATE INDEX IF NOT EXISTS idx_signal_archive_ts ON signal_archive(ts_ms);
`)
	return err
}

// Publish appends the signal to the archive. Named after the port it
// serves: the archive is one more place a signal fans out to.
func (r *Repo) Publish(ctx context.Context, sig model.Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = r.db.ExecContext(cctx, `
		INSERT INTO signal_archive(pair_key, action, spread_percent, urgency, payload, ts_ms)
		VALUES($1, $2, $3, $4, $5, $6)
	`, sig.Pair.Key(), sig.Action.String(), sig.SpreadPercent, sig.Urgency, string(payload), sig.Timestamp.UnixMilli())
	return err
}

var _ port.Publisher = (*Repo)(nil)
