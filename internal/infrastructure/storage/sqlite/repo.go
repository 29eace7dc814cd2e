package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"spreadwatch/internal/application/port"
	"spreadwatch/internal/domain/model"
)

// Repo is the embedded store for subscribers, signal history and the open
// position mirror. A single connection keeps sqlite writes serialized.
type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

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
CREATE TABLE IF NOT EXISTS subscribers (
  id INTEGER PRIMARY KEY,
  cadence_seconds INTEGER NOT NULL,
  spread_threshold REAL NOT NULL,
  max_signals INTEGER NOT NULL,
  instruments TEXT NOT NULL DEFAULT '',
  active INTEGER NOT NULL DEFAULT 1,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS signals (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  pair_key TEXT NOT NULL,
  action TEXT NOT NULL,
  underlying_price REAL NOT NULL,
  derivative_price REAL NOT NULL,
  spread_percent REAL NOT NULL,
  urgency INTEGER NOT NULL,
  payload TEXT NOT NULL,
  ts_ms INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_pair ON signals(pair_key);
CREATE INDEX IF NOT EXISTS idx_signals_ts ON signals(ts_ms);

CREATE TABLE IF NOT EXISTS positions (
  pair_key TEXT PRIMARY KEY,
  payload TEXT NOT NULL,
  entry_spread REAL NOT NULL,
  opened_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
`)
	return err
}

func (r *Repo) Save(ctx context.Context, sub model.Subscriber) error {
	if len(sub.Instruments) > model.MaxSelectedInstruments {
		sub.Instruments = sub.Instruments[:model.MaxSelectedInstruments]
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscribers(id, cadence_seconds, spread_threshold, max_signals, instruments, active, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cadence_seconds=excluded.cadence_seconds,
			spread_threshold=excluded.spread_threshold,
			max_signals=excluded.max_signals,
			instruments=excluded.instruments,
			active=excluded.active,
			updated_at=excluded.updated_at
	`, sub.ID, sub.CadenceSeconds, sub.SpreadThreshold, sub.MaxSignals,
		strings.Join(sub.Instruments, ","), boolInt(sub.Active), time.Now().UnixMilli())
	return err
}

func (r *Repo) Get(ctx context.Context, id int64) (model.Subscriber, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, cadence_seconds, spread_threshold, max_signals, instruments, active
		FROM subscribers WHERE id=?
	`, id)
	return scanSubscriber(row)
}

func (r *Repo) List(ctx context.Context) ([]model.Subscriber, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, cadence_seconds, spread_threshold, max_signals, instruments, active
		FROM subscribers ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (r *Repo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM subscribers WHERE id=?`, id)
	return err
}

func (r *Repo) InsertSignal(ctx context.Context, sig model.Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO signals(pair_key, action, underlying_price, derivative_price, spread_percent, urgency, payload, ts_ms, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sig.Pair.Key(), sig.Action.String(), sig.UnderlyingPrice, sig.DerivativePrice,
		sig.SpreadPercent, sig.Urgency, string(payload), sig.Timestamp.UnixMilli(), time.Now().UnixMilli())
	return err
}

func (r *Repo) UpsertPosition(ctx context.Context, pos model.Position) error {
	payload, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO positions(pair_key, payload, entry_spread, opened_at, updated_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(pair_key) DO UPDATE SET
			payload=excluded.payload,
			entry_spread=excluded.entry_spread,
			opened_at=excluded.opened_at,
			updated_at=excluded.updated_at
	`, pos.Pair.Key(), string(payload), pos.EntrySpread, pos.OpenedAt.UnixMilli(), time.Now().UnixMilli())
	return err
}

func (r *Repo) DeletePosition(ctx context.Context, pairKey string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM positions WHERE pair_key=?`, pairKey)
	return err
}

func (r *Repo) ListPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM positions ORDER BY opened_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var pos model.Position
		if err := json.Unmarshal([]byte(payload), &pos); err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscriber(row rowScanner) (model.Subscriber, error) {
	var sub model.Subscriber
	var instruments string
	var active int
	err := row.Scan(&sub.ID, &sub.CadenceSeconds, &sub.SpreadThreshold, &sub.MaxSignals, &instruments, &active)
	if err != nil {
		return model.Subscriber{}, err
	}
	if instruments != "" {
		sub.Instruments = strings.Split(instruments, ",")
	}
	sub.Active = active != 0
	return sub, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var (
	_ port.SubscriberStore  = (*Repo)(nil)
	_ port.SignalRepository = (*Repo)(nil)
)
