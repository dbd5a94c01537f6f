package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clusterlift/clusterlift/internal/lifecycle"
)

const schema = `
CREATE TABLE IF NOT EXISTS lifecycle_events (
	id          UUID PRIMARY KEY,
	session_id  UUID NOT NULL,
	type        TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	handle      TEXT,
	from_state  TEXT,
	to_state    TEXT,
	payload     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS lifecycle_events_session_idx ON lifecycle_events (session_id, occurred_at);
`

const insertEvent = `
INSERT INTO lifecycle_events (id, session_id, type, occurred_at, handle, from_state, to_state, payload)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8)
ON CONFLICT (id) DO NOTHING`

const writeTimeout = 5 * time.Second

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store appends lifecycle events to a PostgreSQL table.
type Store struct {
	db     execer
	logger *slog.Logger
}

// NewStore creates a Store on db, typically a *pgxpool.Pool.
func NewStore(db execer, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// NewPool connects to dsn and verifies the connection.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 4
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// Migrate creates the events table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating lifecycle_events: %w", err)
	}
	return nil
}

// Append writes one event. Re-appending the same event ID is a no-op.
func (s *Store) Append(ctx context.Context, e lifecycle.Event) error {
	rec := e.Record()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	_, err := s.db.Exec(ctx, insertEvent,
		rec.ID,
		rec.SessionID,
		rec.Type,
		rec.Time,
		rec.Handle,
		rec.From,
		rec.To,
		rec,
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) Observe(ctx context.Context, e lifecycle.Event) {
	if err := s.Append(ctx, e); err != nil {
		s.logger.Warn("journal write failed", "type", e.Type, "error", err)
	}
}
