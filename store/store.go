// Package store is Retrack's persistence layer: trackers, their revision
// history, queued tasks, and scheduler job state, all held in Postgres
// (spec.md §6.3). It plays the role the teacher's database.BoltDBClient
// played for mailgrid's jobs bucket, widened to a relational schema with
// foreign-key cascades that an embedded KV store cannot express.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/retrack/retrack/config"
	"github.com/pkg/errors"
)

// Store is a wrapper around *sql.DB for Retrack's persisted entities.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and runs the schema migration.
func Open(cfg config.DBConfig) (*Store, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Name, cfg.User, cfg.Password, cfg.SSLMode,
	)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres connection")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "ping postgres")
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, errors.Wrap(err, "run schema migration")
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS scheduler_jobs (
    id              uuid PRIMARY KEY,
    schedule        text NOT NULL,
    next_tick       bigint NOT NULL,
    last_tick       bigint NOT NULL DEFAULT 0,
    stopped         boolean NOT NULL DEFAULT false,
    extra           bytea,
    locked_by       text,
    locked_until    timestamptz
);

CREATE TABLE IF NOT EXISTS trackers (
    id              uuid PRIMARY KEY,
    name            text NOT NULL,
    name_ci         text GENERATED ALWAYS AS (lower(name)) STORED UNIQUE,
    enabled         boolean NOT NULL DEFAULT true,
    target          jsonb NOT NULL,
    actions         jsonb NOT NULL DEFAULT '[]',
    config          jsonb NOT NULL,
    tags            text[] NOT NULL DEFAULT '{}',
    job_needed      boolean NOT NULL DEFAULT false,
    job_id          uuid UNIQUE REFERENCES scheduler_jobs(id),
    created_at      timestamptz NOT NULL DEFAULT now(),
    updated_at      timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS trackers_data (
    id              uuid PRIMARY KEY,
    tracker_id      uuid NOT NULL REFERENCES trackers(id) ON DELETE CASCADE,
    created_at      timestamptz NOT NULL,
    data            bytea NOT NULL,
    UNIQUE (tracker_id, created_at)
);

CREATE TABLE IF NOT EXISTS tasks (
    id              uuid PRIMARY KEY,
    task_type       text NOT NULL,
    payload         jsonb NOT NULL,
    scheduled_at    timestamptz NOT NULL,
    retry_attempt   int NOT NULL DEFAULT 0,
    tags            text[] NOT NULL DEFAULT '{}',
    claimed_by      text,
    claimed_until   timestamptz
);

CREATE TABLE IF NOT EXISTS tracker_locks (
    tracker_id      uuid PRIMARY KEY,
    locked_by       text,
    locked_until    timestamptz
);
`

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// DB exposes the underlying *sql.DB for components (revisionstore,
// taskqueue) that need direct query access beyond the CRUD helpers here.
func (s *Store) DB() *sql.DB {
	return s.db
}
