package stats

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS xtp_transfers (
	token      TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	path       TEXT NOT NULL,
	"offset"   BIGINT NOT NULL,
	total_size BIGINT NOT NULL,
	fragments  BIGINT NOT NULL,
	started    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS xtp_events (
	id         BIGSERIAL PRIMARY KEY,
	token      TEXT NOT NULL REFERENCES xtp_transfers(token),
	type       TEXT NOT NULL,
	message    TEXT NOT NULL,
	value      JSONB,
	created_at TIMESTAMPTZ NOT NULL
);`

// Postgres stores the audit trail in PostgreSQL.
type Postgres struct {
	pool *sql.DB
}

// NewPostgres connects to dsn and creates the tables if absent.
func NewPostgres(dsn string) (*Postgres, error) {
	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	pool.SetMaxOpenConns(4)
	pool.SetMaxIdleConns(2)
	if err := pool.Ping(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return newPostgresWithDB(pool)
}

func newPostgresWithDB(pool *sql.DB) (*Postgres, error) {
	if _, err := pool.Exec(postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Begin inserts a transfer row.
func (p *Postgres) Begin(ctx context.Context, token Token, info TransferInfo) error {
	_, err := p.pool.ExecContext(ctx,
		`INSERT INTO xtp_transfers (token, source, path, "offset", total_size, fragments, started)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(token), info.Source, info.Path, info.Offset, info.TotalSize, info.Fragments, info.Started)
	if err != nil {
		return fmt.Errorf("postgres: insert transfer: %w", err)
	}
	return nil
}

// Append inserts an event row. The value is stored as JSON.
func (p *Postgres) Append(ctx context.Context, token Token, ev Event) error {
	value, err := json.Marshal(ev.Value)
	if err != nil {
		return fmt.Errorf("postgres: marshal value: %w", err)
	}
	_, err = p.pool.ExecContext(ctx,
		`INSERT INTO xtp_events (token, type, message, value, created_at) VALUES ($1, $2, $3, $4, $5)`,
		string(token), string(ev.Type), ev.Message, string(value), ev.Time)
	if err != nil {
		return fmt.Errorf("postgres: insert event: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.pool.Close()
}
