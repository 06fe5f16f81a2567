package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imamik/hubspoke/internal/deployment"
)

// PostgresStore keeps one row per record in a shared database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, pings the server and creates the table.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
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

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS deployments (
			spoke_id    INTEGER PRIMARY KEY,
			client_name TEXT        NOT NULL DEFAULT '',
			status      TEXT        NOT NULL,
			data        JSONB       NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_deployments_status ON deployments(status);
	`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres migration failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, rec *deployment.Record) error {
	data, err := jsonRecord(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO deployments (spoke_id, client_name, status, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (spoke_id) DO UPDATE SET
			client_name = EXCLUDED.client_name,
			status      = EXCLUDED.status,
			data        = EXCLUDED.data,
			created_at  = EXCLUDED.created_at,
			updated_at  = EXCLUDED.updated_at
	`
	_, err = s.pool.Exec(ctx, query,
		rec.SpokeID,
		rec.ClientName,
		string(rec.Status),
		data,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert record %d: %w", rec.SpokeID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, spokeID int) (*deployment.Record, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM deployments WHERE spoke_id = $1`, spokeID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %d: %w", spokeID, err)
	}
	return decodeRecord(data)
}

func (s *PostgresStore) Delete(ctx context.Context, spokeID int) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM deployments WHERE spoke_id = $1`, spokeID); err != nil {
		return fmt.Errorf("delete record %d: %w", spokeID, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*deployment.Record, error) {
	query := `
		SELECT data FROM deployments
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC, spoke_id DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, nullString(string(filter.Status)), nullLimit(filter.Limit))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []*deployment.Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullLimit maps "no limit" to SQL NULL, which LIMIT treats as unbounded.
func nullLimit(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}
