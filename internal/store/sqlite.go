package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/imamik/hubspoke/internal/deployment"
)

// sortableTime keeps a fixed number of fractional digits so that text
// ordering matches time ordering.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore keeps one row per record. Queryable columns are denormalised
// next to the full JSON document.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path. The parent directory is
// created if it does not exist.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// Serialise writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS deployments (
			spoke_id    INTEGER PRIMARY KEY,
			client_name TEXT    NOT NULL DEFAULT '',
			status      TEXT    NOT NULL,
			data        TEXT    NOT NULL,
			created_at  TEXT    NOT NULL,
			updated_at  TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_deployments_status ON deployments(status);
		CREATE INDEX IF NOT EXISTS idx_deployments_created ON deployments(created_at);
	`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("sqlite migration failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec *deployment.Record) error {
	data, err := jsonRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deployments (spoke_id, client_name, status, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(spoke_id) DO UPDATE SET
			client_name = excluded.client_name,
			status      = excluded.status,
			data        = excluded.data,
			created_at  = excluded.created_at,
			updated_at  = excluded.updated_at`,
		rec.SpokeID, rec.ClientName, string(rec.Status), string(data),
		rec.CreatedAt.UTC().Format(sortableTime), rec.UpdatedAt.UTC().Format(sortableTime),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record %d: %w", rec.SpokeID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, spokeID int) (*deployment.Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM deployments WHERE spoke_id = ?`, spokeID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query record %d: %w", spokeID, err)
	}
	return decodeRecord([]byte(data))
}

func (s *SQLiteStore) Delete(ctx context.Context, spokeID int) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM deployments WHERE spoke_id = ?`, spokeID); err != nil {
		return fmt.Errorf("failed to delete record %d: %w", spokeID, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*deployment.Record, error) {
	limit := -1
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM deployments
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC, spoke_id DESC
		LIMIT ?`,
		string(filter.Status), string(filter.Status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []*deployment.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec, err := decodeRecord([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
