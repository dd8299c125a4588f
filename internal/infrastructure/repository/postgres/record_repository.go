// Package postgres persists pipeline file records.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ivankoval/vault-inbox/internal/core/domain"
	"github.com/ivankoval/vault-inbox/internal/core/ports"
)

type RecordRepository struct {
	db *sql.DB
}

var _ ports.RecordStore = (*RecordRepository)(nil)

func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *RecordRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across daemon/api startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS file_records (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL,
	logs JSONB NOT NULL DEFAULT '{}'::jsonb,
	status TEXT NOT NULL,
	classification TEXT,
	tags JSONB NOT NULL DEFAULT '[]'::jsonb,
	new_name TEXT,
	new_path TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	missing BOOLEAN NOT NULL DEFAULT FALSE,
	error JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_file_records_status ON file_records(status);
CREATE INDEX IF NOT EXISTS idx_file_records_updated_at ON file_records(updated_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *RecordRepository) Save(ctx context.Context, record *domain.FileRecord) error {
	logsJSON, err := json.Marshal(record.Logs)
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}
	tagsJSON, err := json.Marshal(record.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	var errJSON any
	if record.Error != nil {
		raw, err := json.Marshal(record.Error)
		if err != nil {
			return fmt.Errorf("marshal error detail: %w", err)
		}
		errJSON = raw
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO file_records (
	id, path, logs, status, classification, tags, new_name, new_path, attempts, missing, error, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET
	path = EXCLUDED.path,
	logs = EXCLUDED.logs,
	status = EXCLUDED.status,
	classification = EXCLUDED.classification,
	tags = EXCLUDED.tags,
	new_name = EXCLUDED.new_name,
	new_path = EXCLUDED.new_path,
	attempts = EXCLUDED.attempts,
	missing = EXCLUDED.missing,
	error = EXCLUDED.error,
	updated_at = EXCLUDED.updated_at
`,
		record.ID, record.Path, logsJSON, string(record.Status), record.Classification, tagsJSON,
		record.NewName, record.NewPath, record.Attempts, record.Missing, errJSON,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert file record: %w", err)
	}
	return nil
}

func (r *RecordRepository) LoadAll(ctx context.Context) ([]domain.FileRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, path, logs, status, classification, tags, new_name, new_path, attempts, missing, error, created_at, updated_at
FROM file_records
ORDER BY created_at ASC
`)
	if err != nil {
		return nil, fmt.Errorf("load file records: %w", err)
	}
	defer rows.Close()

	out := make([]domain.FileRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file records: %w", err)
	}
	return out, nil
}

func (r *RecordRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM file_records
WHERE updated_at < $1 AND status IN ($2, $3)
`, cutoff, string(domain.StatusCompleted), string(domain.StatusBypassed))
	if err != nil {
		return 0, fmt.Errorf("delete old file records: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old file records rows affected: %w", err)
	}
	return deleted, nil
}

// TrimToCount keeps the max most recently updated records and removes
// the terminal-status rest.
func (r *RecordRepository) TrimToCount(ctx context.Context, max int) (int64, error) {
	if max <= 0 {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx, `
DELETE FROM file_records
WHERE status IN ($2, $3)
AND id NOT IN (
	SELECT id FROM file_records ORDER BY updated_at DESC LIMIT $1
)
`, max, string(domain.StatusCompleted), string(domain.StatusBypassed))
	if err != nil {
		return 0, fmt.Errorf("trim file records: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("trim file records rows affected: %w", err)
	}
	return deleted, nil
}

type recordScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row recordScanner) (domain.FileRecord, error) {
	var (
		record         domain.FileRecord
		logsRaw        []byte
		tagsRaw        []byte
		errRaw         []byte
		status         string
		classification sql.NullString
		newName        sql.NullString
		newPath        sql.NullString
	)
	err := row.Scan(
		&record.ID,
		&record.Path,
		&logsRaw,
		&status,
		&classification,
		&tagsRaw,
		&newName,
		&newPath,
		&record.Attempts,
		&record.Missing,
		&errRaw,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return domain.FileRecord{}, fmt.Errorf("scan file record: %w", err)
	}

	record.Status = domain.FileStatus(status)
	record.Classification = classification.String
	record.NewName = newName.String
	record.NewPath = newPath.String

	if err := json.Unmarshal(logsRaw, &record.Logs); err != nil {
		return domain.FileRecord{}, fmt.Errorf("unmarshal logs: %w", err)
	}
	if err := json.Unmarshal(tagsRaw, &record.Tags); err != nil {
		return domain.FileRecord{}, fmt.Errorf("unmarshal tags: %w", err)
	}
	if len(errRaw) > 0 {
		record.Error = &domain.FailureDetail{}
		if err := json.Unmarshal(errRaw, record.Error); err != nil {
			return domain.FileRecord{}, fmt.Errorf("unmarshal error detail: %w", err)
		}
	}
	return record, nil
}
