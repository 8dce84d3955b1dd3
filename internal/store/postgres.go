package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/datallboy/stackdl/internal/domain"
)

// postgresSchema mirrors migrations/000001 with Postgres types.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS download_records (
    id          TEXT PRIMARY KEY,
    download_id TEXT NOT NULL,
    group_name  TEXT NOT NULL,
    url         TEXT NOT NULL,
    header      TEXT NOT NULL DEFAULT '{}',
    force       BOOLEAN NOT NULL DEFAULT FALSE,
    status      TEXT NOT NULL,
    bytes       BIGINT NOT NULL DEFAULT 0,
    location    TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    created_at  BIGINT NOT NULL,
    updated_at  BIGINT NOT NULL,
    UNIQUE (group_name, download_id)
);
CREATE INDEX IF NOT EXISTS idx_download_records_status ON download_records (status);
`

type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("could not create schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) SaveRecord(ctx context.Context, rec *domain.DownloadRecord) error {
	var dbo recordDBO
	if err := dbo.FromDomain(rec); err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	query := `INSERT INTO download_records (` + recordColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
              ON CONFLICT (group_name, download_id) DO UPDATE SET
                url = EXCLUDED.url, header = EXCLUDED.header, force = EXCLUDED.force,
                status = EXCLUDED.status, bytes = EXCLUDED.bytes, location = EXCLUDED.location,
                error = EXCLUDED.error, updated_at = EXCLUDED.updated_at
              RETURNING id, created_at`

	var createdAt int64
	if err := s.pool.QueryRow(ctx, query, dbo.args()...).Scan(&rec.ID, &createdAt); err != nil {
		return fmt.Errorf("failed to save record %s/%s: %w", rec.Group, rec.DownloadID, err)
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, group, downloadID string) (*domain.DownloadRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM download_records WHERE group_name = $1 AND download_id = $2 LIMIT 1`

	var dbo recordDBO
	err := s.pool.QueryRow(ctx, query, group, downloadID).Scan(dbo.dest()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch record: %w", err)
	}
	return dbo.ToDomain()
}

func (s *PostgresStore) ListRecords(ctx context.Context, limit int) ([]*domain.DownloadRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM download_records ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

func (s *PostgresStore) ListUnfinished(ctx context.Context) ([]*domain.DownloadRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM download_records
		WHERE status NOT IN (` + finishedStatuses + `)
		ORDER BY id ASC`
	return s.query(ctx, query)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*domain.DownloadRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}
	defer rows.Close()

	var out []*domain.DownloadRecord
	for rows.Next() {
		var dbo recordDBO
		if err := rows.Scan(dbo.dest()...); err != nil {
			return nil, err
		}
		rec, err := dbo.ToDomain()
		if err != nil {
			return nil, fmt.Errorf("failed to decode record %s: %w", dbo.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
