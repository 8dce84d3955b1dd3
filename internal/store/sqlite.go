package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/datallboy/stackdl/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if dbPath != ":memory:" {
		// Ensure the database directory exists
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	// Ping makes sure the file is actually accessible and the DSN is valid
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not migrate database: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) SaveRecord(ctx context.Context, rec *domain.DownloadRecord) error {
	var dbo recordDBO
	if err := dbo.FromDomain(rec); err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	query := `INSERT INTO download_records (` + recordColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT (group_name, download_id) DO UPDATE SET
                url = excluded.url, header = excluded.header, force = excluded.force,
                status = excluded.status, bytes = excluded.bytes, location = excluded.location,
                error = excluded.error, updated_at = excluded.updated_at
              RETURNING id, created_at`

	var createdAt int64
	if err := s.db.QueryRowContext(ctx, query, dbo.args()...).Scan(&rec.ID, &createdAt); err != nil {
		return fmt.Errorf("failed to save record %s/%s: %w", rec.Group, rec.DownloadID, err)
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	return nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, group, downloadID string) (*domain.DownloadRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM download_records WHERE group_name = ? AND download_id = ? LIMIT 1`

	var dbo recordDBO
	err := s.db.QueryRowContext(ctx, query, group, downloadID).Scan(dbo.dest()...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Return nil, nil to indicate "Not found"
		}
		return nil, fmt.Errorf("failed to fetch record: %w", err)
	}
	return dbo.ToDomain()
}

func (s *SQLiteStore) ListRecords(ctx context.Context, limit int) ([]*domain.DownloadRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM download_records ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

func (s *SQLiteStore) ListUnfinished(ctx context.Context) ([]*domain.DownloadRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM download_records
		WHERE status NOT IN (` + finishedStatuses + `)
		ORDER BY id ASC`
	return s.query(ctx, query)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]*domain.DownloadRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
