package store

import (
	"context"
	"fmt"

	"github.com/datallboy/stackdl/internal/domain"
	"github.com/datallboy/stackdl/internal/infra/config"
)

// Store persists the history of scheduled downloads. A download is recorded
// once per group; saving it again updates the existing record.
type Store interface {
	// SaveRecord inserts or updates rec, filling in ID and timestamps.
	SaveRecord(ctx context.Context, rec *domain.DownloadRecord) error
	// GetRecord returns nil, nil when the download was never recorded.
	GetRecord(ctx context.Context, group, downloadID string) (*domain.DownloadRecord, error)
	// ListRecords returns the newest records first. limit <= 0 returns all.
	ListRecords(ctx context.Context, limit int) ([]*domain.DownloadRecord, error)
	// ListUnfinished returns records without a terminal status, oldest first.
	ListUnfinished(ctx context.Context) ([]*domain.DownloadRecord, error)
	Close() error
}

// Open connects to the configured driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return NewPostgresStore(ctx, cfg.PostgresDSN)
	case config.DriverSQLite, "":
		return NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
