package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/stackdl/internal/domain"
	"github.com/datallboy/stackdl/internal/infra/config"
)

func newRecord(group, id string, status domain.JobStatus) *domain.DownloadRecord {
	return &domain.DownloadRecord{
		DownloadID: id,
		Group:      group,
		Request:    domain.NewRequest("http://example.com/" + id),
		Status:     status,
	}
}

// runStoreContract exercises behaviour every Store must share.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("save assigns id and timestamps", func(t *testing.T) {
		rec := newRecord("g", "a", domain.StatusPending)
		rec.Request.Header = map[string]string{"Authorization": "Bearer x"}
		require.NoError(t, s.SaveRecord(ctx, rec))

		assert.NotEmpty(t, rec.ID)
		assert.False(t, rec.CreatedAt.IsZero())

		got, err := s.GetRecord(ctx, "g", "a")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, "http://example.com/a", got.Request.URL)
		assert.Equal(t, "Bearer x", got.Request.Header["Authorization"])
		assert.Equal(t, domain.StatusPending, got.Status)
	})

	t.Run("save again updates in place", func(t *testing.T) {
		first, err := s.GetRecord(ctx, "g", "a")
		require.NoError(t, err)
		require.NotNil(t, first)

		update := newRecord("g", "a", domain.StatusCompleted)
		update.Bytes = 42
		update.Location = "g/a"
		update.Force = true
		require.NoError(t, s.SaveRecord(ctx, update))
		assert.Equal(t, first.ID, update.ID, "existing id is kept")
		assert.WithinDuration(t, first.CreatedAt, update.CreatedAt, time.Millisecond)

		got, err := s.GetRecord(ctx, "g", "a")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, got.Status)
		assert.Equal(t, int64(42), got.Bytes)
		assert.Equal(t, "g/a", got.Location)
		assert.True(t, got.Force)
		assert.Nil(t, got.Request.Header)
	})

	t.Run("missing record", func(t *testing.T) {
		got, err := s.GetRecord(ctx, "g", "nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("same id in another group is another record", func(t *testing.T) {
		require.NoError(t, s.SaveRecord(ctx, newRecord("h", "a", domain.StatusDownloading)))
		got, err := s.GetRecord(ctx, "h", "a")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, domain.StatusDownloading, got.Status)
	})

	t.Run("list", func(t *testing.T) {
		failed := newRecord("g", "b", domain.StatusFailed)
		failed.Error = "boom"
		require.NoError(t, s.SaveRecord(ctx, failed))
		require.NoError(t, s.SaveRecord(ctx, newRecord("g", "c", domain.StatusPaused)))

		all, err := s.ListRecords(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, all, 4)

		limited, err := s.ListRecords(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		unfinished, err := s.ListUnfinished(ctx)
		require.NoError(t, err)
		var ids []string
		for _, rec := range unfinished {
			ids = append(ids, rec.Group+"/"+rec.DownloadID)
			assert.False(t, rec.Status.Finished())
		}
		assert.ElementsMatch(t, []string{"h/a", "g/c"}, ids)
	})
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "stackdl.db"))
	require.NoError(t, err)
	defer s.Close()

	runStoreContract(t, s)
}

func TestSQLiteMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stackdl.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveRecord(context.Background(), newRecord("g", "a", domain.StatusPending)))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	version, err := migrateSQLite(s.db)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	got, err := s.GetRecord(context.Background(), "g", "a")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), config.StoreConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "open.db"),
	})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), config.StoreConfig{Driver: "mysql"})
	assert.Error(t, err)
}
