package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
port: "9090"
groups:
  - name: images
    max_downloads: 2
  - name: video
    max_downloads: 0
transport:
  timeout: 30s
  user_agent: test-agent
  bandwidth_limit: 1048576
store:
  driver: sqlite
  sqlite_path: /tmp/stackdl.db
log:
  level: debug
  include_stdout: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []GroupConfig{{Name: "images", MaxDownloads: 2}, {Name: "video"}}, cfg.Groups)
	assert.Equal(t, 30*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, "test-agent", cfg.Transport.UserAgent)
	assert.Equal(t, int64(1048576), cfg.Transport.BandwidthLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Transport.ProgressInterval)
	assert.Equal(t, "/tmp/stackdl.db", cfg.Store.SQLitePath)
	assert.Equal(t, "./data/blobs", cfg.Store.BlobDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.IncludeStdout)

	g, ok := cfg.Group("images")
	require.True(t, ok)
	assert.Equal(t, 2, g.MaxDownloads)
	_, ok = cfg.Group("nope")
	assert.False(t, ok)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "port: \"8081\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []GroupConfig{{Name: DefaultGroup, MaxDownloads: 4}}, cfg.Groups)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "stackdl", cfg.Transport.UserAgent)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Log.IncludeStdout)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "port: \"8081\"\n")
	t.Setenv("STACKDL_PORT", "7070")
	t.Setenv("STACKDL_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "unnamed group",
			cfg:     Config{Groups: []GroupConfig{{MaxDownloads: 1}}},
			wantErr: "requires a name",
		},
		{
			name:    "duplicate group",
			cfg:     Config{Groups: []GroupConfig{{Name: "a"}, {Name: "a"}}},
			wantErr: "configured twice",
		},
		{
			name:    "negative limit",
			cfg:     Config{Groups: []GroupConfig{{Name: "a", MaxDownloads: -1}}},
			wantErr: "cannot be negative",
		},
		{
			name:    "unknown driver",
			cfg:     Config{Store: StoreConfig{Driver: "mysql"}},
			wantErr: "unknown store driver",
		},
		{
			name:    "postgres without dsn",
			cfg:     Config{Store: StoreConfig{Driver: DriverPostgres}},
			wantErr: "postgres_dsn is required",
		},
		{
			name: "valid",
			cfg:  Config{Groups: []GroupConfig{{Name: "a", MaxDownloads: 3}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, DriverSQLite, tt.cfg.Store.Driver)
				assert.Equal(t, "8080", tt.cfg.Port)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
