package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/stackdl/internal/infra/config"
	"github.com/datallboy/stackdl/internal/infra/logger"
)

func TestFileName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"http://example.com/files/a.iso", "a.iso"},
		{"http://example.com/b.txt?x=1", "b.txt"},
		{"http://example.com/", "download-3"},
		{"http://example.com", "download-3"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, fileName(tt.url, 3))
		})
	}
}

func TestSessionOptions(t *testing.T) {
	opts := sessionOptions(config.TransportConfig{BandwidthLimit: 100})
	assert.Equal(t, int64(100), opts.BandwidthLimit)
	assert.Equal(t, "stackdl", opts.UserAgent)
	assert.Equal(t, "partial/", opts.Prefix)

	opts = sessionOptions(config.TransportConfig{UserAgent: "custom"})
	assert.Equal(t, "custom", opts.UserAgent)
}

func fileServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		default:
			w.Write([]byte("content of " + r.URL.Path))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGet(t *testing.T) {
	srv := fileServer(t)
	dir := t.TempDir()

	opts := &getOptions{dir: dir, limit: 1, force: true}
	urls := []string{srv.URL + "/a.txt", srv.URL + "/b.txt", srv.URL + "/c.txt"}

	err := get(context.Background(), &config.Config{}, logger.Discard(), opts, urls)
	require.NoError(t, err)

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, "content of /"+name, string(data))
	}

	var files []string
	require.NoError(t, filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files = append(files, filepath.Base(p))
		}
		return err
	}))
	assert.ElementsMatch(t, []string{"a.txt", "b.txt", "c.txt"}, files, "no partial segments or sidecar files left behind")
}

func TestGetReportsFailures(t *testing.T) {
	srv := fileServer(t)
	dir := t.TempDir()

	opts := &getOptions{dir: dir, limit: 0}
	err := get(context.Background(), &config.Config{}, logger.Discard(), opts, []string{srv.URL + "/ok", srv.URL + "/missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")

	_, err = os.Stat(filepath.Join(dir, "ok"))
	assert.NoError(t, err)
}

func TestGetRejectsBadInput(t *testing.T) {
	opts := &getOptions{dir: t.TempDir()}
	assert.Error(t, get(context.Background(), &config.Config{}, logger.Discard(), opts, []string{"ftp://example.com/x"}))

	opts.limit = -1
	assert.Error(t, get(context.Background(), &config.Config{}, logger.Discard(), opts, []string{"http://example.com/x"}))
}

func TestConfigShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("groups:\n  - name: images\n    max_downloads: 2\n"), 0644))
	t.Setenv("STACKDL_PORT", "9999")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "config", "show"})
	require.NoError(t, cmd.Execute())

	s := out.String()
	assert.Contains(t, s, "name: images")
	assert.Contains(t, s, "max_downloads: 2")
	assert.Contains(t, s, `port: "9999"`)
}

func TestConfigShowMissingFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "config", "show"})
	assert.Error(t, cmd.Execute())
}
