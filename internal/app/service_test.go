package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/datallboy/stackdl/internal/domain"
	"github.com/datallboy/stackdl/internal/events"
	"github.com/datallboy/stackdl/internal/infra/config"
	"github.com/datallboy/stackdl/internal/infra/logger"
	"github.com/datallboy/stackdl/internal/store"
	"github.com/datallboy/stackdl/internal/transport/transporttest"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types(id string) []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Type
	for _, e := range r.events {
		if e.ID == id {
			out = append(out, e.Type)
		}
	}
	return out
}

type fixture struct {
	svc     *Service
	app     *Context
	session *transporttest.Session
	events  *recorder
}

func newFixture(t *testing.T, st store.Store) *fixture {
	t.Helper()

	if st == nil {
		var err error
		st, err = store.NewSQLiteStore(":memory:")
		require.NoError(t, err)
	}
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() {
		bucket.Close()
		st.Close()
	})

	cfg := &config.Config{Groups: []config.GroupConfig{
		{Name: "g", MaxDownloads: 1},
		{Name: "h", MaxDownloads: 0},
	}}
	ctx := NewContext(cfg, logger.Discard())
	ctx.Store = st
	ctx.Output = bucket
	rec := &recorder{}
	ctx.Events = rec

	session := transporttest.NewSession()
	return &fixture{
		svc:     NewService(ctx, session),
		app:     ctx,
		session: session,
		events:  rec,
	}
}

func (f *fixture) status(t *testing.T, group, id string) domain.JobStatus {
	t.Helper()
	rec, err := f.svc.Record(context.Background(), group, id)
	require.NoError(t, err)
	return rec.Status
}

func TestSubmitAndComplete(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	rec, err := f.svc.Submit(ctx, DownloadRequest{ID: "a", Group: "g", URL: "http://example.com/a"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDownloading, rec.Status)
	assert.NotEmpty(t, rec.ID)

	h := f.session.Latest("http://example.com/a")
	require.NotNil(t, h)
	h.Progress(5, 10)
	h.Finish([]byte("payload"))

	rec, err = f.svc.Record(ctx, "g", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, rec.Status)
	assert.Equal(t, int64(7), rec.Bytes)
	assert.Equal(t, "g/a", rec.Location)

	r, err := f.svc.Payload(ctx, "g", "a")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	assert.Equal(t, []events.Type{
		events.TypeScheduled,
		events.TypeResumed,
		events.TypeProgress,
		events.TypeCompleted,
	}, f.events.types("a"))
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  DownloadRequest
		err  error
	}{
		{"bad scheme", DownloadRequest{Group: "g", URL: "ftp://example.com/a"}, domain.ErrInvalidRequest},
		{"no host", DownloadRequest{Group: "g", URL: "http:///a"}, domain.ErrInvalidRequest},
		{"slash in id", DownloadRequest{ID: "a/b", Group: "g", URL: "http://example.com/a"}, domain.ErrInvalidRequest},
		{"dot dot id", DownloadRequest{ID: "..", Group: "g", URL: "http://example.com/a"}, domain.ErrInvalidRequest},
		{"unknown group", DownloadRequest{Group: "nope", URL: "http://example.com/a"}, domain.ErrGroupNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(ctx, tt.req)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.Empty(t, f.session.Handles())
	history, err := f.svc.History(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSubmitDefaults(t *testing.T) {
	f := newFixture(t, nil)

	rec, err := f.svc.Submit(context.Background(), DownloadRequest{URL: "http://example.com/x"})
	require.NoError(t, err)
	assert.Equal(t, "g", rec.Group, "first configured group")
	assert.Len(t, rec.DownloadID, 27, "ksuid")
}

func TestFailureIsRecorded(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, DownloadRequest{ID: "a", Group: "h", URL: "http://example.com/a"})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, DownloadRequest{ID: "b", Group: "h", URL: "http://example.com/b"})
	require.NoError(t, err)

	f.session.Latest("http://example.com/a").Fail(errors.New("boom"))
	f.session.Latest("http://example.com/b").Finish(nil)

	rec, err := f.svc.Record(ctx, "h", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Equal(t, "boom", rec.Error)

	rec, err = f.svc.Record(ctx, "h", "b")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Equal(t, domain.ErrEmptyPayload.Error(), rec.Error)

	_, err = f.svc.Payload(ctx, "h", "a")
	assert.ErrorIs(t, err, domain.ErrPayloadNotFound)
}

func TestPauseAndResumeUpdateRecords(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, DownloadRequest{ID: "a", Group: "g", URL: "http://example.com/a"})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, DownloadRequest{ID: "b", Group: "h", URL: "http://example.com/b"})
	require.NoError(t, err)

	require.NoError(t, f.svc.PauseGroup("g"))
	assert.Equal(t, domain.StatusPaused, f.status(t, "g", "a"))
	assert.Equal(t, domain.StatusDownloading, f.status(t, "h", "b"))

	f.svc.PauseAll()
	assert.Equal(t, domain.StatusPaused, f.status(t, "h", "b"))
	assert.Empty(t, f.session.Running())

	f.svc.ResumeAll()
	assert.Equal(t, domain.StatusDownloading, f.status(t, "g", "a"))
	assert.Equal(t, domain.StatusDownloading, f.status(t, "h", "b"))
	assert.Len(t, f.session.Running(), 2)

	assert.ErrorIs(t, f.svc.PauseGroup("nope"), domain.ErrGroupNotFound)
	assert.ErrorIs(t, f.svc.ResumeGroup("nope"), domain.ErrGroupNotFound)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, DownloadRequest{ID: "a", Group: "g", URL: "http://example.com/a"})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, DownloadRequest{ID: "b", Group: "g", URL: "http://example.com/b"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, f.status(t, "g", "b"))

	require.NoError(t, f.svc.Cancel(ctx, "g", "a"))
	assert.Equal(t, domain.StatusCancelled, f.status(t, "g", "a"))
	assert.Equal(t, domain.StatusDownloading, f.status(t, "g", "b"), "freed slot admits the next task")
	assert.Contains(t, f.events.types("a"), events.TypeCancelled)

	assert.ErrorIs(t, f.svc.Cancel(ctx, "g", "a"), domain.ErrTaskNotFound)

	f.svc.CancelAll()
	assert.Equal(t, domain.StatusCancelled, f.status(t, "g", "b"))
	assert.Empty(t, f.svc.Snapshot())
}

func TestForceSubmitPausesGroup(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, DownloadRequest{ID: "a", Group: "g", URL: "http://example.com/a"})
	require.NoError(t, err)

	rec, err := f.svc.Submit(ctx, DownloadRequest{ID: "x", Group: "g", URL: "http://example.com/x", Force: true})
	require.NoError(t, err)
	assert.True(t, rec.Force)
	assert.Equal(t, domain.StatusDownloading, rec.Status)
	assert.Equal(t, domain.StatusPaused, f.status(t, "g", "a"))

	f.session.Latest("http://example.com/x").Finish([]byte("x"))
	assert.Equal(t, domain.StatusCompleted, f.status(t, "g", "x"))
	assert.Equal(t, domain.StatusDownloading, f.status(t, "g", "a"))
}

func TestDuplicateSubmitSharesTransfer(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.Submit(ctx, DownloadRequest{ID: "a", Group: "h", URL: "http://example.com/a"})
		require.NoError(t, err)
	}
	require.Len(t, f.session.Handles(), 1)

	f.session.Latest("http://example.com/a").Finish([]byte("abc"))
	assert.Equal(t, domain.StatusCompleted, f.status(t, "h", "a"))

	history, err := f.svc.History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSetLimit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := f.svc.Submit(ctx, DownloadRequest{ID: id, Group: "g", URL: "http://example.com/" + id})
		require.NoError(t, err)
	}
	require.Len(t, f.session.Running(), 1)

	require.NoError(t, f.svc.SetLimit("g", 3))
	assert.Len(t, f.session.Running(), 3)

	assert.ErrorIs(t, f.svc.SetLimit("g", -1), domain.ErrInvalidRequest)
	assert.ErrorIs(t, f.svc.SetLimit("nope", 1), domain.ErrGroupNotFound)

	groups := f.svc.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, "g", groups[0].Name)
	assert.Equal(t, 3, groups[0].Running)
}

func TestRestore(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	ctx := context.Background()

	seed := func(group, id string, status domain.JobStatus) {
		require.NoError(t, st.SaveRecord(ctx, &domain.DownloadRecord{
			DownloadID: id,
			Group:      group,
			Request:    domain.NewRequest("http://example.com/" + id),
			Status:     status,
		}))
	}
	seed("g", "a", domain.StatusDownloading)
	seed("h", "b", domain.StatusPaused)
	seed("h", "done", domain.StatusCompleted)
	seed("gone", "c", domain.StatusPending)

	f := newFixture(t, st)
	n, err := f.svc.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, domain.StatusDownloading, f.status(t, "g", "a"))
	assert.Equal(t, domain.StatusDownloading, f.status(t, "h", "b"))
	assert.Equal(t, domain.StatusCompleted, f.status(t, "h", "done"))
	assert.Equal(t, domain.StatusFailed, f.status(t, "gone", "c"))
	assert.Len(t, f.session.Handles(), 2)

	f.session.Latest("http://example.com/a").Finish([]byte("a"))
	assert.Equal(t, domain.StatusCompleted, f.status(t, "g", "a"))
}

func TestRecordNotFound(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Record(context.Background(), "g", "missing")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}
