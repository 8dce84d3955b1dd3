package app

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/datallboy/stackdl/internal/domain"
	"github.com/datallboy/stackdl/internal/engine"
	"github.com/datallboy/stackdl/internal/events"
	"github.com/datallboy/stackdl/internal/infra/logger"
	"github.com/datallboy/stackdl/internal/transport"
)

const storeTimeout = 5 * time.Second

// DownloadRequest is what the API and the CLI submit.
type DownloadRequest struct {
	ID     string            `json:"id"`
	Group  string            `json:"group"`
	URL    string            `json:"url"`
	Header map[string]string `json:"headers,omitempty"`
	Force  bool              `json:"force"`
}

// Service turns download requests into scheduled tasks and keeps the record
// store, the output bucket and event subscribers in step with their outcome.
type Service struct {
	app *Context
	log *logger.Logger
}

var _ engine.Delegate = (*Service)(nil)

// NewService builds the scheduler over session, registers the configured
// groups and stores the scheduler on app.
func NewService(app *Context, session transport.Session, opts ...engine.Option) *Service {
	s := &Service{app: app, log: app.Logger}

	opts = append(opts, engine.WithDelegate(s))
	app.Scheduler = engine.New(session, app.Logger, opts...)
	for _, g := range app.Config.Groups {
		app.Scheduler.RegisterGroup(g.Name, g.MaxDownloads)
	}
	return s
}

func (s *Service) normalize(req *DownloadRequest) error {
	if req.Group == "" && len(s.app.Config.Groups) > 0 {
		req.Group = s.app.Config.Groups[0].Name
	}
	if req.ID == "" {
		req.ID = ksuid.New().String()
	}
	if req.ID == "." || req.ID == ".." || strings.ContainsAny(req.ID, `/\`) {
		return fmt.Errorf("%w: id %q", domain.ErrInvalidRequest, req.ID)
	}

	r := domain.Request{URL: req.URL, Header: req.Header}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

func (s *Service) hasGroup(group string) bool {
	for _, g := range s.app.Scheduler.Groups() {
		if g.Name == group {
			return true
		}
	}
	return false
}

// Submit records and schedules a download. Force pauses the group's running
// downloads and runs this one alone until it finishes.
func (s *Service) Submit(ctx context.Context, req DownloadRequest) (*domain.DownloadRecord, error) {
	if err := s.normalize(&req); err != nil {
		return nil, err
	}
	if !s.hasGroup(req.Group) {
		return nil, fmt.Errorf("%w: %s", domain.ErrGroupNotFound, req.Group)
	}

	rec := &domain.DownloadRecord{
		DownloadID: req.ID,
		Group:      req.Group,
		Request:    domain.Request{URL: req.URL, Header: req.Header}.Clone(),
		Force:      req.Force,
		Status:     domain.StatusPending,
	}
	// a duplicate of an unfinished download joins it and keeps its status
	if existing, err := s.app.Store.GetRecord(ctx, req.Group, req.ID); err == nil && existing != nil && !existing.Status.Finished() {
		rec.Status = existing.Status
	}
	if err := s.app.Store.SaveRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save record: %w", err)
	}
	s.app.Events.Emit(events.New(events.TypeScheduled, req.Group, req.ID))

	schedule := s.app.Scheduler.Schedule
	var displaced []engine.TaskInfo
	if req.Force {
		schedule = s.app.Scheduler.ForceDownload
		for _, info := range s.downloading(req.Group) {
			if info.ID != req.ID {
				displaced = append(displaced, info)
			}
		}
	}
	if err := schedule(req.ID, req.Group, rec.Request, s.callbacks(req.Group, req.ID)); err != nil {
		s.fail(req.Group, req.ID, err)
		return nil, err
	}
	s.markAll(displaced, domain.StatusPaused, events.TypePaused)
	s.log.Info("Scheduled %s in group %s (force: %t)", req.ID, req.Group, req.Force)

	if cur, err := s.app.Store.GetRecord(ctx, req.Group, req.ID); err == nil && cur != nil {
		rec = cur
	}
	return rec, nil
}

// callbacks are keyed by the caller's group and id, not the task's: a
// coalesced task may belong to another group.
func (s *Service) callbacks(group, id string) engine.Callbacks {
	return engine.Callbacks{
		Progress: func(t *engine.Task) {
			e := events.New(events.TypeProgress, group, id)
			e.Progress = t.Progress()
			s.app.Events.Emit(e)
		},
		Success: func(t *engine.Task, data []byte) {
			s.complete(group, id, data)
		},
		Failure: func(t *engine.Task, err error) {
			s.fail(group, id, err)
		},
	}
}

func (s *Service) complete(group, id string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	key := path.Join(group, id)
	if err := s.app.Output.WriteAll(ctx, key, data, nil); err != nil {
		s.fail(group, id, fmt.Errorf("store payload %s: %w", key, err))
		return
	}

	s.transition(ctx, group, id, func(rec *domain.DownloadRecord) bool {
		rec.Status = domain.StatusCompleted
		rec.Bytes = int64(len(data))
		rec.Location = key
		rec.Error = ""
		return true
	})

	e := events.New(events.TypeCompleted, group, id)
	e.Bytes = int64(len(data))
	e.Location = key
	s.app.Events.Emit(e)
	s.log.Info("Download %s completed: %d bytes stored at %s", id, len(data), key)
}

func (s *Service) fail(group, id string, err error) {
	if err == nil {
		err = domain.ErrEmptyPayload
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	s.transition(ctx, group, id, func(rec *domain.DownloadRecord) bool {
		rec.Status = domain.StatusFailed
		rec.Error = err.Error()
		return true
	})

	e := events.New(events.TypeFailed, group, id)
	e.Error = err.Error()
	s.app.Events.Emit(e)
	s.log.Warn("Download %s in group %s failed: %v", id, group, err)
}

// transition loads a record, lets mutate change it and saves it. mutate
// returning false leaves the record untouched.
func (s *Service) transition(ctx context.Context, group, id string, mutate func(rec *domain.DownloadRecord) bool) bool {
	rec, err := s.app.Store.GetRecord(ctx, group, id)
	if err != nil {
		s.log.Error("Could not load record %s/%s: %v", group, id, err)
		return false
	}
	if rec == nil {
		s.log.Warn("No record for %s/%s", group, id)
		return false
	}
	if !mutate(rec) {
		return false
	}
	if err := s.app.Store.SaveRecord(ctx, rec); err != nil {
		s.log.Error("Could not save record %s/%s: %v", group, id, err)
		return false
	}
	return true
}

// DownloadResumed marks a task's record as downloading whenever the
// scheduler starts or restarts its transfer.
func (s *Service) DownloadResumed(t *engine.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	s.transition(ctx, t.Group, t.ID, func(rec *domain.DownloadRecord) bool {
		if rec.Status.Finished() {
			return false
		}
		rec.Status = domain.StatusDownloading
		return true
	})
	s.app.Events.Emit(events.New(events.TypeResumed, t.Group, t.ID))
}

func (s *Service) downloading(group string) []engine.TaskInfo {
	var out []engine.TaskInfo
	for _, info := range s.app.Scheduler.Snapshot() {
		if info.Status != domain.StatusDownloading {
			continue
		}
		if group == "" || info.Group == group {
			out = append(out, info)
		}
	}
	return out
}

func (s *Service) markAll(tasks []engine.TaskInfo, status domain.JobStatus, typ events.Type) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	for _, info := range tasks {
		s.transition(ctx, info.Group, info.ID, func(rec *domain.DownloadRecord) bool {
			if rec.Status.Finished() {
				return false
			}
			rec.Status = status
			return true
		})
		s.app.Events.Emit(events.New(typ, info.Group, info.ID))
	}
}

func (s *Service) PauseAll() {
	tasks := s.downloading("")
	s.app.Scheduler.PauseAll()
	s.markAll(tasks, domain.StatusPaused, events.TypePaused)
}

func (s *Service) PauseGroup(group string) error {
	tasks := s.downloading(group)
	if err := s.app.Scheduler.PauseGroup(group); err != nil {
		return err
	}
	s.markAll(tasks, domain.StatusPaused, events.TypePaused)
	return nil
}

func (s *Service) ResumeAll() {
	s.app.Scheduler.ResumeAll()
}

func (s *Service) ResumeGroup(group string) error {
	return s.app.Scheduler.ResumeGroup(group)
}

// Cancel stops a download without running its callbacks and records it as
// cancelled.
func (s *Service) Cancel(ctx context.Context, group, id string) error {
	if err := s.app.Scheduler.Cancel(id, group); err != nil {
		return err
	}

	s.transition(ctx, group, id, func(rec *domain.DownloadRecord) bool {
		if rec.Status.Finished() {
			return false
		}
		rec.Status = domain.StatusCancelled
		return true
	})
	s.app.Events.Emit(events.New(events.TypeCancelled, group, id))
	return nil
}

func (s *Service) CancelAll() {
	tasks := s.app.Scheduler.Snapshot()
	s.app.Scheduler.CancelAll()
	s.markAll(tasks, domain.StatusCancelled, events.TypeCancelled)
}

func (s *Service) SetLimit(group string, limit int) error {
	if limit < 0 {
		return fmt.Errorf("%w: negative limit %d", domain.ErrInvalidRequest, limit)
	}
	return s.app.Scheduler.SetLimit(group, limit)
}

func (s *Service) Groups() []engine.GroupInfo {
	return s.app.Scheduler.Groups()
}

func (s *Service) Snapshot() []engine.TaskInfo {
	return s.app.Scheduler.Snapshot()
}

func (s *Service) ReleaseMemory() {
	s.app.Scheduler.ReleaseMemory()
}

func (s *Service) History(ctx context.Context, limit int) ([]*domain.DownloadRecord, error) {
	return s.app.Store.ListRecords(ctx, limit)
}

func (s *Service) Record(ctx context.Context, group, id string) (*domain.DownloadRecord, error) {
	rec, err := s.app.Store.GetRecord(ctx, group, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrTaskNotFound
	}
	return rec, nil
}

// Payload opens the stored output of a completed download.
func (s *Service) Payload(ctx context.Context, group, id string) (*blob.Reader, error) {
	r, err := s.app.Output.NewReader(ctx, path.Join(group, id), nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, domain.ErrPayloadNotFound
		}
		return nil, err
	}
	return r, nil
}

// Restore reschedules every record a previous run left unfinished. Resume
// data does not survive a restart, so these downloads start over.
func (s *Service) Restore(ctx context.Context) (int, error) {
	recs, err := s.app.Store.ListUnfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished downloads: %w", err)
	}

	restored := 0
	for _, rec := range recs {
		if !s.hasGroup(rec.Group) {
			s.fail(rec.Group, rec.DownloadID, fmt.Errorf("%w: %s", domain.ErrGroupNotFound, rec.Group))
			continue
		}

		if rec.Status != domain.StatusPending {
			rec.Status = domain.StatusPending
			if err := s.app.Store.SaveRecord(ctx, rec); err != nil {
				return restored, fmt.Errorf("failed to reset record %s: %w", rec.DownloadID, err)
			}
		}

		if err := s.app.Scheduler.Schedule(rec.DownloadID, rec.Group, rec.Request, s.callbacks(rec.Group, rec.DownloadID)); err != nil {
			return restored, err
		}
		s.app.Events.Emit(events.New(events.TypeScheduled, rec.Group, rec.DownloadID))
		restored++
	}

	if restored > 0 {
		s.log.Info("Restored %d unfinished downloads", restored)
	}
	return restored, nil
}
