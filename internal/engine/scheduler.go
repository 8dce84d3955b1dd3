// Package engine schedules downloads across named groups, each with its own
// admission limit, on top of a resumable transport.
//
// Duplicate requests for a download id are coalesced onto one task so a
// single transfer satisfies every caller.
package engine

import (
	"sort"
	"sync"

	"github.com/datallboy/stackdl/internal/domain"
	"github.com/datallboy/stackdl/internal/infra/logger"
	"github.com/datallboy/stackdl/internal/transport"
)

// Delegate is told every time the scheduler starts or restarts a transfer.
type Delegate interface {
	DownloadResumed(t *Task)
}

// DelegateFunc adapts a function to Delegate.
type DelegateFunc func(t *Task)

func (f DelegateFunc) DownloadResumed(t *Task) { f(t) }

// Scheduler owns the group queues and the registry of in-flight tasks. A
// single lock guards both so admission and finalization never interleave.
type Scheduler struct {
	session    transport.Session
	log        *logger.Logger
	dispatcher Dispatcher
	delegate   Delegate

	mu       sync.Mutex
	queues   map[string]*Queue
	inFlight map[uint64]*Task
	// active indexes in-flight tasks by download id
	active map[string][]*Task
	// pending indexes queued tasks by group, then download id
	pending map[string]map[string]*Task
	// forced downloads holding a group's limit at one, by group then
	// download id
	restores map[string]map[string]*forceHold
}

type Option func(*Scheduler)

// WithDispatcher sets the default callback execution context.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Scheduler) { s.dispatcher = d }
}

func WithDelegate(d Delegate) Option {
	return func(s *Scheduler) { s.delegate = d }
}

// New creates a Scheduler and registers it as the session's delegate.
func New(session transport.Session, log *logger.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		session:    session,
		log:        log,
		dispatcher: Inline,
		queues:     make(map[string]*Queue),
		inFlight:   make(map[uint64]*Task),
		active:     make(map[string][]*Task),
		pending:    make(map[string]map[string]*Task),
		restores:   make(map[string]map[string]*forceHold),
	}
	for _, opt := range opts {
		opt(s)
	}
	session.SetDelegate(s)
	return s
}

// RegisterGroup adds a group, or changes the limit of an existing one.
func (s *Scheduler) RegisterGroup(group string, limit int) {
	s.mu.Lock()
	if q, ok := s.queues[group]; ok {
		s.mu.Unlock()
		q.SetLimit(limit)
		s.Drain(group)
		return
	}
	s.queues[group] = NewQueue(limit)
	s.pending[group] = make(map[string]*Task)
	s.mu.Unlock()
}

type scheduleOptions struct {
	dispatcher Dispatcher
}

type ScheduleOption func(*scheduleOptions)

// OnDispatcher runs this caller's callbacks on d instead of the scheduler's
// default dispatcher.
func OnDispatcher(d Dispatcher) ScheduleOption {
	return func(o *scheduleOptions) { o.dispatcher = d }
}

// Schedule queues a download. A request for a download id that is already in
// flight, or already queued in the group, joins the existing task instead of
// starting a second transfer.
func (s *Scheduler) Schedule(id, group string, req domain.Request, cb Callbacks, opts ...ScheduleOption) error {
	d := s.dispatcherFor(opts)

	s.mu.Lock()
	q, ok := s.queues[group]
	if !ok {
		s.mu.Unlock()
		return domain.ErrGroupNotFound
	}

	s.scheduleLocked(newTask(id, group, req, cb, d, s.session, s.log), q)
	started := s.drainLocked(group)
	s.mu.Unlock()

	s.notifyResumed(started)
	return nil
}

func (s *Scheduler) dispatcherFor(opts []ScheduleOption) Dispatcher {
	o := scheduleOptions{dispatcher: s.dispatcher}
	for _, opt := range opts {
		opt(&o)
	}
	return o.dispatcher
}

// scheduleLocked queues task or coalesces it and returns the task that now
// carries the request.
func (s *Scheduler) scheduleLocked(task *Task, q *Queue) *Task {
	if owner := s.coalesceLocked(task, q); owner != nil {
		return owner
	}
	task.attach()
	q.push(task)
	s.pending[task.Group][task.ID] = task
	return task
}

// coalesceLocked merges task into an existing task for the same download and
// returns that task, or nil when there is none. In-flight tasks win over
// queued ones; a queued task that absorbs a request moves to the top of its
// stack.
func (s *Scheduler) coalesceLocked(task *Task, q *Queue) *Task {
	if running := s.active[task.ID]; len(running) > 0 {
		running[0].coalesceWith(task)
		s.log.Debug("Coalesced %s into in-flight task", task.ID)
		return running[0]
	}

	existing := s.pending[task.Group][task.ID]
	if existing == nil || !existing.canCoalesceWith(task) {
		return nil
	}
	existing.coalesceWith(task)
	q.remove(existing)
	q.push(existing)
	s.log.Debug("Coalesced %s into pending task", task.ID)
	return existing
}

// Drain starts queued tasks of group until its admission limit is reached.
func (s *Scheduler) Drain(group string) {
	s.mu.Lock()
	started := s.drainLocked(group)
	s.mu.Unlock()

	s.notifyResumed(started)
}

func (s *Scheduler) drainLocked(group string) []*Task {
	q, ok := s.queues[group]
	if !ok {
		return nil
	}

	var started []*Task
	for q.canAdmit() {
		t := q.pop()
		if t == nil {
			break
		}
		delete(s.pending[group], t.ID)

		if !t.Running() {
			t.resume()
			started = append(started, t)
		}

		key := t.HandleID()
		if key == 0 {
			// nothing to run
			q.finalize()
			continue
		}
		t.key = key
		s.inFlight[key] = t
		s.active[t.ID] = append(s.active[t.ID], t)
	}
	return started
}

func (s *Scheduler) notifyResumed(started []*Task) {
	if s.delegate == nil {
		return
	}
	for _, t := range started {
		s.delegate.DownloadResumed(t)
	}
}

// finalizeLocked removes t from the registry and releases its slot in the
// group. Calling it again for the same task does nothing.
func (s *Scheduler) finalizeLocked(t *Task) bool {
	if t.key == 0 || s.inFlight[t.key] != t {
		return false
	}
	delete(s.inFlight, t.key)
	t.key = 0

	running := s.active[t.ID]
	for i, r := range running {
		if r == t {
			running = append(running[:i], running[i+1:]...)
			break
		}
	}
	if len(running) == 0 {
		delete(s.active, t.ID)
	} else {
		s.active[t.ID] = running
	}

	if q, ok := s.queues[t.Group]; ok {
		q.finalize()
	}
	return true
}

// Finalize releases t's in-flight registration. A second call is a no-op.
func (s *Scheduler) Finalize(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizeLocked(t)
}

// claim looks up the in-flight task for a handle and finalizes it in one step,
// so a terminal event and a concurrent pause cannot both act on the task. It
// also detaches the limit restores of every force this task carries.
func (s *Scheduler) claim(handleID uint64) (*Task, []func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.inFlight[handleID]
	if !ok {
		return nil, nil
	}
	s.finalizeLocked(t)
	return t, s.releaseHoldsLocked(t)
}

func (s *Scheduler) lookup(handleID uint64) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[handleID]
}

// SetLimit changes a group's admission limit and admits more work if the
// limit grew.
func (s *Scheduler) SetLimit(group string, limit int) error {
	s.mu.Lock()
	q, ok := s.queues[group]
	s.mu.Unlock()
	if !ok {
		return domain.ErrGroupNotFound
	}
	q.SetLimit(limit)
	s.Drain(group)
	return nil
}

// GroupInfo summarizes one group.
type GroupInfo struct {
	Name    string `json:"name"`
	Limit   int    `json:"limit"`
	Running int    `json:"running"`
	Pending int    `json:"pending"`
}

func (s *Scheduler) Groups() []GroupInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]GroupInfo, 0, len(s.queues))
	for name, q := range s.queues {
		out = append(out, GroupInfo{
			Name:    name,
			Limit:   q.Limit(),
			Running: q.Running(),
			Pending: q.Len(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TaskInfo is a point-in-time copy of a tracked task.
type TaskInfo struct {
	ID            string           `json:"id"`
	Group         string           `json:"group"`
	Status        domain.JobStatus `json:"status"`
	Progress      float64          `json:"progress"`
	HandleID      uint64           `json:"handle_id,omitempty"`
	HasResumeData bool             `json:"has_resume_data"`
	URL           string           `json:"url"`
}

func (t *Task) info(status domain.JobStatus) TaskInfo {
	return TaskInfo{
		ID:            t.ID,
		Group:         t.Group,
		Status:        status,
		Progress:      t.Progress(),
		HandleID:      t.HandleID(),
		HasResumeData: t.HasResumeData(),
		URL:           t.request.URL,
	}
}

// Snapshot lists in-flight tasks followed by every group's queue in
// admission order.
func (s *Scheduler) Snapshot() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []TaskInfo
	for _, t := range s.inFlight {
		out = append(out, t.info(domain.StatusDownloading))
	}
	for _, q := range s.queues {
		for _, t := range q.Pending() {
			status := domain.StatusPending
			if t.HasResumeData() {
				status = domain.StatusPaused
			}
			out = append(out, t.info(status))
		}
	}
	return out
}

// InFlight returns how many tasks of group are registered as running.
func (s *Scheduler) InFlight(group string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.inFlight {
		if t.Group == group {
			n++
		}
	}
	return n
}

// PendingIDs returns the queued download ids of group, next to be admitted
// first.
func (s *Scheduler) PendingIDs(group string) []string {
	s.mu.Lock()
	q, ok := s.queues[group]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	var ids []string
	for _, t := range q.Pending() {
		ids = append(ids, t.ID)
	}
	return ids
}
