package engine

import (
	"sync"

	"github.com/datallboy/stackdl/internal/domain"
	"github.com/datallboy/stackdl/internal/infra/logger"
	"github.com/datallboy/stackdl/internal/transport"
)

// Task is one logical download. Several callers asking for the same download
// id share a single Task and therefore a single transport operation.
type Task struct {
	ID    string
	Group string

	request    domain.Request
	session    transport.Session
	dispatcher Dispatcher
	log        *logger.Logger

	// key is the registry key while in flight; guarded by the scheduler lock
	key uint64

	mu         sync.Mutex
	handle     transport.Handle
	progress   float64
	running    bool
	complete   bool
	cancelled  bool
	resumeData []byte
	callbacks  callbackSet
}

// newTask builds a task without a transport handle. attach gives it one.
func newTask(id, group string, req domain.Request, cb Callbacks, d Dispatcher, session transport.Session, log *logger.Logger) *Task {
	if d == nil {
		d = Inline
	}
	return &Task{
		ID:         id,
		Group:      group,
		request:    req.Clone(),
		session:    session,
		dispatcher: d,
		log:        log,
		callbacks:  newCallbackSet(cb),
	}
}

// sameDownload is the identity used for coalescing and lookups: download ids
// match, groups are ignored.
func sameDownload(a, b *Task) bool {
	return a != nil && b != nil && a.ID == b.ID
}

func (t *Task) attach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handle == nil && t.session != nil {
		t.handle = t.session.NewHandle(t.request)
	}
}

// Request returns a copy of the request the task downloads.
func (t *Task) Request() domain.Request { return t.request.Clone() }

// HandleID is the id of the current transport handle, 0 when there is none.
func (t *Task) HandleID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handle == nil {
		return 0
	}
	return t.handle.ID()
}

func (t *Task) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Task) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.complete
}

// HasResumeData reports whether a pause left partial transfer state behind.
func (t *Task) HasResumeData() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.resumeData) > 0
}

// pause suspends the transfer and asks the transport for resume data. It
// returns without waiting for that data.
func (t *Task) pause() {
	t.mu.Lock()
	t.running = false
	h := t.handle
	t.mu.Unlock()

	if h == nil {
		return
	}

	t.log.Debug("Pausing task - %s", t.ID)
	h.Suspend()
	h.CancelProducingResumeData(func(data []byte) {
		if len(data) == 0 {
			return
		}
		t.mu.Lock()
		// the handle was replaced or the task cancelled in the meantime
		if t.handle != h || t.cancelled {
			t.mu.Unlock()
			t.discard(data)
			return
		}
		t.resumeData = append([]byte(nil), data...)
		t.mu.Unlock()
	})
}

// resume starts the transfer, continuing from resume data when there is some
// and restarting from the request when the old handle can no longer run.
func (t *Task) resume() {
	t.mu.Lock()
	if t.handle == nil {
		t.mu.Unlock()
		return
	}

	resumed := false
	var stale []byte
	if data := t.resumeData; len(data) > 0 {
		t.resumeData = nil
		h, err := t.session.NewHandleWithResumeData(data)
		if err != nil {
			t.log.Warn("Discarding resume data for task %s: %v", t.ID, err)
			stale = data
		} else if h != nil {
			t.log.Debug("Resuming task - %s", t.ID)
			t.handle = h
			resumed = true
		}
	}

	if !resumed {
		if t.handle.State().Terminal() {
			t.log.Debug("Restarting task - %s", t.ID)
			t.handle = t.session.NewHandle(t.request)
		} else {
			t.log.Debug("Starting task - %s", t.ID)
		}
	}

	t.running = true
	h := t.handle
	t.mu.Unlock()

	t.discard(stale)
	h.Resume()
}

// cancel stops the transport without notifying anyone and gives up any
// resume data.
func (t *Task) cancel() {
	t.mu.Lock()
	t.running = false
	t.cancelled = true
	h := t.handle
	data := t.resumeData
	t.resumeData = nil
	t.mu.Unlock()

	t.discard(data)
	if h != nil {
		h.Cancel()
	}
}

// discard hands resume data that will never be used back to the session.
func (t *Task) discard(data []byte) {
	if len(data) == 0 || t.session == nil {
		return
	}
	t.session.DiscardResumeData(data)
}

func (t *Task) didUpdateProgress(fraction float64) {
	t.mu.Lock()
	t.progress = fraction
	progress := t.callbacks.progress
	t.mu.Unlock()

	if len(progress) == 0 {
		return
	}
	t.dispatcher.Dispatch(func() {
		for _, fn := range progress {
			fn(t)
		}
	})
}

// didSucceed delivers data to the success callbacks, falling back to the
// completion callbacks. An empty payload is reported as a failure.
func (t *Task) didSucceed(data []byte) {
	if len(data) == 0 {
		t.log.Warn("task: %s %v", t.ID, domain.ErrEmptyPayload)
		t.didFail(nil)
		return
	}

	t.mu.Lock()
	t.running = false
	t.complete = true
	t.progress = 1
	success, completion := t.callbacks.success, t.callbacks.completion
	t.mu.Unlock()

	switch {
	case len(success) > 0:
		t.dispatcher.Dispatch(func() {
			for _, fn := range success {
				fn(t, data)
			}
		})
	case len(completion) > 0:
		t.dispatcher.Dispatch(func() {
			for _, fn := range completion {
				fn(t, data, nil)
			}
		})
	}
}

// didFail delivers err to the failure callbacks, falling back to the
// completion callbacks. err may be nil.
func (t *Task) didFail(err error) {
	t.mu.Lock()
	t.running = false
	failure, completion := t.callbacks.failure, t.callbacks.completion
	t.mu.Unlock()

	switch {
	case len(failure) > 0:
		t.dispatcher.Dispatch(func() {
			for _, fn := range failure {
				fn(t, err)
			}
		})
	case len(completion) > 0:
		t.dispatcher.Dispatch(func() {
			for _, fn := range completion {
				fn(t, nil, err)
			}
		})
	}
}

func (t *Task) canCoalesceWith(other *Task) bool {
	return sameDownload(t, other)
}

// coalesceWith makes t the task of record for other: other's callbacks run
// after t's, slot by slot.
func (t *Task) coalesceWith(other *Task) {
	if other == nil || other == t {
		return
	}
	other.mu.Lock()
	theirs := other.callbacks.clone()
	other.mu.Unlock()

	t.mu.Lock()
	t.callbacks.merge(theirs)
	t.mu.Unlock()
}

// releaseMemory forgets progress and resume data of an idle task.
func (t *Task) releaseMemory() {
	t.mu.Lock()
	data := t.resumeData
	t.progress = 0
	t.resumeData = nil
	t.mu.Unlock()

	t.discard(data)
}
