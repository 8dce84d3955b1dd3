package engine

import "sync"

// Queue holds the pending downloads of one group as a stack: the most
// recently pushed task is admitted first. limit caps how many tasks popped
// from this queue may be running at once; 0 means no cap.
type Queue struct {
	mu      sync.Mutex
	pending []*Task
	limit   int
	running int

	// force download bookkeeping
	forced     int
	savedLimit int
}

func NewQueue(limit int) *Queue {
	if limit < 0 {
		limit = 0
	}
	return &Queue{limit: limit}
}

func (q *Queue) push(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, t)
}

// canAdmit reports whether a pending task may start now.
func (q *Queue) canAdmit() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) > 0 && (q.limit == 0 || q.running < q.limit)
}

// pop removes the most recently pushed task and counts it as running. It
// returns nil when nothing is pending; gating on canAdmit is up to the caller.
func (q *Queue) pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if n == 0 {
		return nil
	}
	t := q.pending[n-1]
	q.pending[n-1] = nil
	q.pending = q.pending[:n-1]
	q.running++
	return t
}

// remove drops the first pending task for the same download as t.
func (q *Queue) remove(t *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.pending {
		if sameDownload(p, t) {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

// clear drops every pending task without running any callback and returns
// what was dropped.
func (q *Queue) clear() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := q.pending
	q.pending = nil
	return dropped
}

// finalize records that a task admitted from this queue stopped running.
func (q *Queue) finalize() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running > 0 {
		q.running--
	}
}

// releaseMemory drops resume data of every idle task.
func (q *Queue) releaseMemory() {
	q.mu.Lock()
	idle := append([]*Task(nil), q.pending...)
	q.mu.Unlock()

	for _, t := range idle {
		t.releaseMemory()
	}
}

// Pending returns the queued tasks, next to be admitted first.
func (q *Queue) Pending() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Task, 0, len(q.pending))
	for i := len(q.pending) - 1; i >= 0; i-- {
		out = append(out, q.pending[i])
	}
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *Queue) Limit() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit
}

// SetLimit changes the admission limit. While a forced download runs the new
// value is applied once it finishes.
func (q *Queue) SetLimit(limit int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit < 0 {
		limit = 0
	}
	if q.forced > 0 {
		q.savedLimit = limit
		return
	}
	q.limit = limit
}

// force narrows admission to a single task until every force is released.
func (q *Queue) force() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.forced == 0 {
		q.savedLimit = q.limit
	}
	q.forced++
	q.limit = 1
}

func (q *Queue) unforce() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.forced == 0 {
		return
	}
	q.forced--
	if q.forced == 0 {
		q.limit = q.savedLimit
	}
}
