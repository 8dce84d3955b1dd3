package engine

import (
	"sort"

	"github.com/datallboy/stackdl/internal/domain"
)

// PauseAll returns every in-flight task to its group's queue.
func (s *Scheduler) PauseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.inFlightLocked("") {
		s.pauseLocked(t)
	}
}

// PauseGroup returns the in-flight tasks of one group to its queue.
func (s *Scheduler) PauseGroup(group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queues[group]; !ok {
		return domain.ErrGroupNotFound
	}
	for _, t := range s.inFlightLocked(group) {
		s.pauseLocked(t)
	}
	return nil
}

// inFlightLocked copies the registry so callers can mutate it while
// iterating. An empty group matches every task. Tasks come in admission order
// with forced downloads last, so pausing them in this order leaves a forced
// download on top of its queue.
func (s *Scheduler) inFlightLocked(group string) []*Task {
	var out []*Task
	for _, t := range s.inFlight {
		if group == "" || t.Group == group {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		fi, fj := s.forcedLocked(out[i]), s.forcedLocked(out[j])
		if fi != fj {
			return fj
		}
		return out[i].key < out[j].key
	})
	return out
}

// pauseLocked suspends t and puts it back on its queue as a pending task.
func (s *Scheduler) pauseLocked(t *Task) {
	q, ok := s.queues[t.Group]
	if !ok {
		return
	}

	t.pause()

	// A later request for the same id may be waiting in the queue already;
	// the paused task takes over its callbacks.
	if existing := s.pending[t.Group][t.ID]; existing != nil && existing != t {
		t.coalesceWith(existing)
		q.remove(existing)
		s.retargetHoldsLocked(existing, t)
	}
	q.push(t)
	s.pending[t.Group][t.ID] = t
	s.finalizeLocked(t)
}

// ResumeAll admits queued work in every group up to each group's limit.
func (s *Scheduler) ResumeAll() {
	s.mu.Lock()
	var started []*Task
	for group := range s.queues {
		started = append(started, s.drainLocked(group)...)
	}
	s.mu.Unlock()

	s.notifyResumed(started)
}

func (s *Scheduler) ResumeGroup(group string) error {
	s.mu.Lock()
	_, ok := s.queues[group]
	s.mu.Unlock()
	if !ok {
		return domain.ErrGroupNotFound
	}
	s.Drain(group)
	return nil
}

// Cancel stops the download id in group, whether it is running or queued.
// No callback fires.
func (s *Scheduler) Cancel(id, group string) error {
	s.mu.Lock()
	t := s.findInFlightLocked(id, group)
	if t != nil {
		t.cancel()
		s.finalizeLocked(t)
	} else if pending := s.pending[group][id]; pending != nil {
		pending.cancel()
		s.queues[group].remove(pending)
		delete(s.pending[group], id)
		t = pending
	}
	var restores []func()
	if t != nil {
		restores = s.releaseHoldsLocked(t)
	}
	if restore := s.takeRestoreLocked(group, id); restore != nil {
		restores = append(restores, restore)
	}
	s.mu.Unlock()

	for _, restore := range restores {
		restore()
	}
	if t == nil {
		return domain.ErrTaskNotFound
	}
	s.log.Info("Cancelled task %s in group %s", id, group)
	s.Drain(group)
	if t.Group != group {
		s.Drain(t.Group)
	}
	return nil
}

// findInFlightLocked prefers a task of the given group, then any group.
func (s *Scheduler) findInFlightLocked(id, group string) *Task {
	running := s.active[id]
	for _, t := range running {
		if t.Group == group {
			return t
		}
	}
	if len(running) > 0 {
		return running[0]
	}
	return nil
}

// CancelAll stops every running and queued download. No callback fires.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	for _, t := range s.inFlightLocked("") {
		t.cancel()
		s.finalizeLocked(t)
	}
	for group, q := range s.queues {
		for _, t := range q.clear() {
			t.cancel()
		}
		s.pending[group] = make(map[string]*Task)
	}
	var restores []func()
	for group, byID := range s.restores {
		for id := range byID {
			restores = append(restores, s.takeRestoreLocked(group, id))
		}
	}
	s.mu.Unlock()

	for _, restore := range restores {
		restore()
	}
	s.log.Info("Cancelled all downloads")
}

// forceHold keeps a group at a limit of one while task, the task carrying the
// forced request, is unfinished. restore must be called without the
// scheduler lock held.
type forceHold struct {
	task    *Task
	restore func()
}

// ForceDownload runs the download alone in its group. Whatever the group was
// running goes back to the queue and the group's limit drops to one until the
// forced download succeeds, fails or is cancelled. The group is paused,
// forced and handed the new task under a single lock.
func (s *Scheduler) ForceDownload(id, group string, req domain.Request, cb Callbacks, opts ...ScheduleOption) error {
	d := s.dispatcherFor(opts)

	s.mu.Lock()
	q, ok := s.queues[group]
	if !ok {
		s.mu.Unlock()
		return domain.ErrGroupNotFound
	}
	for _, t := range s.inFlightLocked(group) {
		s.pauseLocked(t)
	}

	hold := s.restores[group][id]
	if hold == nil {
		q.force()
		hold = &forceHold{restore: func() {
			q.unforce()
			s.log.Debug("Restored limit of group %s after forced download %s", group, id)
			s.Drain(group)
		}}
		if s.restores[group] == nil {
			s.restores[group] = make(map[string]*forceHold)
		}
		s.restores[group][id] = hold
	}
	hold.task = s.scheduleLocked(newTask(id, group, req, cb, d, s.session, s.log), q)
	started := s.drainLocked(group)
	s.mu.Unlock()

	s.log.Info("Forcing download %s in group %s", id, group)
	s.notifyResumed(started)
	return nil
}

func (s *Scheduler) forcedLocked(t *Task) bool {
	for _, byID := range s.restores {
		for _, hold := range byID {
			if hold.task == t {
				return true
			}
		}
	}
	return false
}

// retargetHoldsLocked moves the holds of a task that was merged into another.
func (s *Scheduler) retargetHoldsLocked(from, to *Task) {
	for _, byID := range s.restores {
		for _, hold := range byID {
			if hold.task == from {
				hold.task = to
			}
		}
	}
}

// releaseHoldsLocked detaches the limit restores of every force t carries,
// whichever group requested it.
func (s *Scheduler) releaseHoldsLocked(t *Task) []func() {
	var out []func()
	for group, byID := range s.restores {
		for id, hold := range byID {
			if hold.task == t {
				out = append(out, hold.restore)
				delete(byID, id)
			}
		}
		if len(byID) == 0 {
			delete(s.restores, group)
		}
	}
	return out
}

func (s *Scheduler) takeRestoreLocked(group, id string) func() {
	byID := s.restores[group]
	hold := byID[id]
	if hold == nil {
		return nil
	}
	delete(byID, id)
	if len(byID) == 0 {
		delete(s.restores, group)
	}
	return hold.restore
}
