package engine

import (
	"errors"
	"fmt"

	"github.com/datallboy/stackdl/internal/transport"
)

var _ transport.Delegate = (*Scheduler)(nil)

// OnProgress implements transport.Delegate.
func (s *Scheduler) OnProgress(h transport.Handle, written, expected int64) {
	t := s.lookup(h.ID())
	if t == nil {
		return
	}
	t.didUpdateProgress(fraction(written, expected))
}

// fraction is the completed share of a transfer. An unknown size reads as 0.
func fraction(written, expected int64) float64 {
	if expected <= 0 || written <= 0 {
		return 0
	}
	if written >= expected {
		return 1
	}
	return float64(written) / float64(expected)
}

// OnFinished implements transport.Delegate.
func (s *Scheduler) OnFinished(h transport.Handle, location string) {
	t, restores := s.claim(h.ID())
	if t == nil {
		return
	}

	data, err := s.session.ReadLocation(location)
	if err != nil {
		err = fmt.Errorf("read %s: %w", location, err)
		s.log.Error("task: %s Error: %v", t.ID, err)
		t.didFail(err)
	} else {
		s.log.Debug("task: %s finished with %d bytes", t.ID, len(data))
		t.didSucceed(data)
	}

	s.afterOutcome(t, restores)
}

// OnCompleted implements transport.Delegate. Success was already handled by
// OnFinished and cancellation is initiated by the scheduler itself, so only
// real failures are acted on.
func (s *Scheduler) OnCompleted(h transport.Handle, err error) {
	if err == nil || errors.Is(err, transport.ErrCancelled) {
		return
	}

	t, restores := s.claim(h.ID())
	if t == nil {
		return
	}

	t.didFail(err)
	s.log.Error("task: %s Error: %v", t.ID, err)
	s.afterOutcome(t, restores)
}

func (s *Scheduler) afterOutcome(t *Task, restores []func()) {
	for _, restore := range restores {
		restore()
	}
	s.Drain(t.Group)
}
