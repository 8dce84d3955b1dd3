package engine

import "slices"

// Callbacks are the observers a caller attaches to a download. Success and
// Failure take precedence; Completion only runs for an outcome whose specific
// callback is absent.
type Callbacks struct {
	Progress   func(t *Task)
	Success    func(t *Task, data []byte)
	Failure    func(t *Task, err error)
	Completion func(t *Task, data []byte, err error)
}

// callbackSet keeps every coalesced caller's callbacks per slot, in
// registration order.
type callbackSet struct {
	progress   []func(*Task)
	success    []func(*Task, []byte)
	failure    []func(*Task, error)
	completion []func(*Task, []byte, error)
}

func newCallbackSet(cb Callbacks) callbackSet {
	var set callbackSet
	if cb.Progress != nil {
		set.progress = append(set.progress, cb.Progress)
	}
	if cb.Success != nil {
		set.success = append(set.success, cb.Success)
	}
	if cb.Failure != nil {
		set.failure = append(set.failure, cb.Failure)
	}
	if cb.Completion != nil {
		set.completion = append(set.completion, cb.Completion)
	}
	return set
}

// merge appends other's entries after ours, slot by slot.
func (c *callbackSet) merge(other callbackSet) {
	c.progress = append(c.progress, other.progress...)
	c.success = append(c.success, other.success...)
	c.failure = append(c.failure, other.failure...)
	c.completion = append(c.completion, other.completion...)
}

func (c callbackSet) clone() callbackSet {
	return callbackSet{
		progress:   slices.Clone(c.progress),
		success:    slices.Clone(c.success),
		failure:    slices.Clone(c.failure),
		completion: slices.Clone(c.completion),
	}
}
