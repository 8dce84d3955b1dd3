// Package transport defines the boundary between the download scheduler and
// whatever actually moves bytes over the network.
//
// A Session creates Handles. Handles start out Suspended, run once Resume is
// called and report back through the Session's Delegate. The scheduler never
// inspects payloads; finished downloads are identified by an opaque location
// which the Session can read back.
package transport

import (
	"errors"

	"github.com/datallboy/stackdl/internal/domain"
)

// ErrCancelled is reported through Delegate.OnCompleted when a handle stops
// because it was cancelled, including cancellation that produced resume data.
var ErrCancelled = errors.New("transport: cancelled")

// State of a single transport handle.
type State int

const (
	StateSuspended State = iota
	StateRunning
	StateCanceling
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateCanceling:
		return "canceling"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Terminal reports whether a handle in this state can never run again.
func (s State) Terminal() bool {
	return s == StateCanceling || s == StateCompleted
}

// Handle is one transport operation.
type Handle interface {
	// ID is stable for the life of the handle and unique within its Session.
	ID() uint64
	State() State
	Resume()
	Suspend()
	Cancel()
	// CancelProducingResumeData stops the handle and asynchronously hands
	// back state that NewHandleWithResumeData can continue from. fn receives
	// nil when nothing worth resuming was transferred.
	CancelProducingResumeData(fn func(data []byte))
}

// Delegate receives handle events. Calls arrive on transport goroutines.
type Delegate interface {
	OnProgress(h Handle, written, expected int64)
	OnFinished(h Handle, location string)
	// OnCompleted is called once per handle. err is nil after a successful
	// OnFinished and ErrCancelled after cancellation.
	OnCompleted(h Handle, err error)
}

// Session creates handles and owns their results.
type Session interface {
	NewHandle(req domain.Request) Handle
	NewHandleWithResumeData(data []byte) (Handle, error)
	// DiscardResumeData releases whatever the resume data keeps alive on the
	// session's side. It is called for data that will never be resumed.
	DiscardResumeData(data []byte)
	// ReadLocation returns the payload stored at a location reported by
	// OnFinished and releases it.
	ReadLocation(location string) ([]byte, error)
	SetDelegate(d Delegate)
}
