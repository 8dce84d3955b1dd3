package transporttest

import (
	"fmt"
	"sync"

	"github.com/datallboy/stackdl/internal/domain"
	"github.com/datallboy/stackdl/internal/transport"
)

// Handle is a transport.Handle that only changes state when told to.
type Handle struct {
	session *Session
	id      uint64

	Request     domain.Request
	ResumedFrom []byte

	mu           sync.Mutex
	state        transport.State
	resumes      int
	suspends     int
	cancels      int
	resumeData   []byte
	deferResume  bool
	pendingReply func([]byte)
}

func (h *Handle) ID() uint64 { return h.id }

func (h *Handle) State() transport.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resumes++
	if !h.state.Terminal() {
		h.state = transport.StateRunning
	}
}

func (h *Handle) Suspend() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.suspends++
	if !h.state.Terminal() {
		h.state = transport.StateSuspended
	}
}

func (h *Handle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancels++
	h.state = transport.StateCompleted
}

func (h *Handle) CancelProducingResumeData(fn func(data []byte)) {
	h.mu.Lock()
	h.cancels++
	h.state = transport.StateCompleted
	data := h.resumeData
	if h.deferResume {
		h.pendingReply = fn
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	fn(data)
}

// SetResumeData changes what CancelProducingResumeData hands back. nil
// simulates a transfer that produced nothing resumable.
func (h *Handle) SetResumeData(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resumeData = data
}

// DeferResumeData holds resume data back until DeliverResumeData is called.
func (h *Handle) DeferResumeData() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deferResume = true
}

// DeliverResumeData releases resume data held back by DeferResumeData.
func (h *Handle) DeliverResumeData() {
	h.mu.Lock()
	fn, data := h.pendingReply, h.resumeData
	h.pendingReply = nil
	h.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// Counts reports how many times Resume, Suspend and Cancel (either form) ran.
func (h *Handle) Counts() (resumes, suspends, cancels int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resumes, h.suspends, h.cancels
}

// Progress reports bytes written to the session delegate.
func (h *Handle) Progress(written, expected int64) {
	if d := h.session.currentDelegate(); d != nil {
		d.OnProgress(h, written, expected)
	}
}

// Finish stores payload and reports a successful transfer.
func (h *Handle) Finish(payload []byte) {
	location := fmt.Sprintf("mem://%d", h.id)
	h.session.store(location, payload)
	h.mu.Lock()
	h.state = transport.StateCompleted
	h.mu.Unlock()
	if d := h.session.currentDelegate(); d != nil {
		d.OnFinished(h, location)
		d.OnCompleted(h, nil)
	}
}

// Fail reports err as the outcome of the transfer.
func (h *Handle) Fail(err error) {
	h.mu.Lock()
	h.state = transport.StateCompleted
	h.mu.Unlock()
	if d := h.session.currentDelegate(); d != nil {
		d.OnCompleted(h, err)
	}
}
