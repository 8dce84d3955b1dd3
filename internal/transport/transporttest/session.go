// Package transporttest provides an in-memory transport.Session whose handles
// are driven by the test instead of the network.
package transporttest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/datallboy/stackdl/internal/domain"
	"github.com/datallboy/stackdl/internal/transport"
)

const resumePrefix = "resume:"

// Session records every handle it creates.
type Session struct {
	mu        sync.Mutex
	nextID    uint64
	delegate  transport.Delegate
	handles   []*Handle
	payloads  map[string][]byte
	discarded [][]byte

	// ResumeErr, when set, makes NewHandleWithResumeData fail.
	ResumeErr error
}

func NewSession() *Session {
	return &Session{payloads: make(map[string][]byte)}
}

func (s *Session) SetDelegate(d transport.Delegate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegate = d
}

func (s *Session) NewHandle(req domain.Request) transport.Handle {
	return s.newHandle(req, nil)
}

// NewHandleWithResumeData accepts data produced by Handle.CancelProducingResumeData.
func (s *Session) NewHandleWithResumeData(data []byte) (transport.Handle, error) {
	if s.ResumeErr != nil {
		return nil, s.ResumeErr
	}
	raw := string(data)
	if !strings.HasPrefix(raw, resumePrefix) {
		return nil, fmt.Errorf("transporttest: malformed resume data %q", raw)
	}
	resumed := append([]byte(nil), data...)
	return s.newHandle(domain.NewRequest(strings.TrimPrefix(raw, resumePrefix)), resumed), nil
}

func (s *Session) DiscardResumeData(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discarded = append(s.discarded, append([]byte(nil), data...))
}

// Discarded returns the resume data handed to DiscardResumeData, oldest first.
func (s *Session) Discarded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.discarded))
	for _, d := range s.discarded {
		out = append(out, string(d))
	}
	return out
}

func (s *Session) newHandle(req domain.Request, resumedFrom []byte) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	h := &Handle{
		session:     s,
		id:          s.nextID,
		Request:     req,
		ResumedFrom: resumedFrom,
		resumeData:  []byte(resumePrefix + req.URL),
	}
	s.handles = append(s.handles, h)
	return h
}

func (s *Session) ReadLocation(location string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.payloads[location]
	if !ok {
		return nil, fmt.Errorf("transporttest: no payload at %s", location)
	}
	delete(s.payloads, location)
	return data, nil
}

// Handles returns every handle created so far, oldest first.
func (s *Session) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Handle, len(s.handles))
	copy(out, s.handles)
	return out
}

// Running returns the handles currently in StateRunning.
func (s *Session) Running() []*Handle {
	var out []*Handle
	for _, h := range s.Handles() {
		if h.State() == transport.StateRunning {
			out = append(out, h)
		}
	}
	return out
}

// Latest returns the most recently created handle for url, or nil.
func (s *Session) Latest(url string) *Handle {
	handles := s.Handles()
	for i := len(handles) - 1; i >= 0; i-- {
		if handles[i].Request.URL == url {
			return handles[i]
		}
	}
	return nil
}

func (s *Session) currentDelegate() transport.Delegate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delegate
}

func (s *Session) store(location string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[location] = payload
}
