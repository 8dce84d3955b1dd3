package httpdl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/datallboy/stackdl/internal/domain"
	"github.com/datallboy/stackdl/internal/transport"
)

// handle is one HTTP transfer. Its goroutine starts on the first Resume and
// exits after reporting exactly one OnCompleted.
type handle struct {
	session  *Session
	id       uint64
	req      domain.Request
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	progress *rate.Sometimes

	mu      sync.Mutex
	cond    *sync.Cond
	state   transport.State
	started bool
	// keep segments for resume data instead of deleting them on exit
	keep bool

	etag     string
	offset   int64
	segments []string
}

var _ transport.Handle = (*handle)(nil)

func (h *handle) ID() uint64 { return h.id }

func (h *handle) State() transport.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *handle) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return
	}
	h.state = transport.StateRunning
	h.cond.Broadcast()
	if !h.started {
		h.started = true
		go h.run()
	}
}

func (h *handle) Suspend() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == transport.StateRunning {
		h.state = transport.StateSuspended
	}
}

func (h *handle) Cancel() {
	h.stop(false)
}

// CancelProducingResumeData never blocks: fn runs on another goroutine once
// the transfer has stopped.
func (h *handle) CancelProducingResumeData(fn func(data []byte)) {
	if !h.stop(true) {
		go fn(nil)
		return
	}
	go func() {
		<-h.done
		fn(h.resumeData())
	}()
}

// stop moves the handle to Canceling and reports whether it was still live.
func (h *handle) stop(keep bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return false
	}
	h.state = transport.StateCanceling
	h.keep = keep
	h.cancel()
	h.cond.Broadcast()
	if !h.started {
		h.started = true
		go h.run()
	}
	return true
}

func (h *handle) resumeData() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.offset == 0 || len(h.segments) == 0 {
		return nil
	}
	data, err := json.Marshal(resumeState{
		URL:      h.req.URL,
		Header:   h.req.Header,
		ETag:     h.etag,
		Offset:   h.offset,
		Segments: h.segments,
	})
	if err != nil {
		return nil
	}
	return data
}

func (h *handle) run() {
	err := h.transfer()
	var location string
	if err == nil {
		location, err = h.assemble()
	}

	h.mu.Lock()
	cancelled := h.ctx.Err() != nil
	keep := h.keep
	segments := h.segments
	if cancelled && !keep {
		h.segments, h.offset = nil, 0
	}
	h.state = transport.StateCompleted
	h.mu.Unlock()

	if cancelled {
		if location != "" {
			// finished right as it was stopped; nobody will read it
			h.session.deleteAll([]string{location})
		}
		if !keep {
			h.session.deleteAll(segments)
		}
	} else if err != nil {
		h.session.deleteAll(segments)
	}
	h.cancel()
	close(h.done)

	d := h.session.currentDelegate()
	if d == nil {
		return
	}
	switch {
	case cancelled:
		d.OnCompleted(h, transport.ErrCancelled)
	case err != nil:
		h.session.log.Debug("Transfer %d of %s failed: %v", h.id, h.req.URL, err)
		d.OnCompleted(h, err)
	default:
		d.OnFinished(h, location)
		d.OnCompleted(h, nil)
	}
}

// waitRunning blocks while the handle is suspended.
func (h *handle) waitRunning() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for h.state == transport.StateSuspended {
		h.cond.Wait()
	}
	return h.ctx.Err()
}

func (h *handle) transfer() error {
	if err := h.waitRunning(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(h.ctx, http.MethodGet, h.req.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range h.req.Header {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", h.session.opts.UserAgent)
	}

	h.mu.Lock()
	offset, etag := h.offset, h.etag
	h.mu.Unlock()
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		if etag != "" {
			req.Header.Set("If-Range", etag)
		}
	}

	resp, err := h.session.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case offset > 0 && resp.StatusCode == http.StatusPartialContent:
	case offset > 0 && resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		// everything was already transferred
		return nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if offset > 0 {
			h.session.log.Debug("%s changed or ignored the range, restarting", h.req.URL)
			h.discardSegments()
			offset = 0
		}
	default:
		return &StatusError{StatusCode: resp.StatusCode, URL: h.req.URL}
	}

	if tag := resp.Header.Get("ETag"); tag != "" {
		h.mu.Lock()
		h.etag = tag
		h.mu.Unlock()
	}

	expected := int64(-1)
	if resp.ContentLength >= 0 {
		expected = offset + resp.ContentLength
	}
	return h.writeSegment(resp.Body, offset, expected)
}

func (h *handle) discardSegments() {
	h.mu.Lock()
	segments := h.segments
	h.segments, h.offset = nil, 0
	h.mu.Unlock()
	h.session.deleteAll(segments)
}

// writeSegment stores body as a new segment. The segment is kept even when
// the transfer is cancelled half way.
func (h *handle) writeSegment(body io.Reader, offset, expected int64) error {
	key := h.session.key("seg-" + uuid.NewString())
	w, err := h.session.bucket.NewWriter(context.Background(), key, nil)
	if err != nil {
		return fmt.Errorf("open segment: %w", err)
	}

	written, copyErr := h.pump(w, body, offset, expected)
	if err := w.Close(); err != nil {
		return errors.Join(copyErr, fmt.Errorf("close segment: %w", err))
	}

	h.mu.Lock()
	h.segments = append(h.segments, key)
	h.offset += written
	h.mu.Unlock()
	return copyErr
}

func (h *handle) pump(w io.Writer, body io.Reader, offset, expected int64) (int64, error) {
	buf := make([]byte, h.session.opts.BufferSize)
	var written int64
	for {
		if err := h.waitRunning(); err != nil {
			return written, err
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			if lim := h.session.limiter; lim != nil {
				if err := lim.WaitN(h.ctx, n); err != nil {
					return written, err
				}
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write segment: %w", err)
			}
			written += int64(n)

			total := offset + written
			h.progress.Do(func() { h.reportProgress(total, expected) })
		}

		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func (h *handle) reportProgress(written, expected int64) {
	if d := h.session.currentDelegate(); d != nil {
		d.OnProgress(h, written, expected)
	}
}

// assemble concatenates the segments into the final object and returns its
// key.
func (h *handle) assemble() (string, error) {
	h.mu.Lock()
	segments := append([]string(nil), h.segments...)
	h.mu.Unlock()

	bucket := h.session.bucket
	location := h.session.key(fmt.Sprintf("out-%d-%s", h.id, uuid.NewString()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := bucket.NewWriter(ctx, location, nil)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", location, err)
	}

	for _, key := range segments {
		if err := appendObject(ctx, h.session, w, key); err != nil {
			// cancelling before Close discards the partial object
			cancel()
			_ = w.Close()
			return "", err
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", location, err)
	}

	h.session.deleteAll(segments)
	h.mu.Lock()
	h.segments, h.offset = nil, 0
	h.mu.Unlock()
	return location, nil
}

func appendObject(ctx context.Context, s *Session, w io.Writer, key string) error {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("open segment %s: %w", key, err)
	}
	defer r.Close()
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copy segment %s: %w", key, err)
	}
	return nil
}
