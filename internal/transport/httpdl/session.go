// Package httpdl is the HTTP implementation of transport.Session.
//
// Bytes are written to a gocloud.dev blob bucket as they arrive. Every run of
// a handle produces one segment object; pausing keeps the segments and hands
// back resume data pointing at them, and the next run asks the server for the
// rest with a Range request. A finished download is the concatenation of its
// segments, stored under the location reported to the delegate.
package httpdl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
	"golang.org/x/time/rate"

	"github.com/datallboy/stackdl/internal/domain"
	"github.com/datallboy/stackdl/internal/infra/logger"
	"github.com/datallboy/stackdl/internal/transport"
)

var (
	// ErrLocationNotFound is returned by ReadLocation for unknown or already
	// consumed locations.
	ErrLocationNotFound = errors.New("httpdl: location not found")

	// ErrInvalidResumeData is returned for resume data this package did not
	// produce or whose segments are gone.
	ErrInvalidResumeData = errors.New("httpdl: invalid resume data")
)

// StatusError is reported when the server answers with an error status.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpdl: %s returned %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Options configures a Session.
type Options struct {
	// Timeout bounds a whole transfer. 0 disables it.
	Timeout time.Duration

	// UserAgent is sent with every request unless the request sets its own.
	UserAgent string

	// BandwidthLimit caps the combined read rate of all handles in bytes per
	// second. 0 means unlimited.
	BandwidthLimit int64

	// ProgressInterval is the minimum time between progress reports of one
	// handle (default: 250ms).
	ProgressInterval time.Duration

	// BufferSize is the size of each read from the response body
	// (default: 32KiB).
	BufferSize int

	// Prefix is prepended to every object key the session writes.
	Prefix string

	// Client overrides the HTTP client. Timeout is ignored when set.
	Client *http.Client
}

// DefaultOptions returns the options used for zero fields.
func DefaultOptions() Options {
	return Options{
		UserAgent:        "stackdl",
		ProgressInterval: 250 * time.Millisecond,
		BufferSize:       32 * 1024,
		Prefix:           "partial/",
	}
}

// Session creates HTTP download handles that store into bucket.
type Session struct {
	bucket  *blob.Bucket
	client  *http.Client
	opts    Options
	limiter *rate.Limiter
	log     *logger.Logger

	nextID atomic.Uint64

	mu       sync.Mutex
	delegate transport.Delegate
}

var _ transport.Session = (*Session)(nil)

func NewSession(bucket *blob.Bucket, log *logger.Logger, opts Options) *Session {
	def := DefaultOptions()
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = def.ProgressInterval
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	s := &Session{
		bucket: bucket,
		client: client,
		opts:   opts,
		log:    log,
	}
	if opts.BandwidthLimit > 0 {
		burst := int(opts.BandwidthLimit)
		s.limiter = rate.NewLimiter(rate.Limit(opts.BandwidthLimit), burst)
		if s.opts.BufferSize > burst {
			s.opts.BufferSize = burst
		}
	}
	return s
}

func (s *Session) SetDelegate(d transport.Delegate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegate = d
}

func (s *Session) currentDelegate() transport.Delegate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delegate
}

func (s *Session) NewHandle(req domain.Request) transport.Handle {
	return s.newHandle(req.Clone(), resumeState{})
}

// resumeState is the JSON form of resume data.
type resumeState struct {
	URL      string            `json:"url"`
	Header   map[string]string `json:"header,omitempty"`
	ETag     string            `json:"etag,omitempty"`
	Offset   int64             `json:"offset"`
	Segments []string          `json:"segments"`
}

// NewHandleWithResumeData continues a transfer from data produced by
// CancelProducingResumeData.
func (s *Session) NewHandleWithResumeData(data []byte) (transport.Handle, error) {
	var st resumeState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResumeData, err)
	}
	if st.URL == "" || st.Offset < 0 {
		return nil, ErrInvalidResumeData
	}

	ctx := context.Background()
	for _, key := range st.Segments {
		ok, err := s.bucket.Exists(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("check segment %s: %w", key, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: segment %s is gone", ErrInvalidResumeData, key)
		}
	}

	req := domain.Request{URL: st.URL, Header: st.Header}
	return s.newHandle(req, st), nil
}

// DiscardResumeData deletes the segments resume data points at. Keys outside
// the session's prefix and data it cannot parse are ignored.
func (s *Session) DiscardResumeData(data []byte) {
	var st resumeState
	if err := json.Unmarshal(data, &st); err != nil {
		return
	}
	keys := make([]string, 0, len(st.Segments))
	for _, key := range st.Segments {
		if strings.HasPrefix(key, s.opts.Prefix) {
			keys = append(keys, key)
		}
	}
	s.deleteAll(keys)
}

func (s *Session) newHandle(req domain.Request, st resumeState) *handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{
		session:  s,
		id:       s.nextID.Add(1),
		req:      req,
		etag:     st.ETag,
		offset:   st.Offset,
		segments: append([]string(nil), st.Segments...),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		progress: &rate.Sometimes{Interval: s.opts.ProgressInterval},
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// ReadLocation returns the finished download stored at location and deletes
// it from the bucket.
func (s *Session) ReadLocation(location string) ([]byte, error) {
	ctx := context.Background()
	data, err := s.bucket.ReadAll(ctx, location)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrLocationNotFound, location)
		}
		return nil, fmt.Errorf("read %s: %w", location, err)
	}
	if err := s.bucket.Delete(ctx, location); err != nil {
		s.log.Warn("Failed to delete %s after reading: %v", location, err)
	}
	return data, nil
}

func (s *Session) key(name string) string {
	return s.opts.Prefix + name
}

// deleteAll removes keys, logging failures.
func (s *Session) deleteAll(keys []string) {
	ctx := context.Background()
	for _, key := range keys {
		if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			s.log.Warn("Failed to delete segment %s: %v", key, err)
		}
	}
}

// Purge deletes everything under the session's prefix: segments left by a
// previous process and finished downloads nobody read. It does nothing
// without a prefix.
func (s *Session) Purge(ctx context.Context) (int, error) {
	if s.opts.Prefix == "" {
		return 0, nil
	}
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.opts.Prefix})
	n := 0
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("list %s: %w", s.opts.Prefix, err)
		}
		if obj.IsDir {
			continue
		}
		if err := s.bucket.Delete(ctx, obj.Key); err != nil {
			return n, fmt.Errorf("delete %s: %w", obj.Key, err)
		}
		n++
	}
}
