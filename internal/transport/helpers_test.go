package transport

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amoylab/dalle-sse/internal/broker"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sseEvent struct {
	Name string
	Data string
}

// streamRecorder is a concurrency safe http.ResponseWriter + http.Flusher
type streamRecorder struct {
	mu      sync.Mutex
	header  http.Header
	status  int
	buf     bytes.Buffer
	flushes int
	failErr error
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{header: make(http.Header)}
}

func (r *streamRecorder) Header() http.Header { return r.header }

func (r *streamRecorder) WriteHeader(status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
}

func (r *streamRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return 0, r.failErr
	}
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.buf.Write(p)
}

func (r *streamRecorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
}

func (r *streamRecorder) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failErr = err
}

func (r *streamRecorder) Status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *streamRecorder) Body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

func (r *streamRecorder) Events() []sseEvent {
	return parseEvents(r.Body())
}

func parseEvents(body string) []sseEvent {
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		if block == "" {
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, ": "):
				ev.Name = ":" + strings.TrimPrefix(line, ": ")
			case strings.HasPrefix(line, "event: "):
				ev.Name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.Data = strings.TrimPrefix(line, "data: ")
			}
		}
		events = append(events, ev)
	}
	return events
}

// waitEvents waits until rec holds at least n events and returns them
func waitEvents(t *testing.T, rec *streamRecorder, n int) []sseEvent {
	t.Helper()
	var events []sseEvent
	require.Eventually(t, func() bool {
		events = rec.Events()
		return len(events) >= n
	}, 2*time.Second, 5*time.Millisecond, "want %d events, got %q", n, rec.Body())
	return events
}

// nonFlusher hides the Flush method of the recorder
type nonFlusher struct {
	http.ResponseWriter
}

// liveSession starts an SSE transport on rec and serves it in the background
type liveSession struct {
	t      *testing.T
	tr     *SSETransport
	rec    *streamRecorder
	cancel context.CancelFunc
	served chan error
}

func startSession(t *testing.T, b broker.Broker, done <-chan struct{}, opts ...Option) *liveSession {
	t.Helper()
	rec := newStreamRecorder()
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	tr, err := NewSSE(rec, "/messages", b, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, tr.Start(ctx))

	s := &liveSession{t: t, tr: tr, rec: rec, cancel: cancel, served: make(chan error, 1)}
	go func() { s.served <- tr.Serve(ctx, done) }()
	return s
}

// stop disconnects the peer and waits for Serve to return
func (s *liveSession) stop() error {
	s.t.Helper()
	s.cancel()
	return s.wait()
}

func (s *liveSession) wait() error {
	s.t.Helper()
	select {
	case err := <-s.served:
		return err
	case <-time.After(2 * time.Second):
		s.t.Fatal("serve did not return")
		return errors.New("timeout")
	}
}
