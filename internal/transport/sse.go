package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amoylab/dalle-sse/internal/broker"
	"github.com/amoylab/dalle-sse/internal/common/cnst"
	"github.com/amoylab/dalle-sse/internal/mcp/session"
	"github.com/amoylab/dalle-sse/pkg/mcp"
	"github.com/amoylab/dalle-sse/pkg/trace"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SSE event names
const (
	EventEndpoint = "endpoint"
	EventMessage  = "message"
	EventPing     = "ping"
)

type sseState int32

const (
	sseCreated sseState = iota
	sseStarted
	sseServing
	sseClosed
)

// SSETransport is the subscriber side of a session. It owns one event stream
// and exactly one subscribe handle for its whole life.
type SSETransport struct {
	meta     *session.Meta
	channel  string
	endpoint string
	w        http.ResponseWriter
	flusher  http.Flusher
	broker   broker.Broker
	opts     options
	logger   *zap.Logger

	state          atomic.Int32
	headersWritten atomic.Bool

	mu     sync.Mutex
	pub    broker.Publisher
	sub    broker.Subscriber
	stream <-chan []byte

	closeOnce sync.Once
	closeErr  error
}

var (
	_ Transport          = (*SSETransport)(nil)
	_ session.Connection = (*SSETransport)(nil)
)

// NewSSE creates the subscriber transport of a new session. endpoint is the
// path clients POST their messages to.
func NewSSE(w http.ResponseWriter, endpoint string, b broker.Broker, opts ...Option) (*SSETransport, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrNoFlusher
	}
	o := newOptions(opts)
	id := session.NewID()
	return &SSETransport{
		meta:     session.NewMeta(id, session.RoleSubscriber),
		channel:  session.ChannelFor(id),
		endpoint: endpoint,
		w:        w,
		flusher:  flusher,
		broker:   b,
		opts:     o,
		logger:   o.logger.Named("transport.sse").With(zap.String("session_id", id)),
	}, nil
}

// SessionID returns the id announced in the endpoint event
func (t *SSETransport) SessionID() string { return t.meta.ID }

// Meta implements session.Connection
func (t *SSETransport) Meta() *session.Meta { return t.meta }

// HeadersWritten reports whether the stream response has been committed
func (t *SSETransport) HeadersWritten() bool { return t.headersWritten.Load() }

// Start subscribes to the session channel, opens the event stream and
// announces the endpoint. On failure everything acquired so far is released.
func (t *SSETransport) Start(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(sseCreated), int32(sseStarted)) {
		if sseState(t.state.Load()) == sseClosed {
			return ErrTransportClosed
		}
		return ErrAlreadyStarted
	}

	scope := trace.Tracer(cnst.TraceTransport).Start(ctx, cnst.SpanSSEConnect).
		WithAttrs(
			attribute.String(cnst.AttrMCPSessionID, t.meta.ID),
			attribute.String(cnst.AttrBrokerChannel, t.channel),
		)
	defer scope.End()

	if err := t.open(scope.Ctx); err != nil {
		scope.Fail(err)
		t.logger.Warn("failed to start sse session", zap.Error(err))
		_ = t.Close(context.WithoutCancel(ctx))
		return err
	}
	t.logger.Info("sse session started", zap.String("channel", t.channel))
	return nil
}

func (t *SSETransport) open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sseState(t.state.Load()) == sseClosed {
		return ErrTransportClosed
	}

	t.pub = t.broker.NewPublisher(t.onBrokerError)
	if err := t.pub.Connect(ctx); err != nil {
		return fmt.Errorf("connect publisher: %w", err)
	}
	t.sub = t.broker.NewSubscriber(t.onBrokerError)
	if err := t.sub.Connect(ctx); err != nil {
		return fmt.Errorf("connect subscriber: %w", err)
	}
	stream, err := t.sub.Subscribe(ctx, t.channel)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	t.stream = stream

	h := t.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	t.w.WriteHeader(http.StatusOK)
	t.headersWritten.Store(true)

	data := EscapeURI(t.endpoint) + "?sessionId=" + t.meta.ID
	return t.writeEvent(EventEndpoint, []byte(data))
}

// Serve relays session messages to the stream until the peer disconnects,
// done is closed, the delivery stream ends or a write fails. It always closes
// the transport before returning.
func (t *SSETransport) Serve(ctx context.Context, done <-chan struct{}) error {
	if !t.state.CompareAndSwap(int32(sseStarted), int32(sseServing)) {
		switch sseState(t.state.Load()) {
		case sseCreated:
			return ErrNotStarted
		case sseClosed:
			return ErrTransportClosed
		default:
			return ErrAlreadyStarted
		}
	}
	defer func() { _ = t.Close(context.WithoutCancel(ctx)) }()

	var tick <-chan time.Time
	if t.opts.keepAlive > 0 {
		ticker := time.NewTicker(t.opts.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			t.logger.Debug("peer disconnected")
			return nil
		case <-done:
			t.logger.Debug("shutting down sse session")
			return nil
		case data, ok := <-t.stream:
			if !ok {
				if sseState(t.state.Load()) == sseClosed {
					return nil
				}
				t.logger.Warn("delivery stream closed")
				return ErrStreamClosed
			}
			if err := t.relay(data); err != nil {
				var swe *StreamWriteError
				if errors.As(err, &swe) {
					t.logger.Info("failed to write sse event", zap.Error(err))
					return err
				}
				t.logger.Warn("skipping invalid payload", zap.Error(err), zap.ByteString("payload", data))
			}
		case <-tick:
			if err := t.writeComment(EventPing); err != nil {
				t.logger.Info("failed to write keepalive", zap.Error(err))
				return err
			}
		}
	}
}

// relay re-serialises a broker payload and writes it as a message event
func (t *SSETransport) relay(data []byte) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return &MalformedMessageError{Err: err}
	}
	return t.writeEvent(EventMessage, buf.Bytes())
}

func (t *SSETransport) writeEvent(event string, data []byte) error {
	if _, err := fmt.Fprintf(t.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return &StreamWriteError{Event: event, Err: err}
	}
	t.flusher.Flush()
	t.opts.metrics.EventWritten(event)
	return nil
}

func (t *SSETransport) writeComment(event string) error {
	if _, err := fmt.Fprintf(t.w, ": %s\n\n", event); err != nil {
		return &StreamWriteError{Event: event, Err: err}
	}
	t.flusher.Flush()
	t.opts.metrics.EventWritten(event)
	return nil
}

// Send publishes msg on this session's own channel
func (t *SSETransport) Send(ctx context.Context, msg *mcp.Message) error {
	switch sseState(t.state.Load()) {
	case sseCreated:
		return ErrNotStarted
	case sseClosed:
		return ErrTransportClosed
	}
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	t.mu.Lock()
	pub := t.pub
	t.mu.Unlock()
	n, err := pub.Publish(ctx, t.channel, data)
	t.opts.metrics.Published(n, err)
	return err
}

// Close unsubscribes, then disconnects the subscribe and publish handles.
// It is safe to call more than once; later calls return the first result.
func (t *SSETransport) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		t.state.Store(int32(sseClosed))

		t.mu.Lock()
		defer t.mu.Unlock()

		var errs []error
		if t.sub != nil {
			if t.stream != nil {
				if err := t.sub.Unsubscribe(ctx, t.channel); err != nil {
					errs = append(errs, err)
				}
			}
			if err := t.sub.Disconnect(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if t.pub != nil && t.pub.Connected() {
			if err := t.pub.Disconnect(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			t.closeErr = errs[0]
			t.logger.Warn("sse session closed with errors", zap.Errors("errors", errs))
			return
		}
		t.logger.Info("sse session closed")
	})
	return t.closeErr
}

func (t *SSETransport) onBrokerError(err error) {
	t.logger.Warn("broker error", zap.Error(err))
}

// EscapeURI percent-encodes s the way a browser encodes a full URI: reserved
// delimiters and unreserved marks are kept, everything else is escaped.
func EscapeURI(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if keepInURI(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func keepInURI(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte(";,/?:@&=+$-_.!~*'()#", c) >= 0
}
