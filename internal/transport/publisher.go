package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/amoylab/dalle-sse/internal/broker"
	"github.com/amoylab/dalle-sse/internal/common/cnst"
	"github.com/amoylab/dalle-sse/internal/mcp/session"
	"github.com/amoylab/dalle-sse/pkg/mcp"
	"github.com/amoylab/dalle-sse/pkg/trace"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PublisherTransport is the single-shot side of a session. It publishes at
// most one message and never subscribes.
type PublisherTransport struct {
	meta    *session.Meta
	channel string
	broker  broker.Broker
	opts    options
	logger  *zap.Logger

	mu        sync.Mutex
	pub       broker.Publisher
	closed    bool
	receivers int64
}

var _ Transport = (*PublisherTransport)(nil)

// NewPublisher creates a publisher transport for an existing session id
func NewPublisher(sessionID string, b broker.Broker, opts ...Option) *PublisherTransport {
	o := newOptions(opts)
	return &PublisherTransport{
		meta:    session.NewMeta(sessionID, session.RolePublisher),
		channel: session.ChannelFor(sessionID),
		broker:  b,
		opts:    o,
		logger:  o.logger.Named("transport.publisher").With(zap.String("session_id", sessionID)),
	}
}

// SessionID returns the id of the session this transport publishes to
func (t *PublisherTransport) SessionID() string { return t.meta.ID }

// HandleInbound decodes the request body and dispatches it to h
func (t *PublisherTransport) HandleInbound(ctx context.Context, r *http.Request, h Handler) error {
	msg, err := ReadRequest(r, t.opts.maxBodyBytes)
	if err != nil {
		_ = t.Close(ctx)
		return err
	}
	return t.dispatch(ctx, msg, h)
}

// HandleParsed dispatches a body that has already been read upstream
func (t *PublisherTransport) HandleParsed(ctx context.Context, raw []byte, h Handler) error {
	msg, err := Parse(raw)
	if err != nil {
		_ = t.Close(ctx)
		return err
	}
	return t.dispatch(ctx, msg, h)
}

func (t *PublisherTransport) dispatch(ctx context.Context, msg *mcp.Message, h Handler) error {
	reply, err := h(ctx, msg)
	if err != nil {
		_ = t.Close(ctx)
		return err
	}
	if reply == nil {
		t.logger.Debug("no reply to publish", zap.String("kind", msg.Kind()), zap.String("method", msg.Method))
		return t.Close(ctx)
	}
	return t.Send(ctx, reply)
}

// Send publishes msg on the session channel and then closes the transport,
// whether or not the publish succeeded.
func (t *PublisherTransport) Send(ctx context.Context, msg *mcp.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	defer t.closeLocked(ctx)

	scope := trace.Tracer(cnst.TraceTransport).Start(ctx, cnst.SpanMessagePublish).
		WithAttrs(
			attribute.String(cnst.AttrMCPSessionID, t.meta.ID),
			attribute.String(cnst.AttrBrokerChannel, t.channel),
		)
	defer scope.End()

	data, err := Encode(msg)
	if err != nil {
		scope.Fail(err)
		return err
	}

	if t.pub == nil {
		t.pub = t.broker.NewPublisher(t.onBrokerError)
	}
	if !t.pub.Connected() {
		if err := t.pub.Connect(scope.Ctx); err != nil {
			scope.Fail(err)
			t.opts.metrics.Published(0, err)
			return err
		}
	}

	n, err := t.pub.Publish(scope.Ctx, t.channel, data)
	t.receivers = n
	t.opts.metrics.Published(n, err)
	scope.WithAttrs(attribute.Int64(cnst.AttrBrokerReceivers, n))
	if err != nil {
		scope.Fail(err)
		return err
	}
	if n == 0 {
		// at-most-once: nobody holds the stream of this session right now
		t.logger.Warn("message dropped, no subscriber on channel", zap.String("channel", t.channel))
	}
	return nil
}

// Receivers reports how many subscribers got the last published message
func (t *PublisherTransport) Receivers() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.receivers
}

// Closed reports whether the transport has released its broker handle
func (t *PublisherTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close releases the publish handle. It is idempotent.
func (t *PublisherTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked(ctx)
}

func (t *PublisherTransport) closeLocked(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	if t.pub == nil || !t.pub.Connected() {
		return nil
	}
	if err := t.pub.Disconnect(ctx); err != nil && !errors.Is(err, broker.ErrClosed) {
		return err
	}
	return nil
}

func (t *PublisherTransport) onBrokerError(err error) {
	t.logger.Warn("broker error", zap.Error(err))
}
