// Package transport implements the two halves of the MCP HTTP+SSE transport.
//
// An SSETransport owns the long-lived event stream of a session and relays
// everything published on the session channel to it. A PublisherTransport
// lives for one POST request: it decodes the inbound message, hands it to a
// Handler and publishes the reply on the session channel, then lets go of the
// broker. The two sides may run in different processes.
package transport

import (
	"context"
	"time"

	"github.com/amoylab/dalle-sse/pkg/mcp"
	"github.com/amoylab/dalle-sse/pkg/metrics"

	"go.uber.org/zap"
)

// Transport is the behaviour shared by both sides
type Transport interface {
	SessionID() string
	// Send publishes msg on the session channel
	Send(ctx context.Context, msg *mcp.Message) error
	Close(ctx context.Context) error
}

// Handler processes one inbound message. A nil reply means there is nothing
// to send back, as for notifications and client responses.
type Handler func(ctx context.Context, msg *mcp.Message) (*mcp.Message, error)

// DefaultMaxBodyBytes bounds an inbound POST body when no limit is configured
const DefaultMaxBodyBytes int64 = 4 << 20

type options struct {
	logger       *zap.Logger
	metrics      *metrics.Metrics
	keepAlive    time.Duration
	maxBodyBytes int64
}

// Option configures a transport
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records stream and publish counters on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithKeepAlive makes an SSE stream write a comment line every d. Zero disables it.
func WithKeepAlive(d time.Duration) Option {
	return func(o *options) { o.keepAlive = d }
}

// WithMaxBodyBytes bounds the body read by PublisherTransport.HandleInbound
func WithMaxBodyBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBodyBytes = n
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:       zap.NewNop(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
