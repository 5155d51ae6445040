// Package broker connects session transports to the pub/sub broker that
// links a publishing request to the process holding the session's stream.
//
// Delivery is at-most-once: a message published while nobody is subscribed
// to its channel is dropped, and Publish reports zero receivers.
package broker

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned once the broker or the handle has been closed
	ErrClosed = errors.New("broker: closed")
	// ErrAlreadySubscribed is returned when a subscribe handle already holds a subscription
	ErrAlreadySubscribed = errors.New("broker: handle already subscribed")
	// ErrNotSubscribed is returned when unsubscribing from a channel the handle does not hold
	ErrNotSubscribed = errors.New("broker: handle not subscribed to channel")
)

// ErrorHandler receives failures that happen outside of a call, such as a
// subscription connection dropping.
type ErrorHandler func(err error)

// Publisher is a publish-capable handle. Publishing on a handle that is not
// connected connects it first. Disconnect is idempotent.
type Publisher interface {
	Connect(ctx context.Context) error
	// Publish sends data to channel and returns how many subscribers received it.
	Publish(ctx context.Context, channel string, data []byte) (int64, error)
	Disconnect(ctx context.Context) error
	Connected() bool
}

// Subscriber is a subscribe-capable handle bound to at most one channel.
type Subscriber interface {
	Connect(ctx context.Context) error
	// Subscribe returns once the broker confirmed the subscription. Payloads are
	// delivered in publish order. The channel is closed on Disconnect or when the
	// subscription fails, in which case the ErrorHandler is called first.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Unsubscribe(ctx context.Context, channel string) error
	Disconnect(ctx context.Context) error
}

// Broker creates handles over a shared connection pool.
type Broker interface {
	NewPublisher(onError ErrorHandler) Publisher
	NewSubscriber(onError ErrorHandler) Subscriber
	// Subscribers returns the number of subscribers currently attached to channel.
	Subscribers(ctx context.Context, channel string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// ConnectionError reports a failed broker operation
type ConnectionError struct {
	Op      string
	Channel string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Channel == "" {
		return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("broker %s %s: %v", e.Op, e.Channel, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func connErr(op, channel string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return err
	}
	return &ConnectionError{Op: op, Channel: channel, Err: err}
}

func report(h ErrorHandler, err error) {
	if h != nil && err != nil {
		h(err)
	}
}
