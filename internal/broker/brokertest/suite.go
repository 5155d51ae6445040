// Package brokertest holds the behaviour every broker.Broker must share.
package brokertest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/amoylab/dalle-sse/internal/broker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh broker for one subtest
type Factory func(t *testing.T) broker.Broker

// Run executes the shared pub/sub behaviour against brokers built by newBroker
func Run(t *testing.T, newBroker Factory) {
	t.Run("PublishWithoutSubscriber", func(t *testing.T) {
		b := newBroker(t)
		ctx := context.Background()

		pub := b.NewPublisher(nil)
		n, err := pub.Publish(ctx, "sse:channel:nobody", []byte(`{"a":1}`))
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
		assert.True(t, pub.Connected())
		require.NoError(t, pub.Disconnect(ctx))
		assert.False(t, pub.Connected())
	})

	t.Run("RoundTripInOrder", func(t *testing.T) {
		b := newBroker(t)
		ctx := context.Background()

		sub := b.NewSubscriber(nil)
		require.NoError(t, sub.Connect(ctx))
		ch, err := sub.Subscribe(ctx, "sse:channel:one")
		require.NoError(t, err)
		defer func() { _ = sub.Disconnect(ctx) }()

		pub := b.NewPublisher(nil)
		require.NoError(t, pub.Connect(ctx))
		for i := 0; i < 5; i++ {
			n, err := pub.Publish(ctx, "sse:channel:one", []byte(fmt.Sprintf("m%d", i)))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
		}
		for i := 0; i < 5; i++ {
			assert.Equal(t, fmt.Sprintf("m%d", i), string(Receive(t, ch)))
		}
	})

	t.Run("ChannelIsolation", func(t *testing.T) {
		b := newBroker(t)
		ctx := context.Background()

		subA := b.NewSubscriber(nil)
		chA, err := subA.Subscribe(ctx, "sse:channel:a")
		require.NoError(t, err)
		defer func() { _ = subA.Disconnect(ctx) }()

		subB := b.NewSubscriber(nil)
		chB, err := subB.Subscribe(ctx, "sse:channel:b")
		require.NoError(t, err)
		defer func() { _ = subB.Disconnect(ctx) }()

		pub := b.NewPublisher(nil)
		_, err = pub.Publish(ctx, "sse:channel:b", []byte("for-b"))
		require.NoError(t, err)

		assert.Equal(t, "for-b", string(Receive(t, chB)))
		AssertSilent(t, chA, 50*time.Millisecond)
	})

	t.Run("SubscriberCount", func(t *testing.T) {
		b := newBroker(t)
		ctx := context.Background()

		n, err := b.Subscribers(ctx, "sse:channel:count")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		sub := b.NewSubscriber(nil)
		_, err = sub.Subscribe(ctx, "sse:channel:count")
		require.NoError(t, err)

		n, err = b.Subscribers(ctx, "sse:channel:count")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		require.NoError(t, sub.Disconnect(ctx))
		assert.Eventually(t, func() bool {
			n, err := b.Subscribers(ctx, "sse:channel:count")
			return err == nil && n == 0
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("SubscribeTwice", func(t *testing.T) {
		b := newBroker(t)
		ctx := context.Background()

		sub := b.NewSubscriber(nil)
		_, err := sub.Subscribe(ctx, "sse:channel:twice")
		require.NoError(t, err)
		defer func() { _ = sub.Disconnect(ctx) }()

		_, err = sub.Subscribe(ctx, "sse:channel:other")
		assert.ErrorIs(t, err, broker.ErrAlreadySubscribed)
	})

	t.Run("UnsubscribeUnknownChannel", func(t *testing.T) {
		b := newBroker(t)
		ctx := context.Background()

		sub := b.NewSubscriber(nil)
		assert.ErrorIs(t, sub.Unsubscribe(ctx, "sse:channel:never"), broker.ErrNotSubscribed)
	})

	t.Run("DisconnectClosesStream", func(t *testing.T) {
		b := newBroker(t)
		ctx := context.Background()

		sub := b.NewSubscriber(nil)
		ch, err := sub.Subscribe(ctx, "sse:channel:closing")
		require.NoError(t, err)

		require.NoError(t, sub.Unsubscribe(ctx, "sse:channel:closing"))
		require.NoError(t, sub.Disconnect(ctx))
		require.NoError(t, sub.Disconnect(ctx))

		AssertClosed(t, ch)

		_, err = sub.Subscribe(ctx, "sse:channel:closing")
		assert.Error(t, err)
	})
}

// Receive waits for one payload on ch
func Receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case data, ok := <-ch:
		require.True(t, ok, "stream closed")
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

// AssertSilent fails if anything arrives on ch within d
func AssertSilent(t *testing.T, ch <-chan []byte, d time.Duration) {
	t.Helper()
	select {
	case data, ok := <-ch:
		if ok {
			t.Fatalf("unexpected message %q", data)
		}
	case <-time.After(d):
	}
}

// AssertClosed drains ch and fails unless it closes
func AssertClosed(t *testing.T, ch <-chan []byte) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream was not closed")
		}
	}
}
