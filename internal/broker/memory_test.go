package broker_test

import (
	"context"
	"github.com/amoylab/dalle-sse/internal/broker"
	"sync"
	"testing"

	"github.com/amoylab/dalle-sse/internal/broker/brokertest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// go-redis pool reaper and miniredis listeners stop asynchronously
		goleak.IgnoreTopFunction("github.com/redis/go-redis/v9/internal/pool.(*ConnPool).reaper"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func TestMemoryBroker_Suite(t *testing.T) {
	brokertest.Run(t, func(t *testing.T) broker.Broker {
		b := broker.NewMemoryBroker(zap.NewNop(), 4)
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}

func TestMemoryBroker_CloseEndsSubscriptions(t *testing.T) {
	b := broker.NewMemoryBroker(zap.NewNop(), 0)
	ctx := context.Background()

	var (
		mu   sync.Mutex
		errs []error
	)
	sub := b.NewSubscriber(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	})
	ch, err := sub.Subscribe(ctx, "sse:channel:x")
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	brokertest.AssertClosed(t, ch)

	mu.Lock()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], broker.ErrClosed)
	var cerr *broker.ConnectionError
	assert.ErrorAs(t, errs[0], &cerr)
	assert.Equal(t, "sse:channel:x", cerr.Channel)
	mu.Unlock()

	_, err = b.NewPublisher(nil).Publish(ctx, "sse:channel:x", []byte("late"))
	assert.ErrorIs(t, err, broker.ErrClosed)
	assert.ErrorIs(t, b.Ping(ctx), broker.ErrClosed)
	assert.NoError(t, sub.Disconnect(ctx))
}

func TestMemoryBroker_PublishCopiesPayload(t *testing.T) {
	b := broker.NewMemoryBroker(zap.NewNop(), 1)
	defer func() { _ = b.Close() }()
	ctx := context.Background()

	sub := b.NewSubscriber(nil)
	ch, err := sub.Subscribe(ctx, "sse:channel:copy")
	require.NoError(t, err)
	defer func() { _ = sub.Disconnect(ctx) }()

	data := []byte("abc")
	_, err = b.NewPublisher(nil).Publish(ctx, "sse:channel:copy", data)
	require.NoError(t, err)
	data[0] = 'z'
	assert.Equal(t, "abc", string(brokertest.Receive(t, ch)))
}

func TestMemoryBroker_PublishHonoursContext(t *testing.T) {
	b := broker.NewMemoryBroker(zap.NewNop(), 1)
	defer func() { _ = b.Close() }()

	sub := b.NewSubscriber(nil)
	_, err := sub.Subscribe(context.Background(), "sse:channel:full")
	require.NoError(t, err)
	defer func() { _ = sub.Disconnect(context.Background()) }()

	pub := b.NewPublisher(nil)
	n, err := pub.Publish(context.Background(), "sse:channel:full", []byte("1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// buffer is full and nobody reads
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err = pub.Publish(ctx, "sse:channel:full", []byte("2"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), n)
}

func TestMemoryBroker_DisconnectUnblocksPublisher(t *testing.T) {
	b := broker.NewMemoryBroker(zap.NewNop(), 1)
	defer func() { _ = b.Close() }()
	ctx := context.Background()

	sub := b.NewSubscriber(nil)
	_, err := sub.Subscribe(ctx, "sse:channel:block")
	require.NoError(t, err)

	pub := b.NewPublisher(nil)
	_, err = pub.Publish(ctx, "sse:channel:block", []byte("fill"))
	require.NoError(t, err)

	done := make(chan int64)
	go func() {
		n, _ := pub.Publish(ctx, "sse:channel:block", []byte("stuck"))
		done <- n
	}()

	require.NoError(t, sub.Disconnect(ctx))
	assert.Equal(t, int64(0), <-done)
}
