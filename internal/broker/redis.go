package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amoylab/dalle-sse/internal/common/cnst"
	"github.com/amoylab/dalle-sse/internal/common/config"
	"github.com/amoylab/dalle-sse/pkg/utils"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker implements Broker on Redis pub/sub. Publish handles share the
// client pool; every subscription owns a dedicated connection.
type RedisBroker struct {
	logger *zap.Logger
	client redis.UniversalClient
	buffer int

	mu     sync.RWMutex
	closed bool
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker connects to Redis and verifies the connection
func NewRedisBroker(ctx context.Context, cfg config.BrokerConfig, logger *zap.Logger) (*RedisBroker, error) {
	opts, err := universalOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, connErr("connect", "", fmt.Errorf("failed to connect to Redis: %w", err))
	}

	return NewRedisBrokerFromClient(client, logger, cfg.ChannelBuffer), nil
}

// NewRedisBrokerFromClient wraps an existing client. The broker takes ownership of it.
func NewRedisBrokerFromClient(client redis.UniversalClient, logger *zap.Logger, buffer int) *RedisBroker {
	if buffer <= 0 {
		buffer = 64
	}
	return &RedisBroker{
		logger: logger.Named("broker.redis"),
		client: client,
		buffer: buffer,
	}
}

func universalOptions(cfg config.BrokerConfig) (*redis.UniversalOptions, error) {
	opts := &redis.UniversalOptions{
		Addrs:    utils.SplitByMultipleDelimiters(cfg.Addr, ";", ","),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid broker url: %w", err)
		}
		opts.Addrs = []string{parsed.Addr}
		opts.Username = utils.FirstNonEmpty(parsed.Username, cfg.Username)
		opts.Password = utils.FirstNonEmpty(parsed.Password, cfg.Password)
		opts.DB = parsed.DB
		opts.TLSConfig = parsed.TLSConfig
	}
	if len(opts.Addrs) == 0 {
		return nil, errors.New("broker address is required")
	}
	if cfg.ClusterType == cnst.RedisClusterTypeSentinel {
		opts.MasterName = cfg.MasterName
	}
	if cfg.ClusterType == cnst.RedisClusterTypeCluster {
		// can not set db in cluster mode
		opts.DB = 0
	}
	return opts, nil
}

func (b *RedisBroker) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// NewPublisher implements Broker.NewPublisher
func (b *RedisBroker) NewPublisher(onError ErrorHandler) Publisher {
	return &redisPublisher{broker: b, onError: onError}
}

// NewSubscriber implements Broker.NewSubscriber
func (b *RedisBroker) NewSubscriber(onError ErrorHandler) Subscriber {
	return &redisSubscriber{broker: b, onError: onError}
}

// Subscribers implements Broker.Subscribers using PUBSUB NUMSUB
func (b *RedisBroker) Subscribers(ctx context.Context, channel string) (int64, error) {
	if b.isClosed() {
		return 0, ErrClosed
	}
	res, err := b.client.PubSubNumSub(ctx, channel).Result()
	if err != nil {
		return 0, connErr("numsub", channel, err)
	}
	return res[channel], nil
}

// Ping implements Broker.Ping
func (b *RedisBroker) Ping(ctx context.Context) error {
	if b.isClosed() {
		return ErrClosed
	}
	return connErr("ping", "", b.client.Ping(ctx).Err())
}

// Close closes the shared pool. Open subscriptions end with an error.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	b.logger.Info("closing redis broker")
	return b.client.Close()
}

type redisPublisher struct {
	broker  *RedisBroker
	onError ErrorHandler

	mu        sync.Mutex
	connected bool
}

func (p *redisPublisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectLocked(ctx)
}

func (p *redisPublisher) connectLocked(ctx context.Context) error {
	if p.connected {
		return nil
	}
	if p.broker.isClosed() {
		return ErrClosed
	}
	if err := p.broker.client.Ping(ctx).Err(); err != nil {
		err = connErr("connect", "", err)
		report(p.onError, err)
		return err
	}
	p.connected = true
	return nil
}

func (p *redisPublisher) Publish(ctx context.Context, channel string, data []byte) (int64, error) {
	p.mu.Lock()
	if err := p.connectLocked(ctx); err != nil {
		p.mu.Unlock()
		return 0, err
	}
	p.mu.Unlock()

	n, err := p.broker.client.Publish(ctx, channel, data).Result()
	if err != nil {
		err = connErr("publish", channel, err)
		report(p.onError, err)
		return 0, err
	}
	return n, nil
}

// Disconnect releases the handle. The shared pool stays open for other handles.
func (p *redisPublisher) Disconnect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

func (p *redisPublisher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

type redisSubscriber struct {
	broker  *RedisBroker
	onError ErrorHandler

	mu        sync.Mutex
	connected bool
	closed    bool
	channel   string
	ps        *redis.PubSub
	stop      context.CancelFunc
	done      chan struct{}
}

func (s *redisSubscriber) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *redisSubscriber) connectLocked(ctx context.Context) error {
	if s.closed || s.broker.isClosed() {
		return ErrClosed
	}
	if s.connected {
		return nil
	}
	if err := s.broker.client.Ping(ctx).Err(); err != nil {
		err = connErr("connect", "", err)
		report(s.onError, err)
		return err
	}
	s.connected = true
	return nil
}

func (s *redisSubscriber) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connectLocked(ctx); err != nil {
		return nil, err
	}
	if s.ps != nil {
		return nil, ErrAlreadySubscribed
	}

	ps := s.broker.client.Subscribe(ctx, channel)
	// wait for the subscribe confirmation so nothing published afterwards is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		err = connErr("subscribe", channel, err)
		report(s.onError, err)
		return nil, err
	}

	loopCtx, stop := context.WithCancel(context.Background())
	out := make(chan []byte, s.broker.buffer)
	s.ps, s.channel, s.stop, s.done = ps, channel, stop, make(chan struct{})
	go s.receive(loopCtx, ps, channel, out, s.done)

	s.broker.logger.Debug("subscribed", zap.String("channel", channel))
	return out, nil
}

// receive is the only reader of ps, which keeps delivery in publish order
func (s *redisSubscriber) receive(ctx context.Context, ps *redis.PubSub, channel string, out chan<- []byte, done chan<- struct{}) {
	defer close(done)
	defer close(out)
	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.broker.logger.Warn("subscription receive failed", zap.String("channel", channel), zap.Error(err))
			report(s.onError, connErr("receive", channel, err))
			return
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case out <- []byte(msg.Payload):
		case <-ctx.Done():
			return
		}
	}
}

func (s *redisSubscriber) Unsubscribe(ctx context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ps == nil || s.channel != channel {
		return ErrNotSubscribed
	}
	// stop delivery before telling the broker
	s.stop()
	if err := s.ps.Unsubscribe(ctx, channel); err != nil {
		return connErr("unsubscribe", channel, err)
	}
	s.broker.logger.Debug("unsubscribed", zap.String("channel", channel))
	return nil
}

// Disconnect closes the dedicated connection and waits for the receive loop to exit
func (s *redisSubscriber) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	ps, done, stop, channel := s.ps, s.done, s.stop, s.channel
	s.mu.Unlock()

	if ps == nil {
		return nil
	}
	stop()
	err := ps.Close()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err != nil && !errors.Is(err, redis.ErrClosed) {
		return connErr("disconnect", channel, err)
	}
	return nil
}
