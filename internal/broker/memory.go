package broker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MemoryBroker implements Broker inside one process. It keeps the pub/sub
// semantics of Redis: per-channel FIFO and no delivery without a subscriber.
type MemoryBroker struct {
	logger *zap.Logger
	buffer int

	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

var _ Broker = (*MemoryBroker)(nil)

// NewMemoryBroker creates an in-process broker
func NewMemoryBroker(logger *zap.Logger, buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryBroker{
		logger: logger.Named("broker.memory"),
		buffer: buffer,
		subs:   make(map[string]map[*memorySubscription]struct{}),
	}
}

// NewPublisher implements Broker.NewPublisher
func (b *MemoryBroker) NewPublisher(onError ErrorHandler) Publisher {
	return &memoryPublisher{broker: b, onError: onError}
}

// NewSubscriber implements Broker.NewSubscriber
func (b *MemoryBroker) NewSubscriber(onError ErrorHandler) Subscriber {
	return &memorySubscriber{broker: b, onError: onError}
}

// Subscribers implements Broker.Subscribers
func (b *MemoryBroker) Subscribers(_ context.Context, channel string) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, ErrClosed
	}
	return int64(len(b.subs[channel])), nil
}

// Ping implements Broker.Ping
func (b *MemoryBroker) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close ends every subscription, reporting ErrClosed to its owner
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]map[*memorySubscription]struct{})
	b.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			sub.end()
			report(sub.onError, connErr("receive", sub.channel, ErrClosed))
		}
	}
	b.logger.Info("closed memory broker")
	return nil
}

func (b *MemoryBroker) publish(ctx context.Context, channel string, data []byte) (int64, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0, ErrClosed
	}
	targets := make([]*memorySubscription, 0, len(b.subs[channel]))
	for sub := range b.subs[channel] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	var n int64
	for _, sub := range targets {
		payload := make([]byte, len(data))
		copy(payload, data)
		if sub.deliver(ctx, payload) {
			n++
		}
	}
	return n, ctx.Err()
}

func (b *MemoryBroker) attach(sub *memorySubscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	set, ok := b.subs[sub.channel]
	if !ok {
		set = make(map[*memorySubscription]struct{})
		b.subs[sub.channel] = set
	}
	set[sub] = struct{}{}
	return nil
}

func (b *MemoryBroker) detach(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[sub.channel]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.channel)
		}
	}
}

// memorySubscription serialises delivery with closing: deliver holds the read
// lock while sending, end closes done first so a blocked deliver lets go.
type memorySubscription struct {
	channel string
	onError ErrorHandler
	out     chan []byte

	once   sync.Once
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

func (s *memorySubscription) deliver(ctx context.Context, data []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- data:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *memorySubscription) end() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.out)
		s.mu.Unlock()
	})
}

type memoryPublisher struct {
	broker  *MemoryBroker
	onError ErrorHandler

	mu        sync.Mutex
	connected bool
}

func (p *memoryPublisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.broker.Ping(ctx); err != nil {
		return connErr("connect", "", err)
	}
	p.connected = true
	return nil
}

func (p *memoryPublisher) Publish(ctx context.Context, channel string, data []byte) (int64, error) {
	if !p.Connected() {
		if err := p.Connect(ctx); err != nil {
			report(p.onError, err)
			return 0, err
		}
	}
	n, err := p.broker.publish(ctx, channel, data)
	if err != nil {
		err = connErr("publish", channel, err)
		report(p.onError, err)
		return n, err
	}
	return n, nil
}

func (p *memoryPublisher) Disconnect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

func (p *memoryPublisher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

type memorySubscriber struct {
	broker  *MemoryBroker
	onError ErrorHandler

	mu        sync.Mutex
	connected bool
	closed    bool
	sub       *memorySubscription
}

func (s *memorySubscriber) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *memorySubscriber) connectLocked(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.broker.Ping(ctx); err != nil {
		return connErr("connect", "", err)
	}
	s.connected = true
	return nil
}

func (s *memorySubscriber) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connectLocked(ctx); err != nil {
		report(s.onError, err)
		return nil, err
	}
	if s.sub != nil {
		return nil, ErrAlreadySubscribed
	}
	sub := &memorySubscription{
		channel: channel,
		onError: s.onError,
		out:     make(chan []byte, s.broker.buffer),
		done:    make(chan struct{}),
	}
	if err := s.broker.attach(sub); err != nil {
		err = connErr("subscribe", channel, err)
		report(s.onError, err)
		return nil, err
	}
	s.sub = sub
	return sub.out, nil
}

func (s *memorySubscriber) Unsubscribe(_ context.Context, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil || s.sub.channel != channel {
		return ErrNotSubscribed
	}
	s.broker.detach(s.sub)
	return nil
}

func (s *memorySubscriber) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.connected = false
	if s.sub != nil {
		s.broker.detach(s.sub)
		s.sub.end()
	}
	return nil
}
