package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Registry tracks the subscriber sessions open in this process so they can be
// swept on shutdown. It never routes messages; the broker does.
type Registry struct {
	logger *zap.Logger
	mu     sync.RWMutex
	conns  map[string]Connection
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger.Named("session.registry"),
		conns:  make(map[string]Connection),
	}
}

// Register adds conn under its session id
func (r *Registry) Register(conn Connection) error {
	id := conn.Meta().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[id]; exists {
		return ErrSessionExists
	}
	r.conns[id] = conn
	r.logger.Debug("session registered", zap.String("session_id", id), zap.Int("active", len(r.conns)))
	return nil
}

// Unregister removes the session without closing it
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return ErrSessionNotFound
	}
	delete(r.conns, id)
	r.logger.Debug("session unregistered", zap.String("session_id", id), zap.Int("active", len(r.conns)))
	return nil
}

// Get returns the session registered under id
func (r *Registry) Get(id string) (Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return conn, nil
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every registered session concurrently and empties the registry.
// Every session is attempted; the returned error joins all failures.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]Connection)
	r.mu.Unlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for id, conn := range conns {
		g.Go(func() error {
			if err := conn.Close(ctx); err != nil {
				r.logger.Warn("failed to close session", zap.String("session_id", id), zap.Error(err))
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("closed all sessions", zap.Int("count", len(conns)), zap.Int("failed", len(errs)))
	return errors.Join(errs...)
}
