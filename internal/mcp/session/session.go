package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ChannelPrefix namespaces every session channel on the broker
const ChannelPrefix = "sse:channel"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already registered")
)

// Role tells which side of the transport a session belongs to
type Role string

const (
	// RoleSubscriber owns an open event stream
	RoleSubscriber Role = "subscriber"
	// RolePublisher is transient and delivers a single message
	RolePublisher Role = "publisher"
)

// Meta holds immutable metadata about a session.
type Meta struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMeta returns metadata for a session created now
func NewMeta(id string, role Role) *Meta {
	return &Meta{ID: id, Role: role, CreatedAt: time.Now()}
}

// Channel returns the broker channel of the session
func (m *Meta) Channel() string {
	return ChannelFor(m.ID)
}

// Connection is an open session that can be torn down from outside.
type Connection interface {
	Meta() *Meta
	Close(ctx context.Context) error
}

// NewID returns a random session identifier
func NewID() string {
	return uuid.NewString()
}

// ChannelFor maps a session identifier to its broker channel
func ChannelFor(id string) string {
	return ChannelPrefix + ":" + id
}
