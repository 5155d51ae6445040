package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportClosed is returned by operations on a closed transport
	ErrTransportClosed = errors.New("transport: closed")
	// ErrNotStarted is returned when an SSE transport is used before Start
	ErrNotStarted = errors.New("transport: not started")
	// ErrAlreadyStarted is returned when Start or Serve runs twice
	ErrAlreadyStarted = errors.New("transport: already started")
	// ErrStreamClosed is returned by Serve when the delivery stream ended underneath it
	ErrStreamClosed = errors.New("transport: delivery stream closed")
	// ErrNoFlusher is returned when the response writer cannot stream
	ErrNoFlusher = errors.New("transport: response writer does not support flushing")
	// ErrBodyTooLarge is returned when an inbound body exceeds the configured limit
	ErrBodyTooLarge = errors.New("transport: request body too large")
)

// ContentTypeError reports an inbound body that is not application/json or
// uses a charset that cannot be decoded.
type ContentTypeError struct {
	ContentType string
	Err         error
}

func (e *ContentTypeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unsupported content type %q: %v", e.ContentType, e.Err)
	}
	return fmt.Sprintf("unsupported content type %q", e.ContentType)
}

func (e *ContentTypeError) Unwrap() error { return e.Err }

// MalformedMessageError reports a body that is not a valid JSON-RPC message
type MalformedMessageError struct {
	Err error
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed message: %v", e.Err)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// StreamWriteError reports a failed write to the event stream, usually
// because the peer went away.
type StreamWriteError struct {
	Event string
	Err   error
}

func (e *StreamWriteError) Error() string {
	return fmt.Sprintf("write %s event: %v", e.Event, e.Err)
}

func (e *StreamWriteError) Unwrap() error { return e.Err }
