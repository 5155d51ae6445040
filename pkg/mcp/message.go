package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrInvalidVersion    = errors.New("jsonrpc must be \"2.0\"")
	ErrMixedShape        = errors.New("request cannot carry result or error")
	ErrResultAndError    = errors.New("response cannot carry both result and error")
	ErrEmptyResponse     = errors.New("response must carry result or error")
	ErrMissingResponseID = errors.New("response must carry an id")
	ErrNullRequestID     = errors.New("request id must not be null")
	ErrInvalidParams     = errors.New("params must be an object or array")
)

// Message is a JSON-RPC 2.0 request, notification or response.
// Decoding through encoding/json validates the envelope.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// UnmarshalJSON decodes data and enforces the JSON-RPC 2.0 shape
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var raw plain
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	msg := Message(raw)
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.Method != "" && msg.ID == nil {
		// a null id is not the absent id of a notification
		var probe struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(data, &probe); err == nil && len(probe.ID) > 0 {
			return ErrNullRequestID
		}
	}
	*m = msg
	return nil
}

// Validate checks the envelope: a method with no result/error, or exactly one of
// result/error. Only error responses may omit the id.
func (m *Message) Validate() error {
	if m.JSONRPC != JSONRPCVersion {
		return ErrInvalidVersion
	}
	hasResult := len(m.Result) > 0
	hasError := m.Error != nil
	if m.Method != "" {
		if hasResult || hasError {
			return ErrMixedShape
		}
		if p := bytes.TrimSpace(m.Params); len(p) > 0 && p[0] != '{' && p[0] != '[' {
			return ErrInvalidParams
		}
		return nil
	}
	switch {
	case hasResult && hasError:
		return ErrResultAndError
	case !hasResult && !hasError:
		return ErrEmptyResponse
	case m.ID == nil && !hasError:
		// errors to unreadable requests carry a null id
		return ErrMissingResponseID
	}
	return nil
}

// Kind reports whether m is a request, notification, response or error
func (m *Message) Kind() string {
	switch {
	case m.Method != "" && m.ID == nil:
		return KindNotification
	case m.Method != "":
		return KindRequest
	case m.Error != nil:
		return KindError
	default:
		return KindResponse
	}
}

// NewResponse builds a successful response to id
func NewResponse(id *RequestID, result any) (*Message, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Message{JSONRPC: JSONRPCVersion, ID: id, Result: b}, nil
}

// NewErrorResponse builds an error response to id
func NewErrorResponse(id *RequestID, code int, message string) *Message {
	return &Message{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}

// RequestID is a JSON-RPC id, either a string or a number
type RequestID struct {
	value any // string or json.Number
}

// StringID returns a string id
func StringID(s string) *RequestID { return &RequestID{value: s} }

// NumberID returns a numeric id
func NumberID(n int64) *RequestID { return &RequestID{value: json.Number(fmt.Sprint(n))} }

// String returns the textual form of the id
func (id *RequestID) String() string {
	if id == nil || id.value == nil {
		return ""
	}
	switch v := id.value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}

// IsString reports whether the id was sent as a JSON string
func (id *RequestID) IsString() bool {
	if id == nil {
		return false
	}
	_, ok := id.value.(string)
	return ok
}

func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id == nil || id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		id.value = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number, got %s", data)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("id must be an integer, got %s", data)
	}
	id.value = n
	return nil
}
