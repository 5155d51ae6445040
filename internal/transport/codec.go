package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/amoylab/dalle-sse/pkg/mcp"

	"github.com/elnormous/contenttype"
	"golang.org/x/text/encoding/htmlindex"
)

const defaultCharset = "utf-8"

// Decode parses an inbound body sent with the given Content-Type header
func Decode(raw []byte, contentType string) (*mcp.Message, error) {
	mt, err := contenttype.ParseMediaType(contentType)
	if err != nil {
		return nil, &ContentTypeError{ContentType: contentType, Err: err}
	}
	// a declared type must be exactly application/json, wildcards included
	if mt.Type != "application" || mt.Subtype != "json" {
		return nil, &ContentTypeError{ContentType: contentType}
	}

	charset := strings.ToLower(strings.TrimSpace(mt.Parameters["charset"]))
	if charset == "" {
		charset = defaultCharset
	}
	if charset != defaultCharset {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, &ContentTypeError{ContentType: contentType, Err: err}
		}
		name, _ := htmlindex.Name(enc)
		if name != defaultCharset {
			raw, err = enc.NewDecoder().Bytes(raw)
			if err != nil {
				return nil, &MalformedMessageError{Err: fmt.Errorf("decode %s body: %w", charset, err)}
			}
		}
	}

	return Parse(raw)
}

// Parse validates raw as a single JSON-RPC message
func Parse(raw []byte) (*mcp.Message, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &MalformedMessageError{Err: io.ErrUnexpectedEOF}
	}
	var msg mcp.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &MalformedMessageError{Err: err}
	}
	return &msg, nil
}

// Encode serialises msg for the broker
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// ReadRequest reads at most limit bytes of r's body and decodes it with the
// request's Content-Type.
func ReadRequest(r *http.Request, limit int64) (*mcp.Message, error) {
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	contentType := r.Header.Get("Content-Type")
	// reject before reading so a wrong media type never costs a body read
	if _, err := contenttype.ParseMediaType(contentType); err != nil {
		return nil, &ContentTypeError{ContentType: contentType, Err: err}
	}
	if r.Body == nil {
		return nil, &MalformedMessageError{Err: io.ErrUnexpectedEOF}
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, &MalformedMessageError{Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(raw)) > limit {
		return nil, ErrBodyTooLarge
	}
	return Decode(raw, contentType)
}
