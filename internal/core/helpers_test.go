package core

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/amoylab/dalle-sse/internal/broker"
	"github.com/amoylab/dalle-sse/internal/common/config"
	"github.com/amoylab/dalle-sse/internal/imagegen"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeGenerator struct {
	mu      sync.Mutex
	url     string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.url, f.err
}

type fakeProcessor struct {
	err error
}

func (f *fakeProcessor) Process(_ context.Context, url string) (*imagegen.Image, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &imagegen.Image{URL: url, MimeType: imagegen.MimeType, Base64: "aGVsbG8=", Quality: 80, Size: 5}, nil
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Port:         0,
		SSEPath:      "/sse",
		MessagePath:  "/messages",
		MaxBodyBytes: 1 << 20,
	}
}

func newTestServer(t *testing.T, cfg config.ServerConfig, opts ...Option) (*Server, *broker.MemoryBroker) {
	t.Helper()
	b := broker.NewMemoryBroker(zap.NewNop(), 16)
	t.Cleanup(func() { _ = b.Close() })
	s, err := NewServer(zap.NewNop(), cfg, b, opts...)
	require.NoError(t, err)
	return s, b
}

func post(s *Server, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

type sseEvent struct {
	Name string
	Data string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.Name != "" {
				return ev
			}
		case strings.HasPrefix(line, "event: "):
			ev.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.Data = strings.TrimPrefix(line, "data: ")
		}
	}
}

// stream is an open GET /sse connection against a live test server
type stream struct {
	resp      *http.Response
	reader    *bufio.Reader
	sessionID string
	endpoint  string
}

func openStream(t *testing.T, baseURL string) *stream {
	t.Helper()
	resp, err := http.Get(baseURL + "/sse")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	st := &stream{resp: resp, reader: bufio.NewReader(resp.Body)}
	ev := readEvent(t, st.reader)
	require.Equal(t, "endpoint", ev.Name)
	st.endpoint = ev.Data
	st.sessionID = strings.TrimPrefix(ev.Data, "/messages?sessionId=")
	require.NotEmpty(t, st.sessionID)
	require.NotEqual(t, ev.Data, st.sessionID)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return st
}

func postTo(t *testing.T, baseURL, endpoint, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(baseURL+endpoint, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}
