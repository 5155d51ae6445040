package core

import (
	"net/http"

	"github.com/amoylab/dalle-sse/internal/mcp/session"
	"github.com/amoylab/dalle-sse/internal/transport"
	"github.com/amoylab/dalle-sse/pkg/mcp"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleSSE opens a session stream and serves it until the peer leaves or the server shuts down
func (s *Server) handleSSE(c *gin.Context) {
	tr, err := transport.NewSSE(c.Writer, s.cfg.MessagePath, s.broker, s.transportOptions()...)
	if err != nil {
		s.sendProtocolError(c, nil, "Streaming unsupported", http.StatusInternalServerError, mcp.ErrorCodeInternalError)
		return
	}
	logger := s.logger.With(zap.String("session_id", tr.SessionID()))

	if err := s.sessions.Register(tr); err != nil {
		logger.Error("failed to register session", zap.Error(err))
		s.sendProtocolError(c, nil, "Failed to create SSE connection", http.StatusInternalServerError, mcp.ErrorCodeInternalError)
		return
	}
	defer func() { _ = s.sessions.Unregister(tr.SessionID()) }()

	ctx := c.Request.Context()
	if err := tr.Start(ctx); err != nil {
		logger.Warn("failed to start SSE session", zap.Error(err))
		if !tr.HeadersWritten() {
			s.sendProtocolError(c, nil, "Failed to initialize SSE connection", http.StatusServiceUnavailable, mcp.ErrorCodeInternalError)
		}
		return
	}

	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()

	if err := tr.Serve(ctx, s.shutdownCh); err != nil {
		logger.Info("SSE session ended", zap.Error(err))
	}
}

// handleMessage publishes the reply to one inbound message on the session's channel
func (s *Server) handleMessage(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		s.sendProtocolError(c, nil, "Missing sessionId parameter", http.StatusBadRequest, mcp.ErrorCodeInvalidRequest)
		return
	}
	logger := s.logger.With(zap.String("session_id", sessionID))
	ctx := c.Request.Context()

	if s.cfg.RejectUnknownSessions && !s.isLocalSession(sessionID) {
		n, err := s.broker.Subscribers(ctx, session.ChannelFor(sessionID))
		if err != nil {
			logger.Error("failed to look up session", zap.Error(err))
			s.sendProtocolError(c, nil, "Broker unavailable", http.StatusBadGateway, mcp.ErrorCodeInternalError)
			return
		}
		if n == 0 {
			s.sendProtocolError(c, nil, "Session not found", http.StatusNotFound, mcp.ErrorCodeInvalidRequest)
			return
		}
	}

	pub := transport.NewPublisher(sessionID, s.broker, s.transportOptions()...)
	if err := pub.HandleInbound(ctx, c.Request, s.dispatch); err != nil {
		s.sendInboundError(c, logger, err)
		return
	}
	if pub.Receivers() == 0 {
		logger.Debug("reply not delivered to any stream")
	}
	s.sendAcceptedResponse(c)
}

// isLocalSession reports whether this process holds the stream of id,
// which makes the broker lookup unnecessary
func (s *Server) isLocalSession(id string) bool {
	_, err := s.sessions.Get(id)
	return err == nil
}
