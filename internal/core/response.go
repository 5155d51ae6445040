package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/amoylab/dalle-sse/internal/broker"
	"github.com/amoylab/dalle-sse/internal/transport"
	"github.com/amoylab/dalle-sse/pkg/mcp"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// sendProtocolError sends a protocol-level error response
func (s *Server) sendProtocolError(c *gin.Context, id *mcp.RequestID, message string, statusCode int, bizCode int) {
	c.JSON(statusCode, mcp.NewErrorResponse(id, bizCode, message))
}

// sendAcceptedResponse sends an accepted response
func (s *Server) sendAcceptedResponse(c *gin.Context) {
	c.String(http.StatusAccepted, mcp.Accepted)
}

// sendInboundError maps a failed inbound message to its HTTP status
func (s *Server) sendInboundError(c *gin.Context, logger *zap.Logger, err error) {
	var (
		cte  *transport.ContentTypeError
		mme  *transport.MalformedMessageError
		cerr *broker.ConnectionError
	)
	switch {
	case errors.As(err, &cte):
		logger.Info("rejected message", zap.String("content_type", cte.ContentType), zap.Error(err))
		s.sendProtocolError(c, nil, "Unsupported Media Type: Content-Type must be application/json", http.StatusUnsupportedMediaType, mcp.ErrorCodeInvalidRequest)
	case errors.Is(err, transport.ErrBodyTooLarge):
		logger.Info("rejected message", zap.Error(err))
		s.sendProtocolError(c, nil, "Request body too large", http.StatusRequestEntityTooLarge, mcp.ErrorCodeInvalidRequest)
	case errors.As(err, &mme):
		logger.Info("rejected message", zap.Error(err))
		code, msg := mcp.ErrorCodeInvalidRequest, "Invalid message"
		if isParseError(mme.Err) {
			code, msg = mcp.ErrorCodeParseError, "Parse error"
		}
		s.sendProtocolError(c, nil, msg, http.StatusBadRequest, code)
	case errors.As(err, &cerr), errors.Is(err, broker.ErrClosed):
		logger.Error("failed to publish message", zap.Error(err))
		s.sendProtocolError(c, nil, "Failed to deliver message", http.StatusBadGateway, mcp.ErrorCodeInternalError)
	default:
		logger.Error("failed to handle message", zap.Error(err))
		s.sendProtocolError(c, nil, "Internal error", http.StatusInternalServerError, mcp.ErrorCodeInternalError)
	}
}

func isParseError(err error) bool {
	var syntaxErr *json.SyntaxError
	return errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF)
}
