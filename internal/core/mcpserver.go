package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/amoylab/dalle-sse/internal/common/cnst"
	"github.com/amoylab/dalle-sse/internal/transport"
	"github.com/amoylab/dalle-sse/pkg/mcp"
	"github.com/amoylab/dalle-sse/pkg/trace"
	"github.com/amoylab/dalle-sse/pkg/version"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func (s *Server) newMCPServer() *mcpserver.MCPServer {
	logger := s.logger.Named("mcp")
	hooks := &mcpserver.Hooks{}
	hooks.AddBeforeAny(func(_ context.Context, id any, method mcpgo.MCPMethod, _ any) {
		logger.Debug("handling request", zap.String("method", string(method)), zap.Any("id", id))
	})
	hooks.AddOnError(func(_ context.Context, id any, method mcpgo.MCPMethod, _ any, err error) {
		logger.Warn("request failed", zap.String("method", string(method)), zap.Any("id", id), zap.Error(err))
	})
	hooks.AddAfterInitialize(func(_ context.Context, _ any, message *mcpgo.InitializeRequest, _ *mcpgo.InitializeResult) {
		logger.Info("client initialized",
			zap.String("client", message.Params.ClientInfo.Name),
			zap.String("client_version", message.Params.ClientInfo.Version),
			zap.String("protocol_version", message.Params.ProtocolVersion))
	})

	srv := mcpserver.NewMCPServer(
		cnst.AppName,
		version.Semver(),
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithHooks(hooks),
	)
	if s.generator != nil && s.processor != nil {
		srv.AddTool(generateImageTool(), s.handleGenerateImage)
	}
	return srv
}

// dispatch is the transport.Handler for inbound messages
func (s *Server) dispatch(ctx context.Context, msg *mcp.Message) (*mcp.Message, error) {
	method := msg.Method
	if method == "" {
		method = msg.Kind()
	}
	start := time.Now()
	defer s.metrics.McpReqDone(method, start)

	scope := trace.Tracer(cnst.TraceCore).Start(ctx, cnst.SpanMCPMethodPrefix+method).
		WithAttrs(attribute.String(cnst.AttrMCPMethod, method))
	defer scope.End()

	if reply := s.precheck(msg); reply != nil {
		scope.Fail(reply.Error)
		return reply, nil
	}

	raw, err := transport.Encode(msg)
	if err != nil {
		scope.Fail(err)
		return nil, err
	}
	resp := s.mcp.HandleMessage(scope.Ctx, raw)
	if resp == nil {
		return nil, nil
	}

	data, err := json.Marshal(resp)
	if err != nil {
		scope.Fail(err)
		return nil, fmt.Errorf("encode reply: %w", err)
	}
	reply, err := transport.Parse(data)
	if err != nil {
		scope.Fail(err)
		return nil, fmt.Errorf("invalid reply to %s: %w", method, err)
	}
	if reply.Error != nil {
		scope.Fail(reply.Error)
	}
	return reply, nil
}

// precheck answers tool calls the protocol handler would reject less precisely
func (s *Server) precheck(msg *mcp.Message) *mcp.Message {
	if msg.Method != mcp.ToolsCall || msg.Kind() != mcp.KindRequest || s.generator == nil {
		return nil
	}
	name := gjson.GetBytes(msg.Params, "name").String()
	if name != toolGenerateImage {
		return mcp.NewErrorResponse(msg.ID, mcp.ErrorCodeMethodNotFound, "Unknown tool: "+name)
	}
	prompt := gjson.GetBytes(msg.Params, "arguments.prompt")
	if prompt.Type != gjson.String || strings.TrimSpace(prompt.Str) == "" {
		return mcp.NewErrorResponse(msg.ID, mcp.ErrorCodeInvalidParams, "Invalid arguments: prompt must be a non-empty string")
	}
	return nil
}
