package core

import (
	"context"
	"errors"
	"time"

	"github.com/amoylab/dalle-sse/internal/common/cnst"
	"github.com/amoylab/dalle-sse/internal/imagegen"
	"github.com/amoylab/dalle-sse/pkg/trace"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const toolGenerateImage = "generate_image"

// Tool execution statuses recorded in metrics
const (
	toolStatusSuccess  = "success"
	toolStatusAPIError = "api_error"
	toolStatusError    = "error"
)

// ImageGenerator turns a prompt into an image URL
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ImageProcessor downloads and shrinks a generated image
type ImageProcessor interface {
	Process(ctx context.Context, url string) (*imagegen.Image, error)
}

func generateImageTool() mcpgo.Tool {
	return mcpgo.NewTool(toolGenerateImage,
		mcpgo.WithDescription("Generate an image given a prompt by openai dall-e-3 model."),
		mcpgo.WithString("prompt",
			mcpgo.Description("The prompt to generate an image from"),
			mcpgo.Required(),
		),
	)
}

func (s *Server) handleGenerateImage(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	start := time.Now()
	status := toolStatusSuccess
	defer func() { s.metrics.ToolExecDone(toolGenerateImage, start, status) }()

	scope := trace.Tracer(cnst.TraceCore).Start(ctx, cnst.SpanToolGenerateImage).
		WithAttrs(attribute.String(cnst.AttrMCPTool, toolGenerateImage))
	defer scope.End()

	prompt, _ := request.GetArguments()["prompt"].(string)
	if prompt == "" {
		status = toolStatusError
		return nil, errors.New("prompt is required")
	}

	url, err := s.generator.Generate(scope.Ctx, prompt)
	if err != nil {
		scope.Fail(err)
		var apiErr *imagegen.APIError
		if errors.As(err, &apiErr) {
			status = toolStatusAPIError
			return mcpgo.NewToolResultError(apiErr.Error()), nil
		}
		status = toolStatusError
		return nil, err
	}

	img, err := s.processor.Process(scope.Ctx, url)
	if err != nil {
		scope.Fail(err)
		status = toolStatusError
		return nil, err
	}
	s.logger.Info("image generated",
		zap.Int("bytes", img.Size),
		zap.Int("quality", img.Quality))

	return &mcpgo.CallToolResult{
		Content: []mcpgo.Content{
			mcpgo.NewTextContent(img.URL),
			mcpgo.NewImageContent(img.Base64, img.MimeType),
		},
	}, nil
}
