// Package imagegen generates images with the OpenAI images API and shrinks
// them to a size that chat clients can inline.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/amoylab/dalle-sse/internal/common/cnst"
	"github.com/amoylab/dalle-sse/internal/common/config"
	"github.com/amoylab/dalle-sse/pkg/trace"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrInvalidAPIKey = errors.New("Invalid API key")
	ErrUsageLimit    = errors.New("Usage limit exceeded")
	ErrNoImage       = errors.New("No image found")
)

// generationsSuffix is stripped from a configured base URL that points at the
// endpoint itself rather than the API root
const generationsSuffix = "/images/generations"

// APIError is any other failure reported by the images API, or a failure to
// reach it at all
type APIError struct {
	// StatusCode is 0 when no response was received
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return "Dalle API error: " + e.Message
}

// Generator creates images from prompts
type Generator struct {
	client openai.Client
	model  openai.ImageModel
	size   openai.ImageGenerateParamsSize
	logger *zap.Logger
}

// NewGenerator creates a Generator. Extra request options are appended after
// the ones derived from cfg.
func NewGenerator(cfg config.OpenAIConfig, logger *zap.Logger, opts ...option.RequestOption) *Generator {
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if base := BaseURL(cfg.BaseURL); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.Timeout))
	}
	reqOpts = append(reqOpts, opts...)

	return &Generator{
		client: openai.NewClient(reqOpts...),
		model:  openai.ImageModel(cfg.Model),
		size:   openai.ImageGenerateParamsSize(cfg.Size),
		logger: logger.Named("imagegen.generator"),
	}
}

// BaseURL turns a configured endpoint into the API root the client expects
func BaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	raw = strings.TrimSuffix(raw, "/")
	raw = strings.TrimSuffix(raw, generationsSuffix)
	return raw + "/"
}

// Generate asks the API for one image and returns its URL
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	scope := trace.Tracer(cnst.TraceImageGen).Start(ctx, "openai.images.generate").
		WithAttrs(attribute.String("openai.model", string(g.model)))
	defer scope.End()

	g.logger.Info("generating image", zap.String("model", string(g.model)), zap.String("size", string(g.size)))
	resp, err := g.client.Images.Generate(scope.Ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          g.model,
		N:              openai.Int(1),
		Size:           g.size,
		ResponseFormat: openai.ImageGenerateParamsResponseFormatURL,
	})
	if err != nil {
		err = classify(err)
		scope.Fail(err)
		g.logger.Warn("image generation failed", zap.Error(err))
		return "", err
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		scope.Fail(ErrNoImage)
		return "", ErrNoImage
	}
	return resp.Data[0].URL, nil
}

func classify(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		// the caller went away, nothing to report to it
		if errors.Is(err, context.Canceled) {
			return err
		}
		// the API was never reached: dns, refused connection, timeout
		return &APIError{Message: err.Error()}
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized:
		return ErrInvalidAPIKey
	case http.StatusTooManyRequests:
		return ErrUsageLimit
	}
	msg := apiErr.Message
	if msg == "" {
		msg = fmt.Sprintf("status %d", apiErr.StatusCode)
	}
	return &APIError{StatusCode: apiErr.StatusCode, Message: msg}
}
