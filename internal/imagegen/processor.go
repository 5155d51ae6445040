package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"github.com/amoylab/dalle-sse/internal/common/cnst"
	"github.com/amoylab/dalle-sse/internal/common/config"
	"github.com/amoylab/dalle-sse/pkg/trace"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// MimeType of every processed image
const MimeType = "image/jpeg"

// maxDownloadBytes guards against a hostile image URL
const maxDownloadBytes = 64 << 20

// Image is a processed image ready to be inlined in a tool result
type Image struct {
	URL      string
	MimeType string
	Base64   string
	Quality  int
	Size     int
}

// ProcessError wraps any failure while downloading or re-encoding an image
type ProcessError struct {
	Err error
}

func (e *ProcessError) Error() string {
	return "Process image failed: " + e.Err.Error()
}

func (e *ProcessError) Unwrap() error { return e.Err }

// Processor downloads generated images and re-encodes them under a byte budget
type Processor struct {
	cfg    config.ImageConfig
	client *http.Client
	logger *zap.Logger
}

// NewProcessor creates a Processor with a traced HTTP client
func NewProcessor(cfg config.ImageConfig, logger *zap.Logger) *Processor {
	return &Processor{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.DownloadTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.Named("imagegen.processor"),
	}
}

// Process downloads url and shrinks it
func (p *Processor) Process(ctx context.Context, url string) (*Image, error) {
	scope := trace.Tracer(cnst.TraceImageGen).Start(ctx, "image.process")
	defer scope.End()

	p.logger.Debug("downloading image", zap.String("url", url))
	raw, err := p.download(scope.Ctx, url)
	if err != nil {
		scope.Fail(err)
		return nil, &ProcessError{Err: err}
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		err = fmt.Errorf("decode image: %w", err)
		scope.Fail(err)
		return nil, &ProcessError{Err: err}
	}

	out, quality, err := p.shrink(img)
	if err != nil {
		scope.Fail(err)
		return nil, &ProcessError{Err: err}
	}
	scope.WithAttrs(
		attribute.Int(cnst.AttrImageQuality, quality),
		attribute.Int(cnst.AttrImageOutputBytes, len(out)),
	)
	p.logger.Info("processed image",
		zap.Int("input_bytes", len(raw)),
		zap.Int("output_bytes", len(out)),
		zap.Int("quality", quality))

	return &Image{
		URL:      url,
		MimeType: MimeType,
		Base64:   base64.StdEncoding.EncodeToString(out),
		Quality:  quality,
		Size:     len(out),
	}, nil
}

func (p *Processor) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: unexpected status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
}

// shrink encodes img starting at the configured quality and steps down while
// the output is over budget and the next step stays above the floor.
func (p *Processor) shrink(img image.Image) ([]byte, int, error) {
	step := p.cfg.QualityStep
	if step <= 0 {
		step = 5
	}
	var buf bytes.Buffer
	quality := p.cfg.StartQuality
	for {
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, 0, fmt.Errorf("encode image: %w", err)
		}
		if buf.Len() <= p.cfg.TargetBytes || quality-step <= p.cfg.MinQuality {
			return buf.Bytes(), quality, nil
		}
		quality -= step
	}
}
