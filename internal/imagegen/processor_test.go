package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amoylab/dalle-sse/internal/common/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testImageConfig() config.ImageConfig {
	return config.ImageConfig{
		TargetBytes:     5 * 1024,
		StartQuality:    80,
		QualityStep:     5,
		MinQuality:      10,
		DownloadTimeout: 5 * time.Second,
	}
}

// noisyPNG is hard to compress, so every quality step matters
func noisyPNG(t *testing.T, size int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func flatPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func serveBytes(t *testing.T, status int, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProcessor_SmallImageKeepsStartQuality(t *testing.T) {
	srv := serveBytes(t, http.StatusOK, flatPNG(t))
	p := NewProcessor(testImageConfig(), zap.NewNop())

	img, err := p.Process(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/a.png", img.URL)
	assert.Equal(t, MimeType, img.MimeType)
	assert.Equal(t, 80, img.Quality)
	assert.LessOrEqual(t, img.Size, 5*1024)

	raw, err := base64.StdEncoding.DecodeString(img.Base64)
	require.NoError(t, err)
	assert.Len(t, raw, img.Size)
	decoded, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 16, decoded.Bounds().Dx())
}

func TestProcessor_LargeImageStopsAtFloor(t *testing.T) {
	srv := serveBytes(t, http.StatusOK, noisyPNG(t, 256))
	p := NewProcessor(testImageConfig(), zap.NewNop())

	img, err := p.Process(context.Background(), srv.URL)
	require.NoError(t, err)
	// random noise never fits 5KiB at 256px, so the loop walks down to the last step above the floor
	assert.Equal(t, 15, img.Quality)
	assert.Greater(t, img.Size, 5*1024)
}

func TestProcessor_Failures(t *testing.T) {
	p := NewProcessor(testImageConfig(), zap.NewNop())

	notFound := serveBytes(t, http.StatusNotFound, nil)
	_, err := p.Process(context.Background(), notFound.URL)
	var perr *ProcessError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, err.Error(), "Process image failed: ")

	garbage := serveBytes(t, http.StatusOK, []byte("definitely not an image"))
	_, err = p.Process(context.Background(), garbage.URL)
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, image.ErrFormat)

	_, err = p.Process(context.Background(), "://bad url")
	require.ErrorAs(t, err, &perr)
}
