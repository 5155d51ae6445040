package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEnv(t *testing.T) {
	t.Setenv("X_A", "va")
	in := []byte("a: ${X_A:da}\nb: ${X_B:db}")
	out := resolveEnv(in)
	assert.Contains(t, string(out), "a: va")
	assert.Contains(t, string(out), "b: db")
}

func TestLoadConfig_DalleSSE(t *testing.T) {
	tmp := t.TempDir()
	old, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(old) })
	_ = os.Chdir(tmp)

	t.Setenv("X_REDIS", "redis://cache:6380/2")
	yaml := `
pid: ${X_PID:/tmp/dalle.pid}
server:
  port: 8080
  keepalive: 15s
  reject_unknown_sessions: true
broker:
  url: ${X_REDIS:redis://redis:6379}
  channel_buffer: 8
openai:
  api_key: sk-test
image:
  target_bytes: 2048
`
	file := filepath.Join(tmp, "dalle-sse.yaml")
	require.NoError(t, os.WriteFile(file, []byte(yaml), 0o644))

	cfg, path, err := LoadConfig[DalleSSEConfig]("dalle-sse.yaml")
	require.NoError(t, err)
	realFile, _ := filepath.EvalSymlinks(file)
	realPath, _ := filepath.EvalSymlinks(path)
	assert.Equal(t, realFile, realPath)

	assert.Equal(t, "/tmp/dalle.pid", cfg.PID)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.KeepAlive)
	assert.True(t, cfg.Server.RejectUnknownSessions)
	assert.Equal(t, "/sse", cfg.Server.SSEPath)
	assert.Equal(t, "/messages", cfg.Server.MessagePath)
	assert.Equal(t, "redis", cfg.Broker.Type)
	assert.Equal(t, "redis://cache:6380/2", cfg.Broker.URL)
	assert.Equal(t, 8, cfg.Broker.ChannelBuffer)
	assert.Equal(t, "dall-e-3", cfg.OpenAI.Model)
	assert.Equal(t, "1024x1024", cfg.OpenAI.Size)
	assert.Equal(t, 2048, cfg.Image.TargetBytes)
	assert.Equal(t, 80, cfg.Image.StartQuality)
	assert.Equal(t, 5, cfg.Image.QualityStep)
	assert.Equal(t, 10, cfg.Image.MinQuality)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	tmp := t.TempDir()
	old, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(old) })
	_ = os.Chdir(tmp)

	_, _, err := LoadConfig[DalleSSEConfig](filepath.Join(tmp, "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	tmp := t.TempDir()
	old, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(old) })
	_ = os.Chdir(tmp)

	t.Setenv("PORT", "4000")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("OPENAI_API_BASE", "https://example.invalid/v1")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "redis://localhost:6379", cfg.Broker.URL)
	assert.Equal(t, "sk-env", cfg.OpenAI.APIKey)
	assert.Equal(t, "https://example.invalid/v1", cfg.OpenAI.BaseURL)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "/messages", cfg.Server.MessagePath)
}

func TestLoadConfig_ShippedFile(t *testing.T) {
	path, err := filepath.Abs(filepath.Join("..", "..", "..", "configs", "dalle-sse.yaml"))
	require.NoError(t, err)
	t.Setenv("OPENAI_API_KEY", "sk-shipped")
	t.Setenv("PORT", "8081")

	cfg, _, err := LoadConfig[DalleSSEConfig](path)
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "/sse", cfg.Server.SSEPath)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "redis://redis:6379", cfg.Broker.URL)
	assert.Equal(t, "sk-shipped", cfg.OpenAI.APIKey)
	assert.Equal(t, 80, cfg.Image.StartQuality)
	assert.True(t, cfg.Metrics.Enabled)
	assert.NoError(t, cfg.Validate())
}
