package config

import (
	"errors"
	"testing"

	"github.com/amoylab/dalle-sse/internal/common/cnst"
	"github.com/stretchr/testify/assert"
)

func validConfig() *DalleSSEConfig {
	cfg := &DalleSSEConfig{OpenAI: OpenAIConfig{APIKey: "sk"}}
	cfg.SetDefaults()
	return cfg
}

func TestValidationError_ErrorFormats(t *testing.T) {
	e := &ValidationError{Message: "oops", Locations: []Location{{Field: "a"}, {Field: "b"}}}
	s := e.Error()
	assert.Contains(t, s, "oops")
	assert.Contains(t, s, "--> a")
	assert.Contains(t, s, "--> b")
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	t.Run("missing api key", func(t *testing.T) {
		cfg := validConfig()
		cfg.OpenAI.APIKey = ""
		err := cfg.Validate()
		assert.True(t, errors.Is(err, cnst.ErrMissingAPIKey))
	})

	t.Run("duplicate paths", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.MessagePath = "/sse/"
		assert.True(t, errors.Is(cfg.Validate(), cnst.ErrDuplicatePath))
	})

	t.Run("unknown broker", func(t *testing.T) {
		cfg := validConfig()
		cfg.Broker.Type = "kafka"
		assert.True(t, errors.Is(cfg.Validate(), cnst.ErrUnknownBrokerType))
	})

	t.Run("sentinel without master", func(t *testing.T) {
		cfg := validConfig()
		cfg.Broker.ClusterType = cnst.RedisClusterTypeSentinel
		err := cfg.Validate()
		var ve *ValidationError
		assert.True(t, errors.As(err, &ve))
		assert.Contains(t, err.Error(), "broker.master_name")
	})

	t.Run("memory broker", func(t *testing.T) {
		cfg := validConfig()
		cfg.Broker.Type = cnst.BrokerTypeMemory
		cfg.Broker.ClusterType = "ignored"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("bad image settings and port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Image.MinQuality = 90
		cfg.Server.Port = 70000
		err := cfg.Validate()
		assert.Contains(t, err.Error(), "image quality settings out of range")
		assert.Contains(t, err.Error(), "invalid port 70000")
	})
}
