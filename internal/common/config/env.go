package config

import (
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// envConfig is the flat environment contract used by container deployments
type envConfig struct {
	Port          int    `env:"PORT,default=3000"`
	RedisURL      string `env:"REDIS_URL,default=redis://redis:6379"`
	OpenAIKey     string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_API_BASE"`
	LogLevel      string `env:"LOG_LEVEL,default=info"`
}

// LoadFromEnv builds a configuration from environment variables only.
// It is used when no configuration file can be found.
func LoadFromEnv() (*DalleSSEConfig, error) {
	_ = godotenv.Load()

	var env envConfig
	if err := envdecode.Decode(&env); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, err
	}

	cfg := &DalleSSEConfig{
		Server: ServerConfig{Port: env.Port},
		Logger: LoggerConfig{Level: env.LogLevel},
		Broker: BrokerConfig{Type: "redis", URL: env.RedisURL},
		OpenAI: OpenAIConfig{APIKey: env.OpenAIKey, BaseURL: env.OpenAIBaseURL},
	}
	cfg.SetDefaults()
	return cfg, nil
}
