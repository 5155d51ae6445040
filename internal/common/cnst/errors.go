package cnst

import "errors"

var (
	// ErrMissingAPIKey is returned when no OpenAI API key is configured
	ErrMissingAPIKey = errors.New("openai api key is required")
	// ErrUnknownBrokerType is returned for an unsupported broker.type
	ErrUnknownBrokerType = errors.New("unknown broker type")
	// ErrDuplicatePath is returned when the stream and message paths collide
	ErrDuplicatePath = errors.New("sse path and message path must differ")
)
