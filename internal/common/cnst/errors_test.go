package cnst

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorConstants(t *testing.T) {
	assert.Equal(t, "openai api key is required", ErrMissingAPIKey.Error())
	assert.Equal(t, "unknown broker type", ErrUnknownBrokerType.Error())
	assert.Equal(t, "sse path and message path must differ", ErrDuplicatePath.Error())
}
