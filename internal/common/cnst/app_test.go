package cnst

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppConstants(t *testing.T) {
	assert.Equal(t, "dalle-mcp-sse", AppName)
	assert.Equal(t, "dalle-sse", CommandName)
}
