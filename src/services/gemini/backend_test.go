package gemini

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/square-key-labs/strawgo-screener/src/services"
)

func TestToContentsSplitsSystem(t *testing.T) {
	contents, system := toContents(services.NewMessages("be brief",
		services.Message{Role: services.RoleAssistant, Content: "Hello, who is calling?"},
		services.Message{Role: services.RoleUser, Content: "It's Sam."},
	))

	assert.Equal(t, "be brief", system)
	require.Len(t, contents, 2)
	assert.Equal(t, "model", contents[0].Role)
	assert.Equal(t, "Hello, who is calling?", contents[0].Parts[0].Text)
	assert.Equal(t, "user", contents[1].Role)
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}
