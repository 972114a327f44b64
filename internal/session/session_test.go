package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversationID(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, DefaultConversationID, ConversationID(ctx))
	assert.Equal(t, "abc", ConversationID(WithConversation(ctx, "abc")))
	assert.Equal(t, DefaultConversationID, ConversationID(WithConversation(ctx, "")))
}

func TestExchange(t *testing.T) {
	msgs := Exchange("q", "a")
	assert.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "q", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "a", msgs[1].Content)
}
