package session

import (
	"context"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultConversationID is the conversation shared by every caller when memory is not scoped per client.
const DefaultConversationID = "default"

// Message represents a single chat message
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Exchange returns the user and assistant messages for one question and its answer.
func Exchange(question, answer string) []Message {
	now := time.Now()
	return []Message{
		{Role: RoleUser, Content: question, Timestamp: now},
		{Role: RoleAssistant, Content: answer, Timestamp: now},
	}
}

// Transcript is a snapshot of a conversation's memory.
type Transcript struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

type conversationKey struct{}

// WithConversation scopes ctx to a conversation.
func WithConversation(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationKey{}, conversationID)
}

// ConversationID returns the conversation ctx is scoped to, or DefaultConversationID.
func ConversationID(ctx context.Context) string {
	if id, ok := ctx.Value(conversationKey{}).(string); ok && id != "" {
		return id
	}
	return DefaultConversationID
}
