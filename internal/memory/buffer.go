package memory

import (
	"context"
	"sync"

	"PromptChat/internal/session"
)

// Buffer keeps conversations in process memory. History is lost on restart.
type Buffer struct {
	mu            sync.RWMutex
	conversations map[string][]session.Message
	policy        Policy
}

func NewBuffer(policy Policy) *Buffer {
	return &Buffer{
		conversations: make(map[string][]session.Message),
		policy:        policy,
	}
}

func (b *Buffer) Messages(_ context.Context, conversationID string) ([]session.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msgs := b.conversations[conversationID]
	out := make([]session.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (b *Buffer) Append(_ context.Context, conversationID string, msgs ...session.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.policy.keep(append(b.conversations[conversationID], msgs...))
	if len(kept) < cap(kept)/2 {
		// reallocate so trimmed history does not pin the old backing array
		kept = append([]session.Message(nil), kept...)
	}
	b.conversations[conversationID] = kept
	return nil
}

func (b *Buffer) Clear(_ context.Context, conversationID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, conversationID)
	return nil
}

func (b *Buffer) Close() error {
	return nil
}
