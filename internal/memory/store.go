// Package memory holds conversation history between requests.
package memory

import (
	"context"
	"errors"
	"fmt"

	"PromptChat/internal/config"
	"PromptChat/internal/session"

	"github.com/redis/go-redis/v9"
)

var ErrUnknownBackend = errors.New("unknown memory backend")

// Store persists the ordered messages of each conversation.
// Implementations are safe for concurrent use.
type Store interface {
	// Messages returns the retained messages of a conversation, oldest first.
	Messages(ctx context.Context, conversationID string) ([]session.Message, error)

	// Append adds messages to the end of a conversation and applies the retention policy.
	Append(ctx context.Context, conversationID string, msgs ...session.Message) error

	// Clear forgets a conversation.
	Clear(ctx context.Context, conversationID string) error

	Close() error
}

// Policy controls how much history a store keeps.
type Policy struct {
	// MaxMessages caps the messages kept per conversation; 0 keeps everything.
	MaxMessages int
}

// keep returns the tail of msgs allowed by the policy.
func (p Policy) keep(msgs []session.Message) []session.Message {
	if p.MaxMessages <= 0 || len(msgs) <= p.MaxMessages {
		return msgs
	}
	return msgs[len(msgs)-p.MaxMessages:]
}

// New opens the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.MemoryConfig) (Store, error) {
	policy := Policy{MaxMessages: cfg.MaxMessages}

	switch cfg.Backend {
	case config.MemoryBackendBuffer, "":
		return NewBuffer(policy), nil
	case config.MemoryBackendSQLite:
		return OpenSQLite(cfg.SQLitePath, policy)
	case config.MemoryBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisStore(client, policy, cfg.RedisTTL), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}
