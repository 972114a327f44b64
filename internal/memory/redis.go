package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PromptChat/internal/session"

	"github.com/redis/go-redis/v9"
)

const conversationKeyPrefix = "promptchat:conv:" // list of JSON messages: promptchat:conv:{conversation_id}

// RedisStore keeps each conversation as a Redis list, shared by every replica pointed at the same server.
type RedisStore struct {
	client *redis.Client
	policy Policy
	ttl    time.Duration // 0 never expires
}

func NewRedisStore(client *redis.Client, policy Policy, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		policy: policy,
		ttl:    ttl,
	}
}

func (r *RedisStore) Messages(ctx context.Context, conversationID string) ([]session.Message, error) {
	raw, err := r.client.LRange(ctx, r.key(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	messages := make([]session.Message, 0, len(raw))
	for _, item := range raw {
		var msg session.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (r *RedisStore) Append(ctx context.Context, conversationID string, msgs ...session.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(msgs))
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		values = append(values, data)
	}

	key := r.key(conversationID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	if r.policy.MaxMessages > 0 {
		pipe.LTrim(ctx, key, int64(-r.policy.MaxMessages), -1)
	}
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append messages: %w", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context, conversationID string) error {
	if err := r.client.Del(ctx, r.key(conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) key(conversationID string) string {
	return conversationKeyPrefix + conversationID
}
