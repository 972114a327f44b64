package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"PromptChat/internal/session"
)

// CachedResponse represents a cached model answer
type CachedResponse struct {
	Response  string
	Timestamp time.Time
}

// GenerateCacheKey generates a cache key from messages
func GenerateCacheKey(messages []session.Message) string {
	h := sha256.New()
	for _, msg := range messages {
		h.Write([]byte(msg.Role))
		h.Write([]byte{0})
		h.Write([]byte(msg.Content))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ResponseCache remembers answers for identical transcripts. A zero TTL never expires entries.
type ResponseCache struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time
}

func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{ttl: ttl, now: time.Now}
}

// Load returns the cached answer for key, dropping it if it has expired.
func (c *ResponseCache) Load(key string) (string, bool) {
	val, ok := c.entries.Load(key)
	if !ok {
		return "", false
	}
	cached := val.(CachedResponse)
	if c.ttl > 0 && c.now().Sub(cached.Timestamp) > c.ttl {
		c.entries.Delete(key)
		return "", false
	}
	return cached.Response, true
}

func (c *ResponseCache) Store(key, response string) {
	c.entries.Store(key, CachedResponse{
		Response:  response,
		Timestamp: c.now(),
	})
}
