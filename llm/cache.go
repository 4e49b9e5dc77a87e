package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recentMessagesCacheTTL     = 30 * time.Second
	recentMessagesCacheTimeout = 300 * time.Millisecond
)

// messageCache caches a user's recent chat turns so history reads skip the
// database on the hot path.
type messageCache struct {
	client *redis.Client
}

func newMessageCache(client *redis.Client) *messageCache {
	if client == nil {
		return nil
	}
	return &messageCache{client: client}
}

func (m *messageCache) cacheContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), recentMessagesCacheTimeout)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= recentMessagesCacheTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, recentMessagesCacheTimeout)
}

func (m *messageCache) key(userID string) string {
	if m == nil || m.client == nil || userID == "" {
		return ""
	}
	return fmt.Sprintf("llm:recent:%s", userID)
}

func (m *messageCache) get(ctx context.Context, userID string) ([]Message, error) {
	if m == nil || m.client == nil {
		return nil, redis.Nil
	}
	key := m.key(userID)
	if key == "" {
		return nil, redis.Nil
	}

	ctx, cancel := m.cacheContext(ctx)
	defer cancel()

	raw, err := m.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}

	var messages []Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (m *messageCache) set(ctx context.Context, userID string, messages []Message) {
	if m == nil || m.client == nil {
		return
	}
	key := m.key(userID)
	if key == "" {
		return
	}

	raw, err := json.Marshal(messages)
	if err != nil {
		log.Printf("llm: marshal recent messages cache: %v", err)
		return
	}

	ctx, cancel := m.cacheContext(ctx)
	defer cancel()

	if err := m.client.Set(ctx, key, raw, recentMessagesCacheTTL).Err(); err != nil {
		log.Printf("llm: write recent messages cache: %v", err)
	}
}

func (m *messageCache) invalidate(ctx context.Context, userID string) {
	if m == nil || m.client == nil {
		return
	}
	key := m.key(userID)
	if key == "" {
		return
	}

	ctx, cancel := m.cacheContext(ctx)
	defer cancel()

	if err := m.client.Del(ctx, key).Err(); err != nil && err != redis.Nil {
		log.Printf("llm: invalidate recent messages cache: %v", err)
	}
}
