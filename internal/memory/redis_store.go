package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"ragchat/pkg/domain"
)

// RedisStore keeps conversation history in Redis lists so multiple
// replicas share the same working memory.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore builds a Redis-backed conversation memory store.
func NewRedisStore(addr, password string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: "ragchat:memory:",
	}
}

// History returns the user's conversation history in append order.
func (s *RedisStore) History(ctx context.Context, userID string) ([]domain.ChatMessage, error) {
	raw, err := s.client.LRange(ctx, s.key(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read memory: %w", err)
	}
	msgs := make([]domain.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("decode memory entry: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Append adds turns to the user's history.
func (s *RedisStore) Append(ctx context.Context, userID string, msgs ...domain.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	items := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		raw, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode memory entry: %w", err)
		}
		items = append(items, raw)
	}
	if err := s.client.RPush(ctx, s.key(userID), items...).Err(); err != nil {
		return fmt.Errorf("append memory: %w", err)
	}
	return nil
}

// Clear drops the user's history.
func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("clear memory: %w", err)
	}
	return nil
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + userID
}
