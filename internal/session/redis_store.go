// Package session remembers realtime events that were already processed, so
// a redelivered event gets the original response instead of a second write.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultReceiptTTL = 15 * time.Minute

// Receipts is implemented by RedisStore and MemoryStore.
type Receipts interface {
	Lookup(ctx context.Context, eventID string) (map[string]any, bool, error)
	Store(ctx context.Context, eventID string, payload map[string]any) error
}

type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultReceiptTTL
	}
	return &RedisStore{client: client, prefix: "writeshare:receipt:", ttl: ttl}
}

func (s *RedisStore) key(eventID string) string {
	return s.prefix + eventID
}

func (s *RedisStore) Lookup(ctx context.Context, eventID string) (map[string]any, bool, error) {
	raw, err := s.client.Get(ctx, s.key(eventID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup receipt: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, false, fmt.Errorf("unmarshal receipt: %w", err)
	}
	return payload, true, nil
}

// Store keeps the first response recorded for an event.
func (s *RedisStore) Store(ctx context.Context, eventID string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	if err := s.client.SetNX(ctx, s.key(eventID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store receipt: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
