package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MerlijnW70/zodforge-dashboard/internal/domain"
	"github.com/MerlijnW70/zodforge-dashboard/internal/repository"
)

// RedisStateStore implements LoginStateStore backed by Redis.
type RedisStateStore struct {
	client redis.UniversalClient
}

var _ repository.LoginStateStore = (*RedisStateStore)(nil)

// NewRedisStateStore constructs a Redis-backed login state store.
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// Save stores the encoded login state payload with TTL.
func (s *RedisStateStore) Save(ctx context.Context, key string, state domain.LoginState, ttl time.Duration) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal login state: %w", err)
	}
	if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist login state: %w", err)
	}
	return nil
}

// Get loads and decodes the login state. A missing key yields (nil, nil).
func (s *RedisStateStore) Get(ctx context.Context, key string) (*domain.LoginState, error) {
	bytes, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load login state: %w", err)
	}
	var state domain.LoginState
	if err := json.Unmarshal(bytes, &state); err != nil {
		return nil, fmt.Errorf("decode login state: %w", err)
	}
	return &state, nil
}

// Delete removes the persisted state key.
func (s *RedisStateStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("delete login state: %w", err)
	}
	return nil
}
