// Package settings holds runtime overrides shared by every process through Redis.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const DefaultActiveModelKey = "rag:active_model"

// ModelStore persists the operator-selected generation model.
type ModelStore interface {
	ActiveModel(ctx context.Context) (string, error)
	SetActiveModel(ctx context.Context, model string) error
	ClearActiveModel(ctx context.Context) error
}

type RedisStore struct {
	redis redis.UniversalClient
	key   string
}

func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultActiveModelKey
	}
	return &RedisStore{redis: client, key: key}
}

// ActiveModel returns the override, or "" when none is set.
func (s *RedisStore) ActiveModel(ctx context.Context) (string, error) {
	v, err := s.redis.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read active model: %w", err)
	}
	return v, nil
}

func (s *RedisStore) SetActiveModel(ctx context.Context, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return errors.New("model name must not be empty")
	}
	if err := s.redis.Set(ctx, s.key, model, 0).Err(); err != nil {
		return fmt.Errorf("failed to set active model: %w", err)
	}
	return nil
}

func (s *RedisStore) ClearActiveModel(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear active model: %w", err)
	}
	return nil
}
