package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NamingStore maps agent names to the network endpoint serving them. The
// object-broker binding binds on subscribe and resolves on send.
type NamingStore struct {
	redis *RedisClient
	ttl   time.Duration
}

// NewNamingStore creates a naming store. A positive ttl makes bindings expire
// unless refreshed by binding again.
func NewNamingStore(r *RedisClient, ttl time.Duration) *NamingStore {
	return &NamingStore{redis: r, ttl: ttl}
}

func (s *NamingStore) Bind(ctx context.Context, name, endpoint string) error {
	if err := s.redis.client.Set(ctx, s.redis.key("naming", name), endpoint, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to bind %s: %w", name, err)
	}
	return nil
}

func (s *NamingStore) Resolve(ctx context.Context, name string) (string, error) {
	endpoint, err := s.redis.client.Get(ctx, s.redis.key("naming", name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", name, err)
	}
	return endpoint, nil
}

// Unbind removes name only while it still points at endpoint, so a stale
// process cannot drop the binding of the one that replaced it.
func (s *NamingStore) Unbind(ctx context.Context, name, endpoint string) error {
	key := s.redis.key("naming", name)
	err := s.redis.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if current != endpoint {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("failed to unbind %s: %w", name, err)
	}
	return nil
}
