package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key or field is absent.
var ErrNotFound = errors.New("not found")

const DefaultPrefix = "ezdl:"

// RedisClient wraps a go-redis client with the key prefix shared by every
// store built on top of it.
type RedisClient struct {
	client *redis.Client
	prefix string
}

// NewRedisClient connects to redisURL. user and password override the ones in
// the URL when set.
func NewRedisClient(ctx context.Context, redisURL, user, password string) (*RedisClient, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if user != "" {
		opts.Username = user
	}
	if password != "" {
		opts.Password = password
	}

	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("Connected to Redis at %s", opts.Addr)
	return NewRedisClientFromClient(client, DefaultPrefix), nil
}

// NewRedisClientFromClient wraps an existing client, typically one pointed at
// miniredis in tests.
func NewRedisClientFromClient(client *redis.Client, prefix string) *RedisClient {
	return &RedisClient{client: client, prefix: prefix}
}

func (r *RedisClient) key(parts ...string) string {
	k := r.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	log.Println("Closing Redis connection...")
	return r.client.Close()
}

func (r *RedisClient) Client() *redis.Client {
	return r.client
}
