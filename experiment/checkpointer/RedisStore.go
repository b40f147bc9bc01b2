package checkpointer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore saves checkpoints as Redis string values
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore returns a RedisStore that saves each checkpoint under
// the key prefix+name. A ttl of zero keeps checkpoints forever.
func NewRedisStore(client redis.UniversalClient, prefix string,
	ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Save implements the Store interface
func (r *RedisStore) Save(ctx context.Context, name string,
	data []byte) error {
	if err := r.client.Set(ctx, r.prefix+name, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// Load implements the Store interface
func (r *RedisStore) Load(ctx context.Context, name string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.prefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load: %v: %w", name, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	return data, nil
}
