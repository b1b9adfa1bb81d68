package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// RedisStore is a Store backed by Redis hashes, shared by every instance of
// the service pointed at the same server.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the Redis server at url (redis://host:port/db)
// and verifies the connection.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// HSetTTL runs HSET and EXPIRE in one MULTI/EXEC transaction.
func (s *RedisStore) HSetTTL(ctx context.Context, key, field string, value []byte, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, field, value)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

func (s *RedisStore) HDel(ctx context.Context, key, field string) error {
	return s.client.HDel(ctx, key, field).Err()
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	res, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(res))
	for f, v := range res {
		out[f] = []byte(v)
	}
	return out, nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
