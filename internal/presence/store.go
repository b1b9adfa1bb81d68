package presence

import (
	"context"
	"time"
)

// Store is a shared key/value store of hashes whose keys can expire. The
// registry treats it as a byte-addressable map and nothing more.
type Store interface {
	// HSetTTL writes field and sets the key to expire ttl from now, as one
	// step: either both apply or neither does.
	HSetTTL(ctx context.Context, key, field string, value []byte, ttl time.Duration) error
	HDel(ctx context.Context, key, field string) error
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	Del(ctx context.Context, keys ...string) error
	// Keys returns every live key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
