package presence

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryHash struct {
	fields    map[string][]byte
	expiresAt time.Time
}

// MemoryStore is a process-local Store. Expired keys are dropped lazily the
// next time they are touched.
type MemoryStore struct {
	mu    sync.Mutex
	keys  map[string]*memoryHash
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:  make(map[string]*memoryHash),
		clock: time.Now,
	}
}

// NewMemoryStoreWithClock is used by tests that need to move time forward.
func NewMemoryStoreWithClock(clock func() time.Time) *MemoryStore {
	s := NewMemoryStore()
	s.clock = clock
	return s
}

// get returns the live hash for key. The caller must hold s.mu.
func (s *MemoryStore) get(key string) (*memoryHash, bool) {
	h, ok := s.keys[key]
	if !ok {
		return nil, false
	}

	if !h.expiresAt.IsZero() && !s.clock().Before(h.expiresAt) {
		delete(s.keys, key)
		return nil, false
	}

	return h, true
}

func (s *MemoryStore) HSetTTL(ctx context.Context, key, field string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.get(key)
	if !ok {
		h = &memoryHash{fields: make(map[string][]byte)}
		s.keys[key] = h
	}

	v := make([]byte, len(value))
	copy(v, value)
	h.fields[field] = v
	h.expiresAt = s.clock().Add(ttl)
	return nil
}

func (s *MemoryStore) HDel(ctx context.Context, key, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.get(key)
	if !ok {
		return nil
	}

	delete(h.fields, field)
	if len(h.fields) == 0 {
		delete(s.keys, key)
	}
	return nil
}

func (s *MemoryStore) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]byte)
	h, ok := s.get(key)
	if !ok {
		return out, nil
	}

	for f, v := range h.fields {
		out[f] = append([]byte(nil), v...)
	}
	return out, nil
}

func (s *MemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.keys, k)
	}
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for k := range s.keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if _, ok := s.get(k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}
