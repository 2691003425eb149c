package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is an in-memory Store for development and tests. Expired
// entries are dropped lazily on read.
type MemoryStore struct {
	mu   sync.Mutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) live(e entry, now time.Time) bool {
	return e.expiresAt.IsZero() || e.expiresAt.After(now)
}

// Get returns the value for key, ok=false when absent or expired.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok {
		return "", false, nil
	}
	if !s.live(e, s.nowF()) {
		delete(s.m, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value under key for ttl.
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = s.newEntry(value, ttl)
	return nil
}

// SetNX stores value only if key is absent or expired; returns true if stored.
func (s *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.m[key]; ok && s.live(e, s.nowF()) {
		return false, nil
	}
	s.m[key] = s.newEntry(value, ttl)
	return true, nil
}

// Incr atomically increments the counter at key, stamping ttl on first use.
func (s *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	e, ok := s.m[key]
	if !ok || !s.live(e, now) {
		s.m[key] = s.newEntry("1", ttl)
		return 1, nil
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("incr on non-integer value at %s", key)
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	s.m[key] = e
	return n, nil
}

// Delete removes key; returns true if a live entry existed.
func (s *MemoryStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	delete(s.m, key)
	return ok && s.live(e, s.nowF()), nil
}

// Exists reports whether key is present and unexpired.
func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *MemoryStore) newEntry(value string, ttl time.Duration) entry {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.nowF().Add(ttl)
	}
	return e
}
