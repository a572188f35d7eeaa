package kvstore

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore implements Store using in-memory storage. Suitable for tests
// and single-process deployments; it does NOT coordinate across workers.
type MemoryStore struct {
	mu      sync.Mutex
	items   map[string]*memoryItem
	stopCh  chan struct{}
	stopped bool

	// now is replaceable in tests.
	now func() time.Time
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
	noExpiry  bool
}

func (i *memoryItem) expired(now time.Time) bool {
	if i.noExpiry {
		return false
	}
	return now.After(i.expiresAt)
}

// NewMemoryStore creates a new in-memory store and starts its cleanup loop.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		items:  make(map[string]*memoryItem),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}

	go s.cleanupLoop()

	return s
}

// cleanupLoop periodically removes expired items.
func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, item := range s.items {
		if item.expired(now) {
			delete(s.items, key)
		}
	}
}

// Stop stops the cleanup goroutine.
func (s *MemoryStore) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopped {
		close(s.stopCh)
		s.stopped = true
	}
}

// Get retrieves a value by key.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key]
	if !ok || item.expired(s.now()) {
		return nil, ErrNotFound
	}

	value := make([]byte, len(item.value))
	copy(value, item.value)
	return value, nil
}

// Set stores a value with an optional TTL.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)

	item := &memoryItem{value: stored}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	} else {
		item.noExpiry = true
	}
	s.items[key] = item
	return nil
}

// Delete removes a value by key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

// IncrBy atomically adds delta to an integer value.
func (s *MemoryStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if item, ok := s.items[key]; ok && !item.expired(s.now()) {
		n, err := strconv.ParseInt(string(item.value), 10, 64)
		if err != nil {
			return 0, err
		}
		current = n
	}

	current += delta
	item := &memoryItem{value: []byte(strconv.FormatInt(current, 10))}
	if prev, ok := s.items[key]; ok && !prev.expired(s.now()) {
		// INCR preserves an existing TTL.
		item.expiresAt = prev.expiresAt
		item.noExpiry = prev.noExpiry
	} else {
		item.noExpiry = true
	}
	s.items[key] = item
	return current, nil
}

// Expire sets or refreshes the TTL for a key.
func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key]
	if !ok || item.expired(s.now()) {
		return nil
	}
	item.expiresAt = s.now().Add(ttl)
	item.noExpiry = false
	return nil
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
