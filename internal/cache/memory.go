package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem[T any] struct {
	value     T
	expiresAt time.Time
}

// Compile-time interface check.
var _ Cache[struct{}] = (*MemoryCache[struct{}])(nil)

// MemoryCache implements Cache with in-memory storage.
// Expired entries are removed lazily on Get.
// Suitable for single-process use.
type MemoryCache[T any] struct {
	mu    sync.RWMutex
	items map[string]memoryItem[T]
}

// NewMemoryCache creates a new memory cache instance.
func NewMemoryCache[T any]() *MemoryCache[T] {
	return &MemoryCache[T]{
		items: make(map[string]memoryItem[T]),
	}
}

// Get retrieves a value from cache. An expired entry is deleted and
// reported as a miss.
func (m *MemoryCache[T]) Get(ctx context.Context, key string) (T, error) {
	m.mu.RLock()
	item, exists := m.items[key]
	m.mu.RUnlock()

	var zero T
	if !exists {
		return zero, ErrCacheMiss
	}

	if time.Now().After(item.expiresAt) {
		m.mu.Lock()
		// Re-check under the write lock: the entry may have been replaced.
		if cur, ok := m.items[key]; ok && time.Now().After(cur.expiresAt) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		return zero, ErrCacheMiss
	}

	return item.value, nil
}

// Set stores a value in cache with TTL.
func (m *MemoryCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = memoryItem[T]{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}

	return nil
}

// MGet retrieves multiple values from cache.
func (m *MemoryCache[T]) MGet(ctx context.Context, keys []string) (map[string]T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]T, len(keys))
	now := time.Now()

	for _, key := range keys {
		if item, exists := m.items[key]; exists && now.Before(item.expiresAt) {
			result[key] = item.value
		}
	}

	return result, nil
}

// MSet stores multiple values in cache with TTL.
func (m *MemoryCache[T]) MSet(ctx context.Context, values map[string]T, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiresAt := time.Now().Add(ttl)
	for key, value := range values {
		m.items[key] = memoryItem[T]{
			value:     value,
			expiresAt: expiresAt,
		}
	}

	return nil
}

// Delete removes a key from cache.
func (m *MemoryCache[T]) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}

// Clear drops every entry.
func (m *MemoryCache[T]) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string]memoryItem[T])
	return nil
}

// Len reports the number of entries, including any not yet reaped.
func (m *MemoryCache[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.items)
}

// Close cleans up resources.
func (m *MemoryCache[T]) Close() error {
	return m.Clear(context.Background())
}

// Health checks if the cache is healthy (always true for memory cache).
func (m *MemoryCache[T]) Health(ctx context.Context) error {
	return nil
}
