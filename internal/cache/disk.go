package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-securitas/securitas/internal/storage"
)

// diskItem is the on-disk envelope around a cached value. The expiry
// travels with the file so entries written by one process stay honest in
// another.
type diskItem[T any] struct {
	Value     T         `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Compile-time interface checks.
var (
	_ Cache[struct{}] = (*DiskCache[struct{}])(nil)
	_ Clearer         = (*DiskCache[struct{}])(nil)
)

// DiskCache implements Cache with one JSON file per key under dir.
// Writes are atomic (write to a temp file, then rename), so a crash never
// leaves a torn entry. Expired and unreadable files are deleted lazily on
// Get. Suitable for surviving process restarts.
type DiskCache[T any] struct {
	dir string
}

// NewDiskCache creates a disk cache rooted at dir, creating it if needed.
func NewDiskCache[T any](dir string) (*DiskCache[T], error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return &DiskCache[T]{dir: dir}, nil
}

// Dir returns the cache directory.
func (d *DiskCache[T]) Dir() string {
	return d.dir
}

func (d *DiskCache[T]) path(key string) string {
	return filepath.Join(d.dir, sanitizeKey(key)+".json")
}

// sanitizeKey maps a cache key to a safe filename component.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return '_'
		}
	}, key)
}

// Get retrieves a value from disk. Expired or corrupt files are removed
// and reported as a miss so the cache heals itself.
func (d *DiskCache[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T

	path := d.path(key)
	var item diskItem[T]
	if err := storage.ReadJSON(path, &item); err != nil {
		if os.IsNotExist(err) {
			return zero, ErrCacheMiss
		}
		os.Remove(path)
		return zero, ErrCacheMiss
	}

	if time.Now().After(item.ExpiresAt) {
		os.Remove(path)
		return zero, ErrCacheMiss
	}

	return item.Value, nil
}

// Set stores a value on disk with TTL.
func (d *DiskCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	item := diskItem[T]{
		Value:     value,
		ExpiresAt: time.Now().Add(ttl),
	}
	if err := storage.WriteJSON(d.path(key), item); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// MGet retrieves multiple values from disk.
func (d *DiskCache[T]) MGet(ctx context.Context, keys []string) (map[string]T, error) {
	result := make(map[string]T, len(keys))
	for _, key := range keys {
		value, err := d.Get(ctx, key)
		if err != nil {
			continue
		}
		result[key] = value
	}
	return result, nil
}

// MSet stores multiple values on disk with TTL.
func (d *DiskCache[T]) MSet(ctx context.Context, values map[string]T, ttl time.Duration) error {
	for key, value := range values {
		if err := d.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a key from disk.
func (d *DiskCache[T]) Delete(ctx context.Context, key string) error {
	if err := os.Remove(d.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Clear removes every cache file in the directory, including entries
// written under session tokens the caller no longer holds.
func (d *DiskCache[T]) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		os.Remove(filepath.Join(d.dir, entry.Name()))
	}
	return nil
}

// Close is a no-op for the disk cache.
func (d *DiskCache[T]) Close() error {
	return nil
}

// Health checks that the cache directory is still usable.
func (d *DiskCache[T]) Health(ctx context.Context) error {
	if err := os.MkdirAll(d.dir, 0700); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}
