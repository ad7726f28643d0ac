// Package cache provides a bounded LRU that loads values on miss, coalescing concurrent loads
// of the same key into one call.
package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// LoadFunc produces the value for a key on a cache miss.
type LoadFunc[V any] func(ctx context.Context, key string) (V, error)

// Loader is an LRU of loaded values. Failed loads are not cached.
type Loader[V any] struct {
	lru   *lru.Cache[string, V]
	group singleflight.Group
}

// NewLoader creates a Loader holding at most size entries.
func NewLoader[V any](size int) (*Loader[V], error) {
	c, err := lru.New[string, V](size)
	if err != nil {
		return nil, err
	}

	return &Loader[V]{lru: c}, nil
}

// Get returns the cached value for key, or runs load once for all concurrent callers that
// missed. hit reports whether the value was already cached.
func (l *Loader[V]) Get(ctx context.Context, key string, load LoadFunc[V]) (v V, hit bool, err error) {
	if cached, ok := l.lru.Get(key); ok {
		return cached, true, nil
	}

	res, err, _ := l.group.Do(key, func() (any, error) {
		loaded, loadErr := load(ctx, key)
		if loadErr != nil {
			return nil, loadErr
		}

		l.lru.Add(key, loaded)

		return loaded, nil
	})
	if err != nil {
		return v, false, err
	}

	return res.(V), false, nil
}

// Forget drops key from the cache.
func (l *Loader[V]) Forget(key string) {
	l.lru.Remove(key)
}

// Len returns the number of cached entries.
func (l *Loader[V]) Len() int {
	return l.lru.Len()
}
