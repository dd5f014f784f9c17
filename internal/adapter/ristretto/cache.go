// Package ristretto implements the cache port over dgraph-io/ristretto.
//
// The only consumer is the membership resolver, so the cache is tuned for
// many small values: serialized role/permission snapshots of a few hundred
// bytes each, admitted by byte cost.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// avgEntryBytes sizes the admission counters. A cached membership snapshot
// (role, status, permission list as JSON) lands around this size.
const avgEntryBytes = 256

// Cache is the in-process access-resolution cache.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a cache bounded to maxCostBytes of stored values.
func New(maxCostBytes int64) (*Cache, error) {
	expected := maxCostBytes / avgEntryBytes
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: expected * 10,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

// Get returns the cached value for key, if present.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores value under key for at most ttl. Admission is best effort;
// a rejected set is not an error, the next resolve just misses.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.c.SetWithTTL(key, value, int64(len(value)), ttl)
	return nil
}

// Delete drops key. Mutations to a membership call this so stale role or
// permission data never outlives a write.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Close releases the cache's internal goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
