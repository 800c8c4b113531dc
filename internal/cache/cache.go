// Package cache implements the content-addressed decision cache that
// lets pipeline stages replay prior classifier decisions at zero cost.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrMiss is returned by Store.Get when the key is absent, expired, or
// the stored entry could not be decoded. Callers never see corruption
// as anything other than a miss.
var ErrMiss = errors.New("cache: miss")

// Entry is one stored decision.
type Entry struct {
	Payload   []byte         `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
	TTL       *time.Duration `json:"ttl,omitempty"` // nil = never expires
	Hits      int64          `json:"hits"`
}

func (e Entry) expired(now time.Time) bool {
	return e.TTL != nil && now.After(e.CreatedAt.Add(*e.TTL))
}

// Store is the persistence behind a Cache. Implementations must make
// Get/Put/Delete atomic per key.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, key string, payload []byte, ttl *time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key derives a deterministic cache key from the canonical input parts.
// Identical parts always produce the identical key.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}

// Stats is a snapshot of a cache's hit/miss counters.
type Stats struct {
	Hits   int64
	Misses int64
}

// Cache namespaces a Store for one pipeline stage and collapses
// concurrent computations for the same key into a single in-flight
// call.
type Cache struct {
	store     Store
	namespace string
	ttl       *time.Duration

	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// New returns a Cache over store. Keys are prefixed with the namespace
// so stages never collide and can be invalidated independently. ttl nil
// means entries never expire.
func New(store Store, namespace string, ttl *time.Duration) *Cache {
	return &Cache{store: store, namespace: namespace, ttl: ttl}
}

func (c *Cache) fullKey(key string) string {
	return c.namespace + ":" + key
}

// DoOnce returns the cached payload for key, or computes, stores and
// returns it. valid lets the caller reject a decodable-but-corrupt
// payload; a rejected entry is deleted and recomputed. Under
// concurrency at most one compute runs per key; every other caller
// waits for its result. The bool reports whether the payload came from
// the cache.
func (c *Cache) DoOnce(ctx context.Context, key string, valid func([]byte) bool, compute func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
	full := c.fullKey(key)

	entry, err := c.store.Get(ctx, full)
	if err == nil {
		if valid == nil || valid(entry.Payload) {
			c.hits.Add(1)
			return entry.Payload, true, nil
		}
		// Corrupt entry: treat as a miss and drop it so the
		// recompute overwrites cleanly.
		_ = c.store.Delete(ctx, full)
	} else if !errors.Is(err, ErrMiss) {
		// Store-level read errors also degrade to a miss.
		_ = c.store.Delete(ctx, full)
	}
	c.misses.Add(1)

	payload, err, _ := c.group.Do(full, func() (interface{}, error) {
		// Another caller may have finished while we queued.
		if entry, err := c.store.Get(ctx, full); err == nil {
			if valid == nil || valid(entry.Payload) {
				return entry.Payload, nil
			}
		}
		out, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.store.Put(ctx, full, out, c.ttl); err != nil {
			// A write failure costs us the replay, not the result.
			return out, nil
		}
		return out, nil
	})
	if err != nil {
		return nil, false, err
	}
	return payload.([]byte), false, nil
}

// Invalidate removes a single entry.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, c.fullKey(key))
}

// Stats returns the hit/miss counters accumulated so far.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
