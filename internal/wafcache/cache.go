// Package wafcache is the Verdict Cache: a Redis-backed key/value store that
// lets the Judge skip the LLM for a fingerprint it has already decided.
package wafcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ppiankov/sentineld/internal/model"
)

// Cache wraps a Redis connection and the verdict TTL. A nil *Cache is never
// used directly — callers hold an *optional* Cache and nil-check, mirroring
// how the Judge treats the cache as a disableable component (cache.enabled).
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New dials Redis and returns a Cache with the given verdict TTL. It does not
// block on connectivity — use Ping to probe availability at bootstrap.
func New(redisURL string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("wafcache: parse redis url: %w", err)
	}
	return &Cache{client: redis.NewClient(opts), ttl: ttl}, nil
}

// verdictKey builds the stable, compatibility-critical cache key schema.
func verdictKey(fingerprint string) string {
	return "verdict:" + fingerprint
}

// Get returns the cached decision for a fingerprint, or ok=false on a miss.
// A Redis error is never returned as fatal to the caller's path — the Judge
// treats any error here as a cache miss and falls through to the LLM.
func (c *Cache) Get(ctx context.Context, fingerprint string) (model.Decision, bool, error) {
	raw, err := c.client.Get(ctx, verdictKey(fingerprint)).Bytes()
	if err == redis.Nil {
		return model.Decision{}, false, nil
	}
	if err != nil {
		return model.Decision{}, false, fmt.Errorf("wafcache: get %s: %w", fingerprint, err)
	}
	var d model.Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return model.Decision{}, false, fmt.Errorf("wafcache: decode verdict %s: %w", fingerprint, err)
	}
	return d, true, nil
}

// Set writes a decision under the configured TTL. Errors are the caller's to
// log; they never affect the decision already returned to the request.
func (c *Cache) Set(ctx context.Context, fingerprint string, decision model.Decision) error {
	raw, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("wafcache: encode verdict %s: %w", fingerprint, err)
	}
	if err := c.client.Set(ctx, verdictKey(fingerprint), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("wafcache: set %s: %w", fingerprint, err)
	}
	return nil
}

// Invalidate deletes a cached verdict, e.g. after a rulebook change makes it
// stale. Not called from the core request path.
func (c *Cache) Invalidate(ctx context.Context, fingerprint string) error {
	if err := c.client.Del(ctx, verdictKey(fingerprint)).Err(); err != nil {
		return fmt.Errorf("wafcache: invalidate %s: %w", fingerprint, err)
	}
	return nil
}

// Ping is a bootstrap-only availability probe.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("wafcache: ping: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
