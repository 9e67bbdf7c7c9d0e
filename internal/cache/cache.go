// Package cache implements the short-lived safe-tool-result cache (spec.md
// §4.5: "cached tool results optional, ≤ 5 minutes"). The teacher's own
// internal/cache.Cache is an unimplemented stub (NewCache returns nil);
// this is a real implementation backed by hashicorp/golang-lru/v2, keyed
// by (tool name, canonicalized parameters).
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type entry struct {
	value   []byte
	expires time.Time
}

// ToolResultCache memoizes safe-tool results for a bounded TTL window.
type ToolResultCache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, entry]
	ttl time.Duration
}

// New constructs a ToolResultCache holding up to size entries for ttl
// each.
func New(size int, ttl time.Duration) (*ToolResultCache, error) {
	if size <= 0 {
		size = 256
	}
	l, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &ToolResultCache{lru: l, ttl: ttl}, nil
}

// Key canonicalizes a tool name and parameter map into a stable cache key.
func Key(toolName string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make(map[string]any, len(params))
	for _, k := range keys {
		ordered[k] = params[k]
	}
	raw, _ := json.Marshal(ordered)
	sum := sha256.Sum256(append([]byte(toolName+"|"), raw...))
	return toolName + ":" + hex.EncodeToString(sum[:8])
}

// Get returns the cached payload for key if present and not expired.
func (c *ToolResultCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Set stores payload under key with the cache's configured TTL.
func (c *ToolResultCache) Set(key string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry{value: payload, expires: time.Now().Add(c.ttl)})
}

// Invalidate removes a single key, e.g. after a dangerous write to the
// same resource makes a cached read stale.
func (c *ToolResultCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Clear empties the cache.
func (c *ToolResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
