package detect

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"gatekeeper/metrics"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSnippetCacheSize is used when the configured size is not positive
const DefaultSnippetCacheSize = 1000

// SnippetCache keeps compiled snippets keyed by id and content hash so a changed
// definition under the same id is recompiled rather than served stale.
//
// Thread-Safety: all methods are safe for concurrent use; compiled snippets are immutable.
type SnippetCache struct {
	cache  *lru.Cache[string, *Snippet]
	hits   atomic.Int64
	misses atomic.Int64
}

// SnippetCacheStats is a point in time view of cache activity
type SnippetCacheStats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// NewSnippetCache creates a cache holding at most size compiled snippets
func NewSnippetCache(size int) (*SnippetCache, error) {
	if size <= 0 {
		size = DefaultSnippetCacheSize
	}
	cache, err := lru.NewWithEvict[string, *Snippet](size, func(string, *Snippet) {
		metrics.RecordSnippetCacheEviction()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create snippet cache: %w", err)
	}
	return &SnippetCache{cache: cache}, nil
}

// GetOrCompile returns the compiled snippet for a definition, compiling it on a miss
func (c *SnippetCache) GetOrCompile(cfg map[string]any) (*Snippet, error) {
	key, err := snippetCacheKey(cfg)
	if err != nil {
		return nil, err
	}

	if s, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		metrics.RecordSnippetCacheHit()
		return s, nil
	}

	c.misses.Add(1)
	metrics.RecordSnippetCacheMiss()

	s, err := NewSnippet(cfg)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, s)
	return s, nil
}

// Add stores an already compiled snippet under its definition
func (c *SnippetCache) Add(cfg map[string]any, s *Snippet) error {
	key, err := snippetCacheKey(cfg)
	if err != nil {
		return err
	}
	c.cache.Add(key, s)
	return nil
}

// Len returns the number of cached snippets
func (c *SnippetCache) Len() int {
	return c.cache.Len()
}

// Purge drops every cached snippet
func (c *SnippetCache) Purge() {
	c.cache.Purge()
}

// Stats returns hit and miss counters
func (c *SnippetCache) Stats() SnippetCacheStats {
	return SnippetCacheStats{
		Size:   c.cache.Len(),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}

// snippetCacheKey combines the snippet id with a hash of the full definition.
// encoding/json sorts map keys, so equal definitions hash equally.
func snippetCacheKey(cfg map[string]any) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to hash snippet definition: %w", err)
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%v:%s", cfg["id"], hex.EncodeToString(sum[:])), nil
}
