package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// nonCacheable 方法名中包含这些片段的请求不缓存（链头、过滤器、订阅、写操作）
var nonCacheable = []string{"filter", "subscribe", "blocknumber", "send"}

// Cacheable reports whether results of method may be served from the cache.
func Cacheable(method string) bool {
	m := strings.ToLower(method)
	for _, frag := range nonCacheable {
		if strings.Contains(m, frag) {
			return false
		}
	}
	return true
}

// CacheKey hashes (network, method, params) so identical requests on
// different chains never share an entry.
func CacheKey(network, method string, params []any) (string, error) {
	raw, err := json.Marshal(struct {
		Network string `json:"n"`
		Method  string `json:"m"`
		Params  []any  `json:"p"`
	}{network, method, params})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

type cacheEntry struct {
	value      any
	insertedAt time.Time
}

// ResponseCache is a TTL cache of provider responses. Expired entries are
// removed lazily on lookup or by Purge.
type ResponseCache struct {
	ttl     time.Duration
	entries sync.Map // key -> *cacheEntry
	now     func() time.Time
	metrics *Metrics
}

func NewResponseCache(ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		ttl:     ttl,
		now:     time.Now,
		metrics: GetMetrics(),
	}
}

// Get returns the cached value if present and no older than the TTL.
func (c *ResponseCache) Get(network, method string, params []any) (any, bool) {
	if c == nil || c.ttl <= 0 || !Cacheable(method) {
		return nil, false
	}
	key, err := CacheKey(network, method, params)
	if err != nil {
		return nil, false
	}
	v, ok := c.entries.Load(key)
	if !ok {
		c.metrics.RecordCacheLookup("miss")
		return nil, false
	}
	e := v.(*cacheEntry)
	if c.now().Sub(e.insertedAt) > c.ttl {
		// only drop the entry we looked at; a concurrent Set may have replaced it
		c.entries.CompareAndDelete(key, e)
		c.metrics.RecordCacheLookup("expired")
		return nil, false
	}
	c.metrics.RecordCacheLookup("hit")
	return e.value, true
}

// Set stores value unless a newer entry for the same key is already present.
func (c *ResponseCache) Set(network, method string, params []any, value any) {
	if c == nil || c.ttl <= 0 || !Cacheable(method) {
		return
	}
	key, err := CacheKey(network, method, params)
	if err != nil {
		return
	}
	fresh := &cacheEntry{value: value, insertedAt: c.now()}
	for {
		cur, loaded := c.entries.LoadOrStore(key, fresh)
		if !loaded {
			return
		}
		old := cur.(*cacheEntry)
		if old.insertedAt.After(fresh.insertedAt) {
			return
		}
		if c.entries.CompareAndSwap(key, old, fresh) {
			return
		}
	}
}

// Purge drops every expired entry and returns how many were removed.
func (c *ResponseCache) Purge() int {
	removed := 0
	now := c.now()
	c.entries.Range(func(k, v any) bool {
		e := v.(*cacheEntry)
		if now.Sub(e.insertedAt) > c.ttl && c.entries.CompareAndDelete(k, e) {
			removed++
		}
		return true
	})
	return removed
}

// Len counts entries, expired or not.
func (c *ResponseCache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
