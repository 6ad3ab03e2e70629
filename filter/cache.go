package filter

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.mongodb.org/mongo-driver/bson"
)

// Cache memoizes compiled predicates keyed by the canonical bytes of the
// filter document. Tests tend to evaluate the same handful of filters over
// and over; compiling once per distinct filter keeps matching cheap.
type Cache struct {
	cache *ttlcache.Cache[string, *Predicate]
}

// NewCache creates a predicate cache. Entries expire ttl after they are
// compiled; ttl <= 0 disables expiry.
func NewCache(ttl time.Duration) *Cache {
	opts := []ttlcache.Option[string, *Predicate]{
		ttlcache.WithDisableTouchOnHit[string, *Predicate](),
	}
	if ttl > 0 {
		opts = append(opts, ttlcache.WithTTL[string, *Predicate](ttl))
	}
	c := &Cache{cache: ttlcache.New(opts...)}
	go c.cache.Start()
	return c
}

// Compile returns the cached predicate for filter, compiling it on first
// use. Filters that cannot be marshaled are compiled without caching.
func (c *Cache) Compile(filter any) (*Predicate, error) {
	key, ok := cacheKey(filter)
	if !ok {
		return Compile(filter)
	}
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}
	p, err := Compile(filter)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, p, ttlcache.DefaultTTL)
	return p, nil
}

// Stop releases the cache's background expiry goroutine.
func (c *Cache) Stop() {
	c.cache.Stop()
}

func cacheKey(filter any) (string, bool) {
	if filter == nil {
		return "", false
	}
	raw, err := bson.Marshal(filter)
	if err != nil {
		return "", false
	}
	return string(raw), true
}
