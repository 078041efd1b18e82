package schema

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/querypilot/querypilot/internal/observability"
)

type describer interface {
	Describe(ctx context.Context, allowedTables []string) (Descriptor, error)
}

// Cache memoizes schema snapshots per allow-list. Concurrent misses
// for the same key share a single introspection pass.
type Cache struct {
	source  describer
	entries *ttlcache.Cache[string, Descriptor]
	group   singleflight.Group
}

func NewCache(source describer, ttl time.Duration) *Cache {
	entries := ttlcache.New(
		ttlcache.WithTTL[string, Descriptor](ttl),
		ttlcache.WithDisableTouchOnHit[string, Descriptor](),
	)
	go entries.Start()
	return &Cache{source: source, entries: entries}
}

func (c *Cache) Describe(ctx context.Context, allowedTables []string) (Descriptor, error) {
	key := cacheKey(allowedTables)
	if item := c.entries.Get(key); item != nil {
		observability.ObserveSchemaCacheLookup(true)
		return item.Value(), nil
	}
	observability.ObserveSchemaCacheLookup(false)

	value, err, _ := c.group.Do(key, func() (any, error) {
		if item := c.entries.Get(key); item != nil {
			return item.Value(), nil
		}
		descriptor, err := c.source.Describe(ctx, allowedTables)
		if err != nil {
			return Descriptor{}, err
		}
		c.entries.Set(key, descriptor, ttlcache.DefaultTTL)
		return descriptor, nil
	})
	if err != nil {
		return Descriptor{}, err
	}
	return value.(Descriptor), nil
}

// Invalidate drops all cached snapshots, forcing the next Describe to
// hit the database.
func (c *Cache) Invalidate() {
	c.entries.DeleteAll()
}

func (c *Cache) Stop() {
	c.entries.Stop()
}

func cacheKey(allowedTables []string) string {
	if len(allowedTables) == 0 {
		return "*"
	}
	names := make([]string, 0, len(allowedTables))
	for _, table := range allowedTables {
		names = append(names, strings.ToLower(strings.TrimSpace(table)))
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
