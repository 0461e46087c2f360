package resolver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sweetpotato0/omnillm/pkg/logging"
	"github.com/sweetpotato0/omnillm/provider"
)

// DefaultCatalogTTL controls how long a loaded descriptor set is served
// before the source is consulted again.
const DefaultCatalogTTL = time.Minute

// Catalog caches provider descriptors from a Source with a bounded TTL.
// When a refresh fails, the last-known-good snapshot keeps being served so
// a flaky configuration endpoint never takes resolution down.
type Catalog struct {
	source Source
	ttl    time.Duration
	logger *slog.Logger

	mu          sync.RWMutex
	descriptors []provider.Descriptor
	loadedAt    time.Time
}

// NewCatalog creates a catalog over a source. A non-positive ttl falls back
// to DefaultCatalogTTL.
func NewCatalog(source Source, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &Catalog{
		source: source,
		ttl:    ttl,
		logger: logging.WithComponent("provider_catalog"),
	}
}

// Descriptors returns the current descriptor set, refreshing from the
// source when the cached snapshot has expired.
func (c *Catalog) Descriptors(ctx context.Context) []provider.Descriptor {
	c.mu.RLock()
	fresh := time.Since(c.loadedAt) < c.ttl && c.descriptors != nil
	snapshot := c.descriptors
	c.mu.RUnlock()
	if fresh {
		return snapshot
	}

	loaded, err := c.source.Load(ctx)
	if err != nil {
		c.logger.Warn("descriptor refresh failed, serving last-known-good", "error", err)
		c.mu.Lock()
		// Push the next refresh attempt out a full TTL so a broken source
		// is not hammered on every resolution. No deferral when there is no
		// snapshot yet; serving nil for a TTL would be worse than retrying.
		if c.descriptors != nil {
			c.loadedAt = time.Now()
		}
		snapshot = c.descriptors
		c.mu.Unlock()
		return snapshot
	}

	c.mu.Lock()
	c.descriptors = loaded
	c.loadedAt = time.Now()
	c.mu.Unlock()
	return loaded
}

// Lookup finds a descriptor by provider name in the current snapshot.
func (c *Catalog) Lookup(ctx context.Context, name string) (provider.Descriptor, bool) {
	for _, d := range c.Descriptors(ctx) {
		if d.Name == name {
			return d, true
		}
	}
	return provider.Descriptor{}, false
}
