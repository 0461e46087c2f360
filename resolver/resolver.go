package resolver

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/sweetpotato0/omnillm/core"
	"github.com/sweetpotato0/omnillm/errors"
	"github.com/sweetpotato0/omnillm/pkg/logging"
	"github.com/sweetpotato0/omnillm/provider"
)

// Selector aliases understood by Resolve in addition to explicit provider
// names.
const (
	AliasAuto     = "auto"
	AliasBest     = "best"
	AliasCheapest = "cheapest"
	AliasFastest  = "fastest"
)

// DefaultCacheTTL bounds how long a successful alias resolution is reused
// before candidates are ranked again.
const DefaultCacheTTL = 30 * time.Second

// HealthProbe reports whether an adapter is currently usable. Probes should
// be lightweight; they run during alias resolution only.
type HealthProbe func(ctx context.Context, a provider.Adapter) bool

// healthChecker is implemented by adapters that can self-report health.
type healthChecker interface {
	Healthy(ctx context.Context) bool
}

// Resolution is the outcome of resolving a logical selector: one concrete
// adapter plus the model it should serve.
type Resolution struct {
	Adapter    provider.Adapter
	Descriptor provider.Descriptor
	Model      string
}

// Resolver selects a concrete provider adapter from a logical selector:
// an explicit name, "auto", a ranking alias, or a capability filter.
type Resolver struct {
	catalog  *Catalog
	adapters map[string]provider.Adapter
	probe    HealthProbe
	cacheTTL time.Duration
	logger   *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	name    string
	expires time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAdapter registers an adapter under its descriptor name.
func WithAdapter(a provider.Adapter) Option {
	return func(r *Resolver) {
		r.adapters[a.Identify().Name] = a
	}
}

// WithHealthProbe overrides the default health probe.
func WithHealthProbe(p HealthProbe) Option {
	return func(r *Resolver) {
		if p != nil {
			r.probe = p
		}
	}
}

// WithCacheTTL bounds resolution cache entries.
func WithCacheTTL(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.cacheTTL = d
		}
	}
}

// New creates a resolver over a descriptor catalog.
func New(catalog *Catalog, opts ...Option) *Resolver {
	r := &Resolver{
		catalog:  catalog,
		adapters: make(map[string]provider.Adapter),
		probe:    defaultProbe,
		cacheTTL: DefaultCacheTTL,
		cache:    make(map[string]cacheEntry),
		logger:   logging.WithComponent("resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func defaultProbe(ctx context.Context, a provider.Adapter) bool {
	if hc, ok := a.(healthChecker); ok {
		return hc.Healthy(ctx)
	}
	return a != nil
}

// Adapter returns the registered adapter for a provider name.
func (r *Resolver) Adapter(name string) (provider.Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Resolve picks an adapter for the selector. An explicit name must match a
// known descriptor exactly; an unknown explicit name fails with no_provider
// rather than silently falling back to "auto". Alias resolutions are cached
// for the configured TTL.
func (r *Resolver) Resolve(ctx context.Context, selector string, caps []core.Capability) (*Resolution, error) {
	if selector == "" {
		selector = AliasAuto
	}

	if !isAlias(selector) {
		return r.resolveExplicit(ctx, selector, caps)
	}

	key := cacheKey(selector, caps)
	if name, ok := r.cachedName(key); ok {
		if res, err := r.resolveExplicit(ctx, name, nil); err == nil {
			return res, nil
		}
		// Cached provider disappeared from the catalog; fall through to a
		// full ranking pass.
		r.Invalidate(name)
	}

	res, err := r.rank(ctx, selector, caps, nil)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{name: res.Descriptor.Name, expires: time.Now().Add(r.cacheTTL)}
	r.mu.Unlock()
	return res, nil
}

// NextBest resolves a fallback alternative for the selector, excluding the
// providers that already failed. Used by the engine for its single fallback
// hop after the retry budget is exhausted.
func (r *Resolver) NextBest(ctx context.Context, selector string, exclude []string, caps []core.Capability) (*Resolution, error) {
	ranking := selector
	if !isAlias(ranking) {
		ranking = AliasAuto
	}
	return r.rank(ctx, ranking, caps, exclude)
}

// Invalidate drops every cached resolution that points at the named
// provider. Called on real call failure so one failure immediately removes
// the bad choice, not just TTL expiry.
func (r *Resolver) Invalidate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.cache {
		if entry.name == name {
			delete(r.cache, key)
		}
	}
}

func (r *Resolver) resolveExplicit(ctx context.Context, name string, caps []core.Capability) (*Resolution, error) {
	desc, ok := r.catalog.Lookup(ctx, name)
	if !ok {
		return nil, errors.NewNoProvider("unknown provider " + name)
	}
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, errors.NewNoProvider("no adapter registered for provider " + name)
	}
	for _, c := range caps {
		if !desc.Supports(c) {
			return nil, errors.NewNoProvider("provider " + name + " does not support " + string(c))
		}
	}
	return &Resolution{Adapter: adapter, Descriptor: desc, Model: desc.DefaultModel}, nil
}

func (r *Resolver) rank(ctx context.Context, alias string, caps []core.Capability, exclude []string) (*Resolution, error) {
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}

	candidates := lo.Filter(r.catalog.Descriptors(ctx), func(d provider.Descriptor, _ int) bool {
		if excluded[d.Name] {
			return false
		}
		if _, ok := r.adapters[d.Name]; !ok {
			return false
		}
		for _, c := range caps {
			if !d.Supports(c) {
				return false
			}
		}
		return true
	})

	candidates = lo.Filter(candidates, func(d provider.Descriptor, _ int) bool {
		healthy := r.probe(ctx, r.adapters[d.Name])
		if !healthy {
			r.logger.Debug("provider failed health probe", "provider", d.Name)
		}
		return healthy
	})

	if len(candidates) == 0 {
		return nil, errors.NewNoProvider("no provider available for selector " + alias)
	}

	rankOf := rankFunc(alias)
	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := rankOf(candidates[i]), rankOf(candidates[j])
		if ri != rj {
			return ri < rj
		}
		return candidates[i].Name < candidates[j].Name
	})

	top := candidates[0]
	return &Resolution{Adapter: r.adapters[top.Name], Descriptor: top, Model: top.DefaultModel}, nil
}

func (r *Resolver) cachedName(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[key]
	if !ok || time.Now().After(entry.expires) {
		return "", false
	}
	return entry.name, true
}

func isAlias(selector string) bool {
	switch selector {
	case AliasAuto, AliasBest, AliasCheapest, AliasFastest:
		return true
	}
	return false
}

func rankFunc(alias string) func(provider.Descriptor) int {
	switch alias {
	case AliasCheapest:
		return func(d provider.Descriptor) int { return d.CostRank }
	case AliasFastest:
		return func(d provider.Descriptor) int { return d.LatencyRank }
	default:
		// auto and best use the fixed quality ordering.
		return func(d provider.Descriptor) int { return d.QualityRank }
	}
}

func cacheKey(selector string, caps []core.Capability) string {
	key := selector
	sorted := make([]string, 0, len(caps))
	for _, c := range caps {
		sorted = append(sorted, string(c))
	}
	sort.Strings(sorted)
	for _, c := range sorted {
		key += "|" + c
	}
	return key
}
