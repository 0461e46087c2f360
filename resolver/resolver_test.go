package resolver

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweetpotato0/omnillm/core"
	"github.com/sweetpotato0/omnillm/errors"
	"github.com/sweetpotato0/omnillm/provider"
)

// fakeAdapter satisfies the adapter contract for resolution tests; its
// calls are never exercised here.
type fakeAdapter struct {
	desc    provider.Descriptor
	healthy bool
}

func (f *fakeAdapter) Identify() provider.Descriptor { return f.desc }

func (f *fakeAdapter) Generate(ctx context.Context, req provider.Request) (*provider.RawResponse, error) {
	return &provider.RawResponse{Text: "ok"}, nil
}

func (f *fakeAdapter) Stream(ctx context.Context, req provider.Request) iter.Seq2[*provider.RawChunk, error] {
	return func(yield func(*provider.RawChunk, error) bool) {
		yield(&provider.RawChunk{Final: true}, nil)
	}
}

func (f *fakeAdapter) Healthy(ctx context.Context) bool { return f.healthy }

func testDescriptors() []provider.Descriptor {
	return []provider.Descriptor{
		{Name: "alpha", DefaultModel: "alpha-1", SupportsTools: true, SupportsStreaming: true, CostRank: 3, LatencyRank: 2, QualityRank: 1},
		{Name: "beta", DefaultModel: "beta-1", SupportsTools: true, CostRank: 1, LatencyRank: 3, QualityRank: 2},
		{Name: "gamma", DefaultModel: "gamma-1", SupportsStreaming: true, CostRank: 2, LatencyRank: 1, QualityRank: 3},
	}
}

func testResolver(t *testing.T, opts ...Option) *Resolver {
	t.Helper()
	catalog := NewCatalog(StaticSource{Descriptors: testDescriptors()}, time.Minute)
	base := []Option{
		WithAdapter(&fakeAdapter{desc: provider.Descriptor{Name: "alpha"}, healthy: true}),
		WithAdapter(&fakeAdapter{desc: provider.Descriptor{Name: "beta"}, healthy: true}),
		WithAdapter(&fakeAdapter{desc: provider.Descriptor{Name: "gamma"}, healthy: true}),
	}
	return New(catalog, append(base, opts...)...)
}

func TestResolveExplicitName(t *testing.T) {
	r := testResolver(t)

	res, err := r.Resolve(context.Background(), "beta", nil)
	require.NoError(t, err)
	assert.Equal(t, "beta", res.Descriptor.Name)
	assert.Equal(t, "beta-1", res.Model)
}

func TestResolveUnknownExplicitNameNeverFallsBack(t *testing.T) {
	r := testResolver(t)

	_, err := r.Resolve(context.Background(), "delta", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindNoProvider))
}

func TestResolveExplicitCapabilityMismatch(t *testing.T) {
	r := testResolver(t)

	// gamma has no tool support.
	_, err := r.Resolve(context.Background(), "gamma", []core.Capability{core.CapabilityTools})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindNoProvider))
}

func TestResolveAliases(t *testing.T) {
	r := testResolver(t)
	ctx := context.Background()

	for selector, want := range map[string]string{
		AliasAuto:     "alpha",
		AliasBest:     "alpha",
		AliasCheapest: "beta",
		AliasFastest:  "gamma",
	} {
		res, err := r.Resolve(ctx, selector, nil)
		require.NoError(t, err, selector)
		assert.Equal(t, want, res.Descriptor.Name, selector)
	}
}

func TestResolveEmptySelectorMeansAuto(t *testing.T) {
	r := testResolver(t)

	res, err := r.Resolve(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "alpha", res.Descriptor.Name)
}

func TestResolveAliasCapabilityFilter(t *testing.T) {
	r := testResolver(t)

	// cheapest provider overall is beta, but beta cannot stream.
	res, err := r.Resolve(context.Background(), AliasCheapest, []core.Capability{core.CapabilityStreaming})
	require.NoError(t, err)
	assert.Equal(t, "gamma", res.Descriptor.Name)
}

func TestResolveSkipsUnhealthyForAliases(t *testing.T) {
	catalog := NewCatalog(StaticSource{Descriptors: testDescriptors()}, time.Minute)
	r := New(catalog,
		WithAdapter(&fakeAdapter{desc: provider.Descriptor{Name: "alpha"}, healthy: false}),
		WithAdapter(&fakeAdapter{desc: provider.Descriptor{Name: "beta"}, healthy: true}),
		WithAdapter(&fakeAdapter{desc: provider.Descriptor{Name: "gamma"}, healthy: true}),
	)

	res, err := r.Resolve(context.Background(), AliasAuto, nil)
	require.NoError(t, err)
	assert.Equal(t, "beta", res.Descriptor.Name)

	// Health only gates alias ranking; the explicit name still resolves.
	res, err = r.Resolve(context.Background(), "alpha", nil)
	require.NoError(t, err)
	assert.Equal(t, "alpha", res.Descriptor.Name)
}

func TestResolveNoCandidates(t *testing.T) {
	catalog := NewCatalog(StaticSource{Descriptors: testDescriptors()}, time.Minute)
	r := New(catalog) // no adapters registered

	_, err := r.Resolve(context.Background(), AliasAuto, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindNoProvider))
}

func TestNextBestExcludesFailedProvider(t *testing.T) {
	r := testResolver(t)

	res, err := r.NextBest(context.Background(), AliasAuto, []string{"alpha"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "beta", res.Descriptor.Name)

	// Explicit selectors fall back to the auto ranking for the hop.
	res, err = r.NextBest(context.Background(), "alpha", []string{"alpha"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "beta", res.Descriptor.Name)

	_, err = r.NextBest(context.Background(), AliasAuto, []string{"alpha", "beta", "gamma"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindNoProvider))
}

func TestResolveCachesAliasAndInvalidates(t *testing.T) {
	probes := 0
	r := testResolver(t, WithHealthProbe(func(ctx context.Context, a provider.Adapter) bool {
		probes++
		return true
	}), WithCacheTTL(time.Minute))
	ctx := context.Background()

	_, err := r.Resolve(ctx, AliasAuto, nil)
	require.NoError(t, err)
	probesAfterFirst := probes

	_, err = r.Resolve(ctx, AliasAuto, nil)
	require.NoError(t, err)
	assert.Equal(t, probesAfterFirst, probes, "second resolution should hit the cache")

	r.Invalidate("alpha")
	_, err = r.Resolve(ctx, AliasAuto, nil)
	require.NoError(t, err)
	assert.Greater(t, probes, probesAfterFirst, "invalidation should force a ranking pass")
}

func TestCacheKeyOrderIndependent(t *testing.T) {
	a := cacheKey(AliasAuto, []core.Capability{core.CapabilityTools, core.CapabilityStreaming})
	b := cacheKey(AliasAuto, []core.Capability{core.CapabilityStreaming, core.CapabilityTools})
	assert.Equal(t, a, b)
}
