package config

import (
	"context"
	"iter"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweetpotato0/omnillm/core"
	"github.com/sweetpotato0/omnillm/engine"
	"github.com/sweetpotato0/omnillm/errors"
	"github.com/sweetpotato0/omnillm/provider"
	"github.com/sweetpotato0/omnillm/resolver"
	"github.com/sweetpotato0/omnillm/tool"
)

type failingAdapter struct {
	name  string
	calls int
}

func (a *failingAdapter) Identify() provider.Descriptor {
	return provider.Descriptor{Name: a.name, DefaultModel: a.name + "-1"}
}

func (a *failingAdapter) Generate(ctx context.Context, req provider.Request) (*provider.RawResponse, error) {
	a.calls++
	return nil, errors.NewUpstream(a.name, nil)
}

func (a *failingAdapter) Stream(ctx context.Context, req provider.Request) iter.Seq2[*provider.RawChunk, error] {
	return func(yield func(*provider.RawChunk, error) bool) {}
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsBadEngine(t *testing.T) {
	cfg := Default()
	cfg.Engine.RetryBudget = -1
	cfg.Engine.MaxToolRounds = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.retry_budget")
	assert.Contains(t, err.Error(), "engine.max_tool_rounds")
}

func TestValidateRedisSource(t *testing.T) {
	cfg := Default()
	cfg.Resolver.Source = SourceRedis
	cfg.Resolver.RedisDB = 42

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolver.redis_addr")
	assert.Contains(t, err.Error(), "resolver.redis_db")
	assert.Contains(t, err.Error(), "resolver.redis_key")

	cfg.Resolver.RedisAddr = "localhost:6379"
	cfg.Resolver.RedisDB = 3
	cfg.Resolver.RedisKey = "providers"
	require.NoError(t, cfg.Validate())
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
engine:
  retry_budget: 4
resolver:
  source: file
  file_path: providers.yaml
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Engine.RetryBudget)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.BackoffInterval)
	assert.Equal(t, SourceFile, cfg.Resolver.Source)
	assert.Equal(t, time.Minute, cfg.Resolver.CatalogTTL)
}

func TestLoadRejectsInvalidSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("resolver:\n  source: ldap\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolver.source")
}

func TestValidateRejectsBadRedisAddr(t *testing.T) {
	cfg := Default()
	cfg.Resolver.Source = SourceRedis
	cfg.Resolver.RedisKey = "providers"

	for _, addr := range []string{"localhost", "localhost:notaport", "localhost:70000"} {
		cfg.Resolver.RedisAddr = addr
		err := cfg.Validate()
		require.Error(t, err, addr)
		assert.Contains(t, err.Error(), "resolver.redis_addr")
	}
}

func TestNewSourcePerKind(t *testing.T) {
	cfg := ResolverConfig{Source: SourceStatic, Providers: []provider.Descriptor{{Name: "alpha"}}}
	src, err := cfg.NewSource()
	require.NoError(t, err)
	static, ok := src.(resolver.StaticSource)
	require.True(t, ok)
	require.Len(t, static.Descriptors, 1)
	assert.Equal(t, "alpha", static.Descriptors[0].Name)

	src, err = ResolverConfig{Source: SourceFile, FilePath: "providers.yaml"}.NewSource()
	require.NoError(t, err)
	assert.Equal(t, resolver.FileSource{Path: "providers.yaml"}, src)

	src, err = ResolverConfig{Source: SourceHTTP, HTTPURL: "http://example.test/providers"}.NewSource()
	require.NoError(t, err)
	assert.Equal(t, resolver.HTTPSource{URL: "http://example.test/providers"}, src)

	src, err = ResolverConfig{Source: SourceRedis, RedisAddr: "localhost:6379", RedisKey: "providers"}.NewSource()
	require.NoError(t, err)
	rs, ok := src.(resolver.RedisSource)
	require.True(t, ok)
	assert.Equal(t, "providers", rs.Key)
	assert.NotNil(t, rs.Client)

	_, err = ResolverConfig{Source: "ldap"}.NewSource()
	assert.Error(t, err)
}

func TestNewCatalogServesInlineProviders(t *testing.T) {
	cfg := ResolverConfig{
		Source:     SourceStatic,
		Providers:  []provider.Descriptor{{Name: "alpha", DefaultModel: "alpha-1"}},
		CatalogTTL: time.Minute,
	}
	catalog, err := cfg.NewCatalog()
	require.NoError(t, err)

	desc, ok := catalog.Lookup(context.Background(), "alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha-1", desc.DefaultModel)
}

func TestConfiguredEngineHonorsRetryBudget(t *testing.T) {
	cfg := Default()
	cfg.Engine.RetryBudget = 0
	cfg.Engine.BackoffInterval = time.Millisecond
	cfg.Resolver.Providers = []provider.Descriptor{{Name: "alpha", DefaultModel: "alpha-1"}}

	catalog, err := cfg.Resolver.NewCatalog()
	require.NoError(t, err)
	adapter := &failingAdapter{name: "alpha"}
	res := resolver.New(catalog, append(cfg.Resolver.Options(), resolver.WithAdapter(adapter))...)

	eng := engine.New(res, tool.NewRegistry(), cfg.Engine.Options()...)
	_, err = eng.Generate(context.Background(), &core.GenerationRequest{Provider: "alpha", Input: "hi"}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, adapter.calls, "a zero retry budget allows exactly one attempt")
}
