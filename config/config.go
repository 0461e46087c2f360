// Package config holds the runtime configuration for the generation engine
// and the provider catalog, plus the validation helpers used across the
// project.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/sweetpotato0/omnillm/engine"
	"github.com/sweetpotato0/omnillm/provider"
	"github.com/sweetpotato0/omnillm/resolver"
)

// Catalog source kinds.
const (
	SourceStatic = "static"
	SourceFile   = "file"
	SourceHTTP   = "http"
	SourceRedis  = "redis"
)

// EngineConfig bounds the generation coordinator's loops.
type EngineConfig struct {
	RetryBudget     int           `yaml:"retry_budget"`
	BackoffInterval time.Duration `yaml:"backoff_interval"`
	ToolTimeout     time.Duration `yaml:"tool_timeout"`
	MaxToolRounds   int           `yaml:"max_tool_rounds"`
}

// ResolverConfig controls the descriptor source, catalog refresh, and
// resolution caching. Providers holds inline descriptors for the static
// source kind.
type ResolverConfig struct {
	Source     string                `yaml:"source"`
	Providers  []provider.Descriptor `yaml:"providers"`
	FilePath   string                `yaml:"file_path"`
	HTTPURL    string                `yaml:"http_url"`
	RedisAddr  string                `yaml:"redis_addr"`
	RedisDB    int                   `yaml:"redis_db"`
	RedisKey   string                `yaml:"redis_key"`
	CatalogTTL time.Duration         `yaml:"catalog_ttl"`
	CacheTTL   time.Duration         `yaml:"cache_ttl"`
}

// Config is the top-level configuration document.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Resolver ResolverConfig `yaml:"resolver"`
}

// Default returns a configuration with the engine and resolver defaults
// filled in, using a static catalog source.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			RetryBudget:     2,
			BackoffInterval: 500 * time.Millisecond,
			ToolTimeout:     30 * time.Second,
			MaxToolRounds:   5,
		},
		Resolver: ResolverConfig{
			Source:     SourceStatic,
			CatalogTTL: time.Minute,
			CacheTTL:   30 * time.Second,
		},
	}
}

// Load reads a YAML configuration file, applying defaults for absent fields.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	v := NewValidator()

	if c.Engine.RetryBudget < 0 {
		v.errors = append(v.errors, ValidationError{
			Field:   "engine.retry_budget",
			Message: "value cannot be negative",
		})
	}
	v.ValidatePositiveDuration("engine.backoff_interval", c.Engine.BackoffInterval)
	v.ValidatePositiveDuration("engine.tool_timeout", c.Engine.ToolTimeout)
	v.RequirePositive("engine.max_tool_rounds", c.Engine.MaxToolRounds)

	v.ValidateOneOf("resolver.source", c.Resolver.Source,
		SourceStatic, SourceFile, SourceHTTP, SourceRedis)
	v.ValidatePositiveDuration("resolver.catalog_ttl", c.Resolver.CatalogTTL)
	v.ValidatePositiveDuration("resolver.cache_ttl", c.Resolver.CacheTTL)

	switch c.Resolver.Source {
	case SourceFile:
		v.RequireNonEmpty("resolver.file_path", c.Resolver.FilePath)
	case SourceHTTP:
		v.RequireNonEmpty("resolver.http_url", c.Resolver.HTTPURL)
	case SourceRedis:
		v.RequireNonEmpty("resolver.redis_addr", c.Resolver.RedisAddr)
		if c.Resolver.RedisAddr != "" {
			validateHostPort(v, "resolver.redis_addr", c.Resolver.RedisAddr)
		}
		v.ValidateDBNumber("resolver.redis_db", c.Resolver.RedisDB)
		v.RequireNonEmpty("resolver.redis_key", c.Resolver.RedisKey)
	}

	return v.Error()
}

func validateHostPort(v *Validator, field, addr string) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		v.errors = append(v.errors, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("value must be host:port, got %q", addr),
		})
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		v.errors = append(v.errors, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("port must be numeric, got %q", portStr),
		})
		return
	}
	v.ValidatePort(field, port)
}

// Options converts the engine section into coordinator options.
func (c EngineConfig) Options() []engine.Option {
	return []engine.Option{
		engine.WithRetryBudget(c.RetryBudget),
		engine.WithBackoffInterval(c.BackoffInterval),
		engine.WithToolTimeout(c.ToolTimeout),
		engine.WithMaxToolRounds(c.MaxToolRounds),
	}
}

// Options converts the resolver section into resolver options.
func (c ResolverConfig) Options() []resolver.Option {
	return []resolver.Option{resolver.WithCacheTTL(c.CacheTTL)}
}

// NewSource builds the descriptor source this section selects.
func (c ResolverConfig) NewSource() (resolver.Source, error) {
	switch c.Source {
	case SourceStatic, "":
		return resolver.StaticSource{Descriptors: c.Providers}, nil
	case SourceFile:
		return resolver.FileSource{Path: c.FilePath}, nil
	case SourceHTTP:
		return resolver.HTTPSource{URL: c.HTTPURL}, nil
	case SourceRedis:
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr, DB: c.RedisDB})
		return resolver.RedisSource{Client: client, Key: c.RedisKey}, nil
	default:
		return nil, fmt.Errorf("config: unknown resolver source %q", c.Source)
	}
}

// NewCatalog builds a descriptor catalog over the configured source.
func (c ResolverConfig) NewCatalog() (*resolver.Catalog, error) {
	src, err := c.NewSource()
	if err != nil {
		return nil, err
	}
	return resolver.NewCatalog(src, c.CatalogTTL), nil
}
