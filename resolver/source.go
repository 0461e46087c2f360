package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/sweetpotato0/omnillm/provider"
)

// Source supplies the current provider descriptor set. Implementations are
// refreshed periodically by the Catalog; transport and format details stay
// behind this interface.
type Source interface {
	Load(ctx context.Context) ([]provider.Descriptor, error)
}

// StaticSource serves a fixed descriptor set. Useful for tests and for
// deployments without an external configuration endpoint.
type StaticSource struct {
	Descriptors []provider.Descriptor
}

func (s StaticSource) Load(ctx context.Context) ([]provider.Descriptor, error) {
	return append([]provider.Descriptor(nil), s.Descriptors...), nil
}

// FileSource reads descriptors from a YAML file of the shape:
//
//	providers:
//	  - name: openai
//	    default_model: gpt-4o-mini
//	    supports_tools: true
type FileSource struct {
	Path string
}

func (s FileSource) Load(ctx context.Context) ([]provider.Descriptor, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor file %s: %w", s.Path, err)
	}
	var doc struct {
		Providers []provider.Descriptor `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse descriptor file %s: %w", s.Path, err)
	}
	return doc.Providers, nil
}

// HTTPSource fetches descriptors from a remote endpoint returning a JSON
// array of descriptors.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func (s HTTPSource) Load(ctx context.Context) ([]provider.Descriptor, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch descriptors from %s: %w", s.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch descriptors from %s: status %s", s.URL, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var descriptors []provider.Descriptor
	if err := json.Unmarshal(body, &descriptors); err != nil {
		return nil, fmt.Errorf("parse descriptors from %s: %w", s.URL, err)
	}
	return descriptors, nil
}

// RedisSource reads a JSON-encoded descriptor array from a Redis key, for
// deployments that publish provider configuration through Redis.
type RedisSource struct {
	Client *redis.Client
	Key    string
}

func (s RedisSource) Load(ctx context.Context) ([]provider.Descriptor, error) {
	if s.Client == nil {
		return nil, fmt.Errorf("redis source: client is nil")
	}
	data, err := s.Client.Get(ctx, s.Key).Bytes()
	if err != nil {
		return nil, fmt.Errorf("redis source: get %s: %w", s.Key, err)
	}
	var descriptors []provider.Descriptor
	if err := json.Unmarshal(data, &descriptors); err != nil {
		return nil, fmt.Errorf("redis source: parse %s: %w", s.Key, err)
	}
	return descriptors, nil
}
