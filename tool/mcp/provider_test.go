package mcp

import (
	"context"
	"strings"
	"testing"
)

func TestNewProviderRequiresTransportDetails(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"streamable without endpoint", Config{Transport: TransportStreamable}, "endpoint is required"},
		{"command without command", Config{Transport: TransportCommand}, "command is required"},
		{"unknown transport", Config{Transport: Transport("carrier-pigeon")}, "unsupported transport"},
		// With neither endpoint nor command set, the default transport is
		// streamable and its endpoint check applies.
		{"empty config", Config{}, "endpoint is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewProvider(context.Background(), tc.cfg)
			if err == nil {
				t.Fatalf("expected error for config %+v", tc.cfg)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %q", tc.wantErr, err.Error())
			}
		})
	}
}

func TestUninitializedProviderRejectsTools(t *testing.T) {
	var p *provider
	if _, err := p.Tools(context.Background()); err == nil {
		t.Fatalf("expected error from nil provider")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("closing a nil provider must be a no-op, got %v", err)
	}
}
