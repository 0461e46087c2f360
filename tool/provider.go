package tool

import "context"

// Provider supplies tool definitions from an external source (for example a
// remote tool server) so they can be registered like local tools.
type Provider interface {
	// Tools returns the provider's current tool definitions.
	Tools(ctx context.Context) ([]*Tool, error)
	// Close releases resources owned by the provider.
	Close() error
	// ToolsChanged returns a channel that fires when the tool set is
	// updated. Providers without live updates return nil.
	ToolsChanged() <-chan struct{}
}

// RegisterProvider loads a provider's tools into the registry. Each tool is
// registered with replace semantics, so refreshing a provider is safe.
func RegisterProvider(ctx context.Context, r *Registry, p Provider) error {
	tools, err := p.Tools(ctx)
	if err != nil {
		return err
	}
	for _, t := range tools {
		if t == nil || t.Name == "" {
			continue
		}
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
