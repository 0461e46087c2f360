package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/sweetpotato0/omnillm/pkg/logging"
)

// Parameter defines a tool parameter
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // string, number, boolean, object, array
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// Handler executes a tool with decoded arguments and returns its textual
// result. Handlers must respect ctx cancellation for long operations.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool represents a callable capability: a local function or a remote
// tool-server entry, both exposed through the same shape.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Category    string      `json:"category,omitempty"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// InputSchema returns the JSON-schema object describing the tool's arguments.
func (t *Tool) InputSchema() map[string]any {
	properties := make(map[string]any)
	required := make([]string, 0)

	for _, param := range t.Parameters {
		prop := map[string]any{
			"type":        param.Type,
			"description": param.Description,
		}
		if len(param.Enum) > 0 {
			enum := make([]any, 0, len(param.Enum))
			for _, e := range param.Enum {
				enum = append(enum, e)
			}
			prop["enum"] = enum
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		properties[param.Name] = prop

		if param.Required {
			required = append(required, param.Name)
		}
	}

	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": true,
	}
}

// ToJSONSchema returns the tool definition in the function-call shape LLM
// providers expect.
func (t *Tool) ToJSONSchema() map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.InputSchema(),
		},
	}
}

func (t *Tool) compileSchema() (*jsonschema.Schema, error) {
	// Round-trip through JSON so the compiler sees plain decoded values.
	raw, err := json.Marshal(t.InputSchema())
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	url := "tool:///" + t.Name + ".json"
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// Stats tracks invocation counters for one tool. Counters accumulate for the
// registry's lifetime; this is the only durable state the tool subsystem
// keeps.
type Stats struct {
	Calls         uint64        `json:"calls"`
	Successes     uint64        `json:"successes"`
	Failures      uint64        `json:"failures"`
	TotalDuration time.Duration `json:"total_duration"`
}

type entry struct {
	tool   *Tool
	schema *jsonschema.Schema
	stats  Stats
}

// Registry owns the set of available tools. All operations are safe for
// concurrent use; listing preserves registration order for determinism.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	logger  *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logging.WithComponent("tool_registry"),
	}
}

// Register adds or replaces a tool by name. Re-registering an existing name
// replaces the prior definition (last write wins) and logs the overwrite.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	schema, err := t.compileSchema()
	if err != nil {
		return fmt.Errorf("compile schema for tool %s: %w", t.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prior, exists := r.entries[t.Name]; exists {
		r.logger.Warn("replacing registered tool", "tool", t.Name, "prior_category", prior.tool.Category)
		// Keep accumulated stats across replacement.
		r.entries[t.Name] = &entry{tool: t, schema: schema, stats: prior.stats}
		return nil
	}
	r.entries[t.Name] = &entry{tool: t, schema: schema}
	r.order = append(r.order, t.Name)
	return nil
}

// Unregister removes a tool. Removing an absent name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// List returns all tools in registration order.
func (r *Registry) List() []*Tool {
	return r.ListCategory("")
}

// ListCategory returns tools with the given category tag, in registration
// order. An empty category matches everything.
func (r *Registry) ListCategory(category string) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		if category != "" && e.tool.Category != category {
			continue
		}
		tools = append(tools, e.tool)
	}
	return tools
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// ToJSONSchemas returns every tool in provider function-call shape.
func (r *Registry) ToJSONSchemas() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		schemas = append(schemas, r.entries[name].tool.ToJSONSchema())
	}
	return schemas
}

// StatsFor returns a snapshot of the invocation counters for a tool.
func (r *Registry) StatsFor(name string) (Stats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Stats{}, false
	}
	return e.stats, true
}

// validate checks args against the tool's compiled schema without running
// the handler.
func (r *Registry) validate(name string, args map[string]any) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("tool %s not found", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	return e.schema.Validate(normalizeArgs(args))
}

func (r *Registry) recordInvocation(name string, success bool, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return
	}
	e.stats.Calls++
	if success {
		e.stats.Successes++
	} else {
		e.stats.Failures++
	}
	e.stats.TotalDuration += d
}

// normalizeArgs round-trips args through JSON so the schema validator sees
// canonical decoded values (float64 numbers, []any slices).
func normalizeArgs(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return args
	}
	return out
}

// MarshalJSON exposes the registry as its provider-facing schema list.
func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToJSONSchemas())
}
