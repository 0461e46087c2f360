// Package provider defines the contract every concrete provider adapter
// implements. Adapters are dumb translators: they convert the normalized
// request into one service's call convention and the raw reply back into
// RawResponse. All cross-provider policy (fallback, retry, normalization,
// evaluation) lives outside this package.
package provider

import (
	"context"
	"iter"

	"github.com/sweetpotato0/omnillm/core"
)

// Descriptor is the static capability metadata for one logical provider.
// The rank fields are relative hints consumed by the resolver: lower is
// cheaper, faster, or better respectively.
type Descriptor struct {
	Name              string `json:"name" yaml:"name"`
	DefaultModel      string `json:"default_model" yaml:"default_model"`
	SupportsTools     bool   `json:"supports_tools" yaml:"supports_tools"`
	SupportsStreaming bool   `json:"supports_streaming" yaml:"supports_streaming"`
	SupportsVision    bool   `json:"supports_vision" yaml:"supports_vision"`
	CostRank          int    `json:"cost_rank" yaml:"cost_rank"`
	LatencyRank       int    `json:"latency_rank" yaml:"latency_rank"`
	QualityRank       int    `json:"quality_rank" yaml:"quality_rank"`
}

// Supports reports whether the descriptor satisfies a capability.
func (d Descriptor) Supports(c core.Capability) bool {
	switch c {
	case core.CapabilityTools:
		return d.SupportsTools
	case core.CapabilityStreaming:
		return d.SupportsStreaming
	case core.CapabilityVision:
		return d.SupportsVision
	default:
		return false
	}
}

// Role is the speaker of one message in an adapter request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of the conversation handed to an adapter. The engine
// uses the message list to feed tool results back for bounded tool rounds;
// adapters only translate it.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`

	// ToolCalls echoes the calls an assistant turn requested, so providers
	// that demand the full exchange history can reconstruct it.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolID links a RoleTool message to the call it answers.
	ToolID string `json:"tool_id,omitempty"`
}

// Request is the normalized adapter input for one synchronous or streaming
// call. Tools are JSON-schema definitions in the OpenAI function shape.
type Request struct {
	Messages    []Message        `json:"messages"`
	Model       string           `json:"model"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int64            `json:"max_tokens,omitempty"`
	Tools       []map[string]any `json:"tools,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// RawUsage keeps the three raw provider accounting shapes apart so the
// normalizer can reconcile them explicitly. A zero field means the provider
// did not report that counter.
type RawUsage struct {
	PromptTokens     int64 `json:"prompt_tokens,omitempty"`
	CompletionTokens int64 `json:"completion_tokens,omitempty"`
	InputTokens      int64 `json:"input_tokens,omitempty"`
	OutputTokens     int64 `json:"output_tokens,omitempty"`
	TotalTokens      int64 `json:"total_tokens,omitempty"`
}

// Empty reports whether no counter was reported at all.
func (u RawUsage) Empty() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 &&
		u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0
}

// RawResponse is the narrow raw surface adapters return from Generate.
// Shape-specific reconciliation happens in the engine's normalizer.
type RawResponse struct {
	Text         string     `json:"text"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	Usage        RawUsage   `json:"usage"`
	Model        string     `json:"model,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// RawChunk is one element of a streamed response. Usage is only set on the
// final chunk, and only when the provider supplies terminal usage mid-stream.
type RawChunk struct {
	Text  string    `json:"text"`
	Final bool      `json:"final"`
	Usage *RawUsage `json:"usage,omitempty"`
}

// Adapter is the provider contract. Implementations must be stateless per
// call so one instance can serve many concurrent requests, and must honor
// ctx deadlines by aborting with a timeout error.
type Adapter interface {
	// Identify returns static capability metadata. Never fails.
	Identify() Descriptor

	// Generate performs one synchronous call. The request's message list is
	// non-empty. Failures are reported as typed *errors.Error values.
	Generate(ctx context.Context, req Request) (*RawResponse, error)

	// Stream produces a lazy, finite, non-restartable chunk sequence with
	// the same constraints as Generate.
	Stream(ctx context.Context, req Request) iter.Seq2[*RawChunk, error]
}

// UserRequest builds the minimal single-turn request most callers need.
func UserRequest(prompt, model string, temperature float64, maxTokens int64) Request {
	return Request{
		Messages:    []Message{{Role: RoleUser, Text: prompt}},
		Model:       model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}
