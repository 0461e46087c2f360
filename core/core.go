package core

import (
	"time"

	"github.com/google/uuid"
)

// Capability names a feature a provider may or may not support.
type Capability string

const (
	CapabilityTools     Capability = "tools"
	CapabilityStreaming Capability = "streaming"
	CapabilityVision    Capability = "vision"
)

// GenerationRequest is the caller-facing input for one generation.
// It is immutable once constructed; the engine never modifies it.
type GenerationRequest struct {
	// Input is the prompt text. Must be non-empty.
	Input string `json:"input"`

	// Provider selects a provider: an explicit name, "auto", or an alias
	// such as "cheapest" or "fastest". Empty means "auto".
	Provider string `json:"provider,omitempty"`

	// Model overrides the descriptor's default model when set.
	Model string `json:"model,omitempty"`

	// RequireCapabilities restricts alias resolution to providers that
	// support every listed capability.
	RequireCapabilities []Capability `json:"require_capabilities,omitempty"`

	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int64   `json:"max_tokens,omitempty"`

	// EnableTools exposes the registry's tools to the provider.
	EnableTools bool `json:"enable_tools,omitempty"`

	// WithAnalytics attaches an Analytics block to the result.
	WithAnalytics bool `json:"with_analytics,omitempty"`

	// WithEvaluation runs the secondary evaluation pass after generation.
	WithEvaluation bool `json:"with_evaluation,omitempty"`

	// Metadata carries arbitrary caller context (user id, trace ids, ...).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ExecutionContext bundles per-request session metadata. It is created once
// by the engine (or supplied by the caller), shared read-only across every
// tool invocation and provider call of that request, and never mutated by
// two in-flight invocations.
type ExecutionContext struct {
	RequestID   string         `json:"request_id"`
	SessionID   string         `json:"session_id,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	Environment string         `json:"environment,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// Deadline, when non-zero, bounds the whole request. The engine derives
	// a context.Context deadline from it.
	Deadline time.Time `json:"deadline,omitempty"`
}

// NewExecutionContext creates a context with a fresh request id.
func NewExecutionContext(sessionID string) *ExecutionContext {
	return &ExecutionContext{
		RequestID: uuid.NewString(),
		SessionID: sessionID,
	}
}

// Usage is the normalized token accounting for one generation.
//
// Zero InputTokens/OutputTokens with Granular=false means the provider did
// not report granular figures, never that zero tokens were actually used.
// Available=false means the provider reported no usage at all (common for
// streamed calls whose final chunk carried none).
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
	Granular     bool  `json:"granular"`
	Available    bool  `json:"available"`
}

// ToolInvocation records one tool execution performed by the orchestrator.
// Immutable after creation.
type ToolInvocation struct {
	ID        string        `json:"id"`
	Tool      string        `json:"tool"`
	Success   bool          `json:"success"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	InvokedAt time.Time     `json:"invoked_at"`
}

// Severity classifies evaluation outcomes for alerting.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Evaluation is the bounded rubric produced by the secondary evaluation
// pass. All four scores are integers in [1,10].
type Evaluation struct {
	Relevance    int           `json:"relevance"`
	Accuracy     int           `json:"accuracy"`
	Completeness int           `json:"completeness"`
	Overall      int           `json:"overall"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	Latency      time.Duration `json:"latency"`
	Severity     Severity      `json:"severity"`
	Reasoning    string        `json:"reasoning,omitempty"`

	// FallbackUsed is set when the evaluator's response could not be parsed
	// and the neutral fallback scores were substituted.
	FallbackUsed bool `json:"fallback_used,omitempty"`
}

// Analytics carries best-effort, estimated figures. Estimates never feed
// back into Usage; they exist so callers can reason about requests whose
// providers report nothing.
type Analytics struct {
	EstimatedInputTokens  int    `json:"estimated_input_tokens"`
	EstimatedOutputTokens int    `json:"estimated_output_tokens"`
	Estimator             string `json:"estimator"`
	PromptChars           int    `json:"prompt_chars"`
	OutputChars           int    `json:"output_chars"`
	ToolCalls             int    `json:"tool_calls"`
}

// GenerationResult is the single stable output contract. It is created once
// by the normalizer and not mutated afterward.
type GenerationResult struct {
	Content  string        `json:"content"`
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Usage    Usage         `json:"usage"`
	Latency  time.Duration `json:"latency"`

	// ToolInvocations lists every orchestrator record for this request,
	// successful or not. ToolsUsed contains only the names of successful
	// invocations and is always a subset of ToolsAvailable.
	ToolInvocations []ToolInvocation `json:"tool_invocations,omitempty"`
	ToolsUsed       []string         `json:"tools_used,omitempty"`
	ToolsAvailable  []string         `json:"tools_available,omitempty"`

	Analytics  *Analytics  `json:"analytics,omitempty"`
	Evaluation *Evaluation `json:"evaluation,omitempty"`

	// Warnings carries soft degradations (evaluation failure, unverified
	// tool-use claims in the model text) that did not fail the request.
	Warnings []string `json:"warnings,omitempty"`
}
