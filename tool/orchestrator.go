package tool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sweetpotato0/omnillm/core"
	"github.com/sweetpotato0/omnillm/pkg/logging"
	"github.com/sweetpotato0/omnillm/pkg/telemetry"
)

// DefaultInvokeTimeout bounds a single tool execution when the caller's
// context carries no sooner deadline.
const DefaultInvokeTimeout = 30 * time.Second

// Orchestrator invokes tools from a registry, enforcing argument validation
// and timeouts, and always reporting outcomes as ToolInvocation records.
// Tool failure never escapes as an error because it must not abort the
// enclosing generation.
type Orchestrator struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator over the given registry. A
// non-positive timeout falls back to DefaultInvokeTimeout.
func NewOrchestrator(registry *Registry, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}
	return &Orchestrator{
		registry: registry,
		timeout:  timeout,
		logger:   logging.WithComponent("tool_orchestrator"),
	}
}

// Registry returns the registry this orchestrator dispatches into.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Invoke looks up a tool, validates args against its declared schema, and
// executes it under a bounded timeout. Validation failures are reported
// without running the tool body. The returned record is always well-formed.
func (o *Orchestrator) Invoke(ctx context.Context, name string, args map[string]any, ec *core.ExecutionContext) core.ToolInvocation {
	tracer := otel.Tracer("omnillm/tool")
	ctx, span := tracer.Start(ctx, "tool.invoke")
	span.SetAttributes(attribute.String("tool.name", name))

	inv := core.ToolInvocation{
		ID:        uuid.NewString(),
		Tool:      name,
		InvokedAt: time.Now(),
	}

	t, ok := o.registry.Get(name)
	if !ok {
		inv.Error = fmt.Sprintf("tool %s not found", name)
		inv.Duration = time.Since(inv.InvokedAt)
		o.finish(span, &inv, fmt.Errorf("%s", inv.Error))
		return inv
	}
	if t.Handler == nil {
		inv.Error = fmt.Sprintf("tool %s has no handler", name)
		inv.Duration = time.Since(inv.InvokedAt)
		o.registry.recordInvocation(name, false, inv.Duration)
		o.finish(span, &inv, fmt.Errorf("%s", inv.Error))
		return inv
	}

	if err := o.registry.validate(name, args); err != nil {
		inv.Error = fmt.Sprintf("validation failed: %v", err)
		inv.Duration = time.Since(inv.InvokedAt)
		o.registry.recordInvocation(name, false, inv.Duration)
		o.finish(span, &inv, err)
		return inv
	}

	ctx, cancel := o.boundContext(ctx, ec)
	defer cancel()

	output, err := runHandler(ctx, t.Handler, args)
	inv.Duration = time.Since(inv.InvokedAt)
	if err != nil {
		inv.Error = err.Error()
	} else {
		inv.Success = true
		inv.Output = output
	}

	o.registry.recordInvocation(name, inv.Success, inv.Duration)
	o.finish(span, &inv, err)
	return inv
}

// PipelineStep is one element of an ordered tool chain.
type PipelineStep struct {
	Tool string
	Args map[string]any

	// MustSucceed stops the pipeline early when this step fails.
	MustSucceed bool

	// PrevOutputArg, when set, injects the previous step's output into this
	// step's args under the given key.
	PrevOutputArg string
}

// RunPipeline executes steps strictly sequentially, in order, recording
// every step's result. Only a failed MustSucceed step stops early.
func (o *Orchestrator) RunPipeline(ctx context.Context, steps []PipelineStep, ec *core.ExecutionContext) []core.ToolInvocation {
	results := make([]core.ToolInvocation, 0, len(steps))
	var prevOutput string
	for _, step := range steps {
		args := step.Args
		if step.PrevOutputArg != "" {
			args = make(map[string]any, len(step.Args)+1)
			for k, v := range step.Args {
				args[k] = v
			}
			args[step.PrevOutputArg] = prevOutput
		}
		inv := o.Invoke(ctx, step.Tool, args, ec)
		results = append(results, inv)
		if !inv.Success && step.MustSucceed {
			o.logger.Warn("pipeline stopped on must-succeed failure", "tool", step.Tool, "error", inv.Error)
			break
		}
		if inv.Success {
			prevOutput = inv.Output
		}
	}
	return results
}

// boundContext applies the orchestrator timeout and the execution context
// deadline, whichever is sooner.
func (o *Orchestrator) boundContext(ctx context.Context, ec *core.ExecutionContext) (context.Context, context.CancelFunc) {
	deadline := time.Now().Add(o.timeout)
	if ec != nil && !ec.Deadline.IsZero() && ec.Deadline.Before(deadline) {
		deadline = ec.Deadline
	}
	return context.WithDeadline(ctx, deadline)
}

func (o *Orchestrator) finish(span trace.Span, inv *core.ToolInvocation, err error) {
	span.SetAttributes(attribute.Bool("tool.success", inv.Success))
	telemetry.End(span, err)
	if inv.Success {
		o.logger.Debug("tool invoked", "tool", inv.Tool, "duration_ms", inv.Duration.Milliseconds())
	} else {
		o.logger.Warn("tool invocation failed", "tool", inv.Tool, "error", inv.Error)
	}
}

type handlerResult struct {
	output string
	err    error
}

// runHandler executes the handler in its own goroutine so a handler that
// ignores ctx still cannot block the request past its deadline.
func runHandler(ctx context.Context, h Handler, args map[string]any) (string, error) {
	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerResult{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		out, err := h(ctx, args)
		done <- handlerResult{output: out, err: err}
	}()

	select {
	case res := <-done:
		return res.output, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("tool execution timeout: %w", ctx.Err())
	}
}
