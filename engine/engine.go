// Package engine coordinates one generation request end to end: provider
// resolution, tool gathering, the provider call with bounded retry and one
// fallback hop, response normalization, and the optional evaluation pass.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sweetpotato0/omnillm/analytics"
	"github.com/sweetpotato0/omnillm/core"
	"github.com/sweetpotato0/omnillm/errors"
	"github.com/sweetpotato0/omnillm/evaluate"
	"github.com/sweetpotato0/omnillm/pkg/logging"
	"github.com/sweetpotato0/omnillm/pkg/telemetry"
	"github.com/sweetpotato0/omnillm/provider"
	"github.com/sweetpotato0/omnillm/resolver"
	"github.com/sweetpotato0/omnillm/tool"
)

// Defaults for the coordinator's bounded loops.
const (
	DefaultRetryBudget     = 2
	DefaultBackoffInterval = 500 * time.Millisecond
	DefaultMaxToolRounds   = 5
)

// state enumerates the request lifecycle. Transitions are bounded: retry up
// to the budget, at most one fallback hop, at most MaxToolRounds tool
// round-trips. Failed is reachable from every state.
type state int

const (
	stateResolving state = iota
	stateToolGathering
	stateCalling
	stateRetrying
	stateNormalizing
	stateEvaluating
	stateDone
	stateFailed
)

// Engine is the caller-facing façade. One Engine serves many concurrent
// requests; the only shared mutable state lives in the tool registry's
// counters and the resolver's cache, both safe for concurrent use.
type Engine struct {
	resolver     *resolver.Resolver
	registry     *tool.Registry
	orchestrator *tool.Orchestrator
	evaluator    *evaluate.Evaluator
	estimator    *analytics.Estimator

	retryBudget     int
	backoffInterval time.Duration
	maxToolRounds   int

	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithEvaluator enables the secondary evaluation pass.
func WithEvaluator(ev *evaluate.Evaluator) Option {
	return func(e *Engine) { e.evaluator = ev }
}

// WithEstimator enables the analytics block.
func WithEstimator(est *analytics.Estimator) Option {
	return func(e *Engine) { e.estimator = est }
}

// WithRetryBudget bounds retries per provider before the fallback hop.
func WithRetryBudget(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.retryBudget = n
		}
	}
}

// WithBackoffInterval sets the delay between retry attempts.
func WithBackoffInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.backoffInterval = d
		}
	}
}

// WithToolTimeout bounds individual tool executions.
func WithToolTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.orchestrator = tool.NewOrchestrator(e.registry, d)
	}
}

// WithMaxToolRounds bounds model-requested tool round-trips per request.
func WithMaxToolRounds(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxToolRounds = n
		}
	}
}

// New creates an engine over a resolver and a tool registry.
func New(res *resolver.Resolver, registry *tool.Registry, opts ...Option) *Engine {
	e := &Engine{
		resolver:        res,
		registry:        registry,
		orchestrator:    tool.NewOrchestrator(registry, 0),
		retryBudget:     DefaultRetryBudget,
		backoffInterval: DefaultBackoffInterval,
		maxToolRounds:   DefaultMaxToolRounds,
		logger:          logging.WithComponent("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Orchestrator exposes the engine's tool orchestrator so callers can run
// administrative tool pipelines outside a generation.
func (e *Engine) Orchestrator() *tool.Orchestrator { return e.orchestrator }

// flight carries the mutable working set of one request through the state
// machine. It is confined to a single goroutine.
type flight struct {
	req *core.GenerationRequest
	ec  *core.ExecutionContext

	resolution  *resolver.Resolution
	model       string
	schemas     []map[string]any
	available   []string
	messages    []provider.Message
	invocations []core.ToolInvocation

	// retry owns the bounded backoff sequence for the current provider;
	// wait holds the delay its last NextBackOff produced.
	retry backoff.BackOff
	wait  time.Duration

	raw        *provider.RawResponse
	result     *core.GenerationResult
	err        error
	attempts   int
	toolRounds int
	fellBack   bool
	started    time.Time
}

// newRetry builds the per-provider retry sequence: constant intervals,
// stopping after the configured budget.
func (e *Engine) newRetry() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(e.backoffInterval), uint64(e.retryBudget))
}

// Generate runs one request to completion. Callers always receive either a
// complete GenerationResult or a single typed error; partial results are
// never presented as success.
func (e *Engine) Generate(ctx context.Context, req *core.GenerationRequest, ec *core.ExecutionContext) (*core.GenerationResult, error) {
	if req == nil || req.Input == "" {
		return nil, errors.NewInvalidRequest("", "request input cannot be empty")
	}
	if ec == nil {
		ec = core.NewExecutionContext("")
	}
	if !ec.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, ec.Deadline)
		defer cancel()
	}

	tracer := otel.Tracer("omnillm/engine")
	ctx, span := tracer.Start(ctx, "engine.generate")
	span.SetAttributes(
		attribute.String("request.id", ec.RequestID),
		attribute.String("request.provider", req.Provider),
	)

	f := &flight{
		req:      req,
		ec:       ec,
		retry:    e.newRetry(),
		started:  time.Now(),
		messages: []provider.Message{{Role: provider.RoleUser, Text: req.Input}},
	}

	for st := stateResolving; ; {
		switch st {
		case stateResolving:
			st = e.resolve(ctx, f)
		case stateToolGathering:
			st = e.gatherTools(f)
		case stateCalling:
			st = e.call(ctx, f)
		case stateRetrying:
			st = e.backoffOnce(ctx, f)
		case stateNormalizing:
			f.result = normalize(f.raw, f.resolution.Descriptor, f.model, f.invocations, f.available, time.Since(f.started), e.logger)
			if f.req.WithAnalytics && e.estimator != nil {
				f.result.Analytics = e.estimator.Analyze(f.req.Input, f.result.Content, len(f.invocations))
			}
			if f.req.WithEvaluation && e.evaluator != nil {
				st = stateEvaluating
			} else {
				st = stateDone
			}
		case stateEvaluating:
			st = e.evaluatePass(ctx, f)
		case stateDone:
			span.SetAttributes(attribute.String("provider.resolved", f.result.Provider))
			telemetry.End(span, nil)
			return f.result, nil
		case stateFailed:
			telemetry.End(span, f.err)
			return nil, f.err
		}
	}
}

func (e *Engine) resolve(ctx context.Context, f *flight) state {
	res, err := e.resolver.Resolve(ctx, f.req.Provider, f.req.RequireCapabilities)
	if err != nil {
		f.err = err
		return stateFailed
	}
	f.resolution = res
	f.model = res.Model
	if f.req.Model != "" {
		f.model = f.req.Model
	}
	return stateToolGathering
}

func (e *Engine) gatherTools(f *flight) state {
	if !f.req.EnableTools || e.registry == nil || !f.resolution.Descriptor.SupportsTools {
		f.schemas = nil
		f.available = nil
		return stateCalling
	}
	f.schemas = e.registry.ToJSONSchemas()
	f.available = e.registry.Names()
	return stateCalling
}

func (e *Engine) call(ctx context.Context, f *flight) state {
	raw, err := f.resolution.Adapter.Generate(ctx, provider.Request{
		Messages:    f.messages,
		Model:       f.model,
		Temperature: f.req.Temperature,
		MaxTokens:   f.req.MaxTokens,
		Tools:       f.schemas,
	})
	if err != nil {
		return e.classifyFailure(ctx, f, err)
	}

	if len(raw.ToolCalls) > 0 && f.toolRounds < e.maxToolRounds {
		f.toolRounds++
		e.runToolRound(ctx, f, raw)
		return stateCalling
	}

	f.raw = raw
	return stateNormalizing
}

// classifyFailure applies the error taxonomy: non-retryable kinds fail
// immediately, retryable kinds advance the backoff sequence, and timeout or
// an exhausted sequence trigger the single fallback hop.
func (e *Engine) classifyFailure(ctx context.Context, f *flight, err error) state {
	kind := errors.KindOf(err)
	switch kind {
	case errors.KindAuthentication, errors.KindInvalidRequest, errors.KindNoProvider:
		f.err = err
		return stateFailed
	case errors.KindTimeout:
		return e.fallback(ctx, f, err)
	default:
		wait := f.retry.NextBackOff()
		if wait == backoff.Stop {
			return e.fallback(ctx, f, err)
		}
		f.attempts++
		f.wait = wait
		f.err = err
		e.logger.Warn("provider call failed, retrying",
			"provider", f.resolution.Descriptor.Name,
			"attempt", f.attempts, "kind", string(kind), "error", err)
		return stateRetrying
	}
}

// backoffOnce sleeps the delay the retry sequence produced (or the
// provider-suggested retry-after when longer) and loops back to Calling.
func (e *Engine) backoffOnce(ctx context.Context, f *flight) state {
	wait := f.wait
	if ra := errors.RetryAfter(f.err); ra != nil && *ra > wait {
		wait = *ra
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return stateCalling
	case <-ctx.Done():
		f.err = errors.NewTimeout(f.resolution.Descriptor.Name, ctx.Err())
		return stateFailed
	}
}

// fallback performs the single next-best hop after the retry budget is
// spent. One hop only: "available" at resolution time does not guarantee
// success at call time, but an unbounded provider search is worse.
func (e *Engine) fallback(ctx context.Context, f *flight, err error) state {
	failed := f.resolution.Descriptor.Name
	e.resolver.Invalidate(failed)

	if f.fellBack {
		f.err = err
		return stateFailed
	}
	next, resolveErr := e.resolver.NextBest(ctx, f.req.Provider, []string{failed}, f.req.RequireCapabilities)
	if resolveErr != nil {
		f.err = err
		return stateFailed
	}

	e.logger.Warn("falling back to alternative provider",
		"failed", failed, "next", next.Descriptor.Name, "error", err)
	f.fellBack = true
	f.retry.Reset()
	f.attempts = 0
	f.resolution = next
	f.model = next.Model
	if f.req.Model != "" {
		f.model = f.req.Model
	}
	return stateToolGathering
}

// runToolRound executes every call the model requested, strictly via the
// orchestrator, and feeds the results back as conversation turns. Failed
// invocations are reported to the model as error text, never as aborts.
func (e *Engine) runToolRound(ctx context.Context, f *flight, raw *provider.RawResponse) {
	f.messages = append(f.messages, provider.Message{
		Role:      provider.RoleAssistant,
		Text:      raw.Text,
		ToolCalls: raw.ToolCalls,
	})
	for _, call := range raw.ToolCalls {
		inv := e.orchestrator.Invoke(ctx, call.Name, call.Args, f.ec)
		f.invocations = append(f.invocations, inv)

		text := inv.Output
		if !inv.Success {
			text = "tool error: " + inv.Error
		}
		f.messages = append(f.messages, provider.Message{
			Role:   provider.RoleTool,
			Text:   text,
			ToolID: call.ID,
		})
	}
}

// evaluatePass runs the secondary scoring pass. A broken evaluator never
// turns a successful generation into a failure; it degrades to a warning.
func (e *Engine) evaluatePass(ctx context.Context, f *flight) state {
	ev, err := e.evaluator.Evaluate(ctx, f.req.Input, f.result.Content, f.ec)
	if err != nil {
		degraded := errors.New(errors.KindEvaluationDegraded, "", "evaluation pass failed", err)
		e.logger.Warn("evaluation degraded", "error", err)
		f.result.Warnings = append(f.result.Warnings, degraded.Error())
		return stateDone
	}
	f.result.Evaluation = ev
	return stateDone
}

// GenerateStream streams one request, invoking onChunk for each text
// fragment and returning the normalized final result. Usage is only
// populated when the final chunk carries it; tool round-trips are not
// performed during streaming.
func (e *Engine) GenerateStream(ctx context.Context, req *core.GenerationRequest, ec *core.ExecutionContext, onChunk func(string) error) (*core.GenerationResult, error) {
	if req == nil || req.Input == "" {
		return nil, errors.NewInvalidRequest("", "request input cannot be empty")
	}
	if ec == nil {
		ec = core.NewExecutionContext("")
	}
	if !ec.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, ec.Deadline)
		defer cancel()
	}

	caps := append([]core.Capability{core.CapabilityStreaming}, req.RequireCapabilities...)
	res, err := e.resolver.Resolve(ctx, req.Provider, caps)
	if err != nil {
		return nil, err
	}
	model := res.Model
	if req.Model != "" {
		model = req.Model
	}

	started := time.Now()
	var chunks []provider.RawChunk
	for chunk, err := range res.Adapter.Stream(ctx, provider.UserRequest(req.Input, model, req.Temperature, req.MaxTokens)) {
		if err != nil {
			e.resolver.Invalidate(res.Descriptor.Name)
			return nil, err
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, *chunk)
		if chunk.Text != "" && onChunk != nil {
			if cbErr := onChunk(chunk.Text); cbErr != nil {
				return nil, errors.NewInvalidRequest(res.Descriptor.Name, "stream callback aborted: "+cbErr.Error())
			}
		}
	}

	text, usage := foldChunks(chunks)
	raw := &provider.RawResponse{Text: text, Usage: usage}
	result := normalize(raw, res.Descriptor, model, nil, nil, time.Since(started), e.logger)
	if req.WithAnalytics && e.estimator != nil {
		result.Analytics = e.estimator.Analyze(req.Input, result.Content, 0)
	}
	return result, nil
}
