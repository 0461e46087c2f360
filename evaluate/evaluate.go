// Package evaluate runs the optional secondary pass that scores a generated
// response against a fixed rubric. The judging model is an untrusted
// collaborator: its output is always possibly malformed, and a parse
// failure degrades to neutral fallback scores instead of an error.
package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sweetpotato0/omnillm/core"
	"github.com/sweetpotato0/omnillm/pkg/logging"
	"github.com/sweetpotato0/omnillm/provider"
	"github.com/sweetpotato0/omnillm/resolver"
)

// FallbackScore is substituted for all four rubric scores when the judge's
// response cannot be parsed.
const FallbackScore = 5

const rubricPrompt = `You are a strict evaluator. Score the ASSISTANT RESPONSE against the USER REQUEST on four criteria, each an integer from 1 to 10.

Reply with a single JSON object and nothing else:
{"relevance": <1-10>, "accuracy": <1-10>, "completeness": <1-10>, "overall": <1-10>, "reasoning": "<one short paragraph>"}

USER REQUEST:
%s

ASSISTANT RESPONSE:
%s`

// Evaluator scores responses using any available provider adapter, which
// may differ from the provider that produced the primary generation.
type Evaluator struct {
	resolver *resolver.Resolver
	selector string
	logger   *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithSelector picks the judging provider (explicit name or alias).
func WithSelector(selector string) Option {
	return func(e *Evaluator) {
		if selector != "" {
			e.selector = selector
		}
	}
}

// New creates an evaluator that resolves its judge through the resolver.
func New(res *resolver.Resolver, opts ...Option) *Evaluator {
	e := &Evaluator{
		resolver: res,
		selector: resolver.AliasAuto,
		logger:   logging.WithComponent("evaluator"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate scores generated against original. All scores are clamped into
// [1,10]. An unparsable judge response yields FallbackScore everywhere plus
// FallbackUsed=true; only resolution or transport failures return an error.
func (e *Evaluator) Evaluate(ctx context.Context, original, generated string, ec *core.ExecutionContext) (*core.Evaluation, error) {
	res, err := e.resolver.Resolve(ctx, e.selector, nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	prompt := fmt.Sprintf(rubricPrompt, original, generated)
	raw, err := res.Adapter.Generate(ctx, provider.UserRequest(prompt, res.Model, 0, 512))
	if err != nil {
		return nil, err
	}

	ev := parseScores(raw.Text)
	ev.Provider = res.Descriptor.Name
	ev.Model = res.Model
	ev.Latency = time.Since(start)
	ev.Severity = severityFor(ev.Overall)
	if ev.FallbackUsed {
		e.logger.Warn("evaluator response unparsable, using fallback scores", "provider", ev.Provider)
	}
	return ev, nil
}

var scorePattern = regexp.MustCompile(`\b(10|[1-9])\b`)

// parseScores extracts the four rubric scores. JSON is tried first; a bare
// sequence of four integers is accepted as a fallback before giving up.
func parseScores(text string) *core.Evaluation {
	var doc struct {
		Relevance    int    `json:"relevance"`
		Accuracy     int    `json:"accuracy"`
		Completeness int    `json:"completeness"`
		Overall      int    `json:"overall"`
		Reasoning    string `json:"reasoning"`
	}

	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &doc); err == nil && doc.Relevance != 0 {
			return &core.Evaluation{
				Relevance:    clamp(doc.Relevance),
				Accuracy:     clamp(doc.Accuracy),
				Completeness: clamp(doc.Completeness),
				Overall:      clamp(doc.Overall),
				Reasoning:    doc.Reasoning,
			}
		}
	}

	if matches := scorePattern.FindAllString(text, 4); len(matches) == 4 {
		nums := make([]int, 4)
		for i, m := range matches {
			nums[i], _ = strconv.Atoi(m)
		}
		return &core.Evaluation{
			Relevance:    clamp(nums[0]),
			Accuracy:     clamp(nums[1]),
			Completeness: clamp(nums[2]),
			Overall:      clamp(nums[3]),
		}
	}

	return &core.Evaluation{
		Relevance:    FallbackScore,
		Accuracy:     FallbackScore,
		Completeness: FallbackScore,
		Overall:      FallbackScore,
		FallbackUsed: true,
	}
}

func clamp(v int) int {
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}

func severityFor(overall int) core.Severity {
	switch {
	case overall <= 3:
		return core.SeverityCritical
	case overall <= 6:
		return core.SeverityWarning
	default:
		return core.SeverityNone
	}
}
