package evaluate

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweetpotato0/omnillm/core"
	"github.com/sweetpotato0/omnillm/provider"
	"github.com/sweetpotato0/omnillm/resolver"
)

type judgeAdapter struct {
	desc  provider.Descriptor
	reply string
	err   error

	lastPrompt string
}

func (a *judgeAdapter) Identify() provider.Descriptor { return a.desc }

func (a *judgeAdapter) Generate(ctx context.Context, req provider.Request) (*provider.RawResponse, error) {
	a.lastPrompt = req.Messages[len(req.Messages)-1].Text
	if a.err != nil {
		return nil, a.err
	}
	return &provider.RawResponse{Text: a.reply}, nil
}

func (a *judgeAdapter) Stream(ctx context.Context, req provider.Request) iter.Seq2[*provider.RawChunk, error] {
	return func(yield func(*provider.RawChunk, error) bool) {}
}

func judgeEvaluator(t *testing.T, adapter *judgeAdapter) *Evaluator {
	t.Helper()
	catalog := resolver.NewCatalog(resolver.StaticSource{
		Descriptors: []provider.Descriptor{adapter.desc},
	}, time.Minute)
	res := resolver.New(catalog, resolver.WithAdapter(adapter))
	return New(res, WithSelector(adapter.desc.Name))
}

func TestEvaluateParsesJudgeJSON(t *testing.T) {
	adapter := &judgeAdapter{
		desc:  provider.Descriptor{Name: "judge", DefaultModel: "judge-1"},
		reply: `{"relevance": 9, "accuracy": 8, "completeness": 7, "overall": 8, "reasoning": "solid"}`,
	}
	ev, err := judgeEvaluator(t, adapter).Evaluate(context.Background(), "question", "answer", nil)
	require.NoError(t, err)

	assert.Equal(t, 9, ev.Relevance)
	assert.Equal(t, 8, ev.Accuracy)
	assert.Equal(t, 7, ev.Completeness)
	assert.Equal(t, 8, ev.Overall)
	assert.Equal(t, "solid", ev.Reasoning)
	assert.Equal(t, core.SeverityNone, ev.Severity)
	assert.Equal(t, "judge", ev.Provider)
	assert.Equal(t, "judge-1", ev.Model)
	assert.False(t, ev.FallbackUsed)

	assert.Contains(t, adapter.lastPrompt, "question")
	assert.Contains(t, adapter.lastPrompt, "answer")
}

func TestEvaluateFallbackOnGarbage(t *testing.T) {
	adapter := &judgeAdapter{
		desc:  provider.Descriptor{Name: "judge"},
		reply: "I cannot comply with that.",
	}
	ev, err := judgeEvaluator(t, adapter).Evaluate(context.Background(), "q", "a", nil)
	require.NoError(t, err)

	assert.True(t, ev.FallbackUsed)
	assert.Equal(t, FallbackScore, ev.Overall)
	assert.Equal(t, core.SeverityWarning, ev.Severity)
}

func TestEvaluateResolveFailure(t *testing.T) {
	catalog := resolver.NewCatalog(resolver.StaticSource{}, time.Minute)
	e := New(resolver.New(catalog))
	_, err := e.Evaluate(context.Background(), "q", "a", nil)
	assert.Error(t, err)
}

func TestParseScoresBareIntegers(t *testing.T) {
	ev := parseScores("Scores: relevance 7, accuracy 6, completeness 8, overall 7.")
	assert.False(t, ev.FallbackUsed)
	assert.Equal(t, 7, ev.Relevance)
	assert.Equal(t, 6, ev.Accuracy)
	assert.Equal(t, 8, ev.Completeness)
	assert.Equal(t, 7, ev.Overall)
}

func TestParseScoresJSONEmbeddedInProse(t *testing.T) {
	ev := parseScores("Here is my verdict:\n{\"relevance\": 10, \"accuracy\": 10, \"completeness\": 9, \"overall\": 10, \"reasoning\": \"great\"}\nDone.")
	assert.False(t, ev.FallbackUsed)
	assert.Equal(t, 10, ev.Overall)
	assert.Equal(t, "great", ev.Reasoning)
}

func TestParseScoresClampsOutOfRange(t *testing.T) {
	ev := parseScores(`{"relevance": 99, "accuracy": -3, "completeness": 5, "overall": 11}`)
	assert.Equal(t, 10, ev.Relevance)
	assert.Equal(t, 1, ev.Accuracy)
	assert.Equal(t, 5, ev.Completeness)
	assert.Equal(t, 10, ev.Overall)
}

func TestParseScoresTooFewIntegers(t *testing.T) {
	ev := parseScores("only 3 numbers here: 1 2")
	assert.True(t, ev.FallbackUsed)
}

func TestSeverityBoundaries(t *testing.T) {
	assert.Equal(t, core.SeverityCritical, severityFor(1))
	assert.Equal(t, core.SeverityCritical, severityFor(3))
	assert.Equal(t, core.SeverityWarning, severityFor(4))
	assert.Equal(t, core.SeverityWarning, severityFor(6))
	assert.Equal(t, core.SeverityNone, severityFor(7))
	assert.Equal(t, core.SeverityNone, severityFor(10))
}
