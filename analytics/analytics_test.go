package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEstimatorDefaultEncoding(t *testing.T) {
	e, err := NewEstimator("")
	require.NoError(t, err)
	assert.Equal(t, DefaultEncoding, e.name)
}

func TestNewEstimatorByModelName(t *testing.T) {
	e, err := NewEstimator("gpt-4o")
	require.NoError(t, err)
	assert.Greater(t, e.CountTokens("hello world"), 0)
}

func TestNewEstimatorUnknownName(t *testing.T) {
	_, err := NewEstimator("definitely-not-an-encoding")
	assert.Error(t, err)
}

func TestCountTokens(t *testing.T) {
	e, err := NewEstimator(DefaultEncoding)
	require.NoError(t, err)

	assert.Zero(t, e.CountTokens(""))

	short := e.CountTokens("hi")
	long := e.CountTokens("The quick brown fox jumps over the lazy dog, twice in a row, for good measure.")
	assert.Greater(t, long, short)
}

func TestAnalyze(t *testing.T) {
	e, err := NewEstimator(DefaultEncoding)
	require.NoError(t, err)

	a := e.Analyze("what is 2+2?", "4", 1)
	assert.Greater(t, a.EstimatedInputTokens, 0)
	assert.Greater(t, a.EstimatedOutputTokens, 0)
	assert.Equal(t, DefaultEncoding, a.Estimator)
	assert.Equal(t, len("what is 2+2?"), a.PromptChars)
	assert.Equal(t, 1, a.OutputChars)
	assert.Equal(t, 1, a.ToolCalls)
}
