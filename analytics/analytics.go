// Package analytics produces the optional best-effort analytics block.
// Its token figures are estimates computed locally and are kept strictly
// separate from provider-reported usage.
package analytics

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/sweetpotato0/omnillm/core"
)

// DefaultEncoding is used when no model-specific encoding is requested.
const DefaultEncoding = "cl100k_base"

// Estimator estimates token counts with a local tokenizer. Estimates are
// approximate for non-OpenAI models but still useful when a provider
// reports no usage at all.
type Estimator struct {
	enc  *tiktoken.Tiktoken
	name string
}

// NewEstimator resolves an encoding by model name first, then by encoding
// name. Empty input selects DefaultEncoding.
func NewEstimator(name string) (*Estimator, error) {
	if name == "" {
		name = DefaultEncoding
	}
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, fmt.Errorf("analytics: resolve encoding %q: %w", name, err)
		}
	}
	return &Estimator{enc: enc, name: name}, nil
}

// CountTokens estimates the token count of text.
func (e *Estimator) CountTokens(text string) int {
	return len(e.enc.Encode(text, nil, nil))
}

// Analyze builds the analytics block for one request.
func (e *Estimator) Analyze(prompt, output string, toolCalls int) *core.Analytics {
	return &core.Analytics{
		EstimatedInputTokens:  e.CountTokens(prompt),
		EstimatedOutputTokens: e.CountTokens(output),
		Estimator:             e.name,
		PromptChars:           len(prompt),
		OutputChars:           len(output),
		ToolCalls:             toolCalls,
	}
}
