package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sweetpotato0/omnillm/core"
	"github.com/sweetpotato0/omnillm/provider"
)

// NormalizeUsage reconciles the raw provider accounting shapes into the
// single Usage contract. Providers report usage as prompt/completion
// counters, input/output counters, or a combined total only; this prefers
// granular figures when present, marks combined-only totals as non-granular,
// and logs (never hides) a granular sum that contradicts a reported total.
func NormalizeUsage(raw provider.RawUsage, providerName string, logger *slog.Logger) core.Usage {
	in, out := raw.InputTokens, raw.OutputTokens
	if in == 0 && out == 0 {
		in, out = raw.PromptTokens, raw.CompletionTokens
	}

	if in > 0 || out > 0 {
		total := in + out
		if raw.TotalTokens > 0 && raw.TotalTokens != total {
			// A mismatch is a provider reporting bug; surface it instead of
			// silently inventing a figure.
			logger.Warn("granular token counts disagree with reported total",
				"provider", providerName,
				"input", in, "output", out,
				"reported_total", raw.TotalTokens)
		}
		return core.Usage{
			InputTokens:  in,
			OutputTokens: out,
			TotalTokens:  total,
			Granular:     true,
			Available:    true,
		}
	}

	if raw.TotalTokens > 0 {
		// Combined-only shape: zero input/output means "not reported".
		return core.Usage{TotalTokens: raw.TotalTokens, Available: true}
	}

	return core.Usage{}
}

// normalize builds the stable result from a raw response and the tool
// records the orchestrator actually produced during this request. The
// toolsUsed list comes strictly from successful orchestrator records; tool
// use claimed in the response text is never counted as evidence.
func normalize(raw *provider.RawResponse, desc provider.Descriptor, model string, invocations []core.ToolInvocation, available []string, latency time.Duration, logger *slog.Logger) *core.GenerationResult {
	result := &core.GenerationResult{
		Content:         raw.Text,
		Provider:        desc.Name,
		Model:           model,
		Usage:           NormalizeUsage(raw.Usage, desc.Name, logger),
		Latency:         latency,
		ToolInvocations: invocations,
		ToolsAvailable:  available,
	}
	if raw.Model != "" {
		result.Model = raw.Model
	}

	for _, inv := range invocations {
		if inv.Success {
			result.ToolsUsed = append(result.ToolsUsed, inv.Tool)
		}
	}

	if warning := unverifiedToolClaim(raw.Text, available, result.ToolsUsed); warning != "" {
		result.Warnings = append(result.Warnings, warning)
	}
	return result
}

// foldChunks accumulates a streamed response. Usage is taken only from the
// final chunk; when the provider supplies none there, the fold reports an
// empty RawUsage and the result marks usage unavailable rather than zero.
func foldChunks(chunks []provider.RawChunk) (string, provider.RawUsage) {
	var sb strings.Builder
	var usage provider.RawUsage
	for _, c := range chunks {
		sb.WriteString(c.Text)
		if c.Final && c.Usage != nil {
			usage = *c.Usage
		}
	}
	return sb.String(), usage
}

// unverifiedToolClaim flags response text that names an available tool in a
// "used/called/invoked" phrase without a matching orchestrator record. The
// claim never populates toolsUsed; it only becomes a soft warning.
func unverifiedToolClaim(text string, available, used []string) string {
	if text == "" {
		return ""
	}
	usedSet := make(map[string]bool, len(used))
	for _, name := range used {
		usedSet[name] = true
	}
	lower := strings.ToLower(text)
	for _, name := range available {
		if usedSet[name] {
			continue
		}
		for _, verb := range []string{"used the ", "called the ", "invoked the ", "using the "} {
			if strings.Contains(lower, verb+strings.ToLower(name)) {
				return fmt.Sprintf("model text claims use of tool %q not recorded by the orchestrator", name)
			}
		}
	}
	return ""
}
