package gemini

import "log/slog"

// modelCost holds USD prices per one million tokens.
type modelCost struct {
	input    float64
	cacheHit float64
	output   float64
}

var pricing = map[string]modelCost{
	"gemini-3-flash-preview": {input: 0.50, cacheHit: 0.10, output: 3.00},
	"gemini-3-pro-preview":   {input: 2.00, cacheHit: 0.20, output: 12.00},
}

type usageMetadata struct {
	PromptTokenCount        int64 `json:"promptTokenCount"`
	CachedContentTokenCount int64 `json:"cachedContentTokenCount"`
	CandidatesTokenCount    int64 `json:"candidatesTokenCount"`
	ThoughtsTokenCount      int64 `json:"thoughtsTokenCount"`
}

// calculateCost returns the USD cost of one model turn. promptTokenCount
// includes cached tokens, so those are billed at the cache-hit rate and
// subtracted from the input count. Thinking tokens are priced as output.
// Unknown models cost zero and log a warning.
func calculateCost(model string, usage usageMetadata) float64 {
	p, ok := pricing[model]
	if !ok {
		slog.Warn("no pricing for model, reporting zero cost", slog.String("model", model))
		return 0
	}

	inputTokens := usage.PromptTokenCount - usage.CachedContentTokenCount

	costInput := float64(inputTokens) / 1_000_000 * p.input
	costCache := float64(usage.CachedContentTokenCount) / 1_000_000 * p.cacheHit
	costOutput := float64(usage.CandidatesTokenCount) / 1_000_000 * p.output
	costThinking := float64(usage.ThoughtsTokenCount) / 1_000_000 * p.output

	return costInput + costCache + costOutput + costThinking
}
