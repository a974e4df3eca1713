package tokenizer

import (
	"strings"
)

// CountTokens provides a rough token count estimate.
// For production, use tiktoken-go for exact counts.
func CountTokens(text string) int {
	// Rough estimate: ~4/3 tokens per whitespace-separated word
	words := strings.Fields(text)
	return max(len(words)*4/3, 1)
}

// CountTokensForModel returns estimated token count.
// TODO: integrate tiktoken-go for model-specific exact counts.
func CountTokensForModel(text, model string) int {
	_ = model // model-specific counting would use tiktoken
	return CountTokens(text)
}

// approxCharsPerToken calibrates the char-window a chunker should slide to
// approximate a token budget, consistent with CountTokens' 4/3 ratio.
const approxCharsPerToken = 4.0

// CharBudget converts a token budget into an approximate rune budget.
func CharBudget(tokens int) int {
	if tokens <= 0 {
		return 0
	}
	return int(float64(tokens) * approxCharsPerToken)
}
