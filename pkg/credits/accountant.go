// Package credits computes turn cost from usage and settles it against a
// credit ledger.
package credits

// Pricing holds the credit rates applied to one turn.
type Pricing struct {
	// PromptPerKToken is charged per 1000 prompt tokens.
	PromptPerKToken float64
	// CompletionPerKToken is charged per 1000 completion tokens.
	CompletionPerKToken float64
	// PerToolCall is a flat charge per dispatched tool call.
	PerToolCall float64
}

// Accountant converts token usage and tool-call counts into a cost figure.
type Accountant struct {
	pricing Pricing
}

// NewAccountant creates an accountant. Negative rates are clamped to zero so
// cost stays monotone in every input.
func NewAccountant(pricing Pricing) *Accountant {
	if pricing.PromptPerKToken < 0 {
		pricing.PromptPerKToken = 0
	}
	if pricing.CompletionPerKToken < 0 {
		pricing.CompletionPerKToken = 0
	}
	if pricing.PerToolCall < 0 {
		pricing.PerToolCall = 0
	}
	return &Accountant{pricing: pricing}
}

// Cost computes the credit cost of a turn. Monotonically non-decreasing in
// prompt tokens, completion tokens and tool-call count.
func (a *Accountant) Cost(promptTokens, completionTokens, toolCalls int) float64 {
	if promptTokens < 0 {
		promptTokens = 0
	}
	if completionTokens < 0 {
		completionTokens = 0
	}
	if toolCalls < 0 {
		toolCalls = 0
	}

	cost := float64(promptTokens) / 1000 * a.pricing.PromptPerKToken
	cost += float64(completionTokens) / 1000 * a.pricing.CompletionPerKToken
	cost += float64(toolCalls) * a.pricing.PerToolCall

	return cost
}
