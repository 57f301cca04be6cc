// Package engine turns one inbound user message plus conversation history
// into zero or more tool invocations and a final model response, in both
// buffered and incrementally-streamed modes, while accounting for usage cost.
package engine

import (
	"github.com/mirelabs/conductor/pkg/toolset"
)

// AgentSpec is a named configuration of instructions, target model and tool
// list. Owned by configuration storage; read-only here.
type AgentSpec struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Instructions    string              `json:"instructions"`
	Provider        string              `json:"provider"` // "openai", "anthropic"
	Model           string              `json:"model"`
	Temperature     float64             `json:"temperature,omitempty"`
	MaxOutputTokens int                 `json:"max_output_tokens,omitempty"`
	Tools           []toolset.Reference `json:"tools,omitempty"`
}

// Message is one entry in the model conversation. ToolCalls is set on
// assistant messages that request tools; ToolCallID links a tool-role
// message back to the call it answers.
type Message struct {
	Role       string            `json:"role"` // system, user, assistant, tool
	Content    string            `json:"content"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

// ToolCallRequest is a model-issued request to invoke a tool. Arguments is
// the provider's raw JSON string; it is parsed at dispatch time, where a
// parse failure is recoverable rather than fatal.
type ToolCallRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage accumulates token counts across the turn's completion calls.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Add folds another usage sample into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// TurnRequest is the input for one turn. History is the prior conversation
// verbatim; the engine never truncates or rewrites it.
type TurnRequest struct {
	Agent       AgentSpec `json:"agent"`
	UserID      string    `json:"user_id,omitempty"`
	UserMessage string    `json:"user_message"`
	History     []Message `json:"history,omitempty"`
}

// TurnResult is the outcome of one completed turn. Messages holds everything
// appended during the turn (user message through final assistant message) so
// the caller can persist it; the engine itself is stateless between turns.
type TurnResult struct {
	Text            string    `json:"text"`
	ToolsUsed       []string  `json:"tools_used"`
	Usage           Usage     `json:"usage"`
	Cost            float64   `json:"cost"`
	PaymentRequired bool      `json:"payment_required,omitempty"`
	Messages        []Message `json:"messages,omitempty"`
}
