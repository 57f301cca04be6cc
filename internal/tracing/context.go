package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// TurnIDKey is the context key for turn ID
	TurnIDKey ContextKey = "turn_id"
	// AgentIDKey is the context key for agent ID
	AgentIDKey ContextKey = "agent_id"
	// ConversationKeyKey is the context key for conversation key
	ConversationKeyKey ContextKey = "conversation_key"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID         string
	TurnID          string
	AgentID         string
	ConversationKey string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithTurnID adds a turn ID to the context
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, TurnIDKey, turnID)
}

// WithAgentID adds an agent ID to the context
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDKey, agentID)
}

// WithConversationKey adds a conversation key to the context
func WithConversationKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ConversationKeyKey, key)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetTurnID retrieves the turn ID from the context
func GetTurnID(ctx context.Context) string {
	if turnID, ok := ctx.Value(TurnIDKey).(string); ok {
		return turnID
	}
	return ""
}

// GetAgentID retrieves the agent ID from the context
func GetAgentID(ctx context.Context) string {
	if agentID, ok := ctx.Value(AgentIDKey).(string); ok {
		return agentID
	}
	return ""
}

// GetConversationKey retrieves the conversation key from the context
func GetConversationKey(ctx context.Context) string {
	if key, ok := ctx.Value(ConversationKeyKey).(string); ok {
		return key
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:         GetTraceID(ctx),
		TurnID:          GetTurnID(ctx),
		AgentID:         GetAgentID(ctx),
		ConversationKey: GetConversationKey(ctx),
	}
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewTurnContext creates a new context for a turn with a new turn ID
func NewTurnContext(ctx context.Context, agentID string) context.Context {
	ctx = WithTurnID(ctx, uuid.New().String())
	return WithAgentID(ctx, agentID)
}
