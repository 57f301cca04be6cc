package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestContextPropagation(t *testing.T) {
	t.Run("should round-trip all fields", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithTraceID(ctx, "trace-1")
		ctx = WithTurnID(ctx, "turn-1")
		ctx = WithAgentID(ctx, "agent-1")
		ctx = WithConversationKey(ctx, "conv-1")

		tc := FromContext(ctx)
		assert.Equal(t, "trace-1", tc.TraceID)
		assert.Equal(t, "turn-1", tc.TurnID)
		assert.Equal(t, "agent-1", tc.AgentID)
		assert.Equal(t, "conv-1", tc.ConversationKey)
	})

	t.Run("should return empty on bare context", func(t *testing.T) {
		tc := FromContext(context.Background())
		assert.Empty(t, tc.TraceID)
		assert.Empty(t, tc.TurnID)
	})

	t.Run("new request context carries a trace id", func(t *testing.T) {
		ctx := NewRequestContext(context.Background())
		assert.NotEmpty(t, GetTraceID(ctx))
	})

	t.Run("new turn context carries turn and agent ids", func(t *testing.T) {
		ctx := NewTurnContext(context.Background(), "weatherbot")
		assert.NotEmpty(t, GetTurnID(ctx))
		assert.Equal(t, "weatherbot", GetAgentID(ctx))
	})
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-xyz")
	ctx = WithConversationKey(ctx, "conv-9")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hi")

	out := buf.String()
	assert.Contains(t, out, "trace-xyz")
	assert.Contains(t, out, "conv-9")
}
