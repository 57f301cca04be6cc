package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirelabs/conductor/pkg/toolset"
)

func TestBuildContext(t *testing.T) {
	agent := AgentSpec{
		ID:           "agent-1",
		Instructions: "You help with weather questions.",
	}
	now := time.Date(2026, time.August, 24, 10, 30, 0, 0, time.UTC)

	t.Run("system first, history verbatim, user last", func(t *testing.T) {
		history := []Message{
			{Role: "user", Content: "earlier question"},
			{Role: "assistant", Content: "earlier answer"},
		}

		messages := BuildContext(agent, nil, history, "new question", now)

		require.Len(t, messages, 4)
		assert.Equal(t, "system", messages[0].Role)
		assert.Equal(t, history[0], messages[1])
		assert.Equal(t, history[1], messages[2])
		assert.Equal(t, Message{Role: "user", Content: "new question"}, messages[3])
	})

	t.Run("system message grounds instructions and time", func(t *testing.T) {
		messages := BuildContext(agent, nil, nil, "hi", now)

		system := messages[0].Content
		assert.Contains(t, system, "You help with weather questions.")
		assert.Contains(t, system, now.Format(time.RFC1123))
		assert.NotContains(t, system, "Available tools")
	})

	t.Run("tool roster lists names, descriptions and guidance", func(t *testing.T) {
		tools := []toolset.ResolvedTool{
			{Descriptor: toolset.Descriptor{
				Name:        "weather_api",
				Description: "Current weather by city.",
				Guidance:    "Prefer metric units.",
			}},
			{Descriptor: toolset.Descriptor{
				Name:        "clock",
				Description: "Tells the time.",
			}},
		}

		messages := BuildContext(agent, tools, nil, "hi", now)

		system := messages[0].Content
		assert.Contains(t, system, "Available tools:")
		assert.Contains(t, system, "- weather_api: Current weather by city.")
		assert.Contains(t, system, "Usage notes: Prefer metric units.")
		assert.Contains(t, system, "- clock: Tells the time.")
	})

	t.Run("does not mutate history", func(t *testing.T) {
		history := []Message{{Role: "user", Content: "untouched"}}
		BuildContext(agent, nil, history, "hi", now)
		assert.Equal(t, "untouched", history[0].Content)
	})
}
