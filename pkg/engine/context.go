package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/mirelabs/conductor/pkg/toolset"
)

// BuildContext assembles the ordered message sequence for a turn: exactly
// one system message first, the prior history verbatim, the new user message
// last. History is never truncated or summarized here; windowing, if any,
// belongs to the caller.
func BuildContext(agent AgentSpec, tools []toolset.ResolvedTool, history []Message, userMessage string, now time.Time) []Message {
	messages := make([]Message, 0, len(history)+2)

	messages = append(messages, Message{
		Role:    "system",
		Content: buildSystemPrompt(agent, tools, now),
	})

	messages = append(messages, history...)

	messages = append(messages, Message{
		Role:    "user",
		Content: userMessage,
	})

	return messages
}

// buildSystemPrompt composes instructions, the current wall-clock time for
// temporal grounding, and a readable roster of the resolved tools with any
// per-tool operating guidance.
func buildSystemPrompt(agent AgentSpec, tools []toolset.ResolvedTool, now time.Time) string {
	var b strings.Builder

	b.WriteString(agent.Instructions)

	b.WriteString("\n\nCurrent date and time: ")
	b.WriteString(now.Format(time.RFC1123))

	if len(tools) > 0 {
		b.WriteString("\n\nAvailable tools:\n")
		for _, tool := range tools {
			fmt.Fprintf(&b, "- %s: %s\n", tool.Descriptor.Name, tool.Descriptor.Description)
			if tool.Descriptor.Guidance != "" {
				fmt.Fprintf(&b, "  Usage notes: %s\n", tool.Descriptor.Guidance)
			}
		}
	}

	return b.String()
}
