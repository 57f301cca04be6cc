package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirelabs/conductor/pkg/credits"
	"github.com/mirelabs/conductor/pkg/dispatch"
	"github.com/mirelabs/conductor/pkg/toolset"
)

// scriptedProvider replays canned responses and records every request it
// receives, for both modes.
type scriptedProvider struct {
	responses []*CompletionResponse
	requests  []CompletionRequest
	err       error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return nil, fmt.Errorf("no scripted response left")
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req CompletionRequest, onText func(string)) (*CompletionResponse, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if onText != nil {
		// Emit the text in two fragments to exercise delta handling.
		half := len(resp.Text) / 2
		if resp.Text[:half] != "" {
			onText(resp.Text[:half])
		}
		if resp.Text[half:] != "" {
			onText(resp.Text[half:])
		}
	}
	return resp, nil
}

type fixedFactory struct {
	provider Provider
	err      error
}

func (f *fixedFactory) NewProvider(string) (Provider, error) {
	return f.provider, f.err
}

type fakeLedger struct {
	consumed []float64
	err      error
}

func (l *fakeLedger) Consume(_ context.Context, _ string, amount float64, _ string) error {
	if l.err != nil {
		return l.err
	}
	l.consumed = append(l.consumed, amount)
	return nil
}

type fixtureStore struct {
	tools map[string]*toolset.Definition
}

func (s *fixtureStore) ToolByID(_ context.Context, id string) (*toolset.Definition, error) {
	def, ok := s.tools[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return def, nil
}

type recordingTool struct {
	params map[string]interface{}
}

func (r *recordingTool) Execute(_ context.Context, _ string, params map[string]interface{}) (interface{}, error) {
	r.params = params
	return map[string]interface{}{"temperature": 21}, nil
}

func testEngine(t *testing.T, provider Provider, ledger credits.Ledger) (*Engine, *recordingTool) {
	t.Helper()

	tool := &recordingTool{}
	registry := dispatch.NewRegistry(map[string]dispatch.Factory{
		"Weather API": func(map[string]interface{}) (dispatch.Tool, error) { return tool, nil },
	})
	dispatcher, err := dispatch.NewDispatcher(dispatch.DispatcherConfig{
		Registry: registry,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	resolver := toolset.NewResolver(toolset.ResolverConfig{
		Store: &fixtureStore{tools: map[string]*toolset.Definition{
			"tool-1": {Name: "Weather API", Description: "Current weather."},
		}},
		Logger: zerolog.Nop(),
	})

	engine, err := New(Config{
		Resolver:   resolver,
		Dispatcher: dispatcher,
		Providers:  &fixedFactory{provider: provider},
		Accountant: credits.NewAccountant(credits.Pricing{
			PromptPerKToken:     1,
			CompletionPerKToken: 1,
			PerToolCall:         0.5,
		}),
		Ledger: ledger,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	return engine, tool
}

func weatherAgent() AgentSpec {
	return AgentSpec{
		ID:           "agent-1",
		Name:         "Weather helper",
		Instructions: "Answer weather questions.",
		Provider:     "scripted",
		Model:        "test-model",
		Tools:        []toolset.Reference{{StoredID: "tool-1"}},
	}
}

func TestRunWithoutToolCalls(t *testing.T) {
	provider := &scriptedProvider{responses: []*CompletionResponse{
		{Text: "hello there", Usage: Usage{PromptTokens: 100, CompletionTokens: 50}},
	}}
	engine, _ := testEngine(t, provider, nil)

	result, err := engine.Run(context.Background(), TurnRequest{
		Agent:       weatherAgent(),
		UserMessage: "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", result.Text)
	assert.Empty(t, result.ToolsUsed)
	assert.Len(t, provider.requests, 1, "zero tool calls means exactly one completion call")
	assert.Equal(t, Usage{PromptTokens: 100, CompletionTokens: 50}, result.Usage)
}

func TestRunWithToolCalls(t *testing.T) {
	provider := &scriptedProvider{responses: []*CompletionResponse{
		{
			Text: "checking the weather",
			ToolCalls: []ToolCallRequest{
				{ID: "call_1", Name: "weather_api", Arguments: `{"location":"Paris"}`},
				{ID: "call_2", Name: "weather_api", Arguments: `{"location":"Oslo"}`},
			},
			Usage: Usage{PromptTokens: 100, CompletionTokens: 30},
		},
		{Text: "21 degrees in both", Usage: Usage{PromptTokens: 200, CompletionTokens: 40}},
	}}
	engine, tool := testEngine(t, provider, nil)

	result, err := engine.Run(context.Background(), TurnRequest{
		Agent:       weatherAgent(),
		UserMessage: "weather in Paris and Oslo?",
	})
	require.NoError(t, err)

	assert.Equal(t, "21 degrees in both", result.Text)
	assert.Equal(t, []string{"weather_api"}, result.ToolsUsed, "tools_used is de-duplicated")
	require.Len(t, provider.requests, 2, "tool calls mean exactly two completion calls")

	t.Run("first call offers tools, follow-up does not", func(t *testing.T) {
		require.Len(t, provider.requests[0].Tools, 1)
		assert.Equal(t, "weather_api", provider.requests[0].Tools[0].Name)
		assert.Nil(t, provider.requests[1].Tools)
	})

	t.Run("follow-up carries one tool message per call in request order", func(t *testing.T) {
		followup := provider.requests[1].Messages

		var toolMessages []Message
		for _, msg := range followup {
			if msg.Role == "tool" {
				toolMessages = append(toolMessages, msg)
			}
		}
		require.Len(t, toolMessages, 2)
		assert.Equal(t, "call_1", toolMessages[0].ToolCallID)
		assert.Equal(t, "call_2", toolMessages[1].ToolCallID)
		assert.Contains(t, toolMessages[0].Content, `"success":true`)

		// The assistant message with the tool-call list precedes them.
		var assistant *Message
		for i := range followup {
			if followup[i].Role == "assistant" && len(followup[i].ToolCalls) > 0 {
				assistant = &followup[i]
				break
			}
		}
		require.NotNil(t, assistant)
		assert.Equal(t, "checking the weather", assistant.Content)
	})

	t.Run("arguments were parsed at dispatch", func(t *testing.T) {
		assert.Equal(t, "Oslo", tool.params["location"], "last dispatch wins the recording")
	})

	t.Run("usage sums both calls and cost includes tool charges", func(t *testing.T) {
		assert.Equal(t, Usage{PromptTokens: 300, CompletionTokens: 70}, result.Usage)
		// 300/1000*1 + 70/1000*1 + 2*0.5
		assert.InDelta(t, 1.37, result.Cost, 1e-9)
	})
}

func TestRunUnresolvableToolName(t *testing.T) {
	provider := &scriptedProvider{responses: []*CompletionResponse{
		{
			Text: "",
			ToolCalls: []ToolCallRequest{
				{ID: "call_1", Name: "ghost_tool", Arguments: `{}`},
			},
		},
		{Text: "that tool is unavailable"},
	}}
	engine, _ := testEngine(t, provider, nil)

	result, err := engine.Run(context.Background(), TurnRequest{
		Agent:       weatherAgent(),
		UserMessage: "use the ghost tool",
	})
	require.NoError(t, err)

	assert.Equal(t, "that tool is unavailable", result.Text, "follow-up still proceeds")
	require.Len(t, provider.requests, 2)

	var toolMsg *Message
	for i, msg := range provider.requests[1].Messages {
		if msg.Role == "tool" {
			toolMsg = &provider.requests[1].Messages[i]
		}
	}
	require.NotNil(t, toolMsg)
	assert.Contains(t, toolMsg.Content, `"success":false`)
	assert.Contains(t, toolMsg.Content, "tool not found")
}

func TestStreamMatchesBuffered(t *testing.T) {
	script := func() []*CompletionResponse {
		return []*CompletionResponse{
			{
				Text: "looking it up",
				ToolCalls: []ToolCallRequest{
					{ID: "call_1", Name: "weather_api", Arguments: `{"location":"Paris"}`},
				},
				Usage: Usage{PromptTokens: 10, CompletionTokens: 5},
			},
			{Text: "sunny in Paris", Usage: Usage{PromptTokens: 20, CompletionTokens: 5}},
		}
	}

	buffered := &scriptedProvider{responses: script()}
	engineBuf, _ := testEngine(t, buffered, nil)
	bufResult, err := engineBuf.Run(context.Background(), TurnRequest{
		Agent:       weatherAgent(),
		UserMessage: "weather in Paris?",
	})
	require.NoError(t, err)

	streamed := &scriptedProvider{responses: script()}
	engineStr, _ := testEngine(t, streamed, nil)

	var events []TurnEvent
	for ev := range engineStr.Stream(context.Background(), TurnRequest{
		Agent:       weatherAgent(),
		UserMessage: "weather in Paris?",
	}) {
		events = append(events, ev)
	}

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, EventDone, last.Type)
	require.NotNil(t, last.Result)

	t.Run("identical final text and tools used", func(t *testing.T) {
		assert.Equal(t, bufResult.Text, last.Result.Text)
		assert.Equal(t, bufResult.ToolsUsed, last.Result.ToolsUsed)
		assert.Equal(t, bufResult.Usage, last.Result.Usage)
	})

	t.Run("events are push-ordered: content, status, content, done", func(t *testing.T) {
		var statusAt, firstContentAt, lastContentAt int
		statusAt = -1
		firstContentAt = -1
		for i, ev := range events {
			switch ev.Type {
			case EventStatus:
				statusAt = i
				assert.Equal(t, StatusDispatchingTools, ev.Status)
			case EventContent:
				if firstContentAt == -1 {
					firstContentAt = i
				}
				lastContentAt = i
			}
		}
		require.NotEqual(t, -1, statusAt)
		require.NotEqual(t, -1, firstContentAt)
		assert.Less(t, firstContentAt, statusAt, "first completion content precedes dispatch status")
		assert.Greater(t, lastContentAt, statusAt, "follow-up content follows dispatch status")
	})

	t.Run("concatenated content events equal final text suffix", func(t *testing.T) {
		var followupText string
		seenStatus := false
		for _, ev := range events {
			if ev.Type == EventStatus {
				seenStatus = true
				continue
			}
			if seenStatus && ev.Type == EventContent {
				followupText += ev.Content
			}
		}
		assert.Equal(t, "sunny in Paris", followupText)
	})
}

func TestRunFatalErrors(t *testing.T) {
	t.Run("empty model is a configuration error before any call", func(t *testing.T) {
		provider := &scriptedProvider{}
		engine, _ := testEngine(t, provider, nil)

		agent := weatherAgent()
		agent.Model = ""

		_, err := engine.Run(context.Background(), TurnRequest{Agent: agent, UserMessage: "hi"})
		assert.ErrorIs(t, err, ErrConfiguration)
		assert.Empty(t, provider.requests)
	})

	t.Run("provider failure aborts the turn", func(t *testing.T) {
		provider := &scriptedProvider{err: fmt.Errorf("upstream 503")}
		engine, _ := testEngine(t, provider, nil)

		_, err := engine.Run(context.Background(), TurnRequest{Agent: weatherAgent(), UserMessage: "hi"})
		assert.ErrorIs(t, err, ErrCompletionService)
	})

	t.Run("stream surfaces fatal errors as error events", func(t *testing.T) {
		provider := &scriptedProvider{err: fmt.Errorf("upstream 503")}
		engine, _ := testEngine(t, provider, nil)

		var events []TurnEvent
		for ev := range engine.Stream(context.Background(), TurnRequest{Agent: weatherAgent(), UserMessage: "hi"}) {
			events = append(events, ev)
		}

		require.NotEmpty(t, events)
		last := events[len(events)-1]
		assert.Equal(t, EventError, last.Type)
		assert.ErrorIs(t, last.Err, ErrCompletionService)
	})
}

func TestRunCreditSettlement(t *testing.T) {
	script := func() []*CompletionResponse {
		return []*CompletionResponse{
			{Text: "answer", Usage: Usage{PromptTokens: 1000, CompletionTokens: 1000}},
		}
	}

	t.Run("successful debit", func(t *testing.T) {
		ledger := &fakeLedger{}
		engine, _ := testEngine(t, &scriptedProvider{responses: script()}, ledger)

		result, err := engine.Run(context.Background(), TurnRequest{
			Agent:       weatherAgent(),
			UserID:      "user-1",
			UserMessage: "hi",
		})
		require.NoError(t, err)

		assert.False(t, result.PaymentRequired)
		require.Len(t, ledger.consumed, 1)
		assert.InDelta(t, result.Cost, ledger.consumed[0], 1e-9)
	})

	t.Run("refused debit keeps the answer and flags payment required", func(t *testing.T) {
		ledger := &fakeLedger{err: credits.ErrInsufficientCredits}
		engine, _ := testEngine(t, &scriptedProvider{responses: script()}, ledger)

		result, err := engine.Run(context.Background(), TurnRequest{
			Agent:       weatherAgent(),
			UserID:      "user-1",
			UserMessage: "hi",
		})
		require.NoError(t, err)

		assert.Equal(t, "answer", result.Text)
		assert.True(t, result.PaymentRequired)
	})

	t.Run("no user id means no debit", func(t *testing.T) {
		ledger := &fakeLedger{}
		engine, _ := testEngine(t, &scriptedProvider{responses: script()}, ledger)

		_, err := engine.Run(context.Background(), TurnRequest{Agent: weatherAgent(), UserMessage: "hi"})
		require.NoError(t, err)
		assert.Empty(t, ledger.consumed)
	})
}

func TestTurnResultMessages(t *testing.T) {
	provider := &scriptedProvider{responses: []*CompletionResponse{
		{
			ToolCalls: []ToolCallRequest{{ID: "call_1", Name: "weather_api", Arguments: `{}`}},
		},
		{Text: "done"},
	}}
	engine, _ := testEngine(t, provider, nil)

	result, err := engine.Run(context.Background(), TurnRequest{
		Agent:       weatherAgent(),
		UserMessage: "weather?",
	})
	require.NoError(t, err)

	// user, assistant(with calls), tool, final assistant
	require.Len(t, result.Messages, 4)
	assert.Equal(t, "user", result.Messages[0].Role)
	assert.Equal(t, "assistant", result.Messages[1].Role)
	require.Len(t, result.Messages[1].ToolCalls, 1)
	assert.Equal(t, "tool", result.Messages[2].Role)
	assert.Equal(t, "call_1", result.Messages[2].ToolCallID)
	assert.Equal(t, Message{Role: "assistant", Content: "done"}, result.Messages[3])
}
