package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mirelabs/conductor/internal/observability"
	"github.com/mirelabs/conductor/internal/tracing"
	"github.com/mirelabs/conductor/pkg/credits"
	"github.com/mirelabs/conductor/pkg/dispatch"
	"github.com/mirelabs/conductor/pkg/sanitize"
	"github.com/mirelabs/conductor/pkg/toolset"
)

// turnState names one phase of the orchestration state machine. Buffered and
// streamed turns share the same transition table; streaming only changes how
// completion text reaches the caller.
type turnState int

const (
	stateBuildingContext turnState = iota
	stateAwaitingFirstCompletion
	stateDispatchingTools
	stateAwaitingFollowupCompletion
	stateDone
	stateError
)

// Engine orchestrates agent turns. It holds no cross-turn state; two turns
// on the same conversation must be serialized by the caller.
type Engine struct {
	resolver   *toolset.Resolver
	dispatcher *dispatch.Dispatcher
	providers  ProviderFactory
	accountant *credits.Accountant
	ledger     credits.Ledger
	logger     zerolog.Logger
}

// Config holds engine collaborators. Ledger is optional; without it turns
// are costed but never debited.
type Config struct {
	Resolver   *toolset.Resolver
	Dispatcher *dispatch.Dispatcher
	Providers  ProviderFactory
	Accountant *credits.Accountant
	Ledger     credits.Ledger
	Logger     zerolog.Logger
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	observability.EnsureRegistered()

	if cfg.Resolver == nil {
		return nil, fmt.Errorf("tool resolver is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("tool dispatcher is required")
	}
	if cfg.Providers == nil {
		return nil, fmt.Errorf("provider factory is required")
	}

	accountant := cfg.Accountant
	if accountant == nil {
		accountant = credits.NewAccountant(credits.Pricing{})
	}

	return &Engine{
		resolver:   cfg.Resolver,
		dispatcher: cfg.Dispatcher,
		providers:  cfg.Providers,
		accountant: accountant,
		ledger:     cfg.Ledger,
		logger:     cfg.Logger,
	}, nil
}

// Run executes one buffered turn: the final text arrives all at once in the
// returned TurnResult.
func (e *Engine) Run(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	return e.run(ctx, req, nil)
}

// Stream executes one streamed turn, returning an ordered event channel:
// content fragments from the first completion, a status event when tool
// dispatch begins, content fragments from the follow-up, then a done event
// carrying the TurnResult (or an error event). The channel closes when the
// turn ends; cancel ctx to abandon it.
func (e *Engine) Stream(ctx context.Context, req TurnRequest) <-chan TurnEvent {
	events := make(chan TurnEvent, 16)

	go func() {
		defer close(events)

		emit := func(ev TurnEvent) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}

		result, err := e.run(ctx, req, emit)
		if err != nil {
			emit(TurnEvent{Type: EventError, Err: err})
			return
		}
		emit(TurnEvent{Type: EventDone, Result: result})
	}()

	return events
}

// run drives the turn state machine. A nil emit means buffered mode.
func (e *Engine) run(ctx context.Context, req TurnRequest, emit func(TurnEvent)) (*TurnResult, error) {
	start := time.Now()

	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.NewTurnContext(ctx, req.Agent.ID)
	ctx, span := tracing.StartSpan(
		ctx,
		"conductor.engine",
		"engine.turn",
		attribute.String("agent_id", req.Agent.ID),
		attribute.String("provider", req.Agent.Provider),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, e.logger).With().Str("agent_id", req.Agent.ID).Logger()

	var (
		provider  Provider
		tools     []toolset.ResolvedTool
		messages  []Message
		first     *CompletionResponse
		finalText string
		toolsUsed []string
		usage     Usage
		turnBase  int // index of the first message appended this turn
	)

	fail := func(err error) (*TurnResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordTurn(req.Agent.Provider, time.Since(start), false)
		logger.Error().Err(err).Msg("Turn failed")
		return nil, err
	}

	state := stateBuildingContext

	for state != stateDone {
		select {
		case <-ctx.Done():
			return fail(fmt.Errorf("%w: %v", ErrCompletionService, ctx.Err()))
		default:
		}

		switch state {
		case stateBuildingContext:
			if err := validateAgent(req.Agent); err != nil {
				return fail(fmt.Errorf("%w: %v", ErrConfiguration, err))
			}

			var err error
			provider, err = e.providers.NewProvider(req.Agent.Provider)
			if err != nil {
				return fail(fmt.Errorf("%w: %v", ErrConfiguration, err))
			}

			tools = e.resolver.Resolve(ctx, req.Agent.Tools)
			messages = BuildContext(req.Agent, tools, req.History, req.UserMessage, time.Now())
			turnBase = len(messages) - 1 // the new user message

			state = stateAwaitingFirstCompletion

		case stateAwaitingFirstCompletion:
			resp, err := e.complete(ctx, provider, CompletionRequest{
				Model:           req.Agent.Model,
				Messages:        messages,
				Tools:           descriptors(tools),
				Temperature:     req.Agent.Temperature,
				MaxOutputTokens: req.Agent.MaxOutputTokens,
			}, emit)
			if err != nil {
				return fail(err)
			}

			usage.Add(resp.Usage)
			first = resp

			if len(resp.ToolCalls) == 0 {
				finalText = resp.Text
				state = stateDone
			} else {
				state = stateDispatchingTools
			}

		case stateDispatchingTools:
			if emit != nil {
				emit(TurnEvent{Type: EventStatus, Status: StatusDispatchingTools})
			}

			messages = append(messages, Message{
				Role:      "assistant",
				Content:   first.Text,
				ToolCalls: first.ToolCalls,
			})

			// One at a time, in the order the model listed them; tool
			// messages must match tool_call_id order.
			for _, call := range first.ToolCalls {
				content := e.dispatchCall(ctx, call, tools)
				messages = append(messages, Message{
					Role:       "tool",
					Content:    content,
					ToolCallID: call.ID,
				})
				toolsUsed = appendUnique(toolsUsed, toolset.SanitizeName(call.Name))
			}

			state = stateAwaitingFollowupCompletion

		case stateAwaitingFollowupCompletion:
			// Exactly one follow-up, with no tools offered: a turn is
			// bounded at two completion round-trips.
			resp, err := e.complete(ctx, provider, CompletionRequest{
				Model:           req.Agent.Model,
				Messages:        messages,
				Temperature:     req.Agent.Temperature,
				MaxOutputTokens: req.Agent.MaxOutputTokens,
			}, emit)
			if err != nil {
				return fail(err)
			}

			usage.Add(resp.Usage)
			finalText = resp.Text
			state = stateDone
		}
	}

	messages = append(messages, Message{Role: "assistant", Content: finalText})

	result := &TurnResult{
		Text:      finalText,
		ToolsUsed: toolsUsed,
		Usage:     usage,
		Cost:      e.accountant.Cost(usage.PromptTokens, usage.CompletionTokens, len(toolsUsedCalls(first))),
		Messages:  messages[turnBase:],
	}
	if result.ToolsUsed == nil {
		result.ToolsUsed = []string{}
	}

	e.settle(ctx, req, result, logger)

	observability.RecordTurn(req.Agent.Provider, time.Since(start), true)
	logger.Info().
		Int("tool_calls", len(result.ToolsUsed)).
		Float64("cost", result.Cost).
		Dur("duration", time.Since(start)).
		Msg("Turn completed")

	return result, nil
}

// complete issues one completion call in the mode the turn runs in.
func (e *Engine) complete(ctx context.Context, provider Provider, creq CompletionRequest, emit func(TurnEvent)) (*CompletionResponse, error) {
	start := time.Now()

	var resp *CompletionResponse
	var err error
	mode := "buffered"

	if emit == nil {
		resp, err = provider.Complete(ctx, creq)
	} else {
		mode = "streamed"
		resp, err = provider.Stream(ctx, creq, func(text string) {
			emit(TurnEvent{Type: EventContent, Content: text})
		})
	}

	observability.RecordCompletionCall(provider.Name(), mode, time.Since(start), err == nil)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompletionService, err)
	}

	observability.RecordTokenUsage(provider.Name(), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp, nil
}

// dispatchCall executes one tool call and returns the sanitized, serialized
// payload for its tool-role message. A tool that did not survive resolution
// still produces a not-found error message so the model sees its request
// failed and the follow-up proceeds normally.
func (e *Engine) dispatchCall(ctx context.Context, call ToolCallRequest, tools []toolset.ResolvedTool) string {
	name := toolset.SanitizeName(call.Name)

	dreq := dispatch.Request{
		Name:         name,
		RawArguments: call.Arguments,
	}
	for _, tool := range tools {
		if tool.Descriptor.Name == name {
			dreq.Config = tool.Config
			dreq.Schema = tool.Descriptor.Schema
			break
		}
	}

	result := e.dispatcher.Dispatch(ctx, dreq)

	raw := map[string]interface{}{"success": result.Success}
	if result.Data != nil {
		raw["data"] = result.Data
	}
	if result.Error != "" {
		raw["error"] = result.Error
	}
	payload := sanitize.Payload(raw)

	serialized, err := json.Marshal(payload)
	if err != nil {
		// Unserializable tool output is itself a tool failure.
		return fmt.Sprintf(`{"success":false,"error":"unserializable tool result: %v"}`, err)
	}
	return string(serialized)
}

// settle costs the turn and requests a ledger debit. A refused debit flags
// the result as payment-required; the generated answer is never discarded.
func (e *Engine) settle(ctx context.Context, req TurnRequest, result *TurnResult, logger zerolog.Logger) {
	if e.ledger == nil || req.UserID == "" || result.Cost <= 0 {
		return
	}

	description := fmt.Sprintf("turn agent=%s model=%s", req.Agent.ID, req.Agent.Model)
	err := e.ledger.Consume(ctx, req.UserID, result.Cost, description)
	if errors.Is(err, credits.ErrInsufficientCredits) {
		result.PaymentRequired = true
		logger.Warn().Str("user_id", req.UserID).Float64("cost", result.Cost).Msg("Credit debit refused for completed turn")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("Credit debit failed")
	}
}

// validateAgent rejects configurations that cannot produce a model call.
func validateAgent(agent AgentSpec) error {
	if agent.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if agent.Instructions == "" {
		return fmt.Errorf("instructions cannot be empty")
	}
	if agent.Provider == "" {
		return fmt.Errorf("provider cannot be empty")
	}
	if agent.Temperature < 0 || agent.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if agent.MaxOutputTokens < 0 {
		return fmt.Errorf("max output tokens cannot be negative")
	}
	return nil
}

func descriptors(tools []toolset.ResolvedTool) []toolset.Descriptor {
	if len(tools) == 0 {
		return nil
	}
	out := make([]toolset.Descriptor, 0, len(tools))
	for _, tool := range tools {
		out = append(out, tool.Descriptor)
	}
	return out
}

func appendUnique(names []string, name string) []string {
	for _, existing := range names {
		if existing == name {
			return names
		}
	}
	return append(names, name)
}

func toolsUsedCalls(first *CompletionResponse) []ToolCallRequest {
	if first == nil {
		return nil
	}
	return first.ToolCalls
}
