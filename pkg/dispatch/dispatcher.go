package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/mirelabs/conductor/internal/observability"
	"github.com/mirelabs/conductor/internal/tracing"
	"github.com/mirelabs/conductor/pkg/toolset"
)

// Result is the outcome of one tool invocation. A failed invocation is data,
// not an error: the model sees the failure text and reacts in the follow-up
// completion.
type Result struct {
	Success  bool                   `json:"success"`
	Data     interface{}            `json:"data,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Duration time.Duration          `json:"-"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Request carries everything needed to invoke one tool call.
type Request struct {
	// Name as the model issued it; sanitized before lookup.
	Name string
	// RawArguments is the provider-streamed JSON argument string.
	RawArguments string
	// Config resolves the tool's merged configuration; nil means empty.
	Config toolset.ConfigFunc
	// Schema optionally validates parsed arguments before execution.
	Schema map[string]interface{}
}

// Dispatcher resolves tool calls against a registry and executes them.
type Dispatcher struct {
	registry    *Registry
	callTimeout time.Duration
	logger      zerolog.Logger
}

// DispatcherConfig holds dispatcher construction parameters.
type DispatcherConfig struct {
	Registry *Registry
	// CallTimeout bounds a single tool execution. Zero imposes no deadline,
	// matching historical behavior; timeout policy is otherwise a
	// tool-level concern.
	CallTimeout time.Duration
	Logger      zerolog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	return &Dispatcher{
		registry:    cfg.Registry,
		callTimeout: cfg.CallTimeout,
		logger:      cfg.Logger,
	}, nil
}

// Dispatch parses, validates and executes one tool call. It never returns
// an error: every failure mode becomes a Result with Success=false so a
// single bad tool call cannot abort the turn.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	start := time.Now()
	name := toolset.SanitizeName(req.Name)
	logger := tracing.LoggerFromContext(ctx, d.logger).With().Str("tool", name).Logger()

	result := d.dispatch(ctx, name, req, logger)
	result.Duration = time.Since(start)

	observability.RecordToolDispatch(name, result.Duration, result.Success)

	if result.Success {
		logger.Debug().Dur("duration", result.Duration).Msg("Tool dispatch completed")
	} else {
		logger.Warn().Dur("duration", result.Duration).Str("error", result.Error).Msg("Tool dispatch failed")
	}

	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, name string, req Request, logger zerolog.Logger) Result {
	params, err := parseArguments(req.RawArguments)
	if err != nil {
		return Result{Success: false, Error: "invalid arguments"}
	}

	factory, ok := d.registry.Lookup(name)
	if !ok {
		return Result{Success: false, Error: fmt.Sprintf("tool not found: %s", name)}
	}

	if req.Schema != nil {
		if err := validateParams(req.Schema, params); err != nil {
			return Result{Success: false, Error: fmt.Sprintf("parameter validation failed: %v", err)}
		}
	}

	config := map[string]interface{}{}
	if req.Config != nil {
		config, err = req.Config(ctx)
		if err != nil {
			return Result{Success: false, Error: fmt.Sprintf("configuration resolution failed: %v", err)}
		}
	}

	tool, err := factory(config)
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("tool construction failed: %v", err)}
	}

	operation, _ := params["operation"].(string)
	delete(params, "operation")

	if d.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
	}

	data, err := execute(ctx, tool, operation, params)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	return Result{Success: true, Data: data}
}

// execute runs the tool, converting a panic into an error so one broken
// implementation never takes down the turn.
func execute(ctx context.Context, tool Tool, operation string, params map[string]interface{}) (data interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()

	return tool.Execute(ctx, operation, params)
}

// parseArguments decodes the raw argument string the model produced.
// An empty string means no arguments.
func parseArguments(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}

	var params map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return params, nil
}

func validateParams(schema map[string]interface{}, params map[string]interface{}) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	result, err := compiled.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("validation errors: %v", msgs)
	}

	return nil
}
