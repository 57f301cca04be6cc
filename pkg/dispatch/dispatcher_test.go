package dispatch

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct {
	config map[string]interface{}
}

func (e *echoTool) Execute(_ context.Context, operation string, params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"operation": operation,
		"params":    params,
		"config":    e.config,
	}, nil
}

type failingTool struct{}

func (failingTool) Execute(context.Context, string, map[string]interface{}) (interface{}, error) {
	return nil, fmt.Errorf("upstream unavailable")
}

type panickyTool struct{}

func (panickyTool) Execute(context.Context, string, map[string]interface{}) (interface{}, error) {
	panic("boom")
}

type sleepyTool struct{}

func (sleepyTool) Execute(ctx context.Context, _ string, _ map[string]interface{}) (interface{}, error) {
	select {
	case <-time.After(5 * time.Second):
		return "done", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func testDispatcher(t *testing.T, timeout time.Duration) *Dispatcher {
	t.Helper()

	registry := NewRegistry(map[string]Factory{
		"Weather API": func(config map[string]interface{}) (Tool, error) {
			return &echoTool{config: config}, nil
		},
		"failing": func(map[string]interface{}) (Tool, error) { return failingTool{}, nil },
		"panicky": func(map[string]interface{}) (Tool, error) { return panickyTool{}, nil },
		"sleepy":  func(map[string]interface{}) (Tool, error) { return sleepyTool{}, nil },
		"unbuildable": func(map[string]interface{}) (Tool, error) {
			return nil, fmt.Errorf("missing api key")
		},
	})

	d, err := NewDispatcher(DispatcherConfig{
		Registry:    registry,
		CallTimeout: timeout,
		Logger:      zerolog.New(os.Stdout).Level(zerolog.Disabled),
	})
	require.NoError(t, err)
	return d
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(map[string]Factory{
		"Weather API": func(map[string]interface{}) (Tool, error) { return &echoTool{}, nil },
	})

	t.Run("lookup agrees with sanitized names", func(t *testing.T) {
		_, ok := registry.Lookup("weather_api")
		assert.True(t, ok)

		_, ok = registry.Lookup("Weather API")
		assert.True(t, ok)

		_, ok = registry.Lookup("missing")
		assert.False(t, ok)
	})

	t.Run("names are sanitized and sorted", func(t *testing.T) {
		assert.Equal(t, []string{"weather_api"}, registry.Names())
		assert.Equal(t, 1, registry.Len())
	})
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("executes tool with parsed arguments and merged config", func(t *testing.T) {
		d := testDispatcher(t, 0)

		res := d.Dispatch(ctx, Request{
			Name:         "weather_api",
			RawArguments: `{"location": "Paris", "operation": "current"}`,
			Config: func(context.Context) (map[string]interface{}, error) {
				return map[string]interface{}{"units": "metric"}, nil
			},
		})

		require.True(t, res.Success)
		data := res.Data.(map[string]interface{})
		assert.Equal(t, "current", data["operation"])
		assert.Equal(t, "Paris", data["params"].(map[string]interface{})["location"])
		assert.Equal(t, "metric", data["config"].(map[string]interface{})["units"])
	})

	t.Run("unsanitized model name still resolves", func(t *testing.T) {
		d := testDispatcher(t, 0)

		res := d.Dispatch(ctx, Request{Name: "Weather API", RawArguments: `{}`})
		assert.True(t, res.Success)
	})

	t.Run("malformed arguments are a recoverable failure", func(t *testing.T) {
		d := testDispatcher(t, 0)

		res := d.Dispatch(ctx, Request{Name: "weather_api", RawArguments: `{"location":`})
		assert.False(t, res.Success)
		assert.Equal(t, "invalid arguments", res.Error)
	})

	t.Run("empty arguments mean no parameters", func(t *testing.T) {
		d := testDispatcher(t, 0)

		res := d.Dispatch(ctx, Request{Name: "weather_api"})
		assert.True(t, res.Success)
	})

	t.Run("unknown tool returns not-found, never raises", func(t *testing.T) {
		d := testDispatcher(t, 0)

		res := d.Dispatch(ctx, Request{Name: "ghost", RawArguments: `{}`})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "tool not found: ghost")
	})

	t.Run("schema validation rejects bad parameters", func(t *testing.T) {
		d := testDispatcher(t, 0)
		schema := map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"location": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"location"},
		}

		res := d.Dispatch(ctx, Request{Name: "weather_api", RawArguments: `{}`, Schema: schema})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "parameter validation failed")

		res = d.Dispatch(ctx, Request{Name: "weather_api", RawArguments: `{"location": "Paris"}`, Schema: schema})
		assert.True(t, res.Success)
	})

	t.Run("tool errors are absorbed into the result", func(t *testing.T) {
		d := testDispatcher(t, 0)

		res := d.Dispatch(ctx, Request{Name: "failing", RawArguments: `{}`})
		assert.False(t, res.Success)
		assert.Equal(t, "upstream unavailable", res.Error)
	})

	t.Run("panics are absorbed into the result", func(t *testing.T) {
		d := testDispatcher(t, 0)

		res := d.Dispatch(ctx, Request{Name: "panicky", RawArguments: `{}`})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "tool panicked: boom")
	})

	t.Run("construction failure is recoverable", func(t *testing.T) {
		d := testDispatcher(t, 0)

		res := d.Dispatch(ctx, Request{Name: "unbuildable", RawArguments: `{}`})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "missing api key")
	})

	t.Run("config resolution failure is recoverable", func(t *testing.T) {
		d := testDispatcher(t, 0)

		res := d.Dispatch(ctx, Request{
			Name:         "weather_api",
			RawArguments: `{}`,
			Config: func(context.Context) (map[string]interface{}, error) {
				return nil, fmt.Errorf("credential store offline")
			},
		})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "credential store offline")
	})

	t.Run("call timeout cancels a hanging tool", func(t *testing.T) {
		d := testDispatcher(t, 50*time.Millisecond)

		start := time.Now()
		res := d.Dispatch(ctx, Request{Name: "sleepy", RawArguments: `{}`})

		assert.False(t, res.Success)
		assert.Less(t, time.Since(start), time.Second)
	})
}
