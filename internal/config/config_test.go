package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Providers = []ProviderConfig{{Name: "openai", APIKey: "sk-test"}}
	cfg.Agents = []AgentConfig{
		{
			ID:           "concierge",
			Name:         "Concierge",
			Instructions: "You are a helpful assistant.",
			Provider:     "openai",
			Model:        "gpt-4o",
			Temperature:  0.7,
			Tools: []ToolRefConfig{
				{CatalogID: "clock"},
			},
		},
	}
	return cfg
}

func TestValidate(t *testing.T) {
	t.Run("should accept a valid config", func(t *testing.T) {
		assert.NoError(t, Validate(validConfig()))
	})

	t.Run("should reject unknown provider", func(t *testing.T) {
		cfg := validConfig()
		cfg.Providers[0].Name = "mystery"
		assert.ErrorContains(t, Validate(cfg), "unknown provider")
	})

	t.Run("should reject agent without model", func(t *testing.T) {
		cfg := validConfig()
		cfg.Agents[0].Model = ""
		assert.ErrorContains(t, Validate(cfg), "no model")
	})

	t.Run("should reject agent without instructions", func(t *testing.T) {
		cfg := validConfig()
		cfg.Agents[0].Instructions = ""
		assert.ErrorContains(t, Validate(cfg), "no instructions")
	})

	t.Run("should reject duplicate agent ids", func(t *testing.T) {
		cfg := validConfig()
		cfg.Agents = append(cfg.Agents, cfg.Agents[0])
		assert.ErrorContains(t, Validate(cfg), "duplicate agent id")
	})

	t.Run("should reject ambiguous tool reference", func(t *testing.T) {
		cfg := validConfig()
		cfg.Agents[0].Tools = []ToolRefConfig{{StoredID: "1", CatalogID: "clock"}}
		assert.ErrorContains(t, Validate(cfg), "exactly one")
	})

	t.Run("should reject negative pricing", func(t *testing.T) {
		cfg := validConfig()
		cfg.Pricing.PerToolCall = -1
		assert.ErrorContains(t, Validate(cfg), "pricing")
	})
}

func TestLoader(t *testing.T) {
	t.Run("should return defaults when file is missing", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Pricing, cfg.Pricing)
	})

	t.Run("should load values from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "conductor.json")
		data := `{
			"data_dir": "/tmp/conductor-test",
			"providers": [{"name": "anthropic", "api_key": "key"}],
			"pricing": {"prompt_per_k_token": 0.02},
			"tools": {"call_timeout_seconds": 45}
		}`
		require.NoError(t, os.WriteFile(path, []byte(data), 0600))

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "/tmp/conductor-test", cfg.DataDir)
		assert.Equal(t, "anthropic", cfg.Providers[0].Name)
		assert.Equal(t, 0.02, cfg.Pricing.PromptPerKToken)
		assert.Equal(t, 45, cfg.Tools.CallTimeoutSeconds)
		// Derived paths land under the data dir
		assert.Equal(t, filepath.Join("/tmp/conductor-test", "credits.db"), cfg.Credits.LedgerPath)
	})

	t.Run("should round-trip through save", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "conductor.json")
		loader := NewLoader(path)

		cfg := validConfig()
		cfg.DataDir = "/tmp/conductor-rt"
		require.NoError(t, loader.Save(cfg))

		loaded, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, "concierge", loaded.Agents[0].ID)
		assert.Equal(t, "sk-test", loaded.Providers[0].APIKey)
	})
}

func TestHelpers(t *testing.T) {
	cfg := validConfig()

	agent, ok := cfg.AgentByID("concierge")
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", agent.Model)

	_, ok = cfg.AgentByID("ghost")
	assert.False(t, ok)

	key, ok := cfg.ProviderKey("openai")
	require.True(t, ok)
	assert.Equal(t, "sk-test", key)

	_, ok = cfg.ProviderKey("anthropic")
	assert.False(t, ok)
}
