package config

import (
	"fmt"
)

var knownProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
}

// Validate checks the configuration for fatal problems. An agent without a
// model or instructions can never complete a turn, so these are rejected up
// front rather than at call time.
func Validate(cfg *Config) error {
	for _, p := range cfg.Providers {
		if !knownProviders[p.Name] {
			return fmt.Errorf("unknown provider %q", p.Name)
		}
		if p.APIKey == "" {
			return fmt.Errorf("provider %q has no api_key", p.Name)
		}
	}

	seen := map[string]bool{}
	for _, a := range cfg.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent %q has no id", a.Name)
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true

		if a.Model == "" {
			return fmt.Errorf("agent %q has no model", a.ID)
		}
		if a.Instructions == "" {
			return fmt.Errorf("agent %q has no instructions", a.ID)
		}
		if a.Temperature < 0 || a.Temperature > 1 {
			return fmt.Errorf("agent %q temperature must be between 0 and 1", a.ID)
		}
		if a.MaxOutputTokens < 0 {
			return fmt.Errorf("agent %q max_output_tokens cannot be negative", a.ID)
		}
		for _, ref := range a.Tools {
			refs := 0
			if ref.StoredID != "" {
				refs++
			}
			if ref.CatalogID != "" {
				refs++
			}
			if refs != 1 {
				return fmt.Errorf("agent %q tool reference must name exactly one of stored_id or catalog_id", a.ID)
			}
		}
	}

	if cfg.Pricing.PromptPerKToken < 0 || cfg.Pricing.CompletionPerKToken < 0 || cfg.Pricing.PerToolCall < 0 {
		return fmt.Errorf("pricing rates cannot be negative")
	}
	if cfg.Tools.CallTimeoutSeconds < 0 {
		return fmt.Errorf("tools.call_timeout_seconds cannot be negative")
	}

	return nil
}

// AgentByID finds an agent configuration by id
func (c *Config) AgentByID(id string) (*AgentConfig, bool) {
	for i := range c.Agents {
		if c.Agents[i].ID == id {
			return &c.Agents[i], true
		}
	}
	return nil, false
}

// ProviderKey returns the configured API key for a provider name
func (c *Config) ProviderKey(name string) (string, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p.APIKey, true
		}
	}
	return "", false
}
