package config

// Config represents the main Conductor configuration
type Config struct {
	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Providers
	Providers []ProviderConfig `json:"providers" mapstructure:"providers"`

	// Agents
	Agents []AgentConfig `json:"agents" mapstructure:"agents"`

	// Pricing
	Pricing PricingConfig `json:"pricing" mapstructure:"pricing"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Credits
	Credits CreditsConfig `json:"credits" mapstructure:"credits"`

	// Credentials
	Credentials CredentialsConfig `json:"credentials" mapstructure:"credentials"`

	// Gateway
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ProviderConfig holds completion provider credentials
type ProviderConfig struct {
	Name   string `json:"name" mapstructure:"name"` // openai, anthropic
	APIKey string `json:"api_key" mapstructure:"api_key"`
}

// AgentConfig represents an agent configuration
type AgentConfig struct {
	ID              string          `json:"id" mapstructure:"id"`
	Name            string          `json:"name" mapstructure:"name"`
	Instructions    string          `json:"instructions" mapstructure:"instructions"`
	Provider        string          `json:"provider" mapstructure:"provider"`
	Model           string          `json:"model" mapstructure:"model"`
	Temperature     float64         `json:"temperature" mapstructure:"temperature"`
	MaxOutputTokens int             `json:"max_output_tokens" mapstructure:"max_output_tokens"`
	Tools           []ToolRefConfig `json:"tools" mapstructure:"tools"`
}

// ToolRefConfig references a tool available to an agent
type ToolRefConfig struct {
	StoredID     string                 `json:"stored_id,omitempty" mapstructure:"stored_id"`
	CatalogID    string                 `json:"catalog_id,omitempty" mapstructure:"catalog_id"`
	CustomConfig map[string]interface{} `json:"custom_config,omitempty" mapstructure:"custom_config"`
}

// PricingConfig holds credit pricing for usage accounting
type PricingConfig struct {
	PromptPerKToken     float64 `json:"prompt_per_k_token" mapstructure:"prompt_per_k_token"`
	CompletionPerKToken float64 `json:"completion_per_k_token" mapstructure:"completion_per_k_token"`
	PerToolCall         float64 `json:"per_tool_call" mapstructure:"per_tool_call"`
}

// ToolsConfig holds tool dispatch settings
type ToolsConfig struct {
	// CallTimeoutSeconds bounds a single tool dispatch. Zero disables the
	// deadline and matches historical behavior.
	CallTimeoutSeconds int `json:"call_timeout_seconds" mapstructure:"call_timeout_seconds"`
}

// CreditsConfig holds credit ledger settings
type CreditsConfig struct {
	LedgerPath string `json:"ledger_path" mapstructure:"ledger_path"`
}

// CredentialsConfig holds credential store settings
type CredentialsConfig struct {
	StorePath string `json:"store_path" mapstructure:"store_path"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Addr         string `json:"addr" mapstructure:"addr"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a configuration with sane defaults
func DefaultConfig() *Config {
	return &Config{
		Pricing: PricingConfig{
			PromptPerKToken:     0.01,
			CompletionPerKToken: 0.03,
			PerToolCall:         0.5,
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:8710",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
	}
}
