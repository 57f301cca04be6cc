// Package toolset resolves an agent's declared tool references into
// model-facing tool descriptors and per-tool configuration functions.
package toolset

import "context"

// Definition is the stored shape of a tool: what the model sees plus the
// base configuration its implementation is constructed with.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Schema      map[string]interface{} `json:"schema,omitempty"` // JSON Schema for parameters
	Config      map[string]interface{} `json:"config,omitempty"`
	Guidance    string                 `json:"guidance,omitempty"` // operating notes surfaced in the system prompt
}

// Reference points at a tool an agent wants available. Exactly one of
// StoredID, CatalogID or Inline identifies the tool; CustomConfig overrides
// the tool's base configuration for this agent only.
type Reference struct {
	StoredID     string                 `json:"stored_id,omitempty"`
	CatalogID    string                 `json:"catalog_id,omitempty"`
	Inline       *Definition            `json:"inline,omitempty"`
	CustomConfig map[string]interface{} `json:"custom_config,omitempty"`
}

// Descriptor is the resolved, model-facing shape of a tool. Name is always
// sanitized: non-empty, lower-case, matching [a-z0-9_-]+.
type Descriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Schema      map[string]interface{} `json:"schema"`
	Guidance    string                 `json:"-"`
}

// ConfigFunc yields the fully merged configuration for a tool. It is
// evaluated at dispatch time so credential refresh picks up current tokens.
type ConfigFunc func(ctx context.Context) (map[string]interface{}, error)

// ResolvedTool pairs a descriptor with its configuration resolution function.
type ResolvedTool struct {
	Descriptor Descriptor
	Config     ConfigFunc
}

// Store looks up tool definitions persisted by the surrounding service.
type Store interface {
	ToolByID(ctx context.Context, id string) (*Definition, error)
}

// Catalog looks up built-in tool definitions shipped with the process.
type Catalog interface {
	CatalogTool(ctx context.Context, id string) (*Definition, error)
}

// CredentialTokens supplies refreshed server-issued tokens for tools that
// hold OAuth credentials, keyed by sanitized tool name. Implementations
// return the most recently updated record that actually carries tokens, or
// nil when none exists.
type CredentialTokens interface {
	LatestWithTokens(ctx context.Context, toolName string) (map[string]interface{}, error)
}
