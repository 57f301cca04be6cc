package toolset

import (
	"context"
	"fmt"
)

// ConfigSource is one named layer of tool configuration. Sources are merged
// in order, later layers overriding earlier keys.
type ConfigSource struct {
	Name  string
	Fetch func(ctx context.Context) (map[string]interface{}, error)
}

// BaseSource exposes a tool's stored/catalog base configuration.
func BaseSource(base map[string]interface{}) ConfigSource {
	return ConfigSource{
		Name: "base",
		Fetch: func(context.Context) (map[string]interface{}, error) {
			return base, nil
		},
	}
}

// CredentialRefreshSource exposes refreshed OAuth tokens for a tool name.
// Tools without stored credentials contribute nothing. Omitting this layer
// makes token-holding tools silently fall back to stale static config, so
// the resolver always includes it when a credential store is configured.
func CredentialRefreshSource(creds CredentialTokens, toolName string) ConfigSource {
	return ConfigSource{
		Name: "credential_refresh",
		Fetch: func(ctx context.Context) (map[string]interface{}, error) {
			if creds == nil {
				return nil, nil
			}
			return creds.LatestWithTokens(ctx, toolName)
		},
	}
}

// OverrideSource exposes the agent's per-reference custom configuration.
func OverrideSource(custom map[string]interface{}) ConfigSource {
	return ConfigSource{
		Name: "override",
		Fetch: func(context.Context) (map[string]interface{}, error) {
			return custom, nil
		},
	}
}

// MergeSources combines configuration layers with documented precedence:
// the last source wins on key conflicts. The result is always a fresh map;
// source maps are never mutated.
func MergeSources(ctx context.Context, sources ...ConfigSource) (map[string]interface{}, error) {
	merged := make(map[string]interface{})

	for _, src := range sources {
		layer, err := src.Fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("config source %s: %w", src.Name, err)
		}
		for k, v := range layer {
			merged[k] = v
		}
	}

	return merged, nil
}
