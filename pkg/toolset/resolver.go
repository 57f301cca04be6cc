package toolset

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Resolver turns tool references into resolved, model-callable tools.
type Resolver struct {
	store   Store
	catalog Catalog
	creds   CredentialTokens
	logger  zerolog.Logger
}

// ResolverConfig holds resolver collaborators. Store, Catalog and
// Credentials are all optional; references they would serve are dropped
// with a warning when absent.
type ResolverConfig struct {
	Store       Store
	Catalog     Catalog
	Credentials CredentialTokens
	Logger      zerolog.Logger
}

// NewResolver creates a resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	return &Resolver{
		store:   cfg.Store,
		catalog: cfg.Catalog,
		creds:   cfg.Credentials,
		logger:  cfg.Logger,
	}
}

// Resolve produces the ordered tool set for one turn. A reference that
// cannot be resolved is dropped with a logged warning rather than failing
// the turn; duplicate sanitized names resolve last-wins.
func (r *Resolver) Resolve(ctx context.Context, refs []Reference) []ResolvedTool {
	resolved := make([]ResolvedTool, 0, len(refs))
	byName := make(map[string]int)

	for i, ref := range refs {
		def, err := r.lookup(ctx, ref)
		if err != nil {
			r.logger.Warn().
				Int("ref_index", i).
				Str("stored_id", ref.StoredID).
				Str("catalog_id", ref.CatalogID).
				Err(err).
				Msg("Dropping unresolvable tool reference")
			continue
		}

		name := SanitizeName(def.Name)
		schema := def.Schema
		if schema == nil {
			schema = map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			}
		}

		tool := ResolvedTool{
			Descriptor: Descriptor{
				Name:        name,
				Description: def.Description,
				Schema:      schema,
				Guidance:    def.Guidance,
			},
			Config: r.configFunc(def, ref, name),
		}

		if idx, dup := byName[name]; dup {
			// Last-wins, matching historical behavior. Likely unintended
			// upstream, so it is at least loud here.
			r.logger.Warn().Str("tool", name).Msg("Duplicate tool name in request, keeping later definition")
			resolved[idx] = tool
			continue
		}

		byName[name] = len(resolved)
		resolved = append(resolved, tool)
	}

	return resolved
}

// configFunc builds the dispatch-time configuration resolution closure.
// Precedence, lowest to highest: stored base config, refreshed credentials,
// the agent's per-reference overrides.
func (r *Resolver) configFunc(def *Definition, ref Reference, name string) ConfigFunc {
	base := def.Config
	custom := ref.CustomConfig
	creds := r.creds

	return func(ctx context.Context) (map[string]interface{}, error) {
		return MergeSources(ctx,
			BaseSource(base),
			CredentialRefreshSource(creds, name),
			OverrideSource(custom),
		)
	}
}

func (r *Resolver) lookup(ctx context.Context, ref Reference) (*Definition, error) {
	switch {
	case ref.Inline != nil:
		if ref.Inline.Name == "" {
			return nil, fmt.Errorf("inline tool has no name")
		}
		return ref.Inline, nil

	case ref.StoredID != "":
		if r.store == nil {
			return nil, fmt.Errorf("no tool store configured")
		}
		def, err := r.store.ToolByID(ctx, ref.StoredID)
		if err != nil {
			return nil, fmt.Errorf("stored tool %s: %w", ref.StoredID, err)
		}
		if def == nil {
			return nil, fmt.Errorf("stored tool %s not found", ref.StoredID)
		}
		return def, nil

	case ref.CatalogID != "":
		if r.catalog == nil {
			return nil, fmt.Errorf("no tool catalog configured")
		}
		def, err := r.catalog.CatalogTool(ctx, ref.CatalogID)
		if err != nil {
			return nil, fmt.Errorf("catalog tool %s: %w", ref.CatalogID, err)
		}
		if def == nil {
			return nil, fmt.Errorf("catalog tool %s not found", ref.CatalogID)
		}
		return def, nil

	default:
		return nil, fmt.Errorf("empty tool reference")
	}
}
