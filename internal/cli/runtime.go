package cli

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/mirelabs/conductor/internal/config"
	"github.com/mirelabs/conductor/internal/logger"
	"github.com/mirelabs/conductor/pkg/conversation"
	"github.com/mirelabs/conductor/pkg/coretools"
	"github.com/mirelabs/conductor/pkg/credentials"
	"github.com/mirelabs/conductor/pkg/credits"
	"github.com/mirelabs/conductor/pkg/dispatch"
	"github.com/mirelabs/conductor/pkg/engine"
	"github.com/mirelabs/conductor/pkg/toolset"
)

// runtime wires the configured collaborators together for one command
// invocation. Commands build it, use it, and Close it on the way out.
type runtime struct {
	cfgMu         sync.RWMutex
	cfg           *config.Config
	log           *logger.Logger
	credentials   *credentials.Store
	ledger        *credits.SQLiteLedger
	engine        *engine.Engine
	conversations *conversation.Store
}

// buildRuntime loads configuration and constructs the engine stack. Console
// controls whether logs also go to stdout; one-shot commands keep their
// output clean and log to file only.
func buildRuntime(console bool) (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if rootCmd.PersistentFlags().Changed("log-level") {
		level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Console:   console,
		Pretty:    console,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := log.GetZerolog()

	creds, err := credentials.Open(cfg.Credentials.StorePath, zl)
	if err != nil {
		log.Close()
		return nil, err
	}

	ledger, err := credits.OpenLedger(cfg.Credits.LedgerPath, zl)
	if err != nil {
		creds.Close()
		log.Close()
		return nil, err
	}

	resolver := toolset.NewResolver(toolset.ResolverConfig{
		Catalog:     coretools.Catalog{},
		Credentials: creds,
		Logger:      zl,
	})

	dispatcher, err := dispatch.NewDispatcher(dispatch.DispatcherConfig{
		Registry:    dispatch.NewRegistry(coretools.Factories()),
		CallTimeout: time.Duration(cfg.Tools.CallTimeoutSeconds) * time.Second,
		Logger:      zl,
	})
	if err != nil {
		ledger.Close()
		creds.Close()
		log.Close()
		return nil, err
	}

	keys := make(map[string]string, len(cfg.Providers))
	for _, p := range cfg.Providers {
		keys[p.Name] = p.APIKey
	}

	eng, err := engine.New(engine.Config{
		Resolver:   resolver,
		Dispatcher: dispatcher,
		Providers:  engine.NewAPIProviderFactory(keys),
		Accountant: credits.NewAccountant(credits.Pricing{
			PromptPerKToken:     cfg.Pricing.PromptPerKToken,
			CompletionPerKToken: cfg.Pricing.CompletionPerKToken,
			PerToolCall:         cfg.Pricing.PerToolCall,
		}),
		Ledger: ledger,
		Logger: zl,
	})
	if err != nil {
		ledger.Close()
		creds.Close()
		log.Close()
		return nil, err
	}

	conversations, err := conversation.NewStore(filepath.Join(cfg.DataDir, "conversations"), zl)
	if err != nil {
		ledger.Close()
		creds.Close()
		log.Close()
		return nil, err
	}

	return &runtime{
		cfg:           cfg,
		log:           log,
		credentials:   creds,
		ledger:        ledger,
		engine:        eng,
		conversations: conversations,
	}, nil
}

// Close releases runtime resources.
func (r *runtime) Close() {
	r.conversations.Close()
	r.ledger.Close()
	r.credentials.Close()
	r.log.Close()
}

// agentSpec converts a configured agent into the engine's shape.
func agentSpec(a config.AgentConfig) engine.AgentSpec {
	refs := make([]toolset.Reference, 0, len(a.Tools))
	for _, t := range a.Tools {
		refs = append(refs, toolset.Reference{
			StoredID:     t.StoredID,
			CatalogID:    t.CatalogID,
			CustomConfig: t.CustomConfig,
		})
	}

	return engine.AgentSpec{
		ID:              a.ID,
		Name:            a.Name,
		Instructions:    a.Instructions,
		Provider:        a.Provider,
		Model:           a.Model,
		Temperature:     a.Temperature,
		MaxOutputTokens: a.MaxOutputTokens,
		Tools:           refs,
	}
}

// lookupAgent finds a configured agent by id, falling back to the first
// configured agent when id is empty. Reads go through the config lock so
// hot-reloaded agent definitions take effect on the next turn.
func (r *runtime) lookupAgent(id string) (engine.AgentSpec, bool) {
	r.cfgMu.RLock()
	agents := r.cfg.Agents
	r.cfgMu.RUnlock()

	if id == "" && len(agents) > 0 {
		return agentSpec(agents[0]), true
	}
	for _, a := range agents {
		if a.ID == id {
			return agentSpec(a), true
		}
	}
	return engine.AgentSpec{}, false
}

// swapConfig installs a freshly reloaded configuration. Only per-turn reads
// (agent definitions) pick it up; collaborators built at startup keep their
// original settings until restart.
func (r *runtime) swapConfig(cfg *config.Config) {
	r.cfgMu.Lock()
	r.cfg = cfg
	r.cfgMu.Unlock()
}
