package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	// DefaultCleanupAge is how long archived conversations are retained.
	DefaultCleanupAge = 7 * 24 * time.Hour
	// DefaultMaxMessages is the per-conversation cap applied by pruning.
	DefaultMaxMessages = 500
	// DefaultCleanupSchedule runs the sweep once a day.
	DefaultCleanupSchedule = "@daily"
)

// Cleanup periodically deletes aged archived conversations and prunes
// oversized live ones.
type Cleanup struct {
	store       *Store
	logger      zerolog.Logger
	cleanupAge  time.Duration
	maxMessages int
	schedule    string
	cron        *cron.Cron
}

// CleanupConfig holds cleanup options; zero values take the defaults above.
type CleanupConfig struct {
	CleanupAge  time.Duration
	MaxMessages int
	Schedule    string
	Logger      zerolog.Logger
}

// NewCleanup creates a cleanup sweeper for the store.
func NewCleanup(store *Store, cfg CleanupConfig) *Cleanup {
	if cfg.CleanupAge == 0 {
		cfg.CleanupAge = DefaultCleanupAge
	}
	if cfg.MaxMessages == 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultCleanupSchedule
	}

	return &Cleanup{
		store:       store,
		logger:      cfg.Logger,
		cleanupAge:  cfg.CleanupAge,
		maxMessages: cfg.MaxMessages,
		schedule:    cfg.Schedule,
	}
}

// Start schedules the sweep and runs one immediately.
func (c *Cleanup) Start() error {
	if c.cron != nil {
		return fmt.Errorf("cleanup is already running")
	}

	c.cron = cron.New()
	if _, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.SweepNow(context.Background()); err != nil {
			c.logger.Error().Err(err).Msg("Conversation cleanup sweep failed")
		}
	}); err != nil {
		c.cron = nil
		return fmt.Errorf("invalid cleanup schedule %q: %w", c.schedule, err)
	}
	c.cron.Start()

	c.logger.Info().
		Str("schedule", c.schedule).
		Dur("cleanup_age", c.cleanupAge).
		Msg("Conversation cleanup started")

	if err := c.SweepNow(context.Background()); err != nil {
		c.logger.Error().Err(err).Msg("Initial conversation cleanup sweep failed")
	}

	return nil
}

// Stop halts the schedule; an in-flight sweep finishes.
func (c *Cleanup) Stop() {
	if c.cron == nil {
		return
	}
	c.cron.Stop()
	c.cron = nil
	c.logger.Info().Msg("Conversation cleanup stopped")
}

// SweepNow runs one cleanup pass.
func (c *Cleanup) SweepNow(ctx context.Context) error {
	keys, err := c.store.List()
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}

	now := time.Now()
	deleted := 0

	for _, key := range keys {
		if err := c.prune(ctx, key); err != nil {
			c.logger.Warn().Str("conversation_key", key).Err(err).Msg("Failed to prune conversation")
		}

		if !IsArchived(key) {
			continue
		}

		info, err := c.store.Info(ctx, key)
		if err != nil {
			c.logger.Warn().Str("conversation_key", key).Err(err).Msg("Failed to stat conversation")
			continue
		}

		lastModified, ok := info["lastModified"].(time.Time)
		if !ok {
			continue
		}

		if age := now.Sub(lastModified); age >= c.cleanupAge {
			if err := c.store.Delete(ctx, key); err != nil {
				c.logger.Error().Str("conversation_key", key).Err(err).Msg("Failed to delete conversation")
				continue
			}
			deleted++
		}
	}

	if deleted > 0 {
		c.logger.Info().Int("deleted", deleted).Msg("Cleaned up archived conversations")
	}

	return nil
}

// prune rewrites a conversation down to the newest maxMessages entries.
func (c *Cleanup) prune(ctx context.Context, key string) error {
	if c.maxMessages <= 0 {
		return nil
	}

	messages, err := c.store.Load(ctx, key)
	if err != nil {
		return err
	}
	if len(messages) <= c.maxMessages {
		return nil
	}

	kept := messages[len(messages)-c.maxMessages:]
	if err := c.store.Replace(ctx, key, kept); err != nil {
		return err
	}

	c.logger.Debug().
		Str("conversation_key", key).
		Int("from", len(messages)).
		Int("to", len(kept)).
		Msg("Conversation pruned")

	return nil
}
