// Package conversation persists conversation history as append-only JSONL
// files, one per conversation key. It is the durable side of a turn: the
// engine stays stateless and hands its appended messages here.
package conversation

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mirelabs/conductor/internal/observability"
	"github.com/mirelabs/conductor/internal/tracing"
	"github.com/mirelabs/conductor/pkg/engine"
)

// archivedPrefix marks conversations that are closed but retained until the
// cleanup age passes.
const archivedPrefix = "archived-"

// Entry is one persisted line: the conversation key, the message, and when
// it was appended.
type Entry struct {
	Key     string         `json:"key"`
	Message engine.Message `json:"message"`
	At      time.Time      `json:"at"`
}

// Store manages JSONL conversation files under one directory.
type Store struct {
	dir        string
	logger     zerolog.Logger
	writeLocks map[string]*sync.Mutex
	locksMu    sync.RWMutex
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	observability.EnsureRegistered()

	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".conductor", "conversations")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create conversations directory: %w", err)
	}

	s := &Store{
		dir:        dir,
		logger:     logger,
		writeLocks: make(map[string]*sync.Mutex),
	}

	logger.Info().Str("dir", dir).Msg("Conversation store initialized")
	s.updateActiveMetric()

	return s, nil
}

// validateKey rejects keys that could escape the store directory.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("conversation key cannot be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("conversation key cannot contain '..'")
	}
	if strings.ContainsAny(key, "/\\") {
		return fmt.Errorf("conversation key cannot contain path separators")
	}
	if strings.Contains(key, "\x00") {
		return fmt.Errorf("conversation key cannot contain null bytes")
	}
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".jsonl")
}

func (s *Store) updateActiveMetric() {
	keys, err := s.List()
	if err != nil {
		return
	}
	observability.SetActiveConversations(len(keys))
}

// writeLock returns the mutex for a key. Locks live for the store's
// lifetime: evicting one while a writer is blocked on it would let a second
// writer mint a fresh mutex for the same key.
func (s *Store) writeLock(key string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.writeLocks[key]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	s.writeLocks[key] = lock
	return lock
}

// Append durably appends one message to a conversation, creating it on
// first write.
func (s *Store) Append(ctx context.Context, key string, message engine.Message) error {
	return s.AppendAll(ctx, key, []engine.Message{message})
}

// AppendAll durably appends a batch of messages under one lock, in order.
// A turn's whole transcript lands atomically with respect to other writers.
func (s *Store) AppendAll(ctx context.Context, key string, messages []engine.Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithConversationKey(ctx, key)
	ctx, span := tracing.StartSpan(
		ctx,
		"conductor.conversation",
		"conversation.append",
		attribute.String("conversation_key", key),
		attribute.Int("messages", len(messages)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger).With().Str("conversation_key", key).Logger()
	start := time.Now()
	defer func() {
		observability.RecordConversationSave(time.Since(start))
	}()

	if err := validateKey(key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	for i, msg := range messages {
		if msg.Role == "" {
			return fmt.Errorf("message %d has empty role", i)
		}
	}

	lock := s.writeLock(key)
	lock.Lock()
	defer lock.Unlock()

	created := false
	if _, err := os.Stat(s.path(key)); os.IsNotExist(err) {
		created = true
	}

	file, err := os.OpenFile(s.path(key), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open conversation file: %w", err)
	}
	defer file.Close()

	now := time.Now()
	for _, msg := range messages {
		data, err := json.Marshal(Entry{Key: key, Message: msg, At: now})
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to write message: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync conversation file: %w", err)
	}

	if created {
		s.updateActiveMetric()
	}

	logger.Debug().Int("messages", len(messages)).Msg("Messages appended")
	return nil
}

// Load returns a conversation's messages in append order. A conversation
// that does not exist yet is an empty history, not an error. Corrupt lines
// are skipped with a warning.
func (s *Store) Load(ctx context.Context, key string) ([]engine.Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithConversationKey(ctx, key)
	ctx, span := tracing.StartSpan(
		ctx,
		"conductor.conversation",
		"conversation.load",
		attribute.String("conversation_key", key),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger).With().Str("conversation_key", key).Logger()
	start := time.Now()
	defer func() {
		observability.RecordConversationLoad(time.Since(start))
	}()

	if err := validateKey(key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if _, err := os.Stat(s.path(key)); os.IsNotExist(err) {
		return []engine.Message{}, nil
	}

	file, err := os.Open(s.path(key))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open conversation file: %w", err)
	}
	defer file.Close()

	var messages []engine.Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse line, skipping")
			continue
		}
		if entry.Message.Role == "" {
			logger.Warn().Int("line", lineNum).Msg("Invalid entry, skipping")
			continue
		}

		messages = append(messages, entry.Message)
	}

	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read conversation file: %w", err)
	}

	logger.Debug().Int("messages", len(messages)).Msg("Conversation loaded")
	return messages, nil
}

// Archive renames a conversation so it stays readable but becomes eligible
// for aged cleanup. Archiving a missing conversation is a no-op.
func (s *Store) Archive(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if strings.HasPrefix(key, archivedPrefix) {
		return nil
	}

	lock := s.writeLock(key)
	lock.Lock()
	defer lock.Unlock()

	src := s.path(key)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}

	dst := s.path(archivedPrefix + key)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to archive conversation: %w", err)
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().Str("conversation_key", key).Msg("Conversation archived")
	return nil
}

// Delete removes a conversation file.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	lock := s.writeLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete conversation file: %w", err)
	}

	s.updateActiveMetric()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().Str("conversation_key", key).Msg("Conversation deleted")
	return nil
}

// List returns every conversation key in the store, archived ones included.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read conversations directory: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".jsonl"))
	}

	return keys, nil
}

// Info returns size, modification time and message count for a conversation.
func (s *Store) Info(ctx context.Context, key string) (map[string]interface{}, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	info, err := os.Stat(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("conversation does not exist")
		}
		return nil, fmt.Errorf("failed to stat conversation file: %w", err)
	}

	messages, err := s.Load(ctx, key)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"key":          key,
		"size":         info.Size(),
		"lastModified": info.ModTime(),
		"messageCount": len(messages),
	}, nil
}

// Replace atomically rewrites a conversation with the given messages.
// Used by pruning; the temp-file rename keeps readers from seeing a
// half-written file.
func (s *Store) Replace(ctx context.Context, key string, messages []engine.Message) error {
	if err := validateKey(key); err != nil {
		return err
	}

	lock := s.writeLock(key)
	lock.Lock()
	defer lock.Unlock()

	path := s.path(key)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	now := time.Now()
	for _, msg := range messages {
		data, err := json.Marshal(Entry{Key: key, Message: msg, At: now})
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write message: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace conversation file: %w", err)
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("conversation_key", key).
		Int("messages", len(messages)).
		Msg("Conversation replaced")

	return nil
}

// IsArchived reports whether a key names an archived conversation.
func IsArchived(key string) bool {
	return strings.HasPrefix(key, archivedPrefix)
}

// Close releases in-memory state. Files are already durable.
func (s *Store) Close() error {
	s.locksMu.Lock()
	s.writeLocks = make(map[string]*sync.Mutex)
	s.locksMu.Unlock()
	return nil
}
