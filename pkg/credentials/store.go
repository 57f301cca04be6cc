// Package credentials persists server-issued OAuth tokens for tools and
// feeds the resolver's credential-refresh configuration layer.
package credentials

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Record is one stored credential for a tool.
type Record struct {
	ID           int64
	ToolName     string
	AccessToken  string
	RefreshToken string
	Extra        map[string]interface{}
	UpdatedAt    time.Time
}

// Store is a sqlite-backed credential store.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if necessary) the credential store at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create credential store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS credentials (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tool_name TEXT NOT NULL,
		access_token TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '',
		extra TEXT NOT NULL DEFAULT '{}',
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_credentials_tool ON credentials(tool_name, updated_at);`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize credential schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("Credential store opened")

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or refreshes a credential record for a tool.
func (s *Store) Put(ctx context.Context, rec Record) error {
	extra := rec.Extra
	if extra == nil {
		extra = map[string]interface{}{}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("failed to encode credential extra: %w", err)
	}

	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO credentials (tool_name, access_token, refresh_token, extra, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ToolName, rec.AccessToken, rec.RefreshToken, string(extraJSON), updated.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	s.logger.Debug().Str("tool", rec.ToolName).Msg("Credential stored")
	return nil
}

// LatestWithTokens returns the token fields of the most recently updated
// credential for toolName that actually carries an access token, shaped as a
// configuration layer. It returns nil when no such record exists.
func (s *Store) LatestWithTokens(ctx context.Context, toolName string) (map[string]interface{}, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, extra
		 FROM credentials
		 WHERE tool_name = ? AND access_token != ''
		 ORDER BY updated_at DESC, id DESC
		 LIMIT 1`,
		toolName,
	)

	var accessToken, refreshToken, extraJSON string
	if err := row.Scan(&accessToken, &refreshToken, &extraJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query credentials for %s: %w", toolName, err)
	}

	layer := map[string]interface{}{}
	if extraJSON != "" {
		if err := json.Unmarshal([]byte(extraJSON), &layer); err != nil {
			return nil, fmt.Errorf("corrupt credential extra for %s: %w", toolName, err)
		}
	}

	layer["access_token"] = accessToken
	if refreshToken != "" {
		layer["refresh_token"] = refreshToken
	}

	return layer, nil
}
