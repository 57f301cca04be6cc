package credits

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/mirelabs/conductor/internal/observability"
)

// SQLiteLedger is a file-backed Ledger for single-node deployments.
type SQLiteLedger struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenLedger opens (creating if necessary) a sqlite ledger at path.
func OpenLedger(path string, logger zerolog.Logger) (*SQLiteLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS balances (
		user_id TEXT PRIMARY KEY,
		balance REAL NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		amount REAL NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("Credit ledger opened")

	return &SQLiteLedger{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// Grant adds credits to a user's balance.
func (l *SQLiteLedger) Grant(ctx context.Context, userID string, amount float64, description string) error {
	if amount < 0 {
		return fmt.Errorf("grant amount cannot be negative")
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin grant: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO balances (user_id, balance) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET balance = balance + excluded.balance`,
		userID, amount,
	); err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entries (user_id, amount, description, created_at) VALUES (?, ?, ?, ?)`,
		userID, amount, description, time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("failed to record grant: %w", err)
	}

	return tx.Commit()
}

// Consume debits amount from userID's balance. A zero-amount consume is a
// no-op. Refusal never mutates the balance.
func (l *SQLiteLedger) Consume(ctx context.Context, userID string, amount float64, description string) error {
	if amount < 0 {
		return fmt.Errorf("consume amount cannot be negative")
	}
	if amount == 0 {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin consume: %w", err)
	}
	defer tx.Rollback()

	var balance float64
	err = tx.QueryRowContext(ctx, `SELECT balance FROM balances WHERE user_id = ?`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		observability.RecordDebitRefused()
		return ErrInsufficientCredits
	}
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}

	if balance < amount {
		observability.RecordDebitRefused()
		l.logger.Warn().
			Str("user_id", userID).
			Float64("balance", balance).
			Float64("amount", amount).
			Msg("Credit debit refused")
		return ErrInsufficientCredits
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE balances SET balance = balance - ? WHERE user_id = ?`, amount, userID,
	); err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entries (user_id, amount, description, created_at) VALUES (?, ?, ?, ?)`,
		userID, -amount, description, time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("failed to record debit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit debit: %w", err)
	}

	observability.RecordCreditsDebited(amount)
	return nil
}

// Balance reports a user's current balance. Unknown users have zero.
func (l *SQLiteLedger) Balance(ctx context.Context, userID string) (float64, error) {
	var balance float64
	err := l.db.QueryRowContext(ctx, `SELECT balance FROM balances WHERE user_id = ?`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}
