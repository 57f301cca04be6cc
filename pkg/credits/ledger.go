package credits

import (
	"context"
	"errors"
)

// ErrInsufficientCredits is returned when a debit would overdraw a balance.
// Callers surface it as a payment-required condition; the turn's generated
// answer is not discarded on refusal.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Ledger is the external credit accounting system. Consume debits amount
// from userID's balance, refusing with ErrInsufficientCredits when the
// balance does not cover it.
type Ledger interface {
	Consume(ctx context.Context, userID string, amount float64, description string) error
}
