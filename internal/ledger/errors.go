package ledger

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrWalletNotFound is returned when a user has no wallet. Wallets are
	// never created implicitly.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrWalletExists is returned by CreateWallet for an existing user
	ErrWalletExists = errors.New("wallet already exists")

	// ErrLedgerUnavailable is returned when the backing store is unreachable
	// or not configured
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrInvalidAmount is returned for non-positive amounts
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidReason is returned for an unknown transaction reason
	ErrInvalidReason = errors.New("invalid transaction reason")
)

// InsufficientCreditsError is returned when a debit exceeds the balance.
// The wallet is left unchanged.
type InsufficientCreditsError struct {
	Available int64
	Required  int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: available %d, required %d", e.Available, e.Required)
}

// IsInsufficientCredits reports whether err carries an InsufficientCreditsError
func IsInsufficientCredits(err error) (*InsufficientCreditsError, bool) {
	var ice *InsufficientCreditsError
	if errors.As(err, &ice) {
		return ice, true
	}
	return nil, false
}

// unavailable marks err as a store outage. Context cancellation is the
// caller giving up, not an outage, and is returned as is.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrLedgerUnavailable, op, err)
}
