package ledger

import (
	"context"

	"github.com/makeasinger/studio/internal/model"
)

// Store persists wallets and their transaction logs. Implementations must
// run Mutate as a single atomic read-check-write per wallet, and wrap
// connectivity failures in ErrLedgerUnavailable. Context errors are returned
// unwrapped.
type Store interface {
	// CreateWallet provisions an empty wallet. Fails with ErrWalletExists.
	CreateWallet(ctx context.Context, userID string) (*model.Wallet, error)

	// Wallet returns the current wallet. Fails with ErrWalletNotFound.
	Wallet(ctx context.Context, userID string) (*model.Wallet, error)

	// Transactions returns up to limit transactions, newest first
	Transactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)

	// Mutate loads the wallet, calls fn, and commits the balance and
	// appended transactions only if fn returns nil. An error from fn is
	// returned unchanged.
	Mutate(ctx context.Context, userID string, fn func(m *Mutation) error) error

	Close() error
}

// Mutation is the in-transaction view of a wallet
type Mutation struct {
	UserID  string
	Balance int64

	appended []model.Transaction
}

// Append records a transaction and applies its amount to the balance
func (m *Mutation) Append(tx model.Transaction) {
	tx.UserID = m.UserID
	m.Balance += tx.Amount
	m.appended = append(m.appended, tx)
}

// Appended returns the transactions recorded so far
func (m *Mutation) Appended() []model.Transaction {
	return m.appended
}
