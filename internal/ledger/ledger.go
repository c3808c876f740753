// Package ledger tracks per-user credit balances with an append-only
// transaction log. Every balance change goes through Store.Mutate so the
// sum of a wallet's transactions always equals its balance.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/makeasinger/studio/internal/model"
)

// Policy decides what DeductCredits does when the store is unavailable
type Policy int

const (
	policyUnset Policy = iota
	// FailClosed rejects the paid operation with ErrLedgerUnavailable
	FailClosed
	// FailOpen logs a warning and lets the operation proceed unbilled
	FailOpen
)

func (p Policy) String() string {
	switch p {
	case FailClosed:
		return "fail_closed"
	case FailOpen:
		return "fail_open"
	default:
		return "unset"
	}
}

// ParsePolicy converts a config value into a Policy
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fail_closed", "failclosed", "closed":
		return FailClosed, nil
	case "fail_open", "failopen", "open":
		return FailOpen, nil
	default:
		return policyUnset, fmt.Errorf("unknown ledger failure policy %q", s)
	}
}

// Ledger applies credit and debit operations to a Store
type Ledger struct {
	store  Store
	policy Policy
	now    func() time.Time
}

// New creates a ledger. store may be nil when no backend is configured, in
// which case every operation runs in degraded mode.
func New(store Store, policy Policy) (*Ledger, error) {
	if policy != FailClosed && policy != FailOpen {
		return nil, fmt.Errorf("ledger failure policy must be set explicitly")
	}
	return &Ledger{
		store:  store,
		policy: policy,
		now:    time.Now,
	}, nil
}

// Policy returns the configured degraded-mode policy
func (l *Ledger) Policy() Policy {
	return l.policy
}

// Configured reports whether a store is attached
func (l *Ledger) Configured() bool {
	return l.store != nil
}

// AddCredits credits amount to an existing wallet. Store unavailability is
// always returned regardless of policy.
func (l *Ledger) AddCredits(ctx context.Context, userID string, amount int64, reason model.TransactionReason, metadata map[string]string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if !reason.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}
	if l.store == nil {
		return fmt.Errorf("%w: no store configured", ErrLedgerUnavailable)
	}

	err := l.store.Mutate(ctx, userID, func(m *Mutation) error {
		m.Append(l.newTransaction(amount, reason, metadata))
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("[Ledger] Credited %d to %s (%s)", amount, userID, reason)
	return nil
}

// DeductCredits debits cost for jobID. The caller must invoke it at most
// once per job; the ledger does not deduplicate.
func (l *Ledger) DeductCredits(ctx context.Context, userID string, cost int64, jobID, task string) error {
	_, err := l.Charge(ctx, userID, cost, jobID, task)
	return err
}

// Charge is DeductCredits that also reports whether a debit was recorded.
// It returns false with a nil error when FailOpen skipped billing, in which
// case nothing may be refunded for jobID.
func (l *Ledger) Charge(ctx context.Context, userID string, cost int64, jobID, task string) (bool, error) {
	if cost <= 0 {
		return false, ErrInvalidAmount
	}
	if l.store == nil {
		return false, l.degraded(userID, jobID, fmt.Errorf("%w: no store configured", ErrLedgerUnavailable))
	}

	err := l.store.Mutate(ctx, userID, func(m *Mutation) error {
		if m.Balance < cost {
			return &InsufficientCreditsError{Available: m.Balance, Required: cost}
		}
		m.Append(l.newTransaction(-cost, model.ReasonGeneration, map[string]string{
			model.MetaJobID: jobID,
			model.MetaTask:  task,
		}))
		return nil
	})
	if errors.Is(err, ErrLedgerUnavailable) {
		return false, l.degraded(userID, jobID, err)
	}
	if err != nil {
		return false, err
	}

	log.Printf("[Ledger] Debited %d from %s for job %s (%s)", cost, userID, jobID, task)
	return true, nil
}

// Refund returns credits for a paid job that produced no output
func (l *Ledger) Refund(ctx context.Context, userID string, amount int64, jobID, cause string) error {
	meta := map[string]string{model.MetaJobID: jobID}
	if cause != "" {
		meta[model.MetaCause] = cause
	}
	return l.AddCredits(ctx, userID, amount, model.ReasonRefund, meta)
}

// Balance returns the user's wallet
func (l *Ledger) Balance(ctx context.Context, userID string) (*model.Wallet, error) {
	if l.store == nil {
		return nil, fmt.Errorf("%w: no store configured", ErrLedgerUnavailable)
	}
	return l.store.Wallet(ctx, userID)
}

// History returns up to limit transactions, newest first
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	if l.store == nil {
		return nil, fmt.Errorf("%w: no store configured", ErrLedgerUnavailable)
	}
	if limit <= 0 {
		limit = 50
	}
	if _, err := l.store.Wallet(ctx, userID); err != nil {
		return nil, err
	}
	return l.store.Transactions(ctx, userID, limit)
}

// CreateWallet provisions a wallet and optionally grants a starting balance
func (l *Ledger) CreateWallet(ctx context.Context, userID string, grant int64) (*model.Wallet, error) {
	if l.store == nil {
		return nil, fmt.Errorf("%w: no store configured", ErrLedgerUnavailable)
	}
	if _, err := l.store.CreateWallet(ctx, userID); err != nil {
		return nil, err
	}
	if grant > 0 {
		if err := l.AddCredits(ctx, userID, grant, model.ReasonGrant, nil); err != nil {
			return nil, err
		}
	}
	return l.store.Wallet(ctx, userID)
}

// Close releases the underlying store
func (l *Ledger) Close() error {
	if l.store == nil {
		return nil
	}
	return l.store.Close()
}

func (l *Ledger) degraded(userID, jobID string, err error) error {
	if l.policy == FailOpen {
		log.Printf("[Ledger] WARNING: billing skipped for %s job %s: %v", userID, jobID, err)
		return nil
	}
	return err
}

func (l *Ledger) newTransaction(amount int64, reason model.TransactionReason, metadata map[string]string) model.Transaction {
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	return model.Transaction{
		ID:        uuid.New().String(),
		Amount:    amount,
		Reason:    reason,
		Metadata:  meta,
		CreatedAt: l.now().UTC(),
	}
}
