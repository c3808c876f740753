package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/makeasinger/studio/internal/model"
)

type memoryWallet struct {
	mu      sync.Mutex
	balance int64
	updated time.Time
	txs     []model.Transaction
}

// MemoryStore keeps wallets in process. Each wallet has its own mutex so
// mutations for different users never contend.
type MemoryStore struct {
	mu      sync.RWMutex
	wallets map[string]*memoryWallet
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{wallets: make(map[string]*memoryWallet)}
}

func (s *MemoryStore) get(userID string) (*memoryWallet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[userID]
	return w, ok
}

func (s *MemoryStore) CreateWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wallets[userID]; ok {
		return nil, ErrWalletExists
	}
	now := time.Now().UTC()
	s.wallets[userID] = &memoryWallet{updated: now}
	return &model.Wallet{UserID: userID, Balance: 0, UpdatedAt: now}, nil
}

func (s *MemoryStore) Wallet(ctx context.Context, userID string) (*model.Wallet, error) {
	w, ok := s.get(userID)
	if !ok {
		return nil, ErrWalletNotFound
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return &model.Wallet{UserID: userID, Balance: w.balance, UpdatedAt: w.updated}, nil
}

func (s *MemoryStore) Transactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	w, ok := s.get(userID)
	if !ok {
		return nil, ErrWalletNotFound
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]model.Transaction, 0, min(limit, len(w.txs)))
	for i := len(w.txs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, w.txs[i])
	}
	return out, nil
}

func (s *MemoryStore) Mutate(ctx context.Context, userID string, fn func(m *Mutation) error) error {
	w, ok := s.get(userID)
	if !ok {
		return ErrWalletNotFound
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	m := &Mutation{UserID: userID, Balance: w.balance}
	if err := fn(m); err != nil {
		return err
	}

	w.balance = m.Balance
	w.txs = append(w.txs, m.appended...)
	w.updated = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
