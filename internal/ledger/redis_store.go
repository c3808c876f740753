package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/studio/internal/model"
)

const (
	walletKeyPrefix = "ledger:wallet:"
	txKeyPrefix     = "ledger:txs:"

	// maxMutateRetries bounds optimistic retries under contention
	maxMutateRetries = 32
)

// RedisStore keeps each wallet in a hash and its log in a list (newest
// first). Mutations use WATCH/MULTI so a concurrent write to the same
// wallet aborts and retries the read-check-write.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func walletKey(userID string) string { return walletKeyPrefix + userID }
func txKey(userID string) string     { return txKeyPrefix + userID }

func (s *RedisStore) CreateWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	now := time.Now().UTC()
	key := walletKey(userID)

	created, err := s.client.HSetNX(ctx, key, "balance", 0).Result()
	if err != nil {
		return nil, unavailable("create wallet", err)
	}
	if !created {
		return nil, ErrWalletExists
	}
	if err := s.client.HSet(ctx, key, "updatedAt", now.Format(time.RFC3339Nano)).Err(); err != nil {
		return nil, unavailable("create wallet", err)
	}
	return &model.Wallet{UserID: userID, Balance: 0, UpdatedAt: now}, nil
}

func (s *RedisStore) Wallet(ctx context.Context, userID string) (*model.Wallet, error) {
	vals, err := s.client.HGetAll(ctx, walletKey(userID)).Result()
	if err != nil {
		return nil, unavailable("get wallet", err)
	}
	return parseWallet(userID, vals)
}

func parseWallet(userID string, vals map[string]string) (*model.Wallet, error) {
	raw, ok := vals["balance"]
	if !ok {
		return nil, ErrWalletNotFound
	}
	balance, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt balance for %s: %w", userID, err)
	}
	w := &model.Wallet{UserID: userID, Balance: balance}
	if ts, ok := vals["updatedAt"]; ok {
		w.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return w, nil
}

func (s *RedisStore) Transactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	items, err := s.client.LRange(ctx, txKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, unavailable("list transactions", err)
	}

	out := make([]model.Transaction, 0, len(items))
	for _, item := range items {
		var tx model.Transaction
		if err := json.Unmarshal([]byte(item), &tx); err != nil {
			return nil, fmt.Errorf("corrupt transaction for %s: %w", userID, err)
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *RedisStore) Mutate(ctx context.Context, userID string, fn func(m *Mutation) error) error {
	key := walletKey(userID)
	logKey := txKey(userID)

	// Errors from fn and wallet lookups must reach the caller untouched
	var domainErr error

	txf := func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		w, err := parseWallet(userID, vals)
		if err != nil {
			domainErr = err
			return err
		}

		m := &Mutation{UserID: userID, Balance: w.Balance}
		if err := fn(m); err != nil {
			domainErr = err
			return err
		}

		entries := make([]interface{}, 0, len(m.appended))
		for _, t := range m.appended {
			data, err := json.Marshal(t)
			if err != nil {
				domainErr = fmt.Errorf("failed to marshal transaction: %w", err)
				return domainErr
			}
			entries = append(entries, data)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"balance", m.Balance,
				"updatedAt", time.Now().UTC().Format(time.RFC3339Nano),
			)
			if len(entries) > 0 {
				pipe.LPush(ctx, logKey, entries...)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxMutateRetries; i++ {
		domainErr = nil
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if domainErr != nil {
			return domainErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return unavailable("mutate wallet", err)
	}

	return unavailable("mutate wallet", fmt.Errorf("gave up after %d conflicting writes", maxMutateRetries))
}

func (s *RedisStore) Close() error {
	return nil
}
