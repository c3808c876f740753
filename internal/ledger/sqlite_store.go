package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/makeasinger/studio/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore persists the ledger in a single SQLite file. One open
// connection plus BEGIN IMMEDIATE transactions give a single writer, so
// read-check-write never interleaves.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens the ledger database at path
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	dsn := path + "?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wallets (user_id, balance, updated_at) VALUES (?, 0, ?)`,
		userID, now.Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrWalletExists
		}
		return nil, unavailable("create wallet", err)
	}
	return &model.Wallet{UserID: userID, Balance: 0, UpdatedAt: now}, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadWallet(ctx context.Context, q queryRower, userID string) (*model.Wallet, error) {
	var (
		balance int64
		updated string
	)
	err := q.QueryRowContext(ctx,
		`SELECT balance, updated_at FROM wallets WHERE user_id = ?`, userID,
	).Scan(&balance, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, unavailable("get wallet", err)
	}
	w := &model.Wallet{UserID: userID, Balance: balance}
	w.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return w, nil
}

func (s *SQLiteStore) Wallet(ctx context.Context, userID string) (*model.Wallet, error) {
	return loadWallet(ctx, s.db, userID)
}

func (s *SQLiteStore) Transactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, amount, reason, metadata, created_at
		FROM transactions
		WHERE user_id = ?
		ORDER BY seq DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, unavailable("list transactions", err)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var (
			tx      model.Transaction
			reason  string
			meta    string
			created string
		)
		if err := rows.Scan(&tx.ID, &tx.Amount, &reason, &meta, &created); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.UserID = userID
		tx.Reason = model.TransactionReason(reason)
		if err := json.Unmarshal([]byte(meta), &tx.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt transaction metadata %s: %w", tx.ID, err)
		}
		tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list transactions", err)
	}
	return out, nil
}

func (s *SQLiteStore) Mutate(ctx context.Context, userID string, fn func(m *Mutation) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin", err)
	}
	defer tx.Rollback()

	w, err := loadWallet(ctx, tx, userID)
	if err != nil {
		return err
	}

	m := &Mutation{UserID: userID, Balance: w.Balance}
	if err := fn(m); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance = ?, updated_at = ? WHERE user_id = ?`,
		m.Balance, now, userID); err != nil {
		return unavailable("update wallet", err)
	}

	for _, t := range m.appended {
		meta, err := json.Marshal(t.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (id, user_id, amount, reason, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			t.ID, userID, t.Amount, string(t.Reason), string(meta),
			t.CreatedAt.Format(time.RFC3339Nano)); err != nil {
			return unavailable("append transaction", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
