package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/papertrade/market"
)

// SQLiteStore persists the ledger in SQLite. A balance update and its
// transaction row are written in one database transaction.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies Schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite has one writer; a single connection also keeps :memory: coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLStore wraps an already migrated database handle.
func NewSQLStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, acct Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, balance, created_at) VALUES (?, ?, ?)`,
		acct.ID, acct.Balance.String(), acct.CreatedAt.UTC(),
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("create account: %w: %q", ErrAccountExists, acct.ID)
		}
		return fmt.Errorf("create account %q: %w", acct.ID, err)
	}
	return nil
}

func (s *SQLiteStore) LoadAccount(ctx context.Context, accountID string) (Account, error) {
	var (
		acct    Account
		balance string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, balance, created_at FROM accounts WHERE id = ?`, accountID,
	).Scan(&acct.ID, &balance, &acct.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, fmt.Errorf("load account: %w: %q", ErrAccountNotFound, accountID)
		}
		return Account{}, fmt.Errorf("load account %q: %w", accountID, err)
	}

	acct.Balance, err = decimal.NewFromString(balance)
	if err != nil {
		return Account{}, fmt.Errorf("load account %q: parse balance %q: %w", accountID, balance, err)
	}
	return acct, nil
}

func (s *SQLiteStore) AppendTransaction(ctx context.Context, t Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append transaction: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = ? WHERE id = ?`,
		t.BalanceAfter.String(), t.AccountID,
	)
	if err != nil {
		return fmt.Errorf("append transaction: update balance: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("append transaction: rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("append transaction: %w: %q", ErrAccountNotFound, t.AccountID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions
		(id, account_id, asset, side, amount, price, total, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, string(t.Asset), string(t.Side),
		t.Amount.String(), t.Price.String(), t.Total.String(), t.BalanceAfter.String(),
		t.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append transaction: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append transaction: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET balance = ? WHERE id = ?`, balance.String(), accountID)
	if err != nil {
		return fmt.Errorf("set balance %q: %w", accountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set balance %q: %w", accountID, err)
	}
	if n == 0 {
		return fmt.Errorf("set balance: %w: %q", ErrAccountNotFound, accountID)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, accountID string) ([]Transaction, error) {
	// Distinguish an unknown account from an empty history.
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE id = ?`, accountID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history: %w: %q", ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("history %q: %w", accountID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, asset, side, amount, price, total, balance_after, created_at
		FROM transactions
		WHERE account_id = ?
		ORDER BY seq ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("history %q: %w", accountID, err)
	}
	defer rows.Close()

	out := []Transaction{}
	for rows.Next() {
		var (
			t                                  Transaction
			asset, side                        string
			amount, price, total, balanceAfter string
		)
		if err := rows.Scan(
			&t.ID, &t.AccountID, &asset, &side,
			&amount, &price, &total, &balanceAfter,
			&t.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("history %q: scan: %w", accountID, err)
		}
		t.Asset = market.Symbol(asset)
		t.Side = market.Side(side)
		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&t.Amount, amount},
			{&t.Price, price},
			{&t.Total, total},
			{&t.BalanceAfter, balanceAfter},
		} {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, fmt.Errorf("history %q: parse %q: %w", accountID, f.src, err)
			}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history %q: %w", accountID, err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
