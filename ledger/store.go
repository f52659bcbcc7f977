package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/papertrade/market"
)

// Account is the balance row of one user. Its transaction sequence lives in
// the Store and is read with History.
type Account struct {
	ID        string          `json:"id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Transaction is one immutable ledger entry.
type Transaction struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"accountId"`
	Asset        market.Symbol   `json:"asset"`
	Side         market.Side     `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Price        decimal.Decimal `json:"price"`
	Total        decimal.Decimal `json:"total"`
	BalanceAfter decimal.Decimal `json:"balanceAfter"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Store persists accounts and their transactions. Implementations must give
// read-after-write consistency within the process.
type Store interface {
	// CreateAccount fails with ErrAccountExists for a duplicate id.
	CreateAccount(ctx context.Context, acct Account) error

	// LoadAccount fails with ErrAccountNotFound for an unknown id.
	LoadAccount(ctx context.Context, accountID string) (Account, error)

	// AppendTransaction sets the account balance to tx.BalanceAfter and
	// appends tx as one atomic step. No reader may observe one without the other.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// SetBalance overwrites the balance without recording a transaction.
	SetBalance(ctx context.Context, accountID string, balance decimal.Decimal) error

	// History returns the account's transactions in append order.
	History(ctx context.Context, accountID string) ([]Transaction, error)

	Close() error
}
