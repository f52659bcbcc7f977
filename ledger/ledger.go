// Package ledger owns account balances and their append-only transaction
// history. It is the only component that mutates a balance.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/papertrade/id"
	"github.com/rustyeddy/papertrade/internal/logging"
	"github.com/rustyeddy/papertrade/market"
	"github.com/rustyeddy/papertrade/metrics"
)

var (
	ErrInvalidOrder        = errors.New("invalid order")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountExists       = errors.New("account already exists")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// DefaultStartingBalance funds every new account.
var DefaultStartingBalance = decimal.NewFromInt(1000)

// Ledger applies orders against account balances. Calls for one account are
// serialized; calls for different accounts run in parallel.
type Ledger struct {
	store    Store
	starting decimal.Decimal
	now      func() time.Time
	log      logrus.FieldLogger

	locks sync.Map // account id -> *sync.Mutex
}

type Option func(*Ledger)

func WithStartingBalance(d decimal.Decimal) Option {
	return func(l *Ledger) { l.starting = d }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Ledger) { l.log = logging.OrDiscard(log) }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		starting: DefaultStartingBalance,
		now:      time.Now,
		log:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// lock acquires the account's mutex and returns its release.
func (l *Ledger) lock(accountID string) func() {
	v, _ := l.locks.LoadOrStore(accountID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// OpenAccount creates an account funded with the starting balance.
func (l *Ledger) OpenAccount(ctx context.Context, accountID string) (Account, error) {
	if accountID == "" {
		return Account{}, errors.New("open account: empty account id")
	}
	acct := Account{
		ID:        accountID,
		Balance:   l.starting,
		CreatedAt: l.now(),
	}
	if err := l.store.CreateAccount(ctx, acct); err != nil {
		return Account{}, err
	}
	l.log.WithFields(logrus.Fields{
		"account": accountID,
		"balance": acct.Balance.String(),
	}).Info("account opened")
	return acct, nil
}

// ApplyOrder validates the order, checks the balance for buys and commits
// the new balance together with its ledger entry. price is the caller's
// quote; ApplyOrder never fetches prices itself.
func (l *Ledger) ApplyOrder(ctx context.Context, accountID string, asset market.Symbol, side market.Side, amount, price decimal.Decimal) (Transaction, error) {
	tx, err := l.applyOrder(ctx, accountID, asset, side, amount, price)
	label := string(side)
	if !side.Valid() {
		label = "unknown"
	}
	metrics.Order(label, orderResult(err))

	fields := logrus.Fields{
		"account": accountID,
		"asset":   asset,
		"side":    side,
		"amount":  amount.String(),
		"price":   price.String(),
	}
	switch {
	case err == nil:
		l.log.WithFields(fields).WithField("balance", tx.BalanceAfter.String()).Info("order applied")
	case errors.Is(err, ErrInvalidOrder), errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrInsufficientBalance):
		l.log.WithFields(fields).WithError(err).Info("order rejected")
	default:
		l.log.WithFields(fields).WithError(err).Error("order failed")
	}
	return tx, err
}

func (l *Ledger) applyOrder(ctx context.Context, accountID string, asset market.Symbol, side market.Side, amount, price decimal.Decimal) (Transaction, error) {
	if err := validateOrder(asset, side, amount, price); err != nil {
		return Transaction{}, err
	}
	total := amount.Mul(price)

	unlock := l.lock(accountID)
	defer unlock()

	acct, err := l.store.LoadAccount(ctx, accountID)
	if err != nil {
		return Transaction{}, fmt.Errorf("apply order: %w", err)
	}

	var balance decimal.Decimal
	switch side {
	case market.Buy:
		if acct.Balance.LessThan(total) {
			return Transaction{}, fmt.Errorf("apply order: %w: balance %s, order total %s",
				ErrInsufficientBalance, acct.Balance, total)
		}
		balance = acct.Balance.Sub(total)
	case market.Sell:
		balance = acct.Balance.Add(total)
	}

	now := l.now()
	tx := Transaction{
		ID:           id.NewAt(now),
		AccountID:    accountID,
		Asset:        asset,
		Side:         side,
		Amount:       amount,
		Price:        price,
		Total:        total,
		BalanceAfter: balance,
		Timestamp:    now,
	}
	if err := l.store.AppendTransaction(ctx, tx); err != nil {
		return Transaction{}, fmt.Errorf("apply order: %w", err)
	}
	return tx, nil
}

func validateOrder(asset market.Symbol, side market.Side, amount, price decimal.Decimal) error {
	switch {
	case asset == "":
		return fmt.Errorf("apply order: %w: asset is required", ErrInvalidOrder)
	case !side.Valid():
		return fmt.Errorf("apply order: %w: side must be buy or sell, got %q", ErrInvalidOrder, side)
	case !amount.IsPositive():
		return fmt.Errorf("apply order: %w: amount must be positive, got %s", ErrInvalidOrder, amount)
	case !price.IsPositive():
		return fmt.Errorf("apply order: %w: price must be positive, got %s", ErrInvalidOrder, price)
	}
	return nil
}

func orderResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidOrder):
		return "invalid"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return "error"
	}
}

// GetHistory returns the account's transactions in execution order. The
// slice is a copy; changing it does not affect the ledger.
func (l *Ledger) GetHistory(ctx context.Context, accountID string) ([]Transaction, error) {
	return l.store.History(ctx, accountID)
}

// Balance returns the account's current balance.
func (l *Ledger) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	acct, err := l.store.LoadAccount(ctx, accountID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return acct.Balance, nil
}

// SetBalance overwrites the balance without a ledger entry. It exists for
// initial trial funding only and is not part of the order flow.
func (l *Ledger) SetBalance(ctx context.Context, accountID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("set balance: %w: %s is negative", ErrInvalidAmount, amount)
	}

	unlock := l.lock(accountID)
	defer unlock()

	if err := l.store.SetBalance(ctx, accountID, amount); err != nil {
		return err
	}
	l.log.WithFields(logrus.Fields{
		"account": accountID,
		"balance": amount.String(),
	}).Warn("balance overwritten")
	return nil
}
