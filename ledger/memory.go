package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

type memAccount struct {
	acct Account
	txs  []Transaction
}

// MemoryStore keeps accounts in process memory. Balance and history of an
// account change together under one write lock.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*memAccount
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*memAccount)}
}

func (m *MemoryStore) CreateAccount(ctx context.Context, acct Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[acct.ID]; ok {
		return fmt.Errorf("create account: %w: %q", ErrAccountExists, acct.ID)
	}
	m.accounts[acct.ID] = &memAccount{acct: acct}
	return nil
}

func (m *MemoryStore) LoadAccount(ctx context.Context, accountID string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return Account{}, fmt.Errorf("load account: %w: %q", ErrAccountNotFound, accountID)
	}
	return a.acct, nil
}

func (m *MemoryStore) AppendTransaction(ctx context.Context, tx Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[tx.AccountID]
	if !ok {
		return fmt.Errorf("append transaction: %w: %q", ErrAccountNotFound, tx.AccountID)
	}
	a.acct.Balance = tx.BalanceAfter
	a.txs = append(a.txs, tx)
	return nil
}

func (m *MemoryStore) SetBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return fmt.Errorf("set balance: %w: %q", ErrAccountNotFound, accountID)
	}
	a.acct.Balance = balance
	return nil
}

func (m *MemoryStore) History(ctx context.Context, accountID string) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("history: %w: %q", ErrAccountNotFound, accountID)
	}
	out := make([]Transaction, len(a.txs))
	copy(out, a.txs)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
