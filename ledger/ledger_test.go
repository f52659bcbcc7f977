package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/papertrade/market"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestLedger(t *testing.T, accounts ...string) *Ledger {
	t.Helper()

	l := New(NewMemoryStore())
	for _, a := range accounts {
		_, err := l.OpenAccount(context.Background(), a)
		require.NoError(t, err)
	}
	return l
}

func TestOpenAccount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l := newTestLedger(t)
	acct, err := l.OpenAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", acct.ID)
	assert.True(t, acct.Balance.Equal(d("1000")))

	_, err = l.OpenAccount(ctx, "alice")
	assert.ErrorIs(t, err, ErrAccountExists)

	_, err = l.OpenAccount(ctx, "")
	assert.Error(t, err)
}

func TestOpenAccountStartingBalance(t *testing.T) {
	t.Parallel()

	l := New(NewMemoryStore(), WithStartingBalance(d("250.50")))
	_, err := l.OpenAccount(context.Background(), "bob")
	require.NoError(t, err)

	bal, err := l.Balance(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("250.50")))
}

func TestApplyOrderBuy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(NewMemoryStore(), WithClock(func() time.Time { return at }))
	_, err := l.OpenAccount(ctx, "alice")
	require.NoError(t, err)

	tx, err := l.ApplyOrder(ctx, "alice", "BTC-USD", market.Buy, d("0.01"), d("30000"))
	require.NoError(t, err)

	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, "alice", tx.AccountID)
	assert.Equal(t, market.Symbol("BTC-USD"), tx.Asset)
	assert.Equal(t, market.Buy, tx.Side)
	assert.True(t, tx.Total.Equal(d("300")))
	assert.True(t, tx.BalanceAfter.Equal(d("700")))
	assert.Equal(t, at, tx.Timestamp)

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("700")))

	hist, err := l.GetHistory(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, tx, hist[0])
}

func TestApplyOrderSell(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l := newTestLedger(t, "alice")
	tx, err := l.ApplyOrder(ctx, "alice", "ETH-USD", market.Sell, d("1"), d("3000"))
	require.NoError(t, err)
	assert.True(t, tx.BalanceAfter.Equal(d("4000")))
	assert.True(t, tx.Total.Equal(d("3000")))
}

func TestApplyOrderBuyExactBalance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l := newTestLedger(t, "alice")
	tx, err := l.ApplyOrder(ctx, "alice", "BTC-USD", market.Buy, d("0.5"), d("2000"))
	require.NoError(t, err)
	assert.True(t, tx.BalanceAfter.IsZero())
}

func TestApplyOrderRejected(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		account string
		asset   market.Symbol
		side    market.Side
		amount  string
		price   string
		want    error
	}{
		{"insufficient", "alice", "BTC-USD", market.Buy, "1", "2000", ErrInsufficientBalance},
		{"zero amount", "alice", "BTC-USD", market.Buy, "0", "2000", ErrInvalidOrder},
		{"negative amount", "alice", "BTC-USD", market.Sell, "-1", "2000", ErrInvalidOrder},
		{"zero price", "alice", "BTC-USD", market.Buy, "1", "0", ErrInvalidOrder},
		{"negative price", "alice", "BTC-USD", market.Sell, "1", "-3", ErrInvalidOrder},
		{"bad side", "alice", "BTC-USD", market.Side("hold"), "1", "1", ErrInvalidOrder},
		{"empty asset", "alice", "", market.Buy, "1", "1", ErrInvalidOrder},
		{"unknown account", "mallory", "BTC-USD", market.Buy, "1", "1", ErrAccountNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			l := newTestLedger(t, "alice")
			_, err := l.ApplyOrder(ctx, tc.account, tc.asset, tc.side, d(tc.amount), d(tc.price))
			assert.ErrorIs(t, err, tc.want)

			// Rejections leave the account untouched.
			bal, err := l.Balance(ctx, "alice")
			require.NoError(t, err)
			assert.True(t, bal.Equal(d("1000")), "balance = %s", bal)

			hist, err := l.GetHistory(ctx, "alice")
			require.NoError(t, err)
			assert.Empty(t, hist)
		})
	}
}

func TestApplyOrderBalanceChain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l := newTestLedger(t, "alice")
	orders := []struct {
		side   market.Side
		amount string
		price  string
	}{
		{market.Buy, "0.1", "1234.56"},
		{market.Sell, "2", "17.03"},
		{market.Buy, "3", "0.333"},
		{market.Buy, "5000", "0.1"}, // rejected
		{market.Sell, "0.00000001", "65000"},
	}
	for _, o := range orders {
		_, _ = l.ApplyOrder(ctx, "alice", "SOL-USD", o.side, d(o.amount), d(o.price))
	}

	hist, err := l.GetHistory(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, hist, 4)

	want := d("1000")
	prev := d("1000")
	for _, tx := range hist {
		assert.True(t, tx.Total.Equal(tx.Amount.Mul(tx.Price)))
		switch tx.Side {
		case market.Buy:
			want = want.Sub(tx.Total)
			assert.True(t, tx.BalanceAfter.Equal(prev.Sub(tx.Total)))
		case market.Sell:
			want = want.Add(tx.Total)
			assert.True(t, tx.BalanceAfter.Equal(prev.Add(tx.Total)))
		}
		assert.False(t, tx.BalanceAfter.IsNegative())
		prev = tx.BalanceAfter
	}

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.Equal(want), "balance %s, want %s", bal, want)
	assert.True(t, bal.Equal(prev))
}

func TestApplyOrderConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l := newTestLedger(t, "alice")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.ApplyOrder(ctx, "alice", "BTC-USD", market.Buy, d("1"), d("1"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("900")), "balance = %s", bal)

	hist, err := l.GetHistory(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, hist, 100)

	seen := make(map[string]bool, len(hist))
	for _, tx := range hist {
		assert.False(t, seen[tx.ID], "duplicate id %s", tx.ID)
		seen[tx.ID] = true
	}
}

func TestApplyOrderConcurrentNeverOverdraws(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l := newTestLedger(t, "alice")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.ApplyOrder(ctx, "alice", "BTC-USD", market.Buy, d("1"), d("30"))
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientBalance)
		}()
	}
	wg.Wait()

	assert.Equal(t, 33, accepted)
	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("10")), "balance = %s", bal)
}

func TestAccountsIndependent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l := newTestLedger(t)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		acct := fmt.Sprintf("user-%d", i)
		_, err := l.OpenAccount(ctx, acct)
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := l.ApplyOrder(ctx, acct, "ETH-USD", market.Sell, d("1"), d("10"))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		bal, err := l.Balance(ctx, fmt.Sprintf("user-%d", i))
		require.NoError(t, err)
		assert.True(t, bal.Equal(d("1100")))
	}
}

func TestGetHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l := newTestLedger(t, "alice")

	hist, err := l.GetHistory(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, hist)

	_, err = l.GetHistory(ctx, "nobody")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = l.ApplyOrder(ctx, "alice", "BTC-USD", market.Sell, d("1"), d("5"))
	require.NoError(t, err)

	hist, err = l.GetHistory(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, hist, 1)

	// Mutating the returned slice does not reach the ledger.
	hist[0].Amount = d("999")

	again, err := l.GetHistory(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.True(t, again[0].Amount.Equal(d("1")))
}

func TestSetBalance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	l := newTestLedger(t, "alice")

	require.NoError(t, l.SetBalance(ctx, "alice", d("42.5")))
	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("42.5")))

	hist, err := l.GetHistory(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, hist, "SetBalance must not write a ledger entry")

	require.NoError(t, l.SetBalance(ctx, "alice", decimal.Zero))

	err = l.SetBalance(ctx, "alice", d("-1"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	err = l.SetBalance(ctx, "nobody", d("1"))
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

type failingStore struct {
	*MemoryStore
	err error
}

func (f failingStore) AppendTransaction(ctx context.Context, tx Transaction) error {
	return f.err
}

func TestApplyOrderStoreFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	boom := errors.New("disk full")
	store := failingStore{MemoryStore: NewMemoryStore(), err: boom}
	l := New(store)
	_, err := l.OpenAccount(ctx, "alice")
	require.NoError(t, err)

	_, err = l.ApplyOrder(ctx, "alice", "BTC-USD", market.Sell, d("1"), d("1"))
	assert.ErrorIs(t, err, boom)

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("1000")))
}
