// Package quotecache serves a recent quote per symbol, decoupling callers
// from upstream latency and short upstream outages.
//
// A cached quote younger than the fresh window is returned without a network
// call. Past that the upstream is asked again; if the upstream fails, a cached
// quote younger than the staleness bound is served instead. Only a cold cache
// combined with a failing upstream surfaces ErrQuoteUnavailable.
package quotecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/rustyeddy/papertrade/internal/logging"
	"github.com/rustyeddy/papertrade/market"
	"github.com/rustyeddy/papertrade/metrics"
)

const DefaultFreshWindow = 5 * time.Second

var (
	// ErrQuoteUnavailable means neither a fresh nor a stale quote exists.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrNonPositivePrice marks an upstream quote at or below zero.
	ErrNonPositivePrice = errors.New("non-positive upstream price")
)

// Fetcher retrieves one fresh quote from upstream.
type Fetcher interface {
	FetchQuote(ctx context.Context, symbol market.Symbol) (market.Quote, error)
}

type entry struct {
	quote      market.Quote
	insertedAt time.Time
}

// Lookup is a quote together with whether it was served past the fresh window.
type Lookup struct {
	Quote market.Quote `json:"quote"`
	Stale bool         `json:"stale"`
}

// Cache is safe for concurrent use.
type Cache struct {
	src   Fetcher
	fresh time.Duration
	stale time.Duration
	now   func() time.Time
	log   logrus.FieldLogger

	mu      sync.RWMutex
	entries map[market.Symbol]entry

	// Concurrent misses for one symbol share a single upstream call.
	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithFreshWindow sets how long a quote is served without refetching.
func WithFreshWindow(d time.Duration) Option {
	return func(c *Cache) { c.fresh = d }
}

// WithStaleBound sets how long a quote may be served when upstream fails.
// Values below the fresh window are raised to it.
func WithStaleBound(d time.Duration) Option {
	return func(c *Cache) { c.stale = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Cache) { c.log = logging.OrDiscard(l) }
}

// New wraps src. The staleness bound defaults to twice the fresh window.
func New(src Fetcher, opts ...Option) *Cache {
	c := &Cache{
		src:     src,
		fresh:   DefaultFreshWindow,
		now:     time.Now,
		log:     logging.Discard(),
		entries: make(map[market.Symbol]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fresh <= 0 {
		c.fresh = DefaultFreshWindow
	}
	if c.stale == 0 {
		c.stale = 2 * c.fresh
	}
	if c.stale < c.fresh {
		c.stale = c.fresh
	}
	return c
}

// FreshWindow reports the configured fresh window.
func (c *Cache) FreshWindow() time.Duration { return c.fresh }

// StaleBound reports the configured staleness bound.
func (c *Cache) StaleBound() time.Duration { return c.stale }

// GetQuote returns the current quote for symbol.
func (c *Cache) GetQuote(ctx context.Context, symbol market.Symbol) (market.Quote, error) {
	l, err := c.Lookup(ctx, symbol)
	if err != nil {
		return market.Quote{}, err
	}
	return l.Quote, nil
}

// Lookup is GetQuote that also reports whether the quote is stale.
func (c *Cache) Lookup(ctx context.Context, symbol market.Symbol) (Lookup, error) {
	if e, ok := c.get(symbol); ok && c.now().Sub(e.insertedAt) < c.fresh {
		metrics.CacheLookup("hit")
		return Lookup{Quote: e.quote}, nil
	}

	q, fetchErr := c.refresh(ctx, symbol)
	if fetchErr == nil {
		metrics.CacheLookup("miss")
		return Lookup{Quote: q}, nil
	}

	if e, ok := c.get(symbol); ok {
		age := c.now().Sub(e.insertedAt)
		if age < c.stale {
			metrics.CacheLookup("stale")
			c.log.WithFields(logrus.Fields{
				"symbol": symbol,
				"age":    age.String(),
			}).WithError(fetchErr).Info("serving stale quote")
			return Lookup{Quote: e.quote, Stale: age >= c.fresh}, nil
		}
	}

	metrics.CacheLookup("unavailable")
	return Lookup{}, fmt.Errorf("get quote %s: %w: %w", symbol, ErrQuoteUnavailable, fetchErr)
}

// GetMultiple looks up every symbol concurrently and returns the quotes that
// could be served, in input order. It never fails as a whole.
func (c *Cache) GetMultiple(ctx context.Context, symbols []market.Symbol) []market.Quote {
	results := make([]*market.Quote, len(symbols))

	var wg sync.WaitGroup
	for i, s := range symbols {
		wg.Add(1)
		go func(i int, s market.Symbol) {
			defer wg.Done()
			q, err := c.GetQuote(ctx, s)
			if err != nil {
				return
			}
			results[i] = &q
		}(i, s)
	}
	wg.Wait()

	out := make([]market.Quote, 0, len(symbols))
	for _, q := range results {
		if q != nil {
			out = append(out, *q)
		}
	}
	return out
}

// Healthy reports whether a quote for symbol can currently be served.
func (c *Cache) Healthy(ctx context.Context, symbol market.Symbol) bool {
	_, err := c.GetQuote(ctx, symbol)
	return err == nil
}

func (c *Cache) get(symbol market.Symbol) (entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	return e, ok
}

func (c *Cache) put(symbol market.Symbol, q market.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[symbol] = entry{quote: q, insertedAt: c.now()}
}

// refresh fetches symbol from upstream and stores it on success. Concurrent
// callers share one fetch that is detached from their cancellation; each
// caller stops waiting when its own ctx is done.
func (c *Cache) refresh(ctx context.Context, symbol market.Symbol) (market.Quote, error) {
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(string(symbol), func() (any, error) {
		start := time.Now()
		q, err := c.src.FetchQuote(fetchCtx, symbol)
		metrics.UpstreamFetch(err == nil, time.Since(start))
		if err != nil {
			c.log.WithField("symbol", symbol).WithError(err).Warn("upstream quote fetch failed")
			return market.Quote{}, err
		}
		if q.Symbol == "" {
			q.Symbol = symbol
		}
		if !q.Valid() {
			c.log.WithFields(logrus.Fields{
				"symbol": symbol,
				"price":  q.Price.String(),
			}).Warn("rejecting non-positive upstream price")
			return market.Quote{}, fmt.Errorf("%w: %s", ErrNonPositivePrice, q.Price)
		}
		c.put(symbol, q)
		return q, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return market.Quote{}, res.Err
		}
		return res.Val.(market.Quote), nil
	case <-ctx.Done():
		return market.Quote{}, fmt.Errorf("refresh %s: %w", symbol, ctx.Err())
	}
}
