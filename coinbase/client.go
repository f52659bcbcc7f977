// Package coinbase fetches public market data from the Coinbase Exchange REST API.
package coinbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/papertrade/market"
)

const (
	// ExchangeURL is the public Coinbase Exchange API.
	ExchangeURL = "https://api.exchange.coinbase.com"

	DefaultTimeout   = 5 * time.Second
	DefaultRateLimit = 10
	DefaultUserAgent = "papertrade/1.0"

	// maxSymbols caps ListSupportedSymbols.
	maxSymbols = 20
)

// ErrUpstreamUnavailable wraps every network, status or payload failure.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// FallbackSymbols is returned when the product list cannot be fetched.
var FallbackSymbols = []market.Symbol{"BTC-USD", "ETH-USD", "SOL-USD", "ADA-USD", "DOT-USD"}

// FallbackCurrencies is returned when the product list cannot be fetched.
var FallbackCurrencies = []market.Currency{
	{ID: "BTC", Name: "Bitcoin", MinSize: "0.00000001"},
	{ID: "ETH", Name: "Ethereum", MinSize: "0.00000001"},
	{ID: "USDT", Name: "Tether", MinSize: "0.01"},
	{ID: "USDC", Name: "USD Coin", MinSize: "0.01"},
	{ID: "BNB", Name: "BNB", MinSize: "0.00000001"},
	{ID: "XRP", Name: "XRP", MinSize: "0.01"},
	{ID: "ADA", Name: "Cardano", MinSize: "0.01"},
	{ID: "SOL", Name: "Solana", MinSize: "0.00000001"},
	{ID: "DOT", Name: "Polkadot", MinSize: "0.01"},
	{ID: "DOGE", Name: "Dogecoin", MinSize: "0.01"},
}

// fallbackRates is served when exchange rates cannot be fetched.
func fallbackRates() market.ExchangeRates {
	rates := map[string]string{
		"BTC": "60000.00", "ETH": "3000.00", "USDT": "1.00", "USDC": "1.00", "BNB": "500.00",
		"XRP": "0.50", "ADA": "0.50", "SOL": "100.00", "DOT": "10.00", "DOGE": "0.10",
	}
	out := market.ExchangeRates{Currency: "USD", Rates: make(map[string]decimal.Decimal, len(rates))}
	for k, v := range rates {
		out.Rates[k] = decimal.RequireFromString(v)
	}
	return out
}

// Client is a Coinbase Exchange market data client. It performs no retries;
// callers decide how to react to ErrUpstreamUnavailable.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout sets the hard per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRateLimit limits outbound requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithClock overrides the clock used to stamp quotes.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a client for the public exchange API.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:   ExchangeURL,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(DefaultRateLimit, DefaultRateLimit),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// tickerResponse is the subset of /products/{id}/ticker we use.
type tickerResponse struct {
	Price string `json:"price"`
	Time  string `json:"time"`
}

// product is the subset of /products we use.
type product struct {
	ID               string `json:"id"`
	BaseCurrency     string `json:"base_currency"`
	QuoteCurrency    string `json:"quote_currency"`
	BaseCurrencyName string `json:"base_currency_name"`
	BaseMinSize      string `json:"base_min_size"`
}

// FetchQuote fetches the last trade price for symbol.
func (c *Client) FetchQuote(ctx context.Context, symbol market.Symbol) (market.Quote, error) {
	if symbol == "" {
		return market.Quote{}, fmt.Errorf("fetch quote: %w: symbol is required", ErrUpstreamUnavailable)
	}

	var tr tickerResponse
	path := "/products/" + url.PathEscape(string(symbol)) + "/ticker"
	if err := c.getJSON(ctx, path, &tr); err != nil {
		return market.Quote{}, fmt.Errorf("fetch quote %s: %w", symbol, err)
	}

	if tr.Price == "" {
		return market.Quote{}, fmt.Errorf("fetch quote %s: %w: missing price", symbol, ErrUpstreamUnavailable)
	}
	price, err := decimal.NewFromString(tr.Price)
	if err != nil {
		return market.Quote{}, fmt.Errorf("fetch quote %s: %w: parse price %q: %v", symbol, ErrUpstreamUnavailable, tr.Price, err)
	}

	return market.Quote{
		Symbol:    symbol,
		Price:     price,
		FetchedAt: c.now(),
	}, nil
}

// ListSupportedSymbols returns up to 20 USD-quoted products. Symbol
// enumeration is not critical, so any failure yields FallbackSymbols.
func (c *Client) ListSupportedSymbols(ctx context.Context) []market.Symbol {
	products, err := c.products(ctx)
	if err != nil {
		return append([]market.Symbol(nil), FallbackSymbols...)
	}

	symbols := make([]market.Symbol, 0, maxSymbols)
	for _, p := range products {
		if p.QuoteCurrency != "USD" {
			continue
		}
		symbols = append(symbols, market.Symbol(p.ID))
		if len(symbols) == maxSymbols {
			break
		}
	}
	if len(symbols) == 0 {
		return append([]market.Symbol(nil), FallbackSymbols...)
	}
	return symbols
}

// ListCurrencies returns the distinct base currencies of all products, in
// API order. Any failure yields FallbackCurrencies.
func (c *Client) ListCurrencies(ctx context.Context) []market.Currency {
	products, err := c.products(ctx)
	if err != nil {
		return append([]market.Currency(nil), FallbackCurrencies...)
	}

	seen := make(map[string]bool)
	var out []market.Currency
	for _, p := range products {
		base := p.BaseCurrency
		if base == "" {
			base = market.Symbol(p.ID).Base()
		}
		if base == "" || seen[base] {
			continue
		}
		seen[base] = true

		name := p.BaseCurrencyName
		if name == "" {
			name = base
		}
		out = append(out, market.Currency{ID: base, Name: name, MinSize: p.BaseMinSize})
	}
	if len(out) == 0 {
		return append([]market.Currency(nil), FallbackCurrencies...)
	}
	return out
}

// ratesResponse accepts both the bare and the {"data": ...} envelope.
type ratesResponse struct {
	Currency string            `json:"currency"`
	Rates    map[string]string `json:"rates"`
	Data     *struct {
		Currency string            `json:"currency"`
		Rates    map[string]string `json:"rates"`
	} `json:"data"`
}

// ExchangeRates returns USD exchange rates. Any failure, or an empty rate
// table, yields the built-in table. Unparsable rates are skipped.
func (c *Client) ExchangeRates(ctx context.Context) market.ExchangeRates {
	var rr ratesResponse
	if err := c.getJSON(ctx, "/exchange-rates/rates?currency=USD", &rr); err != nil {
		return fallbackRates()
	}

	currency, raw := rr.Currency, rr.Rates
	if rr.Data != nil {
		currency, raw = rr.Data.Currency, rr.Data.Rates
	}
	if currency == "" {
		currency = "USD"
	}

	out := market.ExchangeRates{Currency: currency, Rates: make(map[string]decimal.Decimal, len(raw))}
	for k, v := range raw {
		d, err := decimal.NewFromString(v)
		if err != nil {
			continue
		}
		out.Rates[k] = d
	}
	if len(out.Rates) == 0 {
		return fallbackRates()
	}
	return out
}

func (c *Client) products(ctx context.Context) ([]product, error) {
	var products []product
	if err := c.getJSON(ctx, "/products", &products); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// getJSON performs one rate-limited GET and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limit: %v", ErrUpstreamUnavailable, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: execute request: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return fmt.Errorf("%w: status %d: %s", ErrUpstreamUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}
