package market

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Symbol identifies a trading pair, e.g. "BTC-USD".
type Symbol string

// Base returns the base currency of the pair ("BTC" for "BTC-USD").
func (s Symbol) Base() string {
	base, _, _ := strings.Cut(string(s), "-")
	return base
}

// Counter returns the quote currency of the pair ("USD" for "BTC-USD").
func (s Symbol) Counter() string {
	_, counter, _ := strings.Cut(string(s), "-")
	return counter
}

func (s Symbol) String() string {
	return string(s)
}

// Quote is a single price observation. Quotes are values and are never
// modified after they are produced.
type Quote struct {
	Symbol    Symbol          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// Valid reports whether the quote carries a usable, strictly positive price.
func (q Quote) Valid() bool {
	return q.Symbol != "" && q.Price.IsPositive()
}

// Currency describes a tradable base currency.
type Currency struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	MinSize string `json:"min_size"`
}

// ExchangeRates are the units of each currency bought by one unit of Currency.
type ExchangeRates struct {
	Currency string                     `json:"currency"`
	Rates    map[string]decimal.Decimal `json:"rates"`
}

// QuoteSource is anything that can produce the current quote for a symbol.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol Symbol) (Quote, error)
}
