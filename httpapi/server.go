// Package httpapi exposes quotes, the wallet and the price stream over HTTP.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/papertrade/auth"
	"github.com/rustyeddy/papertrade/internal/logging"
	"github.com/rustyeddy/papertrade/ledger"
	"github.com/rustyeddy/papertrade/market"
	"github.com/rustyeddy/papertrade/metrics"
	"github.com/rustyeddy/papertrade/pubsub"
	"github.com/rustyeddy/papertrade/quotecache"
)

const ChatTopic = "chat"

// Quotes is the read side of the quote cache.
type Quotes interface {
	Lookup(ctx context.Context, symbol market.Symbol) (quotecache.Lookup, error)
	GetMultiple(ctx context.Context, symbols []market.Symbol) []market.Quote
	Healthy(ctx context.Context, symbol market.Symbol) bool
}

// Catalog lists what the exchange trades.
type Catalog interface {
	ListSupportedSymbols(ctx context.Context) []market.Symbol
	ListCurrencies(ctx context.Context) []market.Currency
	ExchangeRates(ctx context.Context) market.ExchangeRates
}

// Wallet is the order flow of the ledger. Balance overwrites are not
// reachable over HTTP.
type Wallet interface {
	OpenAccount(ctx context.Context, accountID string) (ledger.Account, error)
	ApplyOrder(ctx context.Context, accountID string, asset market.Symbol, side market.Side, amount, price decimal.Decimal) (ledger.Transaction, error)
	GetHistory(ctx context.Context, accountID string) ([]ledger.Transaction, error)
	Balance(ctx context.Context, accountID string) (decimal.Decimal, error)
}

// Options wires the server to its collaborators. Hub, PriceTopic and
// HealthSymbol are optional.
type Options struct {
	Quotes  Quotes
	Catalog Catalog
	Wallet  Wallet
	Auth    auth.Authenticator
	Hub     *pubsub.Hub

	PriceTopic   string
	HealthSymbol market.Symbol
	Log          logrus.FieldLogger
}

type Server struct {
	quotes  Quotes
	catalog Catalog
	wallet  Wallet
	auth    auth.Authenticator
	hub     *pubsub.Hub

	priceTopic   string
	healthSymbol market.Symbol
	log          logrus.FieldLogger

	router *mux.Router
}

func New(opts Options) *Server {
	s := &Server{
		quotes:       opts.Quotes,
		catalog:      opts.Catalog,
		wallet:       opts.Wallet,
		auth:         opts.Auth,
		hub:          opts.Hub,
		priceTopic:   opts.PriceTopic,
		healthSymbol: opts.HealthSymbol,
		log:          logging.OrDiscard(opts.Log),
		router:       mux.NewRouter(),
	}
	if s.priceTopic == "" {
		s.priceTopic = "priceUpdate"
	}
	if s.healthSymbol == "" {
		s.healthSymbol = "BTC-USD"
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.instrument)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/quotes", s.handleGetQuotes).Methods(http.MethodGet)
	api.HandleFunc("/quotes/{symbol}", s.handleGetQuote).Methods(http.MethodGet)
	api.HandleFunc("/symbols", s.handleListSymbols).Methods(http.MethodGet)
	api.HandleFunc("/currencies", s.handleListCurrencies).Methods(http.MethodGet)
	api.HandleFunc("/exchange-rates", s.handleExchangeRates).Methods(http.MethodGet)

	wallet := api.PathPrefix("/wallet").Subrouter()
	wallet.Use(s.requireAuth)
	wallet.HandleFunc("/open", s.handleOpenAccount).Methods(http.MethodPost)
	wallet.HandleFunc("/transaction", s.handleTransaction).Methods(http.MethodPost)
	wallet.HandleFunc("/transactions", s.handleHistory).Methods(http.MethodGet)
	wallet.HandleFunc("/balance", s.handleBalance).Methods(http.MethodGet)

	if s.hub != nil {
		r.Handle("/ws/prices", s.hub.ServeWS(s.priceTopic, nil)).Methods(http.MethodGet)
		r.Handle("/ws/chat", s.requireAuth(s.hub.ServeWS(ChatTopic, s.chatInbound))).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
