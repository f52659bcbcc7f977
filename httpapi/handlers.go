package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/papertrade/id"
	"github.com/rustyeddy/papertrade/ledger"
	"github.com/rustyeddy/papertrade/market"
)

const maxBodySize = 1 << 16

type quoteResponse struct {
	market.Quote
	Stale bool `json:"stale"`
}

func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	sym := market.Symbol(strings.ToUpper(mux.Vars(r)["symbol"]))

	res, err := s.quotes.Lookup(r.Context(), sym)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{Quote: res.Quote, Stale: res.Stale})
}

func (s *Server) handleGetQuotes(w http.ResponseWriter, r *http.Request) {
	var symbols []market.Symbol
	for _, part := range strings.Split(r.URL.Query().Get("symbols"), ",") {
		if part = strings.TrimSpace(part); part != "" {
			symbols = append(symbols, market.Symbol(strings.ToUpper(part)))
		}
	}
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "symbols query parameter required")
		return
	}

	quotes := s.quotes.GetMultiple(r.Context(), symbols)
	if quotes == nil {
		quotes = []market.Quote{}
	}
	writeJSON(w, http.StatusOK, quotes)
}

func (s *Server) handleListSymbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.ListSupportedSymbols(r.Context()))
}

func (s *Server) handleListCurrencies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.ListCurrencies(r.Context()))
}

func (s *Server) handleExchangeRates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.ExchangeRates(r.Context()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.quotes.Healthy(r.Context(), s.healthSymbol) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type orderRequest struct {
	Asset  string          `json:"asset"`
	Type   string          `json:"type"`
	Amount decimal.Decimal `json:"amount"`
}

type orderResponse struct {
	Transaction ledger.Transaction `json:"transaction"`
	Balance     decimal.Decimal    `json:"balance"`
	StalePrice  bool               `json:"stalePrice"`
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	accountID, _ := AccountID(r.Context())

	var req orderRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}

	side, err := market.ParseSide(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_order", err.Error())
		return
	}
	asset := market.Symbol(strings.ToUpper(strings.TrimSpace(req.Asset)))
	if asset == "" {
		writeError(w, http.StatusBadRequest, "invalid_order", "asset is required")
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "invalid_order", "amount must be positive, got "+req.Amount.String())
		return
	}

	// The executed price is whatever the cache holds right now.
	quote, err := s.quotes.Lookup(r.Context(), asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	tx, err := s.wallet.ApplyOrder(r.Context(), accountID, asset, side, req.Amount, quote.Quote.Price)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderResponse{
		Transaction: tx,
		Balance:     tx.BalanceAfter,
		StalePrice:  quote.Stale,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	accountID, _ := AccountID(r.Context())

	hist, err := s.wallet.GetHistory(r.Context(), accountID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if hist == nil {
		hist = []ledger.Transaction{}
	}
	writeJSON(w, http.StatusOK, hist)
}

type balanceResponse struct {
	AccountID string          `json:"accountId"`
	Balance   decimal.Decimal `json:"balance"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	accountID, _ := AccountID(r.Context())

	bal, err := s.wallet.Balance(r.Context(), accountID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{AccountID: accountID, Balance: bal})
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	accountID, _ := AccountID(r.Context())

	acct, err := s.wallet.OpenAccount(r.Context(), accountID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, balanceResponse{AccountID: acct.ID, Balance: acct.Balance})
}

type chatMessage struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// errChatSend is reported back to a sender whose frame was not published.
var errChatSend = errors.New("failed to send message")

// chatInbound republishes a client's {text} frame to every chat socket.
func (s *Server) chatInbound(r *http.Request, msg []byte) error {
	sender, _ := AccountID(r.Context())

	var in struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(msg, &in); err != nil {
		s.log.WithError(err).WithField("account", sender).Debug("bad chat frame")
		return errChatSend
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return errChatSend
	}

	now := time.Now()
	out := chatMessage{ID: id.NewAt(now), SenderID: sender, Text: text, Timestamp: now}
	if err := s.hub.Publish(ChatTopic, out); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"account": sender}).Warn("publish chat message")
		return errChatSend
	}
	return nil
}
