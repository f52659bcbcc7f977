package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rustyeddy/papertrade/auth"
	"github.com/rustyeddy/papertrade/ledger"
	"github.com/rustyeddy/papertrade/quotecache"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// statusFor maps domain errors to a status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInvalidOrder):
		return http.StatusBadRequest, "invalid_order"
	case errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound, "account_not_found"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, ledger.ErrAccountExists):
		return http.StatusConflict, "account_exists"
	case errors.Is(err, quotecache.ErrQuoteUnavailable):
		return http.StatusServiceUnavailable, "quote_unavailable"
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		msg = "internal error"
	}
	writeError(w, status, code, msg)
}
