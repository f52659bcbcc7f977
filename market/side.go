package market

import (
	"fmt"
	"strings"
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Valid reports whether s is exactly Buy or Sell.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// ParseSide accepts "buy" or "sell" in any case.
func ParseSide(s string) (Side, error) {
	side := Side(strings.ToLower(strings.TrimSpace(s)))
	if !side.Valid() {
		return "", fmt.Errorf("side must be buy or sell, got %q", s)
	}
	return side, nil
}
