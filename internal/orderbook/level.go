// Package orderbook maintains per-venue price-level books: two ordered sides
// of aggregated resting quantity with update, replace and query operations.
package orderbook

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies one half of a book.
type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Ask {
		return "ask"
	}
	return "bid"
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Ask {
		return Bid
	}
	return Ask
}

// ParseSide accepts the spellings venues commonly use for each side.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bid", "bids", "buy", "b":
		return Bid, nil
	case "ask", "asks", "sell", "a", "offer":
		return Ask, nil
	}
	return Bid, invalid("side", fmt.Sprintf("unknown side %q", s))
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// PriceLevel is the aggregate resting quantity at one price. A level stored
// in a book always has a strictly positive quantity.
type PriceLevel struct {
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	OrderCount  uint32          `json:"order_count,omitempty"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Notional is price times quantity in quote currency.
func (l PriceLevel) Notional() decimal.Decimal {
	return l.Price.Mul(l.Quantity)
}

func (l PriceLevel) String() string {
	return l.Quantity.String() + "@" + l.Price.String()
}

// better reports whether price a ranks ahead of price b on the given side.
func better(side Side, a, b decimal.Decimal) bool {
	if side == Bid {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

func byPrice(a, b PriceLevel) bool {
	return a.Price.LessThan(b.Price)
}
