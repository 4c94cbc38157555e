package orderbook

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Upper bounds that catch obviously corrupted feed values.
var (
	MaxPrice    = decimal.NewFromInt(1_000_000_000)
	MaxQuantity = decimal.NewFromInt(1_000_000_000)
)

// ValidateSymbol rejects empty or whitespace-only symbols.
func ValidateSymbol(symbol string) error {
	if strings.TrimSpace(symbol) == "" {
		return invalid("symbol", "must not be empty")
	}
	return nil
}

// ValidatePrice requires 0 < price <= MaxPrice.
func ValidatePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return invalid("price", "must be positive, got "+price.String())
	}
	if price.GreaterThan(MaxPrice) {
		return invalid("price", "exceeds maximum "+MaxPrice.String())
	}
	return nil
}

// ValidateQuantity requires 0 <= quantity <= MaxQuantity. A zero quantity is
// only accepted when allowZero is set, which is the deletion case for
// incremental updates.
func ValidateQuantity(quantity decimal.Decimal, allowZero bool) error {
	if quantity.IsNegative() {
		return invalid("quantity", "must not be negative, got "+quantity.String())
	}
	if quantity.IsZero() && !allowZero {
		return invalid("quantity", "must be positive")
	}
	if quantity.GreaterThan(MaxQuantity) {
		return invalid("quantity", "exceeds maximum "+MaxQuantity.String())
	}
	return nil
}

// ValidateUpdate checks one incremental instruction.
func ValidateUpdate(u Update) error {
	if u.Side != Bid && u.Side != Ask {
		return invalid("side", "unknown side")
	}
	if err := ValidatePrice(u.Price); err != nil {
		return err
	}
	return ValidateQuantity(u.Quantity, true)
}

// ValidateLevels checks the levels of an authoritative snapshot side.
// Duplicate prices are rejected since a side holds each price once.
func ValidateLevels(levels []PriceLevel) error {
	seen := make(map[string]struct{}, len(levels))
	for _, l := range levels {
		if err := ValidatePrice(l.Price); err != nil {
			return err
		}
		if err := ValidateQuantity(l.Quantity, false); err != nil {
			return err
		}
		key := l.Price.String()
		if _, dup := seen[key]; dup {
			return invalid("price", "duplicate level "+key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// ValidateSnapshot checks symbol and both sides.
func ValidateSnapshot(s Snapshot) error {
	if err := ValidateSymbol(s.Symbol); err != nil {
		return err
	}
	if err := ValidateLevels(s.Bids); err != nil {
		return err
	}
	return ValidateLevels(s.Asks)
}
