package arbitrage

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Opportunity is one executable cross-venue discrepancy: buy at BuyVenue's
// best ask, sell at SellVenue's best bid.
type Opportunity struct {
	ID              uuid.UUID       `json:"id"`
	Symbol          string          `json:"symbol"`
	BuyVenue        string          `json:"buy_venue"`
	SellVenue       string          `json:"sell_venue"`
	BuyPrice        decimal.Decimal `json:"buy_price"`
	SellPrice       decimal.Decimal `json:"sell_price"`
	GrossProfitBps  decimal.Decimal `json:"gross_profit_bps"`
	NetProfitBps    decimal.Decimal `json:"net_profit_bps"`
	MaxQuantity     decimal.Decimal `json:"max_quantity"`
	EstimatedProfit decimal.Decimal `json:"estimated_profit"`
	BuyFeeRate      decimal.Decimal `json:"buy_fee_rate"`
	SellFeeRate     decimal.Decimal `json:"sell_fee_rate"`
	DetectedAt      time.Time       `json:"detected_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

// ProfitAfterFees recomputes the absolute profit for MaxQuantity under
// different fee rates.
func (o Opportunity) ProfitAfterFees(buyFee, sellFee decimal.Decimal) decimal.Decimal {
	return estimatedProfit(o.BuyPrice, o.SellPrice, buyFee, sellFee, o.MaxQuantity)
}

// ROIPercentage is estimated profit over capital deployed on the buy leg.
func (o Opportunity) ROIPercentage() decimal.Decimal {
	capital := o.BuyPrice.Mul(o.MaxQuantity)
	if capital.IsZero() {
		return decimal.Zero
	}
	return o.EstimatedProfit.Mul(decimal.NewFromInt(100)).Div(capital)
}

// IsExpired reports whether now is past the opportunity's expiry.
func (o Opportunity) IsExpired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}

// IsValid reports a positive edge and size that has not yet expired.
func (o Opportunity) IsValid(now time.Time) bool {
	return o.NetProfitBps.IsPositive() && o.MaxQuantity.IsPositive() && !o.IsExpired(now)
}

// SortByProfit orders opportunities by estimated profit, highest first, with
// net bps as the tie-breaker.
func SortByProfit(ops []Opportunity) {
	slices.SortStableFunc(ops, func(a, b Opportunity) int {
		if c := b.EstimatedProfit.Cmp(a.EstimatedProfit); c != 0 {
			return c
		}
		return b.NetProfitBps.Cmp(a.NetProfitBps)
	})
}

func estimatedProfit(buy, sell, buyFee, sellFee, qty decimal.Decimal) decimal.Decimal {
	return sell.Sub(buy).
		Sub(buy.Mul(buyFee)).
		Sub(sell.Mul(sellFee)).
		Mul(qty)
}
