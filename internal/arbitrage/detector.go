// Package arbitrage finds cross-venue price discrepancies that remain
// profitable after each venue's trading fees.
package arbitrage

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var bpsUnit = decimal.NewFromInt(10_000)

// FeeType selects which side of a venue's fee schedule applies.
type FeeType string

const (
	FeeTaker FeeType = "taker"
	FeeMaker FeeType = "maker"
)

func ParseFeeType(s string) (FeeType, error) {
	switch FeeType(s) {
	case FeeTaker, "":
		return FeeTaker, nil
	case FeeMaker:
		return FeeMaker, nil
	}
	return "", fmt.Errorf("unknown fee type %q", s)
}

// FeeRate is a venue's fee schedule as fractions of notional (0.001 = 10 bps).
type FeeRate struct {
	Maker decimal.Decimal `json:"maker" yaml:"maker"`
	Taker decimal.Decimal `json:"taker" yaml:"taker"`
}

func FlatFee(rate decimal.Decimal) FeeRate {
	return FeeRate{Maker: rate, Taker: rate}
}

func (f FeeRate) For(t FeeType) decimal.Decimal {
	if t == FeeMaker {
		return f.Maker
	}
	return f.Taker
}

type Config struct {
	// MinProfitBps is the minimum net profit, after fees, in basis points.
	MinProfitBps int64
	// MinVolume is the minimum notional of the buy leg in quote currency.
	MinVolume decimal.Decimal
	// DefaultFee applies to venues without a configured schedule.
	DefaultFee decimal.Decimal
	FeeType    FeeType
	// OpportunityTTL sets ExpiresAt relative to detection time.
	OpportunityTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinProfitBps:   10,
		MinVolume:      decimal.NewFromInt(100),
		DefaultFee:     decimal.RequireFromString("0.001"),
		FeeType:        FeeTaker,
		OpportunityTTL: 30 * time.Second,
	}
}

// Detector holds thresholds and a runtime-mutable fee table. Each instance is
// independent, so several strategies can run with different settings.
type Detector struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu   sync.RWMutex
	fees map[string]FeeRate
}

func NewDetector(cfg Config, logger *zap.Logger) *Detector {
	if cfg.FeeType == "" {
		cfg.FeeType = FeeTaker
	}
	return &Detector{
		cfg:    cfg,
		logger: logger.Named("arbitrage"),
		now:    time.Now,
		fees:   make(map[string]FeeRate),
	}
}

func (d *Detector) Config() Config { return d.cfg }

// SetFee sets both maker and taker rates of venue to rate.
func (d *Detector) SetFee(venue string, rate decimal.Decimal) {
	d.SetFeeRate(venue, FlatFee(rate))
}

func (d *Detector) SetFeeRate(venue string, rate FeeRate) {
	d.mu.Lock()
	d.fees[venue] = rate
	d.mu.Unlock()
}

// ReplaceFees swaps the whole fee table, e.g. on config reload.
func (d *Detector) ReplaceFees(fees map[string]FeeRate) {
	d.mu.Lock()
	d.fees = maps.Clone(fees)
	if d.fees == nil {
		d.fees = make(map[string]FeeRate)
	}
	d.mu.Unlock()
}

func (d *Detector) Fees() map[string]FeeRate {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return maps.Clone(d.fees)
}

// Fee is the effective rate used for venue.
func (d *Detector) Fee(venue string) decimal.Decimal {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.feeLocked(venue)
}

func (d *Detector) feeLocked(venue string) decimal.Decimal {
	if f, ok := d.fees[venue]; ok {
		return f.For(d.cfg.FeeType)
	}
	return d.cfg.DefaultFee
}

// Detect compares every ordered pair of venues for symbol and returns the
// opportunities that clear the profit and volume thresholds. The result is
// unsorted and empty when nothing qualifies.
func (d *Detector) Detect(symbol string, books map[string]orderbook.View) []Opportunity {
	venues := slices.Sorted(maps.Keys(books))

	d.mu.RLock()
	fees := make(map[string]decimal.Decimal, len(venues))
	for _, v := range venues {
		fees[v] = d.feeLocked(v)
	}
	d.mu.RUnlock()

	now := d.now()
	var out []Opportunity
	for i := 0; i < len(venues); i++ {
		for j := i + 1; j < len(venues); j++ {
			a, b := venues[i], venues[j]
			if op, ok := d.evaluate(symbol, a, b, books[a], books[b], fees[a], fees[b], now); ok {
				out = append(out, op)
			}
			if op, ok := d.evaluate(symbol, b, a, books[b], books[a], fees[b], fees[a], now); ok {
				out = append(out, op)
			}
		}
	}
	if len(out) > 0 {
		d.logger.Debug("opportunities detected", zap.String("symbol", symbol), zap.Int("count", len(out)))
	}
	return out
}

// evaluate checks buying on buyVenue and selling on sellVenue.
func (d *Detector) evaluate(symbol, buyVenue, sellVenue string, buyBook, sellBook orderbook.View, buyFee, sellFee decimal.Decimal, now time.Time) (Opportunity, bool) {
	ask, ok := buyBook.BestAsk()
	if !ok {
		return Opportunity{}, false
	}
	bid, ok := sellBook.BestBid()
	if !ok {
		return Opportunity{}, false
	}
	buy, sell := ask.Price, bid.Price
	if sell.LessThanOrEqual(buy) {
		return Opportunity{}, false
	}

	gross := sell.Sub(buy).Mul(bpsUnit).Div(buy)
	feeBps := buyFee.Add(sellFee).Mul(bpsUnit)
	net := gross.Sub(feeBps)
	if net.LessThan(decimal.NewFromInt(d.cfg.MinProfitBps)) {
		return Opportunity{}, false
	}

	qty := decimal.Min(ask.Quantity, bid.Quantity)
	if qty.Mul(buy).LessThan(d.cfg.MinVolume) {
		return Opportunity{}, false
	}

	op := Opportunity{
		ID:              uuid.New(),
		Symbol:          symbol,
		BuyVenue:        buyVenue,
		SellVenue:       sellVenue,
		BuyPrice:        buy,
		SellPrice:       sell,
		GrossProfitBps:  gross,
		NetProfitBps:    net,
		MaxQuantity:     qty,
		EstimatedProfit: estimatedProfit(buy, sell, buyFee, sellFee, qty),
		BuyFeeRate:      buyFee,
		SellFeeRate:     sellFee,
		DetectedAt:      now,
	}
	if d.cfg.OpportunityTTL > 0 {
		op.ExpiresAt = now.Add(d.cfg.OpportunityTTL)
	}
	return op, true
}
