// Package events derives discrete market events from successive observations
// of an order book.
package events

import (
	"encoding/json"
	"time"

	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook"
	"github.com/shopspring/decimal"
)

// Type names an event kind on the wire and in metrics.
type Type string

const (
	TypeBestBidAsk    Type = "best_bid_ask"
	TypeSpread        Type = "spread"
	TypeVolume        Type = "volume"
	TypeCrossing      Type = "crossing"
	TypeLiquidityGap  Type = "liquidity_gap"
	TypePriceMovement Type = "price_movement"
)

// Event is implemented by every concrete event struct.
type Event interface {
	Kind() Type
	Meta() Header
}

// Header carries the fields common to all events.
type Header struct {
	Venue     string    `json:"venue"`
	Symbol    string    `json:"symbol"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

func (h Header) Meta() Header { return h }

type BestBidAskChanged struct {
	Header
	BestBid         *orderbook.PriceLevel `json:"best_bid,omitempty"`
	BestAsk         *orderbook.PriceLevel `json:"best_ask,omitempty"`
	PreviousBestBid *orderbook.PriceLevel `json:"previous_best_bid,omitempty"`
	PreviousBestAsk *orderbook.PriceLevel `json:"previous_best_ask,omitempty"`
}

func (BestBidAskChanged) Kind() Type { return TypeBestBidAsk }

type SpreadChanged struct {
	Header
	Spread         *decimal.Decimal `json:"spread,omitempty"`
	SpreadBps      *int64           `json:"spread_bps,omitempty"`
	PreviousSpread *decimal.Decimal `json:"previous_spread,omitempty"`
	MidPrice       *decimal.Decimal `json:"mid_price,omitempty"`
}

func (SpreadChanged) Kind() Type { return TypeSpread }

type VolumeChanged struct {
	Header
	TotalBidVolume decimal.Decimal  `json:"total_bid_volume"`
	TotalAskVolume decimal.Decimal  `json:"total_ask_volume"`
	ChangeRatio    decimal.Decimal  `json:"change_ratio"`
	ImbalanceRatio *decimal.Decimal `json:"imbalance_ratio,omitempty"`
	Depth          int              `json:"depth"`
}

func (VolumeChanged) Kind() Type { return TypeVolume }

// Severity grades how far a crossed book is crossed.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

type CrossingDetected struct {
	Header
	BestBid     orderbook.PriceLevel `json:"best_bid"`
	BestAsk     orderbook.PriceLevel `json:"best_ask"`
	CrossAmount decimal.Decimal      `json:"cross_amount"`
	CrossBps    int64                `json:"cross_bps"`
	Severity    Severity             `json:"severity"`
}

func (CrossingDetected) Kind() Type { return TypeCrossing }

type LiquidityGap struct {
	Header
	Side     orderbook.Side  `json:"side"`
	GapStart decimal.Decimal `json:"gap_start"`
	GapEnd   decimal.Decimal `json:"gap_end"`
	GapSize  decimal.Decimal `json:"gap_size"`
	// Level is the 1-based depth of the level nearer the top of book.
	Level int `json:"level"`
}

func (LiquidityGap) Kind() Type { return TypeLiquidityGap }

// Movement classifies a best-price change from the side's point of view:
// a higher bid or a lower ask is an improvement.
type Movement string

const (
	MovementImprovement Movement = "improvement"
	MovementDegradation Movement = "degradation"
)

type PriceMovement struct {
	Header
	Side      orderbook.Side  `json:"side"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	ChangeBps int64           `json:"change_bps"`
	Movement  Movement        `json:"movement"`
}

func (PriceMovement) Kind() Type { return TypePriceMovement }

// Envelope is the published form of an event.
type Envelope struct {
	Type  Type  `json:"type"`
	Event Event `json:"event"`
}

func Wrap(e Event) Envelope {
	return Envelope{Type: e.Kind(), Event: e}
}

func Marshal(e Event) ([]byte, error) {
	return json.Marshal(Wrap(e))
}
