package orderbook

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is an immutable capture of a book. Bids and asks are ordered best
// price first. It doubles as the wire payload that resets a book wholesale.
type Snapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Seq       uint64       `json:"sequence"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewSnapshot captures the full depth of b.
func NewSnapshot(b *Book) Snapshot {
	return b.Snapshot(0)
}

// ApplyTo resets b to this snapshot's levels.
func (s Snapshot) ApplyTo(b *Book) error {
	return b.ApplySnapshot(s)
}

func (s Snapshot) side(side Side) []PriceLevel {
	if side == Ask {
		return s.Asks
	}
	return s.Bids
}

func (s Snapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

func (s Snapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

func (s Snapshot) Depth(side Side, n int) []PriceLevel {
	return collect(slices.Values(s.side(side)), n)
}

func (s Snapshot) IsCrossed() bool {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	return okBid && okAsk && crossed(bid, ask)
}

func (s Snapshot) Sequence() uint64 { return s.Seq }

func (s Snapshot) LastUpdate() time.Time { return s.Timestamp }

func (s Snapshot) IsEmpty() bool {
	return len(s.Bids) == 0 && len(s.Asks) == 0
}

func (s Snapshot) Spread() (decimal.Decimal, bool) {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return spreadOf(bid, ask), true
}

func (s Snapshot) MidPrice() (decimal.Decimal, bool) {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return midOf(bid, ask), true
}

func (s Snapshot) SpreadBps() (int64, bool) {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return spreadBpsOf(bid, ask), true
}

func (s Snapshot) VolumeWeightedPrice(side Side, quantity decimal.Decimal) (decimal.Decimal, bool) {
	return vwapOf(slices.Values(s.side(side)), quantity)
}

func (s Snapshot) TotalVolume(side Side, depth int) decimal.Decimal {
	return volumeOf(slices.Values(s.side(side)), depth)
}

func (s Snapshot) ImbalanceRatio(depth int) (decimal.Decimal, bool) {
	return imbalanceOf(s.TotalVolume(Bid, depth), s.TotalVolume(Ask, depth))
}

// Checksum matches Book.Checksum for the same levels.
func (s Snapshot) Checksum() uint32 {
	return s.ChecksumAt(ChecksumDepth)
}

// ChecksumAt matches Book.ChecksumAt for the same levels and depth.
func (s Snapshot) ChecksumAt(depth int) uint32 {
	return checksumOf(slices.Values(s.Bids), slices.Values(s.Asks), depth)
}
