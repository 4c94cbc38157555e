package orderbook

import (
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

const (
	// DefaultMaxDepth bounds the levels retained per side.
	DefaultMaxDepth = 1000
	// ChecksumDepth is the number of levels per side covered by Checksum.
	ChecksumDepth = 10
)

// View is the read surface shared by live books and snapshots. The event
// processor, the aggregator and the arbitrage detector depend on it rather
// than on *Book so snapshots and test doubles can stand in.
type View interface {
	BestBid() (PriceLevel, bool)
	BestAsk() (PriceLevel, bool)
	// Depth returns up to n levels of one side, best price first. n <= 0
	// returns the whole side.
	Depth(side Side, n int) []PriceLevel
	IsCrossed() bool
	Sequence() uint64
	LastUpdate() time.Time
}

var (
	_ View = (*Book)(nil)
	_ View = Snapshot{}
)

// Book is one venue's order book for one symbol. Both sides are kept in
// ascending price order: the best bid is the maximum of the bid tree and the
// best ask is the minimum of the ask tree.
//
// A Book is safe for concurrent use. Writers serialize on the book's lock;
// distinct books never contend.
type Book struct {
	mu sync.RWMutex

	symbol   string
	bids     *btree.BTreeG[PriceLevel]
	asks     *btree.BTreeG[PriceLevel]
	sequence uint64
	updated  time.Time
	maxDepth int

	venueChecksum    uint32
	hasVenueChecksum bool

	now func() time.Time
}

func newSide() *btree.BTreeG[PriceLevel] {
	return btree.NewBTreeGOptions(byPrice, btree.Options{NoLocks: true})
}

// NewBook creates an empty book. maxDepth <= 0 disables depth trimming.
func NewBook(symbol string, maxDepth int) *Book {
	return &Book{
		symbol:   symbol,
		bids:     newSide(),
		asks:     newSide(),
		maxDepth: maxDepth,
		now:      time.Now,
	}
}

func (b *Book) Symbol() string { return b.symbol }

func (b *Book) MaxDepth() int { return b.maxDepth }

func (b *Book) tree(side Side) *btree.BTreeG[PriceLevel] {
	if side == Ask {
		return b.asks
	}
	return b.bids
}

// levels iterates one side best-first. Callers must hold b.mu.
func (b *Book) levels(side Side) iter.Seq[PriceLevel] {
	t := b.tree(side)
	return func(yield func(PriceLevel) bool) {
		if side == Bid {
			t.Reverse(yield)
			return
		}
		t.Scan(yield)
	}
}

// UpdateSide inserts or overwrites the level at price, or removes it when
// quantity is zero. The sequence advances even when nothing changed.
func (b *Book) UpdateSide(side Side, price, quantity decimal.Decimal, orderCount uint32) error {
	return b.Apply(Update{Side: side, Price: price, Quantity: quantity, OrderCount: orderCount})
}

func (b *Book) UpdateBid(price, quantity decimal.Decimal, orderCount uint32) error {
	return b.UpdateSide(Bid, price, quantity, orderCount)
}

func (b *Book) UpdateAsk(price, quantity decimal.Decimal, orderCount uint32) error {
	return b.UpdateSide(Ask, price, quantity, orderCount)
}

// Apply validates and applies a single update.
func (b *Book) Apply(u Update) error {
	if err := ValidateUpdate(u); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applyLocked(u)
	return nil
}

// ApplyBatch applies updates in order under one lock acquisition, so readers
// see either none or all of them. Every update is validated first; on failure
// the book is left untouched.
func (b *Book) ApplyBatch(updates []Update) error {
	for i, u := range updates {
		if err := ValidateUpdate(u); err != nil {
			return fmt.Errorf("update %d: %w", i, err)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range updates {
		b.applyLocked(u)
	}
	return nil
}

func (b *Book) applyLocked(u Update) {
	ts := u.Timestamp
	if ts.IsZero() {
		ts = b.now()
	}
	t := b.tree(u.Side)
	if u.Quantity.IsZero() {
		t.Delete(PriceLevel{Price: u.Price})
	} else {
		t.Set(PriceLevel{
			Price:       u.Price,
			Quantity:    u.Quantity,
			OrderCount:  u.OrderCount,
			LastUpdated: ts,
		})
		b.trimLocked(u.Side)
	}
	b.sequence++
	b.updated = ts
}

// trimLocked evicts the worst-priced levels beyond maxDepth.
func (b *Book) trimLocked(side Side) {
	if b.maxDepth <= 0 {
		return
	}
	t := b.tree(side)
	for t.Len() > b.maxDepth {
		if side == Bid {
			t.PopMin()
		} else {
			t.PopMax()
		}
	}
}

// ReplaceSide swaps one side for the given authoritative levels. Levels
// beyond maxDepth are dropped from the worst end.
func (b *Book) ReplaceSide(side Side, levels []PriceLevel) error {
	if err := ValidateLevels(levels); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ts := b.now()
	b.replaceLocked(side, levels, ts)
	b.sequence++
	b.updated = ts
	return nil
}

func (b *Book) replaceLocked(side Side, levels []PriceLevel, ts time.Time) {
	t := newSide()
	for _, l := range levels {
		if l.LastUpdated.IsZero() {
			l.LastUpdated = ts
		}
		t.Set(l)
	}
	if side == Ask {
		b.asks = t
	} else {
		b.bids = t
	}
	b.trimLocked(side)
}

// ApplySnapshot replaces both sides at once. The sequence advances by one
// and the book takes the snapshot's timestamp when it has one.
func (b *Book) ApplySnapshot(s Snapshot) error {
	if s.Symbol != "" && s.Symbol != b.symbol {
		return invalid("symbol", fmt.Sprintf("snapshot for %s applied to %s", s.Symbol, b.symbol))
	}
	if err := ValidateLevels(s.Bids); err != nil {
		return err
	}
	if err := ValidateLevels(s.Asks); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ts := s.Timestamp
	if ts.IsZero() {
		ts = b.now()
	}
	b.replaceLocked(Bid, s.Bids, ts)
	b.replaceLocked(Ask, s.Asks, ts)
	b.sequence++
	b.updated = ts
	return nil
}

// Clear drops every level. Used when a venue disconnects.
func (b *Book) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = newSide()
	b.asks = newSide()
	b.hasVenueChecksum = false
	b.sequence++
	b.updated = b.now()
}

func (b *Book) BestBid() (PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Max()
}

func (b *Book) BestAsk() (PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asks.Min()
}

func (b *Book) top() (bid, ask PriceLevel, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid, okBid := b.bids.Max()
	ask, okAsk := b.asks.Min()
	return bid, ask, okBid && okAsk
}

// Spread is best ask minus best bid. It is negative when the book is crossed.
func (b *Book) Spread() (decimal.Decimal, bool) {
	bid, ask, ok := b.top()
	if !ok {
		return decimal.Zero, false
	}
	return spreadOf(bid, ask), true
}

func (b *Book) MidPrice() (decimal.Decimal, bool) {
	bid, ask, ok := b.top()
	if !ok {
		return decimal.Zero, false
	}
	return midOf(bid, ask), true
}

// SpreadBps is the spread relative to the best bid in basis points,
// truncated toward zero.
func (b *Book) SpreadBps() (int64, bool) {
	bid, ask, ok := b.top()
	if !ok {
		return 0, false
	}
	return spreadBpsOf(bid, ask), true
}

// IsCrossed reports best bid >= best ask on a book with both sides.
func (b *Book) IsCrossed() bool {
	bid, ask, ok := b.top()
	return ok && crossed(bid, ask)
}

// VolumeWeightedPrice is the average fill price for quantity walked from the
// best price outward. It reports false if the side is too thin.
func (b *Book) VolumeWeightedPrice(side Side, quantity decimal.Decimal) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return vwapOf(b.levels(side), quantity)
}

// Slippage is |vwap - best| / best as a percentage.
func (b *Book) Slippage(side Side, quantity decimal.Decimal) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slippageOf(b.levels(side), quantity)
}

func (b *Book) Checksum() uint32 {
	return b.ChecksumAt(ChecksumDepth)
}

// ChecksumAt is a CRC32 over the top depth levels of both sides.
func (b *Book) ChecksumAt(depth int) uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return checksumOf(b.levels(Bid), b.levels(Ask), depth)
}

func (b *Book) ValidateChecksum(expected uint32) bool {
	return b.ValidateChecksumAt(expected, ChecksumDepth)
}

func (b *Book) ValidateChecksumAt(expected uint32, depth int) bool {
	return b.ChecksumAt(depth) == expected
}

// SetVenueChecksum records the last checksum the venue published.
func (b *Book) SetVenueChecksum(sum uint32) {
	b.mu.Lock()
	b.venueChecksum, b.hasVenueChecksum = sum, true
	b.mu.Unlock()
}

func (b *Book) VenueChecksum() (uint32, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.venueChecksum, b.hasVenueChecksum
}

func (b *Book) Depth(side Side, n int) []PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return collect(b.levels(side), n)
}

func (b *Book) Bids(n int) []PriceLevel { return b.Depth(Bid, n) }

func (b *Book) Asks(n int) []PriceLevel { return b.Depth(Ask, n) }

// LiquidityAtPrice is the quantity resting at price or better on a side.
func (b *Book) LiquidityAtPrice(side Side, price decimal.Decimal) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return liquidityOf(side, b.levels(side), price)
}

// TotalVolume sums the top depth levels of a side; depth <= 0 sums all.
func (b *Book) TotalVolume(side Side, depth int) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return volumeOf(b.levels(side), depth)
}

func (b *Book) TotalBidVolume(depth int) decimal.Decimal { return b.TotalVolume(Bid, depth) }

func (b *Book) TotalAskVolume(depth int) decimal.Decimal { return b.TotalVolume(Ask, depth) }

// ImbalanceRatio is (bidVol - askVol) / (bidVol + askVol) over the top depth
// levels, in [-1, 1].
func (b *Book) ImbalanceRatio(depth int) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return imbalanceOf(volumeOf(b.levels(Bid), depth), volumeOf(b.levels(Ask), depth))
}

func (b *Book) IsEmpty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Len() == 0 && b.asks.Len() == 0
}

func (b *Book) BidCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Len()
}

func (b *Book) AskCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asks.Len()
}

// Sequence counts every mutation applied to the book.
func (b *Book) Sequence() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sequence
}

func (b *Book) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

// Snapshot captures the top depth levels of each side (all when depth <= 0)
// together with the sequence and timestamp, under one read lock.
func (b *Book) Snapshot(depth int) Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{
		Symbol:    b.symbol,
		Bids:      collect(b.levels(Bid), depth),
		Asks:      collect(b.levels(Ask), depth),
		Seq:       b.sequence,
		Timestamp: b.updated,
	}
}
