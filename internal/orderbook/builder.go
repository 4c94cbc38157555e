package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

// Builder assembles a pre-populated book, mostly for tests and replays.
type Builder struct {
	symbol   string
	maxDepth int
	bids     []PriceLevel
	asks     []PriceLevel
	sequence uint64
	clock    func() time.Time
}

func NewBuilder() *Builder {
	return &Builder{maxDepth: DefaultMaxDepth}
}

func (b *Builder) Symbol(symbol string) *Builder {
	b.symbol = symbol
	return b
}

func (b *Builder) MaxDepth(n int) *Builder {
	b.maxDepth = n
	return b
}

func (b *Builder) Bid(price, quantity decimal.Decimal) *Builder {
	b.bids = append(b.bids, PriceLevel{Price: price, Quantity: quantity})
	return b
}

func (b *Builder) Ask(price, quantity decimal.Decimal) *Builder {
	b.asks = append(b.asks, PriceLevel{Price: price, Quantity: quantity})
	return b
}

func (b *Builder) Sequence(seq uint64) *Builder {
	b.sequence = seq
	return b
}

// Clock overrides the time source used for level and book timestamps.
func (b *Builder) Clock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// FromSnapshot seeds symbol, levels and sequence from s.
func (b *Builder) FromSnapshot(s Snapshot) *Builder {
	b.symbol = s.Symbol
	b.bids = append([]PriceLevel(nil), s.Bids...)
	b.asks = append([]PriceLevel(nil), s.Asks...)
	b.sequence = s.Seq
	return b
}

func (b *Builder) Build() (*Book, error) {
	if err := ValidateSymbol(b.symbol); err != nil {
		return nil, err
	}
	if err := ValidateLevels(b.bids); err != nil {
		return nil, err
	}
	if err := ValidateLevels(b.asks); err != nil {
		return nil, err
	}
	book := NewBook(b.symbol, b.maxDepth)
	if b.clock != nil {
		book.now = b.clock
	}
	ts := book.now()
	book.replaceLocked(Bid, b.bids, ts)
	book.replaceLocked(Ask, b.asks, ts)
	book.sequence = b.sequence
	book.updated = ts
	return book, nil
}
