// Package aggregator combines several venues' books for one symbol into a
// single cross-venue view.
package aggregator

import (
	"slices"
	"sync"
	"time"

	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook"
	"github.com/shopspring/decimal"
)

// VenueLevel is a price level tagged with the venue it rests on.
type VenueLevel struct {
	Venue string `json:"venue"`
	orderbook.PriceLevel
}

// AggregatedOrderBook holds shared handles to books owned by the registry.
// It never creates or destroys a book.
//
// When several venues quote the same extremal price the venue that comes
// first in iteration order wins. The default order is lexicographic by venue
// id; SetVenueOrder overrides it.
type AggregatedOrderBook struct {
	symbol string

	mu             sync.RWMutex
	books          map[string]orderbook.View
	order          []string
	lastAggregated time.Time
}

func New(symbol string) *AggregatedOrderBook {
	return &AggregatedOrderBook{
		symbol: symbol,
		books:  make(map[string]orderbook.View),
	}
}

// FromBooks builds an aggregate over the given venue books.
func FromBooks(symbol string, books map[string]orderbook.View) *AggregatedOrderBook {
	a := New(symbol)
	for venue, b := range books {
		a.books[venue] = b
	}
	return a
}

func (a *AggregatedOrderBook) Symbol() string { return a.symbol }

// AddVenue adds or replaces the book for venue.
func (a *AggregatedOrderBook) AddVenue(venue string, book orderbook.View) {
	a.mu.Lock()
	a.books[venue] = book
	a.mu.Unlock()
}

func (a *AggregatedOrderBook) RemoveVenue(venue string) {
	a.mu.Lock()
	delete(a.books, venue)
	a.mu.Unlock()
}

func (a *AggregatedOrderBook) VenueBook(venue string) (orderbook.View, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.books[venue]
	return b, ok
}

func (a *AggregatedOrderBook) VenueCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.books)
}

func (a *AggregatedOrderBook) IsEmpty() bool {
	return a.VenueCount() == 0
}

// SetVenueOrder fixes the iteration order used for tie-breaking. Venues not
// listed follow in lexicographic order.
func (a *AggregatedOrderBook) SetVenueOrder(order []string) {
	a.mu.Lock()
	a.order = append([]string(nil), order...)
	a.mu.Unlock()
}

// LastAggregated is when AggregateDepth last ran.
func (a *AggregatedOrderBook) LastAggregated() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastAggregated
}

// venues returns member venues in iteration order. Callers hold a.mu.
func (a *AggregatedOrderBook) venues() []string {
	out := make([]string, 0, len(a.books))
	listed := make(map[string]struct{}, len(a.order))
	for _, v := range a.order {
		if _, ok := a.books[v]; ok {
			out = append(out, v)
			listed[v] = struct{}{}
		}
	}
	rest := make([]string, 0, len(a.books))
	for v := range a.books {
		if _, ok := listed[v]; !ok {
			rest = append(rest, v)
		}
	}
	slices.Sort(rest)
	return append(out, rest...)
}

// BestBidAcrossVenues is the highest best bid of any member venue.
func (a *AggregatedOrderBook) BestBidAcrossVenues() (VenueLevel, bool) {
	return a.best(orderbook.Bid)
}

// BestAskAcrossVenues is the lowest best ask of any member venue.
func (a *AggregatedOrderBook) BestAskAcrossVenues() (VenueLevel, bool) {
	return a.best(orderbook.Ask)
}

func (a *AggregatedOrderBook) best(side orderbook.Side) (VenueLevel, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var best VenueLevel
	found := false
	for _, venue := range a.venues() {
		var (
			l  orderbook.PriceLevel
			ok bool
		)
		if side == orderbook.Bid {
			l, ok = a.books[venue].BestBid()
		} else {
			l, ok = a.books[venue].BestAsk()
		}
		if !ok {
			continue
		}
		// strict comparison keeps the earlier venue on ties
		if !found ||
			(side == orderbook.Bid && l.Price.GreaterThan(best.Price)) ||
			(side == orderbook.Ask && l.Price.LessThan(best.Price)) {
			best, found = VenueLevel{Venue: venue, PriceLevel: l}, true
		}
	}
	return best, found
}

// CrossVenueSpread is best ask across venues minus best bid across venues.
// A negative value is the arbitrage condition itself.
func (a *AggregatedOrderBook) CrossVenueSpread() (decimal.Decimal, bool) {
	bid, okBid := a.BestBidAcrossVenues()
	ask, okAsk := a.BestAskAcrossVenues()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// AggregateDepth merges each venue's top n levels per side into one ladder,
// best price first. Equal prices keep venue iteration order.
func (a *AggregatedOrderBook) AggregateDepth(n int) (bids, asks []VenueLevel) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, venue := range a.venues() {
		book := a.books[venue]
		for _, l := range book.Depth(orderbook.Bid, n) {
			bids = append(bids, VenueLevel{Venue: venue, PriceLevel: l})
		}
		for _, l := range book.Depth(orderbook.Ask, n) {
			asks = append(asks, VenueLevel{Venue: venue, PriceLevel: l})
		}
	}
	slices.SortStableFunc(bids, func(x, y VenueLevel) int { return y.Price.Cmp(x.Price) })
	slices.SortStableFunc(asks, func(x, y VenueLevel) int { return x.Price.Cmp(y.Price) })
	a.lastAggregated = time.Now()
	return bids, asks
}

// HasCrossedVenues reports whether any member book is internally crossed.
func (a *AggregatedOrderBook) HasCrossedVenues() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, b := range a.books {
		if b.IsCrossed() {
			return true
		}
	}
	return false
}

// TotalLiquidityAtPrice sums, across venues, the quantity resting at price
// or better on a side.
func (a *AggregatedOrderBook) TotalLiquidityAtPrice(side orderbook.Side, price decimal.Decimal) decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	total := decimal.Zero
	for _, b := range a.books {
		for _, l := range b.Depth(side, 0) {
			if (side == orderbook.Bid && l.Price.LessThan(price)) ||
				(side == orderbook.Ask && l.Price.GreaterThan(price)) {
				break
			}
			total = total.Add(l.Quantity)
		}
	}
	return total
}
