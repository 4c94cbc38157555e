package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds the thresholds that gate event emission.
type Config struct {
	// VolumeChangeThreshold is the relative change of windowed total volume
	// that triggers a VolumeChanged event.
	VolumeChangeThreshold decimal.Decimal
	// LiquidityGapThreshold is the relative distance between adjacent levels
	// that counts as a gap.
	LiquidityGapThreshold decimal.Decimal
	// Window is the per-side depth used for volume and imbalance.
	Window int
	// GapWindow is the per-side depth scanned for gaps.
	GapWindow int
	// Crossings at least these many bps of the best ask deep are graded
	// moderate and severe respectively.
	ModerateCrossBps int64
	SevereCrossBps   int64
}

func DefaultConfig() Config {
	return Config{
		VolumeChangeThreshold: decimal.RequireFromString("0.10"),
		LiquidityGapThreshold: decimal.RequireFromString("0.01"),
		Window:                10,
		GapWindow:             20,
		ModerateCrossBps:      10,
		SevereCrossBps:        100,
	}
}

// Handler receives events synchronously, in registration order.
type Handler interface {
	HandleEvent(Event) error
}

type HandlerFunc func(Event) error

func (f HandlerFunc) HandleEvent(e Event) error { return f(e) }

type bookKey struct {
	venue  string
	symbol string
}

type observation struct {
	bestBid, bestAsk orderbook.PriceLevel
	hasBid, hasAsk   bool
	bidVolume        decimal.Decimal
	askVolume        decimal.Decimal
}

func (o observation) spread() (decimal.Decimal, bool) {
	if !o.hasBid || !o.hasAsk {
		return decimal.Zero, false
	}
	return o.bestAsk.Price.Sub(o.bestBid.Price), true
}

// Processor keeps exactly one previous observation per (venue, symbol) and
// diffs each new observation against it. Feed it once per applied batch.
//
// Handlers may be invoked concurrently for different books and must be safe
// for concurrent use.
type Processor struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	handlers []Handler
	previous map[bookKey]observation
}

func NewProcessor(cfg Config, logger *zap.Logger) *Processor {
	if cfg.Window <= 0 {
		cfg.Window = 10
	}
	if cfg.GapWindow <= 0 {
		cfg.GapWindow = 20
	}
	return &Processor{
		cfg:      cfg,
		logger:   logger.Named("events"),
		now:      time.Now,
		previous: make(map[bookKey]observation),
	}
}

func (p *Processor) AddHandler(h Handler) {
	p.mu.Lock()
	p.handlers = append(p.handlers, h)
	p.mu.Unlock()
}

// Forget drops the retained observation for a book, e.g. after removal.
func (p *Processor) Forget(venue, symbol string) {
	p.mu.Lock()
	delete(p.previous, bookKey{venue, symbol})
	p.mu.Unlock()
}

// Tracked returns the number of books with a retained observation.
func (p *Processor) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.previous)
}

// Process observes the current state of one book, emits the resulting events
// to every handler and returns them. On the first observation of a book only
// crossing and gap events can fire.
func (p *Processor) Process(venue, symbol string, book orderbook.View) []Event {
	cur := p.observe(book)
	header := Header{Venue: venue, Symbol: symbol, Sequence: book.Sequence(), Timestamp: p.now()}

	p.mu.Lock()
	prev, seen := p.previous[bookKey{venue, symbol}]
	p.previous[bookKey{venue, symbol}] = cur
	handlers := append([]Handler(nil), p.handlers...)
	p.mu.Unlock()

	var out []Event
	if seen {
		out = p.diff(header, prev, cur)
	}
	if e, ok := p.crossing(header, cur); ok {
		out = append(out, e)
	}
	out = append(out, p.gaps(header, book)...)

	for _, e := range out {
		p.dispatch(handlers, e)
	}
	return out
}

func (p *Processor) observe(book orderbook.View) observation {
	var o observation
	o.bestBid, o.hasBid = book.BestBid()
	o.bestAsk, o.hasAsk = book.BestAsk()
	o.bidVolume = sumQuantity(book.Depth(orderbook.Bid, p.cfg.Window))
	o.askVolume = sumQuantity(book.Depth(orderbook.Ask, p.cfg.Window))
	return o
}

func (p *Processor) diff(h Header, prev, cur observation) []Event {
	var out []Event

	if !sameLevel(prev.hasBid, prev.bestBid, cur.hasBid, cur.bestBid) ||
		!sameLevel(prev.hasAsk, prev.bestAsk, cur.hasAsk, cur.bestAsk) {
		e := BestBidAskChanged{Header: h}
		e.BestBid = levelPtr(cur.hasBid, cur.bestBid)
		e.BestAsk = levelPtr(cur.hasAsk, cur.bestAsk)
		e.PreviousBestBid = levelPtr(prev.hasBid, prev.bestBid)
		e.PreviousBestAsk = levelPtr(prev.hasAsk, prev.bestAsk)
		out = append(out, e)
	}

	prevSpread, hadSpread := prev.spread()
	curSpread, hasSpread := cur.spread()
	if hadSpread != hasSpread || !prevSpread.Equal(curSpread) {
		e := SpreadChanged{Header: h}
		if hadSpread {
			e.PreviousSpread = &prevSpread
		}
		if hasSpread {
			bps := orderbook.BasisPoints(curSpread, cur.bestBid.Price)
			mid := cur.bestBid.Price.Add(cur.bestAsk.Price).Div(decimal.NewFromInt(2))
			e.Spread, e.SpreadBps, e.MidPrice = &curSpread, &bps, &mid
		}
		out = append(out, e)
	}

	prevTotal := prev.bidVolume.Add(prev.askVolume)
	curTotal := cur.bidVolume.Add(cur.askVolume)
	if prevTotal.IsPositive() {
		change := curTotal.Sub(prevTotal).Div(prevTotal).Abs()
		if change.GreaterThan(p.cfg.VolumeChangeThreshold) {
			e := VolumeChanged{
				Header:         h,
				TotalBidVolume: cur.bidVolume,
				TotalAskVolume: cur.askVolume,
				ChangeRatio:    change,
				Depth:          p.cfg.Window,
			}
			if !curTotal.IsZero() {
				ratio := cur.bidVolume.Sub(cur.askVolume).Div(curTotal)
				e.ImbalanceRatio = &ratio
			}
			out = append(out, e)
		}
	}

	if prev.hasBid && cur.hasBid && !prev.bestBid.Price.Equal(cur.bestBid.Price) {
		out = append(out, movement(h, orderbook.Bid, prev.bestBid.Price, cur.bestBid.Price))
	}
	if prev.hasAsk && cur.hasAsk && !prev.bestAsk.Price.Equal(cur.bestAsk.Price) {
		out = append(out, movement(h, orderbook.Ask, prev.bestAsk.Price, cur.bestAsk.Price))
	}
	return out
}

func movement(h Header, side orderbook.Side, old, cur decimal.Decimal) PriceMovement {
	m := MovementDegradation
	if (side == orderbook.Bid && cur.GreaterThan(old)) || (side == orderbook.Ask && cur.LessThan(old)) {
		m = MovementImprovement
	}
	return PriceMovement{
		Header:    h,
		Side:      side,
		OldPrice:  old,
		NewPrice:  cur,
		ChangeBps: orderbook.BasisPoints(cur.Sub(old), old),
		Movement:  m,
	}
}

func (p *Processor) crossing(h Header, cur observation) (CrossingDetected, bool) {
	if !cur.hasBid || !cur.hasAsk || cur.bestBid.Price.LessThan(cur.bestAsk.Price) {
		return CrossingDetected{}, false
	}
	amount := cur.bestBid.Price.Sub(cur.bestAsk.Price)
	bps := orderbook.BasisPoints(amount, cur.bestAsk.Price)
	return CrossingDetected{
		Header:      h,
		BestBid:     cur.bestBid,
		BestAsk:     cur.bestAsk,
		CrossAmount: amount,
		CrossBps:    bps,
		Severity:    p.severity(bps),
	}, true
}

func (p *Processor) severity(bps int64) Severity {
	switch {
	case bps >= p.cfg.SevereCrossBps:
		return SeveritySevere
	case bps >= p.cfg.ModerateCrossBps:
		return SeverityModerate
	default:
		return SeverityMinor
	}
}

// gaps scans adjacent levels within GapWindow on both sides. The gap size is
// measured relative to the lower of the two prices.
func (p *Processor) gaps(h Header, book orderbook.View) []Event {
	var out []Event
	for _, side := range []orderbook.Side{orderbook.Bid, orderbook.Ask} {
		levels := book.Depth(side, p.cfg.GapWindow)
		for i := 1; i < len(levels); i++ {
			lower, upper := levels[i].Price, levels[i-1].Price
			if side == orderbook.Ask {
				lower, upper = upper, lower
			}
			size := upper.Sub(lower)
			if size.Div(lower).GreaterThan(p.cfg.LiquidityGapThreshold) {
				out = append(out, LiquidityGap{
					Header:   h,
					Side:     side,
					GapStart: lower,
					GapEnd:   upper,
					GapSize:  size,
					Level:    i,
				})
			}
		}
	}
	return out
}

func (p *Processor) dispatch(handlers []Handler, e Event) {
	for i, h := range handlers {
		if err := safeHandle(h, e); err != nil {
			p.logger.Warn("event handler failed",
				zap.Int("handler", i),
				zap.String("type", string(e.Kind())),
				zap.String("venue", e.Meta().Venue),
				zap.String("symbol", e.Meta().Symbol),
				zap.Error(err))
		}
	}
}

func safeHandle(h Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.HandleEvent(e)
}

func sumQuantity(levels []orderbook.PriceLevel) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		total = total.Add(l.Quantity)
	}
	return total
}

func sameLevel(hadA bool, a orderbook.PriceLevel, hadB bool, b orderbook.PriceLevel) bool {
	if hadA != hadB {
		return false
	}
	return !hadA || (a.Price.Equal(b.Price) && a.Quantity.Equal(b.Quantity))
}

func levelPtr(ok bool, l orderbook.PriceLevel) *orderbook.PriceLevel {
	if !ok {
		return nil
	}
	return &l
}
