package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func level(price, qty string) orderbook.PriceLevel {
	return orderbook.PriceLevel{Price: d(price), Quantity: d(qty)}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) HandleEvent(e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func kinds(evs []Event) []Type {
	out := make([]Type, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Kind())
	}
	return out
}

func TestProcessor_FirstObservationOnlyCrossingAndGaps(t *testing.T) {
	p := NewProcessor(DefaultConfig(), zaptest.NewLogger(t))

	calm := orderbook.Snapshot{
		Bids: []orderbook.PriceLevel{level("100", "1"), level("99.9", "1")},
		Asks: []orderbook.PriceLevel{level("100.1", "1")},
	}
	assert.Empty(t, p.Process("binance", "BTCUSDT", calm))

	crossed := orderbook.Snapshot{
		Bids: []orderbook.PriceLevel{level("101", "1")},
		Asks: []orderbook.PriceLevel{level("100", "1")},
	}
	evs := p.Process("kraken", "BTCUSDT", crossed)
	require.Equal(t, []Type{TypeCrossing}, kinds(evs))
	c := evs[0].(CrossingDetected)
	assert.True(t, c.CrossAmount.Equal(d("1")))
	assert.Equal(t, int64(100), c.CrossBps)
	assert.Equal(t, SeveritySevere, c.Severity)
	assert.Equal(t, "kraken", c.Venue)
	assert.Equal(t, 2, p.Tracked())
}

func TestProcessor_DiffOrder(t *testing.T) {
	p := NewProcessor(DefaultConfig(), zaptest.NewLogger(t))
	rec := &recorder{}
	p.AddHandler(rec)

	first := orderbook.Snapshot{
		Bids: []orderbook.PriceLevel{level("100", "1")},
		Asks: []orderbook.PriceLevel{level("101", "1")},
		Seq:  1,
	}
	p.Process("v", "S", first)

	second := orderbook.Snapshot{
		Bids: []orderbook.PriceLevel{level("100.5", "3")},
		Asks: []orderbook.PriceLevel{level("101.2", "1")},
		Seq:  2,
	}
	evs := p.Process("v", "S", second)
	assert.Equal(t, []Type{TypeBestBidAsk, TypeSpread, TypeVolume, TypePriceMovement, TypePriceMovement}, kinds(evs))
	assert.Equal(t, kinds(evs), kinds(rec.events), "handlers see the same events in order")

	bba := evs[0].(BestBidAskChanged)
	require.NotNil(t, bba.PreviousBestBid)
	assert.True(t, bba.PreviousBestBid.Price.Equal(d("100")))
	assert.Equal(t, uint64(2), bba.Sequence)

	spread := evs[1].(SpreadChanged)
	require.NotNil(t, spread.Spread)
	assert.True(t, spread.Spread.Equal(d("0.7")))
	assert.True(t, spread.PreviousSpread.Equal(d("1")))
	assert.Equal(t, int64(69), *spread.SpreadBps)
	assert.True(t, spread.MidPrice.Equal(d("100.85")))

	vol := evs[2].(VolumeChanged)
	assert.True(t, vol.ChangeRatio.Equal(d("1")))
	assert.Equal(t, 10, vol.Depth)

	bid := evs[3].(PriceMovement)
	assert.Equal(t, orderbook.Bid, bid.Side)
	assert.Equal(t, MovementImprovement, bid.Movement)
	assert.Equal(t, int64(50), bid.ChangeBps)

	ask := evs[4].(PriceMovement)
	assert.Equal(t, orderbook.Ask, ask.Side)
	assert.Equal(t, MovementDegradation, ask.Movement)
}

func TestProcessor_UnchangedBookIsQuiet(t *testing.T) {
	p := NewProcessor(DefaultConfig(), zaptest.NewLogger(t))
	s := orderbook.Snapshot{
		Bids: []orderbook.PriceLevel{level("100", "1")},
		Asks: []orderbook.PriceLevel{level("101", "1")},
	}
	p.Process("v", "S", s)
	assert.Empty(t, p.Process("v", "S", s))
}

func TestProcessor_VolumeThreshold(t *testing.T) {
	p := NewProcessor(DefaultConfig(), zaptest.NewLogger(t))
	base := orderbook.Snapshot{
		Bids: []orderbook.PriceLevel{level("100", "5")},
		Asks: []orderbook.PriceLevel{level("101", "5")},
	}
	p.Process("v", "S", base)

	// 10 -> 11 is exactly 10%, not above it
	small := orderbook.Snapshot{
		Bids: []orderbook.PriceLevel{level("100", "6")},
		Asks: []orderbook.PriceLevel{level("101", "5")},
	}
	assert.NotContains(t, kinds(p.Process("v", "S", small)), TypeVolume)

	big := orderbook.Snapshot{
		Bids: []orderbook.PriceLevel{level("100", "6")},
		Asks: []orderbook.PriceLevel{level("101", "6.2")},
	}
	assert.Contains(t, kinds(p.Process("v", "S", big)), TypeVolume)
}

func TestProcessor_LiquidityGaps(t *testing.T) {
	p := NewProcessor(DefaultConfig(), zaptest.NewLogger(t))
	s := orderbook.Snapshot{
		Bids: []orderbook.PriceLevel{level("100", "1"), level("99.5", "1"), level("97", "1")},
		Asks: []orderbook.PriceLevel{level("101", "1"), level("103", "1")},
	}
	evs := p.Process("v", "S", s)
	require.Equal(t, []Type{TypeLiquidityGap, TypeLiquidityGap}, kinds(evs))

	bidGap := evs[0].(LiquidityGap)
	assert.Equal(t, orderbook.Bid, bidGap.Side)
	assert.True(t, bidGap.GapStart.Equal(d("97")))
	assert.True(t, bidGap.GapEnd.Equal(d("99.5")))
	assert.True(t, bidGap.GapSize.Equal(d("2.5")))
	assert.Equal(t, 2, bidGap.Level)

	askGap := evs[1].(LiquidityGap)
	assert.Equal(t, orderbook.Ask, askGap.Side)
	assert.True(t, askGap.GapStart.Equal(d("101")))
	assert.Equal(t, 1, askGap.Level)
}

func TestProcessor_CrossingSeverity(t *testing.T) {
	p := NewProcessor(DefaultConfig(), zaptest.NewLogger(t))
	tests := []struct {
		bid, ask string
		want     Severity
	}{
		{"100", "100", SeverityMinor},
		{"100.05", "100", SeverityMinor},
		{"100.09", "100", SeverityMinor},
		{"100.1", "100", SeverityModerate},
		{"100.5", "100", SeverityModerate},
		{"100.99", "100", SeverityModerate},
		{"101", "100", SeveritySevere},
		{"102", "100", SeveritySevere},
	}
	for _, tt := range tests {
		evs := p.Process("v", tt.bid, orderbook.Snapshot{
			Bids: []orderbook.PriceLevel{level(tt.bid, "1")},
			Asks: []orderbook.PriceLevel{level(tt.ask, "1")},
		})
		require.Len(t, evs, 1, tt.bid)
		assert.Equal(t, tt.want, evs[0].(CrossingDetected).Severity, tt.bid)
	}
}

func TestProcessor_HandlerFailuresAreIsolated(t *testing.T) {
	p := NewProcessor(DefaultConfig(), zaptest.NewLogger(t))
	var calls []string
	p.AddHandler(HandlerFunc(func(Event) error {
		calls = append(calls, "first")
		return errors.New("boom")
	}))
	p.AddHandler(HandlerFunc(func(Event) error {
		calls = append(calls, "second")
		panic("handler bug")
	}))
	p.AddHandler(HandlerFunc(func(Event) error {
		calls = append(calls, "third")
		return nil
	}))

	evs := p.Process("v", "S", orderbook.Snapshot{
		Bids: []orderbook.PriceLevel{level("101", "1")},
		Asks: []orderbook.PriceLevel{level("100", "1")},
	})
	require.Len(t, evs, 1)
	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestProcessor_ForgetResetsState(t *testing.T) {
	p := NewProcessor(DefaultConfig(), zaptest.NewLogger(t))
	a := orderbook.Snapshot{Bids: []orderbook.PriceLevel{level("100", "1")}}
	b := orderbook.Snapshot{Bids: []orderbook.PriceLevel{level("100.1", "1")}}
	p.Process("v", "S", a)
	p.Forget("v", "S")
	assert.Empty(t, p.Process("v", "S", b))
}

func TestProcessor_LiveBook(t *testing.T) {
	p := NewProcessor(DefaultConfig(), zaptest.NewLogger(t))
	metricsHandler := NewMetricsHandler()
	p.AddHandler(metricsHandler)
	p.AddHandler(NewLoggingHandler(zaptest.NewLogger(t)))

	book := orderbook.NewBook("BTCUSDT", 100)
	require.NoError(t, book.UpdateBid(d("100"), d("1"), 1))
	require.NoError(t, book.UpdateAsk(d("100.5"), d("1"), 1))
	p.Process("v", "BTCUSDT", book)

	require.NoError(t, book.UpdateBid(d("100.6"), d("1"), 1))
	p.Process("v", "BTCUSDT", book)

	assert.Equal(t, uint64(1), metricsHandler.Count(TypeCrossing))
	assert.Equal(t, uint64(1), metricsHandler.Count(TypeBestBidAsk))
	assert.Equal(t, uint64(0), metricsHandler.Count(TypeLiquidityGap))
}

type capturePublisher struct {
	topic string
	msg   any
}

func (c *capturePublisher) Publish(_ context.Context, topic string, msg any) error {
	c.topic, c.msg = topic, msg
	return nil
}

func TestPublishingHandler(t *testing.T) {
	pub := &capturePublisher{}
	h := NewPublishingHandler(pub, "book_events")
	e := LiquidityGap{Header: Header{Venue: "v", Symbol: "S"}, Side: orderbook.Ask, GapStart: d("1"), GapEnd: d("2")}
	require.NoError(t, h.HandleEvent(e))
	assert.Equal(t, "book_events", pub.topic)

	raw, err := json.Marshal(pub.msg)
	require.NoError(t, err)
	var decoded struct {
		Type  string         `json:"type"`
		Event map[string]any `json:"event"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "liquidity_gap", decoded.Type)
	assert.Equal(t, "ask", decoded.Event["side"])
	assert.Equal(t, "v", decoded.Event["venue"])
}
