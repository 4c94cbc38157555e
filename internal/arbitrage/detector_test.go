package arbitrage

import (
	"testing"
	"time"

	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func quote(bid, bidQty, ask, askQty string) orderbook.Snapshot {
	var s orderbook.Snapshot
	if bid != "" {
		s.Bids = []orderbook.PriceLevel{{Price: d(bid), Quantity: d(bidQty)}}
	}
	if ask != "" {
		s.Asks = []orderbook.PriceLevel{{Price: d(ask), Quantity: d(askQty)}}
	}
	return s
}

func newDetector(t *testing.T, minProfitBps int64) *Detector {
	cfg := DefaultConfig()
	cfg.MinProfitBps = minProfitBps
	det := NewDetector(cfg, zaptest.NewLogger(t))
	det.SetFee("A", d("0.001"))
	det.SetFee("B", d("0.001"))
	return det
}

// Venue A asks 50,010 for 1.5, venue B bids 50,120 for 1.2, both charge
// 0.1%. The gross edge is ~21.996 bps against 20 bps of fees.
func scenarioBooks() map[string]orderbook.View {
	return map[string]orderbook.View{
		"A": quote("49990", "2", "50010", "1.5"),
		"B": quote("50120", "1.2", "50140", "1"),
	}
}

func TestDetector_BuyLowSellHigh(t *testing.T) {
	det := newDetector(t, 1)
	ops := det.Detect("BTCUSDT", scenarioBooks())
	require.Len(t, ops, 1)

	op := ops[0]
	assert.Equal(t, "BTCUSDT", op.Symbol)
	assert.Equal(t, "A", op.BuyVenue)
	assert.Equal(t, "B", op.SellVenue)
	assert.True(t, op.BuyPrice.Equal(d("50010")))
	assert.True(t, op.SellPrice.Equal(d("50120")))
	assert.True(t, op.MaxQuantity.Equal(d("1.2")))
	assert.True(t, op.NetProfitBps.IsPositive())
	assert.True(t, op.GrossProfitBps.Round(3).Equal(d("21.996")), op.GrossProfitBps.String())
	assert.True(t, op.NetProfitBps.Round(3).Equal(d("1.996")), op.NetProfitBps.String())
	// (50120 - 50010 - 50.01 - 50.12) * 1.2
	assert.True(t, op.EstimatedProfit.Equal(d("11.844")), op.EstimatedProfit.String())
	assert.NotEqual(t, [16]byte{}, [16]byte(op.ID))
	assert.Equal(t, op.DetectedAt.Add(30*time.Second), op.ExpiresAt)
}

func TestDetector_FeesConsumeEdgeBelowThreshold(t *testing.T) {
	det := newDetector(t, 10)
	assert.Empty(t, det.Detect("BTCUSDT", scenarioBooks()))
}

func TestDetector_IdenticalQuotesYieldNothing(t *testing.T) {
	det := newDetector(t, 0)
	ops := det.Detect("BTCUSDT", map[string]orderbook.View{
		"A": quote("100", "1", "101", "1"),
		"B": quote("100", "1", "101", "1"),
	})
	assert.Empty(t, ops)
}

func TestDetector_BelowMinProfitAfterFees(t *testing.T) {
	det := newDetector(t, 10)
	// 15 bps gross, 20 bps fees
	ops := det.Detect("BTCUSDT", map[string]orderbook.View{
		"A": quote("9990", "1", "10000", "1"),
		"B": quote("10015", "1", "10020", "1"),
	})
	assert.Empty(t, ops)
}

func TestDetector_BothDirectionsIndependent(t *testing.T) {
	det := newDetector(t, 5)
	det.SetFee("A", d("0"))
	det.SetFee("B", d("0"))
	ops := det.Detect("X", map[string]orderbook.View{
		"A": quote("110", "1", "100", "1"),
		"B": quote("110", "1", "100", "1"),
	})
	require.Len(t, ops, 2)
	assert.Equal(t, "A", ops[0].BuyVenue)
	assert.Equal(t, "B", ops[1].BuyVenue)
}

func TestDetector_MissingSidesAreSkipped(t *testing.T) {
	det := newDetector(t, 0)
	ops := det.Detect("X", map[string]orderbook.View{
		"A": quote("", "", "100", "1"),
		"B": quote("", "", "101", "1"),
		"C": orderbook.Snapshot{},
	})
	assert.Empty(t, ops)
}

func TestDetector_MinVolume(t *testing.T) {
	books := map[string]orderbook.View{
		"A": quote("", "", "10", "5"),
		"B": quote("11", "5", "", ""),
	}
	cfg := DefaultConfig()
	cfg.MinVolume = d("50")
	det := NewDetector(cfg, zaptest.NewLogger(t))
	require.Len(t, det.Detect("X", books), 1, "notional 50 meets the minimum")

	cfg.MinVolume = d("51")
	strict := NewDetector(cfg, zaptest.NewLogger(t))
	assert.Empty(t, strict.Detect("X", books))
}

func TestDetector_QuantityBoundedByTopOfBook(t *testing.T) {
	det := newDetector(t, 1)
	books := map[string]orderbook.View{
		"A": quote("", "", "1000", "0.7"),
		"B": quote("1100", "50", "", ""),
		"C": quote("1200", "0.2", "", ""),
	}
	ops := det.Detect("X", books)
	require.Len(t, ops, 2)
	for _, op := range ops {
		buyAsk, _ := books[op.BuyVenue].BestAsk()
		sellBid, _ := books[op.SellVenue].BestBid()
		assert.True(t, op.MaxQuantity.LessThanOrEqual(decimal.Min(buyAsk.Quantity, sellBid.Quantity)))
	}
}

func TestDetector_HigherFeesNeverRaiseNetProfit(t *testing.T) {
	books := map[string]orderbook.View{
		"A": quote("", "", "100", "10"),
		"B": quote("103", "10", "", ""),
	}
	det := newDetector(t, -1000)
	prev := decimal.NewFromInt(1_000_000)
	for _, fee := range []string{"0", "0.0005", "0.001", "0.002", "0.005", "0.01"} {
		det.SetFee("B", d(fee))
		ops := det.Detect("X", books)
		require.Len(t, ops, 1, fee)
		assert.True(t, ops[0].NetProfitBps.LessThanOrEqual(prev), fee)
		prev = ops[0].NetProfitBps
	}
}

func TestDetector_FeeTable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FeeType = FeeMaker
	det := NewDetector(cfg, zaptest.NewLogger(t))

	assert.True(t, det.Fee("unknown").Equal(d("0.001")), "default fee")
	det.SetFeeRate("A", FeeRate{Maker: d("0.0002"), Taker: d("0.0007")})
	assert.True(t, det.Fee("A").Equal(d("0.0002")))

	det.ReplaceFees(map[string]FeeRate{"B": FlatFee(d("0.003"))})
	assert.True(t, det.Fee("A").Equal(d("0.001")))
	assert.True(t, det.Fee("B").Equal(d("0.003")))
	assert.Len(t, det.Fees(), 1)

	ft, err := ParseFeeType("maker")
	require.NoError(t, err)
	assert.Equal(t, FeeMaker, ft)
	_, err = ParseFeeType("vip")
	assert.Error(t, err)
}

func TestOpportunity_Helpers(t *testing.T) {
	det := newDetector(t, 1)
	op := det.Detect("BTCUSDT", scenarioBooks())[0]

	assert.True(t, op.ProfitAfterFees(d("0.001"), d("0.001")).Equal(op.EstimatedProfit))
	assert.True(t, op.ProfitAfterFees(decimal.Zero, decimal.Zero).Equal(d("132")))
	// 11.844 / 60012 * 100
	assert.True(t, op.ROIPercentage().Round(4).Equal(d("0.0197")), op.ROIPercentage().String())

	assert.True(t, op.IsValid(op.DetectedAt))
	assert.False(t, op.IsExpired(op.DetectedAt.Add(29*time.Second)))
	assert.True(t, op.IsExpired(op.DetectedAt.Add(31*time.Second)))
	assert.False(t, op.IsValid(op.DetectedAt.Add(31*time.Second)))

	ops := []Opportunity{
		{EstimatedProfit: d("1"), NetProfitBps: d("5")},
		{EstimatedProfit: d("3"), NetProfitBps: d("1")},
		{EstimatedProfit: d("1"), NetProfitBps: d("9")},
	}
	SortByProfit(ops)
	assert.True(t, ops[0].EstimatedProfit.Equal(d("3")))
	assert.True(t, ops[1].NetProfitBps.Equal(d("9")))
}
