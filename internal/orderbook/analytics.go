package orderbook

import (
	"hash/crc32"
	"io"
	"iter"

	"github.com/shopspring/decimal"
)

var (
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
	bpsUnit = decimal.NewFromInt(10_000)
)

func spreadOf(bid, ask PriceLevel) decimal.Decimal {
	return ask.Price.Sub(bid.Price)
}

func midOf(bid, ask PriceLevel) decimal.Decimal {
	return bid.Price.Add(ask.Price).Div(two)
}

// BasisPoints expresses delta relative to base in basis points. It
// multiplies before dividing and truncates toward zero. A zero base yields 0.
func BasisPoints(delta, base decimal.Decimal) int64 {
	if base.IsZero() {
		return 0
	}
	q, _ := delta.Mul(bpsUnit).QuoRem(base, 0)
	return q.IntPart()
}

func spreadBpsOf(bid, ask PriceLevel) int64 {
	return BasisPoints(spreadOf(bid, ask), bid.Price)
}

func crossed(bid, ask PriceLevel) bool {
	return bid.Price.GreaterThanOrEqual(ask.Price)
}

func collect(levels iter.Seq[PriceLevel], n int) []PriceLevel {
	out := make([]PriceLevel, 0, max(n, 0))
	for l := range levels {
		if n > 0 && len(out) == n {
			break
		}
		out = append(out, l)
	}
	return out
}

func vwapOf(levels iter.Seq[PriceLevel], target decimal.Decimal) (decimal.Decimal, bool) {
	if !target.IsPositive() {
		return decimal.Zero, false
	}
	remaining := target
	notional := decimal.Zero
	for l := range levels {
		fill := decimal.Min(remaining, l.Quantity)
		notional = notional.Add(fill.Mul(l.Price))
		remaining = remaining.Sub(fill)
		if !remaining.IsPositive() {
			break
		}
	}
	if remaining.IsPositive() {
		return decimal.Zero, false
	}
	return notional.Div(target), true
}

func slippageOf(levels iter.Seq[PriceLevel], target decimal.Decimal) (decimal.Decimal, bool) {
	var best PriceLevel
	found := false
	for l := range levels {
		best, found = l, true
		break
	}
	if !found {
		return decimal.Zero, false
	}
	vwap, ok := vwapOf(levels, target)
	if !ok {
		return decimal.Zero, false
	}
	return vwap.Sub(best.Price).Abs().Mul(hundred).Div(best.Price), true
}

func volumeOf(levels iter.Seq[PriceLevel], depth int) decimal.Decimal {
	total := decimal.Zero
	n := 0
	for l := range levels {
		if depth > 0 && n == depth {
			break
		}
		total = total.Add(l.Quantity)
		n++
	}
	return total
}

func liquidityOf(side Side, levels iter.Seq[PriceLevel], price decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for l := range levels {
		if better(side, price, l.Price) {
			break
		}
		total = total.Add(l.Quantity)
	}
	return total
}

func imbalanceOf(bidVol, askVol decimal.Decimal) (decimal.Decimal, bool) {
	sum := bidVol.Add(askVol)
	if sum.IsZero() {
		return decimal.Zero, false
	}
	return bidVol.Sub(askVol).Div(sum), true
}

// checksumOf hashes "price:quantity" for the top depth bids then asks, using
// the normalized decimal form so trailing zeros never change the result.
func checksumOf(bids, asks iter.Seq[PriceLevel], depth int) uint32 {
	h := crc32.NewIEEE()
	write := func(tag string, levels iter.Seq[PriceLevel]) {
		n := 0
		for l := range levels {
			if depth > 0 && n == depth {
				break
			}
			io.WriteString(h, tag)
			io.WriteString(h, l.Price.String())
			io.WriteString(h, ":")
			io.WriteString(h, l.Quantity.String())
			n++
		}
	}
	write("b", bids)
	write("a", asks)
	return h.Sum32()
}
