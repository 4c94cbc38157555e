package orderbook

import "github.com/shopspring/decimal"

// Diff returns the updates that turn a book holding prev into one holding
// curr: changed or new levels in curr's order, then deletions in prev's
// order. Bids come before asks.
func Diff(prev, curr Snapshot) []Update {
	var out []Update
	out = diffSide(out, Bid, prev.Bids, curr.Bids)
	out = diffSide(out, Ask, prev.Asks, curr.Asks)
	return out
}

func diffSide(out []Update, side Side, prev, curr []PriceLevel) []Update {
	prevQty := make(map[string]decimal.Decimal, len(prev))
	for _, l := range prev {
		prevQty[l.Price.String()] = l.Quantity
	}
	currPrices := make(map[string]struct{}, len(curr))
	for _, l := range curr {
		key := l.Price.String()
		currPrices[key] = struct{}{}
		if q, ok := prevQty[key]; !ok || !q.Equal(l.Quantity) {
			out = append(out, Update{Side: side, Price: l.Price, Quantity: l.Quantity, OrderCount: l.OrderCount})
		}
	}
	for _, l := range prev {
		if _, ok := currPrices[l.Price.String()]; !ok {
			out = append(out, Update{Side: side, Price: l.Price, Quantity: decimal.Zero})
		}
	}
	return out
}
