package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

// Update is one incremental instruction. A zero Quantity deletes the level at
// Price. A zero Timestamp means "now" when applied.
type Update struct {
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	OrderCount uint32          `json:"order_count,omitempty"`
	Timestamp  time.Time       `json:"timestamp,omitempty"`
}

func NewBidUpdate(price, quantity decimal.Decimal) Update {
	return Update{Side: Bid, Price: price, Quantity: quantity}
}

func NewAskUpdate(price, quantity decimal.Decimal) Update {
	return Update{Side: Ask, Price: price, Quantity: quantity}
}

// IsDelete reports whether the update removes its level.
func (u Update) IsDelete() bool {
	return u.Quantity.IsZero()
}
