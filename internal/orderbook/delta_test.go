package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff(t *testing.T) {
	build := func(b *Builder) Snapshot {
		book, err := b.Build()
		require.NoError(t, err)
		return book.Snapshot(0)
	}
	prev := build(NewBuilder().Symbol("BTCUSDT").
		Bid(d("100"), d("1")).Bid(d("99"), d("2")).
		Ask(d("101"), d("1")).Ask(d("102"), d("5")))
	curr := build(NewBuilder().Symbol("BTCUSDT").
		Bid(d("100"), d("1.5")).Bid(d("98"), d("4")).
		Ask(d("101"), d("1")).Ask(d("102"), d("5")))

	updates := Diff(prev, curr)
	require.Len(t, updates, 3)
	assert.Equal(t, Bid, updates[0].Side)
	assert.True(t, updates[0].Price.Equal(d("100")))
	assert.True(t, updates[1].Price.Equal(d("98")))
	assert.True(t, updates[2].IsDelete())
	assert.True(t, updates[2].Price.Equal(d("99")))

	b := NewBook("BTCUSDT", 0)
	require.NoError(t, b.ApplySnapshot(prev))
	require.NoError(t, b.ApplyBatch(updates))
	assert.Equal(t, curr.Checksum(), b.Checksum())

	assert.Empty(t, Diff(curr, curr))
}
