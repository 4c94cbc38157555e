package cache

import (
	"testing"

	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotEncoding_CompressionPreservesChecksum(t *testing.T) {
	s := orderbook.Snapshot{Symbol: "BTCUSDT", Seq: 9}
	for i := 0; i < 50; i++ {
		s.Bids = append(s.Bids, orderbook.PriceLevel{Price: decimal.NewFromInt(int64(1000 - i)), Quantity: decimal.RequireFromString("0.25")})
		s.Asks = append(s.Asks, orderbook.PriceLevel{Price: decimal.NewFromInt(int64(1001 + i)), Quantity: decimal.RequireFromString("1.5")})
	}

	for _, min := range []int{0, 1 << 20} {
		data, err := encodeSnapshot(s, min)
		require.NoError(t, err)
		got, err := decodeSnapshot(data)
		require.NoError(t, err)
		assert.Equal(t, s.Checksum(), got.Checksum(), "compressionMin=%d", min)
		assert.Equal(t, s.Seq, got.Seq)
		assert.Len(t, got.Asks, 50)
	}

	_, err := decodeSnapshot([]byte("not json"))
	assert.Error(t, err)
}

func TestSnapshotStore_Key(t *testing.T) {
	st := NewSnapshotStore(nil, 0, 512)
	assert.Equal(t, "arbfinder:snapshot:binance:BTCUSDT", st.key("binance", "BTCUSDT"))
	assert.Equal(t, StoreStats{}, st.Stats())
}
