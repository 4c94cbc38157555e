package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Aidin1998/pincex_arbfinder/internal/arbitrage"
	"github.com/Aidin1998/pincex_arbfinder/internal/cache"
	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook"
	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook/events"
	"github.com/Aidin1998/pincex_arbfinder/internal/registry"
	pkgerrors "github.com/Aidin1998/pincex_arbfinder/pkg/errors"
	"github.com/Aidin1998/pincex_arbfinder/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingPublisher struct {
	mu   sync.Mutex
	msgs map[string][]any
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, msg any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.msgs == nil {
		p.msgs = make(map[string][]any)
	}
	p.msgs[topic] = append(p.msgs[topic], msg)
	return nil
}

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs[topic])
}

type memoryStore struct {
	mu    sync.Mutex
	snaps map[registry.Key]orderbook.Snapshot
}

func (m *memoryStore) Get(_ context.Context, venue, symbol string) (orderbook.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[registry.Key{Venue: venue, Symbol: symbol}]
	return s, ok, nil
}

func (m *memoryStore) PutAll(_ context.Context, batch map[string][]orderbook.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snaps == nil {
		m.snaps = make(map[registry.Key]orderbook.Snapshot)
	}
	for venue, list := range batch {
		for _, s := range list {
			m.snaps[registry.Key{Venue: venue, Symbol: s.Symbol}] = s
		}
	}
	return nil
}

func (m *memoryStore) Delete(_ context.Context, venue, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, registry.Key{Venue: venue, Symbol: symbol})
	return nil
}

func (m *memoryStore) Stats() cache.StoreStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cache.StoreStats{Sets: int64(len(m.snaps))}
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	logger := zaptest.NewLogger(t)
	detCfg := arbitrage.DefaultConfig()
	detCfg.MinProfitBps = 1
	det := arbitrage.NewDetector(detCfg, logger)
	det.SetFee("A", d("0.001"))
	det.SetFee("B", d("0.001"))
	return New(DefaultConfig(),
		registry.New(registry.DefaultConfig(), logger),
		events.NewProcessor(events.DefaultConfig(), logger),
		det, logger, opts...)
}

func snapshot(symbol, bid, bidQty, ask, askQty string) orderbook.Snapshot {
	return orderbook.Snapshot{
		Symbol: symbol,
		Bids:   []orderbook.PriceLevel{{Price: d(bid), Quantity: d(bidQty)}},
		Asks:   []orderbook.PriceLevel{{Price: d(ask), Quantity: d(askQty)}},
	}
}

func seedScenario(t *testing.T, e *Engine) {
	require.NoError(t, e.ApplySnapshot("A", snapshot("BTCUSDT", "49990", "2", "50010", "1.5")))
	require.NoError(t, e.ApplySnapshot("B", snapshot("BTCUSDT", "50120", "1.2", "50140", "1")))
}

func TestEngine_DetectPublishesOpportunities(t *testing.T) {
	pub := &recordingPublisher{}
	e := newEngine(t, WithPublisher(pub))
	seedScenario(t, e)

	ops := e.Detect(context.Background(), "BTCUSDT")
	require.Len(t, ops, 1)
	assert.Equal(t, "A", ops[0].BuyVenue)
	assert.Equal(t, "B", ops[0].SellVenue)
	assert.True(t, ops[0].MaxQuantity.Equal(d("1.2")))
	assert.Equal(t, 1, pub.count(TopicOpportunity))

	assert.Empty(t, e.Detect(context.Background(), "ETHUSDT"))
}

func TestEngine_DetectSkipsStaleAndEmptyBooks(t *testing.T) {
	t.Run("stale", func(t *testing.T) {
		e := newEngine(t, WithClock(func() time.Time { return time.Now().Add(time.Minute) }))
		seedScenario(t, e)
		assert.Empty(t, e.Detect(context.Background(), "BTCUSDT"))
	})

	t.Run("empty", func(t *testing.T) {
		e := newEngine(t)
		seedScenario(t, e)
		require.NoError(t, e.ApplySnapshot("B", orderbook.Snapshot{Symbol: "BTCUSDT"}))
		assert.Empty(t, e.Detect(context.Background(), "BTCUSDT"))
	})

	t.Run("age check disabled", func(t *testing.T) {
		e := newEngine(t, WithClock(func() time.Time { return time.Now().Add(time.Hour) }))
		e.cfg.MaxBookAge = 0
		seedScenario(t, e)
		assert.Len(t, e.Detect(context.Background(), "BTCUSDT"), 1)
	})
}

func TestEngine_ApplyUpdatesRejectsWholeBatch(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.ApplySnapshot("A", snapshot("BTCUSDT", "100", "1", "101", "1")))
	b, ok := e.Registry().Get("A", "BTCUSDT")
	require.True(t, ok)
	seq := b.Sequence()

	err := e.ApplyUpdates("A", "BTCUSDT", []orderbook.Update{
		orderbook.NewBidUpdate(d("100.5"), d("2")),
		orderbook.NewAskUpdate(d("-1"), d("1")),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, orderbook.ErrInvalidInput)
	assert.Equal(t, seq, b.Sequence())
	bid, _ := b.BestBid()
	assert.True(t, bid.Price.Equal(d("100")))

	require.NoError(t, e.ApplyUpdates("A", "BTCUSDT", []orderbook.Update{
		orderbook.NewBidUpdate(d("100.5"), d("2")),
		orderbook.NewAskUpdate(d("101"), d("0")),
	}))
	bid, _ = b.BestBid()
	assert.True(t, bid.Price.Equal(d("100.5")))
	_, ok = b.BestAsk()
	assert.False(t, ok)

	assert.ErrorIs(t, e.ApplyUpdates("", "BTCUSDT", nil), orderbook.ErrInvalidInput)
}

func TestEngine_ApplyUpdatesWithChecksum(t *testing.T) {
	e := newEngine(t)
	updates := []orderbook.Update{
		orderbook.NewBidUpdate(d("100"), d("1")),
		orderbook.NewBidUpdate(d("99.5"), d("3")),
		orderbook.NewAskUpdate(d("101"), d("2")),
	}
	ref := orderbook.NewBook("BTCUSDT", 0)
	require.NoError(t, ref.ApplyBatch(updates))
	want := ref.ChecksumAt(orderbook.ChecksumDepth)

	require.NoError(t, e.ApplyUpdatesWithChecksum("A", "BTCUSDT", updates, want))
	sum, _, err := e.Checksum("A", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, want, sum)

	more := []orderbook.Update{orderbook.NewAskUpdate(d("102"), d("1"))}
	require.NoError(t, ref.ApplyBatch(more))
	err = e.ApplyUpdatesWithChecksum("A", "BTCUSDT", more, ref.ChecksumAt(orderbook.ChecksumDepth)+1)
	assert.ErrorIs(t, err, orderbook.ErrChecksumMismatch)

	// the other venue is unaffected
	require.NoError(t, e.ApplyUpdatesWithChecksum("B", "BTCUSDT", updates, want))

	_, _, err = e.Checksum("C", "BTCUSDT")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestEngine_ApplyDiffSequencing(t *testing.T) {
	e := newEngine(t)
	bid := []orderbook.Update{orderbook.NewBidUpdate(d("100"), d("1"))}

	err := e.ApplyDiff("A", "BTCUSDT", 1, 2, bid)
	assert.ErrorIs(t, err, pkgerrors.SequenceGap)

	require.NoError(t, e.ApplySnapshotAt("A", snapshot("BTCUSDT", "99", "1", "101", "1"), 100))
	b, _ := e.Registry().Get("A", "BTCUSDT")

	require.NoError(t, e.ApplyDiff("A", "BTCUSDT", 95, 103, bid))
	seq := b.Sequence()

	require.NoError(t, e.ApplyDiff("A", "BTCUSDT", 90, 103, []orderbook.Update{orderbook.NewBidUpdate(d("100"), d("0"))}))
	assert.Equal(t, seq, b.Sequence(), "stale diff must not touch the book")

	assert.ErrorIs(t, e.ApplyDiff("A", "BTCUSDT", 105, 106, bid), pkgerrors.SequenceGap)
	assert.ErrorIs(t, e.ApplyDiff("A", "BTCUSDT", 104, 104, bid), pkgerrors.SequenceGap, "guard stays invalid until resync")

	require.NoError(t, e.ApplySnapshotAt("A", snapshot("BTCUSDT", "99", "1", "101", "1"), 200))
	require.NoError(t, e.ApplyDiff("A", "BTCUSDT", 201, 201, bid))
}

func TestEngine_FlushAndWarm(t *testing.T) {
	store := &memoryStore{}
	src := newEngine(t, WithSnapshotStore(store))
	seedScenario(t, src)
	require.NoError(t, src.Flush(context.Background()))

	dst := newEngine(t, WithSnapshotStore(store))
	n, err := dst.Warm(context.Background(), []registry.Key{
		{Venue: "A", Symbol: "BTCUSDT"},
		{Venue: "B", Symbol: "BTCUSDT"},
		{Venue: "C", Symbol: "BTCUSDT"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	want, _, err := src.Checksum("B", "BTCUSDT")
	require.NoError(t, err)
	got, _, err := dst.Checksum("B", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	dst.Health()
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.SnapshotStore.WithLabelValues("sets")))

	assert.True(t, dst.RemoveBook(context.Background(), "B", "BTCUSDT"))
	_, ok, err := store.Get(context.Background(), "B", "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, ok, "removing a book drops its stored snapshot")
	assert.Equal(t, 1, dst.RemoveVenue(context.Background(), "A"))
	assert.Empty(t, store.snaps)
}

func TestEngine_ChecksumDepthBeyondDefault(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := DefaultConfig()
	cfg.ChecksumDepth = 20
	e := New(cfg,
		registry.New(registry.DefaultConfig(), logger),
		events.NewProcessor(events.DefaultConfig(), logger),
		arbitrage.NewDetector(arbitrage.DefaultConfig(), logger), logger)

	var updates []orderbook.Update
	for i := 0; i < 15; i++ {
		updates = append(updates, orderbook.NewBidUpdate(decimal.NewFromInt(int64(100-i)), d("1")))
	}
	require.NoError(t, e.ApplyUpdates("X", "BTCUSDT", updates))

	sum, _, err := e.Checksum("X", "BTCUSDT")
	require.NoError(t, err)
	b, ok := e.Registry().Get("X", "BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, b.ChecksumAt(20), sum)
	assert.NotEqual(t, b.ChecksumAt(orderbook.ChecksumDepth), sum, "levels 11-15 are covered")

	require.NoError(t, e.ApplyUpdatesWithChecksum("X", "BTCUSDT", nil, sum),
		"the reported checksum validates the same book")
}

func TestEngine_ChecksumWhileRemoving(t *testing.T) {
	e := newEngine(t)
	updates := []orderbook.Update{orderbook.NewBidUpdate(d("100"), d("1"))}

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			err := e.ApplyUpdatesWithChecksum("A", "BTCUSDT", updates, 0)
			assert.ErrorIs(t, err, orderbook.ErrChecksumMismatch)
		}()
		go func() {
			defer wg.Done()
			e.RemoveBook(context.Background(), "A", "BTCUSDT")
		}()
	}
	wg.Wait()
}

func TestEngine_AggregateAndRemoval(t *testing.T) {
	e := newEngine(t)
	_, err := e.Aggregate("BTCUSDT")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	seedScenario(t, e)
	require.NoError(t, e.ApplySnapshot("C", snapshot("BTCUSDT", "50120", "3", "50200", "1")))
	e.SetVenueOrder([]string{"C", "B"})

	agg, err := e.Aggregate("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 3, agg.VenueCount())
	best, ok := agg.BestBidAcrossVenues()
	require.True(t, ok)
	assert.Equal(t, "C", best.Venue)

	ctx := context.Background()
	assert.Equal(t, 1, e.RemoveVenue(ctx, "C"))
	assert.False(t, e.RemoveBook(ctx, "C", "BTCUSDT"))
	assert.True(t, e.RemoveBook(ctx, "B", "BTCUSDT"))
	assert.Equal(t, 1, e.Registry().Count())
	_, ok = e.History().Latest("B", "BTCUSDT")
	assert.False(t, ok)
}

func TestEngine_HealthAndSnapshot(t *testing.T) {
	e := newEngine(t)
	seedScenario(t, e)
	require.NoError(t, e.ApplySnapshot("C", snapshot("BTCUSDT", "101", "1", "100", "1")))
	require.NoError(t, e.ApplySnapshot("D", orderbook.Snapshot{Symbol: "BTCUSDT"}))

	h := e.Health()
	assert.Equal(t, 4, h.Total)
	assert.Equal(t, 1, h.Empty)
	assert.Equal(t, 1, h.Crossed)
	assert.False(t, h.Healthy)

	require.NoError(t, e.ApplyUpdates("A", "BTCUSDT", []orderbook.Update{
		orderbook.NewBidUpdate(d("49980"), d("1")),
		orderbook.NewBidUpdate(d("49970"), d("1")),
	}))
	s, err := e.BookSnapshot("A", "BTCUSDT", 2)
	require.NoError(t, err)
	assert.Len(t, s.Bids, 2)
	assert.True(t, s.Bids[0].Price.Equal(d("49990")))

	full, err := e.BookSnapshot("A", "BTCUSDT", 0)
	require.NoError(t, err)
	assert.Len(t, full.Bids, 3)

	_, err = e.BookSnapshot("Z", "BTCUSDT", 0)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	store := &memoryStore{}
	pub := &recordingPublisher{}
	e := newEngine(t, WithSnapshotStore(store), WithPublisher(pub))
	e.cfg.ScanInterval = 5 * time.Millisecond
	seedScenario(t, e)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	assert.Eventually(t, func() bool { return pub.count(TopicOpportunity) > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}

	_, ok, _ := store.Get(context.Background(), "A", "BTCUSDT")
	assert.True(t, ok, "final flush writes books")
}
