// Package engine is the in-process entry point for venue feeds: it applies
// snapshots and incremental updates to the registry's books, feeds the event
// processor and runs arbitrage detection over every venue quoting a symbol.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Aidin1998/pincex_arbfinder/internal/aggregator"
	"github.com/Aidin1998/pincex_arbfinder/internal/arbitrage"
	"github.com/Aidin1998/pincex_arbfinder/internal/cache"
	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook"
	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook/events"
	"github.com/Aidin1998/pincex_arbfinder/internal/registry"
	pkgerrors "github.com/Aidin1998/pincex_arbfinder/pkg/errors"
	"github.com/Aidin1998/pincex_arbfinder/pkg/logger"
	"github.com/Aidin1998/pincex_arbfinder/pkg/metrics"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	TopicOpportunity = "opportunity"
	TopicBookEvent   = "book_event"
)

type Config struct {
	// MaxBookAge excludes books not updated within the window from
	// detection. Zero disables the check.
	MaxBookAge     time.Duration
	ScanInterval   time.Duration
	HealthInterval time.Duration
	// FlushInterval controls how often books are written to the L2 store.
	FlushInterval time.Duration
	HistorySize   int
	// ChecksumDepth is the number of levels per side covered by checksums.
	ChecksumDepth int
}

func DefaultConfig() Config {
	return Config{
		MaxBookAge:     5 * time.Second,
		ScanInterval:   time.Second,
		HealthInterval: 30 * time.Second,
		FlushInterval:  10 * time.Second,
		HistorySize:    16,
		ChecksumDepth:  orderbook.ChecksumDepth,
	}
}

// SnapshotStore persists snapshots outside the process.
type SnapshotStore interface {
	Get(ctx context.Context, venue, symbol string) (orderbook.Snapshot, bool, error)
	PutAll(ctx context.Context, snapshots map[string][]orderbook.Snapshot) error
	Delete(ctx context.Context, venue, symbol string) error
}

// statsReporter is implemented by stores that count their own traffic.
type statsReporter interface {
	Stats() cache.StoreStats
}

type Option func(*Engine)

// WithPublisher sends opportunities and book events to pub.
func WithPublisher(pub events.Publisher) Option {
	return func(e *Engine) { e.publisher = pub }
}

func WithSnapshotStore(s SnapshotStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithClock replaces time.Now for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

type Engine struct {
	cfg       Config
	logger    *zap.Logger
	registry  *registry.Registry
	processor *events.Processor
	detector  *arbitrage.Detector
	history   *registry.SnapshotHistory
	publisher events.Publisher
	store     SnapshotStore
	tracer    trace.Tracer
	now       func() time.Time

	guardsMu sync.Mutex
	guards   map[registry.Key]*orderbook.SequenceGuard

	venueOrderMu sync.RWMutex
	venueOrder   []string
}

func New(cfg Config, reg *registry.Registry, proc *events.Processor, det *arbitrage.Detector, logger *zap.Logger, opts ...Option) *Engine {
	if cfg.ChecksumDepth <= 0 {
		cfg.ChecksumDepth = orderbook.ChecksumDepth
	}
	e := &Engine{
		cfg:       cfg,
		logger:    logger.Named("engine"),
		registry:  reg,
		processor: proc,
		detector:  det,
		history:   registry.NewSnapshotHistory(cfg.HistorySize),
		tracer:    otel.Tracer("arbfinder/engine"),
		now:       time.Now,
		guards:    make(map[registry.Key]*orderbook.SequenceGuard),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.publisher != nil {
		e.processor.AddHandler(events.NewPublishingHandler(e.publisher, TopicBookEvent))
	}
	return e
}

func (e *Engine) Registry() *registry.Registry        { return e.registry }
func (e *Engine) Detector() *arbitrage.Detector       { return e.detector }
func (e *Engine) History() *registry.SnapshotHistory { return e.history }

// ApplySnapshot replaces both sides of the (venue, snapshot.Symbol) book.
func (e *Engine) ApplySnapshot(venue string, s orderbook.Snapshot) error {
	if err := orderbook.ValidateSnapshot(s); err != nil {
		e.reject(venue, err)
		return err
	}
	b, err := e.registry.GetOrCreate(venue, s.Symbol)
	if err != nil {
		e.reject(venue, err)
		return err
	}
	prev, hadPrev := e.history.Latest(venue, s.Symbol)
	if err := b.ApplySnapshot(s); err != nil {
		e.reject(venue, err)
		return err
	}
	metrics.BookSnapshots.WithLabelValues(venue).Inc()
	snap := b.Snapshot(0)
	if hadPrev {
		e.logger.Debug("book resynced",
			zap.String("venue", venue),
			zap.String("symbol", s.Symbol),
			zap.Int("changed_levels", len(orderbook.Diff(prev, snap))))
	}
	e.history.Add(venue, snap)
	if c := e.registry.Cache(); c != nil {
		c.Put(registry.Key{Venue: venue, Symbol: s.Symbol}, snap)
	}
	e.processor.Process(venue, s.Symbol, b)
	return nil
}

// ApplySnapshotAt applies s and anchors the sequence guard of the book at
// the venue update id the snapshot reflects.
func (e *Engine) ApplySnapshotAt(venue string, s orderbook.Snapshot, lastUpdateID uint64) error {
	if err := e.ApplySnapshot(venue, s); err != nil {
		return err
	}
	g := e.guard(venue, s.Symbol)
	e.guardsMu.Lock()
	g.Reset(lastUpdateID)
	e.guardsMu.Unlock()
	return nil
}

// ApplyUpdates applies a batch atomically. Any invalid update rejects the
// whole batch and leaves the book untouched.
func (e *Engine) ApplyUpdates(venue, symbol string, updates []orderbook.Update) error {
	_, err := e.applyUpdates(venue, symbol, updates)
	return err
}

func (e *Engine) applyUpdates(venue, symbol string, updates []orderbook.Update) (*orderbook.Book, error) {
	b, err := e.registry.GetOrCreate(venue, symbol)
	if err != nil {
		e.reject(venue, err)
		return nil, err
	}
	if err := b.ApplyBatch(updates); err != nil {
		e.reject(venue, err)
		return nil, err
	}
	for _, u := range updates {
		metrics.BookUpdates.WithLabelValues(venue, u.Side.String()).Inc()
	}
	e.processor.Process(venue, symbol, b)
	return b, nil
}

// ApplyUpdatesWithChecksum applies updates and then compares the book's
// checksum against the one the venue published. A mismatch leaves the
// updates applied and reports ErrChecksumMismatch for this book only.
func (e *Engine) ApplyUpdatesWithChecksum(venue, symbol string, updates []orderbook.Update, venueChecksum uint32) error {
	b, err := e.applyUpdates(venue, symbol, updates)
	if err != nil {
		return err
	}
	b.SetVenueChecksum(venueChecksum)
	local := b.ChecksumAt(e.cfg.ChecksumDepth)
	if local == venueChecksum {
		return nil
	}
	metrics.ChecksumMismatches.WithLabelValues(venue).Inc()
	logger.Venue(e.logger, venue, symbol).Warn("checksum mismatch",
		zap.Uint64("sequence", b.Sequence()),
		zap.Uint32("local", local),
		zap.Uint32("venue_checksum", venueChecksum))
	e.invalidateGuard(venue, symbol)
	return orderbook.ChecksumError(symbol, local, venueChecksum)
}

// ApplyDiff applies a diff batch labelled with venue update ids [first, last].
// Stale batches are dropped silently. A gap invalidates the book's guard and
// returns ErrSequenceGap until the next ApplySnapshotAt.
func (e *Engine) ApplyDiff(venue, symbol string, first, last uint64, updates []orderbook.Update) error {
	g := e.guard(venue, symbol)

	e.guardsMu.Lock()
	verdict := g.Check(first, last)
	if verdict == orderbook.SequenceGap {
		g.Invalidate()
	}
	e.guardsMu.Unlock()

	switch verdict {
	case orderbook.SequenceStale:
		e.logger.Debug("dropping stale diff",
			zap.String("venue", venue), zap.String("symbol", symbol), zap.Uint64("last", last))
		return nil
	case orderbook.SequenceGap:
		metrics.SequenceGaps.WithLabelValues(venue).Inc()
		logger.Venue(e.logger, venue, symbol).Warn("sequence gap, resync required",
			zap.Uint64("first", first),
			zap.Uint64("expected", g.LastID()+1))
		return pkgerrors.SequenceGap.Explain("%s:%s: diff starts at %d, expected %d", venue, symbol, first, g.LastID()+1)
	}

	if err := e.ApplyUpdates(venue, symbol, updates); err != nil {
		return err
	}
	e.guardsMu.Lock()
	g.Advance(last)
	e.guardsMu.Unlock()
	return nil
}

func (e *Engine) guard(venue, symbol string) *orderbook.SequenceGuard {
	key := registry.Key{Venue: venue, Symbol: symbol}
	e.guardsMu.Lock()
	defer e.guardsMu.Unlock()
	g, ok := e.guards[key]
	if !ok {
		g = &orderbook.SequenceGuard{}
		e.guards[key] = g
	}
	return g
}

func (e *Engine) invalidateGuard(venue, symbol string) {
	e.guardsMu.Lock()
	if g, ok := e.guards[registry.Key{Venue: venue, Symbol: symbol}]; ok {
		g.Invalidate()
	}
	e.guardsMu.Unlock()
}

// RemoveBook evicts one book together with its processor state, guard,
// history and stored snapshot.
func (e *Engine) RemoveBook(ctx context.Context, venue, symbol string) bool {
	_, ok := e.registry.Remove(venue, symbol)
	e.forget(ctx, venue, symbol)
	return ok
}

// RemoveVenue evicts every book of a disconnected venue.
func (e *Engine) RemoveVenue(ctx context.Context, venue string) int {
	keys := e.registry.ClearVenue(venue)
	for _, k := range keys {
		e.forget(ctx, k.Venue, k.Symbol)
	}
	return len(keys)
}

func (e *Engine) forget(ctx context.Context, venue, symbol string) {
	e.processor.Forget(venue, symbol)
	e.history.Clear(venue, symbol)
	e.guardsMu.Lock()
	delete(e.guards, registry.Key{Venue: venue, Symbol: symbol})
	e.guardsMu.Unlock()
	if e.store == nil {
		return
	}
	if err := e.store.Delete(ctx, venue, symbol); err != nil {
		e.logger.Warn("failed to delete stored snapshot",
			zap.String("venue", venue),
			zap.String("symbol", symbol),
			zap.Error(err))
	}
}

// SetFee updates one venue's flat fee rate on the running detector.
func (e *Engine) SetFee(venue string, rate decimal.Decimal) {
	e.detector.SetFee(venue, rate)
}

// SetVenueOrder fixes the tie-break order used by Aggregate.
func (e *Engine) SetVenueOrder(order []string) {
	e.venueOrderMu.Lock()
	e.venueOrder = append([]string(nil), order...)
	e.venueOrderMu.Unlock()
}

// views returns point-in-time snapshots of every usable book for symbol.
// Empty books and books older than MaxBookAge are left out.
func (e *Engine) views(symbol string) map[string]orderbook.View {
	books := e.registry.BooksForSymbol(symbol)
	now := e.now()
	out := make(map[string]orderbook.View, len(books))
	for venue, b := range books {
		if b.IsEmpty() {
			continue
		}
		if e.cfg.MaxBookAge > 0 && now.Sub(b.LastUpdate()) > e.cfg.MaxBookAge {
			e.logger.Debug("skipping stale book",
				zap.String("venue", venue),
				zap.String("symbol", symbol),
				zap.Time("last_update", b.LastUpdate()))
			continue
		}
		out[venue] = b.Snapshot(0)
	}
	return out
}

// Evaluate runs arbitrage detection over all fresh, non-empty books quoting
// symbol without publishing. Results are sorted by estimated profit.
func (e *Engine) Evaluate(symbol string) []arbitrage.Opportunity {
	views := e.views(symbol)
	if len(views) < 2 {
		return nil
	}
	ops := e.detector.Detect(symbol, views)
	arbitrage.SortByProfit(ops)
	return ops
}

// Detect evaluates symbol, records metrics and publishes every opportunity
// found.
func (e *Engine) Detect(ctx context.Context, symbol string) []arbitrage.Opportunity {
	start := time.Now()
	ops := e.Evaluate(symbol)
	metrics.DetectionLatency.Observe(time.Since(start).Seconds())
	if len(ops) == 0 {
		return nil
	}
	metrics.Opportunities.WithLabelValues(symbol).Add(float64(len(ops)))
	for _, op := range ops {
		e.logger.Info("arbitrage opportunity",
			zap.String("symbol", symbol),
			zap.String("buy_venue", op.BuyVenue),
			zap.String("sell_venue", op.SellVenue),
			zap.String("net_bps", op.NetProfitBps.StringFixed(4)),
			zap.String("quantity", op.MaxQuantity.String()))
		if e.publisher != nil {
			if err := e.publisher.Publish(ctx, TopicOpportunity, op); err != nil {
				e.logger.Error("failed to publish opportunity", zap.String("id", op.ID.String()), zap.Error(err))
			}
		}
	}
	return ops
}

// Scan runs detection for every known symbol in one traced pass.
func (e *Engine) Scan(ctx context.Context) int {
	ctx, span := e.tracer.Start(ctx, "engine.scan")
	defer span.End()

	symbols := e.registry.Symbols()
	total := 0
	for _, symbol := range symbols {
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, ctx.Err().Error())
			break
		}
		total += len(e.Detect(ctx, symbol))
	}
	span.SetAttributes(
		attribute.Int("symbols", len(symbols)),
		attribute.Int("opportunities", total),
	)
	return total
}

// Health reports registry health and refreshes the books gauges.
func (e *Engine) Health() registry.Health {
	h := e.registry.Health()
	metrics.Books.WithLabelValues("total").Set(float64(h.Total))
	metrics.Books.WithLabelValues("empty").Set(float64(h.Empty))
	metrics.Books.WithLabelValues("crossed").Set(float64(h.Crossed))
	if sr, ok := e.store.(statsReporter); ok {
		st := sr.Stats()
		metrics.SnapshotStore.WithLabelValues("hits").Set(float64(st.Hits))
		metrics.SnapshotStore.WithLabelValues("misses").Set(float64(st.Misses))
		metrics.SnapshotStore.WithLabelValues("sets").Set(float64(st.Sets))
		metrics.SnapshotStore.WithLabelValues("errors").Set(float64(st.Errors))
	}
	return h
}

// Checksum returns the checksum and sequence of one book.
func (e *Engine) Checksum(venue, symbol string) (uint32, uint64, error) {
	b, ok := e.registry.Get(venue, symbol)
	if !ok {
		return 0, 0, registry.ErrNotFound.Explain("no book for %s:%s", venue, symbol)
	}
	s := b.Snapshot(e.cfg.ChecksumDepth)
	return s.ChecksumAt(e.cfg.ChecksumDepth), s.Seq, nil
}

// BookSnapshot returns a snapshot of one book truncated to depth levels per
// side; depth <= 0 means full depth.
func (e *Engine) BookSnapshot(venue, symbol string, depth int) (orderbook.Snapshot, error) {
	s, err := e.registry.Snapshot(venue, symbol)
	if err != nil {
		return orderbook.Snapshot{}, err
	}
	if depth > 0 {
		if len(s.Bids) > depth {
			s.Bids = s.Bids[:depth]
		}
		if len(s.Asks) > depth {
			s.Asks = s.Asks[:depth]
		}
	}
	return s, nil
}

// Aggregate builds a cross-venue view of symbol over snapshots of every
// non-empty book, regardless of age.
func (e *Engine) Aggregate(symbol string) (*aggregator.AggregatedOrderBook, error) {
	books := e.registry.BooksForSymbol(symbol)
	if len(books) == 0 {
		return nil, registry.ErrNotFound.Explain("no books for %s", symbol)
	}
	agg := aggregator.New(symbol)
	e.venueOrderMu.RLock()
	if len(e.venueOrder) > 0 {
		agg.SetVenueOrder(e.venueOrder)
	}
	e.venueOrderMu.RUnlock()
	for venue, b := range books {
		agg.AddVenue(venue, b.Snapshot(0))
	}
	return agg, nil
}

// Warm loads the stored snapshot of each (venue, symbol) pair from the L2
// store into the registry. Missing entries are skipped.
func (e *Engine) Warm(ctx context.Context, pairs []registry.Key) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	loaded := 0
	for _, k := range pairs {
		s, ok, err := e.store.Get(ctx, k.Venue, k.Symbol)
		if err != nil {
			return loaded, fmt.Errorf("warm %s: %w", k, err)
		}
		if !ok {
			continue
		}
		if err := e.ApplySnapshot(k.Venue, s); err != nil {
			e.logger.Warn("discarding stored snapshot", zap.Stringer("book", k), zap.Error(err))
			continue
		}
		loaded++
	}
	e.logger.Info("warmed books from snapshot store", zap.Int("loaded", loaded), zap.Int("requested", len(pairs)))
	return loaded, nil
}

// Flush writes a snapshot of every non-empty book to the L2 store.
func (e *Engine) Flush(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	batch := make(map[string][]orderbook.Snapshot)
	for _, entry := range e.registry.All() {
		if entry.Book.IsEmpty() {
			continue
		}
		batch[entry.Venue] = append(batch[entry.Venue], entry.Book.Snapshot(0))
	}
	if err := e.store.PutAll(ctx, batch); err != nil {
		return fmt.Errorf("flush snapshots: %w", err)
	}
	return nil
}

// Run scans for opportunities, reports health and flushes snapshots on
// their configured intervals until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	scan := time.NewTicker(positive(e.cfg.ScanInterval, time.Second))
	defer scan.Stop()
	health := time.NewTicker(positive(e.cfg.HealthInterval, 30*time.Second))
	defer health.Stop()
	flush := time.NewTicker(positive(e.cfg.FlushInterval, 10*time.Second))
	defer flush.Stop()

	e.logger.Info("engine started",
		zap.Duration("scan_interval", e.cfg.ScanInterval),
		zap.Duration("max_book_age", e.cfg.MaxBookAge))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping")
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := e.Flush(flushCtx); err != nil {
				e.logger.Error("final snapshot flush failed", zap.Error(err))
			}
			cancel()
			return nil
		case <-scan.C:
			e.Scan(ctx)
		case <-health.C:
			h := e.Health()
			e.logger.Info("book health", zap.Stringer("health", h), zap.Int("tracked", e.processor.Tracked()))
		case <-flush.C:
			if err := e.Flush(ctx); err != nil {
				e.logger.Error("snapshot flush failed", zap.Error(err))
			}
		}
	}
}

func positive(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func (e *Engine) reject(venue string, err error) {
	var pe *pkgerrors.Error
	reason := pkgerrors.KindUnknown
	if pkgerrors.As(err, &pe) {
		reason = pe.Kind
		if f := pe.Field(); f != "" {
			reason = f
		}
	}
	metrics.RejectedUpdates.WithLabelValues(venue, reason).Inc()
	e.logger.Debug("rejected input", zap.String("venue", venue), zap.Error(err))
}
