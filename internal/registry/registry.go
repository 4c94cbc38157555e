// Package registry is the single owner of order books. It creates books on
// first sight of a (venue, symbol) pair, hands out shared handles and evicts
// books when venues go away.
package registry

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook"
	pkgerrors "github.com/Aidin1998/pincex_arbfinder/pkg/errors"
	"go.uber.org/zap"
)

// ErrNotFound is returned by introspection of an absent book.
var ErrNotFound = pkgerrors.NotFound

// Key identifies one book.
type Key struct {
	Venue  string `json:"venue"`
	Symbol string `json:"symbol"`
}

func (k Key) String() string { return k.Venue + ":" + k.Symbol }

type Config struct {
	MaxDepth      int
	CacheEnabled  bool
	CacheCapacity int
	CacheTTL      time.Duration
	// ChecksumDepth is the number of levels per side covered by Checksum.
	ChecksumDepth int
}

func DefaultConfig() Config {
	return Config{
		MaxDepth:      orderbook.DefaultMaxDepth,
		CacheEnabled:  true,
		CacheCapacity: 1000,
		CacheTTL:      5 * time.Minute,
		ChecksumDepth: orderbook.ChecksumDepth,
	}
}

// Health summarizes the state of every tracked book.
type Health struct {
	Total   int  `json:"total"`
	Empty   int  `json:"empty"`
	Crossed int  `json:"crossed"`
	Healthy bool `json:"healthy"`
}

// BookEntry pairs a book with its key.
type BookEntry struct {
	Key
	Book *orderbook.Book
}

type Registry struct {
	cfg    Config
	logger *zap.Logger
	cache  *Cache

	mu    sync.RWMutex
	books map[Key]*orderbook.Book
}

func New(cfg Config, logger *zap.Logger) *Registry {
	if cfg.ChecksumDepth <= 0 {
		cfg.ChecksumDepth = orderbook.ChecksumDepth
	}
	r := &Registry{
		cfg:    cfg,
		logger: logger.Named("registry"),
		books:  make(map[Key]*orderbook.Book),
	}
	if cfg.CacheEnabled && cfg.CacheCapacity > 0 {
		r.cache = NewCache(cfg.CacheCapacity, cfg.CacheTTL)
	}
	return r
}

// Cache returns the snapshot cache, or nil when caching is disabled.
func (r *Registry) Cache() *Cache { return r.cache }

// GetOrCreate returns the book for (venue, symbol), creating it on first use.
// Concurrent first calls for the same key all receive the same book.
func (r *Registry) GetOrCreate(venue, symbol string) (*orderbook.Book, error) {
	key := Key{Venue: venue, Symbol: symbol}

	r.mu.RLock()
	b, ok := r.books[key]
	r.mu.RUnlock()
	if ok {
		return b, nil
	}

	if strings.TrimSpace(venue) == "" {
		return nil, orderbook.ErrInvalidInput.
			Explain("invalid venue: must not be empty").
			WithField(pkgerrors.KindInvalidInput, "venue", "must not be empty")
	}
	if err := orderbook.ValidateSymbol(symbol); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.books[key]; ok {
		return b, nil
	}
	b = orderbook.NewBook(symbol, r.cfg.MaxDepth)
	r.books[key] = b
	r.logger.Info("created order book", zap.String("venue", venue), zap.String("symbol", symbol))
	return b, nil
}

func (r *Registry) Get(venue, symbol string) (*orderbook.Book, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[Key{venue, symbol}]
	return b, ok
}

func (r *Registry) Has(venue, symbol string) bool {
	_, ok := r.Get(venue, symbol)
	return ok
}

// Remove evicts one book and returns it if it existed.
func (r *Registry) Remove(venue, symbol string) (*orderbook.Book, bool) {
	key := Key{venue, symbol}
	r.mu.Lock()
	b, ok := r.books[key]
	delete(r.books, key)
	r.mu.Unlock()
	if r.cache != nil {
		r.cache.Invalidate(key)
	}
	if ok {
		r.logger.Info("removed order book", zap.String("venue", venue), zap.String("symbol", symbol))
	}
	return b, ok
}

// ClearVenue evicts every book belonging to venue and returns their keys.
func (r *Registry) ClearVenue(venue string) []Key {
	r.mu.Lock()
	var removed []Key
	for k := range r.books {
		if k.Venue == venue {
			delete(r.books, k)
			removed = append(removed, k)
		}
	}
	r.mu.Unlock()
	if r.cache != nil {
		for _, k := range removed {
			r.cache.Invalidate(k)
		}
	}
	r.logger.Info("cleared venue", zap.String("venue", venue), zap.Int("books", len(removed)))
	return removed
}

func (r *Registry) ClearAll() {
	r.mu.Lock()
	r.books = make(map[Key]*orderbook.Book)
	r.mu.Unlock()
	if r.cache != nil {
		r.cache.Clear()
	}
	r.logger.Info("cleared all order books")
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.books)
}

// Venues lists distinct venues, sorted.
func (r *Registry) Venues() []string {
	r.mu.RLock()
	seen := make(map[string]struct{})
	for k := range r.books {
		seen[k.Venue] = struct{}{}
	}
	r.mu.RUnlock()
	return sortedKeys(seen)
}

// Symbols lists distinct symbols across all venues, sorted.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	seen := make(map[string]struct{})
	for k := range r.books {
		seen[k.Symbol] = struct{}{}
	}
	r.mu.RUnlock()
	return sortedKeys(seen)
}

func (r *Registry) SymbolsForVenue(venue string) []string {
	r.mu.RLock()
	seen := make(map[string]struct{})
	for k := range r.books {
		if k.Venue == venue {
			seen[k.Symbol] = struct{}{}
		}
	}
	r.mu.RUnlock()
	return sortedKeys(seen)
}

// BooksForSymbol maps venue to book for every venue quoting symbol.
func (r *Registry) BooksForSymbol(symbol string) map[string]*orderbook.Book {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*orderbook.Book)
	for k, b := range r.books {
		if k.Symbol == symbol {
			out[k.Venue] = b
		}
	}
	return out
}

// All returns every book ordered by venue then symbol.
func (r *Registry) All() []BookEntry {
	r.mu.RLock()
	out := make([]BookEntry, 0, len(r.books))
	for k, b := range r.books {
		out = append(out, BookEntry{Key: k, Book: b})
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b BookEntry) int {
		if c := strings.Compare(a.Venue, b.Venue); c != 0 {
			return c
		}
		return strings.Compare(a.Symbol, b.Symbol)
	})
	return out
}

// Snapshot returns a full-depth snapshot of one book. A cached snapshot is
// served only while its sequence still matches the live book; anything else
// falls through to the book and refreshes the cache.
func (r *Registry) Snapshot(venue, symbol string) (orderbook.Snapshot, error) {
	b, ok := r.Get(venue, symbol)
	if !ok {
		return orderbook.Snapshot{}, ErrNotFound.Explain("no book for %s:%s", venue, symbol)
	}
	key := Key{venue, symbol}
	if r.cache != nil {
		if s, ok := r.cache.Get(key); ok && s.Seq == b.Sequence() {
			return s, nil
		}
	}
	s := b.Snapshot(0)
	if r.cache != nil {
		r.cache.Put(key, s)
	}
	return s, nil
}

// Checksum reports the checksum and sequence of one book.
func (r *Registry) Checksum(venue, symbol string) (uint32, uint64, error) {
	b, ok := r.Get(venue, symbol)
	if !ok {
		return 0, 0, ErrNotFound.Explain("no book for %s:%s", venue, symbol)
	}
	s := b.Snapshot(r.cfg.ChecksumDepth)
	return s.ChecksumAt(r.cfg.ChecksumDepth), s.Seq, nil
}

func (r *Registry) Health() Health {
	var h Health
	for _, e := range r.All() {
		h.Total++
		if e.Book.IsEmpty() {
			h.Empty++
		}
		if e.Book.IsCrossed() {
			h.Crossed++
			r.logger.Warn("crossed order book", zap.String("venue", e.Venue), zap.String("symbol", e.Symbol))
		}
	}
	h.Healthy = h.Crossed == 0
	return h
}

func (h Health) String() string {
	return fmt.Sprintf("total=%d empty=%d crossed=%d healthy=%t", h.Total, h.Empty, h.Crossed, h.Healthy)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
