package registry

import (
	"sync"

	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook"
)

// SnapshotHistory keeps the most recent snapshots per book, oldest first.
type SnapshotHistory struct {
	size int

	mu        sync.RWMutex
	snapshots map[Key][]orderbook.Snapshot
}

func NewSnapshotHistory(size int) *SnapshotHistory {
	if size <= 0 {
		size = 1
	}
	return &SnapshotHistory{size: size, snapshots: make(map[Key][]orderbook.Snapshot)}
}

func (h *SnapshotHistory) Add(venue string, s orderbook.Snapshot) {
	key := Key{Venue: venue, Symbol: s.Symbol}
	h.mu.Lock()
	defer h.mu.Unlock()
	list := append(h.snapshots[key], s)
	if len(list) > h.size {
		list = append([]orderbook.Snapshot(nil), list[len(list)-h.size:]...)
	}
	h.snapshots[key] = list
}

func (h *SnapshotHistory) Latest(venue, symbol string) (orderbook.Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := h.snapshots[Key{venue, symbol}]
	if len(list) == 0 {
		return orderbook.Snapshot{}, false
	}
	return list[len(list)-1], true
}

func (h *SnapshotHistory) All(venue, symbol string) []orderbook.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]orderbook.Snapshot(nil), h.snapshots[Key{venue, symbol}]...)
}

func (h *SnapshotHistory) Clear(venue, symbol string) {
	h.mu.Lock()
	delete(h.snapshots, Key{venue, symbol})
	h.mu.Unlock()
}
