// Package cache persists book snapshots to Redis so that restarts and
// sibling processes can warm their view without waiting for venue snapshots.
package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook"
	"github.com/redis/go-redis/v9"
)

// SnapshotStore is the L2 store for full-depth book snapshots.
type SnapshotStore struct {
	client         redis.UniversalClient
	defaultTTL     time.Duration
	compressionMin int // minimum encoded size that gets gzipped
	keyPrefix      string

	hits   int64
	misses int64
	sets   int64
	errors int64
}

// l2Item is the stored envelope around an encoded snapshot.
type l2Item struct {
	Data       []byte    `json:"data"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"created_at"`
}

// StoreStats reports store activity since start.
type StoreStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	Errors int64 `json:"errors"`
}

func NewSnapshotStore(client redis.UniversalClient, defaultTTL time.Duration, compressionMin int) *SnapshotStore {
	return &SnapshotStore{
		client:         client,
		defaultTTL:     defaultTTL,
		compressionMin: compressionMin,
		keyPrefix:      "arbfinder:snapshot:",
	}
}

func (c *SnapshotStore) key(venue, symbol string) string {
	return c.keyPrefix + venue + ":" + symbol
}

// Get loads the stored snapshot for (venue, symbol). A missing key is not an
// error.
func (c *SnapshotStore) Get(ctx context.Context, venue, symbol string) (orderbook.Snapshot, bool, error) {
	data, err := c.client.Get(ctx, c.key(venue, symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			atomic.AddInt64(&c.misses, 1)
			return orderbook.Snapshot{}, false, nil
		}
		atomic.AddInt64(&c.errors, 1)
		return orderbook.Snapshot{}, false, fmt.Errorf("failed to get snapshot from redis: %w", err)
	}
	s, err := decodeSnapshot(data)
	if err != nil {
		atomic.AddInt64(&c.errors, 1)
		return orderbook.Snapshot{}, false, err
	}
	atomic.AddInt64(&c.hits, 1)
	return s, true, nil
}

// Put stores s under (venue, s.Symbol). ttl 0 uses the default.
func (c *SnapshotStore) Put(ctx context.Context, venue string, s orderbook.Snapshot, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	data, err := encodeSnapshot(s, c.compressionMin)
	if err != nil {
		atomic.AddInt64(&c.errors, 1)
		return err
	}
	if err := c.client.Set(ctx, c.key(venue, s.Symbol), data, ttl).Err(); err != nil {
		atomic.AddInt64(&c.errors, 1)
		return fmt.Errorf("failed to set snapshot in redis: %w", err)
	}
	atomic.AddInt64(&c.sets, 1)
	return nil
}

// PutAll writes many snapshots in one pipeline.
func (c *SnapshotStore) PutAll(ctx context.Context, snapshots map[string][]orderbook.Snapshot) error {
	pipe := c.client.Pipeline()
	n := 0
	for venue, list := range snapshots {
		for _, s := range list {
			data, err := encodeSnapshot(s, c.compressionMin)
			if err != nil {
				atomic.AddInt64(&c.errors, 1)
				return err
			}
			pipe.Set(ctx, c.key(venue, s.Symbol), data, c.defaultTTL)
			n++
		}
	}
	if n == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		atomic.AddInt64(&c.errors, 1)
		return fmt.Errorf("failed to execute snapshot pipeline: %w", err)
	}
	atomic.AddInt64(&c.sets, int64(n))
	return nil
}

func (c *SnapshotStore) Delete(ctx context.Context, venue, symbol string) error {
	if err := c.client.Del(ctx, c.key(venue, symbol)).Err(); err != nil {
		atomic.AddInt64(&c.errors, 1)
		return fmt.Errorf("failed to delete snapshot from redis: %w", err)
	}
	return nil
}

func (c *SnapshotStore) Stats() StoreStats {
	return StoreStats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
		Sets:   atomic.LoadInt64(&c.sets),
		Errors: atomic.LoadInt64(&c.errors),
	}
}

func encodeSnapshot(s orderbook.Snapshot, compressionMin int) ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	item := l2Item{Data: raw, CreatedAt: time.Now()}
	if len(raw) >= compressionMin {
		if item.Data, err = compress(raw); err != nil {
			return nil, err
		}
		item.Compressed = true
	}
	return json.Marshal(item)
}

func decodeSnapshot(data []byte) (orderbook.Snapshot, error) {
	var item l2Item
	if err := json.Unmarshal(data, &item); err != nil {
		return orderbook.Snapshot{}, fmt.Errorf("failed to unmarshal snapshot item: %w", err)
	}
	raw := item.Data
	if item.Compressed {
		var err error
		if raw, err = decompress(item.Data); err != nil {
			return orderbook.Snapshot{}, err
		}
	}
	var s orderbook.Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return orderbook.Snapshot{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return s, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	return out, nil
}
