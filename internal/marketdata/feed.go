package marketdata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook"
	pkgerrors "github.com/Aidin1998/pincex_arbfinder/pkg/errors"
	"go.uber.org/zap"
)

// Feed message types
const (
	FeedSnapshot = "snapshot"
	FeedUpdates  = "updates"
	FeedDiff     = "diff"
)

// FeedMessage is one book change produced by an external venue connector.
type FeedMessage struct {
	Type     string              `json:"type"`
	Venue    string              `json:"venue"`
	Symbol   string              `json:"symbol"`
	Snapshot *orderbook.Snapshot `json:"snapshot,omitempty"`
	Updates  []orderbook.Update  `json:"updates,omitempty"`
	// FirstUpdateID and LastUpdateID bound a diff batch; on a snapshot
	// LastUpdateID anchors the sequence.
	FirstUpdateID uint64  `json:"first_update_id,omitempty"`
	LastUpdateID  uint64  `json:"last_update_id,omitempty"`
	Checksum      *uint32 `json:"checksum,omitempty"`
}

// FeedSink receives decoded feed messages.
type FeedSink interface {
	ApplySnapshot(venue string, s orderbook.Snapshot) error
	ApplySnapshotAt(venue string, s orderbook.Snapshot, lastUpdateID uint64) error
	ApplyUpdates(venue, symbol string, updates []orderbook.Update) error
	ApplyUpdatesWithChecksum(venue, symbol string, updates []orderbook.Update, venueChecksum uint32) error
	ApplyDiff(venue, symbol string, first, last uint64, updates []orderbook.Update) error
}

// FeedConsumer applies book changes read from a Subscriber.
type FeedConsumer struct {
	sub    Subscriber
	sink   FeedSink
	logger *zap.Logger
}

func NewFeedConsumer(sub Subscriber, sink FeedSink, logger *zap.Logger) *FeedConsumer {
	return &FeedConsumer{sub: sub, sink: sink, logger: logger.Named("feed")}
}

// Run subscribes to topic. Messages are handled on the subscriber's
// goroutine until ctx is done; a bad message is logged and skipped.
func (c *FeedConsumer) Run(ctx context.Context, topic string) error {
	return c.sub.Subscribe(ctx, topic, func(data []byte) {
		if err := c.Handle(data); err != nil {
			c.logger.Warn("feed message rejected", zap.Error(err))
		}
	})
}

// Handle decodes one message and routes it to the sink.
func (c *FeedConsumer) Handle(data []byte) error {
	var m FeedMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return pkgerrors.Invalid.Explain("malformed feed message").Wrap(err)
	}
	switch m.Type {
	case FeedSnapshot:
		if m.Snapshot == nil {
			return pkgerrors.Invalid.Explain("snapshot message without snapshot").WithField("required", "snapshot", "missing")
		}
		s := *m.Snapshot
		if s.Symbol == "" {
			s.Symbol = m.Symbol
		}
		if m.LastUpdateID > 0 {
			return c.sink.ApplySnapshotAt(m.Venue, s, m.LastUpdateID)
		}
		return c.sink.ApplySnapshot(m.Venue, s)
	case FeedUpdates:
		if m.Checksum != nil {
			return c.sink.ApplyUpdatesWithChecksum(m.Venue, m.Symbol, m.Updates, *m.Checksum)
		}
		return c.sink.ApplyUpdates(m.Venue, m.Symbol, m.Updates)
	case FeedDiff:
		return c.sink.ApplyDiff(m.Venue, m.Symbol, m.FirstUpdateID, m.LastUpdateID, m.Updates)
	default:
		return pkgerrors.Invalid.Explain("unknown feed message type %q", m.Type).
			WithField("oneof", "type", fmt.Sprintf("%s|%s|%s", FeedSnapshot, FeedUpdates, FeedDiff))
	}
}
