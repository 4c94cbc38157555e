package events

import (
	"context"
	"sync"
	"time"

	"github.com/Aidin1998/pincex_arbfinder/pkg/metrics"
	"go.uber.org/zap"
)

// LoggingHandler writes events to zap. Crossings are warnings, gaps are info
// and everything else is debug.
type LoggingHandler struct {
	logger *zap.Logger
}

func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger.Named("book_events")}
}

func (h *LoggingHandler) HandleEvent(e Event) error {
	meta := e.Meta()
	fields := []zap.Field{
		zap.String("type", string(e.Kind())),
		zap.String("venue", meta.Venue),
		zap.String("symbol", meta.Symbol),
		zap.Uint64("sequence", meta.Sequence),
	}
	switch ev := e.(type) {
	case CrossingDetected:
		h.logger.Warn("crossed book",
			append(fields,
				zap.String("bid", ev.BestBid.Price.String()),
				zap.String("ask", ev.BestAsk.Price.String()),
				zap.Int64("cross_bps", ev.CrossBps),
				zap.String("severity", string(ev.Severity)))...)
	case LiquidityGap:
		h.logger.Info("liquidity gap",
			append(fields,
				zap.Stringer("side", ev.Side),
				zap.String("from", ev.GapStart.String()),
				zap.String("to", ev.GapEnd.String()),
				zap.Int("level", ev.Level))...)
	case PriceMovement:
		h.logger.Debug("price movement",
			append(fields,
				zap.Stringer("side", ev.Side),
				zap.String("old", ev.OldPrice.String()),
				zap.String("new", ev.NewPrice.String()),
				zap.Int64("change_bps", ev.ChangeBps))...)
	default:
		h.logger.Debug("book event", fields...)
	}
	return nil
}

// MetricsHandler counts events per type in prometheus and in memory.
type MetricsHandler struct {
	mu     sync.Mutex
	counts map[Type]uint64
}

func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{counts: make(map[Type]uint64)}
}

func (h *MetricsHandler) HandleEvent(e Event) error {
	metrics.BookEvents.WithLabelValues(string(e.Kind())).Inc()
	h.mu.Lock()
	h.counts[e.Kind()]++
	h.mu.Unlock()
	return nil
}

// Count returns how many events of type t were seen.
func (h *MetricsHandler) Count(t Type) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[t]
}

// Publisher is the slice of a pub/sub backend the publishing handler needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg any) error
}

// PublishingHandler forwards each event, wrapped in an Envelope, to a
// publisher under one topic.
type PublishingHandler struct {
	pub     Publisher
	topic   string
	timeout time.Duration
}

func NewPublishingHandler(pub Publisher, topic string) *PublishingHandler {
	return &PublishingHandler{pub: pub, topic: topic, timeout: 2 * time.Second}
}

func (h *PublishingHandler) HandleEvent(e Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	return h.pub.Publish(ctx, h.topic, Wrap(e))
}
