// Package config loads arbfinder configuration from YAML files and
// ARBFINDER_* environment variables and keeps the fee table hot-reloadable.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aidin1998/pincex_arbfinder/internal/arbitrage"
	"github.com/Aidin1998/pincex_arbfinder/internal/engine"
	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook/events"
	"github.com/Aidin1998/pincex_arbfinder/internal/registry"
	"github.com/shopspring/decimal"
)

// Config is the root configuration document.
type Config struct {
	Arbitrage ArbitrageConfig `mapstructure:"arbitrage" yaml:"arbitrage"`
	Fees      FeesConfig      `mapstructure:"fees" yaml:"fees"`
	OrderBook OrderBookConfig `mapstructure:"orderbook" yaml:"orderbook"`
	Events    EventsConfig    `mapstructure:"events" yaml:"events"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka" yaml:"kafka"`
	Publisher PublisherConfig `mapstructure:"publisher" yaml:"publisher"`
	Ingest    IngestConfig    `mapstructure:"ingest" yaml:"ingest"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

type ArbitrageConfig struct {
	MinProfitBps   int64         `mapstructure:"min_profit_bps" yaml:"min_profit_bps" validate:"gte=0"`
	MinVolume      string        `mapstructure:"min_volume" yaml:"min_volume" validate:"required,numeric"`
	DefaultFeeRate string        `mapstructure:"default_fee_rate" yaml:"default_fee_rate" validate:"required,numeric"`
	FeeType        string        `mapstructure:"fee_type" yaml:"fee_type" validate:"oneof=taker maker"`
	MaxBookAge     time.Duration `mapstructure:"max_book_age" yaml:"max_book_age" validate:"gte=0"`
	OpportunityTTL time.Duration `mapstructure:"opportunity_ttl" yaml:"opportunity_ttl" validate:"gte=0"`
}

// VenueFee holds decimal strings so that rates survive YAML and env
// decoding without float rounding.
type VenueFee struct {
	Maker string `mapstructure:"maker" yaml:"maker" validate:"omitempty,numeric"`
	Taker string `mapstructure:"taker" yaml:"taker" validate:"omitempty,numeric"`
}

type FeesConfig struct {
	// Venues is keyed by venue id. Viper lowercases map keys, so venue ids
	// configured here must be lowercase.
	Venues          map[string]VenueFee `mapstructure:"venues" yaml:"venues" validate:"dive"`
	FeeScheduleFile string              `mapstructure:"fee_schedule_file" yaml:"fee_schedule_file"`
}

type OrderBookConfig struct {
	MaxDepth      int `mapstructure:"max_depth" yaml:"max_depth" validate:"gte=0"`
	ChecksumDepth int `mapstructure:"checksum_depth" yaml:"checksum_depth" validate:"gt=0"`
}

type EventsConfig struct {
	VolumeChangeThreshold string `mapstructure:"volume_change_threshold" yaml:"volume_change_threshold" validate:"required,numeric"`
	LiquidityGapThreshold string `mapstructure:"liquidity_gap_threshold" yaml:"liquidity_gap_threshold" validate:"required,numeric"`
	Window                int    `mapstructure:"window" yaml:"window" validate:"gt=0"`
	GapWindow             int    `mapstructure:"gap_window" yaml:"gap_window" validate:"gt=1"`
	ModerateCrossBps      int64  `mapstructure:"moderate_cross_bps" yaml:"moderate_cross_bps" validate:"gte=0"`
	SevereCrossBps        int64  `mapstructure:"severe_cross_bps" yaml:"severe_cross_bps" validate:"gtefield=ModerateCrossBps"`
}

type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Capacity int           `mapstructure:"capacity" yaml:"capacity" validate:"gte=0"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gte=0"`
}

type RedisConfig struct {
	Address        string        `mapstructure:"address" yaml:"address"`
	Password       string        `mapstructure:"password" yaml:"password"`
	DB             int           `mapstructure:"db" yaml:"db" validate:"gte=0"`
	SnapshotTTL    time.Duration `mapstructure:"snapshot_ttl" yaml:"snapshot_ttl" validate:"gte=0"`
	CompressionMin int           `mapstructure:"compression_min" yaml:"compression_min" validate:"gte=0"`
	ChannelPrefix  string        `mapstructure:"channel_prefix" yaml:"channel_prefix"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

type PublisherConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend" validate:"oneof=none redis kafka"`
}

// IngestConfig enables consuming book changes from the publisher backend.
type IngestConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Topic   string `mapstructure:"topic" yaml:"topic" validate:"required_if=Enabled true"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port" validate:"gt=0,lte=65535"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	HubShards       int           `mapstructure:"hub_shards" yaml:"hub_shards" validate:"gt=0"`
	ReplaySize      int           `mapstructure:"replay_size" yaml:"replay_size" validate:"gte=0"`
}

type EngineConfig struct {
	ScanInterval   time.Duration `mapstructure:"scan_interval" yaml:"scan_interval" validate:"gt=0"`
	HealthInterval time.Duration `mapstructure:"health_interval" yaml:"health_interval" validate:"gt=0"`
	FlushInterval  time.Duration `mapstructure:"flush_interval" yaml:"flush_interval" validate:"gt=0"`
	HistorySize    int           `mapstructure:"history_size" yaml:"history_size" validate:"gte=0"`
	// Warm lists venue:symbol pairs to preload from the snapshot store.
	Warm []string `mapstructure:"warm" yaml:"warm"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn warning error"`
}

type TelemetryConfig struct {
	Tracing     bool   `mapstructure:"tracing" yaml:"tracing"`
	Metrics     bool   `mapstructure:"metrics" yaml:"metrics"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// DetectorConfig converts the arbitrage section for the detector.
func (c ArbitrageConfig) DetectorConfig() (arbitrage.Config, error) {
	minVolume, err := decimal.NewFromString(c.MinVolume)
	if err != nil {
		return arbitrage.Config{}, fmt.Errorf("arbitrage.min_volume: %w", err)
	}
	fee, err := decimal.NewFromString(c.DefaultFeeRate)
	if err != nil {
		return arbitrage.Config{}, fmt.Errorf("arbitrage.default_fee_rate: %w", err)
	}
	feeType, err := arbitrage.ParseFeeType(c.FeeType)
	if err != nil {
		return arbitrage.Config{}, fmt.Errorf("arbitrage.fee_type: %w", err)
	}
	return arbitrage.Config{
		MinProfitBps:   c.MinProfitBps,
		MinVolume:      minVolume,
		DefaultFee:     fee,
		FeeType:        feeType,
		OpportunityTTL: c.OpportunityTTL,
	}, nil
}

// ProcessorConfig converts the events section for the event processor.
func (c EventsConfig) ProcessorConfig() (events.Config, error) {
	volume, err := decimal.NewFromString(c.VolumeChangeThreshold)
	if err != nil {
		return events.Config{}, fmt.Errorf("events.volume_change_threshold: %w", err)
	}
	gap, err := decimal.NewFromString(c.LiquidityGapThreshold)
	if err != nil {
		return events.Config{}, fmt.Errorf("events.liquidity_gap_threshold: %w", err)
	}
	return events.Config{
		VolumeChangeThreshold: volume,
		LiquidityGapThreshold: gap,
		Window:                c.Window,
		GapWindow:             c.GapWindow,
		ModerateCrossBps:      c.ModerateCrossBps,
		SevereCrossBps:        c.SevereCrossBps,
	}, nil
}

func (c *Config) RegistryConfig() registry.Config {
	return registry.Config{
		MaxDepth:      c.OrderBook.MaxDepth,
		CacheEnabled:  c.Cache.Enabled,
		CacheCapacity: c.Cache.Capacity,
		CacheTTL:      c.Cache.TTL,
		ChecksumDepth: c.OrderBook.ChecksumDepth,
	}
}

func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		MaxBookAge:     c.Arbitrage.MaxBookAge,
		ScanInterval:   c.Engine.ScanInterval,
		HealthInterval: c.Engine.HealthInterval,
		FlushInterval:  c.Engine.FlushInterval,
		HistorySize:    c.Engine.HistorySize,
		ChecksumDepth:  c.OrderBook.ChecksumDepth,
	}
}

// WarmKeys parses Engine.Warm entries of the form venue:symbol.
func (c *Config) WarmKeys() ([]registry.Key, error) {
	keys := make([]registry.Key, 0, len(c.Engine.Warm))
	for _, s := range c.Engine.Warm {
		venue, symbol, ok := strings.Cut(s, ":")
		if !ok || venue == "" || symbol == "" {
			return nil, fmt.Errorf("engine.warm: %q is not venue:symbol", s)
		}
		keys = append(keys, registry.Key{Venue: venue, Symbol: symbol})
	}
	return keys, nil
}
