package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "ARBFINDER"

// DefaultPaths are searched, in order, when Load is given no paths.
var DefaultPaths = []string{
	"./config.yaml",
	"./configs/config.yaml",
	"/etc/arbfinder/config.yaml",
}

// ReloadCallback receives the previous and the freshly validated config.
type ReloadCallback func(old, next *Config) error

// Loader owns the viper instance and the current configuration.
type Loader struct {
	mu        sync.RWMutex
	viper     *viper.Viper
	validator *validator.Validate
	logger    *zap.Logger
	config    *Config
	files     []string
	callbacks []ReloadCallback
	debounce  time.Duration
	timer     *time.Timer
}

func NewLoader(logger *zap.Logger) *Loader {
	return &Loader{
		validator: validator.New(),
		logger:    logger.Named("config"),
		debounce:  500 * time.Millisecond,
	}
}

// Load reads the first existing files among paths (or DefaultPaths), merges
// environment overrides and validates the result.
func (l *Loader) Load(paths ...string) (*Config, error) {
	v := newViper()
	files, err := mergeFiles(v, l.logger, paths...)
	if err != nil {
		return nil, err
	}
	cfg, err := l.decode(v)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.viper = v
	l.files = files
	l.config = cfg
	l.mu.Unlock()

	l.logger.Info("configuration loaded", zap.Strings("files", files))
	return cfg, nil
}

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// OnReload registers a callback invoked after a successful reload.
func (l *Loader) OnReload(cb ReloadCallback) {
	l.mu.Lock()
	l.callbacks = append(l.callbacks, cb)
	l.mu.Unlock()
}

// Watch enables hot reload of the loaded files. Rapid successive writes are
// collapsed into one reload.
func (l *Loader) Watch() {
	l.mu.RLock()
	v, files := l.viper, l.files
	l.mu.RUnlock()
	if v == nil || len(files) == 0 {
		l.logger.Info("no config files to watch, hot-reload disabled")
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		l.logger.Debug("config file changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		l.mu.Lock()
		if l.timer != nil {
			l.timer.Stop()
		}
		l.timer = time.AfterFunc(l.debounce, func() {
			if err := l.Reload(); err != nil {
				l.logger.Error("failed to reload configuration", zap.Error(err))
			}
		})
		l.mu.Unlock()
	})
	v.WatchConfig()
	l.logger.Info("watching configuration", zap.Strings("files", files))
}

// Reload re-reads the files found by Load. The previous configuration stays
// in effect when the new one fails to decode or validate, or when a callback
// rejects it.
func (l *Loader) Reload() error {
	l.mu.RLock()
	files := l.files
	old := l.config
	callbacks := append([]ReloadCallback(nil), l.callbacks...)
	l.mu.RUnlock()

	v := newViper()
	if _, err := mergeFiles(v, l.logger, files...); err != nil {
		return fmt.Errorf("failed to reload config files: %w", err)
	}
	cfg, err := l.decode(v)
	if err != nil {
		return fmt.Errorf("reloaded configuration rejected: %w", err)
	}
	for _, cb := range callbacks {
		if err := cb(old, cfg); err != nil {
			return fmt.Errorf("reload callback failed: %w", err)
		}
	}

	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	l.logger.Info("configuration reloaded")
	return nil
}

func (l *Loader) decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.validator.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if _, err := cfg.Arbitrage.DetectorConfig(); err != nil {
		return nil, err
	}
	if _, err := cfg.Events.ProcessorConfig(); err != nil {
		return nil, err
	}
	if _, err := cfg.Fees.Rates(); err != nil {
		return nil, err
	}
	if _, err := cfg.WarmKeys(); err != nil {
		return nil, err
	}
	if cfg.Publisher.Backend == "kafka" && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("publisher.backend is kafka but no kafka.brokers are configured")
	}
	if cfg.Publisher.Backend == "redis" && cfg.Redis.Address == "" {
		return nil, fmt.Errorf("publisher.backend is redis but redis.address is empty")
	}
	if cfg.Ingest.Enabled && cfg.Publisher.Backend == "none" {
		return nil, fmt.Errorf("ingest.enabled requires a redis or kafka publisher.backend")
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func mergeFiles(v *viper.Viper, logger *zap.Logger, paths ...string) ([]string, error) {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	var loaded []string
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logger.Debug("config file not found, skipping", zap.String("path", path))
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		loaded = append(loaded, path)
	}
	if len(loaded) == 0 {
		logger.Warn("no configuration files found, using defaults and environment variables")
	}
	return loaded, nil
}

// setDefaults registers every key so that AutomaticEnv can override keys
// that appear in no file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("arbitrage.min_profit_bps", 10)
	v.SetDefault("arbitrage.min_volume", "100")
	v.SetDefault("arbitrage.default_fee_rate", "0.001")
	v.SetDefault("arbitrage.fee_type", "taker")
	v.SetDefault("arbitrage.max_book_age", 5*time.Second)
	v.SetDefault("arbitrage.opportunity_ttl", 30*time.Second)

	v.SetDefault("fees.fee_schedule_file", "")

	v.SetDefault("orderbook.max_depth", 1000)
	v.SetDefault("orderbook.checksum_depth", 10)

	v.SetDefault("events.volume_change_threshold", "0.10")
	v.SetDefault("events.liquidity_gap_threshold", "0.01")
	v.SetDefault("events.window", 10)
	v.SetDefault("events.gap_window", 20)
	v.SetDefault("events.moderate_cross_bps", 10)
	v.SetDefault("events.severe_cross_bps", 100)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.capacity", 1000)
	v.SetDefault("cache.ttl", 5*time.Minute)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.snapshot_ttl", 10*time.Minute)
	v.SetDefault("redis.compression_min", 1024)
	v.SetDefault("redis.channel_prefix", "arbfinder")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "arbfinder.events")

	v.SetDefault("publisher.backend", "none")

	v.SetDefault("ingest.enabled", false)
	v.SetDefault("ingest.topic", "feed")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.hub_shards", 4)
	v.SetDefault("server.replay_size", 256)

	v.SetDefault("engine.scan_interval", time.Second)
	v.SetDefault("engine.health_interval", 30*time.Second)
	v.SetDefault("engine.flush_interval", 10*time.Second)
	v.SetDefault("engine.history_size", 16)
	v.SetDefault("engine.warm", []string{})

	v.SetDefault("logging.level", "info")

	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.metrics", false)
	v.SetDefault("telemetry.service_name", "arbfinder")
}
