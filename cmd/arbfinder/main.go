package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Aidin1998/pincex_arbfinder/api"
	"github.com/Aidin1998/pincex_arbfinder/internal/arbitrage"
	"github.com/Aidin1998/pincex_arbfinder/internal/cache"
	"github.com/Aidin1998/pincex_arbfinder/internal/config"
	"github.com/Aidin1998/pincex_arbfinder/internal/engine"
	"github.com/Aidin1998/pincex_arbfinder/internal/infrastructure/ws"
	"github.com/Aidin1998/pincex_arbfinder/internal/marketdata"
	"github.com/Aidin1998/pincex_arbfinder/internal/orderbook/events"
	"github.com/Aidin1998/pincex_arbfinder/internal/registry"
	"github.com/Aidin1998/pincex_arbfinder/internal/telemetry"
	"github.com/Aidin1998/pincex_arbfinder/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	level := os.Getenv("ARBFINDER_LOGGING_LEVEL")
	if level == "" {
		level = "info"
	}
	zapLogger, atom := logger.NewLogger(level)
	defer zapLogger.Sync()

	if err := run(zapLogger, atom); err != nil {
		zapLogger.Fatal("arbfinder exited with error", zap.Error(err))
	}
	zapLogger.Info("arbfinder exited properly")
}

func run(zapLogger *zap.Logger, atom zap.AtomicLevel) error {
	loader := config.NewLoader(zapLogger)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	atom.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Tracing:     cfg.Telemetry.Tracing,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			zapLogger.Error("telemetry shutdown failed", zap.Error(err))
		}
	}()

	detCfg, err := cfg.Arbitrage.DetectorConfig()
	if err != nil {
		return err
	}
	procCfg, err := cfg.Events.ProcessorConfig()
	if err != nil {
		return err
	}
	fees, err := cfg.Fees.Rates()
	if err != nil {
		return err
	}

	detector := arbitrage.NewDetector(detCfg, zapLogger)
	detector.ReplaceFees(fees)

	processor := events.NewProcessor(procCfg, zapLogger)
	processor.AddHandler(events.NewLoggingHandler(zapLogger))
	processor.AddHandler(events.NewMetricsHandler())

	hub := ws.NewHub(cfg.Server.HubShards, cfg.Server.ReplaySize, zapLogger)
	sinks := marketdata.MultiPublisher{hubSink{hub}}

	var opts []engine.Option

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Address, err)
		}
		opts = append(opts, engine.WithSnapshotStore(cache.NewSnapshotStore(rdb, cfg.Redis.SnapshotTTL, cfg.Redis.CompressionMin)))
	}

	var feed marketdata.Subscriber
	switch cfg.Publisher.Backend {
	case "redis":
		p := marketdata.NewRedisPublisher(rdb, cfg.Redis.ChannelPrefix)
		sinks, feed = append(sinks, p), p
	case "kafka":
		p := marketdata.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, zapLogger)
		sinks, feed = append(sinks, p), p
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			zapLogger.Error("failed to close publishers", zap.Error(err))
		}
	}()
	opts = append(opts, engine.WithPublisher(sinks))

	eng := engine.New(cfg.EngineConfig(),
		registry.New(cfg.RegistryConfig(), zapLogger),
		processor, detector, zapLogger, opts...)

	warm, err := cfg.WarmKeys()
	if err != nil {
		return err
	}
	if _, err := eng.Warm(ctx, warm); err != nil {
		zapLogger.Warn("failed to warm books", zap.Error(err))
	}

	// Fee tables and log level follow the config file without a restart.
	loader.OnReload(func(_, next *config.Config) error {
		rates, err := next.Fees.Rates()
		if err != nil {
			return err
		}
		detector.ReplaceFees(rates)
		atom.SetLevel(logger.ParseLevel(next.Logging.Level))
		zapLogger.Info("fee table reloaded", zap.Int("venues", len(rates)))
		return nil
	})
	loader.Watch()

	server := api.NewServer(api.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ServiceName:    cfg.Telemetry.ServiceName,
	}, zapLogger, eng, hub)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	if cfg.Ingest.Enabled && feed != nil {
		consumer := marketdata.NewFeedConsumer(feed, eng, zapLogger)
		if err := consumer.Run(gctx, cfg.Ingest.Topic); err != nil {
			return fmt.Errorf("failed to subscribe to feed topic %s: %w", cfg.Ingest.Topic, err)
		}
		zapLogger.Info("consuming book feed", zap.String("topic", cfg.Ingest.Topic))
	}
	g.Go(func() error {
		return server.Start(fmt.Sprintf(":%d", cfg.Server.Port))
	})
	g.Go(func() error {
		<-gctx.Done()
		zapLogger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			zapLogger.Error("failed to shut down API server", zap.Error(err))
		}
		return hub.Shutdown()
	})
	return g.Wait()
}

// hubSink lets the websocket hub sit in a MultiPublisher. The hub is shut
// down explicitly, so Close is a no-op.
type hubSink struct{ *ws.Hub }

func (hubSink) Close() error { return nil }
