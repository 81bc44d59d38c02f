package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/weather-push-notifier/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/weather-push-notifier/internal/adapter/kafka"
	"github.com/couchcryptid/weather-push-notifier/internal/adapter/mapbox"
	"github.com/couchcryptid/weather-push-notifier/internal/adapter/memstore"
	"github.com/couchcryptid/weather-push-notifier/internal/adapter/sqlstore"
	"github.com/couchcryptid/weather-push-notifier/internal/adapter/weatherapi"
	"github.com/couchcryptid/weather-push-notifier/internal/adapter/webpush"
	"github.com/couchcryptid/weather-push-notifier/internal/config"
	"github.com/couchcryptid/weather-push-notifier/internal/delivery"
	"github.com/couchcryptid/weather-push-notifier/internal/domain"
	"github.com/couchcryptid/weather-push-notifier/internal/observability"
	"github.com/couchcryptid/weather-push-notifier/internal/registration"
	"github.com/couchcryptid/weather-push-notifier/internal/scheduler"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
)

// subscriptionStore is a repository that can also report readiness.
type subscriptionStore interface {
	domain.SubscriptionRepository
	CheckReadiness(ctx context.Context) error
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Error("failed to open subscription store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	logger.Info("subscription store opened", "driver", cfg.Store.Driver)

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	weather := weatherapi.NewClient(cfg.WeatherAPIKey, cfg.WeatherAPITimeout, metrics, logger,
		weatherapi.WithGeocoder(geocoder),
		weatherapi.WithClock(clock),
	)
	provider := weatherapi.NewCachedProvider(weather, cfg.WeatherCacheSize, cfg.WeatherCacheTTL, clock, metrics)

	channel := webpush.NewChannel(webpush.Config{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subject:         cfg.VAPIDSubject,
		TTL:             cfg.PushTTL,
	}, logger)

	opts := []delivery.Option{
		delivery.WithClock(clock),
		delivery.WithConcurrency(cfg.DeliveryConcurrency),
	}
	var publisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled {
		publisher = kafkaadapter.NewPublisher(cfg, logger)
		opts = append(opts, delivery.WithPublisher(publisher))
		logger.Info("delivery outcome stream enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaOutcomeTopic)
	}
	coord := delivery.NewCoordinator(store, provider, channel, logger, metrics, opts...)

	sched := scheduler.New(func(ctx context.Context) error {
		_, err := coord.RunCycle(ctx)
		return err
	}, clock, cfg.CyclePeriod, logger, metrics)

	svc := registration.NewService(store, provider, coord, clock, logger, metrics)
	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, store, cfg.VAPIDPublicKey, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	// Start the notification cadence.
	if err := sched.Start(ctx); err != nil {
		logger.Error("scheduler start error", "error", err)
		stop()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler stop error", "error", err)
	}
	if err := svc.Wait(shutdownCtx); err != nil {
		logger.Error("initial deliveries did not finish", "error", err)
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}
	if closer, ok := store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logger.Error("subscription store close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg config.StoreConfig) (subscriptionStore, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memstore.New(), nil
	case config.DriverSQLite:
		return sqlstore.Open(ctx, sqlstore.DriverSQLite, cfg.SQLitePath)
	case config.DriverPostgres:
		return sqlstore.Open(ctx, sqlstore.DriverPostgres, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
