package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// StoreConfig selects and locates the subscription store.
type StoreConfig struct {
	Driver      string
	SQLitePath  string
	DatabaseURL string
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	Store StoreConfig

	// WeatherAPI.com provider configuration.
	WeatherAPIKey     string
	WeatherAPITimeout time.Duration
	WeatherCacheTTL   time.Duration
	WeatherCacheSize  int

	// Web Push (VAPID) configuration.
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
	PushTTL         time.Duration

	DeliveryConcurrency int
	CyclePeriod         time.Duration

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	// Delivery outcome stream.
	KafkaEnabled      bool
	KafkaBrokers      []string
	KafkaOutcomeTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	store, err := LoadStore()
	if err != nil {
		return nil, err
	}

	weatherTimeout, err := parsePositiveDuration("WEATHERAPI_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parsePositiveDuration("WEATHER_CACHE_TTL", "10m")
	if err != nil {
		return nil, err
	}
	pushTTL, err := parsePositiveDuration("PUSH_TTL", "1h")
	if err != nil {
		return nil, err
	}
	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	cyclePeriod, err := parsePositiveDuration("CYCLE_PERIOD", "2h")
	if err != nil {
		return nil, err
	}
	if cyclePeriod%time.Hour != 0 || (24*time.Hour)%cyclePeriod != 0 {
		return nil, errors.New("CYCLE_PERIOD must be a whole number of hours that divides 24h")
	}

	concurrency, err := parsePositiveInt("DELIVERY_CONCURRENCY", 8)
	if err != nil {
		return nil, err
	}
	weatherCacheSize, err := parsePositiveInt("WEATHER_CACHE_SIZE", 500)
	if err != nil {
		return nil, err
	}
	mapboxCacheSize, err := parsePositiveInt("MAPBOX_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		Store:           store,

		WeatherAPIKey:     os.Getenv("WEATHERAPI_KEY"),
		WeatherAPITimeout: weatherTimeout,
		WeatherCacheTTL:   cacheTTL,
		WeatherCacheSize:  weatherCacheSize,

		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:    sharedcfg.EnvOrDefault("VAPID_SUBJECT", "mailto:alerts@example.com"),
		PushTTL:         pushTTL,

		DeliveryConcurrency: concurrency,
		CyclePeriod:         cyclePeriod,

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: mapboxCacheSize,

		KafkaEnabled:      os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:      sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaOutcomeTopic: sharedcfg.EnvOrDefault("KAFKA_OUTCOME_TOPIC", "weather-push-outcomes"),
	}

	if cfg.WeatherAPIKey == "" {
		return nil, errors.New("WEATHERAPI_KEY is required")
	}
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil, errors.New("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY are required")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
	}
	if cfg.KafkaEnabled && cfg.KafkaOutcomeTopic == "" {
		return nil, errors.New("KAFKA_OUTCOME_TOPIC is required when KAFKA_ENABLED is true")
	}

	return cfg, nil
}

// LoadStore reads only the subscription store settings. Operator tools that
// never contact the weather provider or push services use it directly.
func LoadStore() (StoreConfig, error) {
	store := StoreConfig{
		Driver:      sharedcfg.EnvOrDefault("STORE_DRIVER", DriverSQLite),
		SQLitePath:  sharedcfg.EnvOrDefault("SQLITE_PATH", "notifier.db"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
	}

	switch store.Driver {
	case DriverSQLite, DriverMemory:
	case DriverPostgres:
		if store.DatabaseURL == "" {
			return StoreConfig{}, errors.New("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER %q", store.Driver)
	}
	return store, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}
