package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// AdminToken is the bearer token operators present. Empty disables
	// operator access entirely.
	AdminToken  string
	LexiconPath string

	StoreBackend string
	DatabaseURL  string

	HubQueueSize    int
	StreamKeepAlive time.Duration

	KafkaBrokers       []string
	KafkaGroupID       string
	KafkaIngestEnabled bool
	KafkaReportsTopic  string
	KafkaEventsEnabled bool
	KafkaEventsTopic   string

	BatchSize          int
	BatchFlushInterval time.Duration

	// Mapbox reverse geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// KafkaEnabled reports whether any Kafka binding is switched on.
func (c *Config) KafkaEnabled() bool {
	return c.KafkaIngestEnabled || c.KafkaEventsEnabled
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	keepAlive, err := parsePositiveDuration("STREAM_KEEPALIVE", "20s")
	if err != nil {
		return nil, err
	}

	queueSize, err := parsePositiveInt("HUB_QUEUE_SIZE", 200)
	if err != nil {
		return nil, err
	}

	ingest, err := parseBool("KAFKA_INGEST_ENABLED", false)
	if err != nil {
		return nil, err
	}
	events, err := parseBool("KAFKA_EVENTS_ENABLED", false)
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

		AdminToken:  os.Getenv("ADMIN_TOKEN"),
		LexiconPath: os.Getenv("LEXICON_PATH"),

		StoreBackend: strings.ToLower(sharedcfg.EnvOrDefault("STORE_BACKEND", StoreMemory)),
		DatabaseURL:  os.Getenv("DATABASE_URL"),

		HubQueueSize:    queueSize,
		StreamKeepAlive: keepAlive,

		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "alertify"),
		KafkaIngestEnabled: ingest,
		KafkaReportsTopic:  sharedcfg.EnvOrDefault("KAFKA_REPORTS_TOPIC", "citizen-reports"),
		KafkaEventsEnabled: events,
		KafkaEventsTopic:   sharedcfg.EnvOrDefault("KAFKA_EVENTS_TOPIC", "incident-events"),

		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),
	}

	switch cfg.StoreBackend {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("STORE_BACKEND is postgres but DATABASE_URL is not set")
		}
	default:
		return nil, fmt.Errorf("invalid STORE_BACKEND %q", cfg.StoreBackend)
	}
	if cfg.KafkaEnabled() && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaIngestEnabled && cfg.KafkaReportsTopic == "" {
		return nil, errors.New("KAFKA_REPORTS_TOPIC is required")
	}
	if cfg.KafkaEventsEnabled && cfg.KafkaEventsTopic == "" {
		return nil, errors.New("KAFKA_EVENTS_TOPIC is required")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	return cfg, nil
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
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
