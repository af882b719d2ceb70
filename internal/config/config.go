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

// Job store backends.
const (
	JobStoreMemory   = "memory"
	JobStorePostgres = "postgres"
)

// Config holds all worker settings, populated from environment variables.
type Config struct {
	KafkaBrokers      []string
	KafkaRequestTopic string
	KafkaEventTopic   string
	KafkaGroupID      string
	HTTPAddr          string
	LogLevel          string
	LogFormat         string
	ShutdownTimeout   time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration
	Concurrency        int

	// Job store.
	JobStore    string
	DatabaseURL string

	// Source catalog.
	SourceRoot       string
	CatalogCacheSize int

	// Artifact object store.
	MinIO MinIOConfig
}

// MinIOConfig holds the artifact bucket connection settings.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// Validate checks the MinIO settings.
func (c MinIOConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Endpoint) == "" {
		errs = append(errs, errors.New("MINIO_ENDPOINT is required"))
	}
	if strings.Contains(c.Endpoint, "://") {
		errs = append(errs, fmt.Errorf("MINIO_ENDPOINT must not include scheme: %q", c.Endpoint))
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		errs = append(errs, errors.New("MINIO_ACCESS_KEY is required"))
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		errs = append(errs, errors.New("MINIO_SECRET_KEY is required"))
	}
	if strings.TrimSpace(c.Bucket) == "" {
		errs = append(errs, errors.New("MINIO_BUCKET is required"))
	}
	return errors.Join(errs...)
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

	minioCfg, err := LoadMinIO()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaRequestTopic:  sharedcfg.EnvOrDefault("KAFKA_REQUEST_TOPIC", "export-requests"),
		KafkaEventTopic:    sharedcfg.EnvOrDefault("KAFKA_EVENT_TOPIC", "export-events"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "snow-forcing-worker"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
		Concurrency:        parsePositiveInt("WORKER_CONCURRENCY", 2),

		JobStore:    strings.ToLower(sharedcfg.EnvOrDefault("JOB_STORE", JobStoreMemory)),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		SourceRoot:       sharedcfg.EnvOrDefault("SOURCE_ROOT", "./data/sources"),
		CatalogCacheSize: parsePositiveInt("CATALOG_CACHE_SIZE", 64),

		MinIO: minioCfg,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadMinIO reads the artifact bucket settings from MINIO_* environment
// variables. Validation is left to the caller.
func LoadMinIO() (MinIOConfig, error) {
	useSSL, err := parseBool("MINIO_USE_SSL", false)
	if err != nil {
		return MinIOConfig{}, err
	}
	return MinIOConfig{
		Endpoint:  sharedcfg.EnvOrDefault("MINIO_ENDPOINT", "localhost:9000"),
		AccessKey: sharedcfg.EnvOrDefault("MINIO_ACCESS_KEY", "minioadmin"),
		SecretKey: sharedcfg.EnvOrDefault("MINIO_SECRET_KEY", "minioadmin"),
		Region:    sharedcfg.EnvOrDefault("MINIO_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    sharedcfg.EnvOrDefault("MINIO_BUCKET", "snow-forcing"),
		Prefix:    strings.Trim(os.Getenv("MINIO_PREFIX"), "/"),
	}, nil
}

// LoadBackend reads the jobs API client settings from BACKEND_* environment
// variables. cmd/prepare uses it when no run file is given.
func LoadBackend() (BackendConfig, error) {
	timeout, err := parseDuration("BACKEND_TIMEOUT", "30s")
	if err != nil {
		return BackendConfig{}, err
	}
	breakerOpen, err := parseDuration("BACKEND_BREAKER_TIMEOUT", "30s")
	if err != nil {
		return BackendConfig{}, err
	}
	return BackendConfig{
		URL:             sharedcfg.EnvOrDefault("BACKEND_URL", "http://localhost:8080"),
		Timeout:         timeout,
		BreakerFailures: parsePositiveInt("BACKEND_BREAKER_FAILURES", 5),
		BreakerTimeout:  breakerOpen,
	}, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required"))
	}
	if c.KafkaRequestTopic == "" {
		errs = append(errs, errors.New("KAFKA_REQUEST_TOPIC is required"))
	}
	if c.KafkaEventTopic == "" {
		errs = append(errs, errors.New("KAFKA_EVENT_TOPIC is required"))
	}
	switch c.JobStore {
	case JobStoreMemory:
	case JobStorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("JOB_STORE is postgres but DATABASE_URL is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("JOB_STORE must be %q or %q, got %q", JobStoreMemory, JobStorePostgres, c.JobStore))
	}
	if err := c.MinIO.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func parseDuration(key, fallback string) (time.Duration, error) {
	s := sharedcfg.EnvOrDefault(key, fallback)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parseBool(key string, fallback bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", key, s)
	}
	return b, nil
}

func parsePositiveInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
