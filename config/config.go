package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
)

type (
	Config struct {
		HTTP        HTTP
		Log         Log
		Store       Store
		PG          PG
		SQLite      SQLite
		Redis       Redis
		Queue       Queue
		Pool        Pool
		Reporter    Reporter
		Kafka       Kafka
		KafkaIngest KafkaIngest
		Relay       Relay
		S3          S3
		Dispatch    Dispatch
		Metrics     Metrics
	}

	HTTP struct {
		Port            string        `env:"HTTP_PORT" envDefault:"8080"`
		UsePreforkMode  bool          `env:"HTTP_USE_PREFORK_MODE" envDefault:"false"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"5s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"3s"`
		BodyLimit       int           `env:"HTTP_BODY_LIMIT" envDefault:"1048576" validate:"min=1"`
	}

	Log struct {
		Level string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	}

	Store struct {
		Driver      string `env:"STORE_DRIVER" envDefault:"postgres" validate:"oneof=postgres sqlite redis"`
		AutoMigrate bool   `env:"STORE_AUTO_MIGRATE" envDefault:"true"`
	}

	PG struct {
		PoolMax int    `env:"PG_POOL_MAX" envDefault:"10" validate:"min=1"`
		URL     string `env:"PG_URL"`
	}

	SQLite struct {
		Path         string        `env:"SQLITE_PATH" envDefault:"events.db"`
		BusyTimeout  time.Duration `env:"SQLITE_BUSY_TIMEOUT" envDefault:"5s"`
		MaxOpenConns int           `env:"SQLITE_MAX_OPEN_CONNS" envDefault:"4" validate:"min=1"`
	}

	Redis struct {
		Addr      string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
		Password  string `env:"REDIS_PASSWORD"`
		DB        int    `env:"REDIS_DB" envDefault:"0"`
		PoolSize  int    `env:"REDIS_POOL_SIZE" envDefault:"10" validate:"min=1"`
		KeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"eq"`
	}

	Queue struct {
		Lease         time.Duration `env:"QUEUE_LEASE" envDefault:"300s" validate:"gt=0"`
		MaxRetries    int           `env:"QUEUE_MAX_RETRIES" envDefault:"3" validate:"min=1"`
		BackoffBase   time.Duration `env:"QUEUE_BACKOFF_BASE" envDefault:"10s" validate:"gt=0"`
		BackoffCap    time.Duration `env:"QUEUE_BACKOFF_CAP" envDefault:"300s" validate:"gtefield=BackoffBase"`
		ClaimAttempts int           `env:"QUEUE_CLAIM_ATTEMPTS" envDefault:"8" validate:"min=1"`
	}

	Pool struct {
		Size          int           `env:"POOL_SIZE" envDefault:"5" validate:"min=1"`
		PollInterval  time.Duration `env:"POOL_POLL_INTERVAL" envDefault:"1s" validate:"gt=0"`
		IdleWarnAfter time.Duration `env:"POOL_IDLE_WARN_AFTER" envDefault:"10m"`
		StopTimeout   time.Duration `env:"POOL_STOP_TIMEOUT" envDefault:"30s" validate:"gt=0"`
		InstanceID    string        `env:"POOL_INSTANCE_ID" validate:"max=80"`
	}

	Reporter struct {
		StatsInterval   time.Duration `env:"REPORTER_STATS_INTERVAL" envDefault:"1m"`
		GaugeInterval   time.Duration `env:"REPORTER_GAUGE_INTERVAL" envDefault:"15s"`
		StatsTimeout    time.Duration `env:"REPORTER_STATS_TIMEOUT" envDefault:"5s"`
		ShutdownTimeout time.Duration `env:"REPORTER_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	}

	Kafka struct {
		Brokers      []string      `env:"KAFKA_BROKERS"`
		ConnAttempts int           `env:"KAFKA_CONN_ATTEMPTS" envDefault:"10"`
		ConnTimeout  time.Duration `env:"KAFKA_CONN_TIMEOUT" envDefault:"1s"`
	}

	KafkaIngest struct {
		Enabled         bool          `env:"KAFKA_INGEST_ENABLED" envDefault:"false"`
		Topic           string        `env:"KAFKA_INGEST_TOPIC" envDefault:"events.ingest"`
		GroupID         string        `env:"KAFKA_INGEST_GROUP_ID" envDefault:"event-queue"`
		DefaultType     string        `env:"KAFKA_INGEST_DEFAULT_TYPE" envDefault:"ingested" validate:"max=50"`
		InsertTimeout   time.Duration `env:"KAFKA_INGEST_INSERT_TIMEOUT" envDefault:"5s"`
		CommitTimeout   time.Duration `env:"KAFKA_INGEST_COMMIT_TIMEOUT" envDefault:"2s"`
		RetryBackoff    time.Duration `env:"KAFKA_INGEST_RETRY_BACKOFF" envDefault:"1s"`
		MaxWait         time.Duration `env:"KAFKA_INGEST_MAX_WAIT" envDefault:"1s"`
		MaxBytes        int           `env:"KAFKA_INGEST_MAX_BYTES" envDefault:"10000000" validate:"min=1"`
		ShutdownTimeout time.Duration `env:"KAFKA_INGEST_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	}

	Relay struct {
		Topic        string        `env:"RELAY_TOPIC" envDefault:"events.relay" validate:"required"`
		BatchTimeout time.Duration `env:"RELAY_BATCH_TIMEOUT" envDefault:"10ms"`
	}

	S3 struct {
		Endpoint       string        `env:"S3_ENDPOINT"`
		AccessKey      string        `env:"S3_ACCESS_KEY"`
		SecretKey      string        `env:"S3_SECRET_KEY"`
		Bucket         string        `env:"S3_BUCKET" envDefault:"events"`
		Region         string        `env:"S3_REGION" envDefault:"us-east-1"`
		CreateBucket   bool          `env:"S3_CREATE_BUCKET" envDefault:"false"`
		CfgLoadTimeout time.Duration `env:"S3_LOAD_CFG_TIMEOUT" envDefault:"10s"`
	}

	// Dispatch lists the event types bound to each built-in handler.
	Dispatch struct {
		RelayTypes   []string `env:"DISPATCH_RELAY_TYPES"`
		ArchiveTypes []string `env:"DISPATCH_ARCHIVE_TYPES"`
		NoopTypes    []string `env:"DISPATCH_NOOP_TYPES"`
	}

	Metrics struct {
		Enabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
		Path    string `env:"METRICS_PATH" envDefault:"/metrics"`
	}
)

func New() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	var problems []error

	if c.Store.Driver == DriverPostgres && c.PG.URL == "" {
		problems = append(problems, errors.New("PG_URL is required for the postgres store"))
	}
	if len(c.Dispatch.RelayTypes) > 0 && len(c.Kafka.Brokers) == 0 {
		problems = append(problems, errors.New("KAFKA_BROKERS is required when DISPATCH_RELAY_TYPES is set"))
	}
	if c.KafkaIngest.Enabled && len(c.Kafka.Brokers) == 0 {
		problems = append(problems, errors.New("KAFKA_BROKERS is required when KAFKA_INGEST_ENABLED is set"))
	}
	if len(c.Dispatch.ArchiveTypes) > 0 && c.S3.Endpoint == "" {
		problems = append(problems, errors.New("S3_ENDPOINT is required when DISPATCH_ARCHIVE_TYPES is set"))
	}

	return errors.Join(problems...)
}
