package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Service holds process-level settings
type Service struct {
	Environment string `envconfig:"SERVICE_ENVIRONMENT" required:"true"`
	APIPort     string `envconfig:"SERVICE_API_PORT" default:"8080"`
	Host        string `envconfig:"SERVICE_HOST" default:"localhost:8080"`
}

// Valkey holds deduplication store settings
type Valkey struct {
	Host           string        `envconfig:"VALKEY_HOST" required:"true"`
	Port           string        `envconfig:"VALKEY_PORT" default:"6379"`
	Password       string        `envconfig:"VALKEY_PASSWORD" default:""`
	DB             int           `envconfig:"VALKEY_DB" default:"0"`
	DedupWindow    time.Duration `envconfig:"VALKEY_DEDUP_WINDOW" default:"30s"`
	DedupKeyBucket time.Duration `envconfig:"VALKEY_DEDUP_KEY_BUCKET" default:"10s"`
	DedupFailOpen  bool          `envconfig:"VALKEY_DEDUP_FAIL_OPEN" default:"true"`
}

// ClickHouse holds analytics store settings
type ClickHouse struct {
	Host            string `envconfig:"CLICKHOUSE_HOST" required:"true"`
	Port            string `envconfig:"CLICKHOUSE_PORT" required:"true"`
	Database        string `envconfig:"CLICKHOUSE_DB" required:"true"`
	User            string `envconfig:"CLICKHOUSE_USER" default:""`
	Password        string `envconfig:"CLICKHOUSE_PASSWORD" default:""`
	UseTLS          bool   `envconfig:"CLICKHOUSE_USE_TLS" default:"false"`
	MaxOpenConns    int    `envconfig:"CLICKHOUSE_MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int    `envconfig:"CLICKHOUSE_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime int    `envconfig:"CLICKHOUSE_CONN_MAX_LIFETIME_SEC" default:"3600"`
}

// SQS holds dead-letter queue settings. An empty queue URL disables the
// SQS sink and failed batches are logged instead.
type SQS struct {
	Endpoint string `envconfig:"SQS_ENDPOINT"`
	QueueURL string `envconfig:"SQS_DLQ_URL"`
	Region   string `envconfig:"SQS_REGION" default:"eu-central-1"`
}

// Pipeline holds batching writer settings
type Pipeline struct {
	MaxBatchSize    int           `envconfig:"PIPELINE_MAX_BATCH_SIZE" default:"1000"`
	MaxBatchAge     time.Duration `envconfig:"PIPELINE_MAX_BATCH_AGE" default:"1s"`
	IntakeCapacity  int           `envconfig:"PIPELINE_INTAKE_CAPACITY" default:"10000"`
	FlushMaxRetries int           `envconfig:"PIPELINE_FLUSH_MAX_RETRIES" default:"5"`
	FlushRetryBase  time.Duration `envconfig:"PIPELINE_FLUSH_RETRY_BASE" default:"100ms"`
	FlushRetryCap   time.Duration `envconfig:"PIPELINE_FLUSH_RETRY_CAP" default:"5s"`
	DrainTimeout    time.Duration `envconfig:"PIPELINE_DRAIN_TIMEOUT" default:"5s"`
}

// Attribution holds purchase-attribution settings
type Attribution struct {
	LookbackWindow time.Duration `envconfig:"ATTRIBUTION_LOOKBACK_WINDOW" default:"720h"`
	RetryDelay     time.Duration `envconfig:"ATTRIBUTION_RETRY_DELAY" default:"2s"`
}

// Geo holds IP-to-country resolver settings. An empty endpoint disables
// resolution and all events persist with the unknown-country sentinel.
type Geo struct {
	Endpoint string        `envconfig:"GEO_ENDPOINT"`
	Timeout  time.Duration `envconfig:"GEO_TIMEOUT" default:"300ms"`
}

type Config struct {
	Service     Service
	Valkey      Valkey
	ClickHouse  ClickHouse
	SQS         SQS
	Pipeline    Pipeline
	Attribution Attribution
	Geo         Geo
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}
