package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Docstore DocstoreConfig `mapstructure:"docstore"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Type                   string `mapstructure:"type"` // "sqlite", "postgres", or "sqlserver"
	DSN                    string `mapstructure:"dsn"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `mapstructure:"conn_max_lifetime_seconds"`
}

// TierConfig defines the policy for one priority tier's queue
type TierConfig struct {
	MaxBatch                int `mapstructure:"max_batch"`                 // messages per dequeue
	BatchingDelaySeconds    int `mapstructure:"batching_delay_seconds"`   // wait to fill a batch
	VisibilityWindowSeconds int `mapstructure:"visibility_window_seconds"` // redelivery deadline
	MaxReceiveCount         int `mapstructure:"max_receive_count"`        // dead-letter threshold
}

// QueueConfig defines the durable priority queue set configuration
type QueueConfig struct {
	High                TierConfig `mapstructure:"high"`
	Normal              TierConfig `mapstructure:"normal"`
	Low                 TierConfig `mapstructure:"low"`
	MaxMessageBytes     int        `mapstructure:"max_message_bytes"`
	PollIntervalSeconds int        `mapstructure:"poll_interval_seconds"` // long-poll check interval
}

// WorkerConfig defines worker pool configuration
type WorkerConfig struct {
	HighConcurrency   int `mapstructure:"high_concurrency"`
	NormalConcurrency int `mapstructure:"normal_concurrency"`
	LowConcurrency    int `mapstructure:"low_concurrency"`
	GlobalConcurrency int `mapstructure:"global_concurrency"` // cap across all tiers
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds"`
}

// BatchConfig defines orchestrator configuration
type BatchConfig struct {
	TimeoutMinutes       int `mapstructure:"timeout_minutes"`        // batch-level deadline
	RetentionDays        int `mapstructure:"retention_days"`         // terminal batch retention
	SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes"` // retention sweep cadence
}

// AnalysisConfig defines the analysis capability boundary
type AnalysisConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DocstoreConfig defines the document store boundary
type DocstoreConfig struct {
	Type    string `mapstructure:"type"` // "file" or "http"
	Root    string `mapstructure:"root"` // base directory for the file store
	BaseURL string `mapstructure:"base_url"`
}

// NotifyConfig defines the terminal-state notification boundary
type NotifyConfig struct {
	WebhookURL     string `mapstructure:"webhook_url"` // empty disables the webhook notifier
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // "debug", "info", "warn", "error"
	Format     string `mapstructure:"format"` // "json" or "text"
	OutputFile string `mapstructure:"output_file"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Environment variable support
	viper.SetEnvPrefix("DOCA")
	// Replace dots with underscores in config keys when looking for env vars
	// This allows queue.high.max_receive_count -> DOCA_QUEUE_HIGH_MAX_RECEIVE_COUNT
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults plus env vars apply
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.type", "sqlite")
	viper.SetDefault("database.dsn", "./data/analyzer.db")

	// Tier policy: higher priority gets lower latency and no batching
	// delay; lower priority batches aggressively.
	viper.SetDefault("queue.high.max_batch", 1)
	viper.SetDefault("queue.high.batching_delay_seconds", 0)
	viper.SetDefault("queue.high.visibility_window_seconds", 900)
	viper.SetDefault("queue.high.max_receive_count", 3)
	viper.SetDefault("queue.normal.max_batch", 5)
	viper.SetDefault("queue.normal.batching_delay_seconds", 5)
	viper.SetDefault("queue.normal.visibility_window_seconds", 900)
	viper.SetDefault("queue.normal.max_receive_count", 3)
	viper.SetDefault("queue.low.max_batch", 10)
	viper.SetDefault("queue.low.batching_delay_seconds", 10)
	viper.SetDefault("queue.low.visibility_window_seconds", 900)
	viper.SetDefault("queue.low.max_receive_count", 3)
	viper.SetDefault("queue.max_message_bytes", 262144)
	viper.SetDefault("queue.poll_interval_seconds", 1)

	viper.SetDefault("worker.high_concurrency", 4)
	viper.SetDefault("worker.normal_concurrency", 4)
	viper.SetDefault("worker.low_concurrency", 2)
	viper.SetDefault("worker.global_concurrency", 8)
	viper.SetDefault("worker.job_timeout_seconds", 300)

	viper.SetDefault("batch.timeout_minutes", 120)
	viper.SetDefault("batch.retention_days", 30)
	viper.SetDefault("batch.sweep_interval_minutes", 60)

	viper.SetDefault("analysis.timeout_seconds", 300)
	viper.SetDefault("docstore.type", "file")
	viper.SetDefault("docstore.root", "./data/documents")
	viper.SetDefault("notify.timeout_seconds", 10)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_file", "./logs/analyzer.log")
	viper.SetDefault("logging.max_size", 100)
	viper.SetDefault("logging.max_backups", 3)
	viper.SetDefault("logging.max_age", 28)
}

// Validate checks configuration invariants that would otherwise surface as
// runtime faults deep inside the queue or worker pool.
func (c *Config) Validate() error {
	for _, tier := range []struct {
		name string
		cfg  TierConfig
	}{
		{"high", c.Queue.High},
		{"normal", c.Queue.Normal},
		{"low", c.Queue.Low},
	} {
		if tier.cfg.MaxBatch <= 0 {
			return fmt.Errorf("queue.%s.max_batch must be positive", tier.name)
		}
		if tier.cfg.VisibilityWindowSeconds <= 0 {
			return fmt.Errorf("queue.%s.visibility_window_seconds must be positive", tier.name)
		}
		if tier.cfg.MaxReceiveCount <= 0 {
			return fmt.Errorf("queue.%s.max_receive_count must be positive", tier.name)
		}
	}
	if c.Worker.GlobalConcurrency <= 0 {
		return fmt.Errorf("worker.global_concurrency must be positive")
	}
	if c.Worker.JobTimeoutSeconds <= 0 {
		return fmt.Errorf("worker.job_timeout_seconds must be positive")
	}
	if c.Batch.TimeoutMinutes <= 0 {
		return fmt.Errorf("batch.timeout_minutes must be positive")
	}
	return nil
}

// Tier returns the TierConfig for the named priority tier.
func (q QueueConfig) Tier(name string) TierConfig {
	switch name {
	case "high":
		return q.High
	case "low":
		return q.Low
	default:
		return q.Normal
	}
}

// BatchTimeout returns the batch-level deadline as a duration.
func (b BatchConfig) BatchTimeout() time.Duration {
	return time.Duration(b.TimeoutMinutes) * time.Minute
}

// JobTimeout returns the per-job execution deadline as a duration.
func (w WorkerConfig) JobTimeout() time.Duration {
	return time.Duration(w.JobTimeoutSeconds) * time.Second
}
