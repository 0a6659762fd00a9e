package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds shared runtime configuration for the tailer, worker and single-process binaries.
type Config struct {
	Env           string `env:"APP_ENV" envDefault:"dev"`
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	WorkerID      string `env:"WORKER_ID"`

	LeaseTTL           time.Duration `env:"LEASE_TTL" envDefault:"10m"`
	LeaseRenewInterval time.Duration `env:"LEASE_RENEW_INTERVAL"`
	LeasePrefix        string        `env:"LEASE_PREFIX" envDefault:"compressing:"`

	LogChannel      string `env:"LOG_CHANNEL" envDefault:"compression_logs"`
	ProgressPrefix  string `env:"PROGRESS_PREFIX" envDefault:"compression_progress:"`
	ProgressHistory int    `env:"PROGRESS_HISTORY" envDefault:"10"`

	ArtifactSuffix   string   `env:"ARTIFACT_SUFFIX" envDefault:".zst"`
	CompressorBin    string   `env:"COMPRESSOR_BIN" envDefault:"zstd"`
	CompressorArgs   []string `env:"COMPRESSOR_ARGS" envDefault:"-f,--ultra,-22,--progress"`
	DecompressorArgs []string `env:"DECOMPRESSOR_ARGS" envDefault:"-c,-d"`
	HashBin          string   `env:"HASH_BIN" envDefault:"sha1sum"`
	VerifyMode       string   `env:"VERIFY_MODE" envDefault:"exec"`
	HashAlgo         string   `env:"HASH_ALGO" envDefault:"sha1"`

	BackoffInitial     time.Duration `env:"BACKOFF_INITIAL" envDefault:"1s"`
	BackoffMax         time.Duration `env:"BACKOFF_MAX" envDefault:"1h"`
	MaxAttempts        int           `env:"MAX_ATTEMPTS" envDefault:"0"`
	VisibilityTimeout  time.Duration `env:"VISIBILITY_TIMEOUT" envDefault:"5m"`
	WorkerPollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"1s"`
	WorkerConcurrency  int           `env:"WORKER_CONCURRENCY" envDefault:"1"`
	ScheduledBatchSize int           `env:"SCHEDULED_BATCH_SIZE" envDefault:"100"`
	QueuePrefix        string        `env:"QUEUE_PREFIX" envDefault:"compress:"`

	MaxConcurrent int   `env:"MAX_CONCURRENT" envDefault:"10"`
	MinFileSize   int64 `env:"MIN_FILE_SIZE" envDefault:"0"`

	TailPollMin   time.Duration `env:"TAIL_POLL_MIN" envDefault:"100ms"`
	TailPollMax   time.Duration `env:"TAIL_POLL_MAX" envDefault:"1s"`
	TailFromStart bool          `env:"TAIL_FROM_START" envDefault:"false"`

	DispatchRateCapacity int     `env:"DISPATCH_RATE_CAPACITY" envDefault:"0"`
	DispatchRateRefill   float64 `env:"DISPATCH_RATE_REFILL" envDefault:"10"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogFile   string `env:"LOG_FILE"`
}

// Load reads configuration from environment variables with defaults suitable for local development.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Normalize(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Normalize fills derived defaults and rejects inconsistent settings.
func (c *Config) Normalize() error {
	if c.LeaseTTL <= 0 {
		return errors.New("LEASE_TTL must be positive")
	}
	if c.LeaseRenewInterval == 0 {
		c.LeaseRenewInterval = c.LeaseTTL / 10
	}
	if c.LeaseRenewInterval <= 0 || c.LeaseRenewInterval >= c.LeaseTTL {
		return fmt.Errorf("LEASE_RENEW_INTERVAL %s must be positive and shorter than LEASE_TTL %s", c.LeaseRenewInterval, c.LeaseTTL)
	}
	if c.BackoffInitial <= 0 || c.BackoffMax < c.BackoffInitial {
		return fmt.Errorf("backoff window invalid: initial=%s max=%s", c.BackoffInitial, c.BackoffMax)
	}
	if c.MaxConcurrent < 1 {
		return errors.New("MAX_CONCURRENT must be at least 1")
	}
	if c.WorkerConcurrency < 1 {
		c.WorkerConcurrency = 1
	}
	if c.ProgressHistory < 1 {
		c.ProgressHistory = 10
	}
	if c.TailPollMin <= 0 {
		c.TailPollMin = 100 * time.Millisecond
	}
	if c.TailPollMax < c.TailPollMin {
		c.TailPollMax = c.TailPollMin
	}
	switch c.VerifyMode {
	case "exec", "native":
	default:
		return fmt.Errorf("VERIFY_MODE %q must be exec or native", c.VerifyMode)
	}
	switch c.HashAlgo {
	case "sha1", "blake3":
	default:
		return fmt.Errorf("HASH_ALGO %q must be sha1 or blake3", c.HashAlgo)
	}
	return nil
}
