package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Backend selects which store implementation the server wires.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

// Config is the full server configuration, read from CHECKPOINT_* environment variables.
type Config struct {
	Server      Server
	Database    DatabaseConfig
	Redis       RedisConfig
	Console     ConsoleConfig
	Idempotency IdempotencyConfig
	Throttle    ThrottleConfig
	Notify      NotifyConfig
	Tracing     TracingConfig
	Offline     OfflineConfig

	// Backend selects storage for registrations. Guards follow GuardBackend.
	Backend      Backend `env:"CHECKPOINT_BACKEND" envDefault:"memory"`
	GuardBackend Backend `env:"CHECKPOINT_GUARD_BACKEND" envDefault:"memory"`
	LogLevel     string  `env:"CHECKPOINT_LOG_LEVEL" envDefault:"info"`
	SeedDemo     bool    `env:"CHECKPOINT_SEED_DEMO" envDefault:"true"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"CHECKPOINT_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"CHECKPOINT_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	ReadTimeout     time.Duration `env:"CHECKPOINT_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"CHECKPOINT_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"CHECKPOINT_IDLE_TIMEOUT" envDefault:"60s"`
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxConns        int32         `env:"CHECKPOINT_DB_MAX_CONNS" envDefault:"20"`
	MinConns        int32         `env:"CHECKPOINT_DB_MIN_CONNS" envDefault:"2"`
	MaxConnLifetime time.Duration `env:"CHECKPOINT_DB_MAX_CONN_LIFETIME" envDefault:"30m"`
	ConnectAttempts int           `env:"CHECKPOINT_DB_CONNECT_ATTEMPTS" envDefault:"5"`
}

type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"CHECKPOINT_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"CHECKPOINT_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"CHECKPOINT_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"CHECKPOINT_REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"CHECKPOINT_REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	ConnectAttempts int           `env:"CHECKPOINT_REDIS_CONNECT_ATTEMPTS" envDefault:"3"`
	RetryDelay      time.Duration `env:"CHECKPOINT_REDIS_RETRY_DELAY" envDefault:"1s"`
}

type ConsoleConfig struct {
	SigningKey string        `env:"CHECKPOINT_SESSION_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	SessionTTL time.Duration `env:"CHECKPOINT_SESSION_TTL" envDefault:"12h"`
	Issuer     string        `env:"CHECKPOINT_SESSION_ISSUER" envDefault:"checkpoint"`

	// DemoCredential is the console password of the seeded demo event.
	DemoCredential string `env:"CHECKPOINT_DEMO_CREDENTIAL" envDefault:"demo-console"`
}

type IdempotencyConfig struct {
	TTL          time.Duration `env:"CHECKPOINT_IDEMPOTENCY_TTL" envDefault:"24h"`
	PendingTTL   time.Duration `env:"CHECKPOINT_IDEMPOTENCY_PENDING_TTL" envDefault:"1m"`
	SweepPercent int           `env:"CHECKPOINT_IDEMPOTENCY_SWEEP_PERCENT" envDefault:"2"`
}

// ThrottleConfig holds both throttle policies.
type ThrottleConfig struct {
	LoginMaxFailures int           `env:"CHECKPOINT_LOGIN_MAX_FAILURES" envDefault:"5"`
	LoginWindow      time.Duration `env:"CHECKPOINT_LOGIN_WINDOW" envDefault:"15m"`
	LoginCooldown    time.Duration `env:"CHECKPOINT_LOGIN_COOLDOWN" envDefault:"15m"`

	LookupMaxMisses int           `env:"CHECKPOINT_LOOKUP_MAX_MISSES" envDefault:"30"`
	LookupWindow    time.Duration `env:"CHECKPOINT_LOOKUP_WINDOW" envDefault:"5m"`
	LookupCooldown  time.Duration `env:"CHECKPOINT_LOOKUP_COOLDOWN" envDefault:"1m"`
}

type NotifyConfig struct {
	WebhookURL       string        `env:"CHECKPOINT_NOTIFY_WEBHOOK_URL"`
	Timeout          time.Duration `env:"CHECKPOINT_NOTIFY_TIMEOUT" envDefault:"5s"`
	FailureThreshold int           `env:"CHECKPOINT_NOTIFY_FAILURE_THRESHOLD" envDefault:"5"`
	Cooldown         time.Duration `env:"CHECKPOINT_NOTIFY_COOLDOWN" envDefault:"30s"`
}

// TracingConfig enables OTLP/HTTP span export.
type TracingConfig struct {
	Enabled     bool    `env:"CHECKPOINT_OTEL_ENABLED" envDefault:"false"`
	Endpoint    string  `env:"CHECKPOINT_OTEL_ENDPOINT"`
	ServiceName string  `env:"CHECKPOINT_OTEL_SERVICE_NAME" envDefault:"checkpoint"`
	SampleRatio float64 `env:"CHECKPOINT_OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// OfflineConfig is read by the console-replay tool.
type OfflineConfig struct {
	QueuePath    string `env:"CHECKPOINT_OFFLINE_QUEUE" envDefault:"checkpoint-queue.db"`
	ServerURL    string `env:"CHECKPOINT_SERVER_URL" envDefault:"http://localhost:8080"`
	SessionToken string `env:"CHECKPOINT_SESSION_TOKEN"`
	CSRFToken    string `env:"CHECKPOINT_CSRF_TOKEN"`
}

// Load parses the environment into a Config and validates cross-field rules.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	for _, b := range []Backend{c.Backend, c.GuardBackend} {
		switch b {
		case BackendMemory, BackendPostgres, BackendRedis:
		default:
			return fmt.Errorf("unknown backend %q", b)
		}
	}
	if c.Backend == BackendRedis {
		return fmt.Errorf("registrations cannot be stored in redis")
	}
	if (c.Backend == BackendPostgres || c.GuardBackend == BackendPostgres) && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres backend")
	}
	if c.GuardBackend == BackendRedis && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required for the redis guard backend")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("trace sample ratio must be between 0 and 1")
	}
	if len(strings.TrimSpace(c.Console.SigningKey)) < 16 {
		return fmt.Errorf("session signing key must be at least 16 characters")
	}
	return nil
}
