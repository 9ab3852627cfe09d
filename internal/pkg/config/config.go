package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port      string `env:"PORT,      default=8080"`
	Env       string `env:"ENV,       default=development"`
	JWTSecret string `env:"JWT_SECRET, required"`
	LogLevel  string `env:"LOG_LEVEL, default=info"`

	TokenTTL            time.Duration `env:"TOKEN_TTL,             default=24h"`
	TrialDays           int           `env:"TRIAL_DAYS,            default=14"`
	StoreTimeout        time.Duration `env:"STORE_TIMEOUT,         default=3s"`
	LifecycleMaxRetries int           `env:"LIFECYCLE_MAX_RETRIES, default=3"`
	DispatchWorkers     int           `env:"DISPATCH_WORKERS,      default=4"`
	// TrustProxy takes the client IP from X-Forwarded-For. Enable only behind
	// a proxy that overwrites the header, or callers can pick their rate key.
	TrustProxy          bool          `env:"TRUST_PROXY,           default=false"`

	Admin     AdminConfig
	Mongo     MongoConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Otel      OtelConfig
}

// AdminConfig seeds a platform administrator at startup when both fields are set.
type AdminConfig struct {
	Username string `env:"ADMIN_USERNAME"`
	Password string `env:"ADMIN_PASSWORD"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,  default=marketplace"`
}

type RedisConfig struct {
	Addr string `env:"REDIS_ADDR, default=localhost:6379"`
	DB   int    `env:"REDIS_DB,   default=0"`
}

// RateLimitConfig holds the three named rate policies.
type RateLimitConfig struct {
	StoreTimeout time.Duration `env:"RATE_STORE_TIMEOUT, default=2s"`

	AuthWindow time.Duration `env:"RATE_AUTH_WINDOW, default=60s"`
	AuthMax    int           `env:"RATE_AUTH_MAX,    default=10"`

	APIWindow time.Duration `env:"RATE_API_WINDOW, default=60s"`
	APIMax    int           `env:"RATE_API_MAX,    default=120"`

	SensitiveWindow time.Duration `env:"RATE_SENSITIVE_WINDOW, default=60s"`
	SensitiveMax    int           `env:"RATE_SENSITIVE_MAX,    default=5"`
}

type OtelConfig struct {
	Enabled     bool    `env:"OTEL_ENABLED,      default=false"`
	Endpoint    string  `env:"OTEL_ENDPOINT"`
	Insecure    bool    `env:"OTEL_INSECURE,     default=true"`
	ServiceName string  `env:"OTEL_SERVICE_NAME, default=marketplace-api"`
	SampleRate  float64 `env:"OTEL_SAMPLE_RATE,  default=0.1"`
}

// Load reads configuration from environment variables using go-envconfig.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.TrialDays <= 0 {
		return nil, fmt.Errorf("config: TRIAL_DAYS must be positive, got %d", cfg.TrialDays)
	}
	return &cfg, nil
}

// TrialLength is the duration of a new firm's trial.
func (c *Config) TrialLength() time.Duration {
	return time.Duration(c.TrialDays) * 24 * time.Hour
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
