package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	// WhatsApp Cloud API
	VerifyToken     string `env:"VERIFY_TOKEN"`
	WhatsAppToken   string `env:"WHATSAPP_TOKEN"`
	PhoneNumberID   string `env:"PHONE_NUMBER_ID"`
	GraphAPIURL     string `env:"GRAPH_API_URL" envDefault:"https://graph.facebook.com"`
	GraphAPIVersion string `env:"GRAPH_API_VERSION" envDefault:"v19.0"`

	// Database
	DBDriver   string `env:"DB_DRIVER" envDefault:"sqlite"` // sqlite or postgres
	DBPath     string `env:"DB_PATH" envDefault:"./chatbot.db"`
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME" envDefault:"chatbot"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	// Empty means sessions are serialized in-process only.
	RedisURL string        `env:"REDIS_URL"`
	LockTTL  time.Duration `env:"LOCK_TTL" envDefault:"10s"`

	// Dispatch
	DispatchTimeout time.Duration `env:"DISPATCH_TIMEOUT" envDefault:"5s"`
	DispatchRetries int           `env:"DISPATCH_RETRIES" envDefault:"3"`
	WorkerCount     int           `env:"WORKER_COUNT" envDefault:"8"`
	QueueSize       int           `env:"QUEUE_SIZE" envDefault:"256"`
	RuleCacheTTL    time.Duration `env:"RULE_CACHE_TTL" envDefault:"30s"`

	SessionIdleTimeout   time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"24h"`
	SessionSweepSchedule string        `env:"SESSION_SWEEP_SCHEDULE" envDefault:"*/15 * * * *"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads the configuration from the environment. Callers load .env first.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive, got %d", c.WorkerCount)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("QUEUE_SIZE must be positive, got %d", c.QueueSize)
	}
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("DISPATCH_TIMEOUT must be positive, got %s", c.DispatchTimeout)
	}
	if c.DispatchRetries < 1 {
		c.DispatchRetries = 1
	}
	return nil
}

// PostgresDSN builds the connection string used by the postgres driver.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

// WhatsAppReady reports whether the Cloud API credentials are present.
func (c *Config) WhatsAppReady() bool {
	return c.WhatsAppToken != "" && c.PhoneNumberID != ""
}
