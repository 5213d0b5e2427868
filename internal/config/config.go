// Package config loads the process configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Addr      string `envconfig:"ADDR" default:":8080"`
	DBDSN     string `envconfig:"DB_DSN" required:"true"`
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	// RedisAddr may be empty: the bus then runs process-local, which is
	// fine for development and single-instance deployments.
	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`

	TokenTTL        time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	SendQueueSize   int           `envconfig:"SEND_QUEUE_SIZE" default:"256"`
	HistoryPageSize int           `envconfig:"HISTORY_PAGE_SIZE" default:"50"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads .env if present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
