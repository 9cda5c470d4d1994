package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the settings of all hanzibot components
type Config struct {
	// Database
	DBType  string `env:"DB_TYPE" envDefault:"sqlite"`
	DBDSN   string `env:"DB_DSN"`
	DataDir string `env:"DATA_DIR" envDefault:"./data"`

	// HTTP API
	HTTPAddr    string   `env:"HTTP_ADDR" envDefault:":8080"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// Telegram bot, disabled when the token is empty
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN"`

	// Reminders
	EnableScheduler       bool `env:"ENABLE_SCHEDULER" envDefault:"true"`
	NotificationStartHour int  `env:"NOTIFICATION_START_HOUR" envDefault:"8"`
	NotificationEndHour   int  `env:"NOTIFICATION_END_HOUR" envDefault:"22"`

	// Review service
	DueBatchLimit    int `env:"DUE_BATCH_LIMIT" envDefault:"20"`
	ReviewMaxRetries int `env:"REVIEW_MAX_RETRIES" envDefault:"3"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads .env files (if any) and the environment. Missing files are not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate normalizes values and rejects settings the services cannot run with
func (c *Config) Validate() error {
	c.DBType = strings.ToLower(strings.TrimSpace(c.DBType))
	switch c.DBType {
	case "", "sqlite", "sqlite3":
		c.DBType = "sqlite"
	case "postgres", "postgresql":
		c.DBType = "postgres"
		if c.DBDSN == "" {
			return errors.New("config: DB_DSN is required for postgres")
		}
	default:
		return fmt.Errorf("config: unsupported DB_TYPE %q", c.DBType)
	}

	if c.NotificationStartHour < 0 || c.NotificationStartHour > 23 {
		return fmt.Errorf("config: NOTIFICATION_START_HOUR must be 0-23, got %d", c.NotificationStartHour)
	}
	if c.NotificationEndHour < 0 || c.NotificationEndHour > 23 {
		return fmt.Errorf("config: NOTIFICATION_END_HOUR must be 0-23, got %d", c.NotificationEndHour)
	}
	if c.NotificationStartHour > c.NotificationEndHour {
		return fmt.Errorf("config: notification window %d-%d is empty", c.NotificationStartHour, c.NotificationEndHour)
	}
	if c.DueBatchLimit < 0 {
		return fmt.Errorf("config: DUE_BATCH_LIMIT must not be negative, got %d", c.DueBatchLimit)
	}
	if c.ReviewMaxRetries < 0 {
		return fmt.Errorf("config: REVIEW_MAX_RETRIES must not be negative, got %d", c.ReviewMaxRetries)
	}

	c.LogFormat = strings.ToLower(c.LogFormat)
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("config: LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}

	origins := c.CORSOrigins[:0]
	for _, o := range c.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.CORSOrigins = origins
	return nil
}
