package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the service
type AppConfig struct {
	DatabaseURL    string
	HTTPListenAddr string
	JWTSecret      string

	// GracePeriod is how long after its scheduled start an unstopped session
	// stays open before the timeout watcher auto-closes it.
	GracePeriod        time.Duration
	CronSpecActivation string // tick that activates sessions whose time has come
	CronSpecTimeout    string // tick of the timeout watcher

	// Telegram announcements are optional; both values must be set to enable.
	TelegramToken string
	AdminChatID   int64

	LogLevel    string
	Environment string
}

const defaultGracePeriodMinutes = 15

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.HTTPListenAddr = os.Getenv("HTTP_LISTEN_ADDR")
	if cfg.HTTPListenAddr == "" {
		cfg.HTTPListenAddr = ":8080"
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is not set")
	}

	graceStr := os.Getenv("GRACE_PERIOD_MINUTES")
	if graceStr == "" {
		cfg.GracePeriod = defaultGracePeriodMinutes * time.Minute
	} else {
		minutes, err := strconv.Atoi(graceStr)
		if err != nil || minutes <= 0 {
			return nil, fmt.Errorf("invalid GRACE_PERIOD_MINUTES: %q", graceStr)
		}
		cfg.GracePeriod = time.Duration(minutes) * time.Minute
	}

	cfg.CronSpecActivation = os.Getenv("CRON_SPEC_ACTIVATION_TICK")
	if cfg.CronSpecActivation == "" {
		cfg.CronSpecActivation = "* * * * *" // Default: every minute
	}
	cfg.CronSpecTimeout = os.Getenv("CRON_SPEC_TIMEOUT_TICK")
	if cfg.CronSpecTimeout == "" {
		cfg.CronSpecTimeout = "* * * * *" // Default: every minute
	}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	adminChatStr := os.Getenv("ADMIN_CHAT_ID")
	if adminChatStr != "" {
		var err error
		cfg.AdminChatID, err = strconv.ParseInt(adminChatStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_CHAT_ID: %w", err)
		}
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	return cfg, nil
}

// TelegramEnabled reports whether the announcement channel is configured.
func (c *AppConfig) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.AdminChatID != 0
}
