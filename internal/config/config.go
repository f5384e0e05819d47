package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"github.com/maltedev/mercari-scraper/internal/browser"
	"github.com/maltedev/mercari-scraper/internal/database"
)

const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageBadger   = "badger"
	StoragePostgres = "postgres"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Schedule ScheduleConfig
	Logging  LoggingConfig

	// SiteFile points at a YAML site profile; empty uses the embedded one.
	SiteFile string
}

type ServerConfig struct {
	Port            int           `validate:"gte=1,lte=65535"`
	Host            string
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

type ScraperConfig struct {
	Limit         int           `validate:"gte=1"`
	MaxRetries    int           `validate:"gte=0"`
	RetryDelay    time.Duration `validate:"gte=0"`
	ScrollCycles  int           `validate:"gte=0"`
	ScrollDelay   time.Duration `validate:"gte=0"`
	MaxPages      int           `validate:"gte=1"`
	Workers       int           `validate:"gte=1"`
	QueueSize     int           `validate:"gte=1"`
	RateLimitMin  time.Duration `validate:"gte=0,ltefield=RateLimitMax"`
	RateLimitMax  time.Duration `validate:"gte=0"`
	ScreenshotDir string
}

type BrowserConfig struct {
	Backend           string `validate:"oneof=playwright chromedp static"`
	Headless          bool
	UserAgent         string        `validate:"required"`
	NavigationTimeout time.Duration `validate:"gt=0"`
	SettleDelay       time.Duration `validate:"gte=0"`
	ScrollStep        int           `validate:"gte=0"`
	ReleaseTimeout    time.Duration `validate:"gt=0"`
	ViewportWidth     int           `validate:"gt=0"`
	ViewportHeight    int           `validate:"gt=0"`
	AcceptLanguage    string
	TimezoneID        string
	Locale            string
	Proxy             string
}

type StorageConfig struct {
	Backend   string `validate:"oneof=memory file badger postgres"`
	FilePath  string `validate:"required_if=Backend file"`
	BadgerDir string `validate:"required_if=Backend badger"`
}

type DatabaseConfig struct {
	Host     string
	Port     int `validate:"gte=1,lte=65535"`
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32 `validate:"gte=1"`
}

type RedisConfig struct {
	// Addr enables the outbox relay when set.
	Addr     string
	Password string
	DB       int `validate:"gte=0"`
	Stream   string
}

type ScheduleConfig struct {
	// RankingCron is a cron spec for recurring ranking runs; empty disables it.
	RankingCron  string
	RankingLimit int `validate:"gte=1"`
}

type LoggingConfig struct {
	Level  string `validate:"oneof=debug info warn warning error"`
	Format string `validate:"oneof=json text"`
}

func Load() (*Config, error) {
	defaults := browser.DefaultOptions()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8084),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Scraper: ScraperConfig{
			Limit:         getIntOrDefault("SCRAPER_LIMIT", 10),
			MaxRetries:    getIntOrDefault("SCRAPER_MAX_RETRIES", 2),
			RetryDelay:    getDurationOrDefault("SCRAPER_RETRY_DELAY", 5*time.Second),
			ScrollCycles:  getIntOrDefault("SCRAPER_SCROLL_CYCLES", 5),
			ScrollDelay:   getDurationOrDefault("SCRAPER_SCROLL_DELAY", 2*time.Second),
			MaxPages:      getIntOrDefault("SCRAPER_MAX_PAGES", 10),
			Workers:       getIntOrDefault("SCRAPER_WORKERS", 1),
			QueueSize:     getIntOrDefault("SCRAPER_QUEUE_SIZE", 100),
			RateLimitMin:  getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", time.Second),
			RateLimitMax:  getDurationOrDefault("SCRAPER_RATE_LIMIT_MAX", 3*time.Second),
			ScreenshotDir: getEnvOrDefault("SCRAPER_SCREENSHOT_DIR", ""),
		},
		Browser: BrowserConfig{
			Backend:           getEnvOrDefault("BROWSER_BACKEND", browser.BackendPlaywright),
			Headless:          getBoolOrDefault("BROWSER_HEADLESS", defaults.Headless),
			UserAgent:         getEnvOrDefault("BROWSER_USER_AGENT", defaults.UserAgent),
			NavigationTimeout: getDurationOrDefault("BROWSER_TIMEOUT", defaults.NavigationTimeout),
			SettleDelay:       getDurationOrDefault("BROWSER_SETTLE_DELAY", defaults.SettleDelay),
			ScrollStep:        getIntOrDefault("BROWSER_SCROLL_STEP", defaults.ScrollStep),
			ReleaseTimeout:    getDurationOrDefault("BROWSER_RELEASE_TIMEOUT", defaults.ReleaseTimeout),
			ViewportWidth:     getIntOrDefault("BROWSER_VIEWPORT_WIDTH", defaults.ViewportWidth),
			ViewportHeight:    getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", defaults.ViewportHeight),
			AcceptLanguage:    getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", defaults.AcceptLanguage),
			TimezoneID:        getEnvOrDefault("BROWSER_TIMEZONE", defaults.TimezoneID),
			Locale:            getEnvOrDefault("BROWSER_LOCALE", defaults.Locale),
			Proxy:             getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Storage: StorageConfig{
			Backend:   getEnvOrDefault("STORAGE_BACKEND", StorageFile),
			FilePath:  getEnvOrDefault("STORAGE_FILE", "products.json"),
			BadgerDir: getEnvOrDefault("STORAGE_BADGER_DIR", "data/badger"),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "mercari_scraper"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", ""),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", database.DefaultTargetStream),
		},
		Schedule: ScheduleConfig{
			RankingCron:  getEnvOrDefault("SCHEDULE_RANKING_CRON", ""),
			RankingLimit: getIntOrDefault("SCHEDULE_RANKING_LIMIT", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
		SiteFile: getEnvOrDefault("SITE_FILE", ""),
	}

	return cfg, nil
}

// Validate checks the struct tags and the cron spec, and reports every
// failing field by name.
func (c *Config) Validate() error {
	var msgs []string

	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("failed to validate config: %w", err)
		}
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}

	if spec := c.Schedule.RankingCron; spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			msgs = append(msgs, fmt.Sprintf("Config.Schedule.RankingCron: %v", err))
		}
	}

	if len(msgs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// BrowserOptions maps the browser section onto session options.
func (c *Config) BrowserOptions() *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Browser.Headless
	opts.UserAgent = c.Browser.UserAgent
	opts.NavigationTimeout = c.Browser.NavigationTimeout
	opts.SettleDelay = c.Browser.SettleDelay
	opts.ScrollStep = c.Browser.ScrollStep
	opts.ReleaseTimeout = c.Browser.ReleaseTimeout
	opts.ViewportWidth = c.Browser.ViewportWidth
	opts.ViewportHeight = c.Browser.ViewportHeight
	opts.AcceptLanguage = c.Browser.AcceptLanguage
	opts.TimezoneID = c.Browser.TimezoneID
	opts.Locale = c.Browser.Locale
	opts.ProxyServer = c.Browser.Proxy
	return opts
}

func (c *Config) DatabaseConfig() database.Config {
	return database.Config{
		Host:        c.Database.Host,
		Port:        c.Database.Port,
		User:        c.Database.User,
		Password:    c.Database.Password,
		Database:    c.Database.DBName,
		SSLMode:     c.Database.SSLMode,
		MaxConns:    c.Database.MaxConns,
		MinConns:    1,
		MaxConnLife: time.Hour,
		MaxConnIdle: 30 * time.Minute,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
