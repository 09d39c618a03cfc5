package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/amishk599/recruitwatch/internal/adapter"
)

// Config is the root configuration for the recruitwatch service.
type Config struct {
	AppEnv   string
	Sources  SourcesConfig
	Schedule ScheduleConfig
	Queue    QueueConfig
	Browser  BrowserConfig
	Store    StoreConfig
	Email    EmailConfig
	Alerts   AlertsConfig
	API      APIConfig
	Lock     LockConfig
}

// Production reports whether APP_ENV is "production".
func (c *Config) Production() bool { return c.AppEnv == "production" }

// SourcesConfig selects which sources run and lets tests or mirrors
// override their endpoints.
type SourcesConfig struct {
	Enabled   []string
	Overrides map[string]SourceOverride
}

type SourceOverride struct {
	BaseURL   string        `yaml:"base_url"`
	PageSize  int           `yaml:"page_size"`
	PageDelay time.Duration `yaml:"page_delay"` // replaces browser.page_delay for this source's host
}

// Override returns the override for source, or the zero value.
func (s SourcesConfig) Override(source string) SourceOverride {
	return s.Overrides[source]
}

// ScheduleConfig holds robfig/cron specs.
type ScheduleConfig struct {
	Discovery  string
	Dispatch   string
	Retry      string
	RunOnStart bool
}

type QueueConfig struct {
	BatchSize  int
	StaleAfter time.Duration
	MaxRetries int
}

type BrowserConfig struct {
	ExecPath     string
	Headless     bool
	PageTimeout  time.Duration
	PageDelay    time.Duration
	PageAttempts int
}

// StoreConfig picks the database: a postgres:// URL or a SQLite file path.
type StoreConfig struct {
	DSN string
}

// EmailConfig selects the mailer. Mode is "log" or "smtp".
type EmailConfig struct {
	Mode     string
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type AlertsConfig struct {
	SlackWebhookURL string
}

type APIConfig struct {
	Listen       string
	HashedAPIKey string
}

// LockConfig: with an empty RedisURL, locks are held in process.
type LockConfig struct {
	RedisURL string
	TTL      time.Duration
}

// envConfig is the deployment overlay read from the process environment.
type envConfig struct {
	AppEnv               string `env:"APP_ENV"                envDefault:"development"`
	DatabaseURL          string `env:"DATABASE_URL"`
	RedisURL             string `env:"REDIS_URL"`
	SMTPHost             string `env:"SMTP_HOST"`
	SMTPPort             int    `env:"SMTP_PORT"`
	SMTPUsername         string `env:"SMTP_USERNAME"`
	SMTPPassword         string `env:"SMTP_PASSWORD"`
	EmailFrom            string `env:"EMAIL_FROM"`
	ChromeExecutablePath string `env:"CHROME_EXECUTABLE_PATH"`
	ChromeHeadless       *bool  `env:"CHROME_HEADLESS"`
	HashedAPIKey         string `env:"HASHED_API_KEY"`
	SlackWebhookURL      string `env:"SLACK_WEBHOOK_URL"`
}

// rawConfig is used for YAML unmarshaling (snake_case fields and duration as string).
type rawConfig struct {
	Sources  rawSourcesConfig  `yaml:"sources"`
	Schedule rawScheduleConfig `yaml:"schedule"`
	Queue    rawQueueConfig    `yaml:"queue"`
	Browser  rawBrowserConfig  `yaml:"browser"`
	Store    rawStoreConfig    `yaml:"store"`
	Email    rawEmailConfig    `yaml:"email"`
	Alerts   rawAlertsConfig   `yaml:"alerts"`
	API      rawAPIConfig      `yaml:"api"`
	Lock     rawLockConfig     `yaml:"lock"`
}

type rawSourcesConfig struct {
	Enabled   []string                  `yaml:"enabled"`
	Overrides map[string]SourceOverride `yaml:"overrides"`
}

type rawScheduleConfig struct {
	Discovery  string `yaml:"discovery"`
	Dispatch   string `yaml:"dispatch"`
	Retry      string `yaml:"retry"`
	RunOnStart *bool  `yaml:"run_on_start"`
}

type rawQueueConfig struct {
	BatchSize  int    `yaml:"batch_size"`
	StaleAfter string `yaml:"stale_after"`
	MaxRetries int    `yaml:"max_retries"`
}

type rawBrowserConfig struct {
	ExecPath     string `yaml:"exec_path"`
	Headless     *bool  `yaml:"headless"`
	PageTimeout  string `yaml:"page_timeout"`
	PageDelay    string `yaml:"page_delay"`
	PageAttempts int    `yaml:"page_attempts"`
}

type rawStoreConfig struct {
	DSN string `yaml:"dsn"`
}

type rawEmailConfig struct {
	Mode     string `yaml:"mode"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type rawAlertsConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
}

type rawAPIConfig struct {
	Listen string `yaml:"listen"`
}

type rawLockConfig struct {
	RedisURL string `yaml:"redis_url"`
	TTL      string `yaml:"ttl"`
}

// LoadDotEnv loads variables from a .env file without overriding ones
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads and parses the YAML config file at path, overlays the
// environment, validates it, and returns Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return build(raw)
}

// FromEnv builds a Config from defaults and the environment alone.
func FromEnv() (*Config, error) {
	return build(rawConfig{})
}

func build(raw rawConfig) (*Config, error) {
	var ev envConfig
	if err := env.Parse(&ev); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	staleAfter, err := parseDuration("queue.stale_after", raw.Queue.StaleAfter, 5*time.Minute)
	if err != nil {
		return nil, err
	}
	pageTimeout, err := parseDuration("browser.page_timeout", raw.Browser.PageTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	pageDelay, err := parseDuration("browser.page_delay", raw.Browser.PageDelay, 200*time.Millisecond)
	if err != nil {
		return nil, err
	}
	lockTTL, err := parseDuration("lock.ttl", raw.Lock.TTL, 30*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv: ev.AppEnv,
		Sources: SourcesConfig{
			Enabled:   raw.Sources.Enabled,
			Overrides: raw.Sources.Overrides,
		},
		Schedule: ScheduleConfig{
			Discovery:  orDefault(raw.Schedule.Discovery, "@hourly"),
			Dispatch:   orDefault(raw.Schedule.Dispatch, "@every 1m"),
			Retry:      orDefault(raw.Schedule.Retry, "@hourly"),
			RunOnStart: boolOr(raw.Schedule.RunOnStart, true),
		},
		Queue: QueueConfig{
			BatchSize:  intOr(raw.Queue.BatchSize, 10),
			StaleAfter: staleAfter,
			MaxRetries: intOr(raw.Queue.MaxRetries, 3),
		},
		Browser: BrowserConfig{
			ExecPath:     raw.Browser.ExecPath,
			Headless:     boolOr(raw.Browser.Headless, true),
			PageTimeout:  pageTimeout,
			PageDelay:    pageDelay,
			PageAttempts: intOr(raw.Browser.PageAttempts, 3),
		},
		Store: StoreConfig{DSN: orDefault(raw.Store.DSN, "recruitwatch.db")},
		Email: EmailConfig{
			Mode:     raw.Email.Mode,
			Host:     raw.Email.Host,
			Port:     intOr(raw.Email.Port, 587),
			Username: raw.Email.Username,
			Password: raw.Email.Password,
			From:     raw.Email.From,
		},
		Alerts: AlertsConfig{SlackWebhookURL: raw.Alerts.SlackWebhookURL},
		API:    APIConfig{Listen: orDefault(raw.API.Listen, ":8080")},
		Lock:   LockConfig{RedisURL: raw.Lock.RedisURL, TTL: lockTTL},
	}
	if len(cfg.Sources.Enabled) == 0 {
		cfg.Sources.Enabled = append([]string(nil), adapter.KnownSources...)
	}

	applyEnv(cfg, ev)

	if cfg.Email.Mode == "" {
		cfg.Email.Mode = "log"
		if cfg.Production() {
			cfg.Email.Mode = "smtp"
		}
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets deployment variables win over the file.
func applyEnv(cfg *Config, ev envConfig) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Store.DSN, ev.DatabaseURL)
	set(&cfg.Lock.RedisURL, ev.RedisURL)
	set(&cfg.Email.Host, ev.SMTPHost)
	set(&cfg.Email.Username, ev.SMTPUsername)
	set(&cfg.Email.Password, ev.SMTPPassword)
	set(&cfg.Email.From, ev.EmailFrom)
	set(&cfg.Browser.ExecPath, ev.ChromeExecutablePath)
	set(&cfg.API.HashedAPIKey, ev.HashedAPIKey)
	set(&cfg.Alerts.SlackWebhookURL, ev.SlackWebhookURL)
	if ev.SMTPPort != 0 {
		cfg.Email.Port = ev.SMTPPort
	}
	if ev.ChromeHeadless != nil {
		cfg.Browser.Headless = *ev.ChromeHeadless
	}
}

func validate(cfg *Config) error {
	for _, s := range cfg.Sources.Enabled {
		if !adapter.IsKnown(s) {
			return fmt.Errorf("sources.enabled: unknown source %q (known: %s)", s, strings.Join(adapter.KnownSources, ", "))
		}
	}
	for s, o := range cfg.Sources.Overrides {
		if !adapter.IsKnown(s) {
			return fmt.Errorf("sources.overrides: unknown source %q", s)
		}
		if o.PageDelay < 0 {
			return fmt.Errorf("sources.overrides.%s.page_delay must not be negative", s)
		}
	}

	for name, spec := range map[string]string{
		"schedule.discovery": cfg.Schedule.Discovery,
		"schedule.dispatch":  cfg.Schedule.Dispatch,
		"schedule.retry":     cfg.Schedule.Retry,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s %q: %w", name, spec, err)
		}
	}

	if cfg.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.batch_size must be positive, got %d", cfg.Queue.BatchSize)
	}
	if cfg.Queue.MaxRetries <= 0 {
		return fmt.Errorf("queue.max_retries must be positive, got %d", cfg.Queue.MaxRetries)
	}
	if cfg.Queue.StaleAfter <= 0 {
		return fmt.Errorf("queue.stale_after must be positive, got %v", cfg.Queue.StaleAfter)
	}
	if cfg.Browser.PageTimeout <= 0 {
		return fmt.Errorf("browser.page_timeout must be positive, got %v", cfg.Browser.PageTimeout)
	}
	if cfg.Browser.PageAttempts <= 0 {
		return fmt.Errorf("browser.page_attempts must be positive, got %d", cfg.Browser.PageAttempts)
	}

	switch cfg.Email.Mode {
	case "log":
	case "smtp":
		if cfg.Email.Host == "" {
			return fmt.Errorf("email.host (SMTP_HOST) is required when email.mode is \"smtp\"")
		}
		if cfg.Email.From == "" {
			return fmt.Errorf("email.from (EMAIL_FROM) is required when email.mode is \"smtp\"")
		}
	default:
		return fmt.Errorf("email.mode must be \"log\" or \"smtp\", got %q", cfg.Email.Mode)
	}

	if url := cfg.Alerts.SlackWebhookURL; url != "" && !strings.HasPrefix(url, "https://hooks.slack.com/") {
		return fmt.Errorf("alerts.slack_webhook_url must start with https://hooks.slack.com/")
	}

	return nil
}

func parseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, raw, err)
	}
	return d, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func intOr(n, def int) int {
	if n == 0 {
		return def
	}
	return n
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
