package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/amishk599/recruitwatch/internal/adapter"
	"github.com/amishk599/recruitwatch/internal/config"
	"github.com/amishk599/recruitwatch/internal/discovery"
	"github.com/amishk599/recruitwatch/internal/lock"
	"github.com/amishk599/recruitwatch/internal/match"
	"github.com/amishk599/recruitwatch/internal/model"
	"github.com/amishk599/recruitwatch/internal/notifier"
	"github.com/amishk599/recruitwatch/internal/queue"
	"github.com/amishk599/recruitwatch/internal/ratelimit"
	"github.com/amishk599/recruitwatch/internal/retry"
	"github.com/amishk599/recruitwatch/internal/scheduler"
	"github.com/amishk599/recruitwatch/internal/store"
)

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "recruitwatch",
	Short: "Hospital recruitment watcher",
	Long:  "recruitwatch scrapes hospital recruitment boards and emails subscribers about new postings.",
	// Default to `start` so that running the bare binary starts the service.
	RunE:          runStart,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: RECRUITWATCH_CONFIG env var or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig resolves the config path and parses it.
// Priority: explicit path arg > RECRUITWATCH_CONFIG env var > "./config.yaml".
// Without any file the config comes from defaults and the environment.
func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	if path == "" {
		path = os.Getenv("RECRUITWATCH_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat("config.yaml"); err != nil {
			return config.FromEnv()
		}
		path = "config.yaml"
	}
	return config.Load(path)
}

func setupLogger(dbg bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if dbg {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

// mustConfig loads the config or exits.
func mustConfig(logger *slog.Logger) *config.Config {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	return cfg
}

func setupMailer(cfg *config.Config, logger *slog.Logger) (model.Mailer, error) {
	if cfg.Email.Mode != "smtp" {
		logger.Info("using log mailer")
		return notifier.NewLogMailer(logger), nil
	}
	logger.Info("using smtp mailer", "host", cfg.Email.Host, "port", cfg.Email.Port)
	return notifier.NewSMTPMailer(notifier.SMTPConfig{
		Host:     cfg.Email.Host,
		Port:     cfg.Email.Port,
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
	}, logger)
}

func setupAlerter(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) model.Alerter {
	if cfg.Alerts.SlackWebhookURL == "" {
		return notifier.NewLogAlerter(logger)
	}
	logger.Info("using slack alerter")
	return notifier.NewSlackAlerter(cfg.Alerts.SlackWebhookURL, httpClient, adapter.ListingURLs(), adapter.Location(), logger)
}

// setupLocker returns a Redis locker when a URL is configured and an
// in-process one otherwise. The returned close func is never nil.
func setupLocker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (lock.Locker, func() error, error) {
	if cfg.Lock.RedisURL == "" {
		return lock.NewLocalLocker(), func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(cfg.Lock.RedisURL)
	if err != nil {
		return nil, nil, &model.ConfigurationError{Component: "lock", Detail: fmt.Sprintf("redis url: %v", err)}
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("using redis run locks", "addr", opts.Addr)
	return lock.NewRedisLocker(client), client.Close, nil
}

// buildRegistry creates an adapter for every enabled source. cursor is the
// store for real runs and store.NopCursor for dry runs.
func buildRegistry(cfg *config.Config, cursor model.CursorReader, httpClient *http.Client, logger *slog.Logger) (*adapter.Registry, error) {
	pacer := ratelimit.NewPacer(cfg.Browser.PageDelay)
	if err := applyPageDelays(pacer, cfg.Sources); err != nil {
		return nil, err
	}
	policy := retry.Policy{Attempts: cfg.Browser.PageAttempts, BaseDelay: time.Second, Jitter: true}

	var browser adapter.Browser
	newBrowser := func() (adapter.Browser, error) {
		if browser != nil {
			return browser, nil
		}
		b, err := adapter.NewChromeBrowser(adapter.ChromeOptions{
			ExecPath:   cfg.Browser.ExecPath,
			Headless:   cfg.Browser.Headless,
			Production: cfg.Production(),
		})
		if err != nil {
			return nil, err
		}
		browser = b
		return b, nil
	}
	browserOpts := func(source string) adapter.BrowserOptions {
		return adapter.BrowserOptions{
			BaseURL:     cfg.Sources.Override(source).BaseURL,
			PageTimeout: cfg.Browser.PageTimeout,
			Policy:      policy,
			Pacer:       pacer,
		}
	}
	apiOpts := func(source string) adapter.APIOptions {
		o := cfg.Sources.Override(source)
		return adapter.APIOptions{BaseURL: o.BaseURL, PageSize: o.PageSize, Policy: policy, Pacer: pacer}
	}

	registry, _ := adapter.NewRegistry()
	for _, source := range cfg.Sources.Enabled {
		var a model.SourceAdapter
		switch source {
		case adapter.SourceSeverance, adapter.SourceChCauhs:
			b, err := newBrowser()
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", source, err)
			}
			if source == adapter.SourceSeverance {
				a = adapter.NewSeveranceAdapter(b, cursor, browserOpts(source), logger)
			} else {
				a = adapter.NewChCauhsAdapter(b, cursor, browserOpts(source), logger)
			}
		case adapter.SourceEUMC:
			a = adapter.NewEUMCAdapter(httpClient, cursor, apiOpts(source), logger)
		case adapter.SourceCAUMC:
			a = adapter.NewCAUMCAdapter(httpClient, cursor, apiOpts(source), logger)
		default:
			logger.Warn("unsupported source, skipping", "source", source)
			continue
		}
		if err := registry.Register(a); err != nil {
			return nil, err
		}
		logger.Debug("registered source", "source", source)
	}
	if len(registry.Sources()) == 0 {
		return nil, errors.New("no sources enabled")
	}
	return registry, nil
}

// applyPageDelays sets per-source pacing. The pacer keys on host, so the
// override applies to the source's configured or default listing host.
func applyPageDelays(pacer *ratelimit.Pacer, sources config.SourcesConfig) error {
	defaults := adapter.ListingURLs()
	for source, o := range sources.Overrides {
		if o.PageDelay <= 0 {
			continue
		}
		raw := o.BaseURL
		if raw == "" {
			raw = defaults[source]
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return &model.ConfigurationError{Component: source, Detail: fmt.Sprintf("cannot derive host from %q", raw)}
		}
		pacer.SetDelay(u.Host, o.PageDelay)
	}
	return nil
}

// app is the fully wired service.
type app struct {
	cfg         *config.Config
	store       store.Store
	registry    *adapter.Registry
	coordinator *discovery.Coordinator
	dispatcher  *queue.Dispatcher
	trigger     *scheduler.Trigger
	closers     []func() error
	logger      *slog.Logger
}

// newQueueApp wires the store and the dispatcher only. Queue commands never
// scrape, so they need neither a browser nor run locks.
func newQueueApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	st, err := store.Open(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	mailer, err := setupMailer(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.dispatcher = queue.NewDispatcher(st, mailer, queue.Options{
		BatchSize:  cfg.Queue.BatchSize,
		StaleAfter: cfg.Queue.StaleAfter,
		MaxRetries: cfg.Queue.MaxRetries,
	}, logger)
	return a, nil
}

// newApp wires the full service on top of newQueueApp.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a, err := newQueueApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	registry, err := buildRegistry(cfg, a.store, httpClient, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.registry = registry

	locker, closeLocker, err := setupLocker(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closeLocker)

	matcher := match.NewSubscriptionMatcher(a.store, a.store, match.Options{
		SourceName: adapter.DisplayName,
		Location:   adapter.Location(),
	}, logger)
	a.coordinator = discovery.NewCoordinator(registry, a.store, matcher, setupAlerter(cfg, httpClient, logger), logger)
	a.trigger = scheduler.NewTrigger(a.coordinator, a.dispatcher, locker, logger)
	a.trigger.SetLockTTL(cfg.Lock.TTL)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// mustApp wires the service or exits.
func mustApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) *app {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	return a
}

// mustQueueApp wires the queue side only or exits.
func mustQueueApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) *app {
	a, err := newQueueApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	return a
}
