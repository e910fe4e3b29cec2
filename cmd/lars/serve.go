package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jkaninda/lars/internal/config"
	"github.com/jkaninda/lars/internal/gateway/httpapi"
	"github.com/jkaninda/lars/internal/harness"
	"github.com/jkaninda/lars/internal/observability"
	"github.com/jkaninda/lars/internal/oracle"
	"github.com/jkaninda/lars/internal/oracle/anthropic"
	"github.com/jkaninda/lars/internal/oracle/openai"
	"github.com/jkaninda/lars/internal/ratelimit"
	"github.com/jkaninda/lars/internal/runtime"
	"github.com/jkaninda/lars/internal/store"
	goutils "github.com/jkaninda/go-utils"
)

var (
	serveConfigPath string
	serveListenAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP service",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `lars --config path` and `lars serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveListenAddr, "listen", "", "override listen address (e.g. :8080)")
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(goutils.Env("LARS_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}
	if serveListenAddr != "" {
		cfg.Listen = serveListenAddr
	}

	logger := buildLogger(cfg.Logging)
	logger.Info("starting lars",
		slog.String("listen", cfg.Listen),
		slog.String("provider", cfg.Provider.Default),
	)

	dataDir := cfg.ResolvedDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	st, err := store.Open(dataDir)
	if err != nil {
		return fmt.Errorf("opening store at %s: %w", dataDir, err)
	}
	logger.Debug("store opened", slog.String("root", dataDir))

	provider, err := buildProvider(cfg.Provider, logger)
	if err != nil {
		return err
	}

	h := harness.New(harness.Config{
		Timeout:        cfg.Exec.Timeout(),
		MaxSteps:       cfg.Exec.MaxSteps,
		MaxResultBytes: cfg.Exec.MaxResultBytes,
		MaxOutputBytes: cfg.Exec.MaxOutputBytes,
	})

	var metrics *observability.MetricsCollector
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetricsCollector()
	}

	health := observability.NewHealthChecker(logger)
	health.AddCheck("store", func(ctx context.Context) error {
		return st.Ping()
	})

	var limiter *ratelimit.Limiter
	if cfg.HTTP.RequestsPerMinute > 0 {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.HTTP.RequestsPerMinute,
			BurstSize:         cfg.HTTP.RateLimitBurst,
		})
	}

	pipeline := runtime.New(provider, st, h, metrics, logger)

	gwCfg := httpapi.Config{
		ListenAddr:     cfg.Listen,
		APIToken:       cfg.APIToken,
		MaxRequestSize: cfg.HTTP.BodyLimit(),
		Version:        version,
		Metrics:        metrics,
		HealthChecker:  health,
	}
	if metrics != nil {
		gwCfg.MetricsRegistry = metrics.Registry
		gwCfg.MetricsPath = cfg.Metrics.MetricsPath()
	}
	gw := httpapi.NewGateway(gwCfg, pipeline, st, limiter, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http gateway: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout())
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
		return err
	}
	logger.Info("lars stopped")
	return nil
}

// buildLogger constructs the slog logger from the logging config.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// buildProvider wires the configured planning backends. With fallback
// enabled both providers are constructed and tried in order, the default
// first.
func buildProvider(cfg config.ProvidersConfig, logger *slog.Logger) (oracle.Provider, error) {
	newOpenAI := func() oracle.Provider {
		var opts []openai.Option
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		return openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, logger, opts...)
	}
	newAnthropic := func() oracle.Provider {
		var opts []anthropic.Option
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		return anthropic.NewClient(cfg.Anthropic.APIKey, cfg.Anthropic.Model, logger, opts...)
	}

	var primary, secondary oracle.Provider
	switch cfg.Default {
	case "anthropic":
		primary, secondary = newAnthropic(), newOpenAI()
	case "openai", "":
		primary, secondary = newOpenAI(), newAnthropic()
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Default)
	}

	if cfg.Fallback {
		return oracle.NewFallbackProvider([]oracle.Provider{primary, secondary}, logger), nil
	}
	return primary, nil
}
