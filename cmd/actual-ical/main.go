package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/guitarbeat/actual-ical/internal/actual"
	"github.com/guitarbeat/actual-ical/internal/config"
	"github.com/guitarbeat/actual-ical/internal/feed"
	"github.com/guitarbeat/actual-ical/internal/health"
	appLog "github.com/guitarbeat/actual-ical/internal/log"
	"github.com/guitarbeat/actual-ical/internal/sched"
	"github.com/guitarbeat/actual-ical/internal/web"
)

// flagConfig holds CLI flag values applied on top of file/env config.
type flagConfig struct {
	configPath string
	listen     string
	check      bool
}

func main() {
	flags := parseFlags()

	// Best effort: a .env next to the binary is a convenience, not a
	// requirement.
	_ = godotenv.Load()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(conf.LogLevel)

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid configuration", err)
		os.Exit(1)
	}

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("invalid timezone", err, "timezone", conf.Timezone)
		os.Exit(1)
	}

	appLog.Info("actual-ical starting",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"cache_dir", conf.CacheDir,
		"clear_cache_on_error", conf.ClearCacheOnError,
		"check_cron", conf.CheckCron,
	)

	openSession := func() sched.Session {
		return actual.NewClient(actual.Options{
			ServerURL:    conf.ServerURL,
			Password:     conf.Password,
			SyncID:       conf.SyncID,
			SyncPassword: conf.SyncPassword,
			CacheDir:     conf.CacheDir,
			Location:     loc,
		})
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	checker := &health.Checker{Open: openSession, Timeout: conf.RequestTimeout()}

	// One-shot connectivity check mode.
	if flags.check {
		if err := checker.Run(ctx); err != nil {
			os.Exit(1)
		}
		return
	}

	if runner, err := checker.Start(ctx, conf.CheckCron); err != nil {
		appLog.Error("failed to schedule connectivity check", err, "cron", conf.CheckCron)
		os.Exit(1)
	} else if runner != nil {
		defer runner.Stop()
	}

	generator := &feed.Generator{
		Source:   sched.New(conf.CacheDir, conf.ClearCacheOnError, openSession),
		Location: loc,
	}

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, generator).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.Error("HTTP server shutdown failed", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
			os.Exit(1)
		}
	}

	appLog.Info("actual-ical exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "", "Path to YAML config file (optional; env vars take precedence)")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.check, "check", false, "Run one backend connectivity check and exit")

	flag.Parse()

	return cfg
}
