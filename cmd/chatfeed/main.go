package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatfeed/internal/config"
	"chatfeed/internal/constants"
	"chatfeed/internal/retry"
	"chatfeed/internal/service"
	"chatfeed/internal/store"
	"chatfeed/internal/tracing"
	"chatfeed/pkg/feedapi"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("chatfeed %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

// logNotifier surfaces user-facing action failures on the log. A rendering
// layer would show these as toasts instead.
type logNotifier struct {
	logger *logrus.Logger
}

func (n *logNotifier) NotifyError(message string) {
	n.logger.Warn(message)
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting chatfeed")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			logger.SetLevel(logrus.InfoLevel)
		} else {
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Open the offline cache with exponential backoff; a dead cache is not
	// fatal, the feed just starts empty
	var cache *store.Cache
	if cfg.Cache.Enabled {
		backoff := retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
			Multiplier:   2.0,
			MaxAttempts:  constants.DefaultCacheRetryAttempts,
			Jitter:       true,
		})

		err = backoff.Retry(ctx, func() error {
			var openErr error
			cache, openErr = store.OpenCache(cfg.Cache.Path)
			if openErr != nil {
				logger.Warnf("Failed to open message cache: %v", openErr)
			}
			return openErr
		}, nil)
		if err != nil {
			logger.Warnf("Message cache unavailable after retries, continuing without it: %v", err)
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	httpTimeout := cfg.API.TimeoutSec
	if httpTimeout <= 0 {
		httpTimeout = constants.DefaultHTTPTimeoutSec
	}
	client := feedapi.NewClientWithLogger(
		cfg.API.BaseURL,
		cfg.API.AuthToken,
		&http.Client{Timeout: time.Duration(httpTimeout) * time.Second},
		logger,
	)

	opts := service.EngineOptions{
		Notifier: &logNotifier{logger: logger},
		Logger:   logger,
	}
	if cache != nil {
		opts.Cache = cache
	}

	engine := service.NewEngine(cfg, client, opts)
	engine.Store().Subscribe(func(kind store.ChangeKind) {
		logger.WithFields(logrus.Fields{
			"change": kind,
			"count":  engine.Store().Len(),
		}).Debug("Feed updated")
	})

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start feed engine: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"group":        cfg.Feed.GroupID,
		"pollInterval": cfg.Poll.IntervalSec,
	}).Info("Feed engine running")

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	engine.Stop()
	logger.Info("Feed engine stopped")
	return nil
}
