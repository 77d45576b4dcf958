package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lysyi3m/rss-sentry/app/api"
	"github.com/lysyi3m/rss-sentry/app/cache"
	"github.com/lysyi3m/rss-sentry/app/cfg"
	"github.com/lysyi3m/rss-sentry/app/crawl"
	"github.com/lysyi3m/rss-sentry/app/database"
	"github.com/lysyi3m/rss-sentry/app/feed"
	"github.com/lysyi3m/rss-sentry/app/metrics"
	"github.com/lysyi3m/rss-sentry/app/social"
	"github.com/lysyi3m/rss-sentry/app/tasks"
)

func main() {
	if err := run(); err != nil {
		slog.Error("RSS Sentry stopped with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	appCfg, err := cfg.Load(os.Args[1:])
	if err != nil {
		return err
	}
	if appCfg == nil {
		// Help was shown
		return nil
	}

	logger := newLogger(appCfg)
	slog.SetDefault(logger)

	logger.Info("Starting RSS Sentry", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	sourceRepo := database.NewSourceRepository(db)
	keywordRepo := database.NewKeywordRepository(db)
	itemRepo := database.NewItemRepository(db)
	taskRepo := database.NewTaskRepository(db)
	logRepo := database.NewLogRepository(db)

	registry := feed.NewRegistry(appCfg.RegistryFile, logger)
	if err := registry.Load(); err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	synced, err := registry.Sync(context.Background(), sourceRepo, keywordRepo, taskRepo, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to sync registry: %w", err)
	}
	logger.Info("Registry synced",
		"file", appCfg.RegistryFile,
		"sources", synced.Sources,
		"keywords", synced.Keywords,
		"tasks_created", synced.TasksCreated)

	// Runs left open by a previous process can never be closed by their jobs.
	if n, err := logRepo.CloseOpenLogs(context.Background(), database.LogStatusFailed, "interrupted by restart", time.Now().UTC()); err != nil {
		logger.Warn("Failed to close stale crawl logs", "error", err)
	} else if n > 0 {
		logger.Warn("Closed stale crawl logs", "count", n)
	}
	if _, err := taskRepo.FailRunning(context.Background(), time.Now().UTC()); err != nil {
		logger.Warn("Failed to reset stale running tasks", "error", err)
	}

	registerer := prometheus.NewRegistry()
	registerer.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(registerer)

	var seen *cache.SeenCache
	if appCfg.RedisAddr != "" {
		seen, err = cache.NewSeenCache(context.Background(), appCfg.RedisAddr, 0)
		if err != nil {
			logger.Warn("Seen cache unavailable, using database only", "addr", appCfg.RedisAddr, "error", err)
			seen = nil
		} else {
			defer seen.Close()
			logger.Info("Seen cache connected", "addr", appCfg.RedisAddr)
		}
	}

	httpClient := &http.Client{Timeout: appCfg.FetchTimeout}
	fetcher := feed.NewFetcher(httpClient, appCfg.UserAgent, appCfg.FetchTimeout)

	var robots *feed.RobotsChecker
	if appCfg.RespectRobots {
		robots = feed.NewRobotsChecker(fetcher)
	}
	articles := feed.NewArticleFetcher(fetcher, feed.NewContentExtractor(), robots, appCfg.PolitenessDelay, logger)

	socialClient := social.NewClient(httpClient, appCfg.SocialSearchURL, appCfg.SocialBearerToken,
		appCfg.SocialMaxResults, appCfg.UserAgent, appCfg.FetchTimeout)
	if !socialClient.HasCredential() {
		logger.Warn("Social search credential not set, API sources will fail until it is configured")
	}

	deps := crawl.Deps{
		Sources:  sourceRepo,
		Keywords: keywordRepo,
		Items:    itemRepo,
		Feeds:    fetcher,
		Articles: articles,
		Posts:    socialClient,
		Metrics:  appMetrics,
		Logger:   logger,
	}
	if seen != nil {
		deps.Seen = seen
	}

	executor := crawl.NewExecutor(deps, crawl.Options{
		FullTextFallback: appCfg.FullTextFallback,
		SocialMaxTerms:   appCfg.SocialMaxTerms,
	})

	scheduler := tasks.NewScheduler(tasks.Deps{
		Sources: sourceRepo,
		Tasks:   taskRepo,
		Logs:    logRepo,
		Runner:  executor,
		Metrics: appMetrics,
		Logger:  logger,
	}, tasks.Options{
		WorkerCount:  appCfg.WorkerCount,
		TickInterval: appCfg.TickInterval,
	})
	scheduler.Start()
	defer scheduler.Stop()

	handlerDeps := api.Deps{
		Sources:    sourceRepo,
		Keywords:   keywordRepo,
		Items:      itemRepo,
		Tasks:      taskRepo,
		Logs:       logRepo,
		Operator:   scheduler,
		Controller: scheduler,
		Logger:     logger,
		Version:    appCfg.Version,
	}
	if seen != nil {
		handlerDeps.Cache = seen
	}

	server := api.NewServer(api.NewHandler(handlerDeps), appCfg.APIAccessKey, registerer)

	// Manual runs are synchronous, so the write timeout leaves room for a full crawl.
	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "port", appCfg.Port, "auth", appCfg.APIAccessKey != "")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("Received signal", "signal", sig.String())
	case runErr = <-serverErrChan:
	}

	logger.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	} else {
		logger.Info("HTTP server stopped")
	}

	return runErr
}

func newLogger(c *cfg.Cfg) *slog.Logger {
	level := slog.LevelInfo
	if c.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
