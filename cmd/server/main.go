package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/0xPuncker/batch-dispatcher/internal/api"
	"github.com/0xPuncker/batch-dispatcher/internal/config"
	"github.com/0xPuncker/batch-dispatcher/internal/cron"
	"github.com/0xPuncker/batch-dispatcher/internal/history"
	"github.com/0xPuncker/batch-dispatcher/internal/jobs"
	"github.com/0xPuncker/batch-dispatcher/internal/metrics"
	"github.com/0xPuncker/batch-dispatcher/internal/notifications"
	"github.com/0xPuncker/batch-dispatcher/internal/store"
	pkgconfig "github.com/0xPuncker/batch-dispatcher/pkg/config"
	"github.com/dimiro1/banner"
	"github.com/joho/godotenv"
	"github.com/mattn/go-colorable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const bannerText = `
{{ .Title "Batch Dispatcher" "" 0 }}
{{ .AnsiBackground.BrightBlue }}{{ .AnsiColor.White }}
{{ .AnsiReset }}
`

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Printf("No .env or .env.local file found. Using environment variables.\n")
		}
	}

	banner.Init(colorable.NewColorableStdout(), true, true, strings.NewReader(bannerText))

	configPath := flag.String("config", "config/config.json", "path to config file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05-07:00",
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Warnf("Invalid log level %q, using info", cfg.Log.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.Fatalf("Failed to open trigger store: %v", err)
	}

	scheduler, err := cron.NewScheduler(logger, cfg.Jobs)
	if err != nil {
		logger.Fatalf("Failed to create scheduler: %v", err)
	}
	scheduler.WithRepository(db)
	// Closed last, after the engine and every other owned resource.
	scheduler.Own("datasource", db)

	retention, _ := config.ParseDuration(cfg.History.Retention)
	recent := history.NewRecent(retention, cfg.History.Limit)
	scheduler.WithObserver(recent)
	scheduler.WithObserver(metrics.NewPrometheusObserver(prometheus.DefaultRegisterer, logger))

	slack, err := notifications.NewSlackService(logger, cfg.Slack.WebhookURL)
	if err != nil {
		logger.Warnf("Failed to initialize Slack service: %v", err)
	} else {
		notifier := notifications.NewNotificationService(slack, logger, cfg.Jobs.SchedulerName).
			WithSkipNotifications(cfg.Slack.NotifySkips)
		scheduler.WithObserver(notifier)
		scheduler.Own("slack-notifications", notifier)
	}

	importJob := jobs.NewImportUserJob(db.DB(), logger, cfg.Import.Source)
	if err := importJob.EnsureSchema(ctx); err != nil {
		logger.Fatalf("Failed to prepare %s: %v", jobs.ImportUserJobName, err)
	}
	if err := scheduler.RegisterJob(jobs.ImportUserJobName, "Imports people from CSV into the people table", importJob.Run); err != nil {
		logger.Fatalf("Failed to register job: %v", err)
	}

	if err := scheduler.Restore(ctx); err != nil {
		logger.Fatalf("Failed to restore persisted triggers: %v", err)
	}

	triggers, err := pkgconfig.LoadTriggers(cfg.Jobs.TriggersFile)
	switch {
	case err == nil:
		if err := scheduler.LoadPredefinedJobs(ctx, triggers.Triggers); err != nil {
			logger.Fatalf("Failed to load predefined jobs: %v", err)
		}
	case errors.Is(err, os.ErrNotExist):
		logger.Warnf("Trigger file %s not found, running with persisted triggers only", cfg.Jobs.TriggersFile)
	default:
		logger.Fatalf("Failed to load trigger file: %v", err)
	}

	if err := scheduler.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	go func() {
		if err := config.WatchTriggers(ctx, cfg.Jobs.TriggersFile, logger, scheduler.LoadPredefinedJobs); err != nil {
			logger.Warnf("Trigger file watcher stopped: %v", err)
		}
	}()

	if slack != nil {
		startupNotifier := notifications.NewStartupNotifier(scheduler, slack, logger, cfg.Jobs.SchedulerName)
		go func() {
			if err := startupNotifier.NotifyStartup(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warnf("Startup notification failed: %v", err)
			}
		}()
	}

	readTimeout, _ := config.ParseDuration(cfg.Server.ReadTimeout)
	writeTimeout, _ := config.ParseDuration(cfg.Server.WriteTimeout)

	handler := api.NewHandler(scheduler, recent, logger)
	router := api.NewRouter(handler, prometheus.DefaultGatherer)

	logger.Infof("Server starting on port %s - Press Ctrl+C to stop.", cfg.Server.Port)

	if err := api.StartServer(ctx, router, api.ServerOptions{
		Port:         cfg.Server.Port,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}, logger); err != nil {
		logger.Errorf("Server error: %v", err)
	}
	stop()

	logger.Info("Shutting down scheduler...")
	start := time.Now()
	scheduler.Stop(context.Background())

	logger.Infof("Server stopped after %s", time.Since(start).Round(time.Millisecond))
}
