package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/config"
	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/integrations/slack"
	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/jobs"
	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/logging"
	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/middleware"
	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/pipeline"
	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/ratelimit"
	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/services"
	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/storage"
)

func main() {
	logger := logging.SetupLogger()
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		slog.Error("Failed to open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Each external dependency gets its own request budget.
	slackLimiter := ratelimit.NewLimiter(50, time.Minute)
	openaiLimiter := ratelimit.NewLimiter(60, time.Minute)

	slackClient := slack.NewClient(cfg.SlackBotToken, slackLimiter, slack.Options{})
	ctx := context.Background()
	if err := slackClient.Connect(ctx); err != nil {
		if errors.Is(err, slack.ErrConnectionExhausted) {
			slog.Error("Slack connection retry budget exhausted", "error", err)
		} else {
			slog.Error("Failed to connect to Slack", "error", err)
		}
		os.Exit(1)
	}
	defer slackClient.Disconnect()
	slog.Info("Connected to Slack", "bot_user", slackClient.BotUserID())

	extractor := services.NewExtractor(cfg.OpenAIAPIKey, openaiLimiter)

	pipe := pipeline.New(slackClient, extractor, store, pipeline.Options{
		BatchSize:    cfg.ChannelBatchSize,
		WindowDays:   cfg.WindowDays,
		HistoryLimit: cfg.HistoryLimit,
	})

	if cfg.Port != "" {
		go serveOps(cfg.Port)
	}

	if cfg.Schedule == "" {
		if err := runOnce(ctx, pipe); err != nil {
			os.Exit(1)
		}
		return
	}

	scheduler, err := jobs.NewScheduler(cfg.Schedule, func() {
		// A failed scheduled run waits for the next tick.
		_ = runOnce(context.Background(), pipe)
	})
	if err != nil {
		slog.Error("Failed to create scheduler", "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("Shutting down", "signal", sig.String())
}

func runOnce(ctx context.Context, pipe *pipeline.Pipeline) error {
	summary, err := pipe.Run(ctx)
	if err != nil {
		slog.Error("Pipeline run failed", "error", err)
		return err
	}
	slog.Info("Run summary",
		"discovered", summary.ChannelsDiscovered,
		"processed", summary.ChannelsProcessed,
		"messages", summary.MessagesIngested,
		"opportunities", summary.OpportunitiesFound,
		"skipped", summary.Skipped)
	return nil
}

// serveOps exposes liveness and metrics endpoints for operators.
func serveOps(port string) {
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	slog.Info("Ops server listening", "port", port)
	if err := http.ListenAndServe(":"+port, router); err != nil {
		slog.Error("Ops server stopped", "error", err)
	}
}
