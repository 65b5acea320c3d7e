package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-workout-planner/internal/app"
	"ai-workout-planner/internal/config"
	"ai-workout-planner/internal/database"
	"ai-workout-planner/internal/llm"
	"ai-workout-planner/internal/logger"
	"ai-workout-planner/internal/telegram"

	"github.com/robfig/cron"
)

const (
	metricsRetentionDays = 30
	exportsToKeep        = 5
)

func main() {
	// 1. Load Configuration
	cfg, err := config.NewFromEnv()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	if err := cfg.RequireTelegram(); err != nil {
		log.Fatal("Invalid telegram configuration", "error", err)
	}

	ctx := context.Background()

	// 2. Initialize Infrastructure (LLM, database)
	llmClient, err := llm.NewClient(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to create LLM client", "error", err)
	}
	defer llmClient.Close()

	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to initialize database", "error", err)
	}

	// 3. Initialize Services
	application, err := app.NewApp(cfg, log, db, llmClient)
	if err != nil {
		log.Fatal("Failed to initialize app", "error", err)
	}
	defer application.Close()

	sessions := telegram.NewSessionRepository(db.SQL)

	// 4. Initialize Telegram Bot
	bot, err := telegram.NewBot(cfg, application, sessions, log)
	if err != nil {
		log.Fatal("Failed to initialize Telegram Bot", "error", err)
	}

	// 5. Schedule maintenance
	scheduler := cron.New()
	if err := scheduler.AddFunc("@hourly", func() { runMaintenance(log, application, sessions) }); err != nil {
		log.Fatal("Failed to schedule maintenance", "error", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// 6. Start Server with Graceful Shutdown
	mux := http.NewServeMux()
	bot.RegisterHandlers(mux)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		log.Info("Telegram Bot Server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Server exiting")
}

// runMaintenance drops expired pending menus, old metrics and stale exports.
func runMaintenance(log *logger.Logger, application *app.App, sessions *telegram.SessionRepository) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if n, err := sessions.CleanupExpired(ctx); err != nil {
		log.Warn("Failed to clean up expired sessions", "error", err)
	} else if n > 0 {
		log.Info("Expired sessions removed", "count", n)
	}

	if n, err := application.CleanupMetrics(ctx, metricsRetentionDays); err != nil {
		log.Warn("Failed to clean up metrics", "error", err)
	} else if n > 0 {
		log.Info("Old metric records removed", "count", n)
	}

	if err := application.PruneExports(exportsToKeep); err != nil {
		log.Warn("Failed to prune exports", "error", err)
	}
}
