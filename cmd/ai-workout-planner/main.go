package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"ai-workout-planner/internal/app"
	"ai-workout-planner/internal/config"
	"ai-workout-planner/internal/database"
	"ai-workout-planner/internal/llm"
	"ai-workout-planner/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfg         *config.Config
	log         *logger.Logger
	llmClient   llm.LLMClient
	application *app.App
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ai-workout-planner",
	Short: "Generate and record AI workout menus",
	Long: `ai-workout-planner builds today's workout menu from your recent training
and profile, validates the model's answer and writes it to the workout log.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.NewFromEnv()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		log, err = logger.New(cfg.LogMode)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		llmClient, err = llm.NewClient(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize LLM client: %w", err)
		}

		db, err := database.NewDB(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}

		application, err = app.NewApp(cfg, log, db, llmClient)
		if err != nil {
			db.Close()
			return fmt.Errorf("failed to initialize app: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if application != nil {
			application.Close()
		}
		if llmClient != nil {
			llmClient.Close()
		}
		if log != nil {
			log.Sync()
		}
	},
}

func main() {
	rootCmd.AddCommand(generateCmd, applyCmd, sessionCmd, sessionsCmd, exerciseCmd, profileCmd, chatCmd, logsCmd, exportCmd, metricsCmd, metricsCleanupCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// today returns the current date in the configured device timezone.
func today() string {
	loc, err := time.LoadLocation(cfg.DeviceTimezone)
	if err != nil {
		loc = time.UTC
	}
	return time.Now().In(loc).Format("2006-01-02")
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
