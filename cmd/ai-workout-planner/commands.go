package main

import (
	"fmt"
	"os"

	"ai-workout-planner/internal/app"
	"ai-workout-planner/internal/menu"
	"ai-workout-planner/internal/metrics"
	"ai-workout-planner/internal/planner"
	"ai-workout-planner/internal/profile"

	"github.com/spf13/cobra"
)

var (
	menuDate      string
	bodyPart      string
	timeLimitMin  int
	goal          string
	applyStrategy string
	weightsFlag   string
	allowWeights  bool
	applyAfter    bool
	menuFile      string
	logLimit      int
	sessionLimit  int
	exportFormat  string
	exportKeep    int
	usageDays     int
	retentionDays int
)

// generateCmd asks the model for today's menu
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a workout menu",
	Long: `Generate a workout menu for a body part from your recent training.

The menu is printed as JSON. With --apply it is also written to the
session of the date.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy, err := parseApplyStrategy(applyStrategy)
		if err != nil {
			return err
		}
		weights, err := planner.ParseWeightStrategy(weightsFlag)
		if err != nil {
			return err
		}
		date := dateOrToday()

		res, err := application.GenerateTodayMenu(cmd.Context(), date, app.GenerateOptions{
			BodyPart:              bodyPart,
			TimeLimitMin:          timeLimitMin,
			Goal:                  goal,
			ApplyStrategy:         strategy,
			AllowWeightSuggestion: allowWeights,
		})
		if err != nil {
			return err
		}
		if res.Quality == menu.QualitySalvaged {
			fmt.Fprintf(cmd.ErrOrStderr(), "note: the menu was normalized leniently (%d corrections)\n", len(res.Notes))
		}
		if err := printJSON(cmd, res.Menu); err != nil {
			return err
		}

		if !applyAfter {
			return nil
		}
		result, err := application.ApplyTodayMenu(cmd.Context(), date, res.Menu, strategy, weights)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "applied to %s: %d exercises, %d sets\n", date, len(result.ExerciseIDs), len(result.SetIDs))
		return nil
	},
}

// applyCmd writes a saved menu into the workout log
var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a menu JSON file to a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy, err := parseApplyStrategy(applyStrategy)
		if err != nil {
			return err
		}
		weights, err := planner.ParseWeightStrategy(weightsFlag)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(menuFile)
		if err != nil {
			return fmt.Errorf("failed to read menu file: %w", err)
		}
		res, err := menu.Normalize(string(data), menu.Options{Locale: cfg.Locale})
		if err != nil {
			return err
		}

		date := dateOrToday()
		result, err := application.ApplyTodayMenu(cmd.Context(), date, res.Menu, strategy, weights)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	},
}

// sessionCmd prints the exercises and sets of a day
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Show the session of a date",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, sets, err := application.SessionSummary(cmd.Context(), dateOrToday())
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"exercises": entries, "sets": sets})
	},
}

// sessionsCmd lists recent sessions with their counts
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent sessions with exercise and set counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := application.ListSessions(cmd.Context(), sessionLimit)
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no sessions yet")
			return nil
		}
		for _, s := range stats {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %d exercises  %d sets\n", s.Date, s.ExerciseCount, s.SetCount)
		}
		return nil
	},
}

// exerciseCmd prints the bests and recent sets of one exercise
var exerciseCmd = &cobra.Command{
	Use:   "exercise <name>",
	Short: "Show personal bests and recent sets of an exercise",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := application.ExerciseSummary(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, summary)
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or update the training profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := application.Profile(cmd.Context())
		if err != nil {
			return err
		}
		if p == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "no profile saved")
			return nil
		}
		return printJSON(cmd, p)
	},
}

// profileSetCmd updates only the flags that were given
var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update profile fields",
	RunE: func(cmd *cobra.Command, args []string) error {
		current, err := application.Profile(cmd.Context())
		if err != nil {
			return err
		}
		p := profile.Profile{}
		if current != nil {
			p = *current
		}

		flags := cmd.Flags()
		setString := func(name string, dst **string) {
			if flags.Changed(name) {
				v, _ := flags.GetString(name)
				*dst = &v
			}
		}
		setInt := func(name string, dst **int) {
			if flags.Changed(name) {
				v, _ := flags.GetInt(name)
				*dst = &v
			}
		}
		setFloat := func(name string, dst **float64) {
			if flags.Changed(name) {
				v, _ := flags.GetFloat64(name)
				*dst = &v
			}
		}
		setString("goal", &p.Goal)
		setInt("frequency", &p.FrequencyPerWeek)
		setInt("duration", &p.SessionDurationMin)
		setString("equipment", &p.Equipment)
		setString("injury", &p.InjuryOrPain)
		setString("experience", &p.ExperienceLevel)
		setInt("age", &p.Age)
		setString("sex", &p.Sex)
		setFloat("height", &p.HeightCm)
		setFloat("weight", &p.WeightKg)

		saved, err := application.SaveProfile(cmd.Context(), p)
		if err != nil {
			return err
		}
		return printJSON(cmd, saved)
	},
}

// logsCmd lists recent AI interactions
var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "List recent AI interaction logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := application.RecentLogs(cmd.Context(), logLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd, records)
	},
}

// exportCmd dumps the workout log to the export directory
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the workout log as JSON or CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			path string
			err  error
		)
		switch exportFormat {
		case "json":
			path, err = application.ExportJSON(cmd.Context())
		case "csv":
			path, err = application.ExportSetsCSV(cmd.Context())
		default:
			return fmt.Errorf("unknown export format %q (json or csv)", exportFormat)
		}
		if err != nil {
			return err
		}
		if exportKeep > 0 {
			if err := application.PruneExports(exportKeep); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show daily token usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		usage, err := application.DailyUsage(cmd.Context(), usageDays)
		if err != nil {
			return err
		}
		for _, d := range usage {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %d tokens  (%d execs)\n", d.Date, d.Tokens(), d.TotalExecution)
		}
		health := application.SysHealth()
		fmt.Fprintf(cmd.OutOrStdout(), "RAM %dMB alloc / %dMB sys, database %s, exports %s (%d files)\n",
			health.AllocMB, health.SysMB, metrics.FormatBytes(health.DatabaseBytes), metrics.FormatBytes(health.ExportBytes), health.ExportFiles)
		return nil
	},
}

var metricsCleanupCmd = &cobra.Command{
	Use:   "metrics-cleanup",
	Short: "Remove old metric records",
	RunE: func(cmd *cobra.Command, args []string) error {
		affected, err := application.CleanupMetrics(cmd.Context(), retentionDays)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Successfully removed %d old metric records.\n", affected)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{generateCmd, applyCmd, sessionCmd} {
		c.Flags().StringVar(&menuDate, "date", "", "Session date (YYYY-MM-DD), defaults to today")
	}
	for _, c := range []*cobra.Command{generateCmd, applyCmd} {
		c.Flags().StringVar(&applyStrategy, "strategy", string(planner.ApplyAppend), "How to apply the menu: append or replace")
		c.Flags().StringVar(&weightsFlag, "weights", string(planner.WeightLast), "Weight source: last or ai_or_last")
	}

	generateCmd.Flags().StringVar(&bodyPart, "part", "", "Body part to train")
	generateCmd.Flags().IntVar(&timeLimitMin, "minutes", 0, "Time limit in minutes")
	generateCmd.Flags().StringVar(&goal, "goal", "", "Goal for today")
	generateCmd.Flags().BoolVar(&allowWeights, "suggest-weights", false, "Let the model suggest weights")
	generateCmd.Flags().BoolVar(&applyAfter, "apply", false, "Apply the generated menu")
	generateCmd.MarkFlagRequired("part")

	applyCmd.Flags().StringVarP(&menuFile, "file", "f", "", "Menu JSON file")
	applyCmd.MarkFlagRequired("file")

	profileSetCmd.Flags().String("goal", "", "Training goal")
	profileSetCmd.Flags().Int("frequency", 0, "Sessions per week")
	profileSetCmd.Flags().Int("duration", 0, "Session duration in minutes")
	profileSetCmd.Flags().String("equipment", "", "Available equipment")
	profileSetCmd.Flags().String("injury", "", "Injuries or pain")
	profileSetCmd.Flags().String("experience", "", "beginner, intermediate or advanced")
	profileSetCmd.Flags().Int("age", 0, "Age")
	profileSetCmd.Flags().String("sex", "", "male, female, other or prefer_not_to_say")
	profileSetCmd.Flags().Float64("height", 0, "Height in cm")
	profileSetCmd.Flags().Float64("weight", 0, "Body weight in kg")
	profileCmd.AddCommand(profileShowCmd, profileSetCmd)

	logsCmd.Flags().IntVar(&logLimit, "limit", 20, "Number of records")
	sessionsCmd.Flags().IntVar(&sessionLimit, "limit", 30, "Number of sessions")

	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Export format: json or csv")
	exportCmd.Flags().IntVar(&exportKeep, "keep", 0, "Keep only the newest N exports of each format")

	metricsCmd.Flags().IntVar(&usageDays, "days", 7, "Number of days to report")
	metricsCleanupCmd.Flags().IntVar(&retentionDays, "days", 30, "Keep records for the last N days")
}

func dateOrToday() string {
	if menuDate != "" {
		return menuDate
	}
	return today()
}

func parseApplyStrategy(s string) (planner.ApplyStrategy, error) {
	switch planner.ApplyStrategy(s) {
	case planner.ApplyAppend, planner.ApplyReplace:
		return planner.ApplyStrategy(s), nil
	}
	return "", fmt.Errorf("unknown apply strategy %q (append or replace)", s)
}
