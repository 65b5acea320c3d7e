package app

import (
	"context"
	"errors"
	"fmt"

	"ai-workout-planner/internal/ailog"
	"ai-workout-planner/internal/chat"
	"ai-workout-planner/internal/config"
	"ai-workout-planner/internal/database"
	"ai-workout-planner/internal/llm"
	"ai-workout-planner/internal/logger"
	"ai-workout-planner/internal/menu"
	"ai-workout-planner/internal/metrics"
	"ai-workout-planner/internal/planner"
	"ai-workout-planner/internal/profile"
	"ai-workout-planner/internal/shared"
	"ai-workout-planner/internal/storage"
	"ai-workout-planner/internal/workout"
)

// ErrUnknownExercise is returned for exercise names not in the workout log.
var ErrUnknownExercise = errors.New("unknown exercise")

const recentExerciseSets = 5

// App holds the application's dependencies.
type App struct {
	cfg          *config.Config
	log          *logger.Logger
	db           *database.DB
	workouts     *workout.Repository
	profiles     *profile.Repository
	aiLogs       *ailog.Repository
	metricsStore *metrics.Store
	generator    *planner.Generator
	coach        *planner.Coach
	chats        *chat.Repository
	exports      *storage.ExportStore
	history      *CommandHistory
}

// NewApp creates and initializes a new App instance.
func NewApp(cfg *config.Config, log *logger.Logger, db *database.DB, textGen llm.TextGenerator) (*App, error) {
	workouts := workout.NewRepository(db.SQL)
	profiles := profile.NewRepository(db.SQL)
	aiLogs := ailog.NewRepository(db.SQL)

	exports, err := storage.NewExportStore(cfg.ExportPath, workouts)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:          cfg,
		log:          log,
		db:           db,
		workouts:     workouts,
		profiles:     profiles,
		aiLogs:       aiLogs,
		metricsStore: metrics.NewStore(db.SQL),
		generator:    planner.NewGenerator(workouts, profiles, textGen, aiLogs, log),
		coach:        planner.NewCoach(profiles, textGen, aiLogs, log),
		chats:        chat.NewRepository(db.SQL),
		exports:      exports,
		history:      NewCommandHistory(defaultHistoryLimit),
	}, nil
}

// GenerateOptions are the caller's choices for one menu.
type GenerateOptions struct {
	BodyPart              string
	TimeLimitMin          int
	Goal                  string
	ApplyStrategy         planner.ApplyStrategy
	AllowWeightSuggestion bool
}

// GenerateTodayMenu asks the model for a menu for date. The whole
// generation runs under the configured generation timeout.
func (a *App) GenerateTodayMenu(ctx context.Context, date string, opts GenerateOptions) (*menu.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.GenerationTimeout)
	defer cancel()

	res, metas, err := a.generator.GenerateMenu(ctx, planner.MenuRequest{
		Date:                  date,
		BodyPart:              opts.BodyPart,
		TimeLimitMin:          opts.TimeLimitMin,
		Goal:                  opts.Goal,
		ApplyStrategy:         opts.ApplyStrategy,
		AllowWeightSuggestion: opts.AllowWeightSuggestion,
		Locale:                a.cfg.Locale,
		Timezone:              a.cfg.DeviceTimezone,
	})

	// Record metrics for each agent execution
	for _, meta := range metas {
		if err := a.metricsStore.RecordMeta(context.WithoutCancel(ctx), meta); err != nil {
			a.log.Warn("Failed to record metrics", "agent", meta.AgentName, "error", err)
		}
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("menu generation timed out after %s: %w", a.cfg.GenerationTimeout, err)
		}
		return nil, fmt.Errorf("failed to generate menu: %w", err)
	}
	usage := shared.TotalUsage(metas)
	a.log.Info("Menu generated", "date", date, "attempts", len(metas), "tokens", usage.Total(), "quality", string(res.Quality))
	return res, nil
}

// ApplyTodayMenu materializes m into the session for date. Under the replace
// strategy the session's existing exercises and sets are removed first, in
// the same transaction.
func (a *App) ApplyTodayMenu(ctx context.Context, date string, m *menu.Menu, strategy planner.ApplyStrategy, weights planner.WeightStrategy) (*planner.ApplyResult, error) {
	var result *planner.ApplyResult
	err := a.workouts.InTx(ctx, func(tx *workout.Repository) error {
		session, err := tx.GetOrCreateSession(ctx, date)
		if err != nil {
			return err
		}

		if strategy == planner.ApplyReplace {
			entries, err := tx.ExercisesBySession(ctx, session.ID)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if err := tx.RemoveExerciseFromSession(ctx, session.ID, e.ID); err != nil {
					return err
				}
			}
		}

		result, err = planner.NewApplier(tx).Apply(ctx, session.ID, m, weights)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply menu: %w", err)
	}

	a.history.Push(ApplyCommand{Date: date, Result: result})
	a.log.Info("Menu applied", "date", date, "strategy", string(strategy), "weights", string(weights), "sets", len(result.SetIDs))
	return result, nil
}

// UndoLastApply removes the sets added by the most recent apply and unlinks
// exercises it linked that no longer have sets in the session.
func (a *App) UndoLastApply(ctx context.Context) (*ApplyCommand, error) {
	cmd, ok := a.history.Pop()
	if !ok {
		return nil, ErrNothingToUndo
	}

	err := a.workouts.InTx(ctx, func(tx *workout.Repository) error {
		for _, id := range cmd.Result.SetIDs {
			if err := tx.DeleteSet(ctx, id); err != nil {
				return err
			}
		}
		for _, exerciseID := range cmd.Result.LinkedExerciseIDs {
			remaining, err := tx.SetsBySessionAndExercise(ctx, cmd.Result.SessionID, exerciseID)
			if err != nil {
				return err
			}
			if len(remaining) == 0 {
				if err := tx.RemoveExerciseFromSession(ctx, cmd.Result.SessionID, exerciseID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		a.history.Push(cmd)
		return nil, fmt.Errorf("failed to undo apply: %w", err)
	}
	a.log.Info("Apply undone", "date", cmd.Date, "sets", len(cmd.Result.SetIDs))
	return &cmd, nil
}

// Profile returns the stored profile, or nil.
func (a *App) Profile(ctx context.Context) (*profile.Profile, error) {
	return a.profiles.Get(ctx)
}

// SaveProfile validates and stores the profile.
func (a *App) SaveProfile(ctx context.Context, p profile.Profile) (*profile.Profile, error) {
	return a.profiles.Save(ctx, p)
}

// RecentLogs lists the latest AI interaction records.
func (a *App) RecentLogs(ctx context.Context, limit int) ([]ailog.Record, error) {
	return a.aiLogs.ListRecent(ctx, ailog.KindTodayMenu, limit)
}

// ExportJSON writes the full workout log and returns the file path.
func (a *App) ExportJSON(ctx context.Context) (string, error) {
	return a.exports.SaveJSON(ctx)
}

// ExportSetsCSV writes all sets as CSV and returns the file path.
func (a *App) ExportSetsCSV(ctx context.Context) (string, error) {
	return a.exports.SaveSetsCSV(ctx)
}

// PruneExports keeps the newest keep exports of each kind.
func (a *App) PruneExports(keep int) error {
	return a.exports.RemoveStaleVersions(keep)
}

// DailyUsage returns token usage of the last days.
func (a *App) DailyUsage(ctx context.Context, days int) ([]metrics.DailyUsage, error) {
	return a.metricsStore.GetDailyUsage(ctx, days)
}

// CleanupMetrics removes execution metrics older than days.
func (a *App) CleanupMetrics(ctx context.Context, days int) (int64, error) {
	return a.metricsStore.Cleanup(ctx, days)
}

// SysHealth reports runtime statistics and the database and export sizes.
func (a *App) SysHealth() metrics.SysHealth {
	return metrics.GetSysHealth(a.cfg.DatabasePath, a.cfg.ExportPath)
}

// SessionSummary lists the session for date with its exercises and sets.
func (a *App) SessionSummary(ctx context.Context, date string) ([]workout.SessionEntry, []workout.SetRecord, error) {
	session, err := a.workouts.SessionByDate(ctx, date)
	if err != nil || session == nil {
		return nil, nil, err
	}
	entries, err := a.workouts.ExercisesBySession(ctx, session.ID)
	if err != nil {
		return nil, nil, err
	}
	sets, err := a.workouts.SetsBySession(ctx, session.ID)
	if err != nil {
		return nil, nil, err
	}
	return entries, sets, nil
}

// ListSessions returns the latest limit sessions with their exercise and set
// counts.
func (a *App) ListSessions(ctx context.Context, limit int) ([]workout.SessionStats, error) {
	return a.workouts.SessionsWithStats(ctx, limit)
}

// ExerciseSummary returns the bests and latest sets of the exercise named
// name. It returns ErrUnknownExercise when no exercise has that name.
func (a *App) ExerciseSummary(ctx context.Context, name string) (*workout.ExerciseSummary, error) {
	ex, err := a.workouts.ExerciseByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if ex == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExercise, name)
	}
	recent, err := a.workouts.RecentSetsByExercise(ctx, ex.ID, recentExerciseSets)
	if err != nil {
		return nil, err
	}
	bests, err := a.workouts.BestsByExercise(ctx, ex.ID)
	if err != nil {
		return nil, err
	}
	if recent == nil {
		recent = []workout.ExerciseHistoryItem{}
	}
	return &workout.ExerciseSummary{Exercise: *ex, Recent: recent, ExerciseBests: bests}, nil
}

// Close closes the database connection.
func (a *App) Close() error {
	return a.db.Close()
}
