package planner

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ai-workout-planner/internal/menu"
	"ai-workout-planner/internal/workout"
)

// WeightStrategy selects how applied sets get their weight.
type WeightStrategy string

const (
	// WeightLast always uses the exercise's last recorded weight.
	WeightLast WeightStrategy = "last"
	// WeightAIOrLast prefers the suggested weight and falls back to the last one.
	WeightAIOrLast WeightStrategy = "ai_or_last"
)

// ParseWeightStrategy validates a strategy name.
func ParseWeightStrategy(s string) (WeightStrategy, error) {
	switch WeightStrategy(s) {
	case WeightLast, WeightAIOrLast:
		return WeightStrategy(s), nil
	case "":
		return WeightLast, nil
	}
	return "", fmt.Errorf("unknown weight strategy %q", s)
}

// ApplyResult lists what an apply run wrote.
type ApplyResult struct {
	SessionID string
	// ExerciseIDs are the exercises of the menu in item order.
	ExerciseIDs []string
	// LinkedExerciseIDs are exercises newly linked into the session.
	LinkedExerciseIDs []string
	SetIDs            []string
}

// Applier materializes a validated menu into the workout store.
type Applier struct {
	repo *workout.Repository
}

// NewApplier creates a new Applier.
func NewApplier(repo *workout.Repository) *Applier {
	return &Applier{repo: repo}
}

// Apply appends the menu's sets to the session inside one transaction.
// Applying the same menu twice appends its sets twice.
func (a *Applier) Apply(ctx context.Context, sessionID string, m *menu.Menu, strategy WeightStrategy) (*ApplyResult, error) {
	if strategy != WeightLast && strategy != WeightAIOrLast {
		return nil, fmt.Errorf("unknown weight strategy %q", strategy)
	}

	var result *ApplyResult
	err := a.repo.InTx(ctx, func(tx *workout.Repository) error {
		res := &ApplyResult{SessionID: sessionID}
		for _, item := range m.Items {
			name := strings.TrimSpace(item.ExerciseName)
			if name == "" {
				continue
			}
			var bodyPart *string
			if bp := strings.TrimSpace(item.BodyPart); bp != "" {
				bodyPart = &bp
			}

			ex, err := resolveExercise(ctx, tx, name, bodyPart)
			if err != nil {
				return err
			}
			_, created, err := tx.AddExerciseToSession(ctx, sessionID, ex.ID)
			if err != nil {
				return err
			}
			res.ExerciseIDs = append(res.ExerciseIDs, ex.ID)
			if created {
				res.LinkedExerciseIDs = append(res.LinkedExerciseIDs, ex.ID)
			}

			last, err := tx.LastSetByExercise(ctx, ex.ID)
			if err != nil {
				return err
			}
			for _, set := range item.Sets {
				weight := resolveWeight(strategy, set.Weight, last)
				memo := menu.JoinMemo(set.Memo, setMetaMemo(set), item.Note)
				rec, err := tx.AddSet(ctx, sessionID, ex.ID, weight, set.Reps, memo)
				if err != nil {
					return err
				}
				res.SetIDs = append(res.SetIDs, rec.ID)
			}
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// resolveExercise finds the exercise by name and body part, then by name
// alone (tagging an untagged match), and creates it otherwise.
func resolveExercise(ctx context.Context, tx *workout.Repository, name string, bodyPart *string) (*workout.Exercise, error) {
	ex, err := tx.ExerciseByNameAndPart(ctx, name, bodyPart)
	if err != nil || ex != nil {
		return ex, err
	}

	ex, err = tx.ExerciseByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if ex != nil {
		if ex.BodyPart == nil && bodyPart != nil {
			if err := tx.UpdateExerciseBodyPart(ctx, ex.ID, bodyPart); err != nil {
				return nil, err
			}
			ex.BodyPart = bodyPart
		}
		return ex, nil
	}

	return tx.CreateExercise(ctx, name, bodyPart)
}

func resolveWeight(strategy WeightStrategy, suggested *float64, last *workout.SetRecord) float64 {
	if strategy == WeightAIOrLast && suggested != nil {
		return *suggested
	}
	if last != nil {
		return last.Weight
	}
	return 0
}

// setMetaMemo renders the optional RPE and rest fields, e.g. "RPE8 rest90s".
func setMetaMemo(s menu.Set) *string {
	var pieces []string
	if s.RPE != nil {
		pieces = append(pieces, "RPE"+strconv.FormatFloat(*s.RPE, 'f', -1, 64))
	}
	if s.RestSec != nil {
		pieces = append(pieces, "rest"+strconv.FormatFloat(*s.RestSec, 'f', -1, 64)+"s")
	}
	if len(pieces) == 0 {
		return nil
	}
	meta := strings.Join(pieces, " ")
	return &meta
}
