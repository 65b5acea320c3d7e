package planner

import (
	"context"
	"fmt"

	"ai-workout-planner/internal/ailog"
	"ai-workout-planner/internal/llm"
	"ai-workout-planner/internal/logger"
	"ai-workout-planner/internal/menu"
	"ai-workout-planner/internal/profile"
	"ai-workout-planner/internal/shared"
)

// ProfileReader returns the stored user profile, or nil when none exists.
type ProfileReader interface {
	Get(ctx context.Context) (*profile.Profile, error)
}

// Generator produces today's workout menu from profile and history.
type Generator struct {
	history  HistoryReader
	profiles ProfileReader
	textGen  llm.TextGenerator
	logs     ailog.Logger
	log      *logger.Logger
}

// NewGenerator creates a new Generator instance.
func NewGenerator(
	history HistoryReader,
	profiles ProfileReader,
	textGen llm.TextGenerator,
	logs ailog.Logger,
	log *logger.Logger,
) *Generator {
	return &Generator{
		history:  history,
		profiles: profiles,
		textGen:  textGen,
		logs:     logs,
		log:      log,
	}
}

// GenerateMenu builds the prompt, asks the model for a menu and validates
// it, repairing an invalid first answer at most once. Exactly one
// interaction record is written once a request has been composed.
func (g *Generator) GenerateMenu(ctx context.Context, req MenuRequest) (*menu.Result, []shared.AgentMeta, error) {
	p, err := g.profiles.Get(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load profile: %w", err)
	}
	summary, err := BuildRecentTrainingSummary(ctx, g.history, req.Date, req.BodyPart)
	if err != nil {
		return nil, nil, err
	}
	prompt, err := ComposeTodayMenuPrompt(req, profile.FormatForPrompt(p), summary)
	if err != nil {
		return nil, nil, err
	}

	flow := newRepairFlow(g.textGen, prompt, menu.Options{Locale: req.Locale})
	res, runErr := flow.run(ctx)
	g.record(ctx, req, prompt, flow, res, runErr)

	if runErr != nil {
		g.log.Error("Menu generation failed", "date", req.Date, "body_part", req.BodyPart, "state", flow.state.String(), "error", runErr)
		return nil, flow.metas, runErr
	}
	if res.Quality == menu.QualitySalvaged {
		g.log.Warn("Menu parsed leniently", "date", req.Date, "shape", res.Shape.String(), "notes", res.Notes)
	}
	g.log.Info("Menu generated", "date", req.Date, "items", len(res.Menu.Items), "attempts", len(flow.metas))
	return res, flow.metas, nil
}

// record writes the single interaction record; write failures are logged
// and never replace the generation outcome.
func (g *Generator) record(ctx context.Context, req MenuRequest, prompt Prompt, flow *repairFlow, res *menu.Result, runErr error) {
	rec := ailog.Record{
		Kind:         ailog.KindTodayMenu,
		RequestText:  prompt.Text,
		ResponseText: flow.responseText(),
	}
	if req.Date != "" {
		date := req.Date
		rec.Date = &date
	}
	if runErr != nil {
		msg := runErr.Error()
		rec.Error = &msg
	} else if res != nil {
		if parsed, err := res.Menu.JSON(); err == nil {
			rec.ParsedJSON = &parsed
		}
	}

	if _, err := g.logs.Create(context.WithoutCancel(ctx), rec); err != nil {
		g.log.Warn("Failed to write AI interaction log", "error", err)
	}
}
