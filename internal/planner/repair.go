package planner

import (
	"context"
	"strings"
	"time"

	"ai-workout-planner/internal/llm"
	"ai-workout-planner/internal/menu"
	"ai-workout-planner/internal/shared"
)

const (
	agentTodayMenu       = "today_menu"
	agentTodayMenuRepair = "today_menu_repair"
	repairResponseMarker = "<<REPAIR_RESPONSE>>"
)

// repairState is the state of one generation: Requested → {Valid, Invalid};
// Invalid → RepairRequested → {Valid, Failed}. Only Requested can reach
// Invalid, so at most one repair request is ever sent.
type repairState int

const (
	stateRequested repairState = iota
	stateInvalid
	stateRepairRequested
	stateValid
	stateFailed
)

func (s repairState) String() string {
	switch s {
	case stateRequested:
		return "requested"
	case stateInvalid:
		return "invalid"
	case stateRepairRequested:
		return "repair_requested"
	case stateValid:
		return "valid"
	default:
		return "failed"
	}
}

func (s repairState) terminal() bool {
	return s == stateValid || s == stateFailed
}

// repairFlow drives one generation through its states and collects what
// the interaction log needs.
type repairFlow struct {
	textGen llm.TextGenerator
	prompt  Prompt
	opts    menu.Options

	state     repairState
	firstErr  error
	err       error
	lastRaw   string
	result    *menu.Result
	responses []string
	metas     []shared.AgentMeta
}

func newRepairFlow(textGen llm.TextGenerator, prompt Prompt, opts menu.Options) *repairFlow {
	return &repairFlow{textGen: textGen, prompt: prompt, opts: opts, state: stateRequested}
}

func (f *repairFlow) run(ctx context.Context) (*menu.Result, error) {
	for !f.state.terminal() {
		f.step(ctx)
	}
	return f.result, f.err
}

func (f *repairFlow) step(ctx context.Context) {
	switch f.state {
	case stateRequested:
		res, err := f.attempt(ctx, agentTodayMenu, f.prompt)
		switch {
		case err == nil:
			f.result = res
			f.state = stateValid
		case IsRepairable(err):
			f.firstErr = err
			f.state = stateInvalid
		default:
			f.err = err
			f.state = stateFailed
		}

	case stateInvalid:
		f.state = stateRepairRequested

	case stateRepairRequested:
		repair, err := ComposeRepairPrompt(f.prompt, f.lastRaw, f.firstErr)
		if err == nil {
			var res *menu.Result
			res, err = f.attempt(ctx, agentTodayMenuRepair, repair)
			if err == nil {
				f.result = res
				f.state = stateValid
				return
			}
		}
		f.err = &RepairExhaustedError{Original: f.firstErr, Repair: err}
		f.state = stateFailed
	}
}

// attempt performs one transport round-trip and normalizes its output.
func (f *repairFlow) attempt(ctx context.Context, agent string, p Prompt) (*menu.Result, error) {
	start := time.Now()
	resp, err := f.textGen.GenerateContent(ctx, p.Request())
	f.metas = append(f.metas, shared.AgentMeta{AgentName: agent, Usage: resp.Usage, Latency: time.Since(start)})
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.Menu != nil {
		f.lastRaw = string(resp.Menu)
		f.responses = append(f.responses, f.lastRaw)
		return menu.NormalizeValue(resp.Menu, f.opts)
	}
	f.lastRaw = resp.Content
	f.responses = append(f.responses, resp.Content)
	return menu.Normalize(resp.Content, f.opts)
}

// responseText joins every raw response for the interaction log.
func (f *repairFlow) responseText() *string {
	if len(f.responses) == 0 {
		return nil
	}
	s := strings.Join(f.responses, "\n\n"+repairResponseMarker+"\n")
	return &s
}
