// Package shared holds the model-call bookkeeping types passed between the
// planner, the app and the metrics store.
package shared

import (
	"time"
)

// TokenUsage counts the tokens one model call consumed.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	// TotalTokens is the provider's own total. It is zero when the provider
	// reports none.
	TotalTokens int
	Model       string
}

// Total returns the provider total, falling back to prompt plus completion.
func (u TokenUsage) Total() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}

// Empty reports whether the call counted no tokens at all.
func (u TokenUsage) Empty() bool {
	return u.Total() == 0
}

// AgentMeta describes one model call made by a workflow step.
type AgentMeta struct {
	AgentName string
	Usage     TokenUsage
	Latency   time.Duration
}

// TotalUsage sums the usage of every call of a workflow. Model is taken from
// the last call that named one.
func TotalUsage(metas []AgentMeta) TokenUsage {
	var sum TokenUsage
	for _, m := range metas {
		sum.PromptTokens += m.Usage.PromptTokens
		sum.CompletionTokens += m.Usage.CompletionTokens
		sum.TotalTokens += m.Usage.Total()
		if m.Usage.Model != "" {
			sum.Model = m.Usage.Model
		}
	}
	return sum
}
