package app

import (
	"errors"
	"sync"

	"ai-workout-planner/internal/planner"
)

// ErrNothingToUndo is returned when the command history is empty.
var ErrNothingToUndo = errors.New("nothing to undo")

const defaultHistoryLimit = 20

// ApplyCommand is one recorded menu application.
type ApplyCommand struct {
	Date   string
	Result *planner.ApplyResult
}

// CommandHistory is a bounded stack of applied menus.
type CommandHistory struct {
	mu       sync.Mutex
	limit    int
	commands []ApplyCommand
}

// NewCommandHistory creates a history holding at most limit commands.
func NewCommandHistory(limit int) *CommandHistory {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &CommandHistory{limit: limit}
}

// Push records a command, dropping the oldest beyond the limit.
func (h *CommandHistory) Push(cmd ApplyCommand) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, cmd)
	if len(h.commands) > h.limit {
		h.commands = h.commands[len(h.commands)-h.limit:]
	}
}

// Pop removes and returns the most recent command.
func (h *CommandHistory) Pop() (ApplyCommand, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.commands) == 0 {
		return ApplyCommand{}, false
	}
	cmd := h.commands[len(h.commands)-1]
	h.commands = h.commands[:len(h.commands)-1]
	return cmd, true
}

// Len returns the number of recorded commands.
func (h *CommandHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.commands)
}
