package menu

import "fmt"

// ParseError means no JSON value could be extracted from the response text.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "AI response is not JSON"
	}
	return fmt.Sprintf("AI response is not JSON: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Schema failure reasons.
const (
	ReasonUnsupportedSchema   = "unsupported schema"
	ReasonInvalidItems        = "invalid items"
	ReasonInvalidItem         = "invalid item"
	ReasonInvalidExerciseName = "invalid exerciseName"
	ReasonInvalidSets         = "invalid sets"
	ReasonInvalidSet          = "invalid set"
	ReasonInvalidReps         = "invalid reps"
	ReasonInvalidWeight       = "invalid weight"
)

// SchemaError means the JSON was parsed but does not satisfy the menu schema.
type SchemaError struct {
	Reason string
	// Path locates the offending field, e.g. "items[0].sets[2].reps".
	Path string
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s at %s", e.Reason, e.Path)
}

func schemaErr(reason, path string) *SchemaError {
	return &SchemaError{Reason: reason, Path: path}
}
