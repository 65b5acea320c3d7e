package planner

import (
	"errors"
	"fmt"

	"ai-workout-planner/internal/menu"
)

// TransportError is a failed exchange with the model endpoint: a network
// error, a non-success status or an empty response. It is not repaired.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("AI request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RepairExhaustedError is returned when the single repair attempt also
// failed. It keeps the original validation failure.
type RepairExhaustedError struct {
	Original error
	Repair   error
}

func (e *RepairExhaustedError) Error() string {
	return fmt.Sprintf("AI menu could not be repaired: %v (repair attempt: %v)", e.Original, e.Repair)
}

func (e *RepairExhaustedError) Unwrap() []error {
	return []error{e.Original, e.Repair}
}

// IsRepairable reports whether err is a parse or schema failure that a repair
// round-trip may fix.
func IsRepairable(err error) bool {
	var (
		pe *menu.ParseError
		se *menu.SchemaError
	)
	return errors.As(err, &pe) || errors.As(err, &se)
}
