package args

import (
	"fmt"
	"strings"
)

// Problem classifies a single field failure.
type Problem string

// Field problems reported by Parse.
const (
	ProblemMissing Problem = "missing"
	ProblemUnknown Problem = "unknown"
	ProblemInvalid Problem = "invalid"
)

// FieldError describes one rejected field.
type FieldError struct {
	Field   string
	Problem Problem
	Reason  string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidationError aggregates every field failure found by one Parse call.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return "invalid parameters: " + strings.Join(parts, "; ")
}

// Field returns the failure recorded for name, if any.
func (e *ValidationError) Field(name string) (FieldError, bool) {
	for _, f := range e.Fields {
		if f.Field == name {
			return f, true
		}
	}
	return FieldError{}, false
}
