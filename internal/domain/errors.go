package domain

import "strings"

// FieldViolation names a request field and what is wrong with it.
type FieldViolation struct {
	Field  string
	Reason string
}

// ValidationError reports every invalid or missing field of an input.
type ValidationError struct {
	Violations []FieldViolation
}

// NewValidationError builds a ValidationError with a single violation.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Violations: []FieldViolation{{Field: field, Reason: reason}}}
}

// Add records a violation.
func (e *ValidationError) Add(field, reason string) {
	e.Violations = append(e.Violations, FieldViolation{Field: field, Reason: reason})
}

// OrNil returns nil when no violation was recorded, so callers can return it directly.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Violations) == 0 {
		return nil
	}
	return e
}

// Fields lists the offending field names in the order they were recorded.
func (e *ValidationError) Fields() []string {
	fields := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		fields = append(fields, v.Field)
	}
	return fields
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+" "+v.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
