package recurrence

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("invalid recurrence rule")
	// ErrInvalidRuleState matches every *InvalidRuleStateError.
	ErrInvalidRuleState = errors.New("invalid rule state")
)

// ValidationError rejects malformed rule input at construction time.
// Field is the json name of the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InvalidRuleStateError is returned when a rule reaches evaluation without
// the fields its frequency requires. Construction should make this
// unreachable; seeing it means a store handed back a corrupted record.
type InvalidRuleStateError struct {
	RuleID string
	Field  string
}

func (e *InvalidRuleStateError) Error() string {
	id := e.RuleID
	if id == "" {
		id = "<unsaved>"
	}
	return fmt.Sprintf("%s: rule %s: missing or invalid %s", ErrInvalidRuleState, id, e.Field)
}

func (e *InvalidRuleStateError) Is(target error) bool { return target == ErrInvalidRuleState }
