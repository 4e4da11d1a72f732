package generator

import (
	"errors"
	"fmt"

	"taskcadence/internal/recurrence"
)

// ErrStoreUnavailable matches failures talking to the instance store. The
// affected rule is picked up again on the next scheduled run; the
// idempotency key makes that safe, so there is no in-process retry.
var ErrStoreUnavailable = errors.New("store unavailable")

type FailureKind string

const (
	FailureInvalidRuleState FailureKind = "invalid_rule_state"
	FailureStoreUnavailable FailureKind = "store_unavailable"
)

// RuleFailure is one rule that could not be processed in a run.
type RuleFailure struct {
	RuleID string
	Kind   FailureKind
	Err    error
}

func (f RuleFailure) Error() string {
	return fmt.Sprintf("rule %s: %s: %v", f.RuleID, f.Kind, f.Err)
}

func (f RuleFailure) Unwrap() error { return f.Err }

// StoreError wraps an instance store error with the operation that failed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string        { return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable, e.Op, e.Err) }
func (e *StoreError) Unwrap() error        { return e.Err }
func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

func invalidRule(ruleID string, err error) *RuleFailure {
	var st *recurrence.InvalidRuleStateError
	if errors.As(err, &st) && st.RuleID == "" {
		st.RuleID = ruleID
	}
	return &RuleFailure{RuleID: ruleID, Kind: FailureInvalidRuleState, Err: err}
}

func storeFailure(ruleID, op string, err error) *RuleFailure {
	return &RuleFailure{RuleID: ruleID, Kind: FailureStoreUnavailable, Err: &StoreError{Op: op, Err: err}}
}
