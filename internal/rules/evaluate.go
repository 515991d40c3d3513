package rules

import (
	"errors"
	"fmt"
	"math"
)

// Operator is a threshold comparison operator.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
)

// Valid reports whether the operator is supported.
func (o Operator) Valid() bool {
	switch o {
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpEqual:
		return true
	}
	return false
}

// ErrInvalidOperator indicates an operator outside the supported set.
var ErrInvalidOperator = errors.New("invalid operator")

// Evaluate compares value against threshold under the given operator.
//
// Equality is exact floating point comparison; callers needing tolerance must
// round both sides before calling.
func Evaluate(value float64, op Operator, threshold float64) (bool, error) {
	switch op {
	case OpLess:
		return value < threshold, nil
	case OpLessEqual:
		return value <= threshold, nil
	case OpGreater:
		return value > threshold, nil
	case OpGreaterEqual:
		return value >= threshold, nil
	case OpEqual:
		return value == threshold, nil
	}
	return false, fmt.Errorf("%w: %q", ErrInvalidOperator, string(op))
}

// ValidationError describes a malformed rule definition. It is returned
// synchronously to the caller creating or updating a rule.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule: %s %s", e.Field, e.Reason)
}

// Validate checks a rule definition before it is accepted into the store.
func Validate(r Rule) error {
	if r.OwnerID == "" {
		return &ValidationError{Field: "owner_id", Reason: "must not be empty"}
	}
	if !r.SubjectKind.Valid() {
		return &ValidationError{Field: "subject_kind", Reason: fmt.Sprintf("unknown kind %q", string(r.SubjectKind))}
	}
	if r.SubjectKey == "" {
		return &ValidationError{Field: "subject_key", Reason: "must not be empty"}
	}
	if !r.Condition.Operator.Valid() {
		return &ValidationError{Field: "operator", Reason: fmt.Sprintf("unsupported operator %q", string(r.Condition.Operator))}
	}
	if math.IsNaN(r.Condition.Threshold) || math.IsInf(r.Condition.Threshold, 0) {
		return &ValidationError{Field: "threshold", Reason: "must be a finite number"}
	}
	if r.Cooldown < 0 {
		return &ValidationError{Field: "cooldown_seconds", Reason: "must not be negative"}
	}
	return nil
}
