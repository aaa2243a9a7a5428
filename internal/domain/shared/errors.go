// Package shared holds what every engine component agrees on: error kinds,
// domain events and the small value objects (skill, band score, progress
// percentage) passed between them. It imports nothing outside the standard
// library.
package shared

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Callers test for them with errors.Is; DomainError values
// below carry one of them as their Kind.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidID       = errors.New("invalid id")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidScore    = errors.New("score must be between 0 and 100")

	ErrAlreadyProcessed       = errors.New("already processed")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrServiceUnavailable     = errors.New("service unavailable")

	// ErrNoEligibleActivity means the catalog offers nothing the assigner may pick.
	ErrNoEligibleActivity = errors.New("no eligible activity")
	// ErrInconsistentState flags stored data that breaks an engine invariant.
	ErrInconsistentState = errors.New("inconsistent state")
)

// DomainError attaches the component and operation to an error kind.
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	msg := e.Domain + "." + e.Op + ": " + e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *DomainError) Unwrap() []error {
	out := make([]error, 0, 2)
	for _, err := range []error{e.Kind, e.Err} {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// NewDomainError builds a DomainError without a cause.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError builds a DomainError around cause.
func WrapError(domain, op string, kind error, message string, cause error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: cause}
}

var (
	ErrUserNotFound      = NewDomainError("learner", "Find", ErrNotFound, "user not found")
	ErrUserAlreadyExists = NewDomainError("learner", "Create", ErrAlreadyExists, "username already taken")
	ErrInvalidTarget     = NewDomainError("learner", "Validate", ErrValueOutOfRange, "target band must be between 0 and 9")

	ErrActivityNotFound = NewDomainError("activity", "Find", ErrNotFound, "activity not found")
	ErrUnknownSkill     = NewDomainError("activity", "Validate", ErrInvalidInput, "unknown skill")

	ErrGoalNotFound = NewDomainError("goal", "Find", ErrNotFound, "no goal for that day")

	ErrUnlockNotFound   = NewDomainError("incentive", "Find", ErrNotFound, "incentive not unlocked")
	ErrAlreadyClaimed   = NewDomainError("incentive", "Claim", ErrAlreadyProcessed, "incentive already claimed")
	ErrUnknownIncentive = NewDomainError("incentive", "Validate", ErrInvalidInput, "unknown incentive kind")
)

// ══════════════════════════════════════════════════════════════════════════════
// CLASSIFICATION
// ══════════════════════════════════════════════════════════════════════════════

func isAny(err error, kinds ...error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsValidation reports bad caller input.
func IsValidation(err error) bool {
	return isAny(err, ErrInvalidInput, ErrInvalidID, ErrValueOutOfRange, ErrInvalidScore)
}

// IsRetryable reports failures that may clear up on their own: an unavailable
// dependency, a deadline, or a lost race for a cohort lock.
func IsRetryable(err error) bool {
	return isAny(err, ErrServiceUnavailable, ErrConcurrentModification, context.DeadlineExceeded)
}

// IsPermanent reports failures that retrying with the same inputs cannot fix.
func IsPermanent(err error) bool {
	return IsValidation(err) || isAny(err, ErrNotFound, ErrNoEligibleActivity, ErrInconsistentState)
}
