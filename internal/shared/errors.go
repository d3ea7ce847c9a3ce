package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed input or a field violating its constraints.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a uniqueness or exclusivity violation.
	ErrConflict = errors.New("conflict")
	// ErrPrecondition indicates a required upstream fact is missing.
	ErrPrecondition = errors.New("precondition failed")
	// ErrInvalidState indicates a transition that is not legal from the current status.
	ErrInvalidState = errors.New("invalid state")
	// ErrForbiddenTransition indicates a transition only allowed through a dedicated path.
	ErrForbiddenTransition = errors.New("forbidden transition")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInfrastructure indicates a storage or collaborator failure.
	ErrInfrastructure = errors.New("infrastructure failure")
)

// Kind classifies an error for callers that map failures to transports.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindConflict            Kind = "conflict"
	KindPrecondition        Kind = "precondition"
	KindInvalidState        Kind = "invalid_state"
	KindForbiddenTransition Kind = "forbidden_transition"
	KindNotFound            Kind = "not_found"
	KindInfrastructure      Kind = "infrastructure"
)

var kindOrder = []struct {
	sentinel error
	kind     Kind
}{
	{ErrValidation, KindValidation},
	{ErrConflict, KindConflict},
	{ErrPrecondition, KindPrecondition},
	{ErrInvalidState, KindInvalidState},
	{ErrForbiddenTransition, KindForbiddenTransition},
	{ErrNotFound, KindNotFound},
	{ErrInfrastructure, KindInfrastructure},
}

// KindOf reports the taxonomy kind of err. Unclassified errors are infrastructure.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	return KindInfrastructure
}

// Retryable reports whether repeating the call can succeed without changing input.
func Retryable(err error) bool {
	return err != nil && KindOf(err) == KindInfrastructure
}

// Infra wraps a driver or collaborator failure as ErrInfrastructure.
// Errors that already carry a domain kind pass through untouched.
func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.sentinel) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrInfrastructure, err)
}
