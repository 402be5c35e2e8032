package domain

import (
	"errors"
	"fmt"
)

// ErrValidation matches every ValidationError through errors.Is.
var ErrValidation = errors.New("validation failed")

// ValidationError reports malformed input. Nothing is applied when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError constructs a validation error for the named field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ErrInsufficientBalance matches every InsufficientBalanceError through errors.Is.
var ErrInsufficientBalance = errors.New("insufficient balance")

// InsufficientBalanceError is returned when a redemption exceeds the spendable balance.
type InsufficientBalanceError struct {
	UserID         string
	AvailableCents int64
	RequestedCents int64
}

func (e *InsufficientBalanceError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("insufficient balance: requested %d cents, available %d cents", e.RequestedCents, e.AvailableCents)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// ErrInvalidStateTransition matches every InvalidStateTransitionError through errors.Is.
var ErrInvalidStateTransition = errors.New("invalid state transition")

// InvalidStateTransitionError is returned when a redemption is not in the expected prior state.
type InvalidStateTransitionError struct {
	RedemptionID string
	From         RedemptionStatus
	To           RedemptionStatus
}

func (e *InvalidStateTransitionError) Error() string {
	if e == nil {
		return ""
	}
	if e.From.Terminal() {
		return fmt.Sprintf("redemption %s is already %s", e.RedemptionID, e.From)
	}
	return fmt.Sprintf("redemption %s cannot move from %s to %s", e.RedemptionID, e.From, e.To)
}

func (e *InvalidStateTransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}
