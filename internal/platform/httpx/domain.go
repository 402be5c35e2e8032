package httpx

import (
	"errors"
	"net/http"

	domain "github.com/hanko-field/rewards/internal/domain"
)

// FromDomainError maps the typed rewards errors onto the envelope. It reports false for
// anything else so callers can fall through to their own mapping.
func FromDomainError(err error) (Error, bool) {
	var (
		validation   *domain.ValidationError
		insufficient *domain.InsufficientBalanceError
		transition   *domain.InvalidStateTransitionError
	)
	switch {
	case errors.As(err, &validation):
		e := NewError("invalid_request", validation.Error(), http.StatusBadRequest)
		if validation.Field != "" {
			e = e.WithDetails(map[string]any{"field": validation.Field})
		}
		return e, true
	case errors.Is(err, domain.ErrValidation):
		return NewError("invalid_request", err.Error(), http.StatusBadRequest), true
	case errors.As(err, &insufficient):
		return NewError("insufficient_balance", insufficient.Error(), http.StatusConflict).WithDetails(map[string]any{
			"available_cents": insufficient.AvailableCents,
			"requested_cents": insufficient.RequestedCents,
		}), true
	case errors.As(err, &transition):
		return NewError("invalid_state_transition", transition.Error(), http.StatusConflict).WithDetails(map[string]any{
			"from": string(transition.From),
			"to":   string(transition.To),
		}), true
	default:
		return Error{}, false
	}
}
