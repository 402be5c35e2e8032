package services

import (
	"errors"
	"time"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/policy"
)

type coolingOffScheduler struct {
	days map[domain.ProductType]int
}

var _ CoolingOffScheduler = (*coolingOffScheduler)(nil)

// NewCoolingOffScheduler constructs a scheduler from the policy's per product type windows.
func NewCoolingOffScheduler(p policy.Policy) (CoolingOffScheduler, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Join(ErrPolicyInvalid, err)
	}
	return &coolingOffScheduler{days: p.Clone().CoolingOffDays}, nil
}

func (s *coolingOffScheduler) Schedule(productType ProductType, now time.Time) (CoolingOffDecision, error) {
	days, ok := s.days[productType]
	if !ok {
		return CoolingOffDecision{}, domain.NewValidationError("productType", "has no cooling-off window")
	}
	if days == 0 {
		return CoolingOffDecision{Status: domain.LedgerStatusConfirmed}, nil
	}
	availableAt := now.UTC().AddDate(0, 0, days)
	return CoolingOffDecision{
		Status:      domain.LedgerStatusPending,
		AvailableAt: &availableAt,
		Days:        days,
	}, nil
}
