package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/policy"
)

var maxRatePercent = decimal.NewFromInt(1000)

type marginCalculator struct {
	dropship policy.DropshipPolicy
}

var _ MarginCalculator = (*marginCalculator)(nil)

// NewMarginCalculator constructs the per product type margin calculator.
func NewMarginCalculator(p policy.Policy) (MarginCalculator, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Join(ErrPolicyInvalid, err)
	}
	return &marginCalculator{dropship: p.Dropship}, nil
}

func (c *marginCalculator) Calculate(input MarginInput, rate decimal.Decimal) (MarginResult, error) {
	if rate.IsNegative() || rate.GreaterThan(maxRatePercent) {
		return MarginResult{}, domain.NewValidationError("rate", "must be between 0 and 1000 percent")
	}

	switch in := input.(type) {
	case domain.AffiliateInput:
		if in.PriceCents < 0 {
			return MarginResult{}, domain.NewValidationError("priceCents", "must not be negative")
		}
		return MarginResult{
			MarginCents:    clampZero(domain.PercentOfCents(in.PriceCents, rate)),
			SellPriceCents: in.PriceCents,
			RateApplied:    rate,
		}, nil

	case domain.DropshipInput:
		return c.dropshipMargin(in, rate)

	case domain.StandardInput:
		if in.PriceCents < 0 {
			return MarginResult{}, domain.NewValidationError("priceCents", "must not be negative")
		}
		return MarginResult{
			MarginCents:    clampZero(domain.PercentOfCents(in.PriceCents, rate)),
			SellPriceCents: in.PriceCents,
			RateApplied:    rate,
		}, nil

	case nil:
		return MarginResult{}, domain.NewValidationError("input", "is required")

	default:
		return MarginResult{}, fmt.Errorf("margin calculator: unsupported input %T", input)
	}
}

func (c *marginCalculator) dropshipMargin(in domain.DropshipInput, rate decimal.Decimal) (MarginResult, error) {
	if in.ListPriceCents < 0 {
		return MarginResult{}, domain.NewValidationError("listPriceCents", "must not be negative")
	}

	if in.CostCents != nil {
		cost := *in.CostCents
		if cost < 0 {
			return MarginResult{}, domain.NewValidationError("costCents", "must not be negative")
		}
		sell := cost + domain.PercentOfCents(cost, rate)
		return MarginResult{
			MarginCents:    clampZero(sell - cost),
			SellPriceCents: sell,
			CostCents:      cost,
			RateApplied:    rate,
		}, nil
	}

	// Without a supplier cost the listed price is assumed to already contain the markup.
	result := MarginResult{
		SellPriceCents: in.ListPriceCents,
		Estimated:      true,
		RateApplied:    rate,
	}
	if !c.dropship.AllowEstimatedCost {
		return result, nil
	}
	estimatedCost := domain.ScaleCents(in.ListPriceCents, c.dropship.EstimatedCostRatio)
	margin := in.ListPriceCents - estimatedCost
	if markup := domain.PercentOfCents(estimatedCost, rate); markup < margin {
		margin = markup
	}
	result.CostCents = estimatedCost
	result.MarginCents = clampZero(margin)
	return result, nil
}

func clampZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
