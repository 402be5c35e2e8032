package services

import (
	"errors"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/policy"
)

type rewardEngine struct {
	policy policy.Policy
}

var _ RewardEngine = (*rewardEngine)(nil)

// NewRewardEngine constructs the tiered reward calculator from a validated policy.
func NewRewardEngine(p policy.Policy) (RewardEngine, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Join(ErrPolicyInvalid, err)
	}
	return &rewardEngine{policy: p.Clone()}, nil
}

// Calculate is pure: the same margin and multiplier always produce the same calculation.
// The reward never exceeds the buffered margin, whatever the clamps and multiplier say.
// A zero multiplier suppresses the reward instead of triggering the minimum clamp.
func (e *rewardEngine) Calculate(marginCents int64, multiplier decimal.Decimal) (RewardCalculation, error) {
	if marginCents < 0 {
		return RewardCalculation{}, domain.NewValidationError("marginCents", "must not be negative")
	}
	if multiplier.IsNegative() {
		return RewardCalculation{}, domain.NewValidationError("promoMultiplier", "must not be negative")
	}

	calc := RewardCalculation{
		MarginCents:        marginCents,
		PromoMultiplier:    multiplier,
		AppliedTierPercent: decimal.Zero,
	}

	buffered := marginCents - e.policy.OperatingBufferCents
	if buffered < 0 {
		buffered = 0
	}
	calc.BufferedMarginCents = buffered
	if buffered == 0 {
		return calc, nil
	}

	tier, ok := e.policy.TierFor(buffered)
	if !ok {
		return calc, nil
	}
	calc.AppliedTierPercent = tier.Percent

	if multiplier.IsZero() {
		return calc, nil
	}
	reward := domain.PercentOfCents(buffered, tier.Percent)
	reward = domain.ScaleCents(reward, multiplier)

	if reward < e.policy.MinRewardCents {
		reward = e.policy.MinRewardCents
		calc.MinApplied = true
	}
	if reward > e.policy.MaxRewardCents {
		reward = e.policy.MaxRewardCents
		calc.MaxApplied = true
	}
	if reward > buffered {
		reward = buffered
		calc.CappedAtMargin = true
	}
	calc.RewardCents = reward
	return calc, nil
}
