package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/rewards/internal/domain"
)

// Tier maps a band of buffered margin to a reward percentage. A nil MaxCents is open ended.
type Tier struct {
	MinCents int64
	MaxCents *int64
	Percent  decimal.Decimal
}

// Contains reports whether the buffered margin falls in the band.
func (t Tier) Contains(cents int64) bool {
	if cents < t.MinCents {
		return false
	}
	return t.MaxCents == nil || cents <= *t.MaxCents
}

// DropshipPolicy governs margins for dropship sales that arrive without a supplier cost.
type DropshipPolicy struct {
	AllowEstimatedCost bool
	EstimatedCostRatio decimal.Decimal
}

// RedemptionPolicy governs minimum amounts and fees of redemptions.
type RedemptionPolicy struct {
	MinimumCents        map[domain.RedemptionType]int64
	CashFeeFlatCents    int64
	CashFeePercent      decimal.Decimal
	VoucherValidityDays int
}

// Policy is the complete rewards configuration. It is loaded once at startup and passed to each component.
type Policy struct {
	OperatingBufferCents int64
	MinRewardCents       int64
	MaxRewardCents       int64
	PointsPerCent        int64
	Tiers                []Tier
	CoolingOffDays       map[domain.ProductType]int
	FlatRates            map[domain.ProductType]decimal.Decimal
	FallbackRates        map[domain.RateKind]decimal.Decimal
	IndustryRates        map[domain.RateKind]map[string]decimal.Decimal
	Dropship             DropshipPolicy
	Redemption           RedemptionPolicy
}

// ValidationError lists every invalid policy field.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return "policy: invalid"
	}
	return "policy: " + strings.Join(e.Problems, "; ")
}

// Clone returns a deep copy so callers can adjust a policy without sharing maps.
func (p Policy) Clone() Policy {
	out := p
	out.Tiers = make([]Tier, len(p.Tiers))
	for i, tier := range p.Tiers {
		copied := tier
		if tier.MaxCents != nil {
			upper := *tier.MaxCents
			copied.MaxCents = &upper
		}
		out.Tiers[i] = copied
	}
	out.CoolingOffDays = make(map[domain.ProductType]int, len(p.CoolingOffDays))
	for k, v := range p.CoolingOffDays {
		out.CoolingOffDays[k] = v
	}
	out.FlatRates = make(map[domain.ProductType]decimal.Decimal, len(p.FlatRates))
	for k, v := range p.FlatRates {
		out.FlatRates[k] = v
	}
	out.FallbackRates = make(map[domain.RateKind]decimal.Decimal, len(p.FallbackRates))
	for k, v := range p.FallbackRates {
		out.FallbackRates[k] = v
	}
	out.IndustryRates = make(map[domain.RateKind]map[string]decimal.Decimal, len(p.IndustryRates))
	for kind, table := range p.IndustryRates {
		copied := make(map[string]decimal.Decimal, len(table))
		for k, v := range table {
			copied[k] = v
		}
		out.IndustryRates[kind] = copied
	}
	out.Redemption.MinimumCents = make(map[domain.RedemptionType]int64, len(p.Redemption.MinimumCents))
	for k, v := range p.Redemption.MinimumCents {
		out.Redemption.MinimumCents[k] = v
	}
	return out
}

// TierFor returns the band containing the buffered margin.
func (p Policy) TierFor(bufferedCents int64) (Tier, bool) {
	for _, tier := range p.Tiers {
		if tier.Contains(bufferedCents) {
			return tier, true
		}
	}
	return Tier{}, false
}

// CashFee returns the greater of the flat minimum and the percentage fee.
func (p Policy) CashFee(amountCents int64) int64 {
	fee := domain.PercentOfCents(amountCents, p.Redemption.CashFeePercent)
	if fee < p.Redemption.CashFeeFlatCents {
		fee = p.Redemption.CashFeeFlatCents
	}
	return fee
}

// Fingerprint is a short digest of the policy content, used to tell which policy a process runs.
// Map keys are sorted by encoding/json so equal policies always share a fingerprint.
func (p Policy) Fingerprint() string {
	raw, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:6])
}

// Validate checks internal consistency. Tier bands must be sorted, contiguous and end open ended.
func (p Policy) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	hundred := decimal.NewFromInt(100)
	if p.OperatingBufferCents < 0 {
		add("operatingBufferCents must not be negative")
	}
	if p.MinRewardCents < 0 {
		add("minRewardCents must not be negative")
	}
	if p.MaxRewardCents <= 0 {
		add("maxRewardCents must be positive")
	}
	if p.MinRewardCents > p.MaxRewardCents {
		add("minRewardCents must not exceed maxRewardCents")
	}
	if p.PointsPerCent < 0 {
		add("pointsPerCent must not be negative")
	}

	if len(p.Tiers) == 0 {
		add("at least one tier is required")
	}
	for i, tier := range p.Tiers {
		if tier.MinCents < 0 {
			add("tier %d minCents must not be negative", i)
		}
		if tier.Percent.IsNegative() || tier.Percent.GreaterThan(hundred) {
			add("tier %d percent must be between 0 and 100", i)
		}
		last := i == len(p.Tiers)-1
		if last {
			if tier.MaxCents != nil {
				add("last tier must be open ended")
			}
			continue
		}
		if tier.MaxCents == nil {
			add("tier %d must declare maxCents", i)
			continue
		}
		if *tier.MaxCents < tier.MinCents {
			add("tier %d maxCents is below minCents", i)
		}
		if next := p.Tiers[i+1]; next.MinCents != *tier.MaxCents+1 {
			add("tier %d must start at %d", i+1, *tier.MaxCents+1)
		}
	}

	for _, productType := range domain.ProductTypes {
		days, ok := p.CoolingOffDays[productType]
		if !ok {
			add("coolingOffDays.%s is required", productType)
			continue
		}
		if days < 0 {
			add("coolingOffDays.%s must not be negative", productType)
		}
	}
	for productType, rate := range p.FlatRates {
		if !productType.Valid() {
			add("flatRates.%s is not a product type", productType)
		}
		if rate.IsNegative() || rate.GreaterThan(hundred) {
			add("flatRates.%s must be between 0 and 100", productType)
		}
	}
	for _, kind := range []domain.RateKind{domain.RateKindCommission, domain.RateKindMarkup, domain.RateKindFlat} {
		rate, ok := p.FallbackRates[kind]
		if !ok {
			add("fallbackRates.%s is required", kind)
			continue
		}
		if rate.IsNegative() {
			add("fallbackRates.%s must not be negative", kind)
		}
	}
	for kind, table := range p.IndustryRates {
		for category, rate := range table {
			if rate.IsNegative() {
				add("industryRates.%s.%s must not be negative", kind, category)
			}
		}
	}

	ratio := p.Dropship.EstimatedCostRatio
	if !ratio.IsPositive() || !ratio.LessThan(decimal.NewFromInt(1)) {
		add("dropship.estimatedCostRatio must be between 0 and 1 exclusive")
	}

	for _, redemptionType := range []domain.RedemptionType{domain.RedemptionTypeVoucher, domain.RedemptionTypeGiftCard, domain.RedemptionTypeCash} {
		if p.Redemption.MinimumCents[redemptionType] < 0 {
			add("redemption.minimumCents.%s must not be negative", redemptionType)
		}
	}
	if p.Redemption.CashFeeFlatCents < 0 {
		add("redemption.cashFeeFlatCents must not be negative")
	}
	if p.Redemption.CashFeePercent.IsNegative() || p.Redemption.CashFeePercent.GreaterThan(hundred) {
		add("redemption.cashFeePercent must be between 0 and 100")
	}
	if p.Redemption.VoucherValidityDays < 0 {
		add("redemption.voucherValidityDays must not be negative")
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ErrEmptySource is returned when a policy document has no content.
var ErrEmptySource = errors.New("policy: empty document")
