package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/policy"
	"github.com/hanko-field/rewards/internal/platform/textutil"
	"github.com/hanko-field/rewards/internal/repositories"
)

// RateResolverDeps bundles dependencies required to construct a RateResolver.
type RateResolverDeps struct {
	Rules     repositories.RateRuleRepository
	Overrides repositories.OverrideRepository
	Policy    policy.Policy
	Clock     func() time.Time
	Logger    Logger
}

type rateResolver struct {
	rules     repositories.RateRuleRepository
	overrides repositories.OverrideRepository
	industry  map[domain.RateKind]map[string]decimal.Decimal
	flat      map[domain.ProductType]decimal.Decimal
	fallback  map[domain.RateKind]decimal.Decimal
	clock     func() time.Time
	logger    Logger
}

var _ RateResolver = (*rateResolver)(nil)

// NewRateResolver wires a RateResolver consulting overrides, rate rules, industry defaults and fallbacks.
func NewRateResolver(deps RateResolverDeps) (RateResolver, error) {
	if deps.Rules == nil {
		return nil, ErrRateRepositoryMissing
	}
	if deps.Overrides == nil {
		return nil, ErrOverrideRepositoryMissing
	}
	if err := deps.Policy.Validate(); err != nil {
		return nil, errors.Join(ErrPolicyInvalid, err)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	p := deps.Policy.Clone()
	return &rateResolver{
		rules:     deps.Rules,
		overrides: deps.Overrides,
		industry:  p.IndustryRates,
		flat:      p.FlatRates,
		fallback:  p.FallbackRates,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// Resolve never fails for a missing rate. Repository failures degrade to the next resolution step;
// only context cancellation is returned.
func (r *rateResolver) Resolve(ctx context.Context, query RateQuery) (ResolvedRate, error) {
	kind := query.Kind
	if kind == "" {
		kind = query.ProductType.RateKind()
	}
	if !kind.Valid() {
		return ResolvedRate{}, domain.NewValidationError("kind", "is not a supported rate kind")
	}

	if productID := strings.TrimSpace(query.ProductID); productID != "" {
		override, err := r.overrides.FindActive(ctx, productID)
		switch {
		case err == nil && override.Active:
			return ResolvedRate{
				Rate:       override.Rate,
				Kind:       kind,
				Source:     domain.RateSourceOverride,
				OverrideID: override.ID,
			}, nil
		case err != nil && !repositories.IsNotFound(err):
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ResolvedRate{}, ctxErr
			}
			r.logger(ctx, "rate_override_lookup_failed", map[string]any{"productId": productID, "error": err.Error()})
		}
	}

	if kind == domain.RateKindFlat {
		if rate, ok := r.flat[query.ProductType]; ok {
			return ResolvedRate{Rate: rate, Kind: kind, Source: domain.RateSourcePolicy}, nil
		}
		return r.fallbackRate(ctx, kind, query), nil
	}

	categoryKey := textutil.NormalizeCategory(query.CategoryName)
	if categoryKey != "" {
		// Exact matches in either table outrank substring matches in both.
		resolved, ok, err := r.exactRule(ctx, kind, query.Platform, categoryKey)
		if err != nil || ok {
			return resolved, err
		}
		if resolved, ok := r.exactIndustry(kind, categoryKey); ok {
			return resolved, nil
		}
		resolved, ok, err = r.closestRule(ctx, kind, query.Platform, categoryKey)
		if err != nil || ok {
			return resolved, err
		}
		if resolved, ok := r.closestIndustry(kind, categoryKey); ok {
			return resolved, nil
		}
	}

	return r.fallbackRate(ctx, kind, query), nil
}

func (r *rateResolver) exactRule(ctx context.Context, kind domain.RateKind, platform domain.Platform, categoryKey string) (ResolvedRate, bool, error) {
	key := domain.RateRuleKey{Kind: kind, Platform: platform, CategoryKey: categoryKey}
	rule, err := r.rules.FindActive(ctx, key)
	switch {
	case err == nil && rule.Active:
		return ruleRate(rule, r.clock()), true, nil
	case err != nil && !repositories.IsNotFound(err):
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ResolvedRate{}, false, ctxErr
		}
		r.logger(ctx, "rate_rule_lookup_failed", map[string]any{"kind": string(kind), "platform": string(platform), "category": categoryKey, "error": err.Error()})
	}
	return ResolvedRate{}, false, nil
}

func (r *rateResolver) closestRule(ctx context.Context, kind domain.RateKind, platform domain.Platform, categoryKey string) (ResolvedRate, bool, error) {
	candidates, err := r.rules.ListActive(ctx, kind, platform)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ResolvedRate{}, false, ctxErr
		}
		r.logger(ctx, "rate_rule_list_failed", map[string]any{"kind": string(kind), "platform": string(platform), "error": err.Error()})
		return ResolvedRate{}, false, nil
	}

	var (
		best      domain.RateRule
		bestScore int
	)
	for _, candidate := range candidates {
		if !candidate.Active {
			continue
		}
		score, ok := textutil.CategoryContains(categoryKey, candidate.CategoryKey)
		if !ok {
			continue
		}
		if score > bestScore || (score == bestScore && candidate.CategoryKey < best.CategoryKey) {
			best, bestScore = candidate, score
		}
	}
	if bestScore == 0 {
		return ResolvedRate{}, false, nil
	}
	return ruleRate(best, r.clock()), true, nil
}

func ruleRate(rule domain.RateRule, now time.Time) ResolvedRate {
	rate, promotional := rule.EffectiveRate(now)
	return ResolvedRate{
		Rate:            rate,
		Kind:            rule.Kind,
		Source:          domain.RateSourceDatabase,
		MatchedCategory: rule.CategoryName,
		Promotional:     promotional,
		RuleID:          rule.ID,
	}
}

func (r *rateResolver) exactIndustry(kind domain.RateKind, categoryKey string) (ResolvedRate, bool) {
	rate, ok := r.industry[kind][categoryKey]
	if !ok {
		return ResolvedRate{}, false
	}
	return ResolvedRate{Rate: rate, Kind: kind, Source: domain.RateSourceIndustry, MatchedCategory: categoryKey}, true
}

func (r *rateResolver) closestIndustry(kind domain.RateKind, categoryKey string) (ResolvedRate, bool) {
	table := r.industry[kind]
	var (
		bestKey   string
		bestScore int
	)
	for key := range table {
		score, ok := textutil.CategoryContains(categoryKey, key)
		if !ok {
			continue
		}
		if score > bestScore || (score == bestScore && key < bestKey) {
			bestKey, bestScore = key, score
		}
	}
	if bestScore == 0 {
		return ResolvedRate{}, false
	}
	return ResolvedRate{Rate: table[bestKey], Kind: kind, Source: domain.RateSourceIndustry, MatchedCategory: bestKey}, true
}

func (r *rateResolver) fallbackRate(ctx context.Context, kind domain.RateKind, query RateQuery) ResolvedRate {
	r.logger(ctx, "rate_fallback_applied", map[string]any{
		"kind":      string(kind),
		"platform":  string(query.Platform),
		"category":  query.CategoryName,
		"productId": query.ProductID,
	})
	return ResolvedRate{Rate: r.fallback[kind], Kind: kind, Source: domain.RateSourceDefault}
}
