package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/platform/textutil"
	"github.com/hanko-field/rewards/internal/policy"
	"github.com/hanko-field/rewards/internal/repositories"
)

const (
	rateRuleIDPrefix     = "rule_"
	overrideIDPrefix     = "ovr_"
	maxOverrideReason    = 500
	maxCategoryNameRunes = 120
)

var maxCommissionPercent = decimal.NewFromInt(100)

// RateAdminServiceDeps bundles dependencies required to construct a RateAdminService.
type RateAdminServiceDeps struct {
	Rules       repositories.RateRuleRepository
	Overrides   repositories.OverrideRepository
	Policy      policy.Policy
	Clock       func() time.Time
	IDGenerator func(prefix string) string
	Logger      Logger
}

type rateAdminService struct {
	rules     repositories.RateRuleRepository
	overrides repositories.OverrideRepository
	policy    policy.Policy
	clock     func() time.Time
	newID     func(prefix string) string
	logger    Logger
}

var _ RateAdminService = (*rateAdminService)(nil)

// NewRateAdminService wires the staff facing rate management service.
func NewRateAdminService(deps RateAdminServiceDeps) (RateAdminService, error) {
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
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func(prefix string) string { return prefix + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &rateAdminService{
		rules:     deps.Rules,
		overrides: deps.Overrides,
		policy:    deps.Policy.Clone(),
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

func (s *rateAdminService) UpsertCategoryRate(ctx context.Context, cmd UpsertCategoryRateCommand) (RateRule, error) {
	if cmd.Kind != domain.RateKindCommission && cmd.Kind != domain.RateKindMarkup {
		return RateRule{}, domain.NewValidationError("kind", "must be commission or markup")
	}
	if strings.TrimSpace(string(cmd.Platform)) == "" {
		return RateRule{}, domain.NewValidationError("platform", "is required")
	}
	name := textutil.SanitizePlainText(cmd.CategoryName, maxCategoryNameRunes)
	key := textutil.NormalizeCategory(name)
	if key == "" {
		return RateRule{}, domain.NewValidationError("categoryName", "is required")
	}
	if err := validateRulePercent("rate", cmd.Kind, cmd.Rate); err != nil {
		return RateRule{}, err
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return RateRule{}, domain.NewValidationError("actorId", "is required")
	}

	source := cmd.Source
	switch source {
	case "":
		source = domain.RuleSourceCustom
	case domain.RuleSourceOfficial, domain.RuleSourceDefault, domain.RuleSourceCustom:
	default:
		return RateRule{}, domain.NewValidationError("source", "is not supported")
	}

	now := s.clock()
	rule := RateRule{
		ID:           s.newID(rateRuleIDPrefix),
		Kind:         cmd.Kind,
		Platform:     domain.Platform(strings.ToLower(strings.TrimSpace(string(cmd.Platform)))),
		CategoryName: name,
		CategoryKey:  key,
		Rate:         cmd.Rate,
		Source:       source,
		Active:       true,
		UpdatedBy:    actor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if cmd.PromotionalRate != nil {
		if err := validateRulePercent("promotionalRate", cmd.Kind, *cmd.PromotionalRate); err != nil {
			return RateRule{}, err
		}
		if cmd.PromoStartsAt == nil || cmd.PromoEndsAt == nil {
			return RateRule{}, domain.NewValidationError("promoWindow", "start and end are required with a promotional rate")
		}
		start, end := cmd.PromoStartsAt.UTC(), cmd.PromoEndsAt.UTC()
		if !end.After(start) {
			return RateRule{}, domain.NewValidationError("promoEndsAt", "must be after promoStartsAt")
		}
		rule.IsPromotional = true
		rule.PromotionalRate = *cmd.PromotionalRate
		rule.PromoStartsAt = &start
		rule.PromoEndsAt = &end
	} else if cmd.PromoStartsAt != nil || cmd.PromoEndsAt != nil {
		return RateRule{}, domain.NewValidationError("promotionalRate", "is required with a promotional window")
	}

	stored, err := s.rules.Upsert(ctx, rule)
	if err != nil {
		return RateRule{}, mapRepositoryError(err)
	}
	s.logger(ctx, "rate_rule_upserted", map[string]any{
		"ruleId":   stored.ID,
		"kind":     string(stored.Kind),
		"platform": string(stored.Platform),
		"category": stored.CategoryKey,
		"rate":     stored.Rate.String(),
		"actorId":  actor,
	})
	return stored, nil
}

func (s *rateAdminService) DeactivateCategoryRate(ctx context.Context, cmd DeactivateCategoryRateCommand) error {
	key := domain.RateRuleKey{
		Kind:        cmd.Kind,
		Platform:    domain.Platform(strings.ToLower(strings.TrimSpace(string(cmd.Platform)))),
		CategoryKey: textutil.NormalizeCategory(cmd.CategoryName),
	}
	if !key.Kind.Valid() {
		return domain.NewValidationError("kind", "is not a supported rate kind")
	}
	if key.Platform == "" {
		return domain.NewValidationError("platform", "is required")
	}
	if key.CategoryKey == "" {
		return domain.NewValidationError("categoryName", "is required")
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return domain.NewValidationError("actorId", "is required")
	}

	if err := s.rules.Deactivate(ctx, key, actor, s.clock()); err != nil {
		if repositories.IsNotFound(err) {
			return ErrRateRuleNotFound
		}
		return mapRepositoryError(err)
	}
	s.logger(ctx, "rate_rule_deactivated", map[string]any{
		"kind":     string(key.Kind),
		"platform": string(key.Platform),
		"category": key.CategoryKey,
		"actorId":  actor,
	})
	return nil
}

func (s *rateAdminService) UpsertProductOverride(ctx context.Context, cmd UpsertProductOverrideCommand) (ProductMarkupOverride, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return ProductMarkupOverride{}, domain.NewValidationError("productId", "is required")
	}
	if cmd.Rate.IsNegative() || cmd.Rate.GreaterThan(maxRatePercent) {
		return ProductMarkupOverride{}, domain.NewValidationError("rate", "must be between 0 and 1000 percent")
	}
	reason := textutil.SanitizePlainText(cmd.Reason, maxOverrideReason)
	if reason == "" {
		return ProductMarkupOverride{}, domain.NewValidationError("reason", "is required")
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return ProductMarkupOverride{}, domain.NewValidationError("actorId", "is required")
	}

	stored, err := s.overrides.Replace(ctx, ProductMarkupOverride{
		ID:        s.newID(overrideIDPrefix),
		ProductID: productID,
		Rate:      cmd.Rate,
		Reason:    reason,
		Active:    true,
		CreatedBy: actor,
		CreatedAt: s.clock(),
	})
	if err != nil {
		return ProductMarkupOverride{}, mapRepositoryError(err)
	}
	s.logger(ctx, "rate_override_replaced", map[string]any{
		"overrideId": stored.ID,
		"productId":  productID,
		"rate":       stored.Rate.String(),
		"actorId":    actor,
	})
	return stored, nil
}

func (s *rateAdminService) DeactivateProductOverride(ctx context.Context, productID string, actorID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.NewValidationError("productId", "is required")
	}
	actor := strings.TrimSpace(actorID)
	if actor == "" {
		return domain.NewValidationError("actorId", "is required")
	}
	if err := s.overrides.Deactivate(ctx, productID, actor, s.clock()); err != nil {
		if repositories.IsNotFound(err) {
			return ErrOverrideNotFound
		}
		return mapRepositoryError(err)
	}
	s.logger(ctx, "rate_override_deactivated", map[string]any{"productId": productID, "actorId": actor})
	return nil
}

func (s *rateAdminService) ListRates(ctx context.Context, filter RateListFilter) (RateListing, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return RateListing{}, domain.NewValidationError("kind", "is not a supported rate kind")
	}
	rules, err := s.rules.List(ctx, repositories.RateRuleFilter{
		Kind:           filter.Kind,
		Platform:       filter.Platform,
		IncludeRetired: filter.IncludeRetired,
	})
	if err != nil {
		return RateListing{}, mapRepositoryError(err)
	}
	overrides, err := s.overrides.List(ctx, repositories.OverrideFilter{IncludeRetired: filter.IncludeRetired})
	if err != nil {
		return RateListing{}, mapRepositoryError(err)
	}

	listing := RateListing{
		Rules:     rules,
		Overrides: overrides,
		Industry:  s.industryRates(filter.Kind),
		Fallback:  make(map[domain.RateKind]decimal.Decimal, len(s.policy.FallbackRates)),
	}
	for kind, rate := range s.policy.FallbackRates {
		if filter.Kind == "" || filter.Kind == kind {
			listing.Fallback[kind] = rate
		}
	}
	return listing, nil
}

func (s *rateAdminService) industryRates(kind domain.RateKind) []domain.IndustryRate {
	var rates []domain.IndustryRate
	for tableKind, table := range s.policy.IndustryRates {
		if kind != "" && kind != tableKind {
			continue
		}
		for category, rate := range table {
			rates = append(rates, domain.IndustryRate{Kind: tableKind, CategoryName: category, Rate: rate})
		}
	}
	sort.Slice(rates, func(i, j int) bool {
		if rates[i].Kind != rates[j].Kind {
			return rates[i].Kind < rates[j].Kind
		}
		return rates[i].CategoryName < rates[j].CategoryName
	})
	return rates
}

func validateRulePercent(field string, kind domain.RateKind, rate decimal.Decimal) error {
	limit := maxCommissionPercent
	if kind == domain.RateKindMarkup {
		limit = maxRatePercent
	}
	if rate.IsNegative() || rate.GreaterThan(limit) {
		return domain.NewValidationError(field, "must be between 0 and "+limit.String()+" percent")
	}
	return nil
}
