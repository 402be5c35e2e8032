package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/platform/auth"
	"github.com/hanko-field/rewards/internal/platform/httpx"
	"github.com/hanko-field/rewards/internal/repositories"
	"github.com/hanko-field/rewards/internal/services"
)

type balancePayload struct {
	UserID         string `json:"user_id"`
	ConfirmedCents int64  `json:"confirmed_cents"`
	PendingCents   int64  `json:"pending_cents"`
	RedeemedCents  int64  `json:"redeemed_cents"`
	AvailableCents int64  `json:"available_cents"`
	ReservedCents  int64  `json:"reserved_cents"`
	SpendableCents int64  `json:"spendable_cents"`
}

func newBalancePayload(b domain.Balance) balancePayload {
	return balancePayload{
		UserID:         b.UserID,
		ConfirmedCents: b.ConfirmedCents,
		PendingCents:   b.PendingCents,
		RedeemedCents:  b.RedeemedCents,
		AvailableCents: b.AvailableCents,
		ReservedCents:  b.ReservedCents,
		SpendableCents: b.SpendableCents,
	}
}

type ledgerEntryPayload struct {
	ID          string         `json:"id"`
	SourceType  string         `json:"source_type"`
	SourceID    string         `json:"source_id"`
	ProductType string         `json:"product_type,omitempty"`
	AmountCents int64          `json:"amount_cents"`
	Points      int64          `json:"points"`
	Status      string         `json:"status"`
	AvailableAt string         `json:"available_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

func newLedgerEntryPayload(e domain.LedgerEntry) ledgerEntryPayload {
	return ledgerEntryPayload{
		ID:          e.ID,
		SourceType:  string(e.SourceType),
		SourceID:    e.SourceID,
		ProductType: string(e.ProductType),
		AmountCents: e.AmountCents,
		Points:      e.Points,
		Status:      string(e.Status),
		AvailableAt: formatTimePtr(e.AvailableAt),
		Metadata:    e.Metadata,
		CreatedAt:   formatTime(e.CreatedAt),
	}
}

type redemptionPayload struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	Type            string         `json:"type"`
	AmountCents     int64          `json:"amount_cents"`
	FeeCents        int64          `json:"fee_cents"`
	PayoutCents     int64          `json:"payout_cents"`
	Status          string         `json:"status"`
	Target          map[string]any `json:"target,omitempty"`
	Provider        string         `json:"provider,omitempty"`
	ProviderRef     string         `json:"provider_ref,omitempty"`
	ReviewedBy      string         `json:"reviewed_by,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	VoucherCode     string         `json:"voucher_code,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at,omitempty"`
	ProcessedAt     string         `json:"processed_at,omitempty"`
}

func newRedemptionPayload(r domain.Redemption) redemptionPayload {
	return redemptionPayload{
		ID:              r.ID,
		UserID:          r.UserID,
		Type:            string(r.Type),
		AmountCents:     r.AmountCents,
		FeeCents:        r.FeeCents,
		PayoutCents:     r.PayoutCents,
		Status:          string(r.Status),
		Target:          r.Target,
		Provider:        r.Provider,
		ProviderRef:     r.ProviderRef,
		ReviewedBy:      r.ReviewedBy,
		RejectionReason: r.RejectionReason,
		VoucherCode:     r.VoucherCode,
		CreatedAt:       formatTime(r.CreatedAt),
		UpdatedAt:       formatTime(r.UpdatedAt),
		ProcessedAt:     formatTimePtr(r.ProcessedAt),
	}
}

func newRedemptionPayloads(items []domain.Redemption) []redemptionPayload {
	out := make([]redemptionPayload, 0, len(items))
	for _, item := range items {
		out = append(out, newRedemptionPayload(item))
	}
	return out
}

type voucherPayload struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	AmountCents int64  `json:"amount_cents"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

func newVoucherPayload(v domain.Voucher) voucherPayload {
	return voucherPayload{
		ID:          v.ID,
		Code:        v.Code,
		AmountCents: v.AmountCents,
		Status:      string(v.Status),
		CreatedAt:   formatTime(v.CreatedAt),
		ExpiresAt:   formatTimePtr(v.ExpiresAt),
	}
}

type calculationPayload struct {
	ProductID           string `json:"product_id,omitempty"`
	ProductType         string `json:"product_type"`
	MarginSource        string `json:"margin_source"`
	RateApplied         string `json:"rate_applied"`
	RateSource          string `json:"rate_source,omitempty"`
	MarginCents         int64  `json:"margin_cents"`
	EstimatedMargin     bool   `json:"estimated_margin"`
	BufferedMarginCents int64  `json:"buffered_margin_cents"`
	AppliedTierPercent  string `json:"applied_tier_percent"`
	PromoMultiplier     string `json:"promo_multiplier"`
	RewardCents         int64  `json:"reward_cents"`
	MinApplied          bool   `json:"min_applied"`
	MaxApplied          bool   `json:"max_applied"`
	CappedAtMargin      bool   `json:"capped_at_margin"`
	IsInstantReward     bool   `json:"is_instant_reward"`
	CoolingOffDays      int    `json:"cooling_off_days"`
}

func newCalculationPayload(c domain.RewardCalculation) calculationPayload {
	return calculationPayload{
		ProductID:           c.ProductID,
		ProductType:         string(c.ProductType),
		MarginSource:        string(c.MarginSource),
		RateApplied:         c.RateApplied.String(),
		RateSource:          string(c.RateSource),
		MarginCents:         c.MarginCents,
		EstimatedMargin:     c.EstimatedMargin,
		BufferedMarginCents: c.BufferedMarginCents,
		AppliedTierPercent:  c.AppliedTierPercent.String(),
		PromoMultiplier:     c.PromoMultiplier.String(),
		RewardCents:         c.RewardCents,
		MinApplied:          c.MinApplied,
		MaxApplied:          c.MaxApplied,
		CappedAtMargin:      c.CappedAtMargin,
		IsInstantReward:     c.IsInstantReward,
		CoolingOffDays:      c.CoolingOffDays,
	}
}

type eventOutcomePayload struct {
	Duplicate   bool                `json:"duplicate"`
	Skipped     bool                `json:"skipped"`
	SkipReason  string              `json:"skip_reason,omitempty"`
	Entry       *ledgerEntryPayload `json:"entry,omitempty"`
	Calculation calculationPayload  `json:"calculation"`
}

func newEventOutcomePayload(o services.EventOutcome) eventOutcomePayload {
	payload := eventOutcomePayload{
		Duplicate:   o.Duplicate,
		Skipped:     o.Skipped,
		SkipReason:  o.SkipReason,
		Calculation: newCalculationPayload(o.Calculation),
	}
	if o.Entry != nil {
		entry := newLedgerEntryPayload(*o.Entry)
		payload.Entry = &entry
	}
	return payload
}

type rateRulePayload struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	Platform        string `json:"platform"`
	Category        string `json:"category"`
	CategoryKey     string `json:"category_key"`
	Rate            string `json:"rate"`
	PromotionalRate string `json:"promotional_rate,omitempty"`
	PromoStartsAt   string `json:"promo_starts_at,omitempty"`
	PromoEndsAt     string `json:"promo_ends_at,omitempty"`
	Source          string `json:"source"`
	Active          bool   `json:"active"`
	UpdatedBy       string `json:"updated_by,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

func newRateRulePayload(r domain.RateRule) rateRulePayload {
	payload := rateRulePayload{
		ID:            r.ID,
		Kind:          string(r.Kind),
		Platform:      string(r.Platform),
		Category:      r.CategoryName,
		CategoryKey:   r.CategoryKey,
		Rate:          r.Rate.String(),
		PromoStartsAt: formatTimePtr(r.PromoStartsAt),
		PromoEndsAt:   formatTimePtr(r.PromoEndsAt),
		Source:        string(r.Source),
		Active:        r.Active,
		UpdatedBy:     r.UpdatedBy,
		UpdatedAt:     formatTime(r.UpdatedAt),
	}
	if r.IsPromotional {
		payload.PromotionalRate = r.PromotionalRate.String()
	}
	return payload
}

type overridePayload struct {
	ID           string `json:"id"`
	ProductID    string `json:"product_id"`
	Rate         string `json:"rate"`
	Reason       string `json:"reason,omitempty"`
	Active       bool   `json:"active"`
	CreatedBy    string `json:"created_by,omitempty"`
	CreatedAt    string `json:"created_at"`
	SupersededAt string `json:"superseded_at,omitempty"`
}

func newOverridePayload(o domain.ProductMarkupOverride) overridePayload {
	return overridePayload{
		ID:           o.ID,
		ProductID:    o.ProductID,
		Rate:         o.Rate.String(),
		Reason:       o.Reason,
		Active:       o.Active,
		CreatedBy:    o.CreatedBy,
		CreatedAt:    formatTime(o.CreatedAt),
		SupersededAt: formatTimePtr(o.SupersededAt),
	}
}

type industryRatePayload struct {
	Kind     string `json:"kind"`
	Category string `json:"category"`
	Rate     string `json:"rate"`
}

type rateListingPayload struct {
	Rules     []rateRulePayload     `json:"rules"`
	Overrides []overridePayload     `json:"overrides"`
	Industry  []industryRatePayload `json:"industry"`
	Fallback  map[string]string     `json:"fallback"`
}

func newRateListingPayload(l services.RateListing) rateListingPayload {
	payload := rateListingPayload{
		Rules:     make([]rateRulePayload, 0, len(l.Rules)),
		Overrides: make([]overridePayload, 0, len(l.Overrides)),
		Industry:  make([]industryRatePayload, 0, len(l.Industry)),
		Fallback:  make(map[string]string, len(l.Fallback)),
	}
	for _, rule := range l.Rules {
		payload.Rules = append(payload.Rules, newRateRulePayload(rule))
	}
	for _, override := range l.Overrides {
		payload.Overrides = append(payload.Overrides, newOverridePayload(override))
	}
	for _, rate := range l.Industry {
		payload.Industry = append(payload.Industry, industryRatePayload{
			Kind:     string(rate.Kind),
			Category: rate.CategoryName,
			Rate:     rate.Rate.String(),
		})
	}
	for kind, rate := range l.Fallback {
		payload.Fallback[string(kind)] = rate.String()
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// decimalCents accepts either integer cents or a decimal amount with at most two places.
func decimalCents(field string, cents *int64, amount *decimal.Decimal) (int64, error) {
	switch {
	case cents != nil:
		return *cents, nil
	case amount != nil:
		return domain.ParseCents(field, amount.String())
	default:
		return 0, domain.NewValidationError(field, "is required")
	}
}

func requireUser(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// requireRoles narrows a route group that is already behind Firebase authentication.
func requireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, ok := requireUser(ctx, w)
			if !ok {
				return
			}
			if !identity.HasAnyRole(roles...) {
				httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "insufficient role", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeServiceUnavailable(w http.ResponseWriter, r *http.Request, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError("rewards_unavailable", message, http.StatusServiceUnavailable))
}

func writeRewardsError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if mapped, ok := httpx.FromDomainError(err); ok {
		httpx.WriteError(ctx, w, mapped)
		return
	}
	switch {
	case errors.Is(err, services.ErrRedemptionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("redemption_not_found", "redemption not found", http.StatusNotFound))
	case errors.Is(err, services.ErrVoucherNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("voucher_not_found", "voucher not found", http.StatusNotFound))
	case errors.Is(err, services.ErrVoucherRepositoryMissing):
		httpx.WriteError(ctx, w, httpx.NewError("rewards_unavailable", "vouchers are unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrOverrideNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("override_not_found", "no active override for product", http.StatusNotFound))
	case errors.Is(err, services.ErrRateRuleNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("rate_rule_not_found", "no active rate for category", http.StatusNotFound))
	case repositories.IsNotFound(err):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
	case errors.Is(err, services.ErrRewardsUnavailable), repositories.IsUnavailable(err),
		errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("rewards_unavailable", "rewards storage unavailable", http.StatusServiceUnavailable))
	case repositories.IsConflict(err):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "request conflicts with current state", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("rewards_error", "failed to process rewards request", http.StatusInternalServerError))
	}
}
