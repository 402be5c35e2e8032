package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/platform/auth"
	"github.com/hanko-field/rewards/internal/platform/events"
	"github.com/hanko-field/rewards/internal/platform/httpx"
	"github.com/hanko-field/rewards/internal/services"
)

const maxAdminRewardsBody = 32 * 1024

// AdminRewardsHandlers exposes redemption review, rate administration and reward quotes to staff.
type AdminRewardsHandlers struct {
	authn       *auth.Authenticator
	redemptions services.RedemptionService
	rates       services.RateAdminService
	processor   services.EventProcessor
}

// NewAdminRewardsHandlers constructs admin rewards handlers.
func NewAdminRewardsHandlers(authn *auth.Authenticator, redemptions services.RedemptionService, rates services.RateAdminService, processor services.EventProcessor) *AdminRewardsHandlers {
	return &AdminRewardsHandlers{authn: authn, redemptions: redemptions, rates: rates, processor: processor}
}

// Routes registers the /admin/rewards endpoints. Staff may review redemptions and quote; rate
// changes need the admin role.
func (h *AdminRewardsHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Route("/rewards", func(rt chi.Router) {
		rt.Get("/redemptions", h.listRedemptions)
		rt.Get("/redemptions/{redemptionID}", h.getRedemption)
		rt.Post("/redemptions/{redemptionID}:approve", h.approveRedemption)
		rt.Post("/redemptions/{redemptionID}:reject", h.rejectRedemption)
		rt.Post("/redemptions/{redemptionID}:mark-paid", h.markRedemptionPaid)
		rt.Post("/quote", h.quote)

		rt.Get("/rates", h.listRates)
		rt.Group(func(admin chi.Router) {
			admin.Use(requireRoles(auth.RoleAdmin))
			admin.Put("/rates", h.upsertRate)
			admin.Post("/rates:deactivate", h.deactivateRate)
			admin.Put("/overrides/{productID}", h.upsertOverride)
			admin.Delete("/overrides/{productID}", h.deactivateOverride)
		})
	})
}

func (h *AdminRewardsHandlers) listRedemptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.redemptions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("rewards_unavailable", "redemption service is unavailable", http.StatusServiceUnavailable))
		return
	}
	filter, err := parseRedemptionListFilter(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	if filter.Status == "" {
		filter.Status = domain.RedemptionStatusRequested
	}
	page, err := h.redemptions.ListByStatus(ctx, filter)
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, redemptionListResponse{Items: newRedemptionPayloads(page.Items), NextPageToken: page.NextPageToken})
}

func (h *AdminRewardsHandlers) getRedemption(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.redemptions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("rewards_unavailable", "redemption service is unavailable", http.StatusServiceUnavailable))
		return
	}
	redemption, err := h.redemptions.Get(ctx, strings.TrimSpace(chi.URLParam(r, "redemptionID")))
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newRedemptionPayload(redemption))
}

type reviewRequest struct {
	Reason string `json:"reason"`
}

func (h *AdminRewardsHandlers) approveRedemption(w http.ResponseWriter, r *http.Request) {
	if h.redemptions == nil {
		writeServiceUnavailable(w, r, "redemption service is unavailable")
		return
	}
	h.review(w, r, h.redemptions.Approve, false)
}

func (h *AdminRewardsHandlers) rejectRedemption(w http.ResponseWriter, r *http.Request) {
	if h.redemptions == nil {
		writeServiceUnavailable(w, r, "redemption service is unavailable")
		return
	}
	h.review(w, r, h.redemptions.Reject, true)
}

func (h *AdminRewardsHandlers) review(w http.ResponseWriter, r *http.Request, apply func(context.Context, services.RedemptionReviewCommand) (services.Redemption, error), needsBody bool) {
	ctx := r.Context()
	identity, ok := requireUser(ctx, w)
	if !ok {
		return
	}
	var req reviewRequest
	if needsBody || r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, maxAdminRewardsBody, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.BodyError(err))
			return
		}
	}
	redemption, err := apply(ctx, services.RedemptionReviewCommand{
		RedemptionID: strings.TrimSpace(chi.URLParam(r, "redemptionID")),
		ActorID:      identity.UID,
		Reason:       strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newRedemptionPayload(redemption))
}

type markPaidRequest struct {
	Provider    string `json:"provider"`
	ProviderRef string `json:"provider_ref"`
}

func (h *AdminRewardsHandlers) markRedemptionPaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.redemptions == nil {
		writeServiceUnavailable(w, r, "redemption service is unavailable")
		return
	}
	identity, ok := requireUser(ctx, w)
	if !ok {
		return
	}
	var req markPaidRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, maxAdminRewardsBody, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.BodyError(err))
			return
		}
	}
	redemption, err := h.redemptions.MarkPaid(ctx, services.RedemptionPaymentCommand{
		RedemptionID: strings.TrimSpace(chi.URLParam(r, "redemptionID")),
		ActorID:      identity.UID,
		Provider:     strings.TrimSpace(req.Provider),
		ProviderRef:  strings.TrimSpace(req.ProviderRef),
	})
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newRedemptionPayload(redemption))
}

func (h *AdminRewardsHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.processor == nil {
		httpx.WriteError(ctx, w, httpx.NewError("rewards_unavailable", "reward pipeline is unavailable", http.StatusServiceUnavailable))
		return
	}
	body, err := httpx.ReadBody(r, maxAdminRewardsBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	event, err := events.DecodeRewardEvent(body)
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}
	calc, err := h.processor.Quote(ctx, event)
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newCalculationPayload(calc))
}

func (h *AdminRewardsHandlers) listRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.rates == nil {
		httpx.WriteError(ctx, w, httpx.NewError("rewards_unavailable", "rate service is unavailable", http.StatusServiceUnavailable))
		return
	}
	query := r.URL.Query()
	filter := services.RateListFilter{
		Kind:     domain.RateKind(strings.ToLower(strings.TrimSpace(query.Get("kind")))),
		Platform: domain.Platform(strings.ToLower(strings.TrimSpace(query.Get("platform")))),
	}
	if raw := strings.TrimSpace(query.Get("includeRetired")); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "includeRetired must be a boolean", http.StatusBadRequest))
			return
		}
		filter.IncludeRetired = include
	}
	listing, err := h.rates.ListRates(ctx, filter)
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newRateListingPayload(listing))
}

type upsertRateRequest struct {
	Kind            string           `json:"kind"`
	Platform        string           `json:"platform"`
	Category        string           `json:"category"`
	Rate            decimal.Decimal  `json:"rate"`
	PromotionalRate *decimal.Decimal `json:"promotional_rate,omitempty"`
	PromoStartsAt   *time.Time       `json:"promo_starts_at,omitempty"`
	PromoEndsAt     *time.Time       `json:"promo_ends_at,omitempty"`
	Source          string           `json:"source,omitempty"`
}

func (h *AdminRewardsHandlers) upsertRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.rates == nil {
		writeServiceUnavailable(w, r, "rate service is unavailable")
		return
	}
	identity, ok := requireUser(ctx, w)
	if !ok {
		return
	}
	var req upsertRateRequest
	if err := httpx.DecodeJSON(r, maxAdminRewardsBody, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	source := domain.RuleSource(strings.ToLower(strings.TrimSpace(req.Source)))
	if source == "" {
		source = domain.RuleSourceCustom
	}
	rule, err := h.rates.UpsertCategoryRate(ctx, services.UpsertCategoryRateCommand{
		Kind:            domain.RateKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Platform:        domain.Platform(strings.ToLower(strings.TrimSpace(req.Platform))),
		CategoryName:    req.Category,
		Rate:            req.Rate,
		PromotionalRate: req.PromotionalRate,
		PromoStartsAt:   req.PromoStartsAt,
		PromoEndsAt:     req.PromoEndsAt,
		Source:          source,
		ActorID:         identity.UID,
	})
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newRateRulePayload(rule))
}

type deactivateRateRequest struct {
	Kind     string `json:"kind"`
	Platform string `json:"platform"`
	Category string `json:"category"`
}

func (h *AdminRewardsHandlers) deactivateRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.rates == nil {
		writeServiceUnavailable(w, r, "rate service is unavailable")
		return
	}
	identity, ok := requireUser(ctx, w)
	if !ok {
		return
	}
	var req deactivateRateRequest
	if err := httpx.DecodeJSON(r, maxAdminRewardsBody, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	err := h.rates.DeactivateCategoryRate(ctx, services.DeactivateCategoryRateCommand{
		Kind:         domain.RateKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Platform:     domain.Platform(strings.ToLower(strings.TrimSpace(req.Platform))),
		CategoryName: req.Category,
		ActorID:      identity.UID,
	})
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type upsertOverrideRequest struct {
	Rate   decimal.Decimal `json:"rate"`
	Reason string          `json:"reason"`
}

func (h *AdminRewardsHandlers) upsertOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.rates == nil {
		writeServiceUnavailable(w, r, "rate service is unavailable")
		return
	}
	identity, ok := requireUser(ctx, w)
	if !ok {
		return
	}
	var req upsertOverrideRequest
	if err := httpx.DecodeJSON(r, maxAdminRewardsBody, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	override, err := h.rates.UpsertProductOverride(ctx, services.UpsertProductOverrideCommand{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		Rate:      req.Rate,
		Reason:    req.Reason,
		ActorID:   identity.UID,
	})
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newOverridePayload(override))
}

func (h *AdminRewardsHandlers) deactivateOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.rates == nil {
		writeServiceUnavailable(w, r, "rate service is unavailable")
		return
	}
	identity, ok := requireUser(ctx, w)
	if !ok {
		return
	}
	if err := h.rates.DeactivateProductOverride(ctx, strings.TrimSpace(chi.URLParam(r, "productID")), identity.UID); err != nil {
		writeRewardsError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
