package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/platform/auth"
	"github.com/hanko-field/rewards/internal/platform/httpx"
	"github.com/hanko-field/rewards/internal/platform/pagination"
	"github.com/hanko-field/rewards/internal/services"
)

const maxRedemptionRequestBody = 16 * 1024

var (
	ledgerListOptions = pagination.Options{
		AllowedFilters: map[string][]string{
			"status": {string(domain.LedgerStatusPending), string(domain.LedgerStatusConfirmed), string(domain.LedgerStatusRedeemed)},
		},
	}
	redemptionListOptions = pagination.Options{
		AllowedFilters: map[string][]string{
			"status": {
				string(domain.RedemptionStatusRequested),
				string(domain.RedemptionStatusApproved),
				string(domain.RedemptionStatusRejected),
				string(domain.RedemptionStatusPaid),
			},
			"type": {string(domain.RedemptionTypeVoucher), string(domain.RedemptionTypeGiftCard), string(domain.RedemptionTypeCash)},
		},
	}
)

// MeRewardsHandlers exposes the signed-in user's balance, ledger and redemptions.
type MeRewardsHandlers struct {
	authn       *auth.Authenticator
	ledger      services.LedgerService
	redemptions services.RedemptionService
	idempotency func(http.Handler) http.Handler
	limiter     func(http.Handler) http.Handler
}

// MeRewardsOption customises MeRewardsHandlers.
type MeRewardsOption func(*MeRewardsHandlers)

// WithRedemptionIdempotency guards redemption requests with the idempotency middleware.
func WithRedemptionIdempotency(mw func(http.Handler) http.Handler) MeRewardsOption {
	return func(h *MeRewardsHandlers) {
		h.idempotency = mw
	}
}

// WithRedemptionRateLimit throttles redemption requests per user.
func WithRedemptionRateLimit(mw func(http.Handler) http.Handler) MeRewardsOption {
	return func(h *MeRewardsHandlers) {
		h.limiter = mw
	}
}

// NewMeRewardsHandlers constructs the /me rewards handlers.
func NewMeRewardsHandlers(authn *auth.Authenticator, ledger services.LedgerService, redemptions services.RedemptionService, opts ...MeRewardsOption) *MeRewardsHandlers {
	h := &MeRewardsHandlers{authn: authn, ledger: ledger, redemptions: redemptions}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /me/rewards endpoints.
func (h *MeRewardsHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Route("/rewards", func(rt chi.Router) {
		rt.Get("/balance", h.getBalance)
		rt.Get("/ledger", h.listLedger)
		rt.Get("/redemptions", h.listRedemptions)
		rt.Get("/vouchers", h.listVouchers)

		guarded := rt.With()
		if h.limiter != nil {
			guarded = guarded.With(h.limiter)
		}
		if h.idempotency != nil {
			guarded = guarded.With(h.idempotency)
		}
		guarded.Post("/redemptions", h.requestRedemption)
	})
}

func (h *MeRewardsHandlers) getBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		httpx.WriteError(ctx, w, httpx.NewError("rewards_unavailable", "rewards service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireUser(ctx, w)
	if !ok {
		return
	}
	balance, err := h.ledger.Balance(ctx, identity.UID)
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newBalancePayload(balance))
}

type ledgerListResponse struct {
	Items         []ledgerEntryPayload `json:"items"`
	NextPageToken string               `json:"next_page_token,omitempty"`
}

func (h *MeRewardsHandlers) listLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		httpx.WriteError(ctx, w, httpx.NewError("rewards_unavailable", "rewards service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireUser(ctx, w)
	if !ok {
		return
	}
	params, err := pagination.FromRequest(r, ledgerListOptions)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	page, err := h.ledger.List(ctx, identity.UID, services.LedgerListFilter{
		Status:     domain.LedgerStatus(params.Filter("status")),
		Pagination: params.Pagination(),
	})
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}
	resp := ledgerListResponse{Items: make([]ledgerEntryPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, entry := range page.Items {
		resp.Items = append(resp.Items, newLedgerEntryPayload(entry))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type redemptionListResponse struct {
	Items         []redemptionPayload `json:"items"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

func (h *MeRewardsHandlers) listRedemptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.redemptions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("rewards_unavailable", "redemption service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireUser(ctx, w)
	if !ok {
		return
	}
	filter, err := parseRedemptionListFilter(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	page, err := h.redemptions.ListForUser(ctx, identity.UID, filter)
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, redemptionListResponse{Items: newRedemptionPayloads(page.Items), NextPageToken: page.NextPageToken})
}

type voucherListResponse struct {
	Items []voucherPayload `json:"items"`
}

func (h *MeRewardsHandlers) listVouchers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.redemptions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("rewards_unavailable", "redemption service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireUser(ctx, w)
	if !ok {
		return
	}
	vouchers, err := h.redemptions.ListVouchers(ctx, identity.UID)
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}
	items := make([]voucherPayload, 0, len(vouchers))
	for _, voucher := range vouchers {
		items = append(items, newVoucherPayload(voucher))
	}
	httpx.WriteJSON(w, http.StatusOK, voucherListResponse{Items: items})
}

type redemptionRequest struct {
	Type        string           `json:"type"`
	AmountCents *int64           `json:"amount_cents,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Target      map[string]any   `json:"target,omitempty"`
}

type redemptionResponse struct {
	Redemption redemptionPayload `json:"redemption"`
	Voucher    *voucherPayload   `json:"voucher,omitempty"`
}

func (h *MeRewardsHandlers) requestRedemption(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.redemptions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("rewards_unavailable", "redemption service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireUser(ctx, w)
	if !ok {
		return
	}

	var req redemptionRequest
	if err := httpx.DecodeJSON(r, maxRedemptionRequestBody, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	amount, err := decimalCents("amount", req.AmountCents, req.Amount)
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}

	outcome, err := h.redemptions.Request(ctx, services.RedemptionCommand{
		UserID:      identity.UID,
		Type:        domain.RedemptionType(strings.ToLower(strings.TrimSpace(req.Type))),
		AmountCents: amount,
		Target:      req.Target,
	})
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}

	resp := redemptionResponse{Redemption: newRedemptionPayload(outcome.Redemption)}
	if outcome.Voucher != nil {
		voucher := newVoucherPayload(*outcome.Voucher)
		resp.Voucher = &voucher
	}
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

func parseRedemptionListFilter(r *http.Request) (services.RedemptionListFilter, error) {
	params, err := pagination.FromRequest(r, redemptionListOptions)
	if err != nil {
		return services.RedemptionListFilter{}, err
	}
	return services.RedemptionListFilter{
		Status:     domain.RedemptionStatus(params.Filter("status")),
		Type:       domain.RedemptionType(params.Filter("type")),
		Pagination: params.Pagination(),
	}, nil
}
