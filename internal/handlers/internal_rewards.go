package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/platform/events"
	"github.com/hanko-field/rewards/internal/platform/httpx"
	"github.com/hanko-field/rewards/internal/platform/requestctx"
	"github.com/hanko-field/rewards/internal/services"
)

const (
	maxInternalEventBody = 64 * 1024
	defaultSweepLimit    = 400
	maxSweepLimit        = 5000
)

// InternalRewardsHandlers serves the service-to-service endpoints used by schedulers and producers.
// Authentication is applied by the router.
type InternalRewardsHandlers struct {
	processor services.EventProcessor
	ledger    services.LedgerService
	payouts   services.PayoutService
	vouchers  services.RedemptionService
}

// InternalRewardsOption customises InternalRewardsHandlers.
type InternalRewardsOption func(*InternalRewardsHandlers)

// WithVoucherLookup exposes voucher resolution to checkout.
func WithVoucherLookup(redemptions services.RedemptionService) InternalRewardsOption {
	return func(h *InternalRewardsHandlers) {
		h.vouchers = redemptions
	}
}

// NewInternalRewardsHandlers constructs the internal rewards handlers.
func NewInternalRewardsHandlers(processor services.EventProcessor, ledger services.LedgerService, payouts services.PayoutService, opts ...InternalRewardsOption) *InternalRewardsHandlers {
	h := &InternalRewardsHandlers{processor: processor, ledger: ledger, payouts: payouts}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /internal/rewards endpoints.
func (h *InternalRewardsHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/rewards", func(rt chi.Router) {
		rt.Post("/events", h.processEvent)
		rt.Post("/sweep", h.sweep)
		rt.Post("/payouts:dispatch", h.dispatchPayouts)
		rt.Get("/vouchers/{code}", h.lookupVoucher)
	})
}

func (h *InternalRewardsHandlers) processEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.processor == nil {
		writeServiceUnavailable(w, r, "reward pipeline is unavailable")
		return
	}
	body, err := httpx.ReadBody(r, maxInternalEventBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	event, err := events.DecodeRewardEvent(body)
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}
	ctx = requestctx.WithEventKey(ctx, event.EventKey)
	outcome, err := h.processor.Process(ctx, event)
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}
	status := http.StatusCreated
	if outcome.Duplicate || outcome.Skipped {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, newEventOutcomePayload(outcome))
}

type sweepResponse struct {
	Confirmed int `json:"confirmed"`
}

func (h *InternalRewardsHandlers) sweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		writeServiceUnavailable(w, r, "rewards service is unavailable")
		return
	}
	limit, ok := batchLimit(w, r, defaultSweepLimit)
	if !ok {
		return
	}
	confirmed, err := h.ledger.ConfirmMatured(ctx, limit)
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}
	requestctx.Logger(ctx).Info("cooling-off sweep completed", zap.Int("confirmed", confirmed), zap.Int("limit", limit))
	httpx.WriteJSON(w, http.StatusOK, sweepResponse{Confirmed: confirmed})
}

type payoutDispatchResponse struct {
	Attempted int `json:"attempted"`
	Paid      int `json:"paid"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (h *InternalRewardsHandlers) dispatchPayouts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payouts == nil {
		writeServiceUnavailable(w, r, "payouts are not configured")
		return
	}
	limit, ok := batchLimit(w, r, 0)
	if !ok {
		return
	}
	summary, err := h.payouts.Dispatch(ctx, limit)
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, payoutDispatchResponse(summary))
}

type voucherLookupResponse struct {
	Voucher voucherPayload `json:"voucher"`
	UserID  string         `json:"user_id"`
	Usable  bool           `json:"usable"`
}

func (h *InternalRewardsHandlers) lookupVoucher(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vouchers == nil {
		writeServiceUnavailable(w, r, "voucher lookup is unavailable")
		return
	}
	voucher, err := h.vouchers.LookupVoucher(ctx, chi.URLParam(r, "code"))
	if err != nil {
		writeRewardsError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, voucherLookupResponse{
		Voucher: newVoucherPayload(voucher),
		UserID:  voucher.UserID,
		Usable:  voucher.Status == domain.VoucherStatusActive,
	})
}

func batchLimit(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
		return 0, false
	}
	if limit > maxSweepLimit {
		limit = maxSweepLimit
	}
	return limit, true
}
