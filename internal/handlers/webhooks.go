package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/platform/auth"
	"github.com/hanko-field/rewards/internal/platform/events"
	"github.com/hanko-field/rewards/internal/platform/httpx"
	"github.com/hanko-field/rewards/internal/platform/requestctx"
	"github.com/hanko-field/rewards/internal/services"
)

const (
	maxWebhookBody        = 64 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// WebhookHandlers turns captured payments and affiliate conversions into reward events.
type WebhookHandlers struct {
	processor       services.EventProcessor
	stripeSecret    string
	hmac            *auth.HMACValidator
	networkSecrets  map[string]string
	constructStripe func(payload []byte, header string, secret string) (stripe.Event, error)
}

// WebhookOption customises WebhookHandlers.
type WebhookOption func(*WebhookHandlers)

// WithStripeWebhookSecret enables /stripe, verified with the endpoint signing secret.
func WithStripeWebhookSecret(secret string) WebhookOption {
	return func(h *WebhookHandlers) {
		h.stripeSecret = strings.TrimSpace(secret)
	}
}

// WithAffiliateNetworks enables /affiliate/{network}. secrets maps a network name to the name of
// the HMAC secret its requests are signed with.
func WithAffiliateNetworks(validator *auth.HMACValidator, secrets map[string]string) WebhookOption {
	return func(h *WebhookHandlers) {
		h.hmac = validator
		h.networkSecrets = make(map[string]string, len(secrets))
		for network, secret := range secrets {
			network = strings.ToLower(strings.TrimSpace(network))
			if network != "" && strings.TrimSpace(secret) != "" {
				h.networkSecrets[network] = strings.TrimSpace(secret)
			}
		}
	}
}

// NewWebhookHandlers constructs webhook handlers over the event processor.
func NewWebhookHandlers(processor services.EventProcessor, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{
		processor:       processor,
		constructStripe: webhook.ConstructEvent,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the configured webhook endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.stripeSecret != "" {
		r.Post("/stripe", h.handleStripe)
	}
	if h.hmac != nil && len(h.networkSecrets) > 0 {
		r.With(h.hmac.RequireHMACResolver(h.networkSecret)).Post("/affiliate/{network}", h.handleAffiliate)
	}
}

func (h *WebhookHandlers) networkSecret(r *http.Request) (string, bool) {
	secret, ok := h.networkSecrets[strings.ToLower(strings.TrimSpace(chi.URLParam(r, "network")))]
	return secret, ok
}

type webhookResponse struct {
	Received bool                 `json:"received"`
	Outcome  *eventOutcomePayload `json:"outcome,omitempty"`
	Ignored  string               `json:"ignored,omitempty"`
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.processor == nil {
		writeServiceUnavailable(w, r, "reward pipeline is unavailable")
		return
	}
	payload, err := httpx.ReadBody(r, maxWebhookBody)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	event, err := h.constructStripe(payload, r.Header.Get(stripeSignatureHeader), h.stripeSecret)
	if err != nil {
		requestctx.Logger(ctx).Warn("stripe webhook rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	logger := requestctx.Logger(ctx).With(zap.String("stripeEventId", event.ID), zap.String("stripeEventType", string(event.Type)))
	if event.Type != "payment_intent.succeeded" {
		logger.Debug("stripe webhook ignored")
		httpx.WriteJSON(w, http.StatusOK, webhookResponse{Received: true, Ignored: string(event.Type)})
		return
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment intent payload is malformed", http.StatusBadRequest))
		return
	}
	msg, ok := rewardMessageFromIntent(event.ID, &intent)
	if !ok {
		logger.Info("payment intent carries no reward attribution", zap.String("paymentIntent", intent.ID))
		httpx.WriteJSON(w, http.StatusOK, webhookResponse{Received: true, Ignored: "unattributed"})
		return
	}
	h.process(w, r, msg)
}

// rewardMessageFromIntent reads the reward attribution that checkout stamps on the payment intent
// metadata. The captured amount is the sale price.
func rewardMessageFromIntent(eventID string, intent *stripe.PaymentIntent) (events.RewardEventMessage, bool) {
	meta := intent.Metadata
	userID := strings.TrimSpace(meta["user_id"])
	if userID == "" {
		return events.RewardEventMessage{}, false
	}
	amount := intent.AmountReceived
	if amount == 0 {
		amount = intent.Amount
	}
	msg := events.RewardEventMessage{
		EventKey:    eventID,
		UserID:      userID,
		ProductType: meta["product_type"],
		Product: events.ProductPayload{
			ID:       meta["product_id"],
			Platform: meta["platform"],
			Category: meta["category"],
		},
		Payload: events.ReferencePayload{OrderID: meta["order_id"]},
		Calc:    events.CalcPayload{SalePriceCents: &amount},
		Metadata: map[string]any{
			"paymentIntent": intent.ID,
			"currency":      string(intent.Currency),
		},
	}
	if strings.TrimSpace(msg.Payload.OrderID) == "" {
		msg.Payload.Reference = intent.ID
	}
	if cents, err := strconv.ParseInt(strings.TrimSpace(meta["cost_cents"]), 10, 64); err == nil {
		msg.Calc.CostCents = &cents
	}
	if cents, err := strconv.ParseInt(strings.TrimSpace(meta["margin_cents"]), 10, 64); err == nil {
		msg.Calc.MarginCents = &cents
	}
	if raw := strings.TrimSpace(meta["promo_multiplier"]); raw != "" {
		if multiplier, err := decimal.NewFromString(raw); err == nil {
			msg.PromoMultiplier = &multiplier
		}
	}
	if intent.Created != 0 {
		occurred := time.Unix(intent.Created, 0).UTC()
		msg.OccurredAt = &occurred
	}
	return msg, true
}

func (h *WebhookHandlers) handleAffiliate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.processor == nil {
		writeServiceUnavailable(w, r, "reward pipeline is unavailable")
		return
	}
	var msg events.RewardEventMessage
	if err := httpx.DecodeJSON(r, maxWebhookBody, &msg); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	network := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "network")))
	if strings.TrimSpace(msg.ProductType) == "" {
		msg.ProductType = string(domain.ProductTypeAffiliate)
	}
	if strings.TrimSpace(msg.Product.Platform) == "" {
		msg.Product.Platform = network
	}
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	msg.Metadata["network"] = network
	if meta, ok := auth.HMACMetadataFromContext(ctx); ok && meta != nil && strings.TrimSpace(msg.EventKey) == "" {
		msg.EventKey = network + ":" + meta.Nonce
	}
	h.process(w, r, msg)
}

func (h *WebhookHandlers) process(w http.ResponseWriter, r *http.Request, msg events.RewardEventMessage) {
	ctx := r.Context()
	event, err := msg.ToDomain()
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
	payload := newEventOutcomePayload(outcome)
	httpx.WriteJSON(w, http.StatusOK, webhookResponse{Received: true, Outcome: &payload})
}
