package payouts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe payout operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeTransferAPI interface {
	New(params *stripe.TransferParams) (*stripe.Transfer, error)
	Get(id string, params *stripe.TransferParams) (*stripe.Transfer, error)
}

type stripeAccountAPI interface {
	GetByID(id string, params *stripe.AccountParams) (*stripe.Account, error)
}

type stripeClients struct {
	transfers stripeTransferAPI
	accounts  stripeAccountAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey   string
	Currency string
	Backends *stripe.Backends
	Logger   StripeLogger
	Clock    func() time.Time
	Clients  *stripeClients
}

// StripeProvider disburses cash redemptions as Stripe Connect transfers.
type StripeProvider struct {
	api      stripeClients
	currency string
	clock    func() time.Time
	logger   StripeLogger
}

// NewStripeProvider constructs a Stripe payout provider.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			transfers: sc.Transfers,
			accounts:  sc.Accounts,
		}
	}
	if clients.transfers == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	return &StripeProvider{
		api:      clients,
		currency: currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Disburse creates a transfer to the destination connected account. The idempotency key makes
// a retried dispatch return the original transfer.
func (p *StripeProvider) Disburse(ctx context.Context, req DisburseRequest) (Transfer, error) {
	if p == nil {
		return Transfer{}, errors.New("stripe: provider is nil")
	}
	destination := strings.TrimSpace(req.Destination)
	if destination == "" {
		return Transfer{}, errors.New("stripe: destination account is required")
	}
	if req.AmountCents <= 0 {
		return Transfer{}, errors.New("stripe: transfer amount must be positive")
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = p.currency
	}
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(currency),
		Destination: stripe.String(destination),
	}
	params.Context = ctx
	if req.RedemptionID != "" {
		params.TransferGroup = stripe.String("redemption_" + req.RedemptionID)
		params.AddMetadata("redemption_id", req.RedemptionID)
	}
	if req.UserID != "" {
		params.AddMetadata("user_id", req.UserID)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	transfer, err := p.api.transfers.New(params)
	if err != nil {
		return Transfer{}, fmt.Errorf("stripe: create transfer: %w", err)
	}
	p.logger(ctx, "payouts.stripe.transfer.created", map[string]any{
		"transferId":   transfer.ID,
		"redemptionId": req.RedemptionID,
		"amount":       transfer.Amount,
	})
	return p.stripeTransfer(transfer), nil
}

// Lookup retrieves a transfer for reconciliation.
func (p *StripeProvider) Lookup(ctx context.Context, req LookupRequest) (Transfer, error) {
	if p == nil {
		return Transfer{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.TransferParams{}
	params.Context = ctx
	transfer, err := p.api.transfers.Get(strings.TrimSpace(req.TransferID), params)
	if err != nil {
		return Transfer{}, fmt.Errorf("stripe: lookup transfer: %w", err)
	}
	return p.stripeTransfer(transfer), nil
}

func (p *StripeProvider) stripeTransfer(transfer *stripe.Transfer) Transfer {
	if transfer == nil {
		return Transfer{}
	}
	status := StatusPaid
	if transfer.Reversed || transfer.AmountReversed > 0 {
		status = StatusReversed
	}
	destination := ""
	if transfer.Destination != nil {
		destination = transfer.Destination.ID
	}
	createdAt := p.clock()
	if transfer.Created != 0 {
		createdAt = time.Unix(transfer.Created, 0).UTC()
	}

	raw := map[string]any{}
	if data, err := json.Marshal(transfer); err == nil {
		_ = json.Unmarshal(data, &raw)
	} else {
		raw["transfer"] = transfer
	}

	return Transfer{
		Provider:      "stripe",
		TransferID:    transfer.ID,
		Destination:   destination,
		Status:        status,
		AmountCents:   transfer.Amount,
		ReversedCents: transfer.AmountReversed,
		Currency:      strings.ToUpper(string(transfer.Currency)),
		CreatedAt:     createdAt,
		Raw:           raw,
	}
}
