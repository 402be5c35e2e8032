package payouts

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// AccountDetails captures what a payout needs to know about a connected account.
type AccountDetails struct {
	ID              string
	Country         string
	DefaultCurrency string
	PayoutsEnabled  bool
	TransfersActive bool
}

// Ready reports whether the account can receive transfers.
func (d AccountDetails) Ready() bool {
	return d.PayoutsEnabled && d.TransfersActive
}

// StripeAccountVerifier looks up connected accounts before money is sent to them.
type StripeAccountVerifier struct {
	api stripeAccountAPI
}

// NewStripeAccountVerifier constructs a verifier using the provided configuration.
func NewStripeAccountVerifier(cfg StripeProviderConfig) (*StripeAccountVerifier, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && (cfg.Clients == nil || cfg.Clients.accounts == nil) {
		return nil, errors.New("stripe: api key is required")
	}

	var api stripeAccountAPI
	if cfg.Clients != nil && cfg.Clients.accounts != nil {
		api = cfg.Clients.accounts
	} else {
		sc := client.New(apiKey, cfg.Backends)
		api = sc.Accounts
	}
	if api == nil {
		return nil, errors.New("stripe: accounts client is nil")
	}
	return &StripeAccountVerifier{api: api}, nil
}

// Lookup fetches the payout capabilities of accountID.
func (v *StripeAccountVerifier) Lookup(ctx context.Context, accountID string) (AccountDetails, error) {
	if v == nil {
		return AccountDetails{}, errors.New("stripe: verifier is nil")
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return AccountDetails{}, errors.New("stripe: account id is required")
	}

	params := &stripe.AccountParams{}
	params.Context = ctx
	account, err := v.api.GetByID(accountID, params)
	if err != nil {
		return AccountDetails{}, err
	}

	details := AccountDetails{ID: accountID}
	if account == nil {
		return details, nil
	}
	if trimmed := strings.TrimSpace(account.ID); trimmed != "" {
		details.ID = trimmed
	}
	details.Country = strings.ToUpper(account.Country)
	details.DefaultCurrency = strings.ToUpper(string(account.DefaultCurrency))
	details.PayoutsEnabled = account.PayoutsEnabled
	if account.Capabilities != nil {
		details.TransfersActive = account.Capabilities.Transfers == stripe.AccountCapabilityStatusActive
	}
	return details, nil
}
