package payouts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised transfer states shared across providers.
type Status string

const (
	// StatusPending indicates the transfer was accepted but funds have not settled.
	StatusPending Status = "pending"
	// StatusPaid indicates the funds reached the destination account.
	StatusPaid Status = "paid"
	// StatusFailed indicates the provider refused or failed the transfer.
	StatusFailed Status = "failed"
	// StatusReversed indicates the transfer was (partially or fully) pulled back.
	StatusReversed Status = "reversed"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payouts: unsupported provider")

// DisburseRequest moves AmountCents to the destination account of a cash redemption.
type DisburseRequest struct {
	RedemptionID   string
	UserID         string
	Destination    string
	AmountCents    int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// LookupRequest identifies a transfer for reconciliation.
type LookupRequest struct {
	TransferID string
}

// Transfer normalises provider transfer fields for storage.
type Transfer struct {
	Provider      string
	TransferID    string
	Destination   string
	Status        Status
	AmountCents   int64
	ReversedCents int64
	Currency      string
	CreatedAt     time.Time
	Raw           map[string]any
}

// Provider defines the contract payout adapters implement.
type Provider interface {
	Disburse(ctx context.Context, req DisburseRequest) (Transfer, error)
	Lookup(ctx context.Context, req LookupRequest) (Transfer, error)
}

// Manager coordinates provider selection for payouts.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payouts: at least one provider is required")
	}
	registered := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payouts: invalid provider registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{providers: registered}
	if _, ok := registered["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PayoutContext carries the hints used to select a provider.
type PayoutContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(hint PayoutContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payouts: manager is nil")
	}
	if provider := strings.TrimSpace(strings.ToLower(hint.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(hint.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Disburse delegates to the resolved provider and stamps the provider key on the result.
func (m *Manager) Disburse(ctx context.Context, hint PayoutContext, req DisburseRequest) (Transfer, error) {
	key, provider, err := m.resolveProvider(hint)
	if err != nil {
		return Transfer{}, err
	}
	transfer, err := provider.Disburse(ctx, req)
	if err != nil {
		return Transfer{}, err
	}
	transfer.Provider = key
	return transfer, nil
}

// Lookup delegates to the resolved provider.
func (m *Manager) Lookup(ctx context.Context, hint PayoutContext, req LookupRequest) (Transfer, error) {
	key, provider, err := m.resolveProvider(hint)
	if err != nil {
		return Transfer{}, err
	}
	transfer, err := provider.Lookup(ctx, req)
	if err != nil {
		return Transfer{}, err
	}
	transfer.Provider = key
	return transfer, nil
}
