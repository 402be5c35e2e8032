package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/rewards/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	RateRules() RateRuleRepository
	Overrides() OverrideRepository
	Ledger() LedgerRepository
	Redemptions() RedemptionRepository
	Vouchers() VoucherRepository
	Accounts() AccountLocker
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// RateRuleRepository stores category level commission and markup rules.
type RateRuleRepository interface {
	// Upsert atomically replaces the rule occupying the key, or inserts it. The stored rule is returned.
	Upsert(ctx context.Context, rule domain.RateRule) (domain.RateRule, error)
	Deactivate(ctx context.Context, key domain.RateRuleKey, actor string, at time.Time) error
	FindActive(ctx context.Context, key domain.RateRuleKey) (domain.RateRule, error)
	ListActive(ctx context.Context, kind domain.RateKind, platform domain.Platform) ([]domain.RateRule, error)
	List(ctx context.Context, filter RateRuleFilter) ([]domain.RateRule, error)
}

// RateRuleFilter narrows admin rate listings.
type RateRuleFilter struct {
	Kind           domain.RateKind
	Platform       domain.Platform
	IncludeRetired bool
}

// OverrideRepository stores per product rate overrides. Superseded overrides are retained.
type OverrideRepository interface {
	// Replace deactivates the currently active override for the product and inserts the new one atomically.
	Replace(ctx context.Context, override domain.ProductMarkupOverride) (domain.ProductMarkupOverride, error)
	Deactivate(ctx context.Context, productID string, actor string, at time.Time) error
	FindActive(ctx context.Context, productID string) (domain.ProductMarkupOverride, error)
	List(ctx context.Context, filter OverrideFilter) ([]domain.ProductMarkupOverride, error)
}

// OverrideFilter narrows override listings.
type OverrideFilter struct {
	ProductID      string
	IncludeRetired bool
}

// LedgerRepository is the append-only store of ledger entries.
type LedgerRepository interface {
	// AppendGrant inserts the entry unless one already exists for its key. The surviving entry is returned
	// with created=false when another writer got there first.
	AppendGrant(ctx context.Context, entry domain.LedgerEntry) (stored domain.LedgerEntry, created bool, err error)
	FindByKey(ctx context.Context, key domain.LedgerKey) (domain.LedgerEntry, error)
	ListByUser(ctx context.Context, userID string, filter LedgerFilter) (domain.CursorPage[domain.LedgerEntry], error)
	AllByUser(ctx context.Context, userID string) ([]domain.LedgerEntry, error)
	// ConfirmMatured flips pending grants whose availableAt has passed. It returns how many entries changed.
	ConfirmMatured(ctx context.Context, now time.Time, limit int) (int, error)
}

// LedgerFilter narrows ledger listings.
type LedgerFilter struct {
	Status     domain.LedgerStatus
	Pagination domain.Pagination
}

// RedemptionRepository exposes read access to redemptions outside the per user critical section.
type RedemptionRepository interface {
	FindByID(ctx context.Context, redemptionID string) (domain.Redemption, error)
	ListByUser(ctx context.Context, userID string, filter RedemptionFilter) (domain.CursorPage[domain.Redemption], error)
	ListByStatus(ctx context.Context, filter RedemptionFilter) (domain.CursorPage[domain.Redemption], error)
}

// RedemptionFilter narrows redemption listings.
type RedemptionFilter struct {
	Status     domain.RedemptionStatus
	Type       domain.RedemptionType
	Pagination domain.Pagination
}

// VoucherRepository exposes vouchers minted by voucher redemptions.
type VoucherRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Voucher, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Voucher, error)
}

// AccountLocker serialises balance-affecting writes of one user.
type AccountLocker interface {
	// WithAccount runs fn inside a critical section scoped to the user. Writes made through the
	// AccountTx become visible together when fn returns nil and are discarded otherwise.
	WithAccount(ctx context.Context, userID string, fn func(ctx context.Context, tx AccountTx) error) error
}

// AccountTx is the set of reads and writes permitted inside an account critical section.
type AccountTx interface {
	Entries(ctx context.Context) ([]domain.LedgerEntry, error)
	OpenRedemptions(ctx context.Context) ([]domain.Redemption, error)
	GetRedemption(ctx context.Context, redemptionID string) (domain.Redemption, error)
	InsertRedemption(ctx context.Context, redemption domain.Redemption) error
	UpdateRedemption(ctx context.Context, redemption domain.Redemption) error
	AppendDebit(ctx context.Context, entry domain.LedgerEntry) error
	InsertVoucher(ctx context.Context, voucher domain.Voucher) error
}

// HealthRepository reports dependency health for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
