package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/rewards/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination            = domain.Pagination
	Product               = domain.Product
	ProductType           = domain.ProductType
	RateRule              = domain.RateRule
	RateRuleKey           = domain.RateRuleKey
	ProductMarkupOverride = domain.ProductMarkupOverride
	ResolvedRate          = domain.ResolvedRate
	MarginInput           = domain.MarginInput
	MarginResult          = domain.MarginResult
	RewardCalculation     = domain.RewardCalculation
	RewardEvent           = domain.RewardEvent
	LedgerEntry           = domain.LedgerEntry
	Balance               = domain.Balance
	Voucher               = domain.Voucher
	Redemption            = domain.Redemption
	SystemHealthReport    = domain.SystemHealthReport
)

// Logger receives structured service events. Fields are attached to the request logger by the caller.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// RateResolver resolves the effective commission or markup percentage for a product.
type RateResolver interface {
	Resolve(ctx context.Context, query RateQuery) (ResolvedRate, error)
}

// RateQuery identifies the product whose rate is being resolved.
type RateQuery struct {
	Kind         domain.RateKind
	Platform     domain.Platform
	CategoryName string
	ProductID    string
	ProductType  domain.ProductType
}

// MarginCalculator derives the margin of a sale from its input and resolved rate.
type MarginCalculator interface {
	Calculate(input MarginInput, rate decimal.Decimal) (MarginResult, error)
}

// RewardEngine turns a margin into a reward using the operating buffer, tiers and clamps.
type RewardEngine interface {
	Calculate(marginCents int64, multiplier decimal.Decimal) (RewardCalculation, error)
}

// CoolingOffScheduler decides when a reward becomes usable.
type CoolingOffScheduler interface {
	Schedule(productType ProductType, now time.Time) (CoolingOffDecision, error)
}

// CoolingOffDecision is the initial status and availability of a grant.
type CoolingOffDecision struct {
	Status      domain.LedgerStatus
	AvailableAt *time.Time
	Days        int
}

// LedgerService grants rewards and derives balances from the append-only ledger.
type LedgerService interface {
	Grant(ctx context.Context, cmd GrantCommand) (GrantResult, error)
	// Find returns the grant stored under key. Found is false when there is none.
	Find(ctx context.Context, key domain.LedgerKey) (entry LedgerEntry, found bool, err error)
	Balance(ctx context.Context, userID string) (Balance, error)
	List(ctx context.Context, userID string, filter LedgerListFilter) (domain.CursorPage[LedgerEntry], error)
	ConfirmMatured(ctx context.Context, limit int) (int, error)
}

// GrantCommand carries the attributes of a reward grant.
type GrantCommand struct {
	UserID      string
	SourceType  domain.SourceType
	SourceID    string
	ProductType ProductType
	AmountCents int64
	Status      domain.LedgerStatus
	AvailableAt *time.Time
	Metadata    map[string]any
}

// GrantResult returns the surviving ledger entry. Created is false for duplicate deliveries.
type GrantResult struct {
	Entry   LedgerEntry
	Created bool
}

// LedgerListFilter narrows ledger listings for one user.
type LedgerListFilter struct {
	Status     domain.LedgerStatus
	Pagination Pagination
}

// RedemptionService converts balance into vouchers, gift cards and cash payouts.
type RedemptionService interface {
	Request(ctx context.Context, cmd RedemptionCommand) (RedemptionOutcome, error)
	Approve(ctx context.Context, cmd RedemptionReviewCommand) (Redemption, error)
	Reject(ctx context.Context, cmd RedemptionReviewCommand) (Redemption, error)
	MarkPaid(ctx context.Context, cmd RedemptionPaymentCommand) (Redemption, error)
	Get(ctx context.Context, redemptionID string) (Redemption, error)
	ListForUser(ctx context.Context, userID string, filter RedemptionListFilter) (domain.CursorPage[Redemption], error)
	ListByStatus(ctx context.Context, filter RedemptionListFilter) (domain.CursorPage[Redemption], error)
	// ListVouchers returns the user's vouchers, newest first.
	ListVouchers(ctx context.Context, userID string) ([]Voucher, error)
	// LookupVoucher resolves a voucher code for checkout.
	LookupVoucher(ctx context.Context, code string) (Voucher, error)
}

// RedemptionCommand requests a redemption of AmountCents.
type RedemptionCommand struct {
	UserID      string
	Type        domain.RedemptionType
	AmountCents int64
	Target      map[string]any
}

// RedemptionOutcome is the created redemption and, for voucher redemptions, the minted voucher.
type RedemptionOutcome struct {
	Redemption Redemption
	Voucher    *Voucher
}

// RedemptionReviewCommand approves or rejects a requested redemption.
type RedemptionReviewCommand struct {
	RedemptionID string
	ActorID      string
	Reason       string
}

// RedemptionPaymentCommand records that an approved redemption was paid out.
type RedemptionPaymentCommand struct {
	RedemptionID string
	ActorID      string
	Provider     string
	ProviderRef  string
}

// RedemptionListFilter narrows redemption listings.
type RedemptionListFilter struct {
	Status     domain.RedemptionStatus
	Type       domain.RedemptionType
	Pagination Pagination
}

// EventProcessor runs inbound reward events through the calculation pipeline into the ledger.
type EventProcessor interface {
	Process(ctx context.Context, event RewardEvent) (EventOutcome, error)
	Quote(ctx context.Context, event RewardEvent) (RewardCalculation, error)
}

// EventOutcome reports what a processed event produced.
type EventOutcome struct {
	Calculation RewardCalculation
	Entry       *LedgerEntry
	Duplicate   bool
	Skipped     bool
	SkipReason  string
}

// RateAdminService manages rate rules and product overrides.
type RateAdminService interface {
	UpsertCategoryRate(ctx context.Context, cmd UpsertCategoryRateCommand) (RateRule, error)
	DeactivateCategoryRate(ctx context.Context, cmd DeactivateCategoryRateCommand) error
	UpsertProductOverride(ctx context.Context, cmd UpsertProductOverrideCommand) (ProductMarkupOverride, error)
	DeactivateProductOverride(ctx context.Context, productID string, actorID string) error
	ListRates(ctx context.Context, filter RateListFilter) (RateListing, error)
}

// UpsertCategoryRateCommand creates or replaces a category rate.
type UpsertCategoryRateCommand struct {
	Kind            domain.RateKind
	Platform        domain.Platform
	CategoryName    string
	Rate            decimal.Decimal
	PromotionalRate *decimal.Decimal
	PromoStartsAt   *time.Time
	PromoEndsAt     *time.Time
	Source          domain.RuleSource
	ActorID         string
}

// DeactivateCategoryRateCommand retires a category rate.
type DeactivateCategoryRateCommand struct {
	Kind         domain.RateKind
	Platform     domain.Platform
	CategoryName string
	ActorID      string
}

// UpsertProductOverrideCommand replaces the active override of a product.
type UpsertProductOverrideCommand struct {
	ProductID string
	Rate      decimal.Decimal
	Reason    string
	ActorID   string
}

// RateListFilter narrows rate listings.
type RateListFilter struct {
	Kind           domain.RateKind
	Platform       domain.Platform
	IncludeRetired bool
}

// RateListing is the audit view of every rate source.
type RateListing struct {
	Rules     []RateRule
	Overrides []ProductMarkupOverride
	Industry  []domain.IndustryRate
	Fallback  map[domain.RateKind]decimal.Decimal
}

// SystemService exposes readiness information.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}
