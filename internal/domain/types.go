package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// ProductType enumerates the catalog product families that can earn rewards.
type ProductType string

const (
	ProductTypeAffiliate   ProductType = "affiliate"
	ProductTypeDropship    ProductType = "dropship"
	ProductTypePhysical    ProductType = "physical"
	ProductTypeDigital     ProductType = "digital"
	ProductTypeService     ProductType = "service"
	ProductTypeCustom      ProductType = "custom"
	ProductTypeMultivendor ProductType = "multivendor"
	ProductTypeConsumable  ProductType = "consumable"
)

// ProductTypes lists every supported product type in a stable order.
var ProductTypes = []ProductType{
	ProductTypeAffiliate,
	ProductTypeDropship,
	ProductTypePhysical,
	ProductTypeDigital,
	ProductTypeService,
	ProductTypeCustom,
	ProductTypeMultivendor,
	ProductTypeConsumable,
}

// Valid reports whether the product type is one of the enumerated values.
func (t ProductType) Valid() bool {
	for _, candidate := range ProductTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// RateKind returns the rate table consulted for the product type.
func (t ProductType) RateKind() RateKind {
	switch t {
	case ProductTypeAffiliate:
		return RateKindCommission
	case ProductTypeDropship:
		return RateKindMarkup
	default:
		return RateKindFlat
	}
}

// SourceType returns the ledger source type recorded for grants of this product type.
func (t ProductType) SourceType() SourceType {
	switch t {
	case ProductTypeAffiliate:
		return SourceTypeAffiliate
	case ProductTypeDropship:
		return SourceTypeDropship
	default:
		return SourceTypePurchase
	}
}

// Platform identifies the upstream marketplace a rate table belongs to.
type Platform string

const (
	PlatformAmazon      Platform = "amazon"
	PlatformAliExpress  Platform = "aliexpress"
	PlatformWalmart     Platform = "walmart"
	PlatformWooCommerce Platform = "woocommerce"
)

// RateKind distinguishes affiliate commission tables from dropship markup tables.
type RateKind string

const (
	RateKindCommission RateKind = "commission"
	RateKindMarkup     RateKind = "markup"
	RateKindFlat       RateKind = "flat"
)

// Valid reports whether the rate kind is known.
func (k RateKind) Valid() bool {
	switch k {
	case RateKindCommission, RateKindMarkup, RateKindFlat:
		return true
	default:
		return false
	}
}

// MarginSource labels how a calculation's margin was derived.
func (k RateKind) MarginSource() MarginSource {
	switch k {
	case RateKindCommission:
		return MarginSourceCommission
	case RateKindMarkup:
		return MarginSourceMarkup
	default:
		return MarginSourceNone
	}
}

// RuleSource records where a rate rule's value came from.
type RuleSource string

const (
	RuleSourceOfficial RuleSource = "official"
	RuleSourceDefault  RuleSource = "default"
	RuleSourceCustom   RuleSource = "custom"
)

// RateSource reports which resolution step produced an effective rate.
type RateSource string

const (
	RateSourceOverride RateSource = "override"
	RateSourceDatabase RateSource = "database"
	RateSourceIndustry RateSource = "industry"
	RateSourcePolicy   RateSource = "policy"
	RateSourceProvided RateSource = "provided"
	RateSourceDefault  RateSource = "default"
)

// LowConfidence reports whether the rate came from a fallback that operators should review.
func (s RateSource) LowConfidence() bool {
	return s == RateSourceDefault
}

// MarginSource mirrors the rate kind on persisted calculations.
type MarginSource string

const (
	MarginSourceCommission MarginSource = "commission"
	MarginSourceMarkup     MarginSource = "markup"
	MarginSourceNone       MarginSource = "none"
)

// RateRule is a category level rate for one platform's commission or markup table.
type RateRule struct {
	ID              string
	Kind            RateKind
	Platform        Platform
	CategoryName    string
	CategoryKey     string
	Rate            decimal.Decimal
	IsPromotional   bool
	PromotionalRate decimal.Decimal
	PromoStartsAt   *time.Time
	PromoEndsAt     *time.Time
	Source          RuleSource
	Active          bool
	UpdatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PromotionOpen reports whether the promotional window strictly contains now.
func (r RateRule) PromotionOpen(now time.Time) bool {
	if !r.IsPromotional || r.PromoStartsAt == nil || r.PromoEndsAt == nil {
		return false
	}
	return now.After(*r.PromoStartsAt) && now.Before(*r.PromoEndsAt)
}

// EffectiveRate returns the promotional rate inside the window and the base rate otherwise.
func (r RateRule) EffectiveRate(now time.Time) (decimal.Decimal, bool) {
	if r.PromotionOpen(now) {
		return r.PromotionalRate, true
	}
	return r.Rate, false
}

// RateRuleKey identifies the slot a rule occupies; at most one active rule exists per key.
type RateRuleKey struct {
	Kind        RateKind
	Platform    Platform
	CategoryKey string
}

// Key returns the uniqueness slot of the rule.
func (r RateRule) Key() RateRuleKey {
	return RateRuleKey{Kind: r.Kind, Platform: r.Platform, CategoryKey: r.CategoryKey}
}

// ProductMarkupOverride replaces every category rate for a single product while active.
type ProductMarkupOverride struct {
	ID           string
	ProductID    string
	Rate         decimal.Decimal
	Reason       string
	Active       bool
	CreatedBy    string
	CreatedAt    time.Time
	SupersededAt *time.Time
	SupersededBy string
}

// IndustryRate is a built-in default rate keyed by normalized category name.
type IndustryRate struct {
	Kind         RateKind
	CategoryName string
	Rate         decimal.Decimal
}

// Product is the read-only catalog view consumed by the calculators.
type Product struct {
	ID            string
	Type          ProductType
	Platform      Platform
	CategoryName  string
	PriceCents    int64
	OriginalCents int64
	CostCents     *int64
}

// ResolvedRate is the effective rate together with the resolution step that produced it.
type ResolvedRate struct {
	Rate            decimal.Decimal
	Kind            RateKind
	Source          RateSource
	MatchedCategory string
	Promotional     bool
	RuleID          string
	OverrideID      string
}

// MarginResult captures the margin derived from a sale before any reward is drawn from it.
type MarginResult struct {
	MarginCents    int64
	SellPriceCents int64
	CostCents      int64
	Estimated      bool
	RateApplied    decimal.Decimal
}

// RewardCalculation is the audit record of how a reward was derived. It is recomputed on demand.
type RewardCalculation struct {
	ProductID           string
	ProductType         ProductType
	MarginSource        MarginSource
	RateApplied         decimal.Decimal
	RateSource          RateSource
	MarginCents         int64
	EstimatedMargin     bool
	BufferedMarginCents int64
	AppliedTierPercent  decimal.Decimal
	PromoMultiplier     decimal.Decimal
	RewardCents         int64
	MinApplied          bool
	MaxApplied          bool
	CappedAtMargin      bool
	IsInstantReward     bool
	CoolingOffDays      int
}

// SourceType classifies what produced a ledger entry.
type SourceType string

const (
	SourceTypeAffiliate  SourceType = "affiliate"
	SourceTypeDropship   SourceType = "dropship"
	SourceTypePurchase   SourceType = "purchase"
	SourceTypeTask       SourceType = "task"
	SourceTypeRedemption SourceType = "redemption"
)

// LedgerStatus is the lifecycle state of a ledger entry.
type LedgerStatus string

const (
	LedgerStatusPending   LedgerStatus = "pending"
	LedgerStatusConfirmed LedgerStatus = "confirmed"
	LedgerStatusRedeemed  LedgerStatus = "redeemed"
)

// LedgerEntry is one immutable line of a user's rewards ledger. Grants are positive, debits negative.
type LedgerEntry struct {
	ID          string
	UserID      string
	SourceType  SourceType
	SourceID    string
	ProductType ProductType
	AmountCents int64
	Points      int64
	Status      LedgerStatus
	AvailableAt *time.Time
	Metadata    map[string]any
	CreatedAt   time.Time
}

// IsGrant reports whether the entry credits the user.
func (e LedgerEntry) IsGrant() bool {
	return e.AmountCents > 0
}

// LedgerKey is the idempotency key of a grant.
type LedgerKey struct {
	UserID     string
	SourceType SourceType
	SourceID   string
}

// Key returns the idempotency key of the entry.
func (e LedgerEntry) Key() LedgerKey {
	return LedgerKey{UserID: e.UserID, SourceType: e.SourceType, SourceID: e.SourceID}
}

// Balance is derived from the full ledger history of one user.
type Balance struct {
	UserID         string
	ConfirmedCents int64
	PendingCents   int64
	RedeemedCents  int64
	AvailableCents int64
	ReservedCents  int64
	SpendableCents int64
}

// VoucherStatus tracks whether a voucher can still be used.
type VoucherStatus string

const (
	VoucherStatusActive   VoucherStatus = "active"
	VoucherStatusRedeemed VoucherStatus = "redeemed"
	VoucherStatusExpired  VoucherStatus = "expired"
)

// Voucher is store credit minted from a voucher redemption.
type Voucher struct {
	ID           string
	UserID       string
	Code         string
	AmountCents  int64
	Status       VoucherStatus
	RedemptionID string
	CreatedAt    time.Time
	ExpiresAt    *time.Time
}

// StatusAt reports the voucher status at now. Active vouchers past their expiry read as expired.
func (v Voucher) StatusAt(now time.Time) VoucherStatus {
	if v.Status == VoucherStatusActive && v.ExpiresAt != nil && !now.Before(*v.ExpiresAt) {
		return VoucherStatusExpired
	}
	return v.Status
}

// RedemptionType enumerates the ways balance can be spent.
type RedemptionType string

const (
	RedemptionTypeVoucher  RedemptionType = "voucher"
	RedemptionTypeGiftCard RedemptionType = "giftcard"
	RedemptionTypeCash     RedemptionType = "cash"
)

// Valid reports whether the redemption type is known.
func (t RedemptionType) Valid() bool {
	switch t {
	case RedemptionTypeVoucher, RedemptionTypeGiftCard, RedemptionTypeCash:
		return true
	default:
		return false
	}
}

// RedemptionStatus is a state of the redemption approval machine.
type RedemptionStatus string

const (
	RedemptionStatusRequested RedemptionStatus = "requested"
	RedemptionStatusApproved  RedemptionStatus = "approved"
	RedemptionStatusRejected  RedemptionStatus = "rejected"
	RedemptionStatusPaid      RedemptionStatus = "paid"
)

// Open reports whether the redemption still holds part of the user's balance.
func (s RedemptionStatus) Open() bool {
	return s == RedemptionStatusRequested || s == RedemptionStatusApproved
}

// Terminal reports whether no further transition is allowed.
func (s RedemptionStatus) Terminal() bool {
	return s == RedemptionStatusRejected || s == RedemptionStatusPaid
}

// CanTransition reports whether the state machine permits moving from s to next.
func (s RedemptionStatus) CanTransition(next RedemptionStatus) bool {
	switch s {
	case RedemptionStatusRequested:
		return next == RedemptionStatusApproved || next == RedemptionStatusRejected
	case RedemptionStatusApproved:
		return next == RedemptionStatusPaid
	default:
		return false
	}
}

// Redemption converts ledger balance into a voucher, gift card or cash payout.
type Redemption struct {
	ID              string
	UserID          string
	Type            RedemptionType
	AmountCents     int64
	FeeCents        int64
	PayoutCents     int64
	Status          RedemptionStatus
	Target          map[string]any
	Provider        string
	ProviderRef     string
	ReviewedBy      string
	RejectionReason string
	VoucherCode     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ProcessedAt     *time.Time
}

// CursorPage is one page of a cursor-paginated listing.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
