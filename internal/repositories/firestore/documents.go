package firestore

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/rewards/internal/domain"
)

const (
	rateRulesCollection   = "rewardRateRules"
	overridesCollection   = "rewardProductOverrides"
	ledgerCollection      = "rewardLedgerEntries"
	redemptionsCollection = "rewardRedemptions"
	vouchersCollection    = "rewardVouchers"
	accountsCollection    = "rewardAccounts"
)

// Rates are stored as decimal strings so that no precision is lost to float64.
type rateRuleDocument struct {
	ID              string     `firestore:"id"`
	Kind            string     `firestore:"kind"`
	Platform        string     `firestore:"platform"`
	CategoryName    string     `firestore:"categoryName"`
	CategoryKey     string     `firestore:"categoryKey"`
	Rate            string     `firestore:"rate"`
	IsPromotional   bool       `firestore:"isPromotional"`
	PromotionalRate string     `firestore:"promotionalRate,omitempty"`
	PromoStartsAt   *time.Time `firestore:"promoStartsAt,omitempty"`
	PromoEndsAt     *time.Time `firestore:"promoEndsAt,omitempty"`
	Source          string     `firestore:"source"`
	Active          bool       `firestore:"active"`
	UpdatedBy       string     `firestore:"updatedBy"`
	CreatedAt       time.Time  `firestore:"createdAt"`
	UpdatedAt       time.Time  `firestore:"updatedAt"`
}

func toRateRuleDocument(rule domain.RateRule) rateRuleDocument {
	doc := rateRuleDocument{
		ID:            rule.ID,
		Kind:          string(rule.Kind),
		Platform:      string(rule.Platform),
		CategoryName:  rule.CategoryName,
		CategoryKey:   rule.CategoryKey,
		Rate:          rule.Rate.String(),
		IsPromotional: rule.IsPromotional,
		PromoStartsAt: rule.PromoStartsAt,
		PromoEndsAt:   rule.PromoEndsAt,
		Source:        string(rule.Source),
		Active:        rule.Active,
		UpdatedBy:     rule.UpdatedBy,
		CreatedAt:     rule.CreatedAt.UTC(),
		UpdatedAt:     rule.UpdatedAt.UTC(),
	}
	if rule.IsPromotional {
		doc.PromotionalRate = rule.PromotionalRate.String()
	}
	return doc
}

func (d rateRuleDocument) toDomain() domain.RateRule {
	return domain.RateRule{
		ID:              d.ID,
		Kind:            domain.RateKind(d.Kind),
		Platform:        domain.Platform(d.Platform),
		CategoryName:    d.CategoryName,
		CategoryKey:     d.CategoryKey,
		Rate:            parseDecimal(d.Rate),
		IsPromotional:   d.IsPromotional,
		PromotionalRate: parseDecimal(d.PromotionalRate),
		PromoStartsAt:   d.PromoStartsAt,
		PromoEndsAt:     d.PromoEndsAt,
		Source:          domain.RuleSource(d.Source),
		Active:          d.Active,
		UpdatedBy:       d.UpdatedBy,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

type overrideDocument struct {
	ID           string     `firestore:"id"`
	ProductID    string     `firestore:"productId"`
	Rate         string     `firestore:"rate"`
	Reason       string     `firestore:"reason"`
	Active       bool       `firestore:"active"`
	CreatedBy    string     `firestore:"createdBy"`
	CreatedAt    time.Time  `firestore:"createdAt"`
	SupersededAt *time.Time `firestore:"supersededAt,omitempty"`
	SupersededBy string     `firestore:"supersededBy,omitempty"`
}

func toOverrideDocument(o domain.ProductMarkupOverride) overrideDocument {
	return overrideDocument{
		ID:           o.ID,
		ProductID:    o.ProductID,
		Rate:         o.Rate.String(),
		Reason:       o.Reason,
		Active:       o.Active,
		CreatedBy:    o.CreatedBy,
		CreatedAt:    o.CreatedAt.UTC(),
		SupersededAt: o.SupersededAt,
		SupersededBy: o.SupersededBy,
	}
}

func (d overrideDocument) toDomain() domain.ProductMarkupOverride {
	return domain.ProductMarkupOverride{
		ID:           d.ID,
		ProductID:    d.ProductID,
		Rate:         parseDecimal(d.Rate),
		Reason:       d.Reason,
		Active:       d.Active,
		CreatedBy:    d.CreatedBy,
		CreatedAt:    d.CreatedAt,
		SupersededAt: d.SupersededAt,
		SupersededBy: d.SupersededBy,
	}
}

type ledgerEntryDocument struct {
	ID          string         `firestore:"id"`
	UserID      string         `firestore:"userId"`
	SourceType  string         `firestore:"sourceType"`
	SourceID    string         `firestore:"sourceId"`
	ProductType string         `firestore:"productType,omitempty"`
	AmountCents int64          `firestore:"amountCents"`
	Points      int64          `firestore:"points"`
	Status      string         `firestore:"status"`
	AvailableAt *time.Time     `firestore:"availableAt,omitempty"`
	Metadata    map[string]any `firestore:"metadata,omitempty"`
	CreatedAt   time.Time      `firestore:"createdAt"`
}

func toLedgerEntryDocument(e domain.LedgerEntry) ledgerEntryDocument {
	return ledgerEntryDocument{
		ID:          e.ID,
		UserID:      e.UserID,
		SourceType:  string(e.SourceType),
		SourceID:    e.SourceID,
		ProductType: string(e.ProductType),
		AmountCents: e.AmountCents,
		Points:      e.Points,
		Status:      string(e.Status),
		AvailableAt: e.AvailableAt,
		Metadata:    e.Metadata,
		CreatedAt:   e.CreatedAt.UTC(),
	}
}

func (d ledgerEntryDocument) toDomain() domain.LedgerEntry {
	return domain.LedgerEntry{
		ID:          d.ID,
		UserID:      d.UserID,
		SourceType:  domain.SourceType(d.SourceType),
		SourceID:    d.SourceID,
		ProductType: domain.ProductType(d.ProductType),
		AmountCents: d.AmountCents,
		Points:      d.Points,
		Status:      domain.LedgerStatus(d.Status),
		AvailableAt: d.AvailableAt,
		Metadata:    d.Metadata,
		CreatedAt:   d.CreatedAt,
	}
}

// ledgerDocumentID derives the document ID from the idempotency key so that a duplicate grant
// collides on create.
func ledgerDocumentID(key domain.LedgerKey) string {
	sum := sha256.Sum256([]byte(key.UserID + "|" + string(key.SourceType) + "|" + key.SourceID))
	return hex.EncodeToString(sum[:])
}

type redemptionDocument struct {
	ID              string         `firestore:"id"`
	UserID          string         `firestore:"userId"`
	Type            string         `firestore:"type"`
	AmountCents     int64          `firestore:"amountCents"`
	FeeCents        int64          `firestore:"feeCents"`
	PayoutCents     int64          `firestore:"payoutCents"`
	Status          string         `firestore:"status"`
	Target          map[string]any `firestore:"target,omitempty"`
	Provider        string         `firestore:"provider,omitempty"`
	ProviderRef     string         `firestore:"providerRef,omitempty"`
	ReviewedBy      string         `firestore:"reviewedBy,omitempty"`
	RejectionReason string         `firestore:"rejectionReason,omitempty"`
	VoucherCode     string         `firestore:"voucherCode,omitempty"`
	CreatedAt       time.Time      `firestore:"createdAt"`
	UpdatedAt       time.Time      `firestore:"updatedAt"`
	ProcessedAt     *time.Time     `firestore:"processedAt,omitempty"`
}

func toRedemptionDocument(r domain.Redemption) redemptionDocument {
	return redemptionDocument{
		ID:              r.ID,
		UserID:          r.UserID,
		Type:            string(r.Type),
		AmountCents:     r.AmountCents,
		FeeCents:        r.FeeCents,
		PayoutCents:     r.PayoutCents,
		Status:          string(r.Status),
		Target:          r.Target,
		Provider:        r.Provider,
		ProviderRef:     r.ProviderRef,
		ReviewedBy:      r.ReviewedBy,
		RejectionReason: r.RejectionReason,
		VoucherCode:     r.VoucherCode,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
		ProcessedAt:     r.ProcessedAt,
	}
}

func (d redemptionDocument) toDomain() domain.Redemption {
	return domain.Redemption{
		ID:              d.ID,
		UserID:          d.UserID,
		Type:            domain.RedemptionType(d.Type),
		AmountCents:     d.AmountCents,
		FeeCents:        d.FeeCents,
		PayoutCents:     d.PayoutCents,
		Status:          domain.RedemptionStatus(d.Status),
		Target:          d.Target,
		Provider:        d.Provider,
		ProviderRef:     d.ProviderRef,
		ReviewedBy:      d.ReviewedBy,
		RejectionReason: d.RejectionReason,
		VoucherCode:     d.VoucherCode,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		ProcessedAt:     d.ProcessedAt,
	}
}

type voucherDocument struct {
	ID           string     `firestore:"id"`
	UserID       string     `firestore:"userId"`
	Code         string     `firestore:"code"`
	AmountCents  int64      `firestore:"amountCents"`
	Status       string     `firestore:"status"`
	RedemptionID string     `firestore:"redemptionId"`
	CreatedAt    time.Time  `firestore:"createdAt"`
	ExpiresAt    *time.Time `firestore:"expiresAt,omitempty"`
}

func toVoucherDocument(v domain.Voucher) voucherDocument {
	return voucherDocument{
		ID:           v.ID,
		UserID:       v.UserID,
		Code:         v.Code,
		AmountCents:  v.AmountCents,
		Status:       string(v.Status),
		RedemptionID: v.RedemptionID,
		CreatedAt:    v.CreatedAt.UTC(),
		ExpiresAt:    v.ExpiresAt,
	}
}

func (d voucherDocument) toDomain() domain.Voucher {
	return domain.Voucher{
		ID:           d.ID,
		UserID:       d.UserID,
		Code:         d.Code,
		AmountCents:  d.AmountCents,
		Status:       domain.VoucherStatus(d.Status),
		RedemptionID: d.RedemptionID,
		CreatedAt:    d.CreatedAt,
		ExpiresAt:    d.ExpiresAt,
	}
}

// accountDocument is the per user lock row. Every account transaction bumps Version, so
// concurrent transactions on the same user conflict and one of them is retried.
type accountDocument struct {
	UserID    string    `firestore:"userId"`
	Version   int64     `firestore:"version"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func parseDecimal(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}
