package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MarginInput is the per product type input of the margin calculation.
// Implementations are AffiliateInput, DropshipInput and StandardInput.
type MarginInput interface {
	marginInput()
}

// AffiliateInput carries the referred sale price; margin is pure commission.
type AffiliateInput struct {
	PriceCents int64
}

// DropshipInput carries the listed price and the supplier cost when the platform reported one.
type DropshipInput struct {
	ListPriceCents int64
	CostCents      *int64
}

// StandardInput carries the price of a first-party catalog item.
type StandardInput struct {
	ProductType ProductType
	PriceCents  int64
}

func (AffiliateInput) marginInput() {}
func (DropshipInput) marginInput()  {}
func (StandardInput) marginInput()  {}

// InputForProduct builds the margin input matching the product's type.
func InputForProduct(product Product) MarginInput {
	switch product.Type {
	case ProductTypeAffiliate:
		return AffiliateInput{PriceCents: product.PriceCents}
	case ProductTypeDropship:
		return DropshipInput{ListPriceCents: product.PriceCents, CostCents: product.CostCents}
	default:
		return StandardInput{ProductType: product.Type, PriceCents: product.PriceCents}
	}
}

// RewardEvent is an inbound commerce event that may grant a reward.
type RewardEvent struct {
	EventKey            string
	UserID              string
	Product             Product
	Input               MarginInput
	OrderID             string
	Reference           string
	ProvidedMarginCents *int64
	PromoMultiplier     *decimal.Decimal
	OccurredAt          time.Time
	Metadata            map[string]any
}

// SourceID is the idempotency reference of the event: the explicit reference when present, else the order id.
func (e RewardEvent) SourceID() string {
	if ref := strings.TrimSpace(e.Reference); ref != "" {
		return ref
	}
	return strings.TrimSpace(e.OrderID)
}

// Multiplier returns the promotional multiplier, defaulting to one.
func (e RewardEvent) Multiplier() decimal.Decimal {
	if e.PromoMultiplier == nil {
		return decimal.NewFromInt(1)
	}
	return *e.PromoMultiplier
}

// Validate checks the required fields of the event.
func (e RewardEvent) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return NewValidationError("userId", "is required")
	}
	if !e.Product.Type.Valid() {
		return NewValidationError("productType", "is not supported")
	}
	if e.SourceID() == "" {
		return NewValidationError("payload.orderId", "is required")
	}
	if e.PromoMultiplier != nil && e.PromoMultiplier.IsNegative() {
		return NewValidationError("promoMultiplier", "must not be negative")
	}
	if e.ProvidedMarginCents != nil {
		if *e.ProvidedMarginCents < 0 {
			return NewValidationError("calc.marginCents", "must not be negative")
		}
		return nil
	}
	if e.Input == nil {
		return NewValidationError("calc", "requires marginCents or sale price inputs")
	}
	return nil
}
