package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/services"
)

// RewardEventMessage is the wire form of an inbound commerce event, shared by the internal HTTP
// endpoint and the worker's subscription. Cent fields are integers; the decimal string fields are
// converted to cents on decode.
type RewardEventMessage struct {
	EventKey        string           `json:"eventKey"`
	UserID          string           `json:"userId"`
	ProductType     string           `json:"productType"`
	Product         ProductPayload   `json:"product"`
	Payload         ReferencePayload `json:"payload"`
	Calc            CalcPayload      `json:"calc"`
	PromoMultiplier *decimal.Decimal `json:"promoMultiplier,omitempty"`
	OccurredAt      *time.Time       `json:"occurredAt,omitempty"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
}

// ProductPayload identifies the product the event is about.
type ProductPayload struct {
	ID       string `json:"id"`
	Platform string `json:"platform"`
	Category string `json:"category"`
}

// ReferencePayload carries the idempotency references of the event.
type ReferencePayload struct {
	OrderID   string `json:"orderId"`
	Reference string `json:"reference"`
}

// CalcPayload carries either a precomputed margin or the raw sale inputs.
type CalcPayload struct {
	MarginCents    *int64 `json:"marginCents,omitempty"`
	SalePriceCents *int64 `json:"salePriceCents,omitempty"`
	CostCents      *int64 `json:"costCents,omitempty"`
	SalePrice      string `json:"salePrice,omitempty"`
	Cost           string `json:"cost,omitempty"`
}

// DecodeRewardEvent parses and converts a message body. Malformed bodies are validation errors.
func DecodeRewardEvent(data []byte) (domain.RewardEvent, error) {
	var msg RewardEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.RewardEvent{}, domain.NewValidationError("body", fmt.Sprintf("is not a valid reward event: %v", err))
	}
	return msg.ToDomain()
}

// ToDomain converts the message into a reward event with the margin input matching the product type.
func (m RewardEventMessage) ToDomain() (domain.RewardEvent, error) {
	productType := domain.ProductType(strings.ToLower(strings.TrimSpace(m.ProductType)))
	price, err := centsField("calc.salePrice", m.Calc.SalePriceCents, m.Calc.SalePrice)
	if err != nil {
		return domain.RewardEvent{}, err
	}
	cost, err := centsField("calc.cost", m.Calc.CostCents, m.Calc.Cost)
	if err != nil {
		return domain.RewardEvent{}, err
	}

	product := domain.Product{
		ID:           strings.TrimSpace(m.Product.ID),
		Type:         productType,
		Platform:     domain.Platform(strings.ToLower(strings.TrimSpace(m.Product.Platform))),
		CategoryName: strings.TrimSpace(m.Product.Category),
		CostCents:    cost,
	}
	if price != nil {
		product.PriceCents = *price
	}

	event := domain.RewardEvent{
		EventKey:            strings.TrimSpace(m.EventKey),
		UserID:              strings.TrimSpace(m.UserID),
		Product:             product,
		OrderID:             strings.TrimSpace(m.Payload.OrderID),
		Reference:           strings.TrimSpace(m.Payload.Reference),
		ProvidedMarginCents: m.Calc.MarginCents,
		PromoMultiplier:     m.PromoMultiplier,
		Metadata:            m.Metadata,
	}
	if m.OccurredAt != nil {
		event.OccurredAt = m.OccurredAt.UTC()
	}
	if price != nil && *price < 0 {
		return domain.RewardEvent{}, domain.NewValidationError("calc.salePriceCents", "must not be negative")
	}
	// A dropship margin is derived from the supplier cost alone.
	if price != nil || (productType == domain.ProductTypeDropship && cost != nil) {
		event.Input = domain.InputForProduct(product)
	}
	return event, nil
}

func centsField(field string, cents *int64, decimalValue string) (*int64, error) {
	if cents != nil {
		v := *cents
		return &v, nil
	}
	if strings.TrimSpace(decimalValue) == "" {
		return nil, nil
	}
	parsed, err := domain.ParseCents(field, decimalValue)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// DomainEventMessage is the wire form of an outbound domain event.
type DomainEventMessage struct {
	Type       string         `json:"type"`
	UserID     string         `json:"userId"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func encodeDomainEvent(event services.DomainEvent) ([]byte, error) {
	return json.Marshal(DomainEventMessage{
		Type:       event.Type,
		UserID:     event.UserID,
		OccurredAt: event.OccurredAt.UTC(),
		Payload:    event.Payload,
	})
}
