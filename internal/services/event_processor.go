package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/rewards/internal/domain"
)

const skipReasonZeroReward = "zero_reward"

// EventProcessorDeps bundles the pipeline stages run for each reward event.
type EventProcessorDeps struct {
	Resolver   RateResolver
	Margins    MarginCalculator
	Rewards    RewardEngine
	CoolingOff CoolingOffScheduler
	Ledger     LedgerService
	Publisher  EventPublisher
	Clock      func() time.Time
	Logger     Logger
}

type eventProcessor struct {
	resolver   RateResolver
	margins    MarginCalculator
	rewards    RewardEngine
	coolingOff CoolingOffScheduler
	ledger     LedgerService
	publisher  EventPublisher
	clock      func() time.Time
	logger     Logger
}

var _ EventProcessor = (*eventProcessor)(nil)

// NewEventProcessor wires rate resolution, margin, reward, cooling-off and ledger into one pipeline.
func NewEventProcessor(deps EventProcessorDeps) (EventProcessor, error) {
	if deps.Resolver == nil || deps.Margins == nil || deps.Rewards == nil || deps.CoolingOff == nil || deps.Ledger == nil {
		return nil, ErrPipelineIncomplete
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &eventProcessor{
		resolver:   deps.Resolver,
		margins:    deps.Margins,
		rewards:    deps.Rewards,
		coolingOff: deps.CoolingOff,
		ledger:     deps.Ledger,
		publisher:  publisher,
		clock:      func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

// Quote runs the calculation stages without touching the ledger.
func (p *eventProcessor) Quote(ctx context.Context, event RewardEvent) (RewardCalculation, error) {
	if err := event.Validate(); err != nil {
		return RewardCalculation{}, err
	}
	calc, _, err := p.calculate(ctx, event, p.clock())
	return calc, err
}

// Process rejects malformed events synchronously. Redelivered events return the original grant.
func (p *eventProcessor) Process(ctx context.Context, event RewardEvent) (EventOutcome, error) {
	if err := event.Validate(); err != nil {
		return EventOutcome{}, err
	}
	key := domain.LedgerKey{UserID: event.UserID, SourceType: event.Product.Type.SourceType(), SourceID: event.SourceID()}
	existing, found, err := p.ledger.Find(ctx, key)
	if err != nil {
		return EventOutcome{}, err
	}
	if found {
		return EventOutcome{Calculation: calculationFromEntry(existing), Entry: &existing, Duplicate: true}, nil
	}

	now := p.clock()
	calc, decision, err := p.calculate(ctx, event, now)
	if err != nil {
		return EventOutcome{}, err
	}
	if calc.RewardCents <= 0 {
		p.logger(ctx, "reward_event_skipped", map[string]any{
			"userId":      event.UserID,
			"sourceId":    event.SourceID(),
			"marginCents": calc.MarginCents,
			"reason":      skipReasonZeroReward,
		})
		return EventOutcome{Calculation: calc, Skipped: true, SkipReason: skipReasonZeroReward}, nil
	}

	result, err := p.ledger.Grant(ctx, GrantCommand{
		UserID:      event.UserID,
		SourceType:  event.Product.Type.SourceType(),
		SourceID:    event.SourceID(),
		ProductType: event.Product.Type,
		AmountCents: calc.RewardCents,
		Status:      decision.Status,
		AvailableAt: decision.AvailableAt,
		Metadata:    calculationMetadata(event, calc),
	})
	if err != nil {
		return EventOutcome{}, err
	}

	entry := result.Entry
	if !result.Created {
		return EventOutcome{Calculation: calculationFromEntry(entry), Entry: &entry, Duplicate: true}, nil
	}
	p.publishGranted(ctx, entry, calc)
	return EventOutcome{Calculation: calc, Entry: &entry}, nil
}

func (p *eventProcessor) calculate(ctx context.Context, event RewardEvent, now time.Time) (RewardCalculation, CoolingOffDecision, error) {
	product := event.Product
	kind := product.Type.RateKind()

	var (
		margin MarginResult
		rate   ResolvedRate
	)
	if event.ProvidedMarginCents != nil {
		margin = MarginResult{MarginCents: *event.ProvidedMarginCents}
		rate = ResolvedRate{Kind: kind, Source: domain.RateSourceProvided}
	} else {
		resolved, err := p.resolver.Resolve(ctx, RateQuery{
			Kind:         kind,
			Platform:     product.Platform,
			CategoryName: product.CategoryName,
			ProductID:    product.ID,
			ProductType:  product.Type,
		})
		if err != nil {
			return RewardCalculation{}, CoolingOffDecision{}, err
		}
		rate = resolved
		margin, err = p.margins.Calculate(event.Input, rate.Rate)
		if err != nil {
			return RewardCalculation{}, CoolingOffDecision{}, err
		}
	}

	calc, err := p.rewards.Calculate(margin.MarginCents, event.Multiplier())
	if err != nil {
		return RewardCalculation{}, CoolingOffDecision{}, err
	}
	decision, err := p.coolingOff.Schedule(product.Type, now)
	if err != nil {
		return RewardCalculation{}, CoolingOffDecision{}, err
	}

	calc.ProductID = product.ID
	calc.ProductType = product.Type
	calc.MarginSource = kind.MarginSource()
	calc.RateApplied = rate.Rate
	calc.RateSource = rate.Source
	calc.EstimatedMargin = margin.Estimated
	calc.IsInstantReward = decision.Status == domain.LedgerStatusConfirmed
	calc.CoolingOffDays = decision.Days

	if rate.Source.LowConfidence() || margin.Estimated {
		p.logger(ctx, "reward_low_confidence", map[string]any{
			"productId":  product.ID,
			"category":   product.CategoryName,
			"rateSource": string(rate.Source),
			"estimated":  margin.Estimated,
		})
	}
	return calc, decision, nil
}

func calculationMetadata(event RewardEvent, calc RewardCalculation) map[string]any {
	metadata := map[string]any{
		"productId":           calc.ProductID,
		"orderId":             event.OrderID,
		"marginSource":        string(calc.MarginSource),
		"rateApplied":         calc.RateApplied.String(),
		"rateSource":          string(calc.RateSource),
		"marginCents":         calc.MarginCents,
		"bufferedMarginCents": calc.BufferedMarginCents,
		"tierPercent":         calc.AppliedTierPercent.String(),
		"promoMultiplier":     calc.PromoMultiplier.String(),
		"minApplied":          calc.MinApplied,
		"maxApplied":          calc.MaxApplied,
		"cappedAtMargin":      calc.CappedAtMargin,
		"estimatedMargin":     calc.EstimatedMargin,
		"coolingOffDays":      calc.CoolingOffDays,
	}
	if event.EventKey != "" {
		metadata["eventKey"] = event.EventKey
	}
	for key, value := range event.Metadata {
		if _, exists := metadata[key]; !exists {
			metadata[key] = value
		}
	}
	return metadata
}

// calculationFromEntry rebuilds the calculation recorded with a grant, so redeliveries report
// what was granted rather than what current rates would produce.
func calculationFromEntry(entry LedgerEntry) RewardCalculation {
	m := entry.Metadata
	return RewardCalculation{
		ProductID:           metaString(m, "productId"),
		ProductType:         entry.ProductType,
		MarginSource:        domain.MarginSource(metaString(m, "marginSource")),
		RateApplied:         metaDecimal(m, "rateApplied"),
		RateSource:          domain.RateSource(metaString(m, "rateSource")),
		MarginCents:         metaInt(m, "marginCents"),
		EstimatedMargin:     metaBool(m, "estimatedMargin"),
		BufferedMarginCents: metaInt(m, "bufferedMarginCents"),
		AppliedTierPercent:  metaDecimal(m, "tierPercent"),
		PromoMultiplier:     metaDecimal(m, "promoMultiplier"),
		RewardCents:         entry.AmountCents,
		MinApplied:          metaBool(m, "minApplied"),
		MaxApplied:          metaBool(m, "maxApplied"),
		CappedAtMargin:      metaBool(m, "cappedAtMargin"),
		IsInstantReward:     entry.AvailableAt == nil,
		CoolingOffDays:      int(metaInt(m, "coolingOffDays")),
	}
}

func metaString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func metaBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func metaDecimal(m map[string]any, key string) decimal.Decimal {
	d, err := decimal.NewFromString(metaString(m, key))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// metaInt accepts the integer shapes metadata takes after a round trip through memory, JSON or Firestore.
func metaInt(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}

func (p *eventProcessor) publishGranted(ctx context.Context, entry LedgerEntry, calc RewardCalculation) {
	payload := map[string]any{
		"entryId":     entry.ID,
		"sourceType":  string(entry.SourceType),
		"sourceId":    entry.SourceID,
		"productType": string(entry.ProductType),
		"amountCents": entry.AmountCents,
		"points":      entry.Points,
		"status":      string(entry.Status),
		"rateSource":  string(calc.RateSource),
	}
	if entry.AvailableAt != nil {
		payload["availableAt"] = entry.AvailableAt.Format(time.RFC3339)
	}
	err := p.publisher.PublishEvent(ctx, DomainEvent{
		Type:       EventRewardGranted,
		UserID:     entry.UserID,
		OccurredAt: entry.CreatedAt,
		Payload:    payload,
	})
	if err != nil {
		p.logger(ctx, "reward_event_publish_failed", map[string]any{"entryId": entry.ID, "error": err.Error()})
	}
}
