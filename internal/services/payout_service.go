package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/payouts"
)

const (
	defaultPayoutBatch = 50
	payoutActor        = "system:payouts"
)

// ErrPayoutsUnavailable indicates no payout provider is configured.
var ErrPayoutsUnavailable = errors.New("payout service: provider is not configured")

// payoutDisburser abstracts payouts.Manager for easier testing.
type payoutDisburser interface {
	Disburse(ctx context.Context, hint payouts.PayoutContext, req payouts.DisburseRequest) (payouts.Transfer, error)
}

// payoutAccountVerifier abstracts payouts.StripeAccountVerifier.
type payoutAccountVerifier interface {
	Lookup(ctx context.Context, accountID string) (payouts.AccountDetails, error)
}

// PayoutService sends approved cash redemptions to their destination accounts.
type PayoutService interface {
	Dispatch(ctx context.Context, limit int) (PayoutSummary, error)
}

// PayoutSummary counts what one dispatch pass did.
type PayoutSummary struct {
	Attempted int
	Paid      int
	Skipped   int
	Failed    int
}

// PayoutServiceDeps wires the dependencies required by the payout service.
type PayoutServiceDeps struct {
	Redemptions RedemptionService
	Payouts     payoutDisburser
	Accounts    payoutAccountVerifier
	Currency    string
	Clock       func() time.Time
	Logger      Logger
	Metrics     RewardMetrics
}

type payoutService struct {
	redemptions RedemptionService
	payouts     payoutDisburser
	accounts    payoutAccountVerifier
	currency    string
	clock       func() time.Time
	logger      Logger
	metrics     RewardMetrics
}

// NewPayoutService constructs the payout dispatcher.
func NewPayoutService(deps PayoutServiceDeps) (PayoutService, error) {
	if deps.Redemptions == nil {
		return nil, errors.New("payout service: redemption service is required")
	}
	if deps.Payouts == nil {
		return nil, ErrPayoutsUnavailable
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &payoutService{
		redemptions: deps.Redemptions,
		payouts:     deps.Payouts,
		accounts:    deps.Accounts,
		currency:    strings.ToUpper(strings.TrimSpace(deps.Currency)),
		clock:       clock,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// Dispatch disburses up to limit approved cash redemptions. A transfer is keyed by the redemption
// id, so a redemption whose MarkPaid failed after disbursement is retried without paying twice.
func (s *payoutService) Dispatch(ctx context.Context, limit int) (PayoutSummary, error) {
	if limit <= 0 {
		limit = defaultPayoutBatch
	}
	page, err := s.redemptions.ListByStatus(ctx, RedemptionListFilter{
		Status:     domain.RedemptionStatusApproved,
		Type:       domain.RedemptionTypeCash,
		Pagination: Pagination{PageSize: limit},
	})
	if err != nil {
		return PayoutSummary{}, err
	}

	var summary PayoutSummary
	for _, redemption := range page.Items {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Attempted++
		switch err := s.payOne(ctx, redemption); {
		case err == nil:
			summary.Paid++
		case errors.Is(err, errPayoutSkipped):
			summary.Skipped++
		default:
			summary.Failed++
			s.logger(ctx, "payout_failed", map[string]any{
				"redemptionId": redemption.ID,
				"userId":       redemption.UserID,
				"error":        err.Error(),
			})
		}
	}

	s.logger(ctx, "payout_dispatch_completed", map[string]any{
		"attempted": summary.Attempted,
		"paid":      summary.Paid,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
	})
	return summary, nil
}

var errPayoutSkipped = errors.New("payout skipped")

func (s *payoutService) payOne(ctx context.Context, redemption Redemption) error {
	destination := payoutDestination(redemption.Target)
	if destination == "" {
		s.logger(ctx, "payout_skipped", map[string]any{"redemptionId": redemption.ID, "reason": "missing_destination"})
		return errPayoutSkipped
	}
	if s.accounts != nil {
		account, err := s.accounts.Lookup(ctx, destination)
		if err != nil {
			s.metrics.PayoutFailed(ctx, "verify")
			return fmt.Errorf("verify destination: %w", err)
		}
		if !account.Ready() {
			s.logger(ctx, "payout_skipped", map[string]any{"redemptionId": redemption.ID, "reason": "destination_not_ready"})
			return errPayoutSkipped
		}
	}

	transfer, err := s.payouts.Disburse(ctx, payouts.PayoutContext{Currency: s.currency}, payouts.DisburseRequest{
		RedemptionID:   redemption.ID,
		UserID:         redemption.UserID,
		Destination:    destination,
		AmountCents:    redemption.PayoutCents,
		Currency:       s.currency,
		IdempotencyKey: "payout:" + redemption.ID,
	})
	if err != nil {
		s.metrics.PayoutFailed(ctx, "disburse")
		return fmt.Errorf("disburse: %w", err)
	}
	if transfer.Status == payouts.StatusFailed || transfer.Status == payouts.StatusReversed {
		s.metrics.PayoutFailed(ctx, "disburse")
		return fmt.Errorf("disburse: transfer %s is %s", transfer.TransferID, transfer.Status)
	}

	if _, err := s.redemptions.MarkPaid(ctx, RedemptionPaymentCommand{
		RedemptionID: redemption.ID,
		ActorID:      payoutActor,
		Provider:     transfer.Provider,
		ProviderRef:  transfer.TransferID,
	}); err != nil {
		s.metrics.PayoutFailed(ctx, "mark_paid")
		return fmt.Errorf("mark paid after transfer %s: %w", transfer.TransferID, err)
	}
	s.logger(ctx, "payout_paid", map[string]any{
		"redemptionId": redemption.ID,
		"transferId":   transfer.TransferID,
		"payoutCents":  redemption.PayoutCents,
		"paidAt":       s.clock().UTC().Format(time.RFC3339),
	})
	return nil
}

func payoutDestination(target map[string]any) string {
	for _, key := range []string{"stripeAccount", "accountId"} {
		if value, ok := target[key].(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}
