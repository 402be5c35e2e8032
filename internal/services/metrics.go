package services

import (
	"context"

	domain "github.com/hanko-field/rewards/internal/domain"
)

// RewardMetrics records business counters. Implementations must be safe for concurrent use.
type RewardMetrics interface {
	Granted(ctx context.Context, sourceType domain.SourceType, status domain.LedgerStatus, amountCents int64)
	DuplicateGrant(ctx context.Context, sourceType domain.SourceType)
	Redemption(ctx context.Context, redemptionType domain.RedemptionType, outcome string)
	PayoutFailed(ctx context.Context, stage string)
}

type noopMetrics struct{}

func (noopMetrics) Granted(context.Context, domain.SourceType, domain.LedgerStatus, int64) {}
func (noopMetrics) DuplicateGrant(context.Context, domain.SourceType)                      {}
func (noopMetrics) Redemption(context.Context, domain.RedemptionType, string)              {}
func (noopMetrics) PayoutFailed(context.Context, string)                                   {}
