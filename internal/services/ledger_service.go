package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/platform/textutil"
	"github.com/hanko-field/rewards/internal/repositories"
)

const (
	ledgerEntryIDPrefix   = "led_"
	defaultSweepBatchSize = 500
	maxMetadataTextRunes  = 512
)

// LedgerServiceDeps bundles dependencies required to construct a LedgerService.
type LedgerServiceDeps struct {
	Ledger        repositories.LedgerRepository
	Redemptions   repositories.RedemptionRepository
	PointsPerCent int64
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        Logger
	Metrics       RewardMetrics
}

type ledgerService struct {
	ledger        repositories.LedgerRepository
	redemptions   repositories.RedemptionRepository
	pointsPerCent int64
	clock         func() time.Time
	newID         func() string
	logger        Logger
	metrics       RewardMetrics
}

var _ LedgerService = (*ledgerService)(nil)

// NewLedgerService wires a LedgerService backed by the append-only ledger repository.
func NewLedgerService(deps LedgerServiceDeps) (LedgerService, error) {
	if deps.Ledger == nil {
		return nil, ErrLedgerRepositoryMissing
	}
	if deps.Redemptions == nil {
		return nil, ErrRedemptionRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ledgerEntryIDPrefix + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	pointsPerCent := deps.PointsPerCent
	if pointsPerCent <= 0 {
		pointsPerCent = 1
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &ledgerService{
		ledger:        deps.Ledger,
		redemptions:   deps.Redemptions,
		pointsPerCent: pointsPerCent,
		clock:         func() time.Time { return clock().UTC() },
		newID:         idGen,
		logger:        logger,
		metrics:       metrics,
	}, nil
}

func (s *ledgerService) Grant(ctx context.Context, cmd GrantCommand) (GrantResult, error) {
	entry, err := s.grantEntry(cmd)
	if err != nil {
		return GrantResult{}, err
	}

	stored, created, err := s.ledger.AppendGrant(ctx, entry)
	if err != nil {
		return GrantResult{}, mapRepositoryError(err)
	}
	if !created {
		s.metrics.DuplicateGrant(ctx, stored.SourceType)
		s.logger(ctx, "ledger_grant_duplicate", map[string]any{
			"userId":     stored.UserID,
			"sourceType": string(stored.SourceType),
			"sourceId":   stored.SourceID,
			"entryId":    stored.ID,
		})
		return GrantResult{Entry: stored, Created: false}, nil
	}

	s.metrics.Granted(ctx, stored.SourceType, stored.Status, stored.AmountCents)
	s.logger(ctx, "ledger_grant_created", map[string]any{
		"userId":      stored.UserID,
		"sourceType":  string(stored.SourceType),
		"sourceId":    stored.SourceID,
		"entryId":     stored.ID,
		"amountCents": stored.AmountCents,
		"status":      string(stored.Status),
	})
	return GrantResult{Entry: stored, Created: true}, nil
}

func (s *ledgerService) Find(ctx context.Context, key domain.LedgerKey) (LedgerEntry, bool, error) {
	key.UserID = strings.TrimSpace(key.UserID)
	key.SourceID = strings.TrimSpace(key.SourceID)
	if key.UserID == "" || key.SourceID == "" || key.SourceType == "" {
		return LedgerEntry{}, false, nil
	}
	entry, err := s.ledger.FindByKey(ctx, key)
	if err != nil {
		if repositories.IsNotFound(err) {
			return LedgerEntry{}, false, nil
		}
		return LedgerEntry{}, false, mapRepositoryError(err)
	}
	return entry, true, nil
}

func (s *ledgerService) grantEntry(cmd GrantCommand) (LedgerEntry, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return LedgerEntry{}, domain.NewValidationError("userId", "is required")
	}
	sourceID := strings.TrimSpace(cmd.SourceID)
	if sourceID == "" {
		return LedgerEntry{}, domain.NewValidationError("sourceId", "is required")
	}
	sourceType := domain.SourceType(strings.TrimSpace(string(cmd.SourceType)))
	switch sourceType {
	case "":
		return LedgerEntry{}, domain.NewValidationError("sourceType", "is required")
	case domain.SourceTypeRedemption:
		return LedgerEntry{}, domain.NewValidationError("sourceType", "redemption debits are not grants")
	}
	if cmd.AmountCents <= 0 {
		return LedgerEntry{}, domain.NewValidationError("amountCents", "must be positive")
	}
	if cmd.ProductType != "" && !cmd.ProductType.Valid() {
		return LedgerEntry{}, domain.NewValidationError("productType", "is not supported")
	}

	now := s.clock()
	status := cmd.Status
	var availableAt *time.Time
	switch status {
	case domain.LedgerStatusConfirmed:
	case domain.LedgerStatusPending:
		if cmd.AvailableAt == nil {
			return LedgerEntry{}, domain.NewValidationError("availableAt", "is required for pending grants")
		}
		at := cmd.AvailableAt.UTC()
		availableAt = &at
	default:
		return LedgerEntry{}, domain.NewValidationError("status", "must be pending or confirmed")
	}

	return LedgerEntry{
		ID:          s.newID(),
		UserID:      userID,
		SourceType:  sourceType,
		SourceID:    sourceID,
		ProductType: cmd.ProductType,
		AmountCents: cmd.AmountCents,
		Points:      cmd.AmountCents * s.pointsPerCent,
		Status:      status,
		AvailableAt: availableAt,
		Metadata:    textutil.SanitizeValueMap(cmd.Metadata, maxMetadataTextRunes),
		CreatedAt:   now,
	}, nil
}

// Balance aggregates the full history on every call; there is no cached counter.
func (s *ledgerService) Balance(ctx context.Context, userID string) (Balance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Balance{}, domain.NewValidationError("userId", "is required")
	}
	entries, err := s.ledger.AllByUser(ctx, userID)
	if err != nil {
		return Balance{}, mapRepositoryError(err)
	}
	open, err := s.openRedemptions(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return domain.SummarizeLedger(userID, entries, open), nil
}

func (s *ledgerService) openRedemptions(ctx context.Context, userID string) ([]Redemption, error) {
	var open []Redemption
	for _, status := range []domain.RedemptionStatus{domain.RedemptionStatusRequested, domain.RedemptionStatusApproved} {
		token := ""
		for {
			page, err := s.redemptions.ListByUser(ctx, userID, repositories.RedemptionFilter{
				Status:     status,
				Pagination: Pagination{PageSize: 100, PageToken: token},
			})
			if err != nil {
				return nil, mapRepositoryError(err)
			}
			open = append(open, page.Items...)
			if page.NextPageToken == "" {
				break
			}
			token = page.NextPageToken
		}
	}
	return open, nil
}

func (s *ledgerService) List(ctx context.Context, userID string, filter LedgerListFilter) (domain.CursorPage[LedgerEntry], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[LedgerEntry]{}, domain.NewValidationError("userId", "is required")
	}
	switch filter.Status {
	case "", domain.LedgerStatusPending, domain.LedgerStatusConfirmed, domain.LedgerStatusRedeemed:
	default:
		return domain.CursorPage[LedgerEntry]{}, domain.NewValidationError("status", "is not a ledger status")
	}
	page, err := s.ledger.ListByUser(ctx, userID, repositories.LedgerFilter{
		Status:     filter.Status,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[LedgerEntry]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *ledgerService) ConfirmMatured(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepBatchSize
	}
	now := s.clock()
	confirmed, err := s.ledger.ConfirmMatured(ctx, now, limit)
	if err != nil {
		return confirmed, mapRepositoryError(err)
	}
	if confirmed > 0 {
		s.logger(ctx, "ledger_entries_matured", map[string]any{"count": confirmed, "asOf": now.Format(time.RFC3339)})
	}
	return confirmed, nil
}

func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return errors.Join(ErrRewardsUnavailable, err)
	}
	return err
}
