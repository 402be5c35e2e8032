package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/policy"
	"github.com/hanko-field/rewards/internal/platform/textutil"
	"github.com/hanko-field/rewards/internal/repositories"
)

const (
	redemptionIDPrefix   = "rdm_"
	voucherIDPrefix      = "vch_"
	internalProvider     = "internal"
	maxTargetTextRunes   = 256
	maxReviewReasonRunes = 500

	redemptionOutcomeOK           = "accepted"
	redemptionOutcomeInsufficient = "insufficient_balance"
	redemptionOutcomePaid         = "paid"
)

// RedemptionServiceDeps bundles dependencies required to construct a RedemptionService.
type RedemptionServiceDeps struct {
	Accounts     repositories.AccountLocker
	Redemptions  repositories.RedemptionRepository
	Vouchers     repositories.VoucherRepository
	Policy       policy.Policy
	Clock        func() time.Time
	IDGenerator  func(prefix string) string
	VoucherCodes func() (string, error)
	Publisher    EventPublisher
	Logger       Logger
	Metrics      RewardMetrics
}

type redemptionService struct {
	accounts     repositories.AccountLocker
	redemptions  repositories.RedemptionRepository
	vouchers     repositories.VoucherRepository
	policy       policy.Policy
	clock        func() time.Time
	newID        func(prefix string) string
	voucherCodes func() (string, error)
	publisher    EventPublisher
	logger       Logger
	metrics      RewardMetrics
}

var _ RedemptionService = (*redemptionService)(nil)

// NewRedemptionService wires the redemption state machine around the per user account lock.
func NewRedemptionService(deps RedemptionServiceDeps) (RedemptionService, error) {
	if deps.Accounts == nil {
		return nil, ErrAccountLockerMissing
	}
	if deps.Redemptions == nil {
		return nil, ErrRedemptionRepositoryMissing
	}
	if err := deps.Policy.Validate(); err != nil {
		return nil, errors.Join(ErrPolicyInvalid, err)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func(prefix string) string { return prefix + ulid.Make().String() }
	}
	codes := deps.VoucherCodes
	if codes == nil {
		codes = NewVoucherCode
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &redemptionService{
		accounts:     deps.Accounts,
		redemptions:  deps.Redemptions,
		vouchers:     deps.Vouchers,
		policy:       deps.Policy.Clone(),
		clock:        func() time.Time { return clock().UTC() },
		newID:        idGen,
		voucherCodes: codes,
		publisher:    publisher,
		logger:       logger,
		metrics:      metrics,
	}, nil
}

func (s *redemptionService) Request(ctx context.Context, cmd RedemptionCommand) (RedemptionOutcome, error) {
	redemption, err := s.newRedemption(cmd)
	if err != nil {
		return RedemptionOutcome{}, err
	}

	var voucher *Voucher
	if redemption.Type == domain.RedemptionTypeVoucher {
		code, err := s.voucherCodes()
		if err != nil {
			return RedemptionOutcome{}, err
		}
		minted := s.newVoucher(redemption, code)
		voucher = &minted
		redemption.Status = domain.RedemptionStatusPaid
		redemption.Provider = internalProvider
		redemption.ProviderRef = minted.ID
		redemption.VoucherCode = code
		processedAt := redemption.CreatedAt
		redemption.ProcessedAt = &processedAt
	}

	err = s.accounts.WithAccount(ctx, redemption.UserID, func(ctx context.Context, tx repositories.AccountTx) error {
		balance, err := accountBalance(ctx, tx, redemption.UserID, "")
		if err != nil {
			return err
		}
		if redemption.AmountCents > balance.SpendableCents {
			return &domain.InsufficientBalanceError{
				UserID:         redemption.UserID,
				AvailableCents: balance.SpendableCents,
				RequestedCents: redemption.AmountCents,
			}
		}
		if err := tx.InsertRedemption(ctx, redemption); err != nil {
			return err
		}
		if voucher == nil {
			return nil
		}
		if err := tx.AppendDebit(ctx, s.debitEntry(redemption)); err != nil {
			return err
		}
		return tx.InsertVoucher(ctx, *voucher)
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			s.metrics.Redemption(ctx, redemption.Type, redemptionOutcomeInsufficient)
			s.logger(ctx, "redemption_insufficient_balance", map[string]any{
				"userId":      redemption.UserID,
				"type":        string(redemption.Type),
				"amountCents": redemption.AmountCents,
			})
			return RedemptionOutcome{}, err
		}
		return RedemptionOutcome{}, mapRepositoryError(err)
	}

	s.metrics.Redemption(ctx, redemption.Type, redemptionOutcomeOK)
	s.logger(ctx, "redemption_requested", map[string]any{
		"userId":       redemption.UserID,
		"redemptionId": redemption.ID,
		"type":         string(redemption.Type),
		"amountCents":  redemption.AmountCents,
		"feeCents":     redemption.FeeCents,
		"status":       string(redemption.Status),
	})
	if redemption.Status == domain.RedemptionStatusPaid {
		s.publishPaid(ctx, redemption)
	}
	return RedemptionOutcome{Redemption: redemption, Voucher: voucher}, nil
}

func (s *redemptionService) newRedemption(cmd RedemptionCommand) (Redemption, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Redemption{}, domain.NewValidationError("userId", "is required")
	}
	redemptionType := domain.RedemptionType(strings.ToLower(strings.TrimSpace(string(cmd.Type))))
	if !redemptionType.Valid() {
		return Redemption{}, domain.NewValidationError("type", "must be voucher, giftcard or cash")
	}
	if cmd.AmountCents <= 0 {
		return Redemption{}, domain.NewValidationError("amountCents", "must be positive")
	}
	if minimum := s.policy.Redemption.MinimumCents[redemptionType]; cmd.AmountCents < minimum {
		return Redemption{}, domain.NewValidationError("amountCents", "is below the minimum of "+domain.FormatCents(minimum))
	}
	target := textutil.SanitizeValueMap(cmd.Target, maxTargetTextRunes)
	if redemptionType != domain.RedemptionTypeVoucher && len(target) == 0 {
		return Redemption{}, domain.NewValidationError("target", "is required for "+string(redemptionType)+" redemptions")
	}

	var fee int64
	if redemptionType == domain.RedemptionTypeCash {
		fee = s.policy.CashFee(cmd.AmountCents)
		if fee >= cmd.AmountCents {
			return Redemption{}, domain.NewValidationError("amountCents", "does not cover the cash-out fee")
		}
	}

	now := s.clock()
	return Redemption{
		ID:          s.newID(redemptionIDPrefix),
		UserID:      userID,
		Type:        redemptionType,
		AmountCents: cmd.AmountCents,
		FeeCents:    fee,
		PayoutCents: cmd.AmountCents - fee,
		Status:      domain.RedemptionStatusRequested,
		Target:      target,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *redemptionService) newVoucher(redemption Redemption, code string) Voucher {
	voucher := Voucher{
		ID:           s.newID(voucherIDPrefix),
		UserID:       redemption.UserID,
		Code:         code,
		AmountCents:  redemption.AmountCents,
		Status:       domain.VoucherStatusActive,
		RedemptionID: redemption.ID,
		CreatedAt:    redemption.CreatedAt,
	}
	if days := s.policy.Redemption.VoucherValidityDays; days > 0 {
		expires := redemption.CreatedAt.AddDate(0, 0, days)
		voucher.ExpiresAt = &expires
	}
	return voucher
}

func (s *redemptionService) debitEntry(redemption Redemption) LedgerEntry {
	metadata := map[string]any{
		"redemptionType": string(redemption.Type),
		"feeCents":       redemption.FeeCents,
		"payoutCents":    redemption.PayoutCents,
	}
	if redemption.Provider != "" {
		metadata["provider"] = redemption.Provider
	}
	if redemption.ProviderRef != "" {
		metadata["providerRef"] = redemption.ProviderRef
	}
	createdAt := redemption.CreatedAt
	if redemption.ProcessedAt != nil {
		createdAt = *redemption.ProcessedAt
	}
	return LedgerEntry{
		ID:          s.newID(ledgerEntryIDPrefix),
		UserID:      redemption.UserID,
		SourceType:  domain.SourceTypeRedemption,
		SourceID:    redemption.ID,
		AmountCents: -redemption.AmountCents,
		Status:      domain.LedgerStatusRedeemed,
		Metadata:    metadata,
		CreatedAt:   createdAt,
	}
}

func (s *redemptionService) Approve(ctx context.Context, cmd RedemptionReviewCommand) (Redemption, error) {
	return s.transition(ctx, cmd.RedemptionID, domain.RedemptionStatusApproved, func(r *Redemption, now time.Time) error {
		r.ReviewedBy = strings.TrimSpace(cmd.ActorID)
		return nil
	})
}

func (s *redemptionService) Reject(ctx context.Context, cmd RedemptionReviewCommand) (Redemption, error) {
	reason := textutil.SanitizePlainText(cmd.Reason, maxReviewReasonRunes)
	if reason == "" {
		return Redemption{}, domain.NewValidationError("reason", "is required")
	}
	return s.transition(ctx, cmd.RedemptionID, domain.RedemptionStatusRejected, func(r *Redemption, now time.Time) error {
		r.ReviewedBy = strings.TrimSpace(cmd.ActorID)
		r.RejectionReason = reason
		r.ProcessedAt = &now
		return nil
	})
}

// MarkPaid re-validates the balance and appends the debit in the same critical section as the status change.
func (s *redemptionService) MarkPaid(ctx context.Context, cmd RedemptionPaymentCommand) (Redemption, error) {
	providerRef := strings.TrimSpace(cmd.ProviderRef)
	if providerRef == "" {
		return Redemption{}, domain.NewValidationError("providerRef", "is required")
	}
	provider := strings.TrimSpace(cmd.Provider)
	if provider == "" {
		provider = "manual"
	}

	var debit LedgerEntry
	paid, err := s.transitionWith(ctx, cmd.RedemptionID, domain.RedemptionStatusPaid, func(ctx context.Context, tx repositories.AccountTx, r *Redemption, now time.Time) error {
		balance, err := accountBalance(ctx, tx, r.UserID, r.ID)
		if err != nil {
			return err
		}
		if r.AmountCents > balance.SpendableCents {
			return &domain.InsufficientBalanceError{
				UserID:         r.UserID,
				AvailableCents: balance.SpendableCents,
				RequestedCents: r.AmountCents,
			}
		}
		if cmd.ActorID != "" {
			r.ReviewedBy = strings.TrimSpace(cmd.ActorID)
		}
		r.Provider = provider
		r.ProviderRef = providerRef
		r.ProcessedAt = &now
		debit = s.debitEntry(*r)
		return tx.AppendDebit(ctx, debit)
	})
	if err != nil {
		return Redemption{}, err
	}
	s.metrics.Redemption(ctx, paid.Type, redemptionOutcomePaid)
	s.publishPaid(ctx, paid)
	return paid, nil
}

func (s *redemptionService) transition(ctx context.Context, redemptionID string, next domain.RedemptionStatus, mutate func(*Redemption, time.Time) error) (Redemption, error) {
	return s.transitionWith(ctx, redemptionID, next, func(_ context.Context, _ repositories.AccountTx, r *Redemption, now time.Time) error {
		return mutate(r, now)
	})
}

func (s *redemptionService) transitionWith(ctx context.Context, redemptionID string, next domain.RedemptionStatus, mutate func(context.Context, repositories.AccountTx, *Redemption, time.Time) error) (Redemption, error) {
	redemptionID = strings.TrimSpace(redemptionID)
	if redemptionID == "" {
		return Redemption{}, domain.NewValidationError("redemptionId", "is required")
	}
	current, err := s.redemptions.FindByID(ctx, redemptionID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Redemption{}, ErrRedemptionNotFound
		}
		return Redemption{}, mapRepositoryError(err)
	}

	var updated Redemption
	err = s.accounts.WithAccount(ctx, current.UserID, func(ctx context.Context, tx repositories.AccountTx) error {
		locked, err := tx.GetRedemption(ctx, redemptionID)
		if err != nil {
			return err
		}
		if !locked.Status.CanTransition(next) {
			return &domain.InvalidStateTransitionError{RedemptionID: locked.ID, From: locked.Status, To: next}
		}
		now := s.clock()
		if err := mutate(ctx, tx, &locked, now); err != nil {
			return err
		}
		locked.Status = next
		locked.UpdatedAt = now
		if err := tx.UpdateRedemption(ctx, locked); err != nil {
			return err
		}
		updated = locked
		return nil
	})
	if err != nil {
		if repositories.IsNotFound(err) {
			return Redemption{}, ErrRedemptionNotFound
		}
		return Redemption{}, mapRepositoryError(err)
	}

	s.logger(ctx, "redemption_transitioned", map[string]any{
		"redemptionId": updated.ID,
		"userId":       updated.UserID,
		"status":       string(updated.Status),
		"actorId":      updated.ReviewedBy,
	})
	return updated, nil
}

func (s *redemptionService) Get(ctx context.Context, redemptionID string) (Redemption, error) {
	redemptionID = strings.TrimSpace(redemptionID)
	if redemptionID == "" {
		return Redemption{}, domain.NewValidationError("redemptionId", "is required")
	}
	redemption, err := s.redemptions.FindByID(ctx, redemptionID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Redemption{}, ErrRedemptionNotFound
		}
		return Redemption{}, mapRepositoryError(err)
	}
	return redemption, nil
}

func (s *redemptionService) ListForUser(ctx context.Context, userID string, filter RedemptionListFilter) (domain.CursorPage[Redemption], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Redemption]{}, domain.NewValidationError("userId", "is required")
	}
	page, err := s.redemptions.ListByUser(ctx, userID, repositories.RedemptionFilter(filter))
	if err != nil {
		return domain.CursorPage[Redemption]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *redemptionService) ListByStatus(ctx context.Context, filter RedemptionListFilter) (domain.CursorPage[Redemption], error) {
	if filter.Status == "" {
		filter.Status = domain.RedemptionStatusRequested
	}
	page, err := s.redemptions.ListByStatus(ctx, repositories.RedemptionFilter(filter))
	if err != nil {
		return domain.CursorPage[Redemption]{}, mapRepositoryError(err)
	}
	return page, nil
}

// ListVouchers reports lapsed vouchers as expired without rewriting them.
func (s *redemptionService) ListVouchers(ctx context.Context, userID string) ([]Voucher, error) {
	if s.vouchers == nil {
		return nil, ErrVoucherRepositoryMissing
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.NewValidationError("userId", "is required")
	}
	vouchers, err := s.vouchers.ListByUser(ctx, userID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	now := s.clock()
	for i := range vouchers {
		vouchers[i].Status = vouchers[i].StatusAt(now)
	}
	return vouchers, nil
}

func (s *redemptionService) LookupVoucher(ctx context.Context, code string) (Voucher, error) {
	if s.vouchers == nil {
		return Voucher{}, ErrVoucherRepositoryMissing
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Voucher{}, domain.NewValidationError("code", "is required")
	}
	voucher, err := s.vouchers.FindByCode(ctx, code)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Voucher{}, ErrVoucherNotFound
		}
		return Voucher{}, mapRepositoryError(err)
	}
	voucher.Status = voucher.StatusAt(s.clock())
	return voucher, nil
}

func (s *redemptionService) publishPaid(ctx context.Context, redemption Redemption) {
	err := s.publisher.PublishEvent(ctx, DomainEvent{
		Type:       EventRedemptionPaid,
		UserID:     redemption.UserID,
		OccurredAt: s.clock(),
		Payload: map[string]any{
			"redemptionId": redemption.ID,
			"type":         string(redemption.Type),
			"amountCents":  redemption.AmountCents,
			"feeCents":     redemption.FeeCents,
			"payoutCents":  redemption.PayoutCents,
			"provider":     redemption.Provider,
			"providerRef":  redemption.ProviderRef,
		},
	})
	if err != nil {
		s.logger(ctx, "redemption_event_publish_failed", map[string]any{"redemptionId": redemption.ID, "error": err.Error()})
	}
}

// accountBalance derives the balance inside the critical section, ignoring the reservation of excludeID.
func accountBalance(ctx context.Context, tx repositories.AccountTx, userID string, excludeID string) (Balance, error) {
	entries, err := tx.Entries(ctx)
	if err != nil {
		return Balance{}, err
	}
	open, err := tx.OpenRedemptions(ctx)
	if err != nil {
		return Balance{}, err
	}
	if excludeID != "" {
		filtered := open[:0:0]
		for _, r := range open {
			if r.ID != excludeID {
				filtered = append(filtered, r)
			}
		}
		open = filtered
	}
	return domain.SummarizeLedger(userID, entries, open), nil
}
