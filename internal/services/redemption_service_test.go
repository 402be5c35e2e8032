package services

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/rewards/internal/domain"
)

var voucherCodePattern = regexp.MustCompile(`^[0-9A-Z]{4}-[0-9A-Z]{4}-[0-9A-Z]{4}-[0-9A-Z]{4}$`)

func TestRequestCashRejectsInsufficientBalance(t *testing.T) {
	stack := newRewardsStack(t)
	ctx := context.Background()
	stack.fund(t, "user-1", 500)

	_, err := stack.redemptions.Request(ctx, RedemptionCommand{
		UserID: "user-1", Type: domain.RedemptionTypeCash, AmountCents: 600,
		Target: map[string]any{"accountId": "acct_123"},
	})
	var insufficient *domain.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(500), insufficient.AvailableCents)
	require.Equal(t, int64(600), insufficient.RequestedCents)

	entries, err := stack.store.Ledger().AllByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	page, err := stack.redemptions.ListForUser(ctx, "user-1", RedemptionListFilter{})
	require.NoError(t, err)
	require.Empty(t, page.Items)
}

func TestRequestVoucherDebitsImmediately(t *testing.T) {
	stack := newRewardsStack(t)
	ctx := context.Background()
	stack.fund(t, "user-1", 1000)

	outcome, err := stack.redemptions.Request(ctx, RedemptionCommand{UserID: "user-1", Type: domain.RedemptionTypeVoucher, AmountCents: 500})
	require.NoError(t, err)
	require.Equal(t, domain.RedemptionStatusPaid, outcome.Redemption.Status)
	require.NotNil(t, outcome.Voucher)
	require.Regexp(t, voucherCodePattern, outcome.Voucher.Code)
	require.Equal(t, outcome.Voucher.Code, outcome.Redemption.VoucherCode)
	require.NotNil(t, outcome.Voucher.ExpiresAt)

	debit, err := stack.store.Ledger().FindByKey(ctx, domain.LedgerKey{
		UserID: "user-1", SourceType: domain.SourceTypeRedemption, SourceID: outcome.Redemption.ID,
	})
	require.NoError(t, err)
	require.Equal(t, int64(-500), debit.AmountCents)
	require.Equal(t, domain.LedgerStatusRedeemed, debit.Status)

	balance, err := stack.ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(500), balance.AvailableCents)
	require.Equal(t, int64(500), balance.RedeemedCents)

	voucher, err := stack.store.Vouchers().FindByCode(ctx, outcome.Voucher.Code)
	require.NoError(t, err)
	require.Equal(t, outcome.Redemption.ID, voucher.RedemptionID)
	require.Equal(t, []string{EventRedemptionPaid}, stack.publisher.Types())
}

func TestRequestValidation(t *testing.T) {
	stack := newRewardsStack(t)
	ctx := context.Background()
	stack.fund(t, "user-1", 10000)

	cases := []struct {
		name string
		cmd  RedemptionCommand
	}{
		{name: "unknown type", cmd: RedemptionCommand{UserID: "user-1", Type: "crypto", AmountCents: 1000}},
		{name: "below voucher minimum", cmd: RedemptionCommand{UserID: "user-1", Type: domain.RedemptionTypeVoucher, AmountCents: 99}},
		{name: "below cash minimum", cmd: RedemptionCommand{UserID: "user-1", Type: domain.RedemptionTypeCash, AmountCents: 499, Target: map[string]any{"accountId": "a"}}},
		{name: "cash without target", cmd: RedemptionCommand{UserID: "user-1", Type: domain.RedemptionTypeCash, AmountCents: 1000}},
		{name: "giftcard with markup only target", cmd: RedemptionCommand{UserID: "user-1", Type: domain.RedemptionTypeGiftCard, AmountCents: 1000, Target: map[string]any{"email": "<script></script>"}}},
		{name: "missing user", cmd: RedemptionCommand{Type: domain.RedemptionTypeVoucher, AmountCents: 1000}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := stack.redemptions.Request(ctx, tc.cmd)
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestCashRedemptionLifecycle(t *testing.T) {
	stack := newRewardsStack(t)
	ctx := context.Background()
	stack.fund(t, "user-1", 10000)

	outcome, err := stack.redemptions.Request(ctx, RedemptionCommand{
		UserID: "user-1", Type: domain.RedemptionTypeCash, AmountCents: 6000,
		Target: map[string]any{"accountId": "acct_123"},
	})
	require.NoError(t, err)
	requested := outcome.Redemption
	require.Equal(t, domain.RedemptionStatusRequested, requested.Status)
	require.Equal(t, int64(150), requested.FeeCents)
	require.Equal(t, int64(5850), requested.PayoutCents)
	require.Nil(t, outcome.Voucher)

	balance, err := stack.ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(10000), balance.AvailableCents)
	require.Equal(t, int64(6000), balance.ReservedCents)
	require.Equal(t, int64(4000), balance.SpendableCents)

	_, err = stack.redemptions.MarkPaid(ctx, RedemptionPaymentCommand{RedemptionID: requested.ID, ProviderRef: "tr_1"})
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	approved, err := stack.redemptions.Approve(ctx, RedemptionReviewCommand{RedemptionID: requested.ID, ActorID: "staff-1"})
	require.NoError(t, err)
	require.Equal(t, domain.RedemptionStatusApproved, approved.Status)
	require.Equal(t, "staff-1", approved.ReviewedBy)

	_, err = stack.redemptions.MarkPaid(ctx, RedemptionPaymentCommand{RedemptionID: requested.ID})
	require.ErrorIs(t, err, domain.ErrValidation)

	paid, err := stack.redemptions.MarkPaid(ctx, RedemptionPaymentCommand{RedemptionID: requested.ID, Provider: "stripe", ProviderRef: "tr_1"})
	require.NoError(t, err)
	require.Equal(t, domain.RedemptionStatusPaid, paid.Status)
	require.Equal(t, "stripe", paid.Provider)
	require.NotNil(t, paid.ProcessedAt)

	balance, err = stack.ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(4000), balance.AvailableCents)
	require.Zero(t, balance.ReservedCents)

	_, err = stack.redemptions.Reject(ctx, RedemptionReviewCommand{RedemptionID: requested.ID, Reason: "late"})
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestRejectReleasesReservation(t *testing.T) {
	stack := newRewardsStack(t)
	ctx := context.Background()
	stack.fund(t, "user-1", 1000)

	outcome, err := stack.redemptions.Request(ctx, RedemptionCommand{
		UserID: "user-1", Type: domain.RedemptionTypeGiftCard, AmountCents: 1000,
		Target: map[string]any{"email": "user@example.com"},
	})
	require.NoError(t, err)

	_, err = stack.redemptions.Reject(ctx, RedemptionReviewCommand{RedemptionID: outcome.Redemption.ID, ActorID: "staff-1"})
	require.ErrorIs(t, err, domain.ErrValidation)

	rejected, err := stack.redemptions.Reject(ctx, RedemptionReviewCommand{RedemptionID: outcome.Redemption.ID, ActorID: "staff-1", Reason: "duplicate request"})
	require.NoError(t, err)
	require.Equal(t, domain.RedemptionStatusRejected, rejected.Status)
	require.Equal(t, "duplicate request", rejected.RejectionReason)

	balance, err := stack.ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), balance.SpendableCents)

	pending, err := stack.redemptions.ListByStatus(ctx, RedemptionListFilter{})
	require.NoError(t, err)
	require.Empty(t, pending.Items)
}

func TestRedemptionNotFound(t *testing.T) {
	stack := newRewardsStack(t)
	_, err := stack.redemptions.Approve(context.Background(), RedemptionReviewCommand{RedemptionID: "rdm_missing"})
	require.ErrorIs(t, err, ErrRedemptionNotFound)
	_, err = stack.redemptions.Get(context.Background(), "rdm_missing")
	require.ErrorIs(t, err, ErrRedemptionNotFound)
}

func TestListVouchersReportsExpiry(t *testing.T) {
	stack := newRewardsStack(t)
	ctx := context.Background()
	stack.fund(t, "user-1", 1000)

	outcome, err := stack.redemptions.Request(ctx, RedemptionCommand{UserID: "user-1", Type: domain.RedemptionTypeVoucher, AmountCents: 300})
	require.NoError(t, err)

	vouchers, err := stack.redemptions.ListVouchers(ctx, " user-1 ")
	require.NoError(t, err)
	require.Len(t, vouchers, 1)
	require.Equal(t, outcome.Voucher.Code, vouchers[0].Code)
	require.Equal(t, int64(300), vouchers[0].AmountCents)
	require.Equal(t, domain.VoucherStatusActive, vouchers[0].Status)

	other, err := stack.redemptions.ListVouchers(ctx, "user-2")
	require.NoError(t, err)
	require.Empty(t, other)

	stack.clock.Advance(366 * 24 * time.Hour)
	vouchers, err = stack.redemptions.ListVouchers(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, vouchers, 1)
	require.Equal(t, domain.VoucherStatusExpired, vouchers[0].Status)

	_, err = stack.redemptions.ListVouchers(ctx, "  ")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestLookupVoucherNormalisesCode(t *testing.T) {
	stack := newRewardsStack(t)
	ctx := context.Background()
	stack.fund(t, "user-1", 1000)

	outcome, err := stack.redemptions.Request(ctx, RedemptionCommand{UserID: "user-1", Type: domain.RedemptionTypeVoucher, AmountCents: 250})
	require.NoError(t, err)

	voucher, err := stack.redemptions.LookupVoucher(ctx, "  "+strings.ToLower(outcome.Voucher.Code)+" ")
	require.NoError(t, err)
	require.Equal(t, "user-1", voucher.UserID)
	require.Equal(t, outcome.Redemption.ID, voucher.RedemptionID)
	require.Equal(t, domain.VoucherStatusActive, voucher.Status)

	_, err = stack.redemptions.LookupVoucher(ctx, "ZZZZ-ZZZZ-ZZZZ-ZZZZ")
	require.ErrorIs(t, err, ErrVoucherNotFound)
	_, err = stack.redemptions.LookupVoucher(ctx, "")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestConcurrentRedemptionsNeverOverdraw(t *testing.T) {
	stack := newRewardsStack(t)
	ctx := context.Background()
	stack.fund(t, "user-1", 1000)

	const attempts = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int64
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			redemptionType := domain.RedemptionTypeVoucher
			if i%2 == 0 {
				redemptionType = domain.RedemptionTypeGiftCard
			}
			outcome, err := stack.redemptions.Request(ctx, RedemptionCommand{
				UserID: "user-1", Type: redemptionType, AmountCents: 500,
				Target: map[string]any{"email": "user@example.com"},
			})
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
				return
			}
			mu.Lock()
			accepted += outcome.Redemption.AmountCents
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	require.Equal(t, int64(1000), accepted)

	balance, err := stack.ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	require.GreaterOrEqual(t, balance.AvailableCents, int64(0))
	require.Zero(t, balance.SpendableCents)
}
