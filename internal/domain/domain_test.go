package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestPercentOfCentsFloors(t *testing.T) {
	t.Parallel()

	require.Equal(t, int64(250), PercentOfCents(10_000, decimal.RequireFromString("2.5")))
	require.Equal(t, int64(22), PercentOfCents(150, decimal.NewFromInt(15)))
	require.Equal(t, int64(0), PercentOfCents(6, decimal.NewFromInt(15)))
	require.Equal(t, int64(33), ScaleCents(22, decimal.RequireFromString("1.5")))
}

func TestParseCents(t *testing.T) {
	t.Parallel()

	cases := map[string]int64{
		"5":      500,
		"5.00":   500,
		"12.5":   1250,
		"0.01":   1,
		" 100 ":  10_000,
		"-3.25":  -325,
		"1.2300": 123,
	}
	for input, want := range cases {
		got, err := ParseCents("amount", input)
		require.NoError(t, err, input)
		require.Equal(t, want, got, input)
	}

	got, err := ParseCents("amount", "92233720368547758.07")
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), got)
	got, err = ParseCents("amount", "-92233720368547758.08")
	require.NoError(t, err)
	require.Equal(t, int64(math.MinInt64), got)

	for _, input := range []string{"", "abc", "1.005", "0.001", "92233720368547758.08", "100000000000000000.00", "-200000000000000000.00"} {
		_, err := ParseCents("amount", input)
		require.Error(t, err, input)
		require.True(t, errors.Is(err, ErrValidation), input)
	}
}

func TestParseRate(t *testing.T) {
	t.Parallel()

	rate, err := ParseRate("rate", " 2.5 ")
	require.NoError(t, err)
	require.Equal(t, "2.5", rate.String())

	for _, input := range []string{"", "ten"} {
		_, err := ParseRate("rate", input)
		require.ErrorIs(t, err, ErrValidation, input)
	}
}

func TestFormatCents(t *testing.T) {
	t.Parallel()

	require.Equal(t, "5.00", FormatCents(500))
	require.Equal(t, "0.22", FormatCents(22))
	require.Equal(t, "-5.00", FormatCents(-500))
}

func TestRateRuleEffectiveRate(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC)
	rule := RateRule{
		Rate:            decimal.NewFromInt(4),
		IsPromotional:   true,
		PromotionalRate: decimal.NewFromInt(8),
		PromoStartsAt:   &start,
		PromoEndsAt:     &end,
	}

	rate, promo := rule.EffectiveRate(start.Add(time.Hour))
	require.True(t, promo)
	require.True(t, rate.Equal(decimal.NewFromInt(8)))

	rate, promo = rule.EffectiveRate(start)
	require.False(t, promo, "window start is exclusive")
	require.True(t, rate.Equal(decimal.NewFromInt(4)))

	_, promo = rule.EffectiveRate(end)
	require.False(t, promo, "window end is exclusive")
}

func TestRedemptionStateMachine(t *testing.T) {
	t.Parallel()

	require.True(t, RedemptionStatusRequested.CanTransition(RedemptionStatusApproved))
	require.True(t, RedemptionStatusRequested.CanTransition(RedemptionStatusRejected))
	require.True(t, RedemptionStatusApproved.CanTransition(RedemptionStatusPaid))
	require.False(t, RedemptionStatusRequested.CanTransition(RedemptionStatusPaid))
	require.False(t, RedemptionStatusApproved.CanTransition(RedemptionStatusRejected))
	require.False(t, RedemptionStatusPaid.CanTransition(RedemptionStatusApproved))
	require.False(t, RedemptionStatusRejected.CanTransition(RedemptionStatusApproved))

	require.True(t, RedemptionStatusPaid.Terminal())
	require.False(t, RedemptionStatusApproved.Terminal())
	err := &InvalidStateTransitionError{RedemptionID: "red_1", From: RedemptionStatusPaid, To: RedemptionStatusRejected}
	require.EqualError(t, err, "redemption red_1 is already paid")
	err = &InvalidStateTransitionError{RedemptionID: "red_1", From: RedemptionStatusRequested, To: RedemptionStatusPaid}
	require.EqualError(t, err, "redemption red_1 cannot move from requested to paid")
}

func TestSummarizeLedger(t *testing.T) {
	t.Parallel()

	entries := []LedgerEntry{
		{AmountCents: 1000, Status: LedgerStatusConfirmed},
		{AmountCents: 60, Status: LedgerStatusConfirmed},
		{AmountCents: 22, Status: LedgerStatusPending},
		{AmountCents: -40, Status: LedgerStatusConfirmed},
		{AmountCents: -500, Status: LedgerStatusRedeemed, SourceType: SourceTypeRedemption},
	}
	open := []Redemption{
		{AmountCents: 300, Status: RedemptionStatusRequested},
		{AmountCents: 200, Status: RedemptionStatusRejected},
	}

	balance := SummarizeLedger("user-1", entries, open)
	require.Equal(t, Balance{
		UserID:         "user-1",
		ConfirmedCents: 1060,
		PendingCents:   22,
		RedeemedCents:  500,
		AvailableCents: 560,
		ReservedCents:  300,
		SpendableCents: 260,
	}, balance)
}

func TestRewardEventValidate(t *testing.T) {
	t.Parallel()

	base := RewardEvent{
		UserID:  "user-1",
		Product: Product{ID: "p-1", Type: ProductTypeAffiliate},
		Input:   AffiliateInput{PriceCents: 10_000},
		OrderID: "order-1",
	}
	require.NoError(t, base.Validate())
	require.Equal(t, "order-1", base.SourceID())
	require.True(t, base.Multiplier().Equal(decimal.NewFromInt(1)))

	withRef := base
	withRef.Reference = "order-1:line-2"
	require.Equal(t, "order-1:line-2", withRef.SourceID())

	missingUser := base
	missingUser.UserID = " "
	require.ErrorIs(t, missingUser.Validate(), ErrValidation)

	negative := decimal.NewFromInt(-1)
	badMultiplier := base
	badMultiplier.PromoMultiplier = &negative
	require.ErrorIs(t, badMultiplier.Validate(), ErrValidation)

	noInput := base
	noInput.Input = nil
	require.ErrorIs(t, noInput.Validate(), ErrValidation)

	margin := int64(500)
	provided := noInput
	provided.ProvidedMarginCents = &margin
	require.NoError(t, provided.Validate())
}

func TestInputForProduct(t *testing.T) {
	t.Parallel()

	cost := int64(1000)
	require.Equal(t, AffiliateInput{PriceCents: 100}, InputForProduct(Product{Type: ProductTypeAffiliate, PriceCents: 100}))
	require.Equal(t, DropshipInput{ListPriceCents: 1500, CostCents: &cost}, InputForProduct(Product{Type: ProductTypeDropship, PriceCents: 1500, CostCents: &cost}))
	require.Equal(t, StandardInput{ProductType: ProductTypeDigital, PriceCents: 900}, InputForProduct(Product{Type: ProductTypeDigital, PriceCents: 900}))
}

func TestVoucherStatusAt(t *testing.T) {
	issued := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	expires := issued.Add(24 * time.Hour)
	voucher := Voucher{Code: "ABCD-EFGH-JKLM-NPQR", Status: VoucherStatusActive, ExpiresAt: &expires}

	require.Equal(t, VoucherStatusActive, voucher.StatusAt(issued))
	require.Equal(t, VoucherStatusExpired, voucher.StatusAt(expires))

	voucher.Status = VoucherStatusRedeemed
	require.Equal(t, VoucherStatusRedeemed, voucher.StatusAt(expires.Add(time.Hour)))

	open := Voucher{Status: VoucherStatusActive}
	require.Equal(t, VoucherStatusActive, open.StatusAt(expires.Add(1000*time.Hour)))
}
