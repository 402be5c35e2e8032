package services

import (
	"testing"
	"testing/quick"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/policy"
)

func int64Ptr(v int64) *int64 { return &v }

func TestMarginCalculator(t *testing.T) {
	calc, err := NewMarginCalculator(policy.Default())
	require.NoError(t, err)

	t.Run("affiliate commission", func(t *testing.T) {
		result, err := calc.Calculate(domain.AffiliateInput{PriceCents: 10000}, decimal.RequireFromString("2.5"))
		require.NoError(t, err)
		require.Equal(t, int64(250), result.MarginCents)
		require.False(t, result.Estimated)
	})

	t.Run("affiliate floors fractional cents", func(t *testing.T) {
		result, err := calc.Calculate(domain.AffiliateInput{PriceCents: 999}, decimal.RequireFromString("3"))
		require.NoError(t, err)
		require.Equal(t, int64(29), result.MarginCents)
	})

	t.Run("dropship with supplier cost", func(t *testing.T) {
		result, err := calc.Calculate(domain.DropshipInput{ListPriceCents: 2000, CostCents: int64Ptr(1000)}, decimal.NewFromInt(50))
		require.NoError(t, err)
		require.Equal(t, int64(500), result.MarginCents)
		require.Equal(t, int64(1500), result.SellPriceCents)
		require.Equal(t, int64(1000), result.CostCents)
	})

	t.Run("dropship without cost estimates conservatively", func(t *testing.T) {
		result, err := calc.Calculate(domain.DropshipInput{ListPriceCents: 1000}, decimal.NewFromInt(50))
		require.NoError(t, err)
		require.True(t, result.Estimated)
		require.Equal(t, int64(600), result.CostCents)
		require.Equal(t, int64(300), result.MarginCents)
	})

	t.Run("dropship estimate bounded by list price", func(t *testing.T) {
		result, err := calc.Calculate(domain.DropshipInput{ListPriceCents: 1000}, decimal.NewFromInt(200))
		require.NoError(t, err)
		require.Equal(t, int64(400), result.MarginCents)
	})

	t.Run("standard flat rate", func(t *testing.T) {
		result, err := calc.Calculate(domain.StandardInput{ProductType: domain.ProductTypePhysical, PriceCents: 4500}, decimal.NewFromInt(10))
		require.NoError(t, err)
		require.Equal(t, int64(450), result.MarginCents)
	})

	t.Run("rejects out of range inputs", func(t *testing.T) {
		_, err := calc.Calculate(domain.AffiliateInput{PriceCents: -1}, decimal.NewFromInt(3))
		require.ErrorIs(t, err, domain.ErrValidation)
		_, err = calc.Calculate(domain.DropshipInput{ListPriceCents: 100, CostCents: int64Ptr(-5)}, decimal.NewFromInt(3))
		require.ErrorIs(t, err, domain.ErrValidation)
		_, err = calc.Calculate(domain.AffiliateInput{PriceCents: 100}, decimal.NewFromInt(1001))
		require.ErrorIs(t, err, domain.ErrValidation)
		_, err = calc.Calculate(nil, decimal.NewFromInt(3))
		require.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestMarginCalculatorWithoutEstimatedCost(t *testing.T) {
	p := policy.Default()
	p.Dropship.AllowEstimatedCost = false
	calc, err := NewMarginCalculator(p)
	require.NoError(t, err)

	result, err := calc.Calculate(domain.DropshipInput{ListPriceCents: 1000}, decimal.NewFromInt(50))
	require.NoError(t, err)
	require.True(t, result.Estimated)
	require.Zero(t, result.MarginCents)
}

func TestMarginNeverExceedsPrice(t *testing.T) {
	calc, err := NewMarginCalculator(policy.Default())
	require.NoError(t, err)
	property := func(price uint32, ratePct uint8) bool {
		rate := decimal.NewFromInt(int64(ratePct % 101))
		affiliate, err := calc.Calculate(domain.AffiliateInput{PriceCents: int64(price)}, rate)
		if err != nil || affiliate.MarginCents < 0 || affiliate.MarginCents > int64(price) {
			return false
		}
		dropship, err := calc.Calculate(domain.DropshipInput{ListPriceCents: int64(price)}, rate)
		if err != nil || dropship.MarginCents < 0 || dropship.MarginCents > int64(price) {
			return false
		}
		return true
	}
	require.NoError(t, quick.Check(property, nil))
}
