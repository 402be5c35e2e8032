package services

import (
	"testing"
	"testing/quick"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/policy"
)

func newTestEngine(t *testing.T) RewardEngine {
	t.Helper()
	engine, err := NewRewardEngine(policy.Default())
	require.NoError(t, err)
	return engine
}

func TestRewardEngineTiersAndClamps(t *testing.T) {
	engine := newTestEngine(t)
	one := decimal.NewFromInt(1)

	cases := []struct {
		name       string
		margin     int64
		multiplier decimal.Decimal
		reward     int64
		tier       string
		min        bool
		max        bool
		capped     bool
	}{
		{name: "margin inside buffer", margin: 100, multiplier: one, reward: 0, tier: "0"},
		{name: "below first band", margin: 124, multiplier: one, reward: 0, tier: "0"},
		{name: "first band hits minimum", margin: 125, multiplier: one, reward: 10, tier: "15", min: true},
		{name: "first band", margin: 500, multiplier: one, reward: 60, tier: "15"},
		{name: "second band", margin: 1100, multiplier: one, reward: 200, tier: "20"},
		{name: "third band", margin: 2100, multiplier: one, reward: 500, tier: "25"},
		{name: "open band", margin: 10100, multiplier: one, reward: 1500, tier: "15"},
		{name: "maximum clamp", margin: 50100, multiplier: one, reward: 2500, tier: "15", max: true},
		{name: "promo doubles", margin: 500, multiplier: decimal.NewFromInt(2), reward: 120, tier: "15"},
		{name: "zero multiplier suppresses", margin: 500, multiplier: decimal.Zero, reward: 0, tier: "15"},
		{name: "promo below minimum", margin: 126, multiplier: decimal.RequireFromString("0.1"), reward: 10, tier: "15", min: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calc, err := engine.Calculate(tc.margin, tc.multiplier)
			require.NoError(t, err)
			require.Equal(t, tc.reward, calc.RewardCents)
			require.Equal(t, tc.tier, calc.AppliedTierPercent.String())
			require.Equal(t, tc.min, calc.MinApplied)
			require.Equal(t, tc.max, calc.MaxApplied)
			require.Equal(t, tc.capped, calc.CappedAtMargin)
		})
	}
}

func TestRewardEngineCapsMinimumAtBufferedMargin(t *testing.T) {
	p := policy.Default()
	p.Tiers[0].MinCents = 1
	engine, err := NewRewardEngine(p)
	require.NoError(t, err)

	calc, err := engine.Calculate(105, decimal.NewFromInt(1))
	require.NoError(t, err)
	require.Equal(t, int64(5), calc.BufferedMarginCents)
	require.Equal(t, int64(5), calc.RewardCents)
	require.True(t, calc.MinApplied)
	require.True(t, calc.CappedAtMargin)
}

func TestRewardEngineRejectsNegativeInputs(t *testing.T) {
	engine := newTestEngine(t)
	_, err := engine.Calculate(-1, decimal.NewFromInt(1))
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = engine.Calculate(100, decimal.NewFromInt(-1))
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestRewardEngineNeverExceedsBufferedMargin(t *testing.T) {
	engine := newTestEngine(t)
	property := func(margin uint32, multiplierTenths uint8) bool {
		multiplier := decimal.New(int64(multiplierTenths), -1)
		calc, err := engine.Calculate(int64(margin), multiplier)
		if err != nil {
			return false
		}
		if calc.RewardCents < 0 || calc.RewardCents > calc.BufferedMarginCents {
			return false
		}
		return calc.RewardCents == 0 || calc.RewardCents <= 2500
	}
	require.NoError(t, quick.Check(property, &quick.Config{MaxCount: 2000}))
}

func TestRewardEngineMonotonicWithinBand(t *testing.T) {
	engine := newTestEngine(t)
	one := decimal.NewFromInt(1)
	property := func(a, b uint16) bool {
		lo, hi := int64(a), int64(b)
		if lo > hi {
			lo, hi = hi, lo
		}
		// Shift both into the same band above the buffer.
		lo, hi = 601+lo%1000, 601+hi%1000
		if lo > hi {
			lo, hi = hi, lo
		}
		first, err := engine.Calculate(lo, one)
		if err != nil {
			return false
		}
		second, err := engine.Calculate(hi, one)
		if err != nil {
			return false
		}
		return first.RewardCents <= second.RewardCents
	}
	require.NoError(t, quick.Check(property, nil))
}

func TestCoolingOffSchedulerDefaults(t *testing.T) {
	scheduler, err := NewCoolingOffScheduler(policy.Default())
	require.NoError(t, err)

	cases := map[domain.ProductType]int{
		domain.ProductTypeAffiliate:   30,
		domain.ProductTypeDropship:    0,
		domain.ProductTypeDigital:     0,
		domain.ProductTypePhysical:    7,
		domain.ProductTypeConsumable:  5,
		domain.ProductTypeService:     3,
		domain.ProductTypeCustom:      7,
		domain.ProductTypeMultivendor: 7,
	}
	for productType, days := range cases {
		decision, err := scheduler.Schedule(productType, testNow)
		require.NoError(t, err, productType)
		require.Equal(t, days, decision.Days, productType)
		if days == 0 {
			require.Equal(t, domain.LedgerStatusConfirmed, decision.Status)
			require.Nil(t, decision.AvailableAt)
			continue
		}
		require.Equal(t, domain.LedgerStatusPending, decision.Status)
		require.Equal(t, testNow.Add(time.Duration(days)*24*time.Hour), *decision.AvailableAt)
	}

	_, err = scheduler.Schedule("unknown", testNow)
	require.ErrorIs(t, err, domain.ErrValidation)
}
