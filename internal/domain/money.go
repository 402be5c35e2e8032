package domain

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// PercentOfCents returns floor(amount * percent / 100) using exact decimal arithmetic.
func PercentOfCents(amountCents int64, percent decimal.Decimal) int64 {
	return decimal.NewFromInt(amountCents).Mul(percent).Shift(-2).Floor().IntPart()
}

// ScaleCents returns floor(amount * factor).
func ScaleCents(amountCents int64, factor decimal.Decimal) int64 {
	return decimal.NewFromInt(amountCents).Mul(factor).Floor().IntPart()
}

// ParseCents converts a decimal currency string such as "12.50" into integer cents.
// Values carrying more than two fractional digits are rejected rather than rounded.
func ParseCents(field, value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, NewValidationError(field, "is required")
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, NewValidationError(field, "must be a decimal amount")
	}
	cents := amount.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, NewValidationError(field, "must not have more than two decimal places")
	}
	if cents.LessThan(minCents) || cents.GreaterThan(maxCents) {
		return 0, NewValidationError(field, "is out of range")
	}
	return cents.IntPart(), nil
}

var (
	minCents = decimal.NewFromInt(math.MinInt64)
	maxCents = decimal.NewFromInt(math.MaxInt64)
)

// FormatCents renders cents as a fixed two decimal string for display.
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// ParseRate parses a decimal percent such as "2.5".
func ParseRate(field, value string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return decimal.Zero, NewValidationError(field, "is required")
	}
	rate, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, NewValidationError(field, "must be a decimal percent")
	}
	return rate, nil
}
