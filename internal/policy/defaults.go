package policy

import (
	"github.com/shopspring/decimal"

	"github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/platform/textutil"
)

func cents(v int64) *int64 { return &v }

func pct(v string) decimal.Decimal { return decimal.RequireFromString(v) }

// Default returns the built-in policy. Loaded documents are merged on top of it.
func Default() Policy {
	p := Policy{
		OperatingBufferCents: 100,
		MinRewardCents:       10,
		MaxRewardCents:       2500,
		PointsPerCent:        1,
		Tiers: []Tier{
			{MinCents: 25, MaxCents: cents(500), Percent: pct("15")},
			{MinCents: 501, MaxCents: cents(1500), Percent: pct("20")},
			{MinCents: 1501, MaxCents: cents(3000), Percent: pct("25")},
			{MinCents: 3001, Percent: pct("15")},
		},
		CoolingOffDays: map[domain.ProductType]int{
			domain.ProductTypeAffiliate:   30,
			domain.ProductTypeDropship:    0,
			domain.ProductTypeDigital:     0,
			domain.ProductTypePhysical:    7,
			domain.ProductTypeConsumable:  5,
			domain.ProductTypeService:     3,
			domain.ProductTypeCustom:      7,
			domain.ProductTypeMultivendor: 7,
		},
		FlatRates: map[domain.ProductType]decimal.Decimal{
			domain.ProductTypePhysical:    pct("10"),
			domain.ProductTypeDigital:     pct("20"),
			domain.ProductTypeService:     pct("15"),
			domain.ProductTypeCustom:      pct("12"),
			domain.ProductTypeMultivendor: pct("8"),
			domain.ProductTypeConsumable:  pct("10"),
		},
		FallbackRates: map[domain.RateKind]decimal.Decimal{
			domain.RateKindCommission: pct("3"),
			domain.RateKindMarkup:     pct("50"),
			domain.RateKindFlat:       pct("10"),
		},
		IndustryRates: map[domain.RateKind]map[string]decimal.Decimal{
			domain.RateKindCommission: normalizeTable(map[string]string{
				"Electronics":          "3",
				"Computers":            "2.5",
				"Video Games":          "1",
				"Fashion":              "4",
				"Clothing":             "4",
				"Shoes":                "4",
				"Jewelry":              "4",
				"Luxury Beauty":        "10",
				"Health & Beauty":      "3",
				"Home & Garden":        "3",
				"Kitchen":              "4.5",
				"Furniture":            "3",
				"Automotive":           "4.5",
				"Tools":                "3",
				"Toys":                 "3",
				"Sports & Outdoors":    "3",
				"Books":                "4.5",
				"Baby":                 "3",
				"Pet Supplies":         "3",
				"Grocery":              "1",
				"Office Products":      "4",
				"Musical Instruments":  "3",
				"Digital Music":        "5",
				"Amazon Devices":       "4",
				"Industrial & Science": "3",
			}),
			domain.RateKindMarkup: normalizeTable(map[string]string{
				"Electronics":       "30",
				"Computers":         "25",
				"Fashion":           "60",
				"Clothing":          "60",
				"Shoes":             "55",
				"Jewelry":           "80",
				"Health & Beauty":   "55",
				"Home & Garden":     "50",
				"Kitchen":           "50",
				"Furniture":         "40",
				"Automotive":        "40",
				"Tools":             "40",
				"Toys":              "50",
				"Sports & Outdoors": "45",
				"Pet Supplies":      "50",
				"Phone Accessories": "70",
			}),
		},
		Dropship: DropshipPolicy{
			AllowEstimatedCost: true,
			EstimatedCostRatio: pct("0.60"),
		},
		Redemption: RedemptionPolicy{
			MinimumCents: map[domain.RedemptionType]int64{
				domain.RedemptionTypeVoucher:  100,
				domain.RedemptionTypeGiftCard: 500,
				domain.RedemptionTypeCash:     500,
			},
			CashFeeFlatCents:    100,
			CashFeePercent:      pct("2.5"),
			VoucherValidityDays: 365,
		},
	}
	return p
}

func normalizeTable(raw map[string]string) map[string]decimal.Decimal {
	table := make(map[string]decimal.Decimal, len(raw))
	for name, rate := range raw {
		table[textutil.NormalizeCategory(name)] = pct(rate)
	}
	return table
}
