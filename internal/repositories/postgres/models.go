package postgres

import (
	"time"

	"github.com/shopspring/decimal"
)

type rateRuleModel struct {
	ID              string          `gorm:"column:id;primaryKey"`
	Kind            string          `gorm:"column:kind"`
	Platform        string          `gorm:"column:platform"`
	CategoryName    string          `gorm:"column:category_name"`
	CategoryKey     string          `gorm:"column:category_key"`
	Rate            decimal.Decimal `gorm:"column:rate;type:numeric(9,4)"`
	IsPromotional   bool            `gorm:"column:is_promotional"`
	PromotionalRate decimal.Decimal `gorm:"column:promotional_rate;type:numeric(9,4)"`
	PromoStartsAt   *time.Time      `gorm:"column:promo_starts_at"`
	PromoEndsAt     *time.Time      `gorm:"column:promo_ends_at"`
	Source          string          `gorm:"column:source"`
	Active          bool            `gorm:"column:active"`
	UpdatedBy       string          `gorm:"column:updated_by"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at"`
}

func (rateRuleModel) TableName() string { return "reward_rate_rules" }

type overrideModel struct {
	ID           string          `gorm:"column:id;primaryKey"`
	ProductID    string          `gorm:"column:product_id"`
	Rate         decimal.Decimal `gorm:"column:rate;type:numeric(9,4)"`
	Reason       string          `gorm:"column:reason"`
	Active       bool            `gorm:"column:active"`
	CreatedBy    string          `gorm:"column:created_by"`
	CreatedAt    time.Time       `gorm:"column:created_at"`
	SupersededAt *time.Time      `gorm:"column:superseded_at"`
	SupersededBy string          `gorm:"column:superseded_by"`
}

func (overrideModel) TableName() string { return "reward_product_overrides" }

type accountModel struct {
	UserID    string    `gorm:"column:user_id;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (accountModel) TableName() string { return "reward_accounts" }

type ledgerEntryModel struct {
	ID          string     `gorm:"column:id;primaryKey"`
	UserID      string     `gorm:"column:user_id"`
	SourceType  string     `gorm:"column:source_type"`
	SourceID    string     `gorm:"column:source_id"`
	ProductType string     `gorm:"column:product_type"`
	AmountCents int64      `gorm:"column:amount_cents"`
	Points      int64      `gorm:"column:points"`
	Status      string     `gorm:"column:status"`
	AvailableAt *time.Time `gorm:"column:available_at"`
	Metadata    *string    `gorm:"column:metadata;type:jsonb"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
}

func (ledgerEntryModel) TableName() string { return "reward_ledger_entries" }

type redemptionModel struct {
	ID              string     `gorm:"column:id;primaryKey"`
	UserID          string     `gorm:"column:user_id"`
	Type            string     `gorm:"column:type"`
	AmountCents     int64      `gorm:"column:amount_cents"`
	FeeCents        int64      `gorm:"column:fee_cents"`
	PayoutCents     int64      `gorm:"column:payout_cents"`
	Status          string     `gorm:"column:status"`
	Target          *string    `gorm:"column:target;type:jsonb"`
	Provider        string     `gorm:"column:provider"`
	ProviderRef     string     `gorm:"column:provider_ref"`
	ReviewedBy      string     `gorm:"column:reviewed_by"`
	RejectionReason string     `gorm:"column:rejection_reason"`
	VoucherCode     string     `gorm:"column:voucher_code"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
	ProcessedAt     *time.Time `gorm:"column:processed_at"`
}

func (redemptionModel) TableName() string { return "reward_redemptions" }

type voucherModel struct {
	ID           string     `gorm:"column:id;primaryKey"`
	UserID       string     `gorm:"column:user_id"`
	Code         string     `gorm:"column:code"`
	AmountCents  int64      `gorm:"column:amount_cents"`
	Status       string     `gorm:"column:status"`
	RedemptionID string     `gorm:"column:redemption_id"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	ExpiresAt    *time.Time `gorm:"column:expires_at"`
}

func (voucherModel) TableName() string { return "reward_vouchers" }
