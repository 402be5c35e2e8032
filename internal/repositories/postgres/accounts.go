package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/repositories"
)

type accountLocker struct{ db *gorm.DB }

var errForeignRedemption = errors.New("redemption belongs to another account")

// WithAccount runs fn in a transaction holding a row lock on the user's account row.
func (l accountLocker) WithAccount(ctx context.Context, userID string, fn func(ctx context.Context, tx repositories.AccountTx) error) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account := accountModel{UserID: userID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&account).Error; err != nil {
			return wrapErr("accounts.ensure", err)
		}
		var locked accountModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).Take(&locked).Error; err != nil {
			return wrapErr("accounts.lock", err)
		}
		return fn(ctx, &accountTx{db: tx, userID: userID})
	})
}

type accountTx struct {
	db     *gorm.DB
	userID string
}

var _ repositories.AccountTx = (*accountTx)(nil)

func (tx *accountTx) Entries(ctx context.Context) ([]domain.LedgerEntry, error) {
	return allEntries(ctx, tx.db, tx.userID, "accounts.entries")
}

func (tx *accountTx) OpenRedemptions(ctx context.Context) ([]domain.Redemption, error) {
	var models []redemptionModel
	err := tx.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", tx.userID, []string{string(domain.RedemptionStatusRequested), string(domain.RedemptionStatusApproved)}).
		Order("created_at, id").
		Find(&models).Error
	if err != nil {
		return nil, wrapErr("accounts.open_redemptions", err)
	}
	out := make([]domain.Redemption, 0, len(models))
	for _, m := range models {
		out = append(out, toDomainRedemption(m))
	}
	return out, nil
}

func (tx *accountTx) GetRedemption(ctx context.Context, redemptionID string) (domain.Redemption, error) {
	var model redemptionModel
	if err := tx.db.WithContext(ctx).Where("id = ?", redemptionID).Take(&model).Error; err != nil {
		return domain.Redemption{}, wrapErr("accounts.get_redemption", err)
	}
	if model.UserID != tx.userID {
		return domain.Redemption{}, repositories.NewError("accounts.get_redemption", repositories.ErrorKindConflict, errForeignRedemption)
	}
	return toDomainRedemption(model), nil
}

func (tx *accountTx) InsertRedemption(ctx context.Context, redemption domain.Redemption) error {
	if redemption.UserID != tx.userID {
		return repositories.NewError("accounts.insert_redemption", repositories.ErrorKindConflict, errForeignRedemption)
	}
	model, err := toRedemptionModel(redemption)
	if err != nil {
		return wrapErr("accounts.insert_redemption", err)
	}
	return wrapErr("accounts.insert_redemption", tx.db.WithContext(ctx).Create(&model).Error)
}

func (tx *accountTx) UpdateRedemption(ctx context.Context, redemption domain.Redemption) error {
	if redemption.UserID != tx.userID {
		return repositories.NewError("accounts.update_redemption", repositories.ErrorKindConflict, errForeignRedemption)
	}
	model, err := toRedemptionModel(redemption)
	if err != nil {
		return wrapErr("accounts.update_redemption", err)
	}
	res := tx.db.WithContext(ctx).Model(&redemptionModel{}).
		Where("id = ? AND user_id = ?", redemption.ID, tx.userID).
		Select("status", "target", "provider", "provider_ref", "reviewed_by", "rejection_reason", "voucher_code", "updated_at", "processed_at").
		Updates(&model)
	if res.Error != nil {
		return wrapErr("accounts.update_redemption", res.Error)
	}
	if res.RowsAffected == 0 {
		return repositories.NotFound("accounts.update_redemption")
	}
	return nil
}

func (tx *accountTx) AppendDebit(ctx context.Context, entry domain.LedgerEntry) error {
	if entry.UserID != tx.userID || entry.AmountCents >= 0 {
		return repositories.NewError("accounts.append_debit", repositories.ErrorKindConflict, errors.New("debit must be negative and belong to the account"))
	}
	model, err := toLedgerEntryModel(entry)
	if err != nil {
		return wrapErr("accounts.append_debit", err)
	}
	return wrapErr("accounts.append_debit", tx.db.WithContext(ctx).Create(&model).Error)
}

func (tx *accountTx) InsertVoucher(ctx context.Context, voucher domain.Voucher) error {
	model := toVoucherModel(voucher)
	return wrapErr("accounts.insert_voucher", tx.db.WithContext(ctx).Create(&model).Error)
}
