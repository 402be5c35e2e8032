package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/platform/pagination"
	"github.com/hanko-field/rewards/internal/repositories"
)

// Store is the PostgreSQL-backed repositories.Registry.
type Store struct {
	db *gorm.DB
}

var _ repositories.Registry = (*Store)(nil)

// NewStore wraps an open gorm handle.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("postgres: db is required")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) RateRules() repositories.RateRuleRepository    { return rateRuleRepository{db: s.db} }
func (s *Store) Overrides() repositories.OverrideRepository    { return overrideRepository{db: s.db} }
func (s *Store) Ledger() repositories.LedgerRepository         { return ledgerRepository{db: s.db} }
func (s *Store) Redemptions() repositories.RedemptionRepository { return redemptionRepository{db: s.db} }
func (s *Store) Vouchers() repositories.VoucherRepository       { return voucherRepository{db: s.db} }
func (s *Store) Accounts() repositories.AccountLocker           { return accountLocker{db: s.db} }

// Health pings the pool.
func (s *Store) Health() repositories.HealthRepository {
	repo, _ := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name: "postgres",
		Check: func(ctx context.Context) error {
			sqlDB, err := s.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}})
	return repo
}

type rateRuleRepository struct{ db *gorm.DB }

func activeRuleScope(key domain.RateRuleKey) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("kind = ? AND platform = ? AND category_key = ? AND active", string(key.Kind), string(key.Platform), key.CategoryKey)
	}
}

func (r rateRuleRepository) Upsert(ctx context.Context, rule domain.RateRule) (domain.RateRule, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing rateRuleModel
		err := tx.Scopes(activeRuleScope(rule.Key())).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&existing).Error
		switch {
		case err == nil:
			rule.CreatedAt = existing.CreatedAt.UTC()
			if err := tx.Model(&rateRuleModel{}).Where("id = ?", existing.ID).Updates(map[string]any{
				"active":     false,
				"updated_by": rule.UpdatedBy,
				"updated_at": rule.UpdatedAt,
			}).Error; err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		rule.Active = true
		model := toRateRuleModel(rule)
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.RateRule{}, wrapErr("rate_rules.upsert", err)
	}
	return rule, nil
}

func (r rateRuleRepository) Deactivate(ctx context.Context, key domain.RateRuleKey, actor string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&rateRuleModel{}).Scopes(activeRuleScope(key)).Updates(map[string]any{
		"active":     false,
		"updated_by": actor,
		"updated_at": at,
	})
	if res.Error != nil {
		return wrapErr("rate_rules.deactivate", res.Error)
	}
	if res.RowsAffected == 0 {
		return repositories.NotFound("rate_rules.deactivate")
	}
	return nil
}

func (r rateRuleRepository) FindActive(ctx context.Context, key domain.RateRuleKey) (domain.RateRule, error) {
	var model rateRuleModel
	if err := r.db.WithContext(ctx).Scopes(activeRuleScope(key)).Take(&model).Error; err != nil {
		return domain.RateRule{}, wrapErr("rate_rules.find_active", err)
	}
	return toDomainRateRule(model), nil
}

func (r rateRuleRepository) ListActive(ctx context.Context, kind domain.RateKind, platform domain.Platform) ([]domain.RateRule, error) {
	return r.List(ctx, repositories.RateRuleFilter{Kind: kind, Platform: platform})
}

func (r rateRuleRepository) List(ctx context.Context, filter repositories.RateRuleFilter) ([]domain.RateRule, error) {
	q := r.db.WithContext(ctx).Model(&rateRuleModel{})
	if !filter.IncludeRetired {
		q = q.Where("active")
	}
	if filter.Kind != "" {
		q = q.Where("kind = ?", string(filter.Kind))
	}
	if filter.Platform != "" {
		q = q.Where("platform = ?", string(filter.Platform))
	}
	var models []rateRuleModel
	if err := q.Order("kind, platform, category_key, created_at").Find(&models).Error; err != nil {
		return nil, wrapErr("rate_rules.list", err)
	}
	out := make([]domain.RateRule, 0, len(models))
	for _, m := range models {
		out = append(out, toDomainRateRule(m))
	}
	return out, nil
}

type overrideRepository struct{ db *gorm.DB }

func (r overrideRepository) Replace(ctx context.Context, override domain.ProductMarkupOverride) (domain.ProductMarkupOverride, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&overrideModel{}).
			Where("product_id = ? AND active", override.ProductID).
			Updates(map[string]any{
				"active":        false,
				"superseded_at": override.CreatedAt,
				"superseded_by": override.ID,
			}).Error; err != nil {
			return err
		}
		override.Active = true
		model := toOverrideModel(override)
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.ProductMarkupOverride{}, wrapErr("overrides.replace", err)
	}
	return override, nil
}

func (r overrideRepository) Deactivate(ctx context.Context, productID string, actor string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&overrideModel{}).
		Where("product_id = ? AND active", productID).
		Updates(map[string]any{"active": false, "superseded_at": at, "superseded_by": actor})
	if res.Error != nil {
		return wrapErr("overrides.deactivate", res.Error)
	}
	if res.RowsAffected == 0 {
		return repositories.NotFound("overrides.deactivate")
	}
	return nil
}

func (r overrideRepository) FindActive(ctx context.Context, productID string) (domain.ProductMarkupOverride, error) {
	var model overrideModel
	if err := r.db.WithContext(ctx).Where("product_id = ? AND active", productID).Take(&model).Error; err != nil {
		return domain.ProductMarkupOverride{}, wrapErr("overrides.find_active", err)
	}
	return toDomainOverride(model), nil
}

func (r overrideRepository) List(ctx context.Context, filter repositories.OverrideFilter) ([]domain.ProductMarkupOverride, error) {
	q := r.db.WithContext(ctx).Model(&overrideModel{})
	if !filter.IncludeRetired {
		q = q.Where("active")
	}
	if filter.ProductID != "" {
		q = q.Where("product_id = ?", filter.ProductID)
	}
	var models []overrideModel
	if err := q.Order("product_id, created_at").Find(&models).Error; err != nil {
		return nil, wrapErr("overrides.list", err)
	}
	out := make([]domain.ProductMarkupOverride, 0, len(models))
	for _, m := range models {
		out = append(out, toDomainOverride(m))
	}
	return out, nil
}

type ledgerRepository struct{ db *gorm.DB }

func (r ledgerRepository) AppendGrant(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, bool, error) {
	model, err := toLedgerEntryModel(entry)
	if err != nil {
		return domain.LedgerEntry{}, false, wrapErr("ledger.append_grant", err)
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "source_type"}, {Name: "source_id"}},
			DoNothing: true,
		}).
		Create(&model)
	if res.Error != nil {
		return domain.LedgerEntry{}, false, wrapErr("ledger.append_grant", res.Error)
	}
	if res.RowsAffected == 1 {
		return entry, true, nil
	}
	stored, err := r.FindByKey(ctx, entry.Key())
	if err != nil {
		return domain.LedgerEntry{}, false, err
	}
	return stored, false, nil
}

func (r ledgerRepository) FindByKey(ctx context.Context, key domain.LedgerKey) (domain.LedgerEntry, error) {
	var model ledgerEntryModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND source_type = ? AND source_id = ?", key.UserID, string(key.SourceType), key.SourceID).
		Take(&model).Error
	if err != nil {
		return domain.LedgerEntry{}, wrapErr("ledger.find_by_key", err)
	}
	return toDomainLedgerEntry(model), nil
}

func (r ledgerRepository) ListByUser(ctx context.Context, userID string, filter repositories.LedgerFilter) (domain.CursorPage[domain.LedgerEntry], error) {
	q := r.db.WithContext(ctx).Model(&ledgerEntryModel{}).Where("user_id = ?", userID)
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	var models []ledgerEntryModel
	size, err := keysetPage(q, filter.Pagination, &models)
	if err != nil {
		return domain.CursorPage[domain.LedgerEntry]{}, wrapErr("ledger.list_by_user", err)
	}
	items := make([]domain.LedgerEntry, 0, len(models))
	for _, m := range models {
		items = append(items, toDomainLedgerEntry(m))
	}
	return trimPage(items, size, func(e domain.LedgerEntry) (time.Time, string) { return e.CreatedAt, e.ID })
}

func (r ledgerRepository) AllByUser(ctx context.Context, userID string) ([]domain.LedgerEntry, error) {
	return allEntries(ctx, r.db, userID, "ledger.all_by_user")
}

func allEntries(ctx context.Context, db *gorm.DB, userID, op string) ([]domain.LedgerEntry, error) {
	var models []ledgerEntryModel
	if err := db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at, id").Find(&models).Error; err != nil {
		return nil, wrapErr(op, err)
	}
	out := make([]domain.LedgerEntry, 0, len(models))
	for _, m := range models {
		out = append(out, toDomainLedgerEntry(m))
	}
	return out, nil
}

// ConfirmMatured claims due rows with SKIP LOCKED so concurrent sweepers never block each other.
func (r ledgerRepository) ConfirmMatured(ctx context.Context, now time.Time, limit int) (int, error) {
	var confirmed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&ledgerEntryModel{}).
			Select("id").
			Where("status = ? AND available_at IS NOT NULL AND available_at <= ?", string(domain.LedgerStatusPending), now).
			Order("available_at").
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if limit > 0 {
			q = q.Limit(limit)
		}
		var ids []string
		if err := q.Find(&ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		res := tx.Model(&ledgerEntryModel{}).Where("id IN ?", ids).Update("status", string(domain.LedgerStatusConfirmed))
		if res.Error != nil {
			return res.Error
		}
		confirmed = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, wrapErr("ledger.confirm_matured", err)
	}
	return int(confirmed), nil
}

type redemptionRepository struct{ db *gorm.DB }

func (r redemptionRepository) FindByID(ctx context.Context, redemptionID string) (domain.Redemption, error) {
	var model redemptionModel
	if err := r.db.WithContext(ctx).Where("id = ?", redemptionID).Take(&model).Error; err != nil {
		return domain.Redemption{}, wrapErr("redemptions.find_by_id", err)
	}
	return toDomainRedemption(model), nil
}

func (r redemptionRepository) ListByUser(ctx context.Context, userID string, filter repositories.RedemptionFilter) (domain.CursorPage[domain.Redemption], error) {
	return r.list(ctx, r.db.WithContext(ctx).Model(&redemptionModel{}).Where("user_id = ?", userID), filter, "redemptions.list_by_user")
}

func (r redemptionRepository) ListByStatus(ctx context.Context, filter repositories.RedemptionFilter) (domain.CursorPage[domain.Redemption], error) {
	return r.list(ctx, r.db.WithContext(ctx).Model(&redemptionModel{}), filter, "redemptions.list_by_status")
}

func (r redemptionRepository) list(_ context.Context, q *gorm.DB, filter repositories.RedemptionFilter, op string) (domain.CursorPage[domain.Redemption], error) {
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Type != "" {
		q = q.Where("type = ?", string(filter.Type))
	}
	var models []redemptionModel
	size, err := keysetPage(q, filter.Pagination, &models)
	if err != nil {
		return domain.CursorPage[domain.Redemption]{}, wrapErr(op, err)
	}
	items := make([]domain.Redemption, 0, len(models))
	for _, m := range models {
		items = append(items, toDomainRedemption(m))
	}
	return trimPage(items, size, func(r domain.Redemption) (time.Time, string) { return r.CreatedAt, r.ID })
}

type voucherRepository struct{ db *gorm.DB }

func (r voucherRepository) FindByCode(ctx context.Context, code string) (domain.Voucher, error) {
	var model voucherModel
	code = strings.ToUpper(strings.TrimSpace(code))
	if err := r.db.WithContext(ctx).Where("code = ?", code).Take(&model).Error; err != nil {
		return domain.Voucher{}, wrapErr("vouchers.find_by_code", err)
	}
	return toDomainVoucher(model), nil
}

func (r voucherRepository) ListByUser(ctx context.Context, userID string) ([]domain.Voucher, error) {
	var models []voucherModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC").Find(&models).Error; err != nil {
		return nil, wrapErr("vouchers.list_by_user", err)
	}
	out := make([]domain.Voucher, 0, len(models))
	for _, m := range models {
		out = append(out, toDomainVoucher(m))
	}
	return out, nil
}

// keysetPage orders newest first and fetches one extra row to detect a further page.
func keysetPage(q *gorm.DB, p domain.Pagination, dest any) (int, error) {
	size := pagination.PageSize(p.PageSize)
	if strings.TrimSpace(p.PageToken) != "" {
		createdAt, id, err := decodeKeyset(p.PageToken)
		if err != nil {
			return 0, err
		}
		q = q.Where("(created_at, id) < (?, ?)", createdAt, id)
	}
	if err := q.Order("created_at DESC, id DESC").Limit(size + 1).Find(dest).Error; err != nil {
		return 0, err
	}
	return size, nil
}

func trimPage[T any](items []T, size int, keyOf func(T) (time.Time, string)) (domain.CursorPage[T], error) {
	if len(items) <= size {
		return domain.CursorPage[T]{Items: items}, nil
	}
	items = items[:size]
	createdAt, id := keyOf(items[len(items)-1])
	token, err := pagination.EncodeKeyset(pagination.Keyset{CreatedAt: createdAt, ID: id})
	if err != nil {
		return domain.CursorPage[T]{}, err
	}
	return domain.CursorPage[T]{Items: items, NextPageToken: token}, nil
}

func decodeKeyset(token string) (time.Time, string, error) {
	k, ok, err := pagination.DecodeKeyset(token)
	if err != nil || !ok {
		return time.Time{}, "", domain.NewValidationError("pageToken", "is invalid")
	}
	return k.CreatedAt, k.ID, nil
}
