// Package firestore implements the rewards repositories on Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/platform/pagination"
	pfirestore "github.com/hanko-field/rewards/internal/platform/firestore"
	"github.com/hanko-field/rewards/internal/repositories"
)

const (
	maxSweepBatch  = 400
	sweepTxTimeout = time.Minute

	// Every grant and redemption for a user contends on one account document.
	accountTxAttempts = 10
)

// Store is the Firestore repositories.Registry.
type Store struct {
	provider    *pfirestore.Provider
	rules       *pfirestore.Collection[rateRuleDocument]
	overrides   *pfirestore.Collection[overrideDocument]
	ledger      *pfirestore.Collection[ledgerEntryDocument]
	redemptions *pfirestore.Collection[redemptionDocument]
	vouchers    *pfirestore.Collection[voucherDocument]
	accounts    *pfirestore.Collection[accountDocument]
	now         func() time.Time
}

var _ repositories.Registry = (*Store)(nil)

// NewStore binds the rewards collections to the provider.
func NewStore(provider *pfirestore.Provider) (*Store, error) {
	if provider == nil {
		return nil, errors.New("firestore store requires firestore provider")
	}
	return &Store{
		provider:    provider,
		rules:       pfirestore.NewCollection[rateRuleDocument](provider, rateRulesCollection),
		overrides:   pfirestore.NewCollection[overrideDocument](provider, overridesCollection),
		ledger:      pfirestore.NewCollection[ledgerEntryDocument](provider, ledgerCollection),
		redemptions: pfirestore.NewCollection[redemptionDocument](provider, redemptionsCollection),
		vouchers:    pfirestore.NewCollection[voucherDocument](provider, vouchersCollection),
		accounts:    pfirestore.NewCollection[accountDocument](provider, accountsCollection),
		now:         time.Now,
	}, nil
}

func (s *Store) Close(ctx context.Context) error { return s.provider.Close(ctx) }

func (s *Store) RateRules() repositories.RateRuleRepository    { return rateRuleRepository{s} }
func (s *Store) Overrides() repositories.OverrideRepository    { return overrideRepository{s} }
func (s *Store) Ledger() repositories.LedgerRepository         { return ledgerRepository{s} }
func (s *Store) Redemptions() repositories.RedemptionRepository { return redemptionRepository{s} }
func (s *Store) Vouchers() repositories.VoucherRepository       { return voucherRepository{s} }
func (s *Store) Accounts() repositories.AccountLocker           { return accountLocker{s} }

// Health probes Firestore with a single document read.
func (s *Store) Health() repositories.HealthRepository {
	repo, _ := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:  "firestore",
		Check: func(ctx context.Context) error { return s.provider.Ping(ctx, accountsCollection) },
	}})
	return repo
}

type rateRuleRepository struct{ s *Store }

func activeRuleQuery(coll *firestore.CollectionRef, key domain.RateRuleKey) firestore.Query {
	return coll.Where("kind", "==", string(key.Kind)).
		Where("platform", "==", string(key.Platform)).
		Where("categoryKey", "==", key.CategoryKey).
		Where("active", "==", true)
}

func (r rateRuleRepository) Upsert(ctx context.Context, rule domain.RateRule) (domain.RateRule, error) {
	coll, err := r.s.rules.Ref(ctx)
	if err != nil {
		return domain.RateRule{}, err
	}
	err = r.s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(activeRuleQuery(coll, rule.Key())).GetAll()
		if err != nil {
			return err
		}
		stored := rule
		for _, snap := range snaps {
			existing, err := pfirestore.Decode[rateRuleDocument](snap)
			if err != nil {
				return err
			}
			stored.CreatedAt = existing.CreatedAt
			if err := tx.Update(snap.Ref, []firestore.Update{
				{Path: "active", Value: false},
				{Path: "updatedBy", Value: rule.UpdatedBy},
				{Path: "updatedAt", Value: rule.UpdatedAt.UTC()},
			}); err != nil {
				return err
			}
		}
		stored.Active = true
		rule = stored
		return tx.Create(coll.Doc(rule.ID), toRateRuleDocument(rule))
	})
	if err != nil {
		return domain.RateRule{}, pfirestore.WrapError(r.s.rules.Op("upsert"), err)
	}
	return rule, nil
}

func (r rateRuleRepository) Deactivate(ctx context.Context, key domain.RateRuleKey, actor string, at time.Time) error {
	coll, err := r.s.rules.Ref(ctx)
	if err != nil {
		return err
	}
	err = r.s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(activeRuleQuery(coll, key)).GetAll()
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			return repositories.NotFound(r.s.rules.Op("deactivate"))
		}
		for _, snap := range snaps {
			if err := tx.Update(snap.Ref, []firestore.Update{
				{Path: "active", Value: false},
				{Path: "updatedBy", Value: actor},
				{Path: "updatedAt", Value: at.UTC()},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return pfirestore.WrapError(r.s.rules.Op("deactivate"), err)
}

func (r rateRuleRepository) FindActive(ctx context.Context, key domain.RateRuleKey) (domain.RateRule, error) {
	docs, err := r.s.rules.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("kind", "==", string(key.Kind)).
			Where("platform", "==", string(key.Platform)).
			Where("categoryKey", "==", key.CategoryKey).
			Where("active", "==", true).
			Limit(1)
	})
	if err != nil {
		return domain.RateRule{}, err
	}
	if len(docs) == 0 {
		return domain.RateRule{}, repositories.NotFound(r.s.rules.Op("find_active"))
	}
	return docs[0].toDomain(), nil
}

func (r rateRuleRepository) ListActive(ctx context.Context, kind domain.RateKind, platform domain.Platform) ([]domain.RateRule, error) {
	return r.List(ctx, repositories.RateRuleFilter{Kind: kind, Platform: platform})
}

func (r rateRuleRepository) List(ctx context.Context, filter repositories.RateRuleFilter) ([]domain.RateRule, error) {
	docs, err := r.s.rules.Query(ctx, func(q firestore.Query) firestore.Query {
		if !filter.IncludeRetired {
			q = q.Where("active", "==", true)
		}
		if filter.Kind != "" {
			q = q.Where("kind", "==", string(filter.Kind))
		}
		if filter.Platform != "" {
			q = q.Where("platform", "==", string(filter.Platform))
		}
		return q.OrderBy("kind", firestore.Asc).OrderBy("platform", firestore.Asc).OrderBy("categoryKey", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.RateRule, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

type overrideRepository struct{ s *Store }

func activeOverrideQuery(coll *firestore.CollectionRef, productID string) firestore.Query {
	return coll.Where("productId", "==", productID).Where("active", "==", true)
}

func (r overrideRepository) Replace(ctx context.Context, override domain.ProductMarkupOverride) (domain.ProductMarkupOverride, error) {
	coll, err := r.s.overrides.Ref(ctx)
	if err != nil {
		return domain.ProductMarkupOverride{}, err
	}
	override.Active = true
	err = r.s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(activeOverrideQuery(coll, override.ProductID)).GetAll()
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			if err := tx.Update(snap.Ref, []firestore.Update{
				{Path: "active", Value: false},
				{Path: "supersededAt", Value: override.CreatedAt.UTC()},
				{Path: "supersededBy", Value: override.ID},
			}); err != nil {
				return err
			}
		}
		return tx.Create(coll.Doc(override.ID), toOverrideDocument(override))
	})
	if err != nil {
		return domain.ProductMarkupOverride{}, pfirestore.WrapError(r.s.overrides.Op("replace"), err)
	}
	return override, nil
}

func (r overrideRepository) Deactivate(ctx context.Context, productID string, actor string, at time.Time) error {
	coll, err := r.s.overrides.Ref(ctx)
	if err != nil {
		return err
	}
	err = r.s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.Documents(activeOverrideQuery(coll, productID)).GetAll()
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			return repositories.NotFound(r.s.overrides.Op("deactivate"))
		}
		for _, snap := range snaps {
			if err := tx.Update(snap.Ref, []firestore.Update{
				{Path: "active", Value: false},
				{Path: "supersededAt", Value: at.UTC()},
				{Path: "supersededBy", Value: actor},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return pfirestore.WrapError(r.s.overrides.Op("deactivate"), err)
}

func (r overrideRepository) FindActive(ctx context.Context, productID string) (domain.ProductMarkupOverride, error) {
	docs, err := r.s.overrides.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("productId", "==", productID).Where("active", "==", true).Limit(1)
	})
	if err != nil {
		return domain.ProductMarkupOverride{}, err
	}
	if len(docs) == 0 {
		return domain.ProductMarkupOverride{}, repositories.NotFound(r.s.overrides.Op("find_active"))
	}
	return docs[0].toDomain(), nil
}

func (r overrideRepository) List(ctx context.Context, filter repositories.OverrideFilter) ([]domain.ProductMarkupOverride, error) {
	docs, err := r.s.overrides.Query(ctx, func(q firestore.Query) firestore.Query {
		if !filter.IncludeRetired {
			q = q.Where("active", "==", true)
		}
		if filter.ProductID != "" {
			q = q.Where("productId", "==", filter.ProductID)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProductMarkupOverride, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

type ledgerRepository struct{ s *Store }

// AppendGrant creates the entry under its key-derived document ID; a create that loses to an
// existing document returns the stored entry.
func (r ledgerRepository) AppendGrant(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, bool, error) {
	ref, err := r.s.ledger.Doc(ctx, ledgerDocumentID(entry.Key()))
	if err != nil {
		return domain.LedgerEntry{}, false, err
	}
	if _, err := ref.Create(ctx, toLedgerEntryDocument(entry)); err != nil {
		if !pfirestore.IsAlreadyExists(err) {
			return domain.LedgerEntry{}, false, pfirestore.WrapError(r.s.ledger.Op("append_grant"), err)
		}
		stored, err := r.FindByKey(ctx, entry.Key())
		if err != nil {
			return domain.LedgerEntry{}, false, err
		}
		return stored, false, nil
	}
	return entry, true, nil
}

func (r ledgerRepository) FindByKey(ctx context.Context, key domain.LedgerKey) (domain.LedgerEntry, error) {
	doc, err := r.s.ledger.Get(ctx, ledgerDocumentID(key))
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	return doc.toDomain(), nil
}

func (r ledgerRepository) ListByUser(ctx context.Context, userID string, filter repositories.LedgerFilter) (domain.CursorPage[domain.LedgerEntry], error) {
	size := pagination.PageSize(filter.Pagination.PageSize)
	after, err := decodeKeyset(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.LedgerEntry]{}, err
	}
	docs, err := r.s.ledger.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", userID)
		if filter.Status != "" {
			q = q.Where("status", "==", string(filter.Status))
		}
		return keysetQuery(q, after, size)
	})
	if err != nil {
		return domain.CursorPage[domain.LedgerEntry]{}, err
	}
	items := make([]domain.LedgerEntry, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.toDomain())
	}
	return trimPage(items, size, func(e domain.LedgerEntry) (time.Time, string) { return e.CreatedAt, e.ID })
}

func (r ledgerRepository) AllByUser(ctx context.Context, userID string) ([]domain.LedgerEntry, error) {
	docs, err := r.s.ledger.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).OrderBy("createdAt", firestore.Asc).OrderBy("id", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	return ledgerEntries(docs), nil
}

// ConfirmMatured flips due entries inside one transaction; a concurrent sweeper touching the
// same documents forces a retry rather than a double update.
func (r ledgerRepository) ConfirmMatured(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 || limit > maxSweepBatch {
		limit = maxSweepBatch
	}
	coll, err := r.s.ledger.Ref(ctx)
	if err != nil {
		return 0, err
	}
	query := coll.Where("status", "==", string(domain.LedgerStatusPending)).
		Where("availableAt", "<=", now.UTC()).
		OrderBy("availableAt", firestore.Asc).
		Limit(limit)

	confirmed := 0
	err = r.s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		confirmed = 0
		snaps, err := tx.Documents(query).GetAll()
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			if err := tx.Update(snap.Ref, []firestore.Update{{Path: "status", Value: string(domain.LedgerStatusConfirmed)}}); err != nil {
				return err
			}
			confirmed++
		}
		return nil
	}, pfirestore.WithTxTimeout(sweepTxTimeout))
	if err != nil {
		return 0, pfirestore.WrapError(r.s.ledger.Op("confirm_matured"), err)
	}
	return confirmed, nil
}

func ledgerEntries(docs []ledgerEntryDocument) []domain.LedgerEntry {
	out := make([]domain.LedgerEntry, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out
}

type redemptionRepository struct{ s *Store }

func (r redemptionRepository) FindByID(ctx context.Context, redemptionID string) (domain.Redemption, error) {
	doc, err := r.s.redemptions.Get(ctx, redemptionID)
	if err != nil {
		return domain.Redemption{}, err
	}
	return doc.toDomain(), nil
}

func (r redemptionRepository) ListByUser(ctx context.Context, userID string, filter repositories.RedemptionFilter) (domain.CursorPage[domain.Redemption], error) {
	return r.list(ctx, userID, filter)
}

func (r redemptionRepository) ListByStatus(ctx context.Context, filter repositories.RedemptionFilter) (domain.CursorPage[domain.Redemption], error) {
	return r.list(ctx, "", filter)
}

func (r redemptionRepository) list(ctx context.Context, userID string, filter repositories.RedemptionFilter) (domain.CursorPage[domain.Redemption], error) {
	size := pagination.PageSize(filter.Pagination.PageSize)
	after, err := decodeKeyset(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Redemption]{}, err
	}
	docs, err := r.s.redemptions.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if filter.Status != "" {
			q = q.Where("status", "==", string(filter.Status))
		}
		if filter.Type != "" {
			q = q.Where("type", "==", string(filter.Type))
		}
		return keysetQuery(q, after, size)
	})
	if err != nil {
		return domain.CursorPage[domain.Redemption]{}, err
	}
	items := make([]domain.Redemption, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.toDomain())
	}
	return trimPage(items, size, func(r domain.Redemption) (time.Time, string) { return r.CreatedAt, r.ID })
}

type voucherRepository struct{ s *Store }

func (r voucherRepository) FindByCode(ctx context.Context, code string) (domain.Voucher, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	docs, err := r.s.vouchers.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Voucher{}, err
	}
	if len(docs) == 0 {
		return domain.Voucher{}, repositories.NotFound(r.s.vouchers.Op("find_by_code"))
	}
	return docs[0].toDomain(), nil
}

func (r voucherRepository) ListByUser(ctx context.Context, userID string) ([]domain.Voucher, error) {
	docs, err := r.s.vouchers.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).OrderBy("createdAt", firestore.Desc).OrderBy("id", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Voucher, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toDomain())
	}
	return out, nil
}

type keyset struct {
	createdAt time.Time
	id        string
}

// keysetQuery orders newest first and fetches one extra document to detect a further page.
func keysetQuery(q firestore.Query, after *keyset, size int) firestore.Query {
	q = q.OrderBy("createdAt", firestore.Desc).OrderBy("id", firestore.Desc)
	if after != nil {
		q = q.StartAfter(after.createdAt, after.id)
	}
	return q.Limit(size + 1)
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

func decodeKeyset(token string) (*keyset, error) {
	k, ok, err := pagination.DecodeKeyset(token)
	if err != nil {
		return nil, domain.NewValidationError("pageToken", "is invalid")
	}
	if !ok {
		return nil, nil
	}
	return &keyset{createdAt: k.CreatedAt, id: k.ID}, nil
}
