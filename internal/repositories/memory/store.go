// Package memory provides an in-process implementation of the rewards repositories.
// It backs local development and the service test suites.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/platform/pagination"
	"github.com/hanko-field/rewards/internal/repositories"
)

// Store keeps every rewards collection in memory. The zero value is not usable; call New.
type Store struct {
	mu          sync.RWMutex
	rules       []domain.RateRule
	overrides   []domain.ProductMarkupOverride
	entries     []domain.LedgerEntry
	entryKeys   map[domain.LedgerKey]int
	redemptions map[string]domain.Redemption
	vouchers    map[string]domain.Voucher

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

var _ repositories.Registry = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		entryKeys:   make(map[domain.LedgerKey]int),
		redemptions: make(map[string]domain.Redemption),
		vouchers:    make(map[string]domain.Voucher),
		locks:       make(map[string]*sync.Mutex),
	}
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) RateRules() repositories.RateRuleRepository    { return rateRuleRepository{s} }
func (s *Store) Overrides() repositories.OverrideRepository    { return overrideRepository{s} }
func (s *Store) Ledger() repositories.LedgerRepository         { return ledgerRepository{s} }
func (s *Store) Redemptions() repositories.RedemptionRepository { return redemptionRepository{s} }
func (s *Store) Vouchers() repositories.VoucherRepository       { return voucherRepository{s} }
func (s *Store) Accounts() repositories.AccountLocker           { return accountLocker{s} }

// Health reports the in-memory backend as always ready.
func (s *Store) Health() repositories.HealthRepository {
	repo, _ := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:  "memory",
		Check: func(ctx context.Context) error { return ctx.Err() },
	}})
	return repo
}

type rateRuleRepository struct{ s *Store }

func (r rateRuleRepository) Upsert(_ context.Context, rule domain.RateRule) (domain.RateRule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := rule.Key()
	for i := range r.s.rules {
		existing := &r.s.rules[i]
		if existing.Active && existing.Key() == key {
			existing.Active = false
			existing.UpdatedAt = rule.UpdatedAt
			existing.UpdatedBy = rule.UpdatedBy
			rule.CreatedAt = existing.CreatedAt
		}
	}
	rule.Active = true
	r.s.rules = append(r.s.rules, rule)
	return rule, nil
}

func (r rateRuleRepository) Deactivate(_ context.Context, key domain.RateRuleKey, actor string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.rules {
		rule := &r.s.rules[i]
		if rule.Active && rule.Key() == key {
			rule.Active = false
			rule.UpdatedBy = actor
			rule.UpdatedAt = at
			return nil
		}
	}
	return repositories.NotFound("rate_rules.deactivate")
}

func (r rateRuleRepository) FindActive(_ context.Context, key domain.RateRuleKey) (domain.RateRule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, rule := range r.s.rules {
		if rule.Active && rule.Key() == key {
			return rule, nil
		}
	}
	return domain.RateRule{}, repositories.NotFound("rate_rules.find_active")
}

func (r rateRuleRepository) ListActive(ctx context.Context, kind domain.RateKind, platform domain.Platform) ([]domain.RateRule, error) {
	return r.List(ctx, repositories.RateRuleFilter{Kind: kind, Platform: platform})
}

func (r rateRuleRepository) List(_ context.Context, filter repositories.RateRuleFilter) ([]domain.RateRule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.RateRule
	for _, rule := range r.s.rules {
		if !rule.Active && !filter.IncludeRetired {
			continue
		}
		if filter.Kind != "" && rule.Kind != filter.Kind {
			continue
		}
		if filter.Platform != "" && rule.Platform != filter.Platform {
			continue
		}
		out = append(out, rule)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].CategoryKey < out[j].CategoryKey
	})
	return out, nil
}

type overrideRepository struct{ s *Store }

func (r overrideRepository) Replace(_ context.Context, override domain.ProductMarkupOverride) (domain.ProductMarkupOverride, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.overrides {
		existing := &r.s.overrides[i]
		if existing.Active && existing.ProductID == override.ProductID {
			at := override.CreatedAt
			existing.Active = false
			existing.SupersededAt = &at
			existing.SupersededBy = override.ID
		}
	}
	override.Active = true
	r.s.overrides = append(r.s.overrides, override)
	return override, nil
}

func (r overrideRepository) Deactivate(_ context.Context, productID string, actor string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.overrides {
		existing := &r.s.overrides[i]
		if existing.Active && existing.ProductID == productID {
			existing.Active = false
			existing.SupersededAt = &at
			existing.SupersededBy = actor
			return nil
		}
	}
	return repositories.NotFound("overrides.deactivate")
}

func (r overrideRepository) FindActive(_ context.Context, productID string) (domain.ProductMarkupOverride, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, override := range r.s.overrides {
		if override.Active && override.ProductID == productID {
			return override, nil
		}
	}
	return domain.ProductMarkupOverride{}, repositories.NotFound("overrides.find_active")
}

func (r overrideRepository) List(_ context.Context, filter repositories.OverrideFilter) ([]domain.ProductMarkupOverride, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.ProductMarkupOverride
	for _, override := range r.s.overrides {
		if !override.Active && !filter.IncludeRetired {
			continue
		}
		if filter.ProductID != "" && override.ProductID != filter.ProductID {
			continue
		}
		out = append(out, override)
	}
	return out, nil
}

type ledgerRepository struct{ s *Store }

func (r ledgerRepository) AppendGrant(_ context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if idx, ok := r.s.entryKeys[entry.Key()]; ok {
		return r.s.entries[idx], false, nil
	}
	r.s.appendEntryLocked(entry)
	return entry, true, nil
}

func (s *Store) appendEntryLocked(entry domain.LedgerEntry) {
	s.entries = append(s.entries, entry)
	s.entryKeys[entry.Key()] = len(s.entries) - 1
}

func (r ledgerRepository) FindByKey(_ context.Context, key domain.LedgerKey) (domain.LedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if idx, ok := r.s.entryKeys[key]; ok {
		return r.s.entries[idx], nil
	}
	return domain.LedgerEntry{}, repositories.NotFound("ledger.find_by_key")
}

func (r ledgerRepository) ListByUser(_ context.Context, userID string, filter repositories.LedgerFilter) (domain.CursorPage[domain.LedgerEntry], error) {
	r.s.mu.RLock()
	var items []domain.LedgerEntry
	for _, entry := range r.s.entries {
		if entry.UserID != userID {
			continue
		}
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		items = append(items, entry)
	}
	r.s.mu.RUnlock()

	sort.SliceStable(items, func(i, j int) bool {
		return newerFirst(items[i].CreatedAt, items[i].ID, items[j].CreatedAt, items[j].ID)
	})
	return page(items, filter.Pagination, func(e domain.LedgerEntry) string { return e.ID })
}

func (r ledgerRepository) AllByUser(_ context.Context, userID string) ([]domain.LedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.entriesForLocked(userID), nil
}

func (s *Store) entriesForLocked(userID string) []domain.LedgerEntry {
	var out []domain.LedgerEntry
	for _, entry := range s.entries {
		if entry.UserID == userID {
			out = append(out, entry)
		}
	}
	return out
}

func (r ledgerRepository) ConfirmMatured(ctx context.Context, now time.Time, limit int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	confirmed := 0
	for i := range r.s.entries {
		if limit > 0 && confirmed >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return confirmed, err
		}
		entry := &r.s.entries[i]
		if entry.Status != domain.LedgerStatusPending || entry.AvailableAt == nil || entry.AvailableAt.After(now) {
			continue
		}
		entry.Status = domain.LedgerStatusConfirmed
		confirmed++
	}
	return confirmed, nil
}

type redemptionRepository struct{ s *Store }

func (r redemptionRepository) FindByID(_ context.Context, redemptionID string) (domain.Redemption, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	redemption, ok := r.s.redemptions[redemptionID]
	if !ok {
		return domain.Redemption{}, repositories.NotFound("redemptions.find_by_id")
	}
	return redemption, nil
}

func (r redemptionRepository) ListByUser(_ context.Context, userID string, filter repositories.RedemptionFilter) (domain.CursorPage[domain.Redemption], error) {
	return r.list(func(redemption domain.Redemption) bool {
		return redemption.UserID == userID && matchesRedemption(redemption, filter)
	}, filter.Pagination)
}

func (r redemptionRepository) ListByStatus(_ context.Context, filter repositories.RedemptionFilter) (domain.CursorPage[domain.Redemption], error) {
	return r.list(func(redemption domain.Redemption) bool {
		return matchesRedemption(redemption, filter)
	}, filter.Pagination)
}

func (r redemptionRepository) list(match func(domain.Redemption) bool, p domain.Pagination) (domain.CursorPage[domain.Redemption], error) {
	r.s.mu.RLock()
	var items []domain.Redemption
	for _, redemption := range r.s.redemptions {
		if match(redemption) {
			items = append(items, redemption)
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		return newerFirst(items[i].CreatedAt, items[i].ID, items[j].CreatedAt, items[j].ID)
	})
	return page(items, p, func(r domain.Redemption) string { return r.ID })
}

func matchesRedemption(redemption domain.Redemption, filter repositories.RedemptionFilter) bool {
	if filter.Status != "" && redemption.Status != filter.Status {
		return false
	}
	if filter.Type != "" && redemption.Type != filter.Type {
		return false
	}
	return true
}

type voucherRepository struct{ s *Store }

func (r voucherRepository) FindByCode(_ context.Context, code string) (domain.Voucher, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, voucher := range r.s.vouchers {
		if voucher.Code == code {
			return voucher, nil
		}
	}
	return domain.Voucher{}, repositories.NotFound("vouchers.find_by_code")
}

func (r voucherRepository) ListByUser(_ context.Context, userID string) ([]domain.Voucher, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Voucher
	for _, voucher := range r.s.vouchers {
		if voucher.UserID == userID {
			out = append(out, voucher)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID)
	})
	return out, nil
}

func newerFirst(a time.Time, aID string, b time.Time, bID string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return aID > bID
}

// page slices a sorted listing using an opaque token that names the last returned item.
func page[T any](items []T, p domain.Pagination, idOf func(T) string) (domain.CursorPage[T], error) {
	size := pagination.PageSize(p.PageSize)
	start := 0
	if strings.TrimSpace(p.PageToken) != "" {
		cursor, err := pagination.DecodeToken(p.PageToken)
		if err != nil || len(cursor.StartAfter) != 1 {
			return domain.CursorPage[T]{}, domain.NewValidationError("pageToken", "is invalid")
		}
		last, _ := cursor.StartAfter[0].(string)
		start = -1
		for i, item := range items {
			if idOf(item) == last {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return domain.CursorPage[T]{}, domain.NewValidationError("pageToken", "is invalid")
		}
	}

	end := start + size
	if end > len(items) {
		end = len(items)
	}
	result := domain.CursorPage[T]{Items: append([]T(nil), items[start:end]...)}
	if end < len(items) && end > start {
		token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{idOf(items[end-1])}})
		if err != nil {
			return domain.CursorPage[T]{}, err
		}
		result.NextPageToken = token
	}
	return result, nil
}
