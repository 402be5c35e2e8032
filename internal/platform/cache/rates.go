package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/repositories"
)

const keyPrefix = "rewards:rates:"

// missMarker records a cached "no active rule" answer.
var missMarker = []byte("-")

type rateCache struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger
}

func (c rateCache) load(ctx context.Context, key string, dest any) (hit bool, miss bool) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.Warn("rate cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false, false
	}
	if string(raw) == string(missMarker) {
		return true, true
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.Warn("rate cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false, false
	}
	return true, false
}

func (c rateCache) save(ctx context.Context, key string, value any) {
	raw := missMarker
	if value != nil {
		encoded, err := json.Marshal(value)
		if err != nil {
			c.logger.Warn("rate cache encode failed", zap.String("key", key), zap.Error(err))
			return
		}
		raw = encoded
	}
	if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.Warn("rate cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c rateCache) invalidate(ctx context.Context, keys ...string) {
	if err := c.store.Del(ctx, keys...); err != nil {
		c.logger.Error("rate cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func ruleKey(key domain.RateRuleKey) string {
	return fmt.Sprintf("%srule:%s:%s:%s", keyPrefix, key.Kind, key.Platform, key.CategoryKey)
}

func listKey(kind domain.RateKind, platform domain.Platform) string {
	return fmt.Sprintf("%slist:%s:%s", keyPrefix, kind, platform)
}

func overrideKey(productID string) string {
	return keyPrefix + "override:" + productID
}

// RateRules caches the resolver's hot reads of inner. Writes go straight to inner and evict the
// affected keys. Cache failures fall back to inner.
func RateRules(inner repositories.RateRuleRepository, store Store, ttl time.Duration, logger *zap.Logger) repositories.RateRuleRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &cachedRateRules{inner: inner, cache: rateCache{store: store, ttl: ttl, logger: logger}}
}

type cachedRateRules struct {
	inner repositories.RateRuleRepository
	cache rateCache
}

func (r *cachedRateRules) Upsert(ctx context.Context, rule domain.RateRule) (domain.RateRule, error) {
	stored, err := r.inner.Upsert(ctx, rule)
	if err != nil {
		return stored, err
	}
	r.cache.invalidate(ctx, ruleKey(stored.Key()), listKey(stored.Kind, stored.Platform))
	return stored, nil
}

func (r *cachedRateRules) Deactivate(ctx context.Context, key domain.RateRuleKey, actor string, at time.Time) error {
	if err := r.inner.Deactivate(ctx, key, actor, at); err != nil {
		return err
	}
	r.cache.invalidate(ctx, ruleKey(key), listKey(key.Kind, key.Platform))
	return nil
}

func (r *cachedRateRules) FindActive(ctx context.Context, key domain.RateRuleKey) (domain.RateRule, error) {
	cacheKey := ruleKey(key)
	var rule domain.RateRule
	if hit, miss := r.cache.load(ctx, cacheKey, &rule); hit {
		if miss {
			return domain.RateRule{}, repositories.NotFound("rate_rules.find_active")
		}
		return rule, nil
	}
	rule, err := r.inner.FindActive(ctx, key)
	switch {
	case err == nil:
		r.cache.save(ctx, cacheKey, rule)
	case repositories.IsNotFound(err):
		r.cache.save(ctx, cacheKey, nil)
	}
	return rule, err
}

func (r *cachedRateRules) ListActive(ctx context.Context, kind domain.RateKind, platform domain.Platform) ([]domain.RateRule, error) {
	cacheKey := listKey(kind, platform)
	var rules []domain.RateRule
	if hit, _ := r.cache.load(ctx, cacheKey, &rules); hit {
		return rules, nil
	}
	rules, err := r.inner.ListActive(ctx, kind, platform)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []domain.RateRule{}
	}
	r.cache.save(ctx, cacheKey, rules)
	return rules, nil
}

func (r *cachedRateRules) List(ctx context.Context, filter repositories.RateRuleFilter) ([]domain.RateRule, error) {
	return r.inner.List(ctx, filter)
}

// Overrides caches active override lookups of inner.
func Overrides(inner repositories.OverrideRepository, store Store, ttl time.Duration, logger *zap.Logger) repositories.OverrideRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &cachedOverrides{inner: inner, cache: rateCache{store: store, ttl: ttl, logger: logger}}
}

type cachedOverrides struct {
	inner repositories.OverrideRepository
	cache rateCache
}

func (r *cachedOverrides) Replace(ctx context.Context, override domain.ProductMarkupOverride) (domain.ProductMarkupOverride, error) {
	stored, err := r.inner.Replace(ctx, override)
	if err != nil {
		return stored, err
	}
	r.cache.invalidate(ctx, overrideKey(stored.ProductID))
	return stored, nil
}

func (r *cachedOverrides) Deactivate(ctx context.Context, productID string, actor string, at time.Time) error {
	if err := r.inner.Deactivate(ctx, productID, actor, at); err != nil {
		return err
	}
	r.cache.invalidate(ctx, overrideKey(productID))
	return nil
}

func (r *cachedOverrides) FindActive(ctx context.Context, productID string) (domain.ProductMarkupOverride, error) {
	cacheKey := overrideKey(productID)
	var override domain.ProductMarkupOverride
	if hit, miss := r.cache.load(ctx, cacheKey, &override); hit {
		if miss {
			return domain.ProductMarkupOverride{}, repositories.NotFound("overrides.find_active")
		}
		return override, nil
	}
	override, err := r.inner.FindActive(ctx, productID)
	switch {
	case err == nil:
		r.cache.save(ctx, cacheKey, override)
	case repositories.IsNotFound(err):
		r.cache.save(ctx, cacheKey, nil)
	}
	return override, err
}

func (r *cachedOverrides) List(ctx context.Context, filter repositories.OverrideFilter) ([]domain.ProductMarkupOverride, error) {
	return r.inner.List(ctx, filter)
}
