package postgres

import (
	"bytes"
	"encoding/json"

	domain "github.com/hanko-field/rewards/internal/domain"
)

func encodeJSON(values map[string]any) (*string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	encoded := string(raw)
	return &encoded, nil
}

func decodeJSON(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader([]byte(*raw)))
	decoder.UseNumber()
	var out map[string]any
	if err := decoder.Decode(&out); err != nil {
		return nil
	}
	return out
}

func toRateRuleModel(rule domain.RateRule) rateRuleModel {
	return rateRuleModel{
		ID:              rule.ID,
		Kind:            string(rule.Kind),
		Platform:        string(rule.Platform),
		CategoryName:    rule.CategoryName,
		CategoryKey:     rule.CategoryKey,
		Rate:            rule.Rate,
		IsPromotional:   rule.IsPromotional,
		PromotionalRate: rule.PromotionalRate,
		PromoStartsAt:   rule.PromoStartsAt,
		PromoEndsAt:     rule.PromoEndsAt,
		Source:          string(rule.Source),
		Active:          rule.Active,
		UpdatedBy:       rule.UpdatedBy,
		CreatedAt:       rule.CreatedAt,
		UpdatedAt:       rule.UpdatedAt,
	}
}

func toDomainRateRule(m rateRuleModel) domain.RateRule {
	return domain.RateRule{
		ID:              m.ID,
		Kind:            domain.RateKind(m.Kind),
		Platform:        domain.Platform(m.Platform),
		CategoryName:    m.CategoryName,
		CategoryKey:     m.CategoryKey,
		Rate:            m.Rate,
		IsPromotional:   m.IsPromotional,
		PromotionalRate: m.PromotionalRate,
		PromoStartsAt:   utcPtr(m.PromoStartsAt),
		PromoEndsAt:     utcPtr(m.PromoEndsAt),
		Source:          domain.RuleSource(m.Source),
		Active:          m.Active,
		UpdatedBy:       m.UpdatedBy,
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
}

func toOverrideModel(o domain.ProductMarkupOverride) overrideModel {
	return overrideModel{
		ID:           o.ID,
		ProductID:    o.ProductID,
		Rate:         o.Rate,
		Reason:       o.Reason,
		Active:       o.Active,
		CreatedBy:    o.CreatedBy,
		CreatedAt:    o.CreatedAt,
		SupersededAt: o.SupersededAt,
		SupersededBy: o.SupersededBy,
	}
}

func toDomainOverride(m overrideModel) domain.ProductMarkupOverride {
	return domain.ProductMarkupOverride{
		ID:           m.ID,
		ProductID:    m.ProductID,
		Rate:         m.Rate,
		Reason:       m.Reason,
		Active:       m.Active,
		CreatedBy:    m.CreatedBy,
		CreatedAt:    m.CreatedAt.UTC(),
		SupersededAt: utcPtr(m.SupersededAt),
		SupersededBy: m.SupersededBy,
	}
}

func toLedgerEntryModel(e domain.LedgerEntry) (ledgerEntryModel, error) {
	metadata, err := encodeJSON(e.Metadata)
	if err != nil {
		return ledgerEntryModel{}, err
	}
	return ledgerEntryModel{
		ID:          e.ID,
		UserID:      e.UserID,
		SourceType:  string(e.SourceType),
		SourceID:    e.SourceID,
		ProductType: string(e.ProductType),
		AmountCents: e.AmountCents,
		Points:      e.Points,
		Status:      string(e.Status),
		AvailableAt: e.AvailableAt,
		Metadata:    metadata,
		CreatedAt:   e.CreatedAt,
	}, nil
}

func toDomainLedgerEntry(m ledgerEntryModel) domain.LedgerEntry {
	return domain.LedgerEntry{
		ID:          m.ID,
		UserID:      m.UserID,
		SourceType:  domain.SourceType(m.SourceType),
		SourceID:    m.SourceID,
		ProductType: domain.ProductType(m.ProductType),
		AmountCents: m.AmountCents,
		Points:      m.Points,
		Status:      domain.LedgerStatus(m.Status),
		AvailableAt: utcPtr(m.AvailableAt),
		Metadata:    decodeJSON(m.Metadata),
		CreatedAt:   m.CreatedAt.UTC(),
	}
}

func toRedemptionModel(r domain.Redemption) (redemptionModel, error) {
	target, err := encodeJSON(r.Target)
	if err != nil {
		return redemptionModel{}, err
	}
	return redemptionModel{
		ID:              r.ID,
		UserID:          r.UserID,
		Type:            string(r.Type),
		AmountCents:     r.AmountCents,
		FeeCents:        r.FeeCents,
		PayoutCents:     r.PayoutCents,
		Status:          string(r.Status),
		Target:          target,
		Provider:        r.Provider,
		ProviderRef:     r.ProviderRef,
		ReviewedBy:      r.ReviewedBy,
		RejectionReason: r.RejectionReason,
		VoucherCode:     r.VoucherCode,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ProcessedAt:     r.ProcessedAt,
	}, nil
}

func toDomainRedemption(m redemptionModel) domain.Redemption {
	return domain.Redemption{
		ID:              m.ID,
		UserID:          m.UserID,
		Type:            domain.RedemptionType(m.Type),
		AmountCents:     m.AmountCents,
		FeeCents:        m.FeeCents,
		PayoutCents:     m.PayoutCents,
		Status:          domain.RedemptionStatus(m.Status),
		Target:          decodeJSON(m.Target),
		Provider:        m.Provider,
		ProviderRef:     m.ProviderRef,
		ReviewedBy:      m.ReviewedBy,
		RejectionReason: m.RejectionReason,
		VoucherCode:     m.VoucherCode,
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
		ProcessedAt:     utcPtr(m.ProcessedAt),
	}
}

func toVoucherModel(v domain.Voucher) voucherModel {
	return voucherModel{
		ID:           v.ID,
		UserID:       v.UserID,
		Code:         v.Code,
		AmountCents:  v.AmountCents,
		Status:       string(v.Status),
		RedemptionID: v.RedemptionID,
		CreatedAt:    v.CreatedAt,
		ExpiresAt:    v.ExpiresAt,
	}
}

func toDomainVoucher(m voucherModel) domain.Voucher {
	return domain.Voucher{
		ID:           m.ID,
		UserID:       m.UserID,
		Code:         m.Code,
		AmountCents:  m.AmountCents,
		Status:       domain.VoucherStatus(m.Status),
		RedemptionID: m.RedemptionID,
		CreatedAt:    m.CreatedAt.UTC(),
		ExpiresAt:    utcPtr(m.ExpiresAt),
	}
}
