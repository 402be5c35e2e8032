package policy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/platform/storage"
	"github.com/hanko-field/rewards/internal/platform/textutil"
)

// ObjectReader fetches policy documents stored in Cloud Storage.
type ObjectReader interface {
	ReadObject(ctx context.Context, location storage.Location) ([]byte, error)
}

type loadOptions struct {
	objects  ObjectReader
	readFile func(string) ([]byte, error)
}

// LoadOption customises policy loading.
type LoadOption func(*loadOptions)

// WithObjectReader enables gs:// sources.
func WithObjectReader(reader ObjectReader) LoadOption {
	return func(o *loadOptions) {
		o.objects = reader
	}
}

// WithFileReader overrides how local files are read.
func WithFileReader(fn func(string) ([]byte, error)) LoadOption {
	return func(o *loadOptions) {
		if fn != nil {
			o.readFile = fn
		}
	}
}

// Load reads a YAML policy from a local path or gs:// URL and merges it over Default.
// An empty source returns the validated default policy.
func Load(ctx context.Context, source string, opts ...LoadOption) (Policy, error) {
	options := loadOptions{readFile: os.ReadFile}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	source = strings.TrimSpace(source)
	if source == "" {
		base := Default()
		return base, base.Validate()
	}

	var (
		data []byte
		err  error
	)
	if storage.IsObjectURL(source) {
		if options.objects == nil {
			return Policy{}, fmt.Errorf("policy: %s requires a storage reader", source)
		}
		location, parseErr := storage.ParseLocation(source)
		if parseErr != nil {
			return Policy{}, fmt.Errorf("policy: %w", parseErr)
		}
		data, err = options.objects.ReadObject(ctx, location)
	} else {
		data, err = options.readFile(source)
	}
	if err != nil {
		return Policy{}, fmt.Errorf("policy: read %s: %w", source, err)
	}
	return Parse(data)
}

// Parse decodes a YAML policy document and merges it over Default.
func Parse(data []byte) (Policy, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Policy{}, ErrEmptySource
	}
	var doc document
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return Policy{}, fmt.Errorf("policy: decode: %w", err)
	}

	merged, err := doc.apply(Default())
	if err != nil {
		return Policy{}, err
	}
	if err := merged.Validate(); err != nil {
		return Policy{}, err
	}
	return merged, nil
}

type document struct {
	OperatingBufferCents *int64                       `yaml:"operatingBufferCents"`
	MinRewardCents       *int64                       `yaml:"minRewardCents"`
	MaxRewardCents       *int64                       `yaml:"maxRewardCents"`
	PointsPerCent        *int64                       `yaml:"pointsPerCent"`
	Tiers                []tierDocument               `yaml:"tiers"`
	CoolingOffDays       map[string]int               `yaml:"coolingOffDays"`
	FlatRates            map[string]string            `yaml:"flatRates"`
	FallbackRates        map[string]string            `yaml:"fallbackRates"`
	IndustryRates        map[string]map[string]string `yaml:"industryRates"`
	Dropship             *dropshipDocument            `yaml:"dropship"`
	Redemption           *redemptionDocument          `yaml:"redemption"`
}

type tierDocument struct {
	MinCents int64  `yaml:"minCents"`
	MaxCents *int64 `yaml:"maxCents"`
	Percent  string `yaml:"percent"`
}

type dropshipDocument struct {
	AllowEstimatedCost *bool   `yaml:"allowEstimatedCost"`
	EstimatedCostRatio *string `yaml:"estimatedCostRatio"`
}

type redemptionDocument struct {
	MinimumCents        map[string]int64 `yaml:"minimumCents"`
	CashFeeFlatCents    *int64           `yaml:"cashFeeFlatCents"`
	CashFeePercent      *string          `yaml:"cashFeePercent"`
	VoucherValidityDays *int             `yaml:"voucherValidityDays"`
}

func (d document) apply(base Policy) (Policy, error) {
	p := base.Clone()
	var errs []error

	parse := func(field, raw string) decimal.Decimal {
		value, err := domain.ParseRate(field, raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("policy: %w", err))
		}
		return value
	}

	if d.OperatingBufferCents != nil {
		p.OperatingBufferCents = *d.OperatingBufferCents
	}
	if d.MinRewardCents != nil {
		p.MinRewardCents = *d.MinRewardCents
	}
	if d.MaxRewardCents != nil {
		p.MaxRewardCents = *d.MaxRewardCents
	}
	if d.PointsPerCent != nil {
		p.PointsPerCent = *d.PointsPerCent
	}
	if len(d.Tiers) > 0 {
		p.Tiers = make([]Tier, 0, len(d.Tiers))
		for i, tier := range d.Tiers {
			p.Tiers = append(p.Tiers, Tier{
				MinCents: tier.MinCents,
				MaxCents: tier.MaxCents,
				Percent:  parse(fmt.Sprintf("tiers[%d].percent", i), tier.Percent),
			})
		}
	}
	for name, days := range d.CoolingOffDays {
		productType := domain.ProductType(strings.TrimSpace(name))
		if !productType.Valid() {
			errs = append(errs, fmt.Errorf("policy: coolingOffDays: unknown product type %q", name))
			continue
		}
		p.CoolingOffDays[productType] = days
	}
	for name, raw := range d.FlatRates {
		productType := domain.ProductType(strings.TrimSpace(name))
		if !productType.Valid() {
			errs = append(errs, fmt.Errorf("policy: flatRates: unknown product type %q", name))
			continue
		}
		p.FlatRates[productType] = parse("flatRates."+name, raw)
	}
	for name, raw := range d.FallbackRates {
		kind := domain.RateKind(strings.TrimSpace(name))
		if !kind.Valid() {
			errs = append(errs, fmt.Errorf("policy: fallbackRates: unknown rate kind %q", name))
			continue
		}
		p.FallbackRates[kind] = parse("fallbackRates."+name, raw)
	}
	for name, table := range d.IndustryRates {
		kind := domain.RateKind(strings.TrimSpace(name))
		if !kind.Valid() {
			errs = append(errs, fmt.Errorf("policy: industryRates: unknown rate kind %q", name))
			continue
		}
		target := p.IndustryRates[kind]
		if target == nil {
			target = make(map[string]decimal.Decimal, len(table))
			p.IndustryRates[kind] = target
		}
		for category, raw := range table {
			key := textutil.NormalizeCategory(category)
			if key == "" {
				errs = append(errs, fmt.Errorf("policy: industryRates.%s: empty category", name))
				continue
			}
			target[key] = parse("industryRates."+name+"."+category, raw)
		}
	}
	if d.Dropship != nil {
		if d.Dropship.AllowEstimatedCost != nil {
			p.Dropship.AllowEstimatedCost = *d.Dropship.AllowEstimatedCost
		}
		if d.Dropship.EstimatedCostRatio != nil {
			p.Dropship.EstimatedCostRatio = parse("dropship.estimatedCostRatio", *d.Dropship.EstimatedCostRatio)
		}
	}
	if d.Redemption != nil {
		for name, minimum := range d.Redemption.MinimumCents {
			redemptionType := domain.RedemptionType(strings.TrimSpace(name))
			if !redemptionType.Valid() {
				errs = append(errs, fmt.Errorf("policy: redemption.minimumCents: unknown type %q", name))
				continue
			}
			p.Redemption.MinimumCents[redemptionType] = minimum
		}
		if d.Redemption.CashFeeFlatCents != nil {
			p.Redemption.CashFeeFlatCents = *d.Redemption.CashFeeFlatCents
		}
		if d.Redemption.CashFeePercent != nil {
			p.Redemption.CashFeePercent = parse("redemption.cashFeePercent", *d.Redemption.CashFeePercent)
		}
		if d.Redemption.VoucherValidityDays != nil {
			p.Redemption.VoucherValidityDays = *d.Redemption.VoucherValidityDays
		}
	}

	if len(errs) > 0 {
		return Policy{}, errors.Join(errs...)
	}
	return p, nil
}
