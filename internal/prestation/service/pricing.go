package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bjyoucef/inaya-project-sub001/pkg/logger"
)

// PricingStore reads tariff and honorarium schedules. Lookups return nil
// when no entry is in force on the date.
type PricingStore interface {
	ConventionTariff(ctx context.Context, conventionID, actID string, asOf time.Time) (*decimal.Decimal, error)
	ActTariff(ctx context.Context, actID string, asOf time.Time) (*decimal.Decimal, error)
	PractitionerHonorarium(ctx context.Context, practitionerID, actID string, conventionID *string, asOf time.Time) (*decimal.Decimal, error)
	ConventionHonorarium(ctx context.Context, conventionID, actID string, asOf time.Time) (*decimal.Decimal, error)
	ActHonorarium(ctx context.Context, actID string, asOf time.Time) (*decimal.Decimal, error)
}

// Tiers a price can be resolved from
const (
	SourceNone         = "none"
	SourcePractitioner = "practitioner"
	SourceConvention   = "convention"
	SourceAct          = "act"
)

// PricingQuery identifies what is being priced
type PricingQuery struct {
	ActID          string
	ConventionID   *string
	PractitionerID string
	Date           time.Time
}

// Resolution is a resolved tariff and honorarium with the tier each came from
type Resolution struct {
	Tariff           decimal.Decimal `json:"tariff"`
	TariffSource     string          `json:"tariff_source"`
	Honorarium       decimal.Decimal `json:"honorarium"`
	HonorariumSource string          `json:"honorarium_source"`
}

// PricingResolver picks the tariff and honorarium of a line item. Missing
// schedule entries resolve to zero rather than failing: amounts can always
// be corrected by hand later. Store errors are still returned.
type PricingResolver struct {
	store  PricingStore
	logger *logger.Logger
}

// NewPricingResolver creates a new pricing resolver
func NewPricingResolver(store PricingStore, log *logger.Logger) *PricingResolver {
	return &PricingResolver{
		store:  store,
		logger: log.WithComponent("pricing-resolver"),
	}
}

// Resolve resolves both amounts for q
func (r *PricingResolver) Resolve(ctx context.Context, q PricingQuery) (*Resolution, error) {
	res := &Resolution{}

	tariff, source, err := r.Tariff(ctx, q)
	if err != nil {
		return nil, err
	}
	res.Tariff, res.TariffSource = tariff, source

	honorarium, source, err := r.Honorarium(ctx, q)
	if err != nil {
		return nil, err
	}
	res.Honorarium, res.HonorariumSource = honorarium, source

	return res, nil
}

// Tariff returns the convention's tariff in force on the date, falling back
// to the act's own tariff
func (r *PricingResolver) Tariff(ctx context.Context, q PricingQuery) (decimal.Decimal, string, error) {
	if q.ConventionID != nil && *q.ConventionID != "" {
		amount, err := r.store.ConventionTariff(ctx, *q.ConventionID, q.ActID, q.Date)
		if err != nil {
			return decimal.Zero, "", err
		}
		if amount != nil {
			return *amount, SourceConvention, nil
		}
	}

	amount, err := r.store.ActTariff(ctx, q.ActID, q.Date)
	if err != nil {
		return decimal.Zero, "", err
	}
	if amount != nil {
		return *amount, SourceAct, nil
	}

	r.logger.Debug().Str("act_id", q.ActID).Msg("no tariff in force, using zero")
	return decimal.Zero, SourceNone, nil
}

// Honorarium returns the first strictly positive amount among the
// practitioner's override, the convention's base and the act's default
func (r *PricingResolver) Honorarium(ctx context.Context, q PricingQuery) (decimal.Decimal, string, error) {
	if q.PractitionerID != "" {
		amount, err := r.store.PractitionerHonorarium(ctx, q.PractitionerID, q.ActID, q.ConventionID, q.Date)
		if err != nil {
			return decimal.Zero, "", err
		}
		if positive(amount) {
			return *amount, SourcePractitioner, nil
		}
	}

	if q.ConventionID != nil && *q.ConventionID != "" {
		amount, err := r.store.ConventionHonorarium(ctx, *q.ConventionID, q.ActID, q.Date)
		if err != nil {
			return decimal.Zero, "", err
		}
		if positive(amount) {
			return *amount, SourceConvention, nil
		}
	}

	amount, err := r.store.ActHonorarium(ctx, q.ActID, q.Date)
	if err != nil {
		return decimal.Zero, "", err
	}
	if positive(amount) {
		return *amount, SourceAct, nil
	}

	r.logger.Debug().Str("act_id", q.ActID).Str("practitioner_id", q.PractitionerID).
		Msg("no positive honorarium in force, using zero")
	return decimal.Zero, SourceNone, nil
}

func positive(d *decimal.Decimal) bool {
	return d != nil && d.IsPositive()
}
