package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/bjyoucef/inaya-project-sub001/internal/prestation/domain"
	"github.com/bjyoucef/inaya-project-sub001/pkg/database"
)

// PricingRepository reads tariff and honorarium schedules and the acts'
// bills of materials. Every schedule lookup returns the entry in force on
// a date, or nil when there is none.
type PricingRepository struct {
	db *database.DB
}

// NewPricingRepository creates a new pricing repository
func NewPricingRepository(db *database.DB) *PricingRepository {
	return &PricingRepository{db: db}
}

func (r *PricingRepository) amount(ctx context.Context, what, query string, args ...interface{}) (*decimal.Decimal, error) {
	var amount decimal.Decimal
	if err := sqlx.GetContext(ctx, r.db.Q(ctx), &amount, query, args...); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup %s: %w", what, err)
	}
	return &amount, nil
}

// ConventionTariff returns the convention's tariff for an act
func (r *PricingRepository) ConventionTariff(ctx context.Context, conventionID, actID string, asOf time.Time) (*decimal.Decimal, error) {
	return r.amount(ctx, "convention tariff", `
		SELECT amount FROM convention_tariffs
		WHERE convention_id = $1 AND act_id = $2 AND effective_date <= $3::date
		ORDER BY effective_date DESC
		LIMIT 1`, conventionID, actID, asOf)
}

// ActTariff returns the act's default tariff
func (r *PricingRepository) ActTariff(ctx context.Context, actID string, asOf time.Time) (*decimal.Decimal, error) {
	return r.amount(ctx, "act tariff", `
		SELECT amount FROM act_tariffs
		WHERE act_id = $1 AND effective_date <= $2::date
		ORDER BY effective_date DESC
		LIMIT 1`, actID, asOf)
}

// PractitionerHonorarium returns a practitioner's override for an act under
// a convention. A nil convention matches overrides for uncovered patients.
func (r *PricingRepository) PractitionerHonorarium(ctx context.Context, practitionerID, actID string, conventionID *string, asOf time.Time) (*decimal.Decimal, error) {
	return r.amount(ctx, "practitioner honorarium", `
		SELECT amount FROM practitioner_honoraria
		WHERE practitioner_id = $1 AND act_id = $2
			AND convention_id IS NOT DISTINCT FROM $3::uuid
			AND effective_date <= $4::date
		ORDER BY effective_date DESC
		LIMIT 1`, practitionerID, actID, conventionID, asOf)
}

// ConventionHonorarium returns the convention's base honorarium for an act
func (r *PricingRepository) ConventionHonorarium(ctx context.Context, conventionID, actID string, asOf time.Time) (*decimal.Decimal, error) {
	return r.amount(ctx, "convention honorarium", `
		SELECT amount FROM convention_honoraria
		WHERE convention_id = $1 AND act_id = $2 AND effective_date <= $3::date
		ORDER BY effective_date DESC
		LIMIT 1`, conventionID, actID, asOf)
}

// ActHonorarium returns the act's default honorarium, preferring entries
// flagged as default over more recent ones
func (r *PricingRepository) ActHonorarium(ctx context.Context, actID string, asOf time.Time) (*decimal.Decimal, error) {
	return r.amount(ctx, "act honorarium", `
		SELECT amount FROM act_honoraria
		WHERE act_id = $1 AND effective_date <= $2::date
		ORDER BY is_default DESC, effective_date DESC
		LIMIT 1`, actID, asOf)
}

// BillOfMaterials lists the products an act consumes by default
func (r *PricingRepository) BillOfMaterials(ctx context.Context, actID string) ([]*domain.ActProduct, error) {
	products := []*domain.ActProduct{}
	query := `
		SELECT act_id, product_id, default_quantity
		FROM act_products
		WHERE act_id = $1
		ORDER BY product_id
	`
	if err := sqlx.SelectContext(ctx, r.db.Q(ctx), &products, query, actID); err != nil {
		return nil, fmt.Errorf("list act products: %w", err)
	}
	return products, nil
}
