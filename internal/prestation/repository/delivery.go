package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/bjyoucef/inaya-project-sub001/internal/prestation/domain"
	"github.com/bjyoucef/inaya-project-sub001/pkg/database"
	"github.com/bjyoucef/inaya-project-sub001/pkg/errors"
)

const deliveryColumns = `id, patient_id, practitioner_id, location_id, delivered_at, status, total_price,
	extra_fee, extra_fee_practitioner_share, notes, stock_impact_applied, created_at, updated_at`

// DeliveryFilter narrows a delivery listing. Zero values are ignored.
type DeliveryFilter struct {
	Status         domain.Status
	PatientID      string
	PractitionerID string
	LocationID     string
	From           *time.Time
	To             *time.Time
	Limit          int
	Offset         int
}

// DeliveryRepository handles service delivery persistence
type DeliveryRepository struct {
	db      *database.DB
	builder squirrel.StatementBuilderType
}

// NewDeliveryRepository creates a new delivery repository
func NewDeliveryRepository(db *database.DB) *DeliveryRepository {
	return &DeliveryRepository{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a delivery header
func (r *DeliveryRepository) Create(ctx context.Context, d *domain.Delivery) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	query := `
		INSERT INTO service_deliveries (
			id, patient_id, practitioner_id, location_id, delivered_at, status, total_price,
			extra_fee, extra_fee_practitioner_share, notes, stock_impact_applied
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	err := r.db.Q(ctx).QueryRowxContext(ctx, query,
		d.ID, d.PatientID, d.PractitionerID, d.LocationID, d.DeliveredAt, d.Status, d.TotalPrice,
		d.ExtraFee, d.ExtraFeePractitionerShare, d.Notes, d.StockImpactApplied,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// GetByID gets a delivery header by ID
func (r *DeliveryRepository) GetByID(ctx context.Context, id string) (*domain.Delivery, error) {
	return r.get(ctx, `SELECT `+deliveryColumns+` FROM service_deliveries WHERE id = $1`, id)
}

// GetForUpdate gets a delivery header and locks its row until the
// surrounding transaction ends
func (r *DeliveryRepository) GetForUpdate(ctx context.Context, id string) (*domain.Delivery, error) {
	return r.get(ctx, `SELECT `+deliveryColumns+` FROM service_deliveries WHERE id = $1 FOR UPDATE`, id)
}

func (r *DeliveryRepository) get(ctx context.Context, query, id string) (*domain.Delivery, error) {
	var d domain.Delivery
	if err := sqlx.GetContext(ctx, r.db.Q(ctx), &d, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("prestation")
		}
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return &d, nil
}

// List lists delivery headers matching filter, most recent first, with the
// total count
func (r *DeliveryRepository) List(ctx context.Context, filter DeliveryFilter) ([]*domain.Delivery, int64, error) {
	where := squirrel.And{}
	if filter.Status != "" {
		where = append(where, squirrel.Eq{"status": filter.Status})
	}
	if filter.PatientID != "" {
		where = append(where, squirrel.Eq{"patient_id": filter.PatientID})
	}
	if filter.PractitionerID != "" {
		where = append(where, squirrel.Eq{"practitioner_id": filter.PractitionerID})
	}
	if filter.LocationID != "" {
		where = append(where, squirrel.Eq{"location_id": filter.LocationID})
	}
	if filter.From != nil {
		where = append(where, squirrel.GtOrEq{"delivered_at": *filter.From})
	}
	if filter.To != nil {
		where = append(where, squirrel.Lt{"delivered_at": *filter.To})
	}

	countQuery, countArgs, err := r.builder.Select("COUNT(*)").From("service_deliveries").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build delivery count: %w", err)
	}
	var total int64
	if err := sqlx.GetContext(ctx, r.db.Q(ctx), &total, countQuery, countArgs...); err != nil {
		return nil, 0, err
	}

	q := r.builder.
		Select(deliveryColumns).
		From("service_deliveries").
		Where(where).
		OrderBy("delivered_at DESC", "id")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build delivery list: %w", err)
	}

	deliveries := []*domain.Delivery{}
	if err := sqlx.SelectContext(ctx, r.db.Q(ctx), &deliveries, query, args...); err != nil {
		return nil, 0, err
	}
	return deliveries, total, nil
}

// Update writes the editable header fields. Status, stock impact and total
// have their own writers.
func (r *DeliveryRepository) Update(ctx context.Context, d *domain.Delivery) error {
	query := `
		UPDATE service_deliveries
		SET patient_id = $2, practitioner_id = $3, location_id = $4, delivered_at = $5,
			extra_fee = $6, extra_fee_practitioner_share = $7, notes = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.Q(ctx).QueryRowxContext(ctx, query,
		d.ID, d.PatientID, d.PractitionerID, d.LocationID, d.DeliveredAt,
		d.ExtraFee, d.ExtraFeePractitionerShare, d.Notes,
	).Scan(&d.UpdatedAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return errors.NotFound("prestation")
		}
		return fmt.Errorf("update delivery: %w", err)
	}
	return nil
}

// SetStatus writes only the status column
func (r *DeliveryRepository) SetStatus(ctx context.Context, id string, status domain.Status) error {
	return r.exec(ctx, `UPDATE service_deliveries SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
}

// SetStockImpactApplied writes only the stock impact flag so that concurrent
// edits to other columns are not overwritten
func (r *DeliveryRepository) SetStockImpactApplied(ctx context.Context, id string, applied bool) error {
	return r.exec(ctx, `UPDATE service_deliveries SET stock_impact_applied = $2 WHERE id = $1`, id, applied)
}

// SetTotalPrice writes only the total price column
func (r *DeliveryRepository) SetTotalPrice(ctx context.Context, id string, total decimal.Decimal) error {
	return r.exec(ctx, `UPDATE service_deliveries SET total_price = $2, updated_at = NOW() WHERE id = $1`, id, total)
}

// Delete deletes a delivery. Line items and consumption records cascade.
func (r *DeliveryRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM service_deliveries WHERE id = $1`, id)
}

func (r *DeliveryRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.Q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.NotFound("prestation")
	}
	return nil
}
