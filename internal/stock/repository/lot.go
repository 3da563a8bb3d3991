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

	"github.com/bjyoucef/inaya-project-sub001/pkg/database"
	"github.com/bjyoucef/inaya-project-sub001/pkg/errors"
)

const lotColumns = `id, product_id, location_id, lot_number, expiry_date, quantity, created_at, updated_at`

// LotRepository handles stock lot persistence. Every method runs on the
// transaction carried by ctx when there is one.
type LotRepository struct {
	db      *database.DB
	builder squirrel.StatementBuilderType
}

// NewLotRepository creates a new lot repository
func NewLotRepository(db *database.DB) *LotRepository {
	return &LotRepository{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a new lot
func (r *LotRepository) Create(ctx context.Context, lot *Lot) error {
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_lots (id, product_id, location_id, lot_number, expiry_date, quantity)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	err := r.db.Q(ctx).QueryRowxContext(ctx, query,
		lot.ID, lot.ProductID, lot.LocationID, lot.LotNumber, lot.ExpiryDate, lot.Quantity,
	).Scan(&lot.CreatedAt, &lot.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert lot: %w", err)
	}
	return nil
}

// GetByID gets a lot by ID
func (r *LotRepository) GetByID(ctx context.Context, id string) (*Lot, error) {
	var lot Lot
	query := `SELECT ` + lotColumns + ` FROM stock_lots WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.db.Q(ctx), &lot, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("lot")
		}
		return nil, err
	}
	return &lot, nil
}

// GetForUpdate gets a lot by ID and row-locks it until the transaction ends
func (r *LotRepository) GetForUpdate(ctx context.Context, id string) (*Lot, error) {
	var lot Lot
	query := `SELECT ` + lotColumns + ` FROM stock_lots WHERE id = $1 FOR UPDATE`
	if err := sqlx.GetContext(ctx, r.db.Q(ctx), &lot, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("lot")
		}
		return nil, fmt.Errorf("lock lot %s: %w", id, err)
	}
	return &lot, nil
}

// FindByExpiryForUpdate locks the lot identified by (product, location,
// expiry). It returns nil when no such lot exists.
func (r *LotRepository) FindByExpiryForUpdate(ctx context.Context, productID, locationID string, expiry time.Time) (*Lot, error) {
	var lot Lot
	query := `
		SELECT ` + lotColumns + ` FROM stock_lots
		WHERE product_id = $1 AND location_id = $2 AND expiry_date = $3::date
		FOR UPDATE
	`
	err := sqlx.GetContext(ctx, r.db.Q(ctx), &lot, query, productID, locationID, expiry)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock lot by expiry: %w", err)
	}
	return &lot, nil
}

// EarliestUsableForUpdate locks the earliest-expiring lot that has not
// expired on asOf, whatever its quantity. It returns nil when there is none.
func (r *LotRepository) EarliestUsableForUpdate(ctx context.Context, productID, locationID string, asOf time.Time) (*Lot, error) {
	var lot Lot
	query := `
		SELECT ` + lotColumns + ` FROM stock_lots
		WHERE product_id = $1 AND location_id = $2 AND expiry_date >= $3::date
		ORDER BY expiry_date, lot_number
		LIMIT 1
		FOR UPDATE
	`
	err := sqlx.GetContext(ctx, r.db.Q(ctx), &lot, query, productID, locationID, asOf)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock earliest lot: %w", err)
	}
	return &lot, nil
}

// LockAvailable locks every lot with stock that has not expired on asOf, in
// consumption order: earliest expiry first, then lot number.
func (r *LotRepository) LockAvailable(ctx context.Context, productID, locationID string, asOf time.Time) ([]*Lot, error) {
	var lots []*Lot
	query := `
		SELECT ` + lotColumns + ` FROM stock_lots
		WHERE product_id = $1 AND location_id = $2
		  AND quantity > 0 AND expiry_date >= $3::date
		ORDER BY expiry_date, lot_number
		FOR UPDATE
	`
	if err := sqlx.SelectContext(ctx, r.db.Q(ctx), &lots, query, productID, locationID, asOf); err != nil {
		return nil, fmt.Errorf("lock available lots: %w", err)
	}
	return lots, nil
}

// LotNumberTaken reports whether the lot number is already used for the
// product at the location
func (r *LotRepository) LotNumberTaken(ctx context.Context, productID, locationID, lotNumber string) (bool, error) {
	var taken bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM stock_lots
			WHERE product_id = $1 AND location_id = $2 AND lot_number = $3
		)
	`
	if err := sqlx.GetContext(ctx, r.db.Q(ctx), &taken, query, productID, locationID, lotNumber); err != nil {
		return false, fmt.Errorf("check lot number: %w", err)
	}
	return taken, nil
}

// SetQuantity overwrites the on-hand quantity of a lot the caller has locked
func (r *LotRepository) SetQuantity(ctx context.Context, id string, quantity int) error {
	query := `UPDATE stock_lots SET quantity = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.Q(ctx).ExecContext(ctx, query, id, quantity)
	if err != nil {
		return fmt.Errorf("update lot %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return errors.NotFound("lot")
	}
	return nil
}

// List lists lots ordered for display: product, location, expiry
func (r *LotRepository) List(ctx context.Context, filter LotFilter) ([]*Lot, error) {
	q := r.builder.
		Select(lotColumns).
		From("stock_lots").
		OrderBy("product_id", "location_id", "expiry_date", "lot_number")

	if filter.ProductID != "" {
		q = q.Where(squirrel.Eq{"product_id": filter.ProductID})
	}
	if filter.LocationID != "" {
		q = q.Where(squirrel.Eq{"location_id": filter.LocationID})
	}
	if !filter.IncludeEmpty {
		q = q.Where(squirrel.Gt{"quantity": 0})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lot query: %w", err)
	}

	lots := []*Lot{}
	if err := sqlx.SelectContext(ctx, r.db.Q(ctx), &lots, query, args...); err != nil {
		return nil, err
	}
	return lots, nil
}
