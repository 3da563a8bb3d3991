package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bjyoucef/inaya-project-sub001/pkg/database"
)

const movementColumns = `id, seq, kind, product_id, location_id, lot_id, lot_number, quantity,
	origin_kind, origin_id, performed_by, created_at`

// MovementRepository appends to and reads the stock ledger. There is no
// update or delete: the table rejects both.
type MovementRepository struct {
	db      *database.DB
	builder squirrel.StatementBuilderType
}

// NewMovementRepository creates a new movement repository
func NewMovementRepository(db *database.DB) *MovementRepository {
	return &MovementRepository{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Insert appends a movement. Seq reflects insertion order.
func (r *MovementRepository) Insert(ctx context.Context, m *Movement) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_movements (
			id, kind, product_id, location_id, lot_id, lot_number, quantity,
			origin_kind, origin_id, performed_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq, created_at
	`

	err := r.db.Q(ctx).QueryRowxContext(ctx, query,
		m.ID, m.Kind, m.ProductID, m.LocationID, m.LotID, m.LotNumber, m.Quantity,
		m.OriginKind, m.OriginID, m.PerformedBy,
	).Scan(&m.Seq, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

// ListByOrigin lists the movements of one originating transaction for a
// (product, location) pair in insertion order
func (r *MovementRepository) ListByOrigin(ctx context.Context, origin Origin, productID, locationID string) ([]*Movement, error) {
	var movements []*Movement
	query := `
		SELECT ` + movementColumns + ` FROM stock_movements
		WHERE origin_kind = $1 AND origin_id = $2 AND product_id = $3 AND location_id = $4
		ORDER BY seq
	`
	if err := sqlx.SelectContext(ctx, r.db.Q(ctx), &movements, query,
		origin.Kind, origin.ID, productID, locationID); err != nil {
		return nil, fmt.Errorf("list movements by origin: %w", err)
	}
	return movements, nil
}

// HasOrigin reports whether any movement was recorded for origin
func (r *MovementRepository) HasOrigin(ctx context.Context, origin Origin) (bool, error) {
	var found bool
	query := `SELECT EXISTS (SELECT 1 FROM stock_movements WHERE origin_kind = $1 AND origin_id = $2)`
	if err := sqlx.GetContext(ctx, r.db.Q(ctx), &found, query, origin.Kind, origin.ID); err != nil {
		return false, fmt.Errorf("check origin: %w", err)
	}
	return found, nil
}

// List lists movements matching filter, newest first, with the total count
func (r *MovementRepository) List(ctx context.Context, filter MovementFilter) ([]*Movement, int64, error) {
	where := squirrel.And{}
	if filter.ProductID != "" {
		where = append(where, squirrel.Eq{"product_id": filter.ProductID})
	}
	if filter.LocationID != "" {
		where = append(where, squirrel.Eq{"location_id": filter.LocationID})
	}
	if filter.Kind != "" {
		where = append(where, squirrel.Eq{"kind": filter.Kind})
	}
	if filter.OriginKind != "" {
		where = append(where, squirrel.Eq{"origin_kind": filter.OriginKind})
	}
	if filter.OriginID != "" {
		where = append(where, squirrel.Eq{"origin_id": filter.OriginID})
	}
	if filter.From != nil {
		where = append(where, squirrel.GtOrEq{"created_at": *filter.From})
	}
	if filter.To != nil {
		where = append(where, squirrel.Lt{"created_at": *filter.To})
	}

	countQuery, countArgs, err := r.builder.Select("COUNT(*)").From("stock_movements").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build movement count: %w", err)
	}
	var total int64
	if err := sqlx.GetContext(ctx, r.db.Q(ctx), &total, countQuery, countArgs...); err != nil {
		return nil, 0, err
	}

	q := r.builder.
		Select(movementColumns).
		From("stock_movements").
		Where(where).
		OrderBy("seq DESC")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build movement query: %w", err)
	}

	movements := []*Movement{}
	if err := sqlx.SelectContext(ctx, r.db.Q(ctx), &movements, query, args...); err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}

const balanceQuery = `
	WITH lots AS (
		SELECT product_id, location_id, SUM(quantity)::BIGINT AS lot_total
		FROM stock_lots
		GROUP BY product_id, location_id
	), ledger AS (
		SELECT product_id, location_id,
		       SUM(CASE WHEN kind = 'IN' THEN quantity ELSE -quantity END)::BIGINT AS ledger_total
		FROM stock_movements
		GROUP BY product_id, location_id
	)
	SELECT COALESCE(l.product_id, g.product_id)   AS product_id,
	       COALESCE(l.location_id, g.location_id) AS location_id,
	       COALESCE(l.lot_total, 0)               AS lot_total,
	       COALESCE(g.ledger_total, 0)            AS ledger_total
	FROM lots l
	FULL OUTER JOIN ledger g
	  ON l.product_id = g.product_id AND l.location_id = g.location_id
`

// Balance compares lot and ledger totals for one (product, location) pair.
// A pair with neither lots nor movements has a zero balance.
func (r *MovementRepository) Balance(ctx context.Context, productID, locationID string) (*Balance, error) {
	b := Balance{ProductID: productID, LocationID: locationID}
	query := balanceQuery + `
	WHERE COALESCE(l.product_id, g.product_id) = $1
	  AND COALESCE(l.location_id, g.location_id) = $2
	`
	err := sqlx.GetContext(ctx, r.db.Q(ctx), &b, query, productID, locationID)
	if err != nil && !stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load balance: %w", err)
	}
	return &b, nil
}

// Mismatches lists every (product, location) pair whose lot total differs
// from its ledger total
func (r *MovementRepository) Mismatches(ctx context.Context) ([]*Balance, error) {
	query := balanceQuery + `
	WHERE COALESCE(l.lot_total, 0) <> COALESCE(g.ledger_total, 0)
	ORDER BY 1, 2
	`
	balances := []*Balance{}
	if err := sqlx.SelectContext(ctx, r.db.Q(ctx), &balances, query); err != nil {
		return nil, fmt.Errorf("reconcile stock: %w", err)
	}
	return balances, nil
}
