package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bjyoucef/inaya-project-sub001/internal/prestation/domain"
)

const lineColumns = `id, delivery_id, position, act_id, convention_id, tariff, honorarium,
	convention_granted, comment`

const consumptionColumns = `c.id, c.line_item_id, c.position, c.product_id, c.default_quantity,
	c.actual_quantity, c.unit_price`

// ReplaceLines deletes every line item of a delivery, and with them their
// consumption records, then inserts lines in order. Positions are renumbered
// from zero. Must run in a transaction.
func (r *DeliveryRepository) ReplaceLines(ctx context.Context, deliveryID string, lines []*domain.LineItem) error {
	q := r.db.Q(ctx)

	if _, err := q.ExecContext(ctx, `DELETE FROM line_items WHERE delivery_id = $1`, deliveryID); err != nil {
		return fmt.Errorf("delete line items: %w", err)
	}

	for i, l := range lines {
		l.ID = uuid.New().String()
		l.DeliveryID = deliveryID
		l.Position = i

		_, err := q.ExecContext(ctx, `
			INSERT INTO line_items (
				id, delivery_id, position, act_id, convention_id, tariff, honorarium,
				convention_granted, comment
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			l.ID, l.DeliveryID, l.Position, l.ActID, l.ConventionID, l.Tariff, l.Honorarium,
			l.ConventionGranted, l.Comment,
		)
		if err != nil {
			return fmt.Errorf("insert line item %d: %w", i, err)
		}

		for j, c := range l.Consumptions {
			c.ID = uuid.New().String()
			c.LineItemID = l.ID
			c.Position = j

			_, err := q.ExecContext(ctx, `
				INSERT INTO consumption_records (
					id, line_item_id, position, product_id, default_quantity, actual_quantity, unit_price
				) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				c.ID, c.LineItemID, c.Position, c.ProductID, c.DefaultQuantity, c.ActualQuantity, c.UnitPrice,
			)
			if err != nil {
				return fmt.Errorf("insert consumption record %d.%d: %w", i, j, err)
			}
		}
	}

	return nil
}

// ListLines loads the line items of a delivery with their consumption
// records, both in position order
func (r *DeliveryRepository) ListLines(ctx context.Context, deliveryID string) ([]*domain.LineItem, error) {
	lines := []*domain.LineItem{}
	query := `SELECT ` + lineColumns + ` FROM line_items WHERE delivery_id = $1 ORDER BY position`
	if err := sqlx.SelectContext(ctx, r.db.Q(ctx), &lines, query, deliveryID); err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	if len(lines) == 0 {
		return lines, nil
	}

	var consumptions []*domain.Consumption
	query = `
		SELECT ` + consumptionColumns + `
		FROM consumption_records c
		JOIN line_items l ON l.id = c.line_item_id
		WHERE l.delivery_id = $1
		ORDER BY l.position, c.position
	`
	if err := sqlx.SelectContext(ctx, r.db.Q(ctx), &consumptions, query, deliveryID); err != nil {
		return nil, fmt.Errorf("list consumption records: %w", err)
	}

	byLine := make(map[string]*domain.LineItem, len(lines))
	for _, l := range lines {
		l.Consumptions = []*domain.Consumption{}
		byLine[l.ID] = l
	}
	for _, c := range consumptions {
		if l, ok := byLine[c.LineItemID]; ok {
			l.Consumptions = append(l.Consumptions, c)
		}
	}
	return lines, nil
}
