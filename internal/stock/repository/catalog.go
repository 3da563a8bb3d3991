package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/bjyoucef/inaya-project-sub001/pkg/database"
	"github.com/bjyoucef/inaya-project-sub001/pkg/errors"
)

// CatalogRepository reads the product catalog
type CatalogRepository struct {
	db *database.DB
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *database.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetProduct gets a product by ID
func (r *CatalogRepository) GetProduct(ctx context.Context, id string) (*Product, error) {
	var p Product
	query := `SELECT id, name, unit_price, created_at FROM products WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.db.Q(ctx), &p, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("product")
		}
		return nil, err
	}
	return &p, nil
}
