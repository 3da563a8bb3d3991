package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/bjyoucef/inaya-project-sub001/internal/prestation/domain"
	"github.com/bjyoucef/inaya-project-sub001/internal/prestation/repository"
	stockrepo "github.com/bjyoucef/inaya-project-sub001/internal/stock/repository"
	stocksvc "github.com/bjyoucef/inaya-project-sub001/internal/stock/service"
)

// DeliveryStore persists delivery headers, line items and consumption
// records. GetForUpdate must row-lock the header for the rest of the
// transaction.
type DeliveryStore interface {
	Create(ctx context.Context, d *domain.Delivery) error
	GetByID(ctx context.Context, id string) (*domain.Delivery, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Delivery, error)
	List(ctx context.Context, filter repository.DeliveryFilter) ([]*domain.Delivery, int64, error)
	Update(ctx context.Context, d *domain.Delivery) error
	SetStatus(ctx context.Context, id string, status domain.Status) error
	SetStockImpactApplied(ctx context.Context, id string, applied bool) error
	SetTotalPrice(ctx context.Context, id string, total decimal.Decimal) error
	Delete(ctx context.Context, id string) error
	ReplaceLines(ctx context.Context, deliveryID string, lines []*domain.LineItem) error
	ListLines(ctx context.Context, deliveryID string) ([]*domain.LineItem, error)
}

// MaterialsStore lists the standard consumption of an act
type MaterialsStore interface {
	BillOfMaterials(ctx context.Context, actID string) ([]*domain.ActProduct, error)
}

// ProductCatalog looks up products and their current unit price
type ProductCatalog interface {
	GetProduct(ctx context.Context, id string) (*stockrepo.Product, error)
}

// StockAllocator takes stock from and gives it back to a location's lots
type StockAllocator interface {
	Consume(ctx context.Context, productID, locationID string, quantity int, origin stockrepo.Origin) (*stocksvc.ConsumeResult, error)
	Restore(ctx context.Context, productID, locationID string, quantity int, origin stockrepo.Origin) (*stocksvc.RestoreResult, error)
}
