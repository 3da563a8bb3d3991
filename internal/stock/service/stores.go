package service

import (
	"context"
	"time"

	"github.com/bjyoucef/inaya-project-sub001/internal/stock/repository"
)

// LotStore is the lot persistence the stock services need. Methods named
// ForUpdate or Lock* must row-lock what they return for the rest of the
// transaction.
type LotStore interface {
	Create(ctx context.Context, lot *repository.Lot) error
	GetForUpdate(ctx context.Context, id string) (*repository.Lot, error)
	FindByExpiryForUpdate(ctx context.Context, productID, locationID string, expiry time.Time) (*repository.Lot, error)
	EarliestUsableForUpdate(ctx context.Context, productID, locationID string, asOf time.Time) (*repository.Lot, error)
	LockAvailable(ctx context.Context, productID, locationID string, asOf time.Time) ([]*repository.Lot, error)
	LotNumberTaken(ctx context.Context, productID, locationID, lotNumber string) (bool, error)
	SetQuantity(ctx context.Context, id string, quantity int) error
	List(ctx context.Context, filter repository.LotFilter) ([]*repository.Lot, error)
}

// MovementStore is the append-only ledger
type MovementStore interface {
	Insert(ctx context.Context, m *repository.Movement) error
	ListByOrigin(ctx context.Context, origin repository.Origin, productID, locationID string) ([]*repository.Movement, error)
	HasOrigin(ctx context.Context, origin repository.Origin) (bool, error)
	List(ctx context.Context, filter repository.MovementFilter) ([]*repository.Movement, int64, error)
	Balance(ctx context.Context, productID, locationID string) (*repository.Balance, error)
	Mismatches(ctx context.Context) ([]*repository.Balance, error)
}

// dateOf drops the time of day, keeping the calendar date of t
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
