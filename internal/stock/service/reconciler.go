package service

import (
	"context"
	"time"

	"github.com/bjyoucef/inaya-project-sub001/internal/stock/events"
	"github.com/bjyoucef/inaya-project-sub001/internal/stock/repository"
	"github.com/bjyoucef/inaya-project-sub001/pkg/logger"
)

// Reconciler checks that lot quantities agree with the movement ledger:
// for every (product, location), Σ lot quantity == Σ IN − Σ OUT.
type Reconciler struct {
	movements MovementStore
	publisher *events.StockEventPublisher
	now       func() time.Time
	logger    *logger.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(movements MovementStore, publisher *events.StockEventPublisher, log *logger.Logger) *Reconciler {
	return &Reconciler{
		movements: movements,
		publisher: publisher,
		now:       time.Now,
		logger:    log.WithComponent("stock-reconciler"),
	}
}

// Check returns the pairs that do not reconcile
func (r *Reconciler) Check(ctx context.Context) ([]*repository.Balance, error) {
	return r.movements.Mismatches(ctx)
}

// Run checks and reports every mismatch through the log and the event bus.
// It returns the number of mismatches found.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	mismatches, err := r.Check(ctx)
	if err != nil {
		return 0, err
	}

	detectedAt := r.now().UTC()
	for _, b := range mismatches {
		r.logger.Warn().
			Str("product_id", b.ProductID).
			Str("location_id", b.LocationID).
			Int64("lot_total", b.LotTotal).
			Int64("ledger_total", b.LedgerTotal).
			Int64("difference", b.Difference()).
			Msg("stock does not reconcile with ledger")
		r.publisher.PublishMismatch(ctx, b, detectedAt)
	}
	return len(mismatches), nil
}
