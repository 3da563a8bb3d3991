package events

import (
	"context"
	"time"

	"github.com/bjyoucef/inaya-project-sub001/internal/stock/repository"
	"github.com/bjyoucef/inaya-project-sub001/pkg/logger"
	"github.com/bjyoucef/inaya-project-sub001/pkg/messaging"
)

// StockEventPublisher publishes stock events. A nil publisher drops events,
// which is how the service runs without a broker.
type StockEventPublisher struct {
	publisher messaging.EventPublisher
	logger    *logger.Logger
}

// NewStockEventPublisher creates a publisher on the stock exchange
func NewStockEventPublisher(rmq *messaging.RabbitMQ, source string, log *logger.Logger) (*StockEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeStockEvents, source, log)
	if err != nil {
		return nil, err
	}
	return NewWithPublisher(publisher, log), nil
}

// NewWithPublisher wraps an existing event publisher
func NewWithPublisher(publisher messaging.EventPublisher, log *logger.Logger) *StockEventPublisher {
	return &StockEventPublisher{
		publisher: publisher,
		logger:    log,
	}
}

// PublishReceived publishes a stock received event
func (p *StockEventPublisher) PublishReceived(ctx context.Context, lot *repository.Lot, quantity int, origin repository.Origin) {
	if p == nil {
		return
	}

	data := messaging.StockReceivedEvent{
		LotID:       lot.ID,
		ProductID:   lot.ProductID,
		LocationID:  lot.LocationID,
		LotNumber:   lot.LotNumber,
		ExpiryDate:  lot.ExpiryDate.Format("2006-01-02"),
		Quantity:    quantity,
		NewQuantity: lot.Quantity,
		OriginKind:  string(origin.Kind),
		OriginID:    origin.ID,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockReceived, data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", lot.ID).Msg("failed to publish stock received event")
	}
}

// PublishTransferred publishes a stock transferred event
func (p *StockEventPublisher) PublishTransferred(ctx context.Context, data messaging.StockTransferredEvent) {
	if p == nil {
		return
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockTransferred, data); err != nil {
		p.logger.Error().Err(err).Str("transfer_id", data.TransferID).Msg("failed to publish stock transferred event")
	}
}

// PublishMismatch publishes a reconciliation mismatch event
func (p *StockEventPublisher) PublishMismatch(ctx context.Context, b *repository.Balance, detectedAt time.Time) {
	if p == nil {
		return
	}

	data := messaging.ReconciliationMismatchEvent{
		ProductID:   b.ProductID,
		LocationID:  b.LocationID,
		LotTotal:    b.LotTotal,
		LedgerTotal: b.LedgerTotal,
		Difference:  b.Difference(),
		DetectedAt:  detectedAt,
	}

	if err := p.publisher.Publish(ctx, messaging.EventReconciliationMismatch, data); err != nil {
		p.logger.Error().Err(err).
			Str("product_id", b.ProductID).
			Str("location_id", b.LocationID).
			Msg("failed to publish reconciliation mismatch event")
	}
}
