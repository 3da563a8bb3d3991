package events

import (
	"context"

	"github.com/bjyoucef/inaya-project-sub001/pkg/logger"
	"github.com/bjyoucef/inaya-project-sub001/pkg/messaging"
)

// PrestationEventPublisher publishes service delivery events. Methods on a
// nil publisher are no-ops.
type PrestationEventPublisher struct {
	publisher messaging.EventPublisher
	logger    *logger.Logger
}

// NewPrestationEventPublisher creates a publisher on the prestation exchange
func NewPrestationEventPublisher(rmq *messaging.RabbitMQ, source string, log *logger.Logger) (*PrestationEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangePrestationEvents, source, log)
	if err != nil {
		return nil, err
	}
	return NewWithPublisher(publisher, log), nil
}

// NewWithPublisher wraps an existing event publisher
func NewWithPublisher(publisher messaging.EventPublisher, log *logger.Logger) *PrestationEventPublisher {
	return &PrestationEventPublisher{
		publisher: publisher,
		logger:    log,
	}
}

// PublishStatusChanged publishes a status changed event
func (p *PrestationEventPublisher) PublishStatusChanged(ctx context.Context, data messaging.PrestationStatusChangedEvent) {
	if p == nil {
		return
	}

	if err := p.publisher.Publish(ctx, messaging.EventPrestationStatusChanged, data); err != nil {
		p.logger.Error().Err(err).Str("prestation_id", data.PrestationID).Msg("failed to publish status changed event")
	}
}

// PublishStockApplied publishes a stock applied event
func (p *PrestationEventPublisher) PublishStockApplied(ctx context.Context, data messaging.PrestationStockEvent) {
	if p == nil {
		return
	}

	if err := p.publisher.Publish(ctx, messaging.EventPrestationStockApplied, data); err != nil {
		p.logger.Error().Err(err).Str("prestation_id", data.PrestationID).Msg("failed to publish stock applied event")
	}
}

// PublishStockReverted publishes a stock reverted event
func (p *PrestationEventPublisher) PublishStockReverted(ctx context.Context, data messaging.PrestationStockEvent) {
	if p == nil {
		return
	}

	if err := p.publisher.Publish(ctx, messaging.EventPrestationStockReverted, data); err != nil {
		p.logger.Error().Err(err).Str("prestation_id", data.PrestationID).Msg("failed to publish stock reverted event")
	}
}
