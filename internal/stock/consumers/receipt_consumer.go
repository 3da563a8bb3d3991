package consumers

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/bjyoucef/inaya-project-sub001/internal/stock/repository"
	"github.com/bjyoucef/inaya-project-sub001/internal/stock/service"
	"github.com/bjyoucef/inaya-project-sub001/pkg/actor"
	"github.com/bjyoucef/inaya-project-sub001/pkg/errors"
	"github.com/bjyoucef/inaya-project-sub001/pkg/logger"
	"github.com/bjyoucef/inaya-project-sub001/pkg/messaging"
)

// Receiver records goods receipts exactly once per delivery
type Receiver interface {
	ReceiveOnce(ctx context.Context, receipts []service.Receipt) ([]*repository.Lot, bool, error)
}

// ReceiptConsumer turns purchasing deliveries into stock receipts
type ReceiptConsumer struct {
	consumer *messaging.Consumer
	receiver Receiver
	logger   *logger.Logger
}

// NewReceiptConsumer creates a consumer bound to purchasing delivery events
func NewReceiptConsumer(rmq *messaging.RabbitMQ, queue string, receiver Receiver, log *logger.Logger) (*ReceiptConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, queue, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangePurchasingEvents, messaging.EventPurchasingDeliveryReceived); err != nil {
		return nil, err
	}

	c := newReceiptConsumer(receiver, log)
	c.consumer = consumer
	consumer.RegisterHandler(messaging.EventPurchasingDeliveryReceived, c.handleDeliveryReceived)

	return c, nil
}

func newReceiptConsumer(receiver Receiver, log *logger.Logger) *ReceiptConsumer {
	return &ReceiptConsumer{
		receiver: receiver,
		logger:   log.WithComponent("receipt-consumer"),
	}
}

// Start starts consuming messages
func (c *ReceiptConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *ReceiptConsumer) handleDeliveryReceived(ctx context.Context, event *messaging.Event) error {
	var data messaging.DeliveryReceivedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return messaging.Permanent(err)
	}

	if data.DeliveryID == "" || data.LocationID == "" || len(data.Lines) == 0 {
		return messaging.Permanent(fmt.Errorf("delivery event %s is missing delivery, location or lines", event.ID))
	}

	origin := repository.Origin{Kind: repository.OriginDelivery, ID: data.DeliveryID}
	receipts := make([]service.Receipt, 0, len(data.Lines))
	for i, line := range data.Lines {
		expiry, err := time.Parse("2006-01-02", line.ExpiryDate)
		if err != nil {
			return messaging.Permanent(fmt.Errorf("line %d: invalid expiry date %q: %w", i, line.ExpiryDate, err))
		}
		receipts = append(receipts, service.Receipt{
			ProductID:  line.ProductID,
			LocationID: data.LocationID,
			Quantity:   line.Quantity,
			ExpiryDate: expiry,
			LotNumber:  line.LotNumber,
			Origin:     origin,
		})
	}

	if data.ReceivedBy != "" {
		ctx = actor.WithActor(ctx, &actor.Actor{ID: data.ReceivedBy})
	}

	log := c.logger.WithOrigin(string(origin.Kind), origin.ID)
	lots, duplicate, err := c.receiver.ReceiveOnce(ctx, receipts)
	if err != nil {
		if isPermanent(err) {
			return messaging.Permanent(err)
		}
		return err
	}
	if duplicate {
		log.Info().Msg("delivery already received")
		return nil
	}

	log.Info().
		Str("location_id", data.LocationID).
		Int("lots", len(lots)).
		Msg("delivery received into stock")
	return nil
}

// isPermanent reports failures a redelivery cannot fix: rejected input and
// references to unknown products or locations.
func isPermanent(err error) bool {
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode < 500 && !errors.Is(err, errors.ErrConcurrentUpdate)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "23"
	}
	return false
}
