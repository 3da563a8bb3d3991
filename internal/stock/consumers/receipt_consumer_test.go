package consumers

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjyoucef/inaya-project-sub001/internal/stock/repository"
	"github.com/bjyoucef/inaya-project-sub001/internal/stock/service"
	"github.com/bjyoucef/inaya-project-sub001/pkg/actor"
	"github.com/bjyoucef/inaya-project-sub001/pkg/errors"
	"github.com/bjyoucef/inaya-project-sub001/pkg/logger"
	"github.com/bjyoucef/inaya-project-sub001/pkg/messaging"
)

type fakeReceiver struct {
	got       []service.Receipt
	performer string
	duplicate bool
	err       error
}

func (f *fakeReceiver) ReceiveOnce(ctx context.Context, receipts []service.Receipt) ([]*repository.Lot, bool, error) {
	f.got = receipts
	f.performer = actor.IDFromContext(ctx)
	if f.err != nil {
		return nil, false, f.err
	}
	if f.duplicate {
		return nil, true, nil
	}
	lots := make([]*repository.Lot, len(receipts))
	for i := range receipts {
		lots[i] = &repository.Lot{ID: fmt.Sprintf("lot-%d", i)}
	}
	return lots, false, nil
}

func deliveryEvent(t *testing.T, data interface{}) *messaging.Event {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return &messaging.Event{ID: "evt-1", Type: messaging.EventPurchasingDeliveryReceived, Data: raw}
}

func validDelivery() messaging.DeliveryReceivedEvent {
	return messaging.DeliveryReceivedEvent{
		DeliveryID: "dl-1",
		LocationID: "loc-pharmacy",
		ReceivedBy: "user-3",
		Lines: []messaging.DeliveryReceivedLine{
			{ProductID: "prod-1", Quantity: 12, ExpiryDate: "2026-08-31", LotNumber: "SUP-77"},
			{ProductID: "prod-2", Quantity: 4, ExpiryDate: "2027-01-31"},
		},
	}
}

func TestHandleDeliveryReceived(t *testing.T) {
	receiver := &fakeReceiver{}
	c := newReceiptConsumer(receiver, logger.Nop())

	err := c.handleDeliveryReceived(context.Background(), deliveryEvent(t, validDelivery()))
	require.NoError(t, err)

	require.Len(t, receiver.got, 2)
	first := receiver.got[0]
	assert.Equal(t, "prod-1", first.ProductID)
	assert.Equal(t, "loc-pharmacy", first.LocationID)
	assert.Equal(t, 12, first.Quantity)
	assert.Equal(t, "SUP-77", first.LotNumber)
	assert.Equal(t, "2026-08-31", first.ExpiryDate.Format("2006-01-02"))
	assert.Equal(t, repository.Origin{Kind: repository.OriginDelivery, ID: "dl-1"}, first.Origin)
	assert.Equal(t, "user-3", receiver.performer)
}

func TestHandleDeliveryReceived_Duplicate(t *testing.T) {
	c := newReceiptConsumer(&fakeReceiver{duplicate: true}, logger.Nop())

	assert.NoError(t, c.handleDeliveryReceived(context.Background(), deliveryEvent(t, validDelivery())))
}

func TestHandleDeliveryReceived_Failures(t *testing.T) {
	badExpiry := validDelivery()
	badExpiry.Lines[1].ExpiryDate = "31/01/2027"
	noLines := validDelivery()
	noLines.Lines = nil

	tests := []struct {
		name      string
		event     interface{}
		err       error
		permanent bool
	}{
		{"bad expiry", badExpiry, nil, true},
		{"no lines", noLines, nil, true},
		{"malformed payload", []int{1, 2}, nil, true},
		{"validation", validDelivery(), errors.Validation(map[string]string{"quantity": "must be greater than zero"}), true},
		{"unknown product", validDelivery(), fmt.Errorf("insert lot: %w", &pq.Error{Code: "23503"}), true},
		{"lock conflict", validDelivery(), errors.ConcurrentUpdate(fmt.Errorf("deadlock")), false},
		{"broker down", validDelivery(), fmt.Errorf("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newReceiptConsumer(&fakeReceiver{err: tt.err}, logger.Nop())

			err := c.handleDeliveryReceived(context.Background(), deliveryEvent(t, tt.event))
			require.Error(t, err)

			var perm *messaging.PermanentError
			assert.Equal(t, tt.permanent, errors.As(err, &perm))
		})
	}
}
