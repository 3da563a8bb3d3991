package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Stock events
	EventStockReceived          = "stock.lot.received"
	EventStockTransferred       = "stock.transfer.completed"
	EventReconciliationMismatch = "stock.reconciliation.mismatch"

	// Service delivery events
	EventPrestationStatusChanged = "prestation.status.changed"
	EventPrestationStockApplied  = "prestation.stock.applied"
	EventPrestationStockReverted = "prestation.stock.reverted"

	// Inbound from the purchasing subsystem
	EventPurchasingDeliveryReceived = "purchasing.delivery.received"
)

// Exchange names
const (
	ExchangeStockEvents      = "stock.events"
	ExchangePrestationEvents = "prestation.events"
	ExchangePurchasingEvents = "purchasing.events"
	ExchangeDeadLetter       = "dlx.inaya"
)

// Event is the envelope every message is wrapped in
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Stock Events

// StockReceivedEvent is published after a receipt lands in a lot
type StockReceivedEvent struct {
	LotID       string `json:"lot_id"`
	ProductID   string `json:"product_id"`
	LocationID  string `json:"location_id"`
	LotNumber   string `json:"lot_number"`
	ExpiryDate  string `json:"expiry_date"`
	Quantity    int    `json:"quantity"`
	NewQuantity int    `json:"new_quantity"`
	OriginKind  string `json:"origin_kind"`
	OriginID    string `json:"origin_id"`
}

// StockTransferredEvent is published after an internal transfer commits
type StockTransferredEvent struct {
	TransferID     string `json:"transfer_id"`
	ProductID      string `json:"product_id"`
	FromLocationID string `json:"from_location_id"`
	ToLocationID   string `json:"to_location_id"`
	Requested      int    `json:"requested"`
	Moved          int    `json:"moved"`
	PerformedBy    string `json:"performed_by"`
}

// ReconciliationMismatchEvent reports a (product, location) whose lot total
// disagrees with its movement ledger
type ReconciliationMismatchEvent struct {
	ProductID   string    `json:"product_id"`
	LocationID  string    `json:"location_id"`
	LotTotal    int64     `json:"lot_total"`
	LedgerTotal int64     `json:"ledger_total"`
	Difference  int64     `json:"difference"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Service Delivery Events

// PrestationStatusChangedEvent is published after a status transition commits
type PrestationStatusChangedEvent struct {
	PrestationID       string `json:"prestation_id"`
	OldStatus          string `json:"old_status"`
	NewStatus          string `json:"new_status"`
	StockImpactApplied bool   `json:"stock_impact_applied"`
	ChangedBy          string `json:"changed_by"`
}

// Shortfall is an unmet part of a consumption request
type Shortfall struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Allocated int    `json:"allocated"`
	Missing   int    `json:"missing"`
}

// PrestationStockEvent is published when stock impact is applied or reverted
type PrestationStockEvent struct {
	PrestationID string      `json:"prestation_id"`
	LocationID   string      `json:"location_id"`
	Movements    int         `json:"movements"`
	Shortfalls   []Shortfall `json:"shortfalls,omitempty"`
}

// Purchasing Events

// DeliveryReceivedEvent is emitted by purchasing when goods arrive at a location
type DeliveryReceivedEvent struct {
	DeliveryID string                 `json:"delivery_id"`
	LocationID string                 `json:"location_id"`
	ReceivedBy string                 `json:"received_by"`
	Lines      []DeliveryReceivedLine `json:"lines"`
}

// DeliveryReceivedLine is one product batch of a purchasing delivery
type DeliveryReceivedLine struct {
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	ExpiryDate string `json:"expiry_date"`
	LotNumber  string `json:"lot_number"`
}
