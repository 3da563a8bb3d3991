package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementKind is the direction of a ledger entry
type MovementKind string

const (
	MovementIn  MovementKind = "IN"
	MovementOut MovementKind = "OUT"
)

// OriginKind tags the business transaction a movement belongs to
type OriginKind string

const (
	OriginPurchase         OriginKind = "purchase"
	OriginDelivery         OriginKind = "delivery"
	OriginServiceDelivery  OriginKind = "service_delivery"
	OriginInternalTransfer OriginKind = "internal_transfer"
)

// Valid reports whether k is a known origin kind
func (k OriginKind) Valid() bool {
	switch k {
	case OriginPurchase, OriginDelivery, OriginServiceDelivery, OriginInternalTransfer:
		return true
	}
	return false
}

// Origin identifies the business transaction behind a movement
type Origin struct {
	Kind OriginKind `json:"kind"`
	ID   string     `json:"id"`
}

// Lot is a batch of one product at one location
type Lot struct {
	ID         string    `db:"id" json:"id"`
	ProductID  string    `db:"product_id" json:"product_id"`
	LocationID string    `db:"location_id" json:"location_id"`
	LotNumber  string    `db:"lot_number" json:"lot_number"`
	ExpiryDate time.Time `db:"expiry_date" json:"expiry_date"`
	Quantity   int       `db:"quantity" json:"quantity"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Movement is an immutable stock ledger entry
type Movement struct {
	ID          string       `db:"id" json:"id"`
	Seq         int64        `db:"seq" json:"seq"`
	Kind        MovementKind `db:"kind" json:"kind"`
	ProductID   string       `db:"product_id" json:"product_id"`
	LocationID  string       `db:"location_id" json:"location_id"`
	LotID       string       `db:"lot_id" json:"lot_id"`
	LotNumber   string       `db:"lot_number" json:"lot_number"`
	Quantity    int          `db:"quantity" json:"quantity"`
	OriginKind  OriginKind   `db:"origin_kind" json:"origin_kind"`
	OriginID    string       `db:"origin_id" json:"origin_id"`
	PerformedBy string       `db:"performed_by" json:"performed_by"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
}

// Origin returns the movement's originating transaction
func (m *Movement) Origin() Origin {
	return Origin{Kind: m.OriginKind, ID: m.OriginID}
}

// Signed returns the quantity with OUT movements negated
func (m *Movement) Signed() int {
	if m.Kind == MovementOut {
		return -m.Quantity
	}
	return m.Quantity
}

// Balance compares on-hand lot quantities with the ledger for one
// (product, location) pair
type Balance struct {
	ProductID   string `db:"product_id" json:"product_id"`
	LocationID  string `db:"location_id" json:"location_id"`
	LotTotal    int64  `db:"lot_total" json:"lot_total"`
	LedgerTotal int64  `db:"ledger_total" json:"ledger_total"`
}

// Difference is LotTotal minus LedgerTotal; zero when reconciled
func (b *Balance) Difference() int64 {
	return b.LotTotal - b.LedgerTotal
}

// Product is a stocked article
type Product struct {
	ID        string          `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// LotFilter narrows lot listings
type LotFilter struct {
	ProductID    string
	LocationID   string
	IncludeEmpty bool
}

// MovementFilter narrows ledger listings
type MovementFilter struct {
	ProductID  string
	LocationID string
	Kind       MovementKind
	OriginKind OriginKind
	OriginID   string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}
