package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Delivery is a billable clinical encounter
type Delivery struct {
	ID                        string          `db:"id" json:"id"`
	PatientID                 string          `db:"patient_id" json:"patient_id"`
	PractitionerID            string          `db:"practitioner_id" json:"practitioner_id"`
	LocationID                string          `db:"location_id" json:"location_id"`
	DeliveredAt               time.Time       `db:"delivered_at" json:"delivered_at"`
	Status                    Status          `db:"status" json:"status"`
	TotalPrice                decimal.Decimal `db:"total_price" json:"total_price"`
	ExtraFee                  decimal.Decimal `db:"extra_fee" json:"extra_fee"`
	ExtraFeePractitionerShare decimal.Decimal `db:"extra_fee_practitioner_share" json:"extra_fee_practitioner_share"`
	Notes                     string          `db:"notes" json:"notes"`
	StockImpactApplied        bool            `db:"stock_impact_applied" json:"stock_impact_applied"`
	CreatedAt                 time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt                 time.Time       `db:"updated_at" json:"updated_at"`

	Lines []*LineItem `db:"-" json:"lines"`
}

// LineItem is one medical act performed within a delivery
type LineItem struct {
	ID                string          `db:"id" json:"id"`
	DeliveryID        string          `db:"delivery_id" json:"delivery_id"`
	Position          int             `db:"position" json:"position"`
	ActID             string          `db:"act_id" json:"act_id"`
	ConventionID      *string         `db:"convention_id" json:"convention_id,omitempty"`
	Tariff            decimal.Decimal `db:"tariff" json:"tariff"`
	Honorarium        decimal.Decimal `db:"honorarium" json:"honorarium"`
	ConventionGranted bool            `db:"convention_granted" json:"convention_granted"`
	Comment           string          `db:"comment" json:"comment"`

	Consumptions []*Consumption `db:"-" json:"consumptions"`
}

// Consumption is the quantity of a product used for a line item
type Consumption struct {
	ID              string          `db:"id" json:"id"`
	LineItemID      string          `db:"line_item_id" json:"line_item_id"`
	Position        int             `db:"position" json:"position"`
	ProductID       string          `db:"product_id" json:"product_id"`
	DefaultQuantity int             `db:"default_quantity" json:"default_quantity"`
	ActualQuantity  int             `db:"actual_quantity" json:"actual_quantity"`
	UnitPrice       decimal.Decimal `db:"unit_price" json:"unit_price"`
}

// ActProduct is one entry of an act's standard bill of materials
type ActProduct struct {
	ActID           string `db:"act_id" json:"act_id"`
	ProductID       string `db:"product_id" json:"product_id"`
	DefaultQuantity int    `db:"default_quantity" json:"default_quantity"`
}

// Excess is the quantity used beyond the standard one, billed separately
func (c *Consumption) Excess() int {
	if c.ActualQuantity > c.DefaultQuantity {
		return c.ActualQuantity - c.DefaultQuantity
	}
	return 0
}

// Total is the tariff plus every consumption's excess at its unit price
func (l *LineItem) Total() decimal.Decimal {
	total := l.Tariff
	for _, c := range l.Consumptions {
		total = total.Add(c.UnitPrice.Mul(decimal.NewFromInt(int64(c.Excess()))))
	}
	return total
}

// TotalPrice derives a delivery's price from its current lines and extra
// fee. It is not kept in sync automatically.
func TotalPrice(d *Delivery) decimal.Decimal {
	total := decimal.Zero
	for _, l := range d.Lines {
		total = total.Add(l.Total())
	}
	return total.Add(d.ExtraFee)
}

// Demand is the quantity of one product a delivery consumes
type Demand struct {
	ProductID string
	Quantity  int
}

// StockDemand sums actual consumption per product across all lines,
// ordered by product so concurrent deliveries lock lots in the same order.
// Products with nothing consumed are left out.
func StockDemand(d *Delivery) []Demand {
	byProduct := map[string]int{}
	for _, l := range d.Lines {
		for _, c := range l.Consumptions {
			if c.ActualQuantity > 0 {
				byProduct[c.ProductID] += c.ActualQuantity
			}
		}
	}

	out := make([]Demand, 0, len(byProduct))
	for p, q := range byProduct {
		out = append(out, Demand{ProductID: p, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
