package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bjyoucef/inaya-project-sub001/internal/prestation/domain"
)

// DeliveryInput is the full content of a delivery as submitted on create or
// update. Lines replace whatever the delivery had.
type DeliveryInput struct {
	PatientID                 string           `json:"patient_id" validate:"required,uuid"`
	PractitionerID            string           `json:"practitioner_id" validate:"required,uuid"`
	LocationID                string           `json:"location_id" validate:"required,uuid"`
	DeliveredAt               time.Time        `json:"delivered_at"`
	Status                    domain.Status    `json:"status" validate:"omitempty,oneof=PLANNED PERFORMED PAID CANCELLED"`
	ExtraFee                  *decimal.Decimal `json:"extra_fee"`
	ExtraFeePractitionerShare *decimal.Decimal `json:"extra_fee_practitioner_share"`
	Notes                     string           `json:"notes" validate:"max=4000"`
	Lines                     []LineInput      `json:"lines" validate:"dive"`
}

// LineInput is one act of a delivery. A nil tariff or honorarium is
// resolved from the pricing schedules; nil consumptions are taken from the
// act's bill of materials.
type LineInput struct {
	ActID             string             `json:"act_id" validate:"required,uuid"`
	ConventionID      *string            `json:"convention_id" validate:"omitempty,uuid"`
	Tariff            *decimal.Decimal   `json:"tariff"`
	Honorarium        *decimal.Decimal   `json:"honorarium"`
	ConventionGranted bool               `json:"convention_granted"`
	Comment           string             `json:"comment" validate:"max=1000"`
	Consumptions      []ConsumptionInput `json:"consumptions" validate:"omitempty,dive"`
}

// ConsumptionInput is a product used by a line. Missing default quantity
// and unit price are copied from the catalog.
type ConsumptionInput struct {
	ProductID       string           `json:"product_id" validate:"required,uuid"`
	DefaultQuantity *int             `json:"default_quantity" validate:"omitempty,gte=0"`
	ActualQuantity  int              `json:"actual_quantity" validate:"gte=0"`
	UnitPrice       *decimal.Decimal `json:"unit_price"`
}
