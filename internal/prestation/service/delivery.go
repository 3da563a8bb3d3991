package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bjyoucef/inaya-project-sub001/internal/prestation/domain"
	"github.com/bjyoucef/inaya-project-sub001/internal/prestation/events"
	"github.com/bjyoucef/inaya-project-sub001/internal/prestation/repository"
	stockrepo "github.com/bjyoucef/inaya-project-sub001/internal/stock/repository"
	"github.com/bjyoucef/inaya-project-sub001/pkg/actor"
	"github.com/bjyoucef/inaya-project-sub001/pkg/config"
	"github.com/bjyoucef/inaya-project-sub001/pkg/database"
	"github.com/bjyoucef/inaya-project-sub001/pkg/errors"
	"github.com/bjyoucef/inaya-project-sub001/pkg/httputil"
	"github.com/bjyoucef/inaya-project-sub001/pkg/logger"
	"github.com/bjyoucef/inaya-project-sub001/pkg/messaging"
)

// StockReport summarizes what applying or reverting a delivery did to stock
type StockReport struct {
	Action     string                `json:"action"`
	Movements  int                   `json:"movements"`
	Shortfalls []messaging.Shortfall `json:"shortfalls,omitempty"`
}

// Transition is the outcome of a status change
type Transition struct {
	Delivery *domain.Delivery `json:"prestation"`
	From     domain.Status    `json:"from"`
	To       domain.Status    `json:"to"`
	Stock    *StockReport     `json:"stock,omitempty"`
}

// outbox collects events during a transaction attempt; they are published
// once it commits
type outbox struct {
	statusChanges []messaging.PrestationStatusChangedEvent
	applied       []messaging.PrestationStockEvent
	reverted      []messaging.PrestationStockEvent
}

// DeliveryService runs the service delivery lifecycle. Every write locks the
// delivery row first, and stock impact follows status changes in the same
// transaction.
type DeliveryService struct {
	tx        database.Transactor
	store     DeliveryStore
	materials MaterialsStore
	products  ProductCatalog
	pricing   *PricingResolver
	stock     StockAllocator
	publisher *events.PrestationEventPublisher
	ceiling   decimal.Decimal
	now       func() time.Time
	logger    *logger.Logger
}

// NewDeliveryService creates a new delivery service
func NewDeliveryService(
	tx database.Transactor,
	store DeliveryStore,
	materials MaterialsStore,
	products ProductCatalog,
	pricing *PricingResolver,
	stock StockAllocator,
	publisher *events.PrestationEventPublisher,
	cfg config.PricingConfig,
	log *logger.Logger,
) (*DeliveryService, error) {
	ceiling, err := cfg.Ceiling()
	if err != nil {
		return nil, err
	}

	return &DeliveryService{
		tx:        tx,
		store:     store,
		materials: materials,
		products:  products,
		pricing:   pricing,
		stock:     stock,
		publisher: publisher,
		ceiling:   ceiling,
		now:       time.Now,
		logger:    log.WithComponent("prestation"),
	}, nil
}

// WithClock replaces the clock used for deliveries submitted without a date
func (s *DeliveryService) WithClock(now func() time.Time) *DeliveryService {
	s.now = now
	return s
}

func (s *DeliveryService) validate(ctx context.Context, in *DeliveryInput) error {
	if err := httputil.ValidateCtx(ctx, in); err != nil {
		return err
	}

	details := map[string]string{}
	if in.ExtraFee != nil && in.ExtraFee.IsNegative() {
		details["extra_fee"] = "must not be negative"
	}
	if in.ExtraFeePractitionerShare != nil && in.ExtraFeePractitionerShare.IsNegative() {
		details["extra_fee_practitioner_share"] = "must not be negative"
	}
	for i, l := range in.Lines {
		if l.Tariff != nil && l.Tariff.IsNegative() {
			details[fmt.Sprintf("lines[%d].tariff", i)] = "must not be negative"
		}
		if l.Honorarium != nil && (l.Honorarium.IsNegative() || l.Honorarium.GreaterThan(s.ceiling)) {
			details[fmt.Sprintf("lines[%d].honorarium", i)] = "must be between 0 and " + s.ceiling.StringFixed(2)
		}
		for j, c := range l.Consumptions {
			if c.UnitPrice != nil && c.UnitPrice.IsNegative() {
				details[fmt.Sprintf("lines[%d].consumptions[%d].unit_price", i, j)] = "must not be negative"
			}
		}
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}

// Create records a delivery. It always starts PLANNED; a different
// requested status is then reached through the normal transitions, so
// creating a PERFORMED or PAID delivery consumes its stock.
func (s *DeliveryService) Create(ctx context.Context, in DeliveryInput) (*domain.Delivery, error) {
	if err := s.validate(ctx, &in); err != nil {
		return nil, err
	}
	target := in.Status
	if target == "" {
		target = domain.StatusPlanned
	}

	var (
		d   *domain.Delivery
		box outbox
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		box = outbox{}
		d = &domain.Delivery{
			ID:     uuid.New().String(),
			Status: domain.StatusPlanned,
		}
		s.setHeader(d, &in)

		lines, err := s.buildLines(ctx, d, in.Lines)
		if err != nil {
			return err
		}
		d.Lines = lines
		d.TotalPrice = domain.TotalPrice(d)

		if err := s.store.Create(ctx, d); err != nil {
			return err
		}
		if err := s.store.ReplaceLines(ctx, d.ID, d.Lines); err != nil {
			return err
		}

		for _, to := range domain.PathTo(target) {
			if _, err := s.changeStatus(ctx, d, to, &box); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, database.MapError(err)
	}

	s.logger.Info().Str("prestation_id", d.ID).Str("status", string(d.Status)).
		Str("total_price", d.TotalPrice.StringFixed(2)).Msg("prestation created")
	s.flush(ctx, &box)
	return d, nil
}

// Get returns a delivery with its lines and consumption records
func (s *DeliveryService) Get(ctx context.Context, id string) (*domain.Delivery, error) {
	d, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.loadLines(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// List lists delivery headers
func (s *DeliveryService) List(ctx context.Context, filter repository.DeliveryFilter) ([]*domain.Delivery, int64, error) {
	return s.store.List(ctx, filter)
}

// Update replaces a delivery's header and lines. When stock was applied it
// is reverted against the old lines and applied again against the new ones,
// so the ledger always reflects what the delivery currently says. A status
// in the input goes through the state machine afterwards.
func (s *DeliveryService) Update(ctx context.Context, id string, in DeliveryInput) (*domain.Delivery, error) {
	if err := s.validate(ctx, &in); err != nil {
		return nil, err
	}

	var (
		d   *domain.Delivery
		box outbox
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		box = outbox{}

		var err error
		d, err = s.lock(ctx, id)
		if err != nil {
			return err
		}
		if d.Status == domain.StatusCancelled {
			return errors.Conflict("a cancelled prestation cannot be edited")
		}

		wasApplied := d.StockImpactApplied
		if wasApplied {
			if _, err := s.revertStock(ctx, d, &box); err != nil {
				return err
			}
		}

		s.setHeader(d, &in)
		lines, err := s.buildLines(ctx, d, in.Lines)
		if err != nil {
			return err
		}
		d.Lines = lines
		d.TotalPrice = domain.TotalPrice(d)

		if err := s.store.Update(ctx, d); err != nil {
			return err
		}
		if err := s.store.ReplaceLines(ctx, d.ID, d.Lines); err != nil {
			return err
		}
		if err := s.store.SetTotalPrice(ctx, d.ID, d.TotalPrice); err != nil {
			return err
		}

		if wasApplied {
			if _, err := s.applyStock(ctx, d, &box); err != nil {
				return err
			}
		}

		if in.Status != "" && in.Status != d.Status {
			if _, err := s.changeStatus(ctx, d, in.Status, &box); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, database.MapError(err)
	}

	s.flush(ctx, &box)
	return d, nil
}

// Delete reverts a delivery's stock impact, then deletes it
func (s *DeliveryService) Delete(ctx context.Context, id string) error {
	var box outbox
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		box = outbox{}

		d, err := s.lock(ctx, id)
		if err != nil {
			return err
		}
		if _, err := s.revertStock(ctx, d, &box); err != nil {
			return err
		}
		return s.store.Delete(ctx, d.ID)
	})
	if err != nil {
		return database.MapError(err)
	}

	s.logger.Info().Str("prestation_id", id).Msg("prestation deleted")
	s.flush(ctx, &box)
	return nil
}

// ChangeStatus moves a delivery to another status and applies or reverts
// its stock impact accordingly
func (s *DeliveryService) ChangeStatus(ctx context.Context, id string, to domain.Status) (*Transition, error) {
	if !to.Valid() {
		return nil, errors.Validation(map[string]string{"status": "must be one of: PLANNED, PERFORMED, PAID, CANCELLED"})
	}

	var (
		t   *Transition
		box outbox
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		box = outbox{}

		d, err := s.lock(ctx, id)
		if err != nil {
			return err
		}
		t, err = s.changeStatus(ctx, d, to, &box)
		return err
	})
	if err != nil {
		return nil, database.MapError(err)
	}

	s.flush(ctx, &box)
	return t, nil
}

// ApplyStockImpact repairs a PERFORMED delivery whose stock was not
// consumed. It does not change the status; any other status is a conflict.
func (s *DeliveryService) ApplyStockImpact(ctx context.Context, id string) (*StockReport, error) {
	return s.stockAction(ctx, id, domain.StockApply)
}

// RevertStockImpact gives back the stock still held by a PLANNED delivery.
// It does not change the status; any other status is a conflict.
func (s *DeliveryService) RevertStockImpact(ctx context.Context, id string) (*StockReport, error) {
	return s.stockAction(ctx, id, domain.StockRevert)
}

func (s *DeliveryService) stockAction(ctx context.Context, id string, action domain.StockAction) (*StockReport, error) {
	var (
		report *StockReport
		box    outbox
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		box = outbox{}

		d, err := s.lock(ctx, id)
		if err != nil {
			return err
		}

		if action == domain.StockApply {
			if d.Status != domain.StatusPerformed {
				return errors.Conflict("stock can only be applied to a PERFORMED prestation, this one is " + string(d.Status))
			}
			report, err = s.applyStock(ctx, d, &box)
		} else {
			if d.Status != domain.StatusPlanned {
				return errors.Conflict("stock can only be reverted on a PLANNED prestation, this one is " + string(d.Status))
			}
			report, err = s.revertStock(ctx, d, &box)
		}
		return err
	})
	if err != nil {
		return nil, database.MapError(err)
	}

	if report == nil {
		report = &StockReport{Action: "none"}
	}
	s.flush(ctx, &box)
	return report, nil
}

// RecalculateTotal derives the total price from the current lines and
// stores it
func (s *DeliveryService) RecalculateTotal(ctx context.Context, id string) (*domain.Delivery, error) {
	var d *domain.Delivery
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.lock(ctx, id)
		if err != nil {
			return err
		}
		if err := s.loadLines(ctx, d); err != nil {
			return err
		}
		d.TotalPrice = domain.TotalPrice(d)
		return s.store.SetTotalPrice(ctx, d.ID, d.TotalPrice)
	})
	if err != nil {
		return nil, database.MapError(err)
	}
	return d, nil
}

func (s *DeliveryService) lock(ctx context.Context, id string) (*domain.Delivery, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.NotFound("prestation")
	}
	return s.store.GetForUpdate(ctx, id)
}

func (s *DeliveryService) loadLines(ctx context.Context, d *domain.Delivery) error {
	if d.Lines != nil {
		return nil
	}
	lines, err := s.store.ListLines(ctx, d.ID)
	if err != nil {
		return err
	}
	d.Lines = lines
	return nil
}

func (s *DeliveryService) setHeader(d *domain.Delivery, in *DeliveryInput) {
	d.PatientID = in.PatientID
	d.PractitionerID = in.PractitionerID
	d.LocationID = in.LocationID
	d.DeliveredAt = in.DeliveredAt
	if d.DeliveredAt.IsZero() {
		d.DeliveredAt = s.now()
	}
	d.ExtraFee = decimal.Zero
	if in.ExtraFee != nil {
		d.ExtraFee = *in.ExtraFee
	}
	d.ExtraFeePractitionerShare = decimal.Zero
	if in.ExtraFeePractitionerShare != nil {
		d.ExtraFeePractitionerShare = *in.ExtraFeePractitionerShare
	}
	d.Notes = in.Notes
}

// buildLines turns submitted lines into line items, resolving missing
// amounts and snapshotting catalog defaults
func (s *DeliveryService) buildLines(ctx context.Context, d *domain.Delivery, inputs []LineInput) ([]*domain.LineItem, error) {
	lines := make([]*domain.LineItem, 0, len(inputs))
	prices := map[string]decimal.Decimal{}

	for i, in := range inputs {
		line := &domain.LineItem{
			ActID:             in.ActID,
			ConventionGranted: in.ConventionGranted,
			Comment:           in.Comment,
		}
		if in.ConventionID != nil && *in.ConventionID != "" {
			id := *in.ConventionID
			line.ConventionID = &id
		}

		if in.Tariff == nil || in.Honorarium == nil {
			res, err := s.pricing.Resolve(ctx, PricingQuery{
				ActID:          line.ActID,
				ConventionID:   line.ConventionID,
				PractitionerID: d.PractitionerID,
				Date:           d.DeliveredAt,
			})
			if err != nil {
				return nil, fmt.Errorf("resolve pricing for line %d: %w", i, err)
			}
			line.Tariff, line.Honorarium = res.Tariff, res.Honorarium
		}
		if in.Tariff != nil {
			line.Tariff = *in.Tariff
		}
		if in.Honorarium != nil {
			line.Honorarium = *in.Honorarium
		}
		if line.Honorarium.GreaterThan(s.ceiling) {
			return nil, errors.Validation(map[string]string{
				fmt.Sprintf("lines[%d].honorarium", i): "must be between 0 and " + s.ceiling.StringFixed(2),
			})
		}

		bom, err := s.materials.BillOfMaterials(ctx, line.ActID)
		if err != nil {
			return nil, err
		}

		if in.Consumptions == nil {
			line.Consumptions = make([]*domain.Consumption, 0, len(bom))
			for _, p := range bom {
				price, err := s.unitPrice(ctx, prices, p.ProductID, i)
				if err != nil {
					return nil, err
				}
				line.Consumptions = append(line.Consumptions, &domain.Consumption{
					ProductID:       p.ProductID,
					DefaultQuantity: p.DefaultQuantity,
					ActualQuantity:  p.DefaultQuantity,
					UnitPrice:       price,
				})
			}
		} else {
			defaults := make(map[string]int, len(bom))
			for _, p := range bom {
				defaults[p.ProductID] = p.DefaultQuantity
			}

			line.Consumptions = make([]*domain.Consumption, 0, len(in.Consumptions))
			for _, c := range in.Consumptions {
				rec := &domain.Consumption{
					ProductID:       c.ProductID,
					DefaultQuantity: defaults[c.ProductID],
					ActualQuantity:  c.ActualQuantity,
				}
				if c.DefaultQuantity != nil {
					rec.DefaultQuantity = *c.DefaultQuantity
				}
				if c.UnitPrice != nil {
					rec.UnitPrice = *c.UnitPrice
				} else {
					price, err := s.unitPrice(ctx, prices, c.ProductID, i)
					if err != nil {
						return nil, err
					}
					rec.UnitPrice = price
				}
				line.Consumptions = append(line.Consumptions, rec)
			}
		}

		lines = append(lines, line)
	}
	return lines, nil
}

func (s *DeliveryService) unitPrice(ctx context.Context, cache map[string]decimal.Decimal, productID string, line int) (decimal.Decimal, error) {
	if price, ok := cache[productID]; ok {
		return price, nil
	}
	p, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return decimal.Zero, errors.Validation(map[string]string{
				fmt.Sprintf("lines[%d].consumptions", line): "unknown product " + productID,
			})
		}
		return decimal.Zero, err
	}
	cache[productID] = p.UnitPrice
	return p.UnitPrice, nil
}

// changeStatus must run in a transaction holding the delivery's row lock
func (s *DeliveryService) changeStatus(ctx context.Context, d *domain.Delivery, to domain.Status, box *outbox) (*Transition, error) {
	from := d.Status
	if !domain.CanTransition(from, to) {
		return nil, errors.InvalidTransition(string(from), string(to))
	}

	t := &Transition{Delivery: d, From: from, To: to}
	if from == to {
		return t, nil
	}

	if err := s.store.SetStatus(ctx, d.ID, to); err != nil {
		return nil, err
	}
	d.Status = to

	var err error
	switch domain.StockActionFor(from, to) {
	case domain.StockApply:
		t.Stock, err = s.applyStock(ctx, d, box)
	case domain.StockRevert:
		t.Stock, err = s.revertStock(ctx, d, box)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadLines(ctx, d); err != nil {
		return nil, err
	}

	box.statusChanges = append(box.statusChanges, messaging.PrestationStatusChangedEvent{
		PrestationID:       d.ID,
		OldStatus:          string(from),
		NewStatus:          string(to),
		StockImpactApplied: d.StockImpactApplied,
		ChangedBy:          actor.IDFromContext(ctx),
	})

	s.logger.Info().Str("prestation_id", d.ID).Str("from", string(from)).Str("to", string(to)).
		Bool("stock_impact_applied", d.StockImpactApplied).Msg("prestation status changed")
	return t, nil
}

func (s *DeliveryService) origin(d *domain.Delivery) stockrepo.Origin {
	return stockrepo.Origin{Kind: stockrepo.OriginServiceDelivery, ID: d.ID}
}

// applyStock consumes every product the delivery uses at its location. It
// returns nil without touching stock when the impact is already applied.
func (s *DeliveryService) applyStock(ctx context.Context, d *domain.Delivery, box *outbox) (*StockReport, error) {
	if d.StockImpactApplied {
		return nil, nil
	}
	if err := s.loadLines(ctx, d); err != nil {
		return nil, err
	}

	report := &StockReport{Action: "applied"}
	for _, demand := range domain.StockDemand(d) {
		res, err := s.stock.Consume(ctx, demand.ProductID, d.LocationID, demand.Quantity, s.origin(d))
		if err != nil {
			return nil, fmt.Errorf("consume product %s: %w", demand.ProductID, err)
		}
		report.Movements += len(res.Allocations)
		if res.Shortfall() > 0 {
			report.Shortfalls = append(report.Shortfalls, messaging.Shortfall{
				ProductID: demand.ProductID,
				Requested: res.Requested,
				Allocated: res.Allocated,
				Missing:   res.Shortfall(),
			})
		}
	}

	if err := s.store.SetStockImpactApplied(ctx, d.ID, true); err != nil {
		return nil, err
	}
	d.StockImpactApplied = true

	box.applied = append(box.applied, messaging.PrestationStockEvent{
		PrestationID: d.ID,
		LocationID:   d.LocationID,
		Movements:    report.Movements,
		Shortfalls:   report.Shortfalls,
	})
	s.logger.WithOrigin(string(stockrepo.OriginServiceDelivery), d.ID).Info().
		Int("movements", report.Movements).Int("shortfalls", len(report.Shortfalls)).
		Msg("stock impact applied")
	return report, nil
}

// revertStock restores the full consumed quantities. It returns nil without
// touching stock when nothing is applied.
func (s *DeliveryService) revertStock(ctx context.Context, d *domain.Delivery, box *outbox) (*StockReport, error) {
	if !d.StockImpactApplied {
		return nil, nil
	}
	if err := s.loadLines(ctx, d); err != nil {
		return nil, err
	}

	report := &StockReport{Action: "reverted"}
	for _, demand := range domain.StockDemand(d) {
		res, err := s.stock.Restore(ctx, demand.ProductID, d.LocationID, demand.Quantity, s.origin(d))
		if err != nil {
			return nil, fmt.Errorf("restore product %s: %w", demand.ProductID, err)
		}
		report.Movements += len(res.Allocations)
	}

	if err := s.store.SetStockImpactApplied(ctx, d.ID, false); err != nil {
		return nil, err
	}
	d.StockImpactApplied = false

	box.reverted = append(box.reverted, messaging.PrestationStockEvent{
		PrestationID: d.ID,
		LocationID:   d.LocationID,
		Movements:    report.Movements,
	})
	s.logger.WithOrigin(string(stockrepo.OriginServiceDelivery), d.ID).Info().
		Int("movements", report.Movements).Msg("stock impact reverted")
	return report, nil
}

// flush runs once the transaction has committed
func (s *DeliveryService) flush(ctx context.Context, box *outbox) {
	for _, e := range box.reverted {
		s.publisher.PublishStockReverted(ctx, e)
	}
	for _, e := range box.applied {
		for _, sf := range e.Shortfalls {
			s.logger.WithOrigin(string(stockrepo.OriginServiceDelivery), e.PrestationID).Warn().
				Str("product_id", sf.ProductID).
				Str("location_id", e.LocationID).
				Int("requested", sf.Requested).
				Int("allocated", sf.Allocated).
				Int("shortfall", sf.Missing).
				Msg("insufficient stock, consumption partially served")
		}
		s.publisher.PublishStockApplied(ctx, e)
	}
	for _, e := range box.statusChanges {
		s.publisher.PublishStatusChanged(ctx, e)
	}
}
