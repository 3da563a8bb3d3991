package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bjyoucef/inaya-project-sub001/internal/stock/events"
	"github.com/bjyoucef/inaya-project-sub001/internal/stock/repository"
	"github.com/bjyoucef/inaya-project-sub001/pkg/actor"
	"github.com/bjyoucef/inaya-project-sub001/pkg/database"
	"github.com/bjyoucef/inaya-project-sub001/pkg/errors"
	"github.com/bjyoucef/inaya-project-sub001/pkg/httputil"
	"github.com/bjyoucef/inaya-project-sub001/pkg/logger"
)

// Receipt is goods arriving at a location
type Receipt struct {
	ProductID  string            `json:"product_id" validate:"required"`
	LocationID string            `json:"location_id" validate:"required"`
	Quantity   int               `json:"quantity" validate:"gt=0"`
	ExpiryDate time.Time         `json:"expiry_date"`
	LotNumber  string            `json:"lot_number" validate:"max=64"`
	Origin     repository.Origin `json:"origin"`
}

// Ledger owns on-hand quantities per lot and the movement log behind them
type Ledger struct {
	tx        database.Transactor
	lots      LotStore
	movements MovementStore
	publisher *events.StockEventPublisher
	logger    *logger.Logger
}

// NewLedger creates a new stock ledger
func NewLedger(
	tx database.Transactor,
	lots LotStore,
	movements MovementStore,
	publisher *events.StockEventPublisher,
	log *logger.Logger,
) *Ledger {
	return &Ledger{
		tx:        tx,
		lots:      lots,
		movements: movements,
		publisher: publisher,
		logger:    log.WithComponent("stock-ledger"),
	}
}

func validateReceipt(ctx context.Context, r *Receipt) error {
	if err := httputil.ValidateCtx(ctx, r); err != nil {
		return err
	}
	if r.ExpiryDate.IsZero() {
		return errors.Validation(map[string]string{"expiry_date": "is required"})
	}
	if !r.Origin.Kind.Valid() || r.Origin.ID == "" {
		return errors.Validation(map[string]string{"origin": "must name a known transaction kind and id"})
	}
	return nil
}

// Receive adds quantity to the lot matching (product, location, expiry),
// creating the lot on first receipt, and logs one IN movement.
func (l *Ledger) Receive(ctx context.Context, r Receipt) (*repository.Lot, error) {
	lots, err := l.ReceiveAll(ctx, []Receipt{r})
	if err != nil {
		return nil, err
	}
	return lots[0], nil
}

// ReceiveAll receives every receipt in one transaction
func (l *Ledger) ReceiveAll(ctx context.Context, receipts []Receipt) ([]*repository.Lot, error) {
	lots, _, err := l.receiveAll(ctx, receipts, false)
	return lots, err
}

// ReceiveOnce is ReceiveAll for a delivery that may be presented more than
// once. When movements already exist for the receipts' origin nothing is
// written and duplicate is true.
func (l *Ledger) ReceiveOnce(ctx context.Context, receipts []Receipt) (lots []*repository.Lot, duplicate bool, err error) {
	return l.receiveAll(ctx, receipts, true)
}

func (l *Ledger) receiveAll(ctx context.Context, receipts []Receipt, once bool) ([]*repository.Lot, bool, error) {
	if len(receipts) == 0 {
		return nil, false, errors.Validation(map[string]string{"lines": "at least one line is required"})
	}
	for i := range receipts {
		if err := validateReceipt(ctx, &receipts[i]); err != nil {
			return nil, false, err
		}
	}

	var lots []*repository.Lot
	duplicate := false
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		lots = lots[:0]
		duplicate = false

		if once {
			seen, err := l.movements.HasOrigin(ctx, receipts[0].Origin)
			if err != nil {
				return err
			}
			if seen {
				duplicate = true
				return nil
			}
		}

		for _, r := range receipts {
			lot, err := l.receive(ctx, r)
			if err != nil {
				return err
			}
			lots = append(lots, lot)
		}
		return nil
	})
	if err != nil {
		return nil, false, database.MapError(err)
	}

	if duplicate {
		l.logger.Info().
			Str("origin_kind", string(receipts[0].Origin.Kind)).
			Str("origin_id", receipts[0].Origin.ID).
			Msg("receipt already recorded, skipping")
		return nil, true, nil
	}

	for i, lot := range lots {
		l.publisher.PublishReceived(ctx, lot, receipts[i].Quantity, receipts[i].Origin)
	}
	return lots, false, nil
}

// receive must run inside a transaction
func (l *Ledger) receive(ctx context.Context, r Receipt) (*repository.Lot, error) {
	lot, err := l.lots.FindByExpiryForUpdate(ctx, r.ProductID, r.LocationID, r.ExpiryDate)
	if err != nil {
		return nil, err
	}

	if lot != nil {
		lot.Quantity += r.Quantity
		if err := l.lots.SetQuantity(ctx, lot.ID, lot.Quantity); err != nil {
			return nil, err
		}
	} else {
		lotNumber, err := l.freeLotNumber(ctx, r.ProductID, r.LocationID, r.LotNumber, r.ExpiryDate)
		if err != nil {
			return nil, err
		}
		lot = &repository.Lot{
			ProductID:  r.ProductID,
			LocationID: r.LocationID,
			LotNumber:  lotNumber,
			ExpiryDate: dateOf(r.ExpiryDate),
			Quantity:   r.Quantity,
		}
		if err := l.lots.Create(ctx, lot); err != nil {
			return nil, err
		}
	}

	if _, err := l.record(ctx, repository.MovementIn, lot, r.Quantity, r.Origin); err != nil {
		return nil, err
	}
	return lot, nil
}

// freeLotNumber returns want, or a synthesized number when want is empty,
// suffixed when another lot of the pair already carries it.
func (l *Ledger) freeLotNumber(ctx context.Context, productID, locationID, want string, expiry time.Time) (string, error) {
	if want == "" {
		want = "L" + expiry.Format("20060102")
	}

	taken, err := l.lots.LotNumberTaken(ctx, productID, locationID, want)
	if err != nil {
		return "", err
	}
	if !taken {
		return want, nil
	}
	return want + "-" + uuid.NewString()[:8], nil
}

func (l *Ledger) record(ctx context.Context, kind repository.MovementKind, lot *repository.Lot, quantity int, origin repository.Origin) (*repository.Movement, error) {
	m := &repository.Movement{
		Kind:        kind,
		ProductID:   lot.ProductID,
		LocationID:  lot.LocationID,
		LotID:       lot.ID,
		LotNumber:   lot.LotNumber,
		Quantity:    quantity,
		OriginKind:  origin.Kind,
		OriginID:    origin.ID,
		PerformedBy: actor.IDFromContext(ctx),
	}
	if err := l.movements.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("record %s movement on lot %s: %w", kind, lot.ID, err)
	}
	return m, nil
}

// RecordMovement appends a ledger entry without touching lot quantities;
// callers update the lot themselves in the same transaction.
func (l *Ledger) RecordMovement(ctx context.Context, m *repository.Movement) error {
	details := map[string]string{}
	if m.Kind != repository.MovementIn && m.Kind != repository.MovementOut {
		details["kind"] = "must be one of: IN, OUT"
	}
	if m.Quantity <= 0 {
		details["quantity"] = "must be greater than zero"
	}
	if !m.OriginKind.Valid() || m.OriginID == "" {
		details["origin"] = "must name a known transaction kind and id"
	}
	if m.LotID == "" || m.ProductID == "" || m.LocationID == "" {
		details["lot_id"] = "lot, product and location are required"
	}
	if len(details) > 0 {
		return errors.Validation(details)
	}

	if m.PerformedBy == "" {
		m.PerformedBy = actor.IDFromContext(ctx)
	}
	return database.MapError(l.movements.Insert(ctx, m))
}

// ListLots lists lots; exhausted lots only when IncludeEmpty is set
func (l *Ledger) ListLots(ctx context.Context, filter repository.LotFilter) ([]*repository.Lot, error) {
	return l.lots.List(ctx, filter)
}

// ListMovements lists ledger entries newest first
func (l *Ledger) ListMovements(ctx context.Context, filter repository.MovementFilter) ([]*repository.Movement, int64, error) {
	return l.movements.List(ctx, filter)
}

// Balance compares on-hand and ledger totals for a pair
func (l *Ledger) Balance(ctx context.Context, productID, locationID string) (*repository.Balance, error) {
	if productID == "" || locationID == "" {
		return nil, errors.Validation(map[string]string{"product_id": "product and location are required"})
	}
	return l.movements.Balance(ctx, productID, locationID)
}
