package service

import (
	"context"
	"sort"
	"time"

	"github.com/bjyoucef/inaya-project-sub001/internal/stock/repository"
	"github.com/bjyoucef/inaya-project-sub001/pkg/config"
	"github.com/bjyoucef/inaya-project-sub001/pkg/database"
	"github.com/bjyoucef/inaya-project-sub001/pkg/errors"
	"github.com/bjyoucef/inaya-project-sub001/pkg/logger"
)

// Allocation is the part of a request served by one lot
type Allocation struct {
	LotID      string    `json:"lot_id"`
	LotNumber  string    `json:"lot_number"`
	ExpiryDate time.Time `json:"expiry_date"`
	Quantity   int       `json:"quantity"`
}

// ConsumeResult describes how a consumption request was served
type ConsumeResult struct {
	ProductID   string       `json:"product_id"`
	LocationID  string       `json:"location_id"`
	Requested   int          `json:"requested"`
	Allocated   int          `json:"allocated"`
	Allocations []Allocation `json:"allocations"`
}

// Shortfall is the quantity that could not be served
func (r *ConsumeResult) Shortfall() int {
	return r.Requested - r.Allocated
}

// RestoreResult describes where restored quantities went
type RestoreResult struct {
	ProductID   string       `json:"product_id"`
	LocationID  string       `json:"location_id"`
	Restored    int          `json:"restored"`
	Allocations []Allocation `json:"allocations"`
}

// Allocator consumes and restores stock lot by lot, earliest expiry first.
// Both operations join the caller's transaction when there is one.
type Allocator struct {
	tx                database.Transactor
	lots              LotStore
	movements         MovementStore
	ledger            *Ledger
	restorationExpiry time.Time
	restorationPrefix string
	now               func() time.Time
	logger            *logger.Logger
}

// NewAllocator creates a new lot allocator
func NewAllocator(
	tx database.Transactor,
	lots LotStore,
	movements MovementStore,
	ledger *Ledger,
	cfg config.StockConfig,
	log *logger.Logger,
) (*Allocator, error) {
	expiry, err := cfg.RestorationExpiryDate()
	if err != nil {
		return nil, err
	}
	prefix := cfg.RestorationLotPrefix
	if prefix == "" {
		prefix = "RESTORE"
	}

	return &Allocator{
		tx:                tx,
		lots:              lots,
		movements:         movements,
		ledger:            ledger,
		restorationExpiry: expiry,
		restorationPrefix: prefix,
		now:               time.Now,
		logger:            log.WithComponent("lot-allocator"),
	}, nil
}

// WithClock replaces the clock deciding which lots have expired
func (a *Allocator) WithClock(now func() time.Time) *Allocator {
	a.now = now
	return a
}

func (a *Allocator) today() time.Time {
	return dateOf(a.now())
}

// Consume takes quantity of a product from its location, draining usable
// lots in (expiry date, lot number) order with one OUT movement per lot.
// Running out of stock is not an error: what could be taken stays taken and
// the result reports the shortfall. Consume may join an outer transaction,
// so reporting the shortfall is left to the caller once that commits.
func (a *Allocator) Consume(ctx context.Context, productID, locationID string, quantity int, origin repository.Origin) (*ConsumeResult, error) {
	if quantity <= 0 {
		return nil, errors.Validation(map[string]string{"quantity": "must be greater than zero"})
	}

	var result *ConsumeResult
	err := a.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		result, err = a.consume(ctx, productID, locationID, quantity, origin)
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (a *Allocator) consume(ctx context.Context, productID, locationID string, quantity int, origin repository.Origin) (*ConsumeResult, error) {
	result := &ConsumeResult{
		ProductID:   productID,
		LocationID:  locationID,
		Requested:   quantity,
		Allocations: []Allocation{},
	}

	lots, err := a.lots.LockAvailable(ctx, productID, locationID, a.today())
	if err != nil {
		return nil, err
	}

	remaining := quantity
	for _, lot := range lots {
		if remaining == 0 {
			break
		}

		take := min(remaining, lot.Quantity)
		if err := a.lots.SetQuantity(ctx, lot.ID, lot.Quantity-take); err != nil {
			return nil, err
		}
		lot.Quantity -= take
		if _, err := a.ledger.record(ctx, repository.MovementOut, lot, take, origin); err != nil {
			return nil, err
		}

		remaining -= take
		result.Allocated += take
		result.Allocations = append(result.Allocations, Allocation{
			LotID:      lot.ID,
			LotNumber:  lot.LotNumber,
			ExpiryDate: lot.ExpiryDate,
			Quantity:   take,
		})
	}

	return result, nil
}

// Restore puts quantity of a product back at its location. Quantities first
// go back to the lots that origin consumed from, latest allocation first and
// net of what origin already restored. Any remainder goes to the
// earliest-expiring usable lot, or to a restoration lot when the location has
// none.
func (a *Allocator) Restore(ctx context.Context, productID, locationID string, quantity int, origin repository.Origin) (*RestoreResult, error) {
	if quantity <= 0 {
		return nil, errors.Validation(map[string]string{"quantity": "must be greater than zero"})
	}

	var result *RestoreResult
	err := a.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		result, err = a.restore(ctx, productID, locationID, quantity, origin)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type restorable struct {
	lotID   string
	lastOut int64
	open    int
}

func (a *Allocator) restore(ctx context.Context, productID, locationID string, quantity int, origin repository.Origin) (*RestoreResult, error) {
	result := &RestoreResult{
		ProductID:   productID,
		LocationID:  locationID,
		Allocations: []Allocation{},
	}

	targets, err := a.openAllocations(ctx, productID, locationID, origin)
	if err != nil {
		return nil, err
	}

	remaining := quantity
	for _, t := range targets {
		if remaining == 0 {
			break
		}
		lot, err := a.lots.GetForUpdate(ctx, t.lotID)
		if err != nil {
			return nil, err
		}
		give := min(remaining, t.open)
		if err := a.putBack(ctx, lot, give, origin, result); err != nil {
			return nil, err
		}
		remaining -= give
	}

	if remaining > 0 {
		lot, err := a.fallbackLot(ctx, productID, locationID)
		if err != nil {
			return nil, err
		}
		if lot == nil {
			created, err := a.ledger.receive(ctx, Receipt{
				ProductID:  productID,
				LocationID: locationID,
				Quantity:   remaining,
				ExpiryDate: a.restorationExpiry,
				LotNumber:  a.restorationPrefix + "-" + a.restorationExpiry.Format("20060102"),
				Origin:     origin,
			})
			if err != nil {
				return nil, err
			}
			result.Restored += remaining
			result.Allocations = append(result.Allocations, Allocation{
				LotID:      created.ID,
				LotNumber:  created.LotNumber,
				ExpiryDate: created.ExpiryDate,
				Quantity:   remaining,
			})
			a.logger.WithOrigin(string(origin.Kind), origin.ID).Info().
				Str("product_id", productID).
				Str("location_id", locationID).
				Str("lot_number", created.LotNumber).
				Int("quantity", remaining).
				Msg("restored into restoration lot")
		} else if err := a.putBack(ctx, lot, remaining, origin, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// openAllocations returns, per lot, what origin took and has not yet put
// back, most recently consumed lot first.
func (a *Allocator) openAllocations(ctx context.Context, productID, locationID string, origin repository.Origin) ([]restorable, error) {
	history, err := a.movements.ListByOrigin(ctx, origin, productID, locationID)
	if err != nil {
		return nil, err
	}

	byLot := map[string]*restorable{}
	for _, m := range history {
		r, ok := byLot[m.LotID]
		if !ok {
			r = &restorable{lotID: m.LotID}
			byLot[m.LotID] = r
		}
		if m.Kind == repository.MovementOut {
			r.open += m.Quantity
			r.lastOut = m.Seq
		} else {
			r.open -= m.Quantity
		}
	}

	var out []restorable
	for _, r := range byLot {
		if r.open > 0 {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].lastOut > out[j].lastOut })
	return out, nil
}

// fallbackLot locks the earliest-expiring lot still usable today, or the
// existing restoration lot. It returns nil when neither exists.
func (a *Allocator) fallbackLot(ctx context.Context, productID, locationID string) (*repository.Lot, error) {
	lot, err := a.lots.EarliestUsableForUpdate(ctx, productID, locationID, a.today())
	if err != nil || lot != nil {
		return lot, err
	}
	return a.lots.FindByExpiryForUpdate(ctx, productID, locationID, a.restorationExpiry)
}

func (a *Allocator) putBack(ctx context.Context, lot *repository.Lot, quantity int, origin repository.Origin, result *RestoreResult) error {
	if err := a.lots.SetQuantity(ctx, lot.ID, lot.Quantity+quantity); err != nil {
		return err
	}
	lot.Quantity += quantity
	if _, err := a.ledger.record(ctx, repository.MovementIn, lot, quantity, origin); err != nil {
		return err
	}
	result.Restored += quantity
	result.Allocations = append(result.Allocations, Allocation{
		LotID:      lot.ID,
		LotNumber:  lot.LotNumber,
		ExpiryDate: lot.ExpiryDate,
		Quantity:   quantity,
	})
	return nil
}
