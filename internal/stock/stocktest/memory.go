// Package stocktest provides an in-memory stock store for unit tests of
// code built on the stock services.
package stocktest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bjyoucef/inaya-project-sub001/internal/stock/repository"
	"github.com/bjyoucef/inaya-project-sub001/pkg/errors"
)

type txKey struct{}

// Memory implements the lot store, the movement store and the transactor
// over plain maps. A failed outermost transaction restores the state it
// started from.
type Memory struct {
	mu        sync.Mutex
	lots      map[string]*repository.Lot
	movements []*repository.Movement
	seq       int64

	// FailInsert, when set, is returned by the next movement insert.
	FailInsert error
	// TxCalls counts outermost transactions.
	TxCalls int
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{lots: make(map[string]*repository.Lot)}
}

// InTx runs fn, rolling back on error
func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	m.mu.Lock()
	m.TxCalls++
	lots := make(map[string]*repository.Lot, len(m.lots))
	for id, l := range m.lots {
		c := *l
		lots[id] = &c
	}
	movements := append([]*repository.Movement(nil), m.movements...)
	seq := m.seq
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		m.mu.Lock()
		m.lots, m.movements, m.seq = lots, movements, seq
		m.mu.Unlock()
		return err
	}
	return nil
}

// AddLot seeds a lot
func (m *Memory) AddLot(productID, locationID, lotNumber string, expiry time.Time, quantity int) *repository.Lot {
	lot := &repository.Lot{
		ID:         uuid.NewString(),
		ProductID:  productID,
		LocationID: locationID,
		LotNumber:  lotNumber,
		ExpiryDate: expiry,
		Quantity:   quantity,
	}
	m.mu.Lock()
	m.lots[lot.ID] = lot
	m.mu.Unlock()
	return lot
}

// Lot returns a copy of a lot
func (m *Memory) Lot(id string) repository.Lot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.lots[id]
}

// Quantities returns the quantities of lots in the given order
func (m *Memory) Quantities(ids ...string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = m.lots[id].Quantity
	}
	return out
}

// Movements returns all recorded movements in insertion order
func (m *Memory) Movements() []repository.Movement {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]repository.Movement, len(m.movements))
	for i, mv := range m.movements {
		out[i] = *mv
	}
	return out
}

// LotsFor returns copies of the lots of a (product, location) pair ordered by expiry
func (m *Memory) LotsFor(productID, locationID string) []repository.Lot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.Lot
	for _, l := range m.sorted() {
		if l.ProductID == productID && l.LocationID == locationID {
			out = append(out, *l)
		}
	}
	return out
}

func (m *Memory) sorted() []*repository.Lot {
	out := make([]*repository.Lot, 0, len(m.lots))
	for _, l := range m.lots {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiryDate.Equal(out[j].ExpiryDate) {
			return out[i].ExpiryDate.Before(out[j].ExpiryDate)
		}
		return out[i].LotNumber < out[j].LotNumber
	})
	return out
}

func day(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

// Create inserts a lot
func (m *Memory) Create(_ context.Context, lot *repository.Lot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lots {
		if l.ProductID == lot.ProductID && l.LocationID == lot.LocationID {
			if day(l.ExpiryDate).Equal(day(lot.ExpiryDate)) || l.LotNumber == lot.LotNumber {
				return errors.Conflict("lot already exists")
			}
		}
	}
	if lot.ID == "" {
		lot.ID = uuid.NewString()
	}
	lot.CreatedAt = time.Now()
	lot.UpdatedAt = lot.CreatedAt
	c := *lot
	m.lots[lot.ID] = &c
	return nil
}

// GetForUpdate returns a lot by ID
func (m *Memory) GetForUpdate(_ context.Context, id string) (*repository.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lots[id]
	if !ok {
		return nil, errors.NotFound("lot")
	}
	c := *l
	return &c, nil
}

// FindByExpiryForUpdate returns the lot with the given expiry, or nil
func (m *Memory) FindByExpiryForUpdate(_ context.Context, productID, locationID string, expiry time.Time) (*repository.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lots {
		if l.ProductID == productID && l.LocationID == locationID && day(l.ExpiryDate).Equal(day(expiry)) {
			c := *l
			return &c, nil
		}
	}
	return nil, nil
}

// EarliestUsableForUpdate returns the earliest lot not expired on asOf, or nil
func (m *Memory) EarliestUsableForUpdate(_ context.Context, productID, locationID string, asOf time.Time) (*repository.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.sorted() {
		if l.ProductID == productID && l.LocationID == locationID && !day(l.ExpiryDate).Before(day(asOf)) {
			c := *l
			return &c, nil
		}
	}
	return nil, nil
}

// LockAvailable returns the consumable lots in FIFO-by-expiry order
func (m *Memory) LockAvailable(_ context.Context, productID, locationID string, asOf time.Time) ([]*repository.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Lot
	for _, l := range m.sorted() {
		if l.ProductID == productID && l.LocationID == locationID &&
			l.Quantity > 0 && !day(l.ExpiryDate).Before(day(asOf)) {
			c := *l
			out = append(out, &c)
		}
	}
	return out, nil
}

// LotNumberTaken reports whether a lot number is in use
func (m *Memory) LotNumberTaken(_ context.Context, productID, locationID, lotNumber string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lots {
		if l.ProductID == productID && l.LocationID == locationID && l.LotNumber == lotNumber {
			return true, nil
		}
	}
	return false, nil
}

// SetQuantity overwrites a lot quantity
func (m *Memory) SetQuantity(_ context.Context, id string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lots[id]
	if !ok {
		return errors.NotFound("lot")
	}
	if quantity < 0 {
		return errors.Validation(map[string]string{"quantity": "stock quantity cannot become negative"})
	}
	l.Quantity = quantity
	l.UpdatedAt = time.Now()
	return nil
}

// List lists lots matching filter
func (m *Memory) List(_ context.Context, filter repository.LotFilter) ([]*repository.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*repository.Lot{}
	for _, l := range m.sorted() {
		if filter.ProductID != "" && l.ProductID != filter.ProductID {
			continue
		}
		if filter.LocationID != "" && l.LocationID != filter.LocationID {
			continue
		}
		if !filter.IncludeEmpty && l.Quantity == 0 {
			continue
		}
		c := *l
		out = append(out, &c)
	}
	return out, nil
}

// Insert appends a movement
func (m *Memory) Insert(_ context.Context, mv *repository.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailInsert != nil {
		err := m.FailInsert
		m.FailInsert = nil
		return err
	}
	if mv.ID == "" {
		mv.ID = uuid.NewString()
	}
	m.seq++
	mv.Seq = m.seq
	mv.CreatedAt = time.Now()
	c := *mv
	m.movements = append(m.movements, &c)
	return nil
}

// ListByOrigin lists movements of origin for a pair in insertion order
func (m *Memory) ListByOrigin(_ context.Context, origin repository.Origin, productID, locationID string) ([]*repository.Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Movement
	for _, mv := range m.movements {
		if mv.OriginKind == origin.Kind && mv.OriginID == origin.ID &&
			mv.ProductID == productID && mv.LocationID == locationID {
			c := *mv
			out = append(out, &c)
		}
	}
	return out, nil
}

// HasOrigin reports whether origin has movements
func (m *Memory) HasOrigin(_ context.Context, origin repository.Origin) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mv := range m.movements {
		if mv.OriginKind == origin.Kind && mv.OriginID == origin.ID {
			return true, nil
		}
	}
	return false, nil
}

// ListMovements lists movements newest first
func (m *Memory) ListMovements(_ context.Context, filter repository.MovementFilter) ([]*repository.Movement, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*repository.Movement
	for i := len(m.movements) - 1; i >= 0; i-- {
		mv := m.movements[i]
		if filter.ProductID != "" && mv.ProductID != filter.ProductID {
			continue
		}
		if filter.LocationID != "" && mv.LocationID != filter.LocationID {
			continue
		}
		if filter.Kind != "" && mv.Kind != filter.Kind {
			continue
		}
		if filter.OriginKind != "" && mv.OriginKind != filter.OriginKind {
			continue
		}
		if filter.OriginID != "" && mv.OriginID != filter.OriginID {
			continue
		}
		c := *mv
		matched = append(matched, &c)
	}
	total := int64(len(matched))
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	if matched == nil {
		matched = []*repository.Movement{}
	}
	return matched, total, nil
}

// Balance computes lot and ledger totals for a pair
func (m *Memory) Balance(_ context.Context, productID, locationID string) (*repository.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance(productID, locationID), nil
}

func (m *Memory) balance(productID, locationID string) *repository.Balance {
	b := &repository.Balance{ProductID: productID, LocationID: locationID}
	for _, l := range m.lots {
		if l.ProductID == productID && l.LocationID == locationID {
			b.LotTotal += int64(l.Quantity)
		}
	}
	for _, mv := range m.movements {
		if mv.ProductID == productID && mv.LocationID == locationID {
			b.LedgerTotal += int64(mv.Signed())
		}
	}
	return b
}

// Mismatches lists pairs whose lot and ledger totals differ
func (m *Memory) Mismatches(_ context.Context) ([]*repository.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type pair struct{ product, location string }
	seen := map[pair]bool{}
	var pairs []pair
	add := func(p pair) {
		if !seen[p] {
			seen[p] = true
			pairs = append(pairs, p)
		}
	}
	for _, l := range m.lots {
		add(pair{l.ProductID, l.LocationID})
	}
	for _, mv := range m.movements {
		add(pair{mv.ProductID, mv.LocationID})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].product != pairs[j].product {
			return pairs[i].product < pairs[j].product
		}
		return pairs[i].location < pairs[j].location
	})

	out := []*repository.Balance{}
	for _, p := range pairs {
		if b := m.balance(p.product, p.location); b.Difference() != 0 {
			out = append(out, b)
		}
	}
	return out, nil
}

// MovementView exposes a Memory as a movement store, whose List has a
// different signature from the lot store's.
type MovementView struct{ *Memory }

// Ledger returns the movement-store view of m
func (m *Memory) Ledger() MovementView {
	return MovementView{m}
}

// List lists movements
func (v MovementView) List(ctx context.Context, filter repository.MovementFilter) ([]*repository.Movement, int64, error) {
	return v.Memory.ListMovements(ctx, filter)
}
