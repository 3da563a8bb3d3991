// Package prestationtest provides an in-memory delivery, catalog and
// pricing store sharing transactions with a stocktest.Memory.
package prestationtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bjyoucef/inaya-project-sub001/internal/prestation/domain"
	"github.com/bjyoucef/inaya-project-sub001/internal/prestation/repository"
	stockrepo "github.com/bjyoucef/inaya-project-sub001/internal/stock/repository"
	"github.com/bjyoucef/inaya-project-sub001/internal/stock/stocktest"
	"github.com/bjyoucef/inaya-project-sub001/pkg/errors"
)

type txKey struct{}

// Tariff is a tariff schedule entry. An empty ConventionID makes it the
// act's own tariff.
type Tariff struct {
	ConventionID string
	ActID        string
	Amount       decimal.Decimal
	Effective    time.Time
}

// Honorarium is an honorarium schedule entry. With a PractitionerID it is a
// practitioner override, whose empty ConventionID means uncovered patients.
// Without one it is the convention's base, or the act's own when
// ConventionID is empty too.
type Honorarium struct {
	PractitionerID string
	ConventionID   string
	ActID          string
	Amount         decimal.Decimal
	Effective      time.Time
	IsDefault      bool
}

// Memory implements the prestation stores over plain maps. Transactions
// span the stock memory as well, and a failed one restores both.
type Memory struct {
	Stock *stocktest.Memory

	mu         sync.Mutex
	deliveries map[string]*domain.Delivery
	lines      map[string][]*domain.LineItem
	bom        map[string][]*domain.ActProduct
	products   map[string]*stockrepo.Product

	Tariffs   []Tariff
	Honoraria []Honorarium

	// FailPricing, when set, is returned by every schedule lookup.
	FailPricing error
	// FailStockFlag, when set, is returned by the next stock impact flag write.
	FailStockFlag error
}

// NewMemory creates an empty store over stock
func NewMemory(stock *stocktest.Memory) *Memory {
	return &Memory{
		Stock:      stock,
		deliveries: make(map[string]*domain.Delivery),
		lines:      make(map[string][]*domain.LineItem),
		bom:        make(map[string][]*domain.ActProduct),
		products:   make(map[string]*stockrepo.Product),
	}
}

// InTx runs fn in a transaction of both stores
func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	m.mu.Lock()
	deliveries := make(map[string]*domain.Delivery, len(m.deliveries))
	for id, d := range m.deliveries {
		c := *d
		deliveries[id] = &c
	}
	lines := make(map[string][]*domain.LineItem, len(m.lines))
	for id, l := range m.lines {
		lines[id] = l
	}
	m.mu.Unlock()

	err := m.Stock.InTx(context.WithValue(ctx, txKey{}, true), fn)
	if err != nil {
		m.mu.Lock()
		m.deliveries, m.lines = deliveries, lines
		m.mu.Unlock()
	}
	return err
}

// AddProduct seeds a catalog product
func (m *Memory) AddProduct(id, name string, unitPrice decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[id] = &stockrepo.Product{ID: id, Name: name, UnitPrice: unitPrice}
}

// AddActProduct seeds a bill of materials entry
func (m *Memory) AddActProduct(actID, productID string, defaultQuantity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bom[actID] = append(m.bom[actID], &domain.ActProduct{
		ActID:           actID,
		ProductID:       productID,
		DefaultQuantity: defaultQuantity,
	})
}

// Delivery returns a copy of a stored delivery header
func (m *Memory) Delivery(id string) (domain.Delivery, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return domain.Delivery{}, false
	}
	return *d, true
}

// Create stores a delivery header
func (m *Memory) Create(_ context.Context, d *domain.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deliveries[d.ID]; ok {
		return errors.Conflict("a record with this identifier already exists")
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	c := *d
	c.Lines = nil
	m.deliveries[d.ID] = &c
	return nil
}

// GetByID returns a copy of a header
func (m *Memory) GetByID(_ context.Context, id string) (*domain.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, errors.NotFound("prestation")
	}
	c := *d
	return &c, nil
}

// GetForUpdate returns a copy of a header
func (m *Memory) GetForUpdate(ctx context.Context, id string) (*domain.Delivery, error) {
	return m.GetByID(ctx, id)
}

// List filters headers, most recent first
func (m *Memory) List(_ context.Context, f repository.DeliveryFilter) ([]*domain.Delivery, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []*domain.Delivery{}
	for _, d := range m.deliveries {
		switch {
		case f.Status != "" && d.Status != f.Status,
			f.PatientID != "" && d.PatientID != f.PatientID,
			f.PractitionerID != "" && d.PractitionerID != f.PractitionerID,
			f.LocationID != "" && d.LocationID != f.LocationID,
			f.From != nil && d.DeliveredAt.Before(*f.From),
			f.To != nil && !d.DeliveredAt.Before(*f.To):
			continue
		}
		c := *d
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DeliveredAt.Equal(out[j].DeliveredAt) {
			return out[i].DeliveredAt.After(out[j].DeliveredAt)
		}
		return out[i].ID < out[j].ID
	})

	total := int64(len(out))
	if f.Offset > 0 {
		out = out[min(f.Offset, len(out)):]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *Memory) update(id string, fn func(d *domain.Delivery)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return errors.NotFound("prestation")
	}
	c := *d
	fn(&c)
	c.UpdatedAt = time.Now().UTC()
	m.deliveries[id] = &c
	return nil
}

// Update writes the editable header fields
func (m *Memory) Update(_ context.Context, d *domain.Delivery) error {
	return m.update(d.ID, func(c *domain.Delivery) {
		c.PatientID = d.PatientID
		c.PractitionerID = d.PractitionerID
		c.LocationID = d.LocationID
		c.DeliveredAt = d.DeliveredAt
		c.ExtraFee = d.ExtraFee
		c.ExtraFeePractitionerShare = d.ExtraFeePractitionerShare
		c.Notes = d.Notes
	})
}

// SetStatus writes the status
func (m *Memory) SetStatus(_ context.Context, id string, status domain.Status) error {
	return m.update(id, func(c *domain.Delivery) { c.Status = status })
}

// SetStockImpactApplied writes the stock impact flag
func (m *Memory) SetStockImpactApplied(_ context.Context, id string, applied bool) error {
	m.mu.Lock()
	err := m.FailStockFlag
	m.FailStockFlag = nil
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.update(id, func(c *domain.Delivery) { c.StockImpactApplied = applied })
}

// SetTotalPrice writes the total price
func (m *Memory) SetTotalPrice(_ context.Context, id string, total decimal.Decimal) error {
	return m.update(id, func(c *domain.Delivery) { c.TotalPrice = total })
}

// Delete removes a delivery and its lines
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deliveries[id]; !ok {
		return errors.NotFound("prestation")
	}
	delete(m.deliveries, id)
	delete(m.lines, id)
	return nil
}

// ReplaceLines stores deep copies of lines
func (m *Memory) ReplaceLines(_ context.Context, deliveryID string, lines []*domain.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]*domain.LineItem, len(lines))
	for i, l := range lines {
		l.ID = deliveryID + "-line-" + string(rune('a'+i))
		l.DeliveryID = deliveryID
		l.Position = i
		for j, c := range l.Consumptions {
			c.LineItemID = l.ID
			c.Position = j
		}
		stored[i] = copyLine(l)
	}
	m.lines[deliveryID] = stored
	return nil
}

// ListLines returns deep copies of a delivery's lines
func (m *Memory) ListLines(_ context.Context, deliveryID string) ([]*domain.LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.LineItem, len(m.lines[deliveryID]))
	for i, l := range m.lines[deliveryID] {
		out[i] = copyLine(l)
	}
	return out, nil
}

func copyLine(l *domain.LineItem) *domain.LineItem {
	c := *l
	c.Consumptions = make([]*domain.Consumption, len(l.Consumptions))
	for i, rec := range l.Consumptions {
		r := *rec
		c.Consumptions[i] = &r
	}
	return &c
}

// BillOfMaterials lists an act's default products ordered by product
func (m *Memory) BillOfMaterials(_ context.Context, actID string) ([]*domain.ActProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.ActProduct, 0, len(m.bom[actID]))
	for _, p := range m.bom[actID] {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// GetProduct returns a catalog product
func (m *Memory) GetProduct(_ context.Context, id string) (*stockrepo.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, errors.NotFound("product")
	}
	c := *p
	return &c, nil
}

func (m *Memory) latestTariff(match func(Tariff) bool, asOf time.Time) (*decimal.Decimal, error) {
	if m.FailPricing != nil {
		return nil, m.FailPricing
	}
	var best *Tariff
	for i, t := range m.Tariffs {
		if !match(t) || t.Effective.After(asOf) {
			continue
		}
		if best == nil || t.Effective.After(best.Effective) {
			best = &m.Tariffs[i]
		}
	}
	if best == nil {
		return nil, nil
	}
	amount := best.Amount
	return &amount, nil
}

func (m *Memory) latestHonorarium(match func(Honorarium) bool, asOf time.Time, preferDefault bool) (*decimal.Decimal, error) {
	if m.FailPricing != nil {
		return nil, m.FailPricing
	}
	var best *Honorarium
	for i, h := range m.Honoraria {
		if !match(h) || h.Effective.After(asOf) {
			continue
		}
		switch {
		case best == nil:
		case preferDefault && h.IsDefault != best.IsDefault:
			if !h.IsDefault {
				continue
			}
		case !h.Effective.After(best.Effective):
			continue
		}
		best = &m.Honoraria[i]
	}
	if best == nil {
		return nil, nil
	}
	amount := best.Amount
	return &amount, nil
}

// ConventionTariff implements the pricing store
func (m *Memory) ConventionTariff(_ context.Context, conventionID, actID string, asOf time.Time) (*decimal.Decimal, error) {
	return m.latestTariff(func(t Tariff) bool {
		return t.ConventionID == conventionID && t.ActID == actID
	}, asOf)
}

// ActTariff implements the pricing store
func (m *Memory) ActTariff(_ context.Context, actID string, asOf time.Time) (*decimal.Decimal, error) {
	return m.latestTariff(func(t Tariff) bool {
		return t.ConventionID == "" && t.ActID == actID
	}, asOf)
}

// PractitionerHonorarium implements the pricing store
func (m *Memory) PractitionerHonorarium(_ context.Context, practitionerID, actID string, conventionID *string, asOf time.Time) (*decimal.Decimal, error) {
	conv := ""
	if conventionID != nil {
		conv = *conventionID
	}
	return m.latestHonorarium(func(h Honorarium) bool {
		return h.PractitionerID == practitionerID && h.ActID == actID && h.ConventionID == conv
	}, asOf, false)
}

// ConventionHonorarium implements the pricing store
func (m *Memory) ConventionHonorarium(_ context.Context, conventionID, actID string, asOf time.Time) (*decimal.Decimal, error) {
	return m.latestHonorarium(func(h Honorarium) bool {
		return h.PractitionerID == "" && h.ConventionID == conventionID && h.ActID == actID
	}, asOf, false)
}

// ActHonorarium implements the pricing store
func (m *Memory) ActHonorarium(_ context.Context, actID string, asOf time.Time) (*decimal.Decimal, error) {
	return m.latestHonorarium(func(h Honorarium) bool {
		return h.PractitionerID == "" && h.ConventionID == "" && h.ActID == actID
	}, asOf, true)
}
