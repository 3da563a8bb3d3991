package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bjyoucef/inaya-project-sub001/pkg/database"
)

// Fixtures inserts reference rows for integration tests.
type Fixtures struct {
	db *database.DB
}

// NewFixtures creates a fixture factory writing to db
func NewFixtures(db *database.DB) *Fixtures {
	return &Fixtures{db: db}
}

func (f *Fixtures) exec(t *testing.T, query string, args ...interface{}) {
	t.Helper()
	if _, err := f.db.ExecContext(context.Background(), query, args...); err != nil {
		t.Fatalf("fixture insert failed: %v\n%s", err, query)
	}
}

// Date parses a YYYY-MM-DD literal in UTC.
func Date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

// Money parses a decimal literal.
func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Product inserts a product and returns its ID
func (f *Fixtures) Product(t *testing.T, name string, unitPrice string) string {
	t.Helper()
	id := uuid.NewString()
	f.exec(t, `INSERT INTO products (id, name, unit_price) VALUES ($1, $2, $3)`, id, name, unitPrice)
	return id
}

// Location inserts a service location and returns its ID
func (f *Fixtures) Location(t *testing.T, name string) string {
	t.Helper()
	id := uuid.NewString()
	f.exec(t, `INSERT INTO locations (id, name) VALUES ($1, $2)`, id, name)
	return id
}

// Lot inserts a stock lot directly, without a movement. Pair it with
// LedgerIn when a test needs the ledger to reconcile.
func (f *Fixtures) Lot(t *testing.T, productID, locationID, lotNumber, expiry string, quantity int) string {
	t.Helper()
	id := uuid.NewString()
	f.exec(t, `
		INSERT INTO stock_lots (id, product_id, location_id, lot_number, expiry_date, quantity)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, productID, locationID, lotNumber, expiry, quantity)
	return id
}

// LedgerIn records the IN movement matching a Lot fixture.
func (f *Fixtures) LedgerIn(t *testing.T, lotID, productID, locationID, lotNumber string, quantity int) {
	t.Helper()
	f.exec(t, `
		INSERT INTO stock_movements
			(id, kind, product_id, location_id, lot_id, lot_number, quantity, origin_kind, origin_id, performed_by)
		VALUES ($1, 'IN', $2, $3, $4, $5, $6, 'purchase', 'fixture', 'fixture')`,
		uuid.NewString(), productID, locationID, lotID, lotNumber, quantity)
}

// Act inserts a medical act and returns its ID
func (f *Fixtures) Act(t *testing.T, code, name string) string {
	t.Helper()
	id := uuid.NewString()
	f.exec(t, `INSERT INTO medical_acts (id, code, name) VALUES ($1, $2, $3)`, id, code, name)
	return id
}

// ActProduct adds a product to an act's standard bill of materials
func (f *Fixtures) ActProduct(t *testing.T, actID, productID string, defaultQuantity int) {
	t.Helper()
	f.exec(t, `INSERT INTO act_products (act_id, product_id, default_quantity) VALUES ($1, $2, $3)`,
		actID, productID, defaultQuantity)
}

// Convention inserts a payer convention and returns its ID
func (f *Fixtures) Convention(t *testing.T, name string) string {
	t.Helper()
	id := uuid.NewString()
	f.exec(t, `INSERT INTO conventions (id, name) VALUES ($1, $2)`, id, name)
	return id
}

// ActTariff inserts an act default tariff
func (f *Fixtures) ActTariff(t *testing.T, actID, amount, effective string) {
	t.Helper()
	f.exec(t, `INSERT INTO act_tariffs (id, act_id, amount, effective_date) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), actID, amount, effective)
}

// ConventionTariff inserts a convention-specific tariff
func (f *Fixtures) ConventionTariff(t *testing.T, conventionID, actID, amount, effective string) {
	t.Helper()
	f.exec(t, `
		INSERT INTO convention_tariffs (id, convention_id, act_id, amount, effective_date)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), conventionID, actID, amount, effective)
}

// ActHonorarium inserts an act-level honorarium
func (f *Fixtures) ActHonorarium(t *testing.T, actID, amount, effective string, isDefault bool) {
	t.Helper()
	f.exec(t, `
		INSERT INTO act_honoraria (id, act_id, amount, effective_date, is_default)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), actID, amount, effective, isDefault)
}

// ConventionHonorarium inserts a convention base honorarium
func (f *Fixtures) ConventionHonorarium(t *testing.T, conventionID, actID, amount, effective string) {
	t.Helper()
	f.exec(t, `
		INSERT INTO convention_honoraria (id, convention_id, act_id, amount, effective_date)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), conventionID, actID, amount, effective)
}

// PractitionerHonorarium inserts a practitioner override and returns its ID.
// An empty conventionID stores NULL.
func (f *Fixtures) PractitionerHonorarium(t *testing.T, practitionerID, actID, conventionID, amount, effective string) string {
	t.Helper()
	id := uuid.NewString()
	var conv interface{}
	if conventionID != "" {
		conv = conventionID
	}
	f.exec(t, `
		INSERT INTO practitioner_honoraria (id, practitioner_id, act_id, convention_id, amount, effective_date)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, practitionerID, actID, conv, amount, effective)
	return id
}
