package service_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjyoucef/inaya-project-sub001/internal/prestation/domain"
	"github.com/bjyoucef/inaya-project-sub001/internal/prestation/events"
	"github.com/bjyoucef/inaya-project-sub001/internal/prestation/prestationtest"
	"github.com/bjyoucef/inaya-project-sub001/internal/prestation/repository"
	"github.com/bjyoucef/inaya-project-sub001/internal/prestation/service"
	stockrepo "github.com/bjyoucef/inaya-project-sub001/internal/stock/repository"
	stocksvc "github.com/bjyoucef/inaya-project-sub001/internal/stock/service"
	"github.com/bjyoucef/inaya-project-sub001/internal/stock/stocktest"
	"github.com/bjyoucef/inaya-project-sub001/pkg/config"
	"github.com/bjyoucef/inaya-project-sub001/pkg/errors"
	"github.com/bjyoucef/inaya-project-sub001/pkg/logger"
	"github.com/bjyoucef/inaya-project-sub001/pkg/messaging"
	"github.com/bjyoucef/inaya-project-sub001/pkg/testutil"
)

var (
	today = testutil.Date("2026-01-10")
	now   = today.Add(15 * time.Hour)

	patient      = uuid.NewString()
	practitioner = uuid.NewString()
	ward         = uuid.NewString()
	dressing     = uuid.NewString()
	injection    = uuid.NewString()
	convention   = uuid.NewString()
	gauze        = uuid.NewString()
	syringe      = uuid.NewString()
)

type fixture struct {
	stock     *stocktest.Memory
	store     *prestationtest.Memory
	publisher *testutil.MockPublisher
	logs      *bytes.Buffer
	pricing   *service.PricingResolver
	svc       *service.DeliveryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	stock := stocktest.NewMemory()
	store := prestationtest.NewMemory(stock)
	pub := testutil.NewMockPublisher()
	logs := &bytes.Buffer{}
	log := logger.NewWithWriter(logs, "test", zerolog.DebugLevel)

	ledger := stocksvc.NewLedger(stock, stock, stock.Ledger(), nil, log)
	allocator, err := stocksvc.NewAllocator(stock, stock, stock.Ledger(), ledger, config.StockConfig{
		RestorationExpiry: "2099-12-31",
	}, log)
	require.NoError(t, err)
	allocator.WithClock(func() time.Time { return now })

	pricing := service.NewPricingResolver(store, log)
	svc, err := service.NewDeliveryService(store, store, store, store, pricing, allocator,
		events.NewWithPublisher(pub, log), config.PricingConfig{HonorariumCeiling: "99999999.99"}, log)
	require.NoError(t, err)
	svc.WithClock(func() time.Time { return now })

	store.AddProduct(gauze, "Gauze", testutil.Money("10"))
	store.AddProduct(syringe, "Syringe", testutil.Money("2.50"))

	return &fixture{
		stock:     stock,
		store:     store,
		publisher: pub,
		logs:      logs,
		pricing:   pricing,
		svc:       svc,
	}
}

func dec(s string) *decimal.Decimal {
	d := testutil.Money(s)
	return &d
}

func qty(n int) *int {
	return &n
}

func appCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	return appErr.Code
}

// gauzeDelivery uses n gauze on one dressing line priced explicitly
func gauzeDelivery(n int) service.DeliveryInput {
	return service.DeliveryInput{
		PatientID:      patient,
		PractitionerID: practitioner,
		LocationID:     ward,
		DeliveredAt:    now,
		Lines: []service.LineInput{{
			ActID:      dressing,
			Tariff:     dec("500"),
			Honorarium: dec("100"),
			Consumptions: []service.ConsumptionInput{
				{ProductID: gauze, DefaultQuantity: qty(2), ActualQuantity: n, UnitPrice: dec("10")},
			},
		}},
	}
}

func signedSum(stock *stocktest.Memory, originID string) int {
	sum := 0
	for _, m := range stock.Movements() {
		if m.OriginID == originID {
			sum += m.Signed()
		}
	}
	return sum
}

func TestCreate_PlannedLeavesStockAlone(t *testing.T) {
	f := newFixture(t)
	lot := f.stock.AddLot(gauze, ward, "G1", testutil.Date("2026-03-01"), 10)

	d, err := f.svc.Create(context.Background(), gauzeDelivery(3))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPlanned, d.Status)
	assert.False(t, d.StockImpactApplied)
	assert.Equal(t, []int{10}, f.stock.Quantities(lot.ID))
	assert.Empty(t, f.stock.Movements())
	f.publisher.AssertNoEventsPublished(t)
}

func TestCreate_TotalPrice(t *testing.T) {
	f := newFixture(t)

	in := gauzeDelivery(5)
	in.ExtraFee = dec("50")

	d, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "580.00", d.TotalPrice.StringFixed(2))

	stored, ok := f.store.Delivery(d.ID)
	require.True(t, ok)
	assert.Equal(t, "580.00", stored.TotalPrice.StringFixed(2))
}

func TestStatusChanges_DriveStockImpact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.stock.AddLot(gauze, ward, "G1", testutil.Date("2026-03-01"), 10)

	d, err := f.svc.Create(ctx, gauzeDelivery(3))
	require.NoError(t, err)

	tr, err := f.svc.ChangeStatus(ctx, d.ID, domain.StatusPerformed)
	require.NoError(t, err)
	assert.True(t, tr.Delivery.StockImpactApplied)
	require.NotNil(t, tr.Stock)
	assert.Equal(t, "applied", tr.Stock.Action)
	assert.Equal(t, []int{7}, f.stock.Quantities(lot.ID))

	tr, err = f.svc.ChangeStatus(ctx, d.ID, domain.StatusPlanned)
	require.NoError(t, err)
	assert.False(t, tr.Delivery.StockImpactApplied)
	assert.Equal(t, []int{10}, f.stock.Quantities(lot.ID))

	_, err = f.svc.ChangeStatus(ctx, d.ID, domain.StatusPerformed)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, f.stock.Quantities(lot.ID))

	tr, err = f.svc.ChangeStatus(ctx, d.ID, domain.StatusPaid)
	require.NoError(t, err)
	assert.Nil(t, tr.Stock)
	assert.True(t, tr.Delivery.StockImpactApplied)
	assert.Equal(t, []int{7}, f.stock.Quantities(lot.ID))

	stored, _ := f.store.Delivery(d.ID)
	assert.Equal(t, domain.StatusPaid, stored.Status)
	assert.True(t, stored.StockImpactApplied)
}

func TestChangeStatus_PublishesAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock.AddLot(gauze, ward, "G1", testutil.Date("2026-03-01"), 2)

	d, err := f.svc.Create(ctx, gauzeDelivery(3))
	require.NoError(t, err)
	_, err = f.svc.ChangeStatus(ctx, d.ID, domain.StatusPerformed)
	require.NoError(t, err)

	changes := f.publisher.Events(messaging.EventPrestationStatusChanged)
	require.Len(t, changes, 1)
	change := changes[0].(messaging.PrestationStatusChangedEvent)
	assert.Equal(t, "PLANNED", change.OldStatus)
	assert.Equal(t, "PERFORMED", change.NewStatus)
	assert.True(t, change.StockImpactApplied)

	applied := f.publisher.Events(messaging.EventPrestationStockApplied)
	require.Len(t, applied, 1)
	event := applied[0].(messaging.PrestationStockEvent)
	assert.Equal(t, 1, event.Movements)
	assert.Equal(t, []messaging.Shortfall{{ProductID: gauze, Requested: 3, Allocated: 2, Missing: 1}}, event.Shortfalls)
}

func TestApplyStockImpact_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.stock.AddLot(gauze, ward, "G1", testutil.Date("2026-03-01"), 10)

	in := gauzeDelivery(4)
	in.Status = domain.StatusPerformed
	d, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	report, err := f.svc.ApplyStockImpact(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "none", report.Action)

	assert.Equal(t, []int{6}, f.stock.Quantities(lot.ID))
	assert.Len(t, f.stock.Movements(), 1)
	assert.Len(t, f.publisher.Events(messaging.EventPrestationStockApplied), 1)
}

func TestApplyStockImpact_RepairsPerformedDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.stock.AddLot(gauze, ward, "G1", testutil.Date("2026-03-01"), 10)

	in := gauzeDelivery(4)
	in.Status = domain.StatusPerformed
	d, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	// flag cleared behind the service's back
	require.NoError(t, f.store.SetStockImpactApplied(ctx, d.ID, false))

	report, err := f.svc.ApplyStockImpact(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "applied", report.Action)
	assert.Equal(t, []int{2}, f.stock.Quantities(lot.ID))

	stored, _ := f.store.Delivery(d.ID)
	assert.Equal(t, domain.StatusPerformed, stored.Status)
	assert.True(t, stored.StockImpactApplied)
}

func TestStockImpact_OnlyStatusChangesToggleIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.stock.AddLot(gauze, ward, "G1", testutil.Date("2026-03-01"), 10)

	planned, err := f.svc.Create(ctx, gauzeDelivery(2))
	require.NoError(t, err)

	_, err = f.svc.ApplyStockImpact(ctx, planned.ID)
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", appCode(t, err))
	assert.Equal(t, []int{10}, f.stock.Quantities(lot.ID))

	in := gauzeDelivery(3)
	in.Status = domain.StatusPerformed
	performed, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, f.stock.Quantities(lot.ID))

	_, err = f.svc.RevertStockImpact(ctx, performed.ID)
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", appCode(t, err))

	tr, err := f.svc.ChangeStatus(ctx, performed.ID, domain.StatusPaid)
	require.NoError(t, err)
	assert.True(t, tr.Delivery.StockImpactApplied)
	assert.Equal(t, []int{7}, f.stock.Quantities(lot.ID))

	for _, fn := range []func(context.Context, string) (*service.StockReport, error){
		f.svc.ApplyStockImpact, f.svc.RevertStockImpact,
	} {
		_, err = fn(ctx, performed.ID)
		require.Error(t, err)
		assert.Equal(t, "CONFLICT", appCode(t, err))
	}

	stored, _ := f.store.Delivery(performed.ID)
	assert.Equal(t, domain.StatusPaid, stored.Status)
	assert.True(t, stored.StockImpactApplied)
	assert.Equal(t, []int{7}, f.stock.Quantities(lot.ID))
	assert.Equal(t, -3, signedSum(f.stock, performed.ID))
	assert.Zero(t, signedSum(f.stock, planned.ID))
}

func TestApplyRevert_RoundTripAcrossLots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	early := f.stock.AddLot(gauze, ward, "G1", testutil.Date("2026-02-01"), 5)
	late := f.stock.AddLot(gauze, ward, "G2", testutil.Date("2026-03-01"), 10)

	d, err := f.svc.Create(ctx, gauzeDelivery(7))
	require.NoError(t, err)

	_, err = f.svc.ChangeStatus(ctx, d.ID, domain.StatusPerformed)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 8}, f.stock.Quantities(early.ID, late.ID))

	tr, err := f.svc.ChangeStatus(ctx, d.ID, domain.StatusPlanned)
	require.NoError(t, err)
	require.NotNil(t, tr.Stock)
	assert.Equal(t, "reverted", tr.Stock.Action)
	assert.Equal(t, 2, tr.Stock.Movements)
	assert.Equal(t, []int{5, 10}, f.stock.Quantities(early.ID, late.ID))
	assert.Zero(t, signedSum(f.stock, d.ID))

	report, err := f.svc.RevertStockImpact(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "none", report.Action)
	assert.Len(t, f.stock.Movements(), 4)
}

func TestApplyStockImpact_ShortfallIsNotAnError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.stock.AddLot(gauze, ward, "G1", testutil.Date("2026-02-01"), 5)
	b := f.stock.AddLot(gauze, ward, "G2", testutil.Date("2026-03-01"), 3)

	in := gauzeDelivery(20)
	in.Status = domain.StatusPerformed
	d, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPerformed, d.Status)
	assert.True(t, d.StockImpactApplied)
	assert.Equal(t, []int{0, 0}, f.stock.Quantities(a.ID, b.ID))
	assert.Contains(t, f.logs.String(), `"shortfall":12`)
	assert.Equal(t, 1, strings.Count(f.logs.String(), "insufficient stock"))
}

func TestCreate_ShortfallLoggedAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.stock.AddLot(gauze, ward, "G1", testutil.Date("2026-02-01"), 5)
	f.store.FailStockFlag = fmt.Errorf("flag write failed")

	in := gauzeDelivery(20)
	in.Status = domain.StatusPerformed
	_, err := f.svc.Create(ctx, in)
	require.Error(t, err)

	assert.Equal(t, []int{5}, f.stock.Quantities(lot.ID))
	assert.NotContains(t, f.logs.String(), "insufficient stock")
	f.publisher.AssertNoEventsPublished(t)
}

func TestCreate_WithStatusGoesThroughStateMachine(t *testing.T) {
	f := newFixture(t)
	lot := f.stock.AddLot(gauze, ward, "G1", testutil.Date("2026-03-01"), 10)

	in := gauzeDelivery(2)
	in.Status = domain.StatusPaid
	d, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPaid, d.Status)
	assert.True(t, d.StockImpactApplied)
	assert.Equal(t, []int{8}, f.stock.Quantities(lot.ID))

	changes := f.publisher.Events(messaging.EventPrestationStatusChanged)
	require.Len(t, changes, 2)
	assert.Equal(t, "PERFORMED", changes[0].(messaging.PrestationStatusChangedEvent).NewStatus)
	assert.Equal(t, "PAID", changes[1].(messaging.PrestationStatusChangedEvent).NewStatus)
}

func TestChangeStatus_PaymentRequiresPerformance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.stock.AddLot(gauze, ward, "G1", testutil.Date("2026-03-01"), 10)

	d, err := f.svc.Create(ctx, gauzeDelivery(3))
	require.NoError(t, err)

	_, err = f.svc.ChangeStatus(ctx, d.ID, domain.StatusPaid)
	require.Error(t, err)
	assert.Equal(t, "INVALID_TRANSITION", appCode(t, err))

	in := gauzeDelivery(3)
	in.Status = domain.StatusPaid
	_, err = f.svc.Update(ctx, d.ID, in)
	require.Error(t, err)
	assert.Equal(t, "INVALID_TRANSITION", appCode(t, err))

	stored, _ := f.store.Delivery(d.ID)
	assert.Equal(t, domain.StatusPlanned, stored.Status)
	assert.False(t, stored.StockImpactApplied)
	assert.Equal(t, []int{10}, f.stock.Quantities(lot.ID))

	in.Status = domain.StatusPerformed
	paid, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	_, err = f.svc.ChangeStatus(ctx, paid.ID, domain.StatusPaid)
	require.NoError(t, err)

	_, err = f.svc.ChangeStatus(ctx, paid.ID, domain.StatusPerformed)
	require.Error(t, err)
	assert.Equal(t, "INVALID_TRANSITION", appCode(t, err))

	stored, _ = f.store.Delivery(paid.ID)
	assert.Equal(t, domain.StatusPaid, stored.Status)
	assert.True(t, stored.StockImpactApplied)
	assert.Equal(t, []int{7}, f.stock.Quantities(lot.ID))
}

func TestChangeStatus_CancelledIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.svc.Create(ctx, gauzeDelivery(1))
	require.NoError(t, err)
	_, err = f.svc.ChangeStatus(ctx, d.ID, domain.StatusCancelled)
	require.NoError(t, err)

	_, err = f.svc.ChangeStatus(ctx, d.ID, domain.StatusPlanned)
	require.Error(t, err)
	assert.Equal(t, "INVALID_TRANSITION", appCode(t, err))

	_, err = f.svc.Update(ctx, d.ID, gauzeDelivery(2))
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", appCode(t, err))

	_, err = f.svc.ApplyStockImpact(ctx, d.ID)
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", appCode(t, err))
}

func TestChangeStatus_PaidThenCancelledKeepsConsumption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.stock.AddLot(gauze, ward, "G1", testutil.Date("2026-03-01"), 10)

	in := gauzeDelivery(4)
	in.Status = domain.StatusPerformed
	d, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	for _, s := range []domain.Status{domain.StatusPaid, domain.StatusCancelled} {
		_, err = f.svc.ChangeStatus(ctx, d.ID, s)
		require.NoError(t, err)
	}

	stored, _ := f.store.Delivery(d.ID)
	assert.Equal(t, domain.StatusCancelled, stored.Status)
	assert.True(t, stored.StockImpactApplied)
	assert.Equal(t, []int{6}, f.stock.Quantities(lot.ID))
}

func TestChangeStatus_SameStatusIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.svc.Create(ctx, gauzeDelivery(1))
	require.NoError(t, err)

	tr, err := f.svc.ChangeStatus(ctx, d.ID, domain.StatusPlanned)
	require.NoError(t, err)
	assert.Equal(t, tr.From, tr.To)
	f.publisher.AssertNoEventsPublished(t)
}

func TestChangeStatus_Unknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ChangeStatus(context.Background(), uuid.NewString(), domain.StatusPerformed)
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", appCode(t, err))

	_, err = f.svc.ChangeStatus(context.Background(), "not-a-uuid", domain.StatusPerformed)
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", appCode(t, err))

	_, err = f.svc.ChangeStatus(context.Background(), uuid.NewString(), domain.Status("DONE"))
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_ERROR", appCode(t, err))
}

func TestUpdate_ResyncsAppliedStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.stock.AddLot(gauze, ward, "G1", testutil.Date("2026-03-01"), 10)

	in := gauzeDelivery(3)
	in.Status = domain.StatusPerformed
	d, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, f.stock.Quantities(lot.ID))

	updated, err := f.svc.Update(ctx, d.ID, gauzeDelivery(5))
	require.NoError(t, err)

	assert.True(t, updated.StockImpactApplied)
	assert.Equal(t, domain.StatusPerformed, updated.Status)
	assert.Equal(t, []int{5}, f.stock.Quantities(lot.ID))
	assert.Equal(t, "530.00", updated.TotalPrice.StringFixed(2))
	assert.Equal(t, -5, signedSum(f.stock, d.ID))

	got, err := f.svc.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, 5, got.Lines[0].Consumptions[0].ActualQuantity)
}

func TestUpdate_StatusInInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.stock.AddLot(gauze, ward, "G1", testutil.Date("2026-03-01"), 10)

	d, err := f.svc.Create(ctx, gauzeDelivery(3))
	require.NoError(t, err)

	in := gauzeDelivery(4)
	in.Status = domain.StatusPerformed
	updated, err := f.svc.Update(ctx, d.ID, in)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPerformed, updated.Status)
	assert.Equal(t, []int{6}, f.stock.Quantities(lot.ID))
}

func TestDelete_RevertsStockFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.stock.AddLot(gauze, ward, "G1", testutil.Date("2026-03-01"), 10)

	in := gauzeDelivery(3)
	in.Status = domain.StatusPerformed
	d, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, d.ID))

	_, ok := f.store.Delivery(d.ID)
	assert.False(t, ok)
	assert.Equal(t, []int{10}, f.stock.Quantities(lot.ID))
	assert.Zero(t, signedSum(f.stock, d.ID))
	f.publisher.AssertEventPublished(t, messaging.EventPrestationStockReverted)

	err = f.svc.Delete(ctx, d.ID)
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", appCode(t, err))
}

func TestCreate_RollsBackWhenStockFails(t *testing.T) {
	f := newFixture(t)
	lot := f.stock.AddLot(gauze, ward, "G1", testutil.Date("2026-03-01"), 10)
	f.stock.FailInsert = fmt.Errorf("ledger unavailable")

	in := gauzeDelivery(3)
	in.Status = domain.StatusPerformed
	_, err := f.svc.Create(context.Background(), in)
	require.Error(t, err)

	list, total, err := f.svc.List(context.Background(), repository.DeliveryFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, total)
	assert.Equal(t, []int{10}, f.stock.Quantities(lot.ID))
	f.publisher.AssertNoEventsPublished(t)
}

func TestCreate_SeedsBillOfMaterials(t *testing.T) {
	f := newFixture(t)
	f.store.AddActProduct(dressing, gauze, 2)
	f.store.AddActProduct(dressing, syringe, 1)

	in := gauzeDelivery(0)
	in.Lines[0].Consumptions = nil

	d, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, d.Lines, 1)

	got := map[string]*domain.Consumption{}
	for _, c := range d.Lines[0].Consumptions {
		got[c.ProductID] = c
	}
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[gauze].DefaultQuantity)
	assert.Equal(t, 2, got[gauze].ActualQuantity)
	assert.Equal(t, "10.00", got[gauze].UnitPrice.StringFixed(2))
	assert.Equal(t, 1, got[syringe].ActualQuantity)
	assert.Equal(t, "2.50", got[syringe].UnitPrice.StringFixed(2))
	assert.Equal(t, "500.00", d.TotalPrice.StringFixed(2))
}

func TestCreate_SnapshotsCatalogDefaults(t *testing.T) {
	f := newFixture(t)
	f.store.AddActProduct(dressing, gauze, 2)

	in := gauzeDelivery(0)
	in.Lines[0].Consumptions = []service.ConsumptionInput{
		{ProductID: gauze, ActualQuantity: 4},
		{ProductID: syringe, ActualQuantity: 1},
	}

	d, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)

	cs := d.Lines[0].Consumptions
	require.Len(t, cs, 2)
	assert.Equal(t, 2, cs[0].DefaultQuantity)
	assert.Equal(t, "10.00", cs[0].UnitPrice.StringFixed(2))
	assert.Equal(t, 0, cs[1].DefaultQuantity)
	assert.Equal(t, "2.50", cs[1].UnitPrice.StringFixed(2))
	// 500 + 2 x 10 + 1 x 2.50
	assert.Equal(t, "522.50", d.TotalPrice.StringFixed(2))
}

func TestCreate_ResolvesMissingAmounts(t *testing.T) {
	f := newFixture(t)
	f.store.Tariffs = []prestationtest.Tariff{
		{ActID: injection, Amount: testutil.Money("300"), Effective: testutil.Date("2025-01-01")},
		{ConventionID: convention, ActID: injection, Amount: testutil.Money("240"), Effective: testutil.Date("2025-06-01")},
	}
	f.store.Honoraria = []prestationtest.Honorarium{
		{ActID: injection, Amount: testutil.Money("60"), Effective: testutil.Date("2025-01-01"), IsDefault: true},
	}

	conv := convention
	in := service.DeliveryInput{
		PatientID:      patient,
		PractitionerID: practitioner,
		LocationID:     ward,
		Lines: []service.LineInput{
			{ActID: injection, ConventionID: &conv, Consumptions: []service.ConsumptionInput{}},
			{ActID: injection, Honorarium: dec("75"), Consumptions: []service.ConsumptionInput{}},
		},
	}

	d, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, d.Lines, 2)

	assert.Equal(t, "240.00", d.Lines[0].Tariff.StringFixed(2))
	assert.Equal(t, "60.00", d.Lines[0].Honorarium.StringFixed(2))
	assert.Equal(t, "300.00", d.Lines[1].Tariff.StringFixed(2))
	assert.Equal(t, "75.00", d.Lines[1].Honorarium.StringFixed(2))
	assert.Equal(t, now, d.DeliveredAt)
	assert.Equal(t, "540.00", d.TotalPrice.StringFixed(2))
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(in *service.DeliveryInput)
		key    string
	}{
		{"missing patient", func(in *service.DeliveryInput) { in.PatientID = "" }, "patient_id"},
		{"bad location", func(in *service.DeliveryInput) { in.LocationID = "ward" }, "location_id"},
		{"negative extra fee", func(in *service.DeliveryInput) { in.ExtraFee = dec("-1") }, "extra_fee"},
		{"negative tariff", func(in *service.DeliveryInput) { in.Lines[0].Tariff = dec("-10") }, "lines[0].tariff"},
		{"honorarium above ceiling", func(in *service.DeliveryInput) { in.Lines[0].Honorarium = dec("100000000") }, "lines[0].honorarium"},
		{"negative unit price", func(in *service.DeliveryInput) { in.Lines[0].Consumptions[0].UnitPrice = dec("-1") }, "lines[0].consumptions[0].unit_price"},
		{"negative quantity", func(in *service.DeliveryInput) { in.Lines[0].Consumptions[0].ActualQuantity = -1 }, "actual_quantity"},
		{"unknown status", func(in *service.DeliveryInput) { in.Status = "DONE" }, "status"},
		{"unknown product", func(in *service.DeliveryInput) {
			in.Lines[0].Consumptions[0].ProductID = uuid.NewString()
			in.Lines[0].Consumptions[0].UnitPrice = nil
		}, "lines[0].consumptions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := gauzeDelivery(1)
			tt.modify(&in)

			_, err := f.svc.Create(context.Background(), in)
			require.Error(t, err)

			var appErr *errors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
			assert.Contains(t, appErr.Details, tt.key)
		})
	}
}

func TestCreate_PricingStoreErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.store.FailPricing = fmt.Errorf("connection reset")

	in := gauzeDelivery(1)
	in.Lines[0].Tariff = nil

	_, err := f.svc.Create(context.Background(), in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRecalculateTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := gauzeDelivery(5)
	in.ExtraFee = dec("50")
	d, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	require.NoError(t, f.store.SetTotalPrice(ctx, d.ID, decimal.Zero))

	got, err := f.svc.RecalculateTotal(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "580.00", got.TotalPrice.StringFixed(2))

	stored, _ := f.store.Delivery(d.ID)
	assert.Equal(t, "580.00", stored.TotalPrice.StringFixed(2))
}

func TestList_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, gauzeDelivery(1))
	require.NoError(t, err)
	in := gauzeDelivery(1)
	in.Status = domain.StatusPaid
	in.DeliveredAt = now.Add(time.Hour)
	_, err = f.svc.Create(ctx, in)
	require.NoError(t, err)

	list, total, err := f.svc.List(ctx, repository.DeliveryFilter{Status: domain.StatusPlanned})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID)

	list, total, err = f.svc.List(ctx, repository.DeliveryFilter{PatientID: patient, Limit: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatusPaid, list[0].Status)
}

func TestApplyStockImpact_UsesDeliveryOrigin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stock.AddLot(gauze, ward, "G1", testutil.Date("2026-03-01"), 10)

	in := gauzeDelivery(2)
	in.Status = domain.StatusPerformed
	d, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	movements := f.stock.Movements()
	require.Len(t, movements, 1)
	assert.Equal(t, stockrepo.Origin{Kind: stockrepo.OriginServiceDelivery, ID: d.ID}, movements[0].Origin())
	assert.Equal(t, stockrepo.MovementOut, movements[0].Kind)
}
