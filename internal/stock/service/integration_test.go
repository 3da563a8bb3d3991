//go:build integration

package service_test

import (
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjyoucef/inaya-project-sub001/internal/stock/repository"
	"github.com/bjyoucef/inaya-project-sub001/internal/stock/service"
	"github.com/bjyoucef/inaya-project-sub001/pkg/config"
	"github.com/bjyoucef/inaya-project-sub001/pkg/logger"
	"github.com/bjyoucef/inaya-project-sub001/pkg/testutil"
)

var suite *testutil.IntegrationSuite

func TestMain(m *testing.M) {
	ctx := context.Background()
	var err error
	suite, err = testutil.NewIntegrationSuite(ctx)
	if err != nil {
		log.Fatalf("failed to start integration suite: %v", err)
	}
	code := m.Run()
	testutil.TerminateContainer(ctx)
	os.Exit(code)
}

type pgStock struct {
	lots      *repository.LotRepository
	movements *repository.MovementRepository
	ledger    *service.Ledger
	allocator *service.Allocator
	transfers *service.TransferService
}

func newPGStock(t *testing.T) *pgStock {
	t.Helper()
	suite.Reset(t)

	log := logger.Nop()
	lots := repository.NewLotRepository(suite.DB)
	movements := repository.NewMovementRepository(suite.DB)
	ledger := service.NewLedger(suite.DB, lots, movements, nil, log)
	allocator, err := service.NewAllocator(suite.DB, lots, movements, ledger, config.StockConfig{
		RestorationExpiry:    "2099-12-31",
		RestorationLotPrefix: "RESTORE",
	}, log)
	require.NoError(t, err)

	return &pgStock{
		lots:      lots,
		movements: movements,
		ledger:    ledger,
		allocator: allocator,
		transfers: service.NewTransferService(suite.DB, allocator, ledger, nil, log),
	}
}

func future(days int) time.Time {
	return time.Now().UTC().AddDate(0, 0, days)
}

func TestIntegration_FIFOConsumeAndRestore(t *testing.T) {
	s := newPGStock(t)
	ctx := context.Background()
	productID := suite.Fixtures.Product(t, "Gauze", "1.50")
	locationID := suite.Fixtures.Location(t, "Surgery")
	po := repository.Origin{Kind: repository.OriginPurchase, ID: "po-1"}

	for i, qty := range []int{5, 3, 10} {
		_, err := s.ledger.Receive(ctx, service.Receipt{
			ProductID: productID, LocationID: locationID, Quantity: qty,
			ExpiryDate: future(30 * (i + 1)), Origin: po,
		})
		require.NoError(t, err)
	}

	sd := repository.Origin{Kind: repository.OriginServiceDelivery, ID: "sd-1"}
	result, err := s.allocator.Consume(ctx, productID, locationID, 7, sd)
	require.NoError(t, err)
	assert.Equal(t, 7, result.Allocated)

	lots, err := s.lots.List(ctx, repository.LotFilter{ProductID: productID, IncludeEmpty: true})
	require.NoError(t, err)
	require.Len(t, lots, 3)
	assert.Equal(t, []int{0, 1, 10}, []int{lots[0].Quantity, lots[1].Quantity, lots[2].Quantity})

	_, err = s.allocator.Restore(ctx, productID, locationID, 7, sd)
	require.NoError(t, err)

	lots, err = s.lots.List(ctx, repository.LotFilter{ProductID: productID, IncludeEmpty: true})
	require.NoError(t, err)
	assert.Equal(t, []int{5, 3, 10}, []int{lots[0].Quantity, lots[1].Quantity, lots[2].Quantity})

	mismatches, err := s.movements.Mismatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestIntegration_ConcurrentConsumersDoNotLoseUpdates(t *testing.T) {
	s := newPGStock(t)
	ctx := context.Background()
	productID := suite.Fixtures.Product(t, "Syringe", "0.40")
	locationID := suite.Fixtures.Location(t, "Emergency")

	_, err := s.ledger.Receive(ctx, service.Receipt{
		ProductID: productID, LocationID: locationID, Quantity: 100,
		ExpiryDate: future(90), Origin: repository.Origin{Kind: repository.OriginPurchase, ID: "po-2"},
	})
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.allocator.Consume(ctx, productID, locationID, 7,
				repository.Origin{Kind: repository.OriginServiceDelivery, ID: "sd-" + string(rune('a'+i))})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	balance, err := s.movements.Balance(ctx, productID, locationID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance.LotTotal)
	assert.Zero(t, balance.Difference())
}

func TestIntegration_ConcurrentReceiptsShareOneLot(t *testing.T) {
	s := newPGStock(t)
	ctx := context.Background()
	productID := suite.Fixtures.Product(t, "Saline", "2.00")
	locationID := suite.Fixtures.Location(t, "Pharmacy")
	expiry := future(120)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ledger.Receive(ctx, service.Receipt{
				ProductID: productID, LocationID: locationID, Quantity: 2,
				ExpiryDate: expiry, Origin: repository.Origin{Kind: repository.OriginPurchase, ID: "po-3"},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	lots, err := s.lots.List(ctx, repository.LotFilter{ProductID: productID})
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, 10, lots[0].Quantity)
}

func TestIntegration_MovementsAreAppendOnly(t *testing.T) {
	s := newPGStock(t)
	ctx := context.Background()
	productID := suite.Fixtures.Product(t, "Mask", "0.10")
	locationID := suite.Fixtures.Location(t, "Ward")

	_, err := s.ledger.Receive(ctx, service.Receipt{
		ProductID: productID, LocationID: locationID, Quantity: 1,
		ExpiryDate: future(10), Origin: repository.Origin{Kind: repository.OriginPurchase, ID: "po-4"},
	})
	require.NoError(t, err)

	_, err = suite.DB.ExecContext(ctx, `UPDATE stock_movements SET quantity = 99`)
	assert.Error(t, err)
	_, err = suite.DB.ExecContext(ctx, `DELETE FROM stock_movements`)
	assert.Error(t, err)
}

func TestIntegration_TransferKeepsLotIdentity(t *testing.T) {
	s := newPGStock(t)
	ctx := context.Background()
	productID := suite.Fixtures.Product(t, "Bandage", "0.80")
	from := suite.Fixtures.Location(t, "Pharmacy")
	to := suite.Fixtures.Location(t, "Ward")
	expiry := future(60)

	_, err := s.ledger.Receive(ctx, service.Receipt{
		ProductID: productID, LocationID: from, Quantity: 6, ExpiryDate: expiry, LotNumber: "BX-1",
		Origin: repository.Origin{Kind: repository.OriginPurchase, ID: "po-5"},
	})
	require.NoError(t, err)

	result, err := s.transfers.Transfer(ctx, service.TransferRequest{
		ProductID: productID, FromLocationID: from, ToLocationID: to, Quantity: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Moved)

	dest, err := s.lots.List(ctx, repository.LotFilter{ProductID: productID, LocationID: to})
	require.NoError(t, err)
	require.Len(t, dest, 1)
	assert.Equal(t, "BX-1", dest[0].LotNumber)
	assert.Equal(t, 4, dest[0].Quantity)

	mismatches, err := s.movements.Mismatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}
