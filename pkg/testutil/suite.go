package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bjyoucef/inaya-project-sub001/pkg/database"
	"github.com/bjyoucef/inaya-project-sub001/pkg/logger"
)

var (
	// Shared across all integration tests of a package
	globalContainer *PostgresContainer
	globalDB        *database.DB
	containerOnce   sync.Once
	containerErr    error
)

// Tables truncated between integration tests, children first.
var resettableTables = []string{
	"consumption_records",
	"line_items",
	"service_deliveries",
	"practitioner_honoraria",
	"convention_honoraria",
	"act_honoraria",
	"convention_tariffs",
	"act_tariffs",
	"act_products",
	"conventions",
	"medical_acts",
	"stock_movements",
	"stock_lots",
	"locations",
	"products",
}

// IntegrationSuite provides a migrated PostgreSQL database for integration tests
type IntegrationSuite struct {
	Container *PostgresContainer
	DB        *database.DB
	Fixtures  *Fixtures
	Logger    *logger.Logger
}

// NewIntegrationSuite starts (once per process) a PostgreSQL container and
// applies the embedded migrations.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    var err error
//	    suite, err = testutil.NewIntegrationSuite(ctx)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    code := m.Run()
//	    testutil.TerminateContainer(ctx)
//	    os.Exit(code)
//	}
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	log := logger.New("test", "test")

	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}

		raw, err := globalContainer.Connect(ctx)
		if err != nil {
			containerErr = err
			return
		}

		globalDB = database.Wrap(raw, log, 5, 5*time.Millisecond)
		containerErr = globalDB.Migrate(ctx)
	})
	if containerErr != nil {
		return nil, containerErr
	}

	return &IntegrationSuite{
		Container: globalContainer,
		DB:        globalDB,
		Fixtures:  NewFixtures(globalDB),
		Logger:    log,
	}, nil
}

// Reset empties every domain table. The movement ledger is append-only, so
// its trigger is bypassed by TRUNCATE, which does not fire row triggers.
func (s *IntegrationSuite) Reset(t *testing.T) {
	t.Helper()

	query := "TRUNCATE "
	for i, table := range resettableTables {
		if i > 0 {
			query += ", "
		}
		query += table
	}
	query += " CASCADE"

	if _, err := s.DB.ExecContext(context.Background(), query); err != nil {
		t.Fatalf("failed to reset tables: %v", err)
	}
}

// TerminateContainer terminates the shared container.
// Only call this in TestMain after all tests have completed.
func TerminateContainer(ctx context.Context) {
	if globalDB != nil {
		_ = globalDB.Close()
	}
	if globalContainer != nil {
		if err := globalContainer.Terminate(ctx); err != nil {
			fmt.Printf("failed to terminate container: %v\n", err)
		}
	}
}
