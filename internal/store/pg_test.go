package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/movestream/nft-marketplace-indexer/internal/domain"
	"github.com/movestream/nft-marketplace-indexer/internal/store/schema"
)

var (
	testDB      *gorm.DB
	pgContainer *postgres.PostgresContainer
)

// TestMain sets up the test database before running tests
func TestMain(m *testing.M) {
	ctx := context.Background()

	// Check if we should use an external database (for CI or local development)
	dbHost := os.Getenv("TEST_DB_HOST")
	dbPort := os.Getenv("TEST_DB_PORT")
	dbUser := os.Getenv("TEST_DB_USER")
	dbPassword := os.Getenv("TEST_DB_PASSWORD")
	dbName := os.Getenv("TEST_DB_NAME")

	var dsn string
	var err error

	if dbHost != "" {
		// Use external database
		if dbPort == "" {
			dbPort = "5432"
		}
		if dbUser == "" {
			dbUser = "postgres"
		}
		if dbPassword == "" {
			dbPassword = "postgres"
		}
		if dbName == "" {
			dbName = "test_db"
		}

		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			dbHost, dbPort, dbUser, dbPassword, dbName)

		fmt.Printf("Using external database: %s:%s/%s\n", dbHost, dbPort, dbName)
	} else {
		// Start a PostgreSQL container for testing
		pgContainer, err = postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("test_db"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			fmt.Printf("Failed to start PostgreSQL container: %v\n", err)
			os.Exit(1)
		}

		dsn, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Printf("Failed to get connection string: %v\n", err)
			terminateContainer(ctx)
			os.Exit(1)
		}

		fmt.Printf("Started PostgreSQL container\n")
	}

	testDB, err = gorm.Open(pgdriver.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		terminateContainer(ctx)
		os.Exit(1)
	}

	if err := initializeTestDatabase(testDB); err != nil {
		fmt.Printf("Failed to initialize database: %v\n", err)
		terminateContainer(ctx)
		os.Exit(1)
	}

	code := m.Run()

	terminateContainer(ctx)
	os.Exit(code)
}

func terminateContainer(ctx context.Context) {
	if pgContainer != nil {
		if err := pgContainer.Terminate(ctx); err != nil {
			fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
		}
	}
}

// initializeTestDatabase runs the schema initialization SQL
func initializeTestDatabase(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	schemaPath := filepath.Join("..", "..", "db", "init_pg_db.sql")
	schemaSQL, err := os.ReadFile(schemaPath) //nolint:gosec,G304
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	if _, err := sqlDB.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

func cleanTables(t *testing.T) {
	t.Helper()
	for _, table := range []string{
		"nft_marketplace_activities",
		"current_nft_marketplace_listings",
		"current_nft_marketplace_token_offers",
		"current_nft_marketplace_collection_offers",
		"processor_status",
		"backfill_processor_status",
	} {
		require.NoError(t, testDB.Exec("DELETE FROM "+table).Error)
	}
}

var testBlockTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func listingActivity(version, eventIndex int64) schema.Activity {
	tokenID := "0x" + fmt.Sprintf("%064d", 1)
	return schema.Activity{
		TxnVersion:        version,
		EventIndex:        eventIndex,
		Marketplace:       "topaz",
		RawEventType:      "0xabc::events::ListEvent",
		StandardEventType: domain.StandardEventPlaceListing,
		ContractAddress:   domain.StandardizeAddress("0xabc"),
		TokenDataID:       &tokenID,
		Price:             1000,
		BlockTimestamp:    testBlockTime,
	}
}

func listingRow(version, eventIndex, price int64, deleted bool) schema.CurrentListing {
	return schema.CurrentListing{
		TokenDataID:              "0x" + fmt.Sprintf("%064d", 1),
		Marketplace:              "topaz",
		Price:                    price,
		TokenAmount:              1,
		ContractAddress:          domain.StandardizeAddress("0xabc"),
		IsDeleted:                deleted,
		StandardEventType:        domain.StandardEventPlaceListing,
		LastTransactionVersion:   version,
		LastEventIndex:           eventIndex,
		LastTransactionTimestamp: testBlockTime,
	}
}

func collectionOfferRow(version, eventIndex, remaining int64, deleted bool) schema.CurrentCollectionOffer {
	return schema.CurrentCollectionOffer{
		CollectionOfferID:        "0xoffer1",
		Marketplace:              "topaz",
		Buyer:                    domain.StandardizeAddress("0xb0b"),
		CollectionID:             domain.StandardizeAddress("0xc011"),
		Price:                    100,
		RemainingTokenAmount:     remaining,
		ContractAddress:          domain.StandardizeAddress("0xabc"),
		IsDeleted:                deleted,
		StandardEventType:        domain.StandardEventPlaceCollectionOffer,
		LastTransactionVersion:   version,
		LastEventIndex:           eventIndex,
		LastTransactionTimestamp: testBlockTime,
	}
}

func TestApplyTransactionIsIdempotent(t *testing.T) {
	cleanTables(t)
	ctx := context.Background()
	st := NewPGStore(testDB)

	writes := &TransactionWrites{
		Version:    100,
		Timestamp:  testBlockTime,
		Activities: []schema.Activity{listingActivity(100, 0)},
		Listings:   []schema.CurrentListing{listingRow(100, 0, 1000, false)},
	}

	require.NoError(t, st.ApplyTransaction(ctx, writes))
	// Replay after a crash-before-checkpoint lands on the same keys.
	replay := &TransactionWrites{
		Version:    100,
		Timestamp:  testBlockTime,
		Activities: []schema.Activity{listingActivity(100, 0)},
		Listings:   []schema.CurrentListing{listingRow(100, 0, 1000, false)},
	}
	require.NoError(t, st.ApplyTransaction(ctx, replay))

	var activityCount int64
	require.NoError(t, testDB.Model(&schema.Activity{}).Count(&activityCount).Error)
	assert.Equal(t, int64(1), activityCount)

	var listing schema.CurrentListing
	require.NoError(t, testDB.First(&listing).Error)
	assert.Equal(t, int64(1000), listing.Price)
	assert.Equal(t, int64(100), listing.LastTransactionVersion)
}

func TestCurrentRowsOnlyMoveForward(t *testing.T) {
	cleanTables(t)
	ctx := context.Background()
	st := NewPGStore(testDB)

	newer := &TransactionWrites{
		Version:  200,
		Listings: []schema.CurrentListing{listingRow(200, 0, 2000, false)},
	}
	require.NoError(t, st.ApplyTransaction(ctx, newer))

	// A delayed older write must not regress the row.
	older := &TransactionWrites{
		Version:  150,
		Listings: []schema.CurrentListing{listingRow(150, 0, 1500, true)},
	}
	require.NoError(t, st.ApplyTransaction(ctx, older))

	var listing schema.CurrentListing
	require.NoError(t, testDB.First(&listing).Error)
	assert.Equal(t, int64(2000), listing.Price)
	assert.Equal(t, int64(200), listing.LastTransactionVersion)
	assert.False(t, listing.IsDeleted)
}

func TestCurrentRowsEventIndexBreaksTies(t *testing.T) {
	cleanTables(t)
	ctx := context.Background()
	st := NewPGStore(testDB)

	require.NoError(t, st.ApplyTransaction(ctx, &TransactionWrites{
		Version:  300,
		Listings: []schema.CurrentListing{listingRow(300, 3, 3000, false)},
	}))

	// Same version, lower event index loses.
	require.NoError(t, st.ApplyTransaction(ctx, &TransactionWrites{
		Version:  300,
		Listings: []schema.CurrentListing{listingRow(300, 1, 1111, true)},
	}))

	// Same version, higher event index wins.
	require.NoError(t, st.ApplyTransaction(ctx, &TransactionWrites{
		Version:  300,
		Listings: []schema.CurrentListing{listingRow(300, 5, 5555, true)},
	}))

	var listing schema.CurrentListing
	require.NoError(t, testDB.First(&listing).Error)
	assert.Equal(t, int64(5555), listing.Price)
	assert.Equal(t, int64(5), listing.LastEventIndex)
	assert.True(t, listing.IsDeleted)
}

func TestCollectionOfferFillDecrements(t *testing.T) {
	cleanTables(t)
	ctx := context.Background()
	st := NewPGStore(testDB)

	require.NoError(t, st.ApplyTransaction(ctx, &TransactionWrites{
		Version:          400,
		CollectionOffers: []schema.CurrentCollectionOffer{collectionOfferRow(400, 0, 5, false)},
	}))

	fill := collectionOfferRow(401, 0, 0, true)
	fill.StandardEventType = domain.StandardEventFillCollectionOffer
	require.NoError(t, st.ApplyTransaction(ctx, &TransactionWrites{
		Version:              401,
		CollectionOfferFills: []CollectionOfferFill{{Offer: fill, Amount: 2}},
	}))

	var offer schema.CurrentCollectionOffer
	require.NoError(t, testDB.First(&offer).Error)
	assert.Equal(t, int64(3), offer.RemainingTokenAmount)
	assert.False(t, offer.IsDeleted)
	assert.Equal(t, int64(401), offer.LastTransactionVersion)

	// Replaying the same fill is guarded by (version, event index).
	replay := collectionOfferRow(401, 0, 0, true)
	require.NoError(t, st.ApplyTransaction(ctx, &TransactionWrites{
		Version:              401,
		CollectionOfferFills: []CollectionOfferFill{{Offer: replay, Amount: 2}},
	}))
	require.NoError(t, testDB.First(&offer).Error)
	assert.Equal(t, int64(3), offer.RemainingTokenAmount)

	// Draining the rest soft-deletes the offer.
	final := collectionOfferRow(402, 0, 0, true)
	require.NoError(t, st.ApplyTransaction(ctx, &TransactionWrites{
		Version:              402,
		CollectionOfferFills: []CollectionOfferFill{{Offer: final, Amount: 3}},
	}))
	require.NoError(t, testDB.First(&offer).Error)
	assert.Equal(t, int64(0), offer.RemainingTokenAmount)
	assert.True(t, offer.IsDeleted)
}

func TestCollectionOfferFillBeforePlaceInsertsConsumedRow(t *testing.T) {
	cleanTables(t)
	ctx := context.Background()
	st := NewPGStore(testDB)

	fill := collectionOfferRow(500, 0, 0, true)
	require.NoError(t, st.ApplyTransaction(ctx, &TransactionWrites{
		Version:              500,
		CollectionOfferFills: []CollectionOfferFill{{Offer: fill, Amount: 2}},
	}))

	var offer schema.CurrentCollectionOffer
	require.NoError(t, testDB.First(&offer).Error)
	assert.Equal(t, int64(0), offer.RemainingTokenAmount)
	assert.True(t, offer.IsDeleted)
}

func TestProcessorStatusOnlyAdvances(t *testing.T) {
	cleanTables(t)
	ctx := context.Background()
	st := NewPGStore(testDB)

	status, err := st.GetProcessorStatus(ctx, "proc")
	require.NoError(t, err)
	assert.Nil(t, status)

	require.NoError(t, st.SaveProcessorStatus(ctx, "proc", 10, &testBlockTime))
	require.NoError(t, st.SaveProcessorStatus(ctx, "proc", 5, &testBlockTime))

	status, err = st.GetProcessorStatus(ctx, "proc")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, int64(10), status.LastSuccessVersion)

	require.NoError(t, st.SaveProcessorStatus(ctx, "proc", 12, &testBlockTime))
	status, err = st.GetProcessorStatus(ctx, "proc")
	require.NoError(t, err)
	assert.Equal(t, int64(12), status.LastSuccessVersion)
}

func TestBackfillStatusRoundTrip(t *testing.T) {
	cleanTables(t)
	ctx := context.Background()
	st := NewPGStore(testDB)

	status, err := st.GetBackfillStatus(ctx, "repair")
	require.NoError(t, err)
	assert.Nil(t, status)

	require.NoError(t, st.SaveBackfillStatus(ctx, &schema.BackfillProcessorStatus{
		BackfillAlias:        "repair",
		BackfillStatus:       schema.BackfillStatusInProgress,
		LastSuccessVersion:   50,
		BackfillStartVersion: 0,
		BackfillEndVersion:   100,
	}))

	require.NoError(t, st.SaveBackfillStatus(ctx, &schema.BackfillProcessorStatus{
		BackfillAlias:        "repair",
		BackfillStatus:       schema.BackfillStatusComplete,
		LastSuccessVersion:   100,
		BackfillStartVersion: 0,
		BackfillEndVersion:   100,
	}))

	status, err = st.GetBackfillStatus(ctx, "repair")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, schema.BackfillStatusComplete, status.BackfillStatus)
	assert.Equal(t, int64(100), status.LastSuccessVersion)
}

func TestCalculateSafeBatchSize(t *testing.T) {
	// Activity rows: (65535-1000)/23 = 2805 rows per statement.
	assert.Equal(t, 2805, calculateSafeBatchSize(10000, activityFieldCount))
	// Small inputs are returned whole.
	assert.Equal(t, 10, calculateSafeBatchSize(10, activityFieldCount))
	// Degenerate field counts still make progress.
	assert.Equal(t, 1, calculateSafeBatchSize(10, 100000))
}

func TestActivityBatchSizeStaysUnderParameterLimit(t *testing.T) {
	// One bound parameter per column per row; a full batch must stay under
	// PostgreSQL's 65535 extended-protocol limit.
	fields := reflect.TypeOf(schema.Activity{}).NumField()
	require.Equal(t, activityFieldCount, fields)

	batch := calculateSafeBatchSize(1000000, activityFieldCount)
	assert.LessOrEqual(t, batch*fields, 65535)
}
