package sequence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/MithilHassan/kbt-express/internal/platform/db"
	"github.com/MithilHassan/kbt-express/migrations"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("kbt"),
		postgres.WithUsername("kbt"),
		postgres.WithPassword("kbt"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := db.New(ctx, dsn, db.Options{MaxConns: 16})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.Migrate(ctx, pool, migrations.Files)
	require.NoError(t, err)
	return pool
}

func TestPGCounterConcurrentAllocation(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `UPDATE sequence_counters SET value = 1000 WHERE name = $1`, BookingCounter)
	require.NoError(t, err)

	alloc, err := NewAllocator("101", 6)
	require.NoError(t, err)

	const callers = 40
	values := make([]int, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := db.WithTx(ctx, pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
				number, err := alloc.Next(ctx, NewPGCounter(tx, BookingCounter))
				if err != nil {
					return err
				}
				v, err := alloc.Parse(number)
				values[i] = int(v)
				return err
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	sort.Ints(values)
	for i, v := range values {
		assert.Equal(t, 1001+i, v)
	}
}

func TestPGCounterRollbackLeavesNoAdvance(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	alloc, err := NewAllocator("101", 6)
	require.NoError(t, err)

	abort := errors.New("insert failed")
	err = db.WithTx(ctx, pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		_, err := alloc.Next(ctx, NewPGCounter(tx, BookingCounter))
		require.NoError(t, err)
		return abort
	})
	require.ErrorIs(t, err, abort)

	number, err := alloc.Next(ctx, NewPGCounter(pool, BookingCounter))
	require.NoError(t, err)
	assert.Equal(t, "101000001", number)
}

func insertBookingNumber(t *testing.T, pool *pgxpool.Pool, number string) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO bookings (
			booking_number,
			shipper_company_name, shipper_contact_person, shipper_address_line, shipper_city,
			shipper_zip, shipper_state, shipper_country, shipper_phone, shipper_email,
			consignee_company_name, consignee_contact_person, consignee_address_line, consignee_city,
			consignee_zip, consignee_state, consignee_country, consignee_phone, consignee_email,
			payment_mode, item_type, item_description
		) VALUES (
			$1,
			'Rahman Textiles', 'R. Rahman', 'House 12', 'Dhaka', '1207', 'Dhaka', 'BD', '+8801700000000', 'ops@rahman.example',
			'Northwind GmbH', 'K. Weber', 'Hafenstrasse 7', 'Hamburg', '20457', 'HH', 'DE', '+49400000000', 'in@northwind.example',
			'Prepaid', 'SPX', 'Cotton shirts'
		)`, number)
	require.NoError(t, err)
}

func TestAllocatorFloorCoversStoredBookings(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	alloc, err := NewAllocator("101", 6)
	require.NoError(t, err)

	floor, err := alloc.Floor(ctx, pool)
	require.NoError(t, err)
	assert.Zero(t, floor)

	// numbers minted by the redis backend leave the counter row at 0
	insertBookingNumber(t, pool, "101000009")
	insertBookingNumber(t, pool, "101000042")
	// past the padded width the number grows a digit
	insertBookingNumber(t, pool, "1011000000")

	floor, err = alloc.Floor(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), floor)

	value, err := NewPGCounter(pool, "").Raise(ctx, floor)
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), value)

	number, err := alloc.Next(ctx, NewPGCounter(pool, BookingCounter))
	require.NoError(t, err)
	assert.Equal(t, "1011000001", number)

	value, err = NewPGCounter(pool, "").Raise(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1000001), value)
}
