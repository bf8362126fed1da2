package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// The upsert takes the row lock, so concurrent callers serialise on it and each
// observes its own post-increment value.
const incrementSQL = `
	INSERT INTO sequence_counters (name, value, updated_at)
	VALUES ($1, 1, NOW())
	ON CONFLICT (name) DO UPDATE
	SET value = sequence_counters.value + 1, updated_at = NOW()
	RETURNING value
`

// PGCounter advances a row of sequence_counters. Bound to a pgx.Tx the advance
// commits or rolls back with the surrounding transaction.
type PGCounter struct {
	q    Querier
	name string
}

// NewPGCounter constructs a counter for the named row.
func NewPGCounter(q Querier, name string) *PGCounter {
	if name == "" {
		name = BookingCounter
	}
	return &PGCounter{q: q, name: name}
}

// Increment implements Counter.
func (c *PGCounter) Increment(ctx context.Context) (int64, error) {
	if c == nil || c.q == nil {
		return 0, fmt.Errorf("sequence: postgres counter not initialised")
	}
	var value int64
	if err := c.q.QueryRow(ctx, incrementSQL, c.name).Scan(&value); err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", c.name, err)
	}
	return value, nil
}

const raiseSQL = `
	INSERT INTO sequence_counters (name, value, updated_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (name) DO UPDATE
	SET value = GREATEST(sequence_counters.value, EXCLUDED.value), updated_at = NOW()
	RETURNING value
`

// Raise lifts the counter row to at least floor and returns the stored value.
// It never lowers the row.
func (c *PGCounter) Raise(ctx context.Context, floor int64) (int64, error) {
	if c == nil || c.q == nil {
		return 0, fmt.Errorf("sequence: postgres counter not initialised")
	}
	var value int64
	if err := c.q.QueryRow(ctx, raiseSQL, c.name, floor).Scan(&value); err != nil {
		return 0, fmt.Errorf("raise counter %s: %w", c.name, err)
	}
	return value, nil
}

const counterValueSQL = `SELECT value FROM sequence_counters WHERE name = $1`

// Numbers share a prefix and are zero padded, so the longest then
// lexically greatest number carries the highest counter value.
const latestNumberSQL = `
	SELECT booking_number FROM bookings
	WHERE booking_number LIKE $1
	ORDER BY length(booking_number) DESC, booking_number DESC
	LIMIT 1
`

// Floor returns the highest counter value already spent: the larger of the
// booking counter row and the newest stored booking number.
func (a *Allocator) Floor(ctx context.Context, q Querier) (int64, error) {
	var counter int64
	err := q.QueryRow(ctx, counterValueSQL, BookingCounter).Scan(&counter)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("read counter %s: %w", BookingCounter, err)
	}

	var latest string
	err = q.QueryRow(ctx, latestNumberSQL, a.prefix+"%").Scan(&latest)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return counter, nil
	case err != nil:
		return 0, fmt.Errorf("read latest booking number: %w", err)
	}
	value, err := a.Parse(latest)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", latest, err)
	}
	return max(counter, value), nil
}
