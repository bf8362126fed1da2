package booking

import (
	"fmt"

	"github.com/MithilHassan/kbt-express/internal/platform/httpx"
	"github.com/MithilHassan/kbt-express/internal/sequence"
)

// Domain errors for bookings.
var (
	// ErrNotFound indicates the requested booking does not exist.
	ErrNotFound = fmt.Errorf("%w: booking not found", httpx.ErrNotFound)

	// Validation errors.
	ErrEmptyPackages  = fmt.Errorf("%w: at least one package is required", httpx.ErrValidation)
	ErrInvalidCountry = fmt.Errorf("%w: invalid country code", httpx.ErrValidation)
	ErrInvalidID      = fmt.Errorf("%w: invalid booking id", httpx.ErrValidation)
	ErrEmptyNumber    = fmt.Errorf("%w: booking number is required", httpx.ErrValidation)

	// ErrAllocation wraps counter failures; nothing is persisted when it occurs.
	ErrAllocation = fmt.Errorf("%w: %w", httpx.ErrUnavailable, sequence.ErrAllocation)
	// ErrStoreUnavailable reports that the booking store could not open a transaction.
	ErrStoreUnavailable = fmt.Errorf("%w: booking store unavailable", httpx.ErrUnavailable)
	// ErrReplayed reports a reused Idempotency-Key.
	ErrReplayed = fmt.Errorf("%w: request already processed", httpx.ErrDuplicate)
)
