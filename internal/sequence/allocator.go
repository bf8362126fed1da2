// Package sequence mints booking numbers from a store-side atomic counter.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultPrefix is prepended to every booking number.
	DefaultPrefix = "101"
	// DefaultWidth is the minimum number of counter digits.
	DefaultWidth = 6
	// BookingCounter names the counter backing booking numbers.
	BookingCounter = "booking_number"
)

var (
	// ErrAllocation reports that the counter could not be advanced.
	ErrAllocation = errors.New("booking number allocation failed")
	// ErrMalformedNumber reports a booking number that does not match the format.
	ErrMalformedNumber = errors.New("malformed booking number")
)

// Counter advances a counter by one and returns the new value. Implementations
// must evaluate the increment atomically inside the store.
type Counter interface {
	Increment(ctx context.Context) (int64, error)
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(ctx context.Context) (int64, error)

// Increment implements Counter.
func (f CounterFunc) Increment(ctx context.Context) (int64, error) {
	return f(ctx)
}

// Allocator formats counter values as booking numbers.
type Allocator struct {
	prefix string
	width  int
}

// NewAllocator validates the number format. The prefix must be numeric so the
// formatted value stays within the barcode payload alphabet.
func NewAllocator(prefix string, width int) (*Allocator, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if width <= 0 {
		width = DefaultWidth
	}
	if width > 18 {
		return nil, fmt.Errorf("sequence: width %d too large", width)
	}
	for _, r := range prefix {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("sequence: prefix %q must be numeric", prefix)
		}
	}
	return &Allocator{prefix: prefix, width: width}, nil
}

// Next advances counter and returns the formatted booking number. Any counter
// failure is reported as ErrAllocation and no number is produced.
func (a *Allocator) Next(ctx context.Context, counter Counter) (string, error) {
	if counter == nil {
		return "", fmt.Errorf("%w: no counter configured", ErrAllocation)
	}
	value, err := counter.Increment(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	if value <= 0 {
		return "", fmt.Errorf("%w: counter returned %d", ErrAllocation, value)
	}
	return a.Format(value), nil
}

// Format renders value with the configured prefix and zero padding. Lexical and
// numeric order agree while value fits in the configured width.
func (a *Allocator) Format(value int64) string {
	return fmt.Sprintf("%s%0*d", a.prefix, a.width, value)
}

// Parse returns the counter value encoded in number.
func (a *Allocator) Parse(number string) (int64, error) {
	number = strings.TrimSpace(number)
	if !strings.HasPrefix(number, a.prefix) {
		return 0, ErrMalformedNumber
	}
	digits := strings.TrimPrefix(number, a.prefix)
	if len(digits) < a.width {
		return 0, ErrMalformedNumber
	}
	value, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || value <= 0 {
		return 0, ErrMalformedNumber
	}
	return value, nil
}

// Prefix returns the configured prefix.
func (a *Allocator) Prefix() string {
	return a.prefix
}
