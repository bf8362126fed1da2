package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MithilHassan/kbt-express/internal/platform/httpx"
)

// DefaultActor is recorded when a transition carries no actor.
const DefaultActor = "System"

var (
	// ErrBookingNotFound is returned by Store implementations for unknown ids.
	ErrBookingNotFound = fmt.Errorf("%w: booking", httpx.ErrNotFound)
	// ErrNoBookings rejects a bulk transition without ids.
	ErrNoBookings = fmt.Errorf("%w: booking ids are required", httpx.ErrValidation)
	// ErrNoneUpdated reports a bulk transition that matched no booking.
	ErrNoneUpdated = fmt.Errorf("%w: no bookings were updated", httpx.ErrNotFound)
)

// Entry is one row of the status history.
type Entry struct {
	ID        int64     `json:"id"`
	BookingID uuid.UUID `json:"booking_id"`
	Status    Status    `json:"status"`
	Notes     *string   `json:"notes,omitempty"`
	CreatedBy string    `json:"created_by"`
	Timestamp time.Time `json:"timestamp"`
}

// Store persists statuses and history. ListHistory returns entries ordered by
// timestamp ascending.
type Store interface {
	CurrentStatus(ctx context.Context, bookingID uuid.UUID) (Status, error)
	SetStatus(ctx context.Context, bookingID uuid.UUID, s Status, at time.Time) error
	AppendHistory(ctx context.Context, entry Entry) (Entry, error)
	LatestHistoryAt(ctx context.Context, bookingID uuid.UUID) (time.Time, error)
	ListHistory(ctx context.Context, bookingID uuid.UUID) ([]Entry, error)
}

// Transition is a request to move one booking.
type Transition struct {
	BookingID uuid.UUID
	Status    Status
	Note      string
	Actor     string
}

// Result describes an applied transition.
type Result struct {
	BookingID uuid.UUID `json:"booking_id"`
	Previous  Status    `json:"previous"`
	Current   Status    `json:"current"`
	Changed   bool      `json:"changed"`
	Entry     *Entry    `json:"entry,omitempty"`
	// HistoryErr is set when the status was stored but the history row was not.
	HistoryErr error `json:"-"`
}

// BulkTransition moves several bookings to the same status.
type BulkTransition struct {
	BookingIDs []uuid.UUID
	Status     Status
	Note       string
	Actor      string
}

// Failure pairs a booking id with the reason it was not updated.
type Failure struct {
	BookingID uuid.UUID `json:"booking_id"`
	Reason    string    `json:"reason"`
}

// BulkResult reports the outcome of a bulk transition.
type BulkResult struct {
	Requested       int         `json:"requested"`
	Updated         int         `json:"updated"`
	Missing         []uuid.UUID `json:"missing,omitempty"`
	Failed          []Failure   `json:"failed,omitempty"`
	HistoryFailures []uuid.UUID `json:"history_failures,omitempty"`
}

// Workflow applies status transitions against a Store.
type Workflow struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option customises a Workflow.
type Option func(*Workflow)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWorkflow constructs a Workflow.
func NewWorkflow(store Store, logger *slog.Logger, opts ...Option) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Workflow{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ApplyTransition stores the new status and appends one history entry. Setting
// the current status again is accepted without a history entry.
func (w *Workflow) ApplyTransition(ctx context.Context, t Transition) (Result, error) {
	if !t.Status.IsValid() {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidStatus, t.Status)
	}
	return w.apply(ctx, t)
}

func (w *Workflow) apply(ctx context.Context, t Transition) (Result, error) {
	current, err := w.store.CurrentStatus(ctx, t.BookingID)
	if err != nil {
		return Result{}, fmt.Errorf("load status: %w", err)
	}

	at, err := w.timestamp(ctx, t.BookingID)
	if err != nil {
		return Result{}, err
	}
	if err := w.store.SetStatus(ctx, t.BookingID, t.Status, at); err != nil {
		return Result{}, fmt.Errorf("set status: %w", err)
	}

	res := Result{BookingID: t.BookingID, Previous: current, Current: t.Status}
	if current == t.Status {
		return res, nil
	}
	res.Changed = true

	entry, err := w.store.AppendHistory(ctx, NewEntry(t.BookingID, t.Status, t.Note, t.Actor, at))
	if err != nil {
		w.logger.Error("append status history",
			slog.String("booking_id", t.BookingID.String()),
			slog.String("status", t.Status.String()),
			slog.Any("error", err))
		res.HistoryErr = err
		return res, nil
	}
	res.Entry = &entry
	return res, nil
}

// ApplyBulkTransition applies the single transition contract to every id.
// Unknown ids are reported in Missing; the error is non-nil only for invalid
// input, cancellation, or when nothing was updated.
func (w *Workflow) ApplyBulkTransition(ctx context.Context, bt BulkTransition) (BulkResult, error) {
	if len(bt.BookingIDs) == 0 {
		return BulkResult{}, ErrNoBookings
	}
	if !bt.Status.IsValid() {
		return BulkResult{}, fmt.Errorf("%w: %q", ErrInvalidStatus, bt.Status)
	}

	ids := dedupe(bt.BookingIDs)
	res := BulkResult{Requested: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out, err := w.apply(ctx, Transition{BookingID: id, Status: bt.Status, Note: bt.Note, Actor: bt.Actor})
		switch {
		case errors.Is(err, ErrBookingNotFound):
			res.Missing = append(res.Missing, id)
			continue
		case err != nil:
			w.logger.Warn("bulk status update",
				slog.String("booking_id", id.String()),
				slog.Any("error", err))
			res.Failed = append(res.Failed, Failure{BookingID: id, Reason: err.Error()})
			continue
		}
		res.Updated++
		if out.HistoryErr != nil {
			res.HistoryFailures = append(res.HistoryFailures, id)
		}
	}
	if res.Updated == 0 {
		return res, ErrNoneUpdated
	}
	return res, nil
}

// History lists the audit trail of a booking, oldest first.
func (w *Workflow) History(ctx context.Context, bookingID uuid.UUID) ([]Entry, error) {
	entries, err := w.store.ListHistory(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

// timestamp returns the current time, never earlier than the latest entry.
func (w *Workflow) timestamp(ctx context.Context, bookingID uuid.UUID) (time.Time, error) {
	at := w.now().UTC()
	latest, err := w.store.LatestHistoryAt(ctx, bookingID)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest history: %w", err)
	}
	if latest.After(at) {
		at = latest
	}
	return at, nil
}

// NewEntry builds a history entry, defaulting the actor to DefaultActor.
func NewEntry(bookingID uuid.UUID, s Status, note, actor string, at time.Time) Entry {
	entry := Entry{BookingID: bookingID, Status: s, CreatedBy: DefaultActor, Timestamp: at}
	if actor = strings.TrimSpace(actor); actor != "" {
		entry.CreatedBy = actor
	}
	if note = strings.TrimSpace(note); note != "" {
		entry.Notes = &note
	}
	return entry
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
