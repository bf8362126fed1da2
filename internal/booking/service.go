package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MithilHassan/kbt-express/internal/platform/cache"
	"github.com/MithilHassan/kbt-express/internal/sequence"
	"github.com/MithilHassan/kbt-express/internal/shared"
	"github.com/MithilHassan/kbt-express/internal/status"
	"github.com/MithilHassan/kbt-express/internal/weight"
)

// IdempotencyModule scopes Idempotency-Key values of booking intake.
const IdempotencyModule = "booking.create"

// Warnings attached to a created booking whose follow-up writes failed.
const (
	WarnPackagesNotSaved = "packages could not be saved"
	WarnHistoryNotSaved  = "status history could not be saved"
)

// Store is the persistence surface used by Service.
type Store interface {
	status.Store
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	InsertPackages(ctx context.Context, bookingID uuid.UUID, packages []Package) ([]Package, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetByNumber(ctx context.Context, number string) (*Booking, error)
	Numbers(ctx context.Context, ids []uuid.UUID) ([]string, error)
	List(ctx context.Context, f ListFilter) ([]Booking, int, error)
	Stats(ctx context.Context, since time.Time) (Stats, error)
	Delete(ctx context.Context, id uuid.UUID) (string, error)
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyGuard claims request keys.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Service provides business logic for bookings.
type Service struct {
	repo        Store
	allocator   *sequence.Allocator
	counter     sequence.Counter
	workflow    *status.Workflow
	validator   *Validator
	policy      weight.Policy
	audit       AuditRecorder
	idempotency IdempotencyGuard
	tracking    *cache.Store
	location    *time.Location
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs a booking service. Booking numbers come from the
// transactional counter of the store unless SetCounter supplies another one.
func NewService(repo Store, allocator *sequence.Allocator, workflow *status.Workflow, policy weight.Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		allocator: allocator,
		workflow:  workflow,
		validator: NewValidator(),
		policy:    policy,
		location:  time.UTC,
		logger:    logger,
		now:       time.Now,
	}
}

// SetCounter replaces the transactional counter, e.g. with a Redis counter.
func (s *Service) SetCounter(c sequence.Counter) {
	s.counter = c
}

// SetAuditLogger enables audit records for edits, deletes and bulk transitions.
func (s *Service) SetAuditLogger(a AuditRecorder) {
	s.audit = a
}

// SetIdempotencyStore enables Idempotency-Key handling on Create.
func (s *Service) SetIdempotencyStore(g IdempotencyGuard) {
	s.idempotency = g
}

// SetTrackingCache caches public tracking lookups.
func (s *Service) SetTrackingCache(c *cache.Store) {
	s.tracking = c
}

// SetLocation sets the business time zone used for "today".
func (s *Service) SetLocation(loc *time.Location) {
	if loc != nil {
		s.location = loc
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Validator returns the request validator.
func (s *Service) Validator() *Validator {
	return s.validator
}

// Policy returns the shipment weight policy.
func (s *Service) Policy() weight.Policy {
	return s.policy
}

// ============================================================================
// BOOKING OPERATIONS
// ============================================================================

// Create validates and stores a booking. The booking number is allocated and
// the booking row inserted in one transaction; packages and the initial
// history entry follow, and their failures are reported as warnings.
func (s *Service) Create(ctx context.Context, req BookingRequest, actor, idempotencyKey string) (*CreateResult, error) {
	if err := s.validator.ValidateBookingRequest(&req); err != nil {
		return nil, err
	}

	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idempotencyKey, IdempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return nil, ErrReplayed
			}
			return nil, fmt.Errorf("claim idempotency key: %w", err)
		}
	}

	b, packages := Build(req, s.policy)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := s.allocator.Next(ctx, s.counterFor(tx))
		if err != nil {
			return err
		}
		b.BookingNumber = number
		b.Status = status.Initial
		saved, err := tx.InsertBooking(ctx, b)
		if err != nil {
			return err
		}
		b = saved
		return nil
	})
	if err != nil {
		s.releaseKey(idempotencyKey)
		if errors.Is(err, sequence.ErrAllocation) || errors.Is(err, ErrStoreUnavailable) {
			s.logger.Error("booking number allocation failed", slog.Any("error", err))
			return nil, ErrAllocation
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}

	result := &CreateResult{Booking: &b}
	log := s.logger.With(slog.String("booking_number", b.BookingNumber), slog.String("booking_id", b.ID.String()))

	saved, err := s.repo.InsertPackages(ctx, b.ID, packages)
	if err != nil {
		log.Error("insert booking packages", slog.Any("error", err))
		result.Warnings = append(result.Warnings, WarnPackagesNotSaved)
		b.Packages = packages
	} else {
		b.Packages = saved
	}

	entry := status.NewEntry(b.ID, status.Initial, "Booking created", actor, b.CreatedAt)
	if _, err := s.repo.AppendHistory(ctx, entry); err != nil {
		log.Error("append initial status history", slog.Any("error", err))
		result.Warnings = append(result.Warnings, WarnHistoryNotSaved)
	}

	log.Info("booking created", slog.Int("packages", len(packages)), slog.Float64("gross_weight", b.GrossWeight))
	return result, nil
}

func (s *Service) counterFor(tx TxRepository) sequence.Counter {
	if s.counter != nil {
		return s.counter
	}
	return tx.Counter()
}

func (s *Service) releaseKey(key string) {
	if key == "" || s.idempotency == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.idempotency.Delete(ctx, key, IdempotencyModule); err != nil {
		s.logger.Warn("release idempotency key", slog.Any("error", err))
	}
}

// Get returns a booking with its packages.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

// Update replaces every editable field and the whole package set. Weights are
// recomputed; the booking number and status are kept.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req BookingRequest, actor string) (*Booking, error) {
	if err := s.validator.ValidateBookingRequest(&req); err != nil {
		return nil, err
	}
	next, packages := Build(req, s.policy)

	var updated Booking
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockBooking(ctx, id)
		if err != nil {
			return err
		}
		next.ID = current.ID
		next.BookingNumber = current.BookingNumber
		next.Status = current.Status
		saved, err := tx.UpdateBooking(ctx, next)
		if err != nil {
			return err
		}
		stored, err := tx.ReplacePackages(ctx, id, packages)
		if err != nil {
			return err
		}
		saved.Packages = stored
		updated = saved
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update booking: %w", err)
	}

	s.invalidateTracking(ctx, updated.BookingNumber)
	s.record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   "booking.update",
		Entity:   "booking",
		EntityID: updated.ID.String(),
		Meta:     map[string]any{"booking_number": updated.BookingNumber, "packages": len(packages)},
	})
	return &updated, nil
}

// Delete removes a booking together with its packages and history.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor string) error {
	number, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.invalidateTracking(ctx, number)
	s.record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   "booking.delete",
		Entity:   "booking",
		EntityID: id.String(),
		Meta:     map[string]any{"booking_number": number},
	})
	s.logger.Info("booking deleted", slog.String("booking_number", number), slog.String("actor", actor))
	return nil
}

// List returns one page of bookings.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Booking, shared.Pagination, error) {
	f.Page, f.PerPage = shared.Normalize(f.Page, f.PerPage)
	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(f.Page, f.PerPage, total), nil
}

// Stats returns dashboard counters. "Today" starts at midnight in the
// configured location.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	now := s.now().In(s.location)
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	return s.repo.Stats(ctx, since)
}

// Track returns the public view of a booking looked up by number.
func (s *Service) Track(ctx context.Context, number string) (*Tracking, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, ErrEmptyNumber
	}
	var out Tracking
	err := s.tracking.FetchJSON(ctx, s.trackingKey(number), &out, func(ctx context.Context) (any, error) {
		return s.loadTracking(ctx, number)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) loadTracking(ctx context.Context, number string) (*Tracking, error) {
	b, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	history, err := s.workflow.History(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []status.Entry{}
	}
	return &Tracking{
		BookingNumber:      b.BookingNumber,
		Status:             b.Status,
		StatusDescription:  b.Status.Description(),
		OriginCity:         b.Shipper.City,
		OriginCountry:      b.Shipper.Country,
		DestinationCity:    b.Consignee.City,
		DestinationCountry: b.Consignee.Country,
		Pieces:             b.Pieces,
		GrossWeight:        b.GrossWeight,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
		History:            history,
	}, nil
}

func (s *Service) trackingKey(number string) string {
	return s.tracking.Key(strings.ToUpper(number))
}

func (s *Service) invalidateTracking(ctx context.Context, numbers ...string) {
	if s.tracking == nil || len(numbers) == 0 {
		return
	}
	keys := make([]string, 0, len(numbers))
	for _, n := range numbers {
		keys = append(keys, s.trackingKey(n))
	}
	if err := s.tracking.Delete(ctx, keys...); err != nil {
		s.logger.Warn("invalidate tracking cache", slog.Any("error", err))
	}
}

func (s *Service) invalidateTrackingIDs(ctx context.Context, ids ...uuid.UUID) {
	if s.tracking == nil || len(ids) == 0 {
		return
	}
	numbers, err := s.repo.Numbers(ctx, ids)
	if err != nil {
		s.logger.Warn("resolve booking numbers", slog.Any("error", err))
		return
	}
	s.invalidateTracking(ctx, numbers...)
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit log", slog.String("action", log.Action), slog.Any("error", err))
	}
}

// ============================================================================
// STATUS OPERATIONS
// ============================================================================

// UpdateStatus moves one booking to a new status.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, req StatusRequest, actor string) (status.Result, error) {
	next, err := status.Parse(req.Status)
	if err != nil {
		return status.Result{}, err
	}
	res, err := s.workflow.ApplyTransition(ctx, status.Transition{BookingID: id, Status: next, Note: req.Notes, Actor: actor})
	if err != nil {
		return status.Result{}, err
	}
	s.invalidateTrackingIDs(ctx, id)
	return res, nil
}

// BulkUpdateStatus moves several bookings to the same status.
func (s *Service) BulkUpdateStatus(ctx context.Context, req BulkStatusRequest, actor string) (status.BulkResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return status.BulkResult{}, err
	}
	next, err := status.Parse(req.Status)
	if err != nil {
		return status.BulkResult{}, err
	}
	res, err := s.workflow.ApplyBulkTransition(ctx, status.BulkTransition{
		BookingIDs: req.BookingIDs,
		Status:     next,
		Note:       req.Notes,
		Actor:      actor,
	})
	if res.Updated > 0 {
		s.invalidateTrackingIDs(ctx, req.BookingIDs...)
		s.record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "booking.bulk_status",
			Entity:   "booking",
			EntityID: "bulk",
			Meta: map[string]any{
				"status":    next.String(),
				"requested": res.Requested,
				"updated":   res.Updated,
				"missing":   len(res.Missing),
			},
		})
	}
	return res, err
}

// History returns the status history of a booking, oldest first.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]status.Entry, error) {
	if _, err := s.repo.CurrentStatus(ctx, id); err != nil {
		if errors.Is(err, status.ErrBookingNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	entries, err := s.workflow.History(ctx, id)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []status.Entry{}
	}
	return entries, nil
}
