package booking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MithilHassan/kbt-express/internal/sequence"
	"github.com/MithilHassan/kbt-express/internal/shared"
	"github.com/MithilHassan/kbt-express/internal/status"
)

// memStore is an in-memory Store. Transactions stage their writes and only
// publish them when the callback succeeds.
type memStore struct {
	mu       sync.Mutex
	now      time.Time
	bookings map[uuid.UUID]Booking
	packages map[uuid.UUID][]Package
	history  map[uuid.UUID][]status.Entry
	counter  int64
	nextPkg  int64

	counterErr  error
	beginErr    error
	insertErr   error
	packagesErr error
	historyErr  error

	txCalls       int
	insertCalls   int
	packageCalls  int
	getByNumCalls int
	lastSince     time.Time
}

func newMemStore() *memStore {
	return &memStore{
		now:      time.Date(2025, 3, 9, 8, 30, 0, 0, time.UTC),
		bookings: make(map[uuid.UUID]Booking),
		packages: make(map[uuid.UUID][]Package),
		history:  make(map[uuid.UUID][]status.Entry),
	}
}

type memTx struct {
	s        *memStore
	counter  int64
	staged   []Booking
	packages map[uuid.UUID][]Package
}

func (s *memStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCalls++
	if s.beginErr != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, s.beginErr)
	}
	tx := &memTx{s: s, counter: s.counter, packages: make(map[uuid.UUID][]Package)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.counter = tx.counter
	for _, b := range tx.staged {
		s.bookings[b.ID] = b
	}
	for id, p := range tx.packages {
		s.packages[id] = p
	}
	return nil
}

func (t *memTx) Counter() sequence.Counter {
	return sequence.CounterFunc(func(context.Context) (int64, error) {
		if t.s.counterErr != nil {
			return 0, t.s.counterErr
		}
		t.counter++
		return t.counter, nil
	})
}

func (t *memTx) InsertBooking(_ context.Context, b Booking) (Booking, error) {
	t.s.insertCalls++
	if t.s.insertErr != nil {
		return Booking{}, t.s.insertErr
	}
	b.ID = uuid.New()
	b.CreatedAt = t.s.now
	b.UpdatedAt = t.s.now
	b.Packages = nil
	t.staged = append(t.staged, b)
	return b, nil
}

func (t *memTx) UpdateBooking(_ context.Context, b Booking) (Booking, error) {
	current, ok := t.s.bookings[b.ID]
	if !ok {
		return Booking{}, ErrNotFound
	}
	b.CreatedAt = current.CreatedAt
	b.UpdatedAt = current.UpdatedAt.Add(time.Second)
	b.Packages = nil
	t.staged = append(t.staged, b)
	return b, nil
}

func (t *memTx) ReplacePackages(_ context.Context, bookingID uuid.UUID, packages []Package) ([]Package, error) {
	out := t.s.assignPackages(bookingID, packages)
	t.packages[bookingID] = out
	return out, nil
}

func (t *memTx) LockBooking(_ context.Context, id uuid.UUID) (*Booking, error) {
	b, ok := t.s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (s *memStore) assignPackages(bookingID uuid.UUID, packages []Package) []Package {
	out := make([]Package, len(packages))
	for i, p := range packages {
		s.nextPkg++
		p.ID = s.nextPkg
		p.BookingID = bookingID
		out[i] = p
	}
	return out
}

// seed stores a committed booking directly.
func (s *memStore) seed(number string, st status.Status) Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := Booking{
		ID:            uuid.New(),
		BookingNumber: number,
		Shipper:       Party{CompanyName: "Rahman Textiles", City: "Dhaka", Country: "BD"},
		Consignee:     Party{CompanyName: "Northwind GmbH", City: "Hamburg", Country: "DE"},
		PaymentMode:   "COD",
		Pieces:        1,
		GrossWeight:   2.5,
		Status:        st,
		CreatedAt:     s.now,
		UpdatedAt:     s.now,
	}
	s.bookings[b.ID] = b
	s.history[b.ID] = []status.Entry{{ID: 1, BookingID: b.ID, Status: status.Initial, CreatedBy: "System", Timestamp: s.now}}
	return b
}

func (s *memStore) InsertPackages(_ context.Context, bookingID uuid.UUID, packages []Package) ([]Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packageCalls++
	if s.packagesErr != nil {
		return nil, s.packagesErr
	}
	out := s.assignPackages(bookingID, packages)
	s.packages[bookingID] = out
	return out, nil
}

func (s *memStore) GetBooking(_ context.Context, id uuid.UUID) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	b.Packages = append([]Package(nil), s.packages[id]...)
	return &b, nil
}

func (s *memStore) GetByNumber(_ context.Context, number string) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getByNumCalls++
	for _, b := range s.bookings {
		if b.BookingNumber == number {
			return &b, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) Numbers(_ context.Context, ids []uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range ids {
		if b, ok := s.bookings[id]; ok {
			out = append(out, b.BookingNumber)
		}
	}
	return out, nil
}

func (s *memStore) List(_ context.Context, f ListFilter) ([]Booking, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []Booking
	for _, b := range s.bookings {
		if f.Status != nil && b.Status != *f.Status {
			continue
		}
		if q := strings.ToLower(f.Search); q != "" &&
			!strings.Contains(strings.ToLower(b.BookingNumber), q) &&
			!strings.Contains(strings.ToLower(b.Shipper.CompanyName), q) &&
			!strings.Contains(strings.ToLower(b.Consignee.CompanyName), q) {
			continue
		}
		matched = append(matched, b)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].BookingNumber > matched[j].BookingNumber })
	total := len(matched)
	if f.PerPage > 0 {
		start := (max(f.Page, 1) - 1) * f.PerPage
		if start > total {
			start = total
		}
		end := min(start+f.PerPage, total)
		matched = matched[start:end]
	}
	return matched, total, nil
}

func (s *memStore) Stats(_ context.Context, since time.Time) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSince = since
	var out Stats
	for _, b := range s.bookings {
		out.Total++
		if !b.CreatedAt.Before(since) {
			out.Today++
		}
		switch b.Status {
		case status.Pending:
			out.Pending++
		case status.Delivered:
			out.Completed++
		}
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, id uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return "", ErrNotFound
	}
	delete(s.bookings, id)
	delete(s.packages, id)
	delete(s.history, id)
	return b.BookingNumber, nil
}

func (s *memStore) CurrentStatus(_ context.Context, id uuid.UUID) (status.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return "", status.ErrBookingNotFound
	}
	return b.Status, nil
}

func (s *memStore) SetStatus(_ context.Context, id uuid.UUID, st status.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return status.ErrBookingNotFound
	}
	b.Status = st
	b.UpdatedAt = at
	s.bookings[id] = b
	return nil
}

func (s *memStore) AppendHistory(_ context.Context, e status.Entry) (status.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyErr != nil {
		return status.Entry{}, s.historyErr
	}
	if _, ok := s.bookings[e.BookingID]; !ok {
		return status.Entry{}, status.ErrBookingNotFound
	}
	e.ID = int64(len(s.history[e.BookingID]) + 1)
	s.history[e.BookingID] = append(s.history[e.BookingID], e)
	return e, nil
}

func (s *memStore) LatestHistoryAt(_ context.Context, id uuid.UUID) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest time.Time
	for _, e := range s.history[id] {
		if e.Timestamp.After(latest) {
			latest = e.Timestamp
		}
	}
	return latest, nil
}

func (s *memStore) ListHistory(_ context.Context, id uuid.UUID) ([]status.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]status.Entry(nil), s.history[id]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
	actors  []string
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, log.Action)
	a.actors = append(a.actors, log.Actor)
	return nil
}

type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	k := module + "/" + key
	if m.keys[k] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[k] = true
	return nil
}

func (m *memIdempotency) Delete(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+"/"+key)
	return nil
}
