package booking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MithilHassan/kbt-express/internal/platform/db"
	"github.com/MithilHassan/kbt-express/internal/sequence"
	"github.com/MithilHassan/kbt-express/internal/status"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Repository provides PostgreSQL backed persistence for bookings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations that run inside the booking transaction.
type TxRepository interface {
	// Counter advances the booking number counter within the transaction.
	Counter() sequence.Counter
	InsertBooking(ctx context.Context, b Booking) (Booking, error)
	UpdateBooking(ctx context.Context, b Booking) (Booking, error)
	ReplacePackages(ctx context.Context, bookingID uuid.UUID, packages []Package) ([]Package, error)
	LockBooking(ctx context.Context, id uuid.UUID) (*Booking, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a read-committed transaction. The counter row lock
// taken by Counter is held until commit.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	if errors.Is(err, db.ErrBeginTx) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}

func (t *txRepo) Counter() sequence.Counter {
	return sequence.NewPGCounter(t.tx, sequence.BookingCounter)
}

func (t *txRepo) InsertBooking(ctx context.Context, b Booking) (Booking, error) {
	return insertBooking(ctx, t.tx, b)
}

func (t *txRepo) UpdateBooking(ctx context.Context, b Booking) (Booking, error) {
	return updateBooking(ctx, t.tx, b)
}

func (t *txRepo) ReplacePackages(ctx context.Context, bookingID uuid.UUID, packages []Package) ([]Package, error) {
	if _, err := t.tx.Exec(ctx, `DELETE FROM booking_packages WHERE booking_id = $1`, bookingID); err != nil {
		return nil, fmt.Errorf("delete packages: %w", err)
	}
	return insertPackages(ctx, t.tx, bookingID, packages)
}

func (t *txRepo) LockBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return getBooking(ctx, t.tx, selectBookingSQL+` WHERE id = $1 FOR UPDATE`, id)
}

// ============================================================================
// BOOKING OPERATIONS
// ============================================================================

const bookingColumns = `
	id, booking_number,
	shipper_company_name, shipper_contact_person, shipper_address_line, shipper_city,
	shipper_zip, shipper_state, shipper_country, shipper_phone, shipper_email,
	shipper_registration_type, shipper_registration_number,
	consignee_company_name, consignee_contact_person, consignee_address_line, consignee_city,
	consignee_zip, consignee_state, consignee_country, consignee_phone, consignee_email,
	consignee_registration_type, consignee_registration_number,
	payment_mode, amount, reference_number, pieces, product_value,
	billing_weight_kg, billing_weight_gm, gross_weight, dimensional_weight,
	item_type, item_description, remarks, status, created_at, updated_at`

const selectBookingSQL = `SELECT ` + bookingColumns + ` FROM bookings`

func bookingArgs(b Booking) []any {
	sType, sNumber := registrationArgs(b.Shipper.Registration)
	cType, cNumber := registrationArgs(b.Consignee.Registration)
	return []any{
		b.BookingNumber,
		b.Shipper.CompanyName, b.Shipper.ContactPerson, b.Shipper.AddressLine, b.Shipper.City,
		b.Shipper.Zip, b.Shipper.State, b.Shipper.Country, b.Shipper.Phone, b.Shipper.Email,
		sType, sNumber,
		b.Consignee.CompanyName, b.Consignee.ContactPerson, b.Consignee.AddressLine, b.Consignee.City,
		b.Consignee.Zip, b.Consignee.State, b.Consignee.Country, b.Consignee.Phone, b.Consignee.Email,
		cType, cNumber,
		b.PaymentMode, b.Amount, b.ReferenceNumber, b.Pieces, b.ProductValue,
		b.BillingWeightKg, b.BillingWeightGm, b.GrossWeight, b.DimensionalWeight,
		b.ItemType, b.ItemDescription, b.Remarks, string(b.Status),
	}
}

func registrationArgs(r *Registration) (*string, *string) {
	if r == nil {
		return nil, nil
	}
	typ, number := r.Type, r.Number
	return &typ, &number
}

func insertBooking(ctx context.Context, q dbtx, b Booking) (Booking, error) {
	query := `
		INSERT INTO bookings (
			booking_number,
			shipper_company_name, shipper_contact_person, shipper_address_line, shipper_city,
			shipper_zip, shipper_state, shipper_country, shipper_phone, shipper_email,
			shipper_registration_type, shipper_registration_number,
			consignee_company_name, consignee_contact_person, consignee_address_line, consignee_city,
			consignee_zip, consignee_state, consignee_country, consignee_phone, consignee_email,
			consignee_registration_type, consignee_registration_number,
			payment_mode, amount, reference_number, pieces, product_value,
			billing_weight_kg, billing_weight_gm, gross_weight, dimensional_weight,
			item_type, item_description, remarks, status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23,
			$24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36
		)
		RETURNING id, created_at, updated_at
	`
	if err := q.QueryRow(ctx, query, bookingArgs(b)...).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return Booking{}, fmt.Errorf("insert booking: %w", err)
	}
	return b, nil
}

func updateBooking(ctx context.Context, q dbtx, b Booking) (Booking, error) {
	query := `
		UPDATE bookings SET
			booking_number = $1,
			shipper_company_name = $2, shipper_contact_person = $3, shipper_address_line = $4, shipper_city = $5,
			shipper_zip = $6, shipper_state = $7, shipper_country = $8, shipper_phone = $9, shipper_email = $10,
			shipper_registration_type = $11, shipper_registration_number = $12,
			consignee_company_name = $13, consignee_contact_person = $14, consignee_address_line = $15, consignee_city = $16,
			consignee_zip = $17, consignee_state = $18, consignee_country = $19, consignee_phone = $20, consignee_email = $21,
			consignee_registration_type = $22, consignee_registration_number = $23,
			payment_mode = $24, amount = $25, reference_number = $26, pieces = $27, product_value = $28,
			billing_weight_kg = $29, billing_weight_gm = $30, gross_weight = $31, dimensional_weight = $32,
			item_type = $33, item_description = $34, remarks = $35, status = $36,
			updated_at = GREATEST(NOW(), updated_at + INTERVAL '1 microsecond')
		WHERE id = $37
		RETURNING created_at, updated_at
	`
	args := append(bookingArgs(b), b.ID)
	err := q.QueryRow(ctx, query, args...).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Booking{}, ErrNotFound
		}
		return Booking{}, fmt.Errorf("update booking: %w", err)
	}
	return b, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b              Booking
		sType, sNumber *string
		cType, cNumber *string
		statusValue    string
	)
	err := row.Scan(
		&b.ID, &b.BookingNumber,
		&b.Shipper.CompanyName, &b.Shipper.ContactPerson, &b.Shipper.AddressLine, &b.Shipper.City,
		&b.Shipper.Zip, &b.Shipper.State, &b.Shipper.Country, &b.Shipper.Phone, &b.Shipper.Email,
		&sType, &sNumber,
		&b.Consignee.CompanyName, &b.Consignee.ContactPerson, &b.Consignee.AddressLine, &b.Consignee.City,
		&b.Consignee.Zip, &b.Consignee.State, &b.Consignee.Country, &b.Consignee.Phone, &b.Consignee.Email,
		&cType, &cNumber,
		&b.PaymentMode, &b.Amount, &b.ReferenceNumber, &b.Pieces, &b.ProductValue,
		&b.BillingWeightKg, &b.BillingWeightGm, &b.GrossWeight, &b.DimensionalWeight,
		&b.ItemType, &b.ItemDescription, &b.Remarks, &statusValue, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Shipper.Country = strings.TrimSpace(b.Shipper.Country)
	b.Consignee.Country = strings.TrimSpace(b.Consignee.Country)
	b.Shipper.Registration = registrationFrom(sType, sNumber)
	b.Consignee.Registration = registrationFrom(cType, cNumber)
	b.Status = status.Status(statusValue)
	return &b, nil
}

func registrationFrom(typ, number *string) *Registration {
	if typ == nil || number == nil || *number == "" {
		return nil
	}
	return &Registration{Type: *typ, Number: *number}
}

func getBooking(ctx context.Context, q dbtx, query string, args ...any) (*Booking, error) {
	b, err := scanBooking(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// GetBooking retrieves a booking by ID with its packages.
func (r *Repository) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := getBooking(ctx, r.pool, selectBookingSQL+` WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	packages, err := r.listPackages(ctx, id)
	if err != nil {
		return nil, err
	}
	b.Packages = packages
	return b, nil
}

// GetByNumber retrieves a booking by its booking number, without packages.
func (r *Repository) GetByNumber(ctx context.Context, number string) (*Booking, error) {
	return getBooking(ctx, r.pool, selectBookingSQL+` WHERE booking_number = $1`, number)
}

// Numbers resolves booking numbers for ids; unknown ids are skipped.
func (r *Repository) Numbers(ctx context.Context, ids []uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT booking_number FROM bookings WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("booking numbers: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// List returns one page of bookings matching the filter, newest first, and
// the total number of matches.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Booking, int, error) {
	where, args := listConditions(f)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bookings`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}

	query := selectBookingSQL + where + ` ORDER BY created_at DESC, booking_number DESC`
	if f.PerPage > 0 {
		args = append(args, f.PerPage, (max(f.Page, 1)-1)*f.PerPage)
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func listConditions(f ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, "%"+escapeLike(s)+"%")
		n := "$" + strconv.Itoa(len(args))
		conds = append(conds, "(booking_number ILIKE "+n+
			" OR shipper_company_name ILIKE "+n+
			" OR consignee_company_name ILIKE "+n+
			" OR shipper_city ILIKE "+n+
			" OR consignee_city ILIKE "+n+")")
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		conds = append(conds, "status = $"+strconv.Itoa(len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Stats returns dashboard counters; Today counts bookings created at or after since.
func (r *Repository) Stats(ctx context.Context, since time.Time) (Stats, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE created_at >= $1),
		       COUNT(*) FILTER (WHERE status = $2),
		       COUNT(*) FILTER (WHERE status = $3)
		FROM bookings
	`
	var s Stats
	err := r.pool.QueryRow(ctx, query, since, string(status.Pending), string(status.Delivered)).
		Scan(&s.Total, &s.Today, &s.Pending, &s.Completed)
	if err != nil {
		return Stats{}, fmt.Errorf("booking stats: %w", err)
	}
	return s, nil
}

// Delete removes a booking; packages and history cascade.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (string, error) {
	var number string
	err := r.pool.QueryRow(ctx, `DELETE FROM bookings WHERE id = $1 RETURNING booking_number`, id).Scan(&number)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("delete booking: %w", err)
	}
	return number, nil
}

// ============================================================================
// PACKAGE OPERATIONS
// ============================================================================

// InsertPackages stores packages of an already committed booking.
func (r *Repository) InsertPackages(ctx context.Context, bookingID uuid.UUID, packages []Package) ([]Package, error) {
	return insertPackages(ctx, r.pool, bookingID, packages)
}

func insertPackages(ctx context.Context, q dbtx, bookingID uuid.UUID, packages []Package) ([]Package, error) {
	if len(packages) == 0 {
		return nil, nil
	}
	query := `
		INSERT INTO booking_packages (
			booking_id, position, length_cm, width_cm, height_cm, pieces,
			billing_weight_kg, billing_weight_gm, dimensional_weight, gross_weight, description
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	batch := &pgx.Batch{}
	out := make([]Package, len(packages))
	for i, p := range packages {
		p.BookingID = bookingID
		if p.Position == 0 {
			p.Position = i + 1
		}
		out[i] = p
		batch.Queue(query, bookingID, p.Position, p.LengthCm, p.WidthCm, p.HeightCm, p.Pieces,
			p.BillingWeightKg, p.BillingWeightGm, p.DimensionalWeight, p.GrossWeight, p.Description)
	}

	br := q.SendBatch(ctx, batch)
	for i := range out {
		if err := br.QueryRow().Scan(&out[i].ID); err != nil {
			_ = br.Close()
			return nil, fmt.Errorf("insert package %d: %w", i+1, err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("insert packages: %w", err)
	}
	return out, nil
}

func (r *Repository) listPackages(ctx context.Context, bookingID uuid.UUID) ([]Package, error) {
	query := `
		SELECT id, booking_id, position, length_cm, width_cm, height_cm, pieces,
		       billing_weight_kg, billing_weight_gm, dimensional_weight, gross_weight, description
		FROM booking_packages
		WHERE booking_id = $1
		ORDER BY position, id
	`
	rows, err := r.pool.Query(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var out []Package
	for rows.Next() {
		var p Package
		if err := rows.Scan(&p.ID, &p.BookingID, &p.Position, &p.LengthCm, &p.WidthCm, &p.HeightCm, &p.Pieces,
			&p.BillingWeightKg, &p.BillingWeightGm, &p.DimensionalWeight, &p.GrossWeight, &p.Description); err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ============================================================================
// STATUS STORE
// ============================================================================

// CurrentStatus implements status.Store.
func (r *Repository) CurrentStatus(ctx context.Context, bookingID uuid.UUID) (status.Status, error) {
	var s string
	err := r.pool.QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1`, bookingID).Scan(&s)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", status.ErrBookingNotFound
		}
		return "", err
	}
	return status.Status(s), nil
}

// SetStatus implements status.Store.
func (r *Repository) SetStatus(ctx context.Context, bookingID uuid.UUID, s status.Status, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE bookings SET status = $2, updated_at = GREATEST($3, updated_at + INTERVAL '1 microsecond') WHERE id = $1`, bookingID, string(s), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return status.ErrBookingNotFound
	}
	return nil
}

// AppendHistory implements status.Store.
func (r *Repository) AppendHistory(ctx context.Context, entry status.Entry) (status.Entry, error) {
	query := `
		INSERT INTO booking_status_history (booking_id, status, notes, created_by, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.pool.QueryRow(ctx, query, entry.BookingID, string(entry.Status), entry.Notes, entry.CreatedBy, entry.Timestamp).Scan(&entry.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return status.Entry{}, status.ErrBookingNotFound
		}
		return status.Entry{}, fmt.Errorf("append history: %w", err)
	}
	return entry, nil
}

// LatestHistoryAt implements status.Store. It returns the zero time when the
// booking has no history.
func (r *Repository) LatestHistoryAt(ctx context.Context, bookingID uuid.UUID) (time.Time, error) {
	var at *time.Time
	err := r.pool.QueryRow(ctx, `SELECT MAX(timestamp) FROM booking_status_history WHERE booking_id = $1`, bookingID).Scan(&at)
	if err != nil {
		return time.Time{}, err
	}
	if at == nil {
		return time.Time{}, nil
	}
	return *at, nil
}

// ListHistory implements status.Store.
func (r *Repository) ListHistory(ctx context.Context, bookingID uuid.UUID) ([]status.Entry, error) {
	query := `
		SELECT id, booking_id, status, notes, created_by, timestamp
		FROM booking_status_history
		WHERE booking_id = $1
		ORDER BY timestamp ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []status.Entry
	for rows.Next() {
		var (
			e status.Entry
			s string
		)
		if err := rows.Scan(&e.ID, &e.BookingID, &s, &e.Notes, &e.CreatedBy, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Status = status.Status(s)
		out = append(out, e)
	}
	return out, rows.Err()
}
