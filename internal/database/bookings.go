package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"staybook/internal/domain"
	"staybook/internal/models"
)

const bookingColumns = `id, booking_number, property_id, guest_id, guest_name, guest_email, guest_phone,
	guest_count, start_date, end_date, total_days, nightly_price, total_amount, currency, status,
	payment_status, cancellation_reason, confirmed_at, cancelled_at, check_in_at, check_out_at,
	completed_at, created_at, updated_at, version`

var occupyingStatusList = func() string {
	quoted := make([]string, 0, len(models.OccupyingStatuses))
	for _, s := range models.OccupyingStatuses {
		quoted = append(quoted, "'"+string(s)+"'")
	}
	return strings.Join(quoted, ", ")
}()

func scanBooking(row scanner) (*models.Booking, error) {
	var b models.Booking
	var startStr, endStr string
	err := row.Scan(
		&b.ID, &b.BookingNumber, &b.PropertyID, &b.GuestID, &b.GuestName, &b.GuestEmail, &b.GuestPhone,
		&b.GuestCount, &startStr, &endStr, &b.TotalDays, &b.NightlyPrice, &b.TotalAmount, &b.Currency, &b.Status,
		&b.PaymentStatus, &b.CancellationReason, &b.ConfirmedAt, &b.CancelledAt, &b.CheckInAt, &b.CheckOutAt,
		&b.CompletedAt, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	if b.StartDate, err = models.ParseDate(startStr); err != nil {
		return nil, fmt.Errorf("failed to parse booking start %s: %w", startStr, err)
	}
	if b.EndDate, err = models.ParseDate(endStr); err != nil {
		return nil, fmt.Errorf("failed to parse booking end %s: %w", endStr, err)
	}
	return &b, nil
}

func collectBookings(rows *sql.Rows) ([]*models.Booking, error) {
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func findOverlapping(ctx context.Context, q queryer, propertyID int64, start, end time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
			WHERE property_id = ? AND status IN (` + occupyingStatusList + `)
			AND start_date < ? AND end_date > ?
			ORDER BY start_date`
	rows, err := q.QueryContext(ctx, query, propertyID, formatDate(end), formatDate(start))
	if err != nil {
		return nil, fmt.Errorf("failed to query overlapping bookings: %w", err)
	}
	return collectBookings(rows)
}

// FindOverlappingBookings returns occupying bookings whose [start, end)
// intersects the given half-open range.
func (db *DB) FindOverlappingBookings(ctx context.Context, propertyID int64, start, end time.Time) ([]*models.Booking, error) {
	return findOverlapping(ctx, db, propertyID, start, end)
}

// CreateBookingWithLock re-runs the overlap check inside an immediate
// transaction, then inserts the booking, its nights and their BOOKING-sourced
// override rows, the optional payment and the audit event. Losing the race
// yields domain.ErrConcurrentConflict.
func (db *DB) CreateBookingWithLock(ctx context.Context, booking *models.Booking, payment *models.Payment, event *models.BookingEvent) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	overlapping, err := findOverlapping(ctx, tx, booking.PropertyID, booking.StartDate, booking.EndDate)
	if err != nil {
		return err
	}
	if len(overlapping) > 0 {
		return fmt.Errorf("overlaps booking %s: %w", overlapping[0].BookingNumber, domain.ErrConcurrentConflict)
	}

	var blocked int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM availability_overrides
		WHERE property_id = ? AND source = ? AND available = 0 AND date >= ? AND date < ?`,
		booking.PropertyID, models.SourceManual, formatDate(booking.StartDate), formatDate(booking.EndDate)).Scan(&blocked)
	if err != nil {
		return fmt.Errorf("failed to check blocked days in tx: %w", err)
	}
	if blocked > 0 {
		return fmt.Errorf("%d blocked days in range: %w", blocked, domain.ErrNotAvailable)
	}

	now := time.Now()
	result, err := tx.ExecContext(ctx, `INSERT INTO bookings (
				booking_number, property_id, guest_id, guest_name, guest_email, guest_phone,
				guest_count, start_date, end_date, total_days, nightly_price, total_amount, currency,
				status, payment_status, cancellation_reason, confirmed_at, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		booking.BookingNumber, booking.PropertyID, booking.GuestID, booking.GuestName, booking.GuestEmail,
		booking.GuestPhone, booking.GuestCount, formatDate(booking.StartDate), formatDate(booking.EndDate),
		booking.TotalDays, booking.NightlyPrice, booking.TotalAmount, booking.Currency,
		booking.Status, booking.PaymentStatus, booking.CancellationReason, booking.ConfirmedAt, now, now,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("booking number %s taken: %w", booking.BookingNumber, domain.ErrConcurrentConflict)
		}
		return fmt.Errorf("failed to insert booking in tx: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}

	if booking.Status.IsOccupying() {
		for _, night := range booking.Nights() {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO booking_nights (property_id, night, booking_id) VALUES (?, ?, ?)`,
				booking.PropertyID, formatDate(night), id)
			if err != nil {
				if isConstraintViolation(err) {
					return fmt.Errorf("night %s already taken: %w", formatDate(night), domain.ErrConcurrentConflict)
				}
				return fmt.Errorf("failed to insert booking night: %w", err)
			}
		}
		if err := reserveOverrides(ctx, tx, booking.PropertyID, booking.StartDate, booking.EndDate, booking.BookingNumber, now); err != nil {
			return err
		}
	}

	if payment != nil {
		payment.BookingID = id
		if err := insertPayment(ctx, tx, payment, now); err != nil {
			return err
		}
	}

	if event != nil {
		event.BookingID = id
		if err := insertEvent(ctx, tx, event, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("commit booking: %w", domain.ErrConcurrentConflict)
		}
		return fmt.Errorf("failed to commit booking: %w", err)
	}

	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "booking", id)
	}
	return b, nil
}

func (db *DB) GetBookingByNumber(ctx context.Context, number string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE booking_number = ?`
	b, err := scanBooking(db.QueryRowContext(ctx, query, number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("booking %s: %w", number, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// ListPropertyBookings returns bookings of any status intersecting [start, end).
func (db *DB) ListPropertyBookings(ctx context.Context, propertyID int64, start, end time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
			WHERE property_id = ? AND start_date < ? AND end_date > ?
			ORDER BY start_date, id`
	rows, err := db.QueryContext(ctx, query, propertyID, formatDate(end), formatDate(start))
	if err != nil {
		return nil, fmt.Errorf("failed to list property bookings: %w", err)
	}
	return collectBookings(rows)
}

func (db *DB) ListGuestBookings(ctx context.Context, guestID int64) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE guest_id = ? ORDER BY start_date DESC, id DESC`
	rows, err := db.QueryContext(ctx, query, guestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list guest bookings: %w", err)
	}
	return collectBookings(rows)
}

// ListAllBookings returns every booking ordered by id.
func (db *DB) ListAllBookings(ctx context.Context) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+bookingColumns+` FROM bookings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return collectBookings(rows)
}

// ListArrivals returns confirmed bookings checking in on day, across all
// properties.
func (db *DB) ListArrivals(ctx context.Context, day time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
			WHERE status = ? AND start_date = ?
			ORDER BY property_id, id`
	rows, err := db.QueryContext(ctx, query, models.StatusConfirmed, formatDate(day))
	if err != nil {
		return nil, fmt.Errorf("failed to list arrivals: %w", err)
	}
	return collectBookings(rows)
}

// GetStalePendingBookings returns PENDING bookings created before the cutoff.
func (db *DB) GetStalePendingBookings(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
			WHERE status = ? AND created_at < ?
			ORDER BY created_at LIMIT ?`
	rows, err := db.QueryContext(ctx, query, models.StatusPending, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get stale pending bookings: %w", err)
	}
	return collectBookings(rows)
}

// UpdateBookingStatusWithVersion persists a transition computed by the caller.
// Leaving an occupying status frees the booking's nights and drops its
// BOOKING-sourced overrides. The audit event is written in the same
// transaction.
func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, booking *models.Booking, fromVersion int64, event *models.BookingEvent) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	result, err := tx.ExecContext(ctx, `UPDATE bookings SET
				status = ?, payment_status = ?, cancellation_reason = ?,
				confirmed_at = ?, cancelled_at = ?, check_in_at = ?, check_out_at = ?, completed_at = ?,
				version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`,
		booking.Status, booking.PaymentStatus, booking.CancellationReason,
		booking.ConfirmedAt, booking.CancelledAt, booking.CheckInAt, booking.CheckOutAt, booking.CompletedAt,
		now, booking.ID, fromVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("booking %d version %d: %w", booking.ID, fromVersion, domain.ErrConcurrentConflict)
	}

	if !booking.Status.IsOccupying() {
		if _, err := tx.ExecContext(ctx, `DELETE FROM booking_nights WHERE booking_id = ?`, booking.ID); err != nil {
			return fmt.Errorf("failed to free booking nights: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM availability_overrides WHERE property_id = ? AND source = ? AND blocked_by = ?`,
			booking.PropertyID, models.SourceBooking, booking.BookingNumber); err != nil {
			return fmt.Errorf("failed to release overrides: %w", err)
		}
	}

	if event != nil {
		event.BookingID = booking.ID
		if err := insertEvent(ctx, tx, event, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}

	booking.Version = fromVersion + 1
	booking.UpdatedAt = now
	return nil
}

// DeleteBooking removes a non-occupying booking with its nights, payments
// and audit trail.
func (db *DB) DeleteBooking(ctx context.Context, id int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var status models.BookingStatus
	if err := tx.QueryRowContext(ctx, `SELECT status FROM bookings WHERE id = ?`, id).Scan(&status); err != nil {
		return notFound(err, "booking", id)
	}
	if status.IsOccupying() {
		return fmt.Errorf("booking %d is %s: %w", id, status, domain.ErrInvalidTransition)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	return tx.Commit()
}
