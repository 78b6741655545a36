package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"staybook/internal/domain"
	"staybook/internal/models"
)

// GetOverrides returns overrides of both sources for days in [start, end).
func (db *DB) GetOverrides(ctx context.Context, propertyID int64, start, end time.Time) ([]*models.AvailabilityOverride, error) {
	query := `SELECT property_id, date, source, available, price, blocked_by, updated_at
			FROM availability_overrides
			WHERE property_id = ? AND date >= ? AND date < ?
			ORDER BY date, source`
	rows, err := db.QueryContext(ctx, query, propertyID, formatDate(start), formatDate(end))
	if err != nil {
		return nil, fmt.Errorf("failed to get overrides: %w", err)
	}
	defer rows.Close()

	var overrides []*models.AvailabilityOverride
	for rows.Next() {
		var o models.AvailabilityOverride
		var dateStr string
		var price sql.NullInt64
		if err := rows.Scan(&o.PropertyID, &dateStr, &o.Source, &o.Available, &price, &o.BlockedBy, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		o.Date, err = models.ParseDate(dateStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse override date %s: %w", dateStr, err)
		}
		if price.Valid {
			v := price.Int64
			o.Price = &v
		}
		overrides = append(overrides, &o)
	}
	return overrides, rows.Err()
}

// SetManualOverrides upserts MANUAL rows atomically. A day that is occupied
// by a booking cannot be opened; the whole batch is rejected in that case.
func (db *DB) SetManualOverrides(ctx context.Context, overrides []*models.AvailabilityOverride) error {
	if len(overrides) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, o := range overrides {
		if !o.Available {
			continue
		}
		var bookingID int64
		err := tx.QueryRowContext(ctx,
			`SELECT booking_id FROM booking_nights WHERE property_id = ? AND night = ?`,
			o.PropertyID, formatDate(o.Date)).Scan(&bookingID)
		switch {
		case err == nil:
			return fmt.Errorf("%s is occupied by booking %d: %w", formatDate(o.Date), bookingID, domain.ErrNotAvailable)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check occupancy: %w", err)
		}
	}

	query := `INSERT INTO availability_overrides (property_id, date, source, available, price, blocked_by, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(property_id, date, source) DO UPDATE SET
				available = excluded.available,
				price = excluded.price,
				blocked_by = excluded.blocked_by,
				updated_at = excluded.updated_at`
	now := time.Now()
	for _, o := range overrides {
		o.Source = models.SourceManual
		o.Date = models.DateOnly(o.Date)
		o.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, query,
			o.PropertyID, formatDate(o.Date), o.Source, o.Available, o.Price, o.BlockedBy, now); err != nil {
			return fmt.Errorf("failed to upsert override: %w", err)
		}
	}

	return tx.Commit()
}

func (db *DB) DeleteManualOverrides(ctx context.Context, propertyID int64, start, end time.Time) (int64, error) {
	result, err := db.ExecContext(ctx,
		`DELETE FROM availability_overrides WHERE property_id = ? AND source = ? AND date >= ? AND date < ?`,
		propertyID, models.SourceManual, formatDate(start), formatDate(end))
	if err != nil {
		return 0, fmt.Errorf("failed to delete overrides: %w", err)
	}
	return result.RowsAffected()
}

const reserveOverrideQuery = `INSERT INTO availability_overrides (property_id, date, source, available, price, blocked_by, updated_at)
		VALUES (?, ?, ?, 0, NULL, ?, ?)
		ON CONFLICT(property_id, date, source) DO UPDATE SET
			available = 0,
			blocked_by = excluded.blocked_by,
			updated_at = excluded.updated_at`

// reserveOverrides writes the BOOKING-sourced projection of a booking. It
// runs in the transaction that inserts the booking's nights.
func reserveOverrides(ctx context.Context, ex execer, propertyID int64, start, end time.Time, bookingNumber string, now time.Time) error {
	for _, day := range models.EachDay(start, end) {
		if _, err := ex.ExecContext(ctx, reserveOverrideQuery, propertyID, formatDate(day), models.SourceBooking, bookingNumber, now); err != nil {
			return fmt.Errorf("failed to reserve %s: %w", formatDate(day), err)
		}
	}
	return nil
}

// RebuildDerivedOverrides drops the BOOKING-sourced rows of a property and
// re-projects them from booking_nights. It returns the number of rows written.
func (db *DB) RebuildDerivedOverrides(ctx context.Context, propertyID int64) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM availability_overrides WHERE property_id = ? AND source = ?`,
		propertyID, models.SourceBooking); err != nil {
		return 0, fmt.Errorf("failed to clear derived overrides: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO availability_overrides (property_id, date, source, available, price, blocked_by, updated_at)
		SELECT n.property_id, n.night, ?, 0, NULL, b.booking_number, ?
		FROM booking_nights n
		JOIN bookings b ON b.id = n.booking_id
		WHERE n.property_id = ?`,
		models.SourceBooking, time.Now(), propertyID)
	if err != nil {
		return 0, fmt.Errorf("failed to project derived overrides: %w", err)
	}
	written, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit derived overrides: %w", err)
	}
	return written, nil
}

func (db *DB) ReleaseOverrides(ctx context.Context, propertyID int64, bookingNumber string) (int64, error) {
	result, err := db.ExecContext(ctx,
		`DELETE FROM availability_overrides WHERE property_id = ? AND source = ? AND blocked_by = ?`,
		propertyID, models.SourceBooking, bookingNumber)
	if err != nil {
		return 0, fmt.Errorf("failed to release overrides: %w", err)
	}
	return result.RowsAffected()
}
