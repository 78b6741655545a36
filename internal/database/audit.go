package database

import (
	"context"
	"fmt"
	"time"

	"staybook/internal/models"
)

func insertEvent(ctx context.Context, ex execer, e *models.BookingEvent, now time.Time) error {
	result, err := ex.ExecContext(ctx, `INSERT INTO booking_events
				(booking_id, actor_id, actor_role, from_status, to_status, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.BookingID, e.ActorID, e.ActorRole, e.FromStatus, e.ToStatus, e.Reason, now)
	if err != nil {
		return fmt.Errorf("failed to insert booking event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get booking event id: %w", err)
	}
	e.ID = id
	e.CreatedAt = now
	return nil
}

// GetBookingEvents returns the audit trail of a booking, oldest first.
func (db *DB) GetBookingEvents(ctx context.Context, bookingID int64) ([]*models.BookingEvent, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, booking_id, actor_id, actor_role, from_status, to_status, reason, created_at
			FROM booking_events WHERE booking_id = ? ORDER BY id`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking events: %w", err)
	}
	defer rows.Close()

	var events []*models.BookingEvent
	for rows.Next() {
		var e models.BookingEvent
		if err := rows.Scan(&e.ID, &e.BookingID, &e.ActorID, &e.ActorRole, &e.FromStatus, &e.ToStatus, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan booking event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
