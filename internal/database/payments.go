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

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertPayment(ctx context.Context, ex execer, p *models.Payment, now time.Time) error {
	result, err := ex.ExecContext(ctx, `INSERT INTO payments
				(booking_id, amount, currency, status, method, gateway_ref, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.BookingID, p.Amount, p.Currency, p.Status, p.Method, p.GatewayRef, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get payment id: %w", err)
	}
	p.ID = id
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

// CreatePayment appends a payment attempt and mirrors its status on the booking.
func (db *DB) CreatePayment(ctx context.Context, p *models.Payment) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	if err := insertPayment(ctx, tx, p, now); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx,
		`UPDATE bookings SET payment_status = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		p.Status, now, p.BookingID)
	if err != nil {
		return fmt.Errorf("failed to update booking payment status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("booking %d: %w", p.BookingID, domain.ErrNotFound)
	}
	return tx.Commit()
}

// GetLatestPayment returns the authoritative payment row of a booking.
func (db *DB) GetLatestPayment(ctx context.Context, bookingID int64) (*models.Payment, error) {
	var p models.Payment
	err := db.QueryRowContext(ctx, `SELECT id, booking_id, amount, currency, status, method, gateway_ref, created_at, updated_at
			FROM payments WHERE booking_id = ? ORDER BY id DESC LIMIT 1`, bookingID).Scan(
		&p.ID, &p.BookingID, &p.Amount, &p.Currency, &p.Status, &p.Method, &p.GatewayRef, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("payment for booking %d: %w", bookingID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// UpdatePaymentStatus sets the booking payment status and the status of its
// most recent payment row, if any.
func (db *DB) UpdatePaymentStatus(ctx context.Context, bookingID int64, status models.PaymentStatus) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	result, err := tx.ExecContext(ctx,
		`UPDATE bookings SET payment_status = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		status, now, bookingID)
	if err != nil {
		return fmt.Errorf("failed to update booking payment status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("booking %d: %w", bookingID, domain.ErrNotFound)
	}

	_, err = tx.ExecContext(ctx, `UPDATE payments SET status = ?, updated_at = ?
			WHERE id = (SELECT id FROM payments WHERE booking_id = ? ORDER BY id DESC LIMIT 1)`,
		status, now, bookingID)
	if err != nil {
		return fmt.Errorf("failed to update payment row: %w", err)
	}
	return tx.Commit()
}
