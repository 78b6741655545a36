package models

import "time"

type BookingStatus string

const (
	StatusPending    BookingStatus = "PENDING"
	StatusConfirmed  BookingStatus = "CONFIRMED"
	StatusCheckedIn  BookingStatus = "CHECKED_IN"
	StatusCheckedOut BookingStatus = "CHECKED_OUT"
	StatusCancelled  BookingStatus = "CANCELLED"
	StatusCompleted  BookingStatus = "COMPLETED"
)

// OccupyingStatuses reserve calendar nights against new bookings.
var OccupyingStatuses = []BookingStatus{StatusPending, StatusConfirmed, StatusCheckedIn}

func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCheckedIn, StatusCheckedOut, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

func (s BookingStatus) IsOccupying() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCheckedIn:
		return true
	}
	return false
}

func (s BookingStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "PENDING"
	PaymentSucceeded         PaymentStatus = "SUCCEEDED"
	PaymentFailed            PaymentStatus = "FAILED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentSucceeded, PaymentFailed, PaymentRefunded, PaymentPartiallyRefunded:
		return true
	}
	return false
}

func (s PaymentStatus) IsRefund() bool {
	return s == PaymentRefunded || s == PaymentPartiallyRefunded
}

// Booking occupies every night in [StartDate, EndDate).
type Booking struct {
	ID                 int64         `json:"id"`
	BookingNumber      string        `json:"booking_number"`
	PropertyID         int64         `json:"property_id"`
	GuestID            int64         `json:"guest_id"`
	GuestName          string        `json:"guest_name"`
	GuestEmail         string        `json:"guest_email"`
	GuestPhone         string        `json:"guest_phone"`
	GuestCount         int           `json:"guest_count"`
	StartDate          time.Time     `json:"start_date"`
	EndDate            time.Time     `json:"end_date"`
	TotalDays          int           `json:"total_days"`
	NightlyPrice       int64         `json:"nightly_price"`
	TotalAmount        int64         `json:"total_amount"`
	Currency           string        `json:"currency"`
	Status             BookingStatus `json:"status"`
	PaymentStatus      PaymentStatus `json:"payment_status"`
	CancellationReason string        `json:"cancellation_reason,omitempty"`
	ConfirmedAt        *time.Time    `json:"confirmed_at,omitempty"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	CheckInAt          *time.Time    `json:"check_in_at,omitempty"`
	CheckOutAt         *time.Time    `json:"check_out_at,omitempty"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	Version            int64         `json:"version"`
}

// Nights lists every occupied night of the booking.
func (b *Booking) Nights() []time.Time {
	return EachDay(b.StartDate, b.EndDate)
}
