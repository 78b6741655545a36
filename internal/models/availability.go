package models

import "time"

type OverrideSource string

const (
	SourceManual  OverrideSource = "MANUAL"
	SourceBooking OverrideSource = "BOOKING"
)

// AvailabilityOverride is one explicit calendar day for a property.
// BOOKING-sourced rows mirror booking_nights, are written in the booking
// transaction and can be regenerated with RebuildDerivedOverrides.
type AvailabilityOverride struct {
	PropertyID int64          `json:"property_id"`
	Date       time.Time      `json:"date"`
	Available  bool           `json:"available"`
	Price      *int64         `json:"price,omitempty"`
	BlockedBy  string         `json:"blocked_by,omitempty"`
	Source     OverrideSource `json:"source"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

type DayStatus string

const (
	DayAvailable DayStatus = "available"
	DayBooked    DayStatus = "booked"
	DayBlocked   DayStatus = "blocked"
)

type DayAvailability struct {
	Date   time.Time `json:"date"`
	Status DayStatus `json:"status"`
	Reason string    `json:"reason,omitempty"`
	Price  int64     `json:"price"`
}

const (
	ConstraintStayTooShort        = "STAY_TOO_SHORT"
	ConstraintStayTooLong         = "STAY_TOO_LONG"
	ConstraintBeforeAvailableFrom = "BEFORE_AVAILABLE_FROM"
	ConstraintPropertyInactive    = "PROPERTY_INACTIVE"
)

type RangeResult struct {
	PropertyID          int64             `json:"property_id"`
	StartDate           time.Time         `json:"start_date"`
	EndDate             time.Time         `json:"end_date"`
	IsAvailable         bool              `json:"is_available"`
	PerDay              []DayAvailability `json:"per_day"`
	ViolatedConstraints []string          `json:"violated_constraints"`
}

// HasViolation reports whether code is among the violated constraints.
func (r *RangeResult) HasViolation(code string) bool {
	for _, c := range r.ViolatedConstraints {
		if c == code {
			return true
		}
	}
	return false
}

// Subtotal sums per-day prices.
func (r *RangeResult) Subtotal() int64 {
	var total int64
	for _, d := range r.PerDay {
		total += d.Price
	}
	return total
}
