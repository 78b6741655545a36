package models

import "time"

// BookingEvent is one audit record of a booking status change.
type BookingEvent struct {
	ID         int64         `json:"id"`
	BookingID  int64         `json:"booking_id"`
	ActorID    int64         `json:"actor_id"`
	ActorRole  string        `json:"actor_role"`
	FromStatus BookingStatus `json:"from_status,omitempty"`
	ToStatus   BookingStatus `json:"to_status"`
	Reason     string        `json:"reason,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}
