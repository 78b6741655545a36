package models

import "time"

type Payment struct {
	ID         int64         `json:"id"`
	BookingID  int64         `json:"booking_id"`
	Amount     int64         `json:"amount"`
	Currency   string        `json:"currency"`
	Status     PaymentStatus `json:"status"`
	Method     string        `json:"method"`
	GatewayRef string        `json:"gateway_ref,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}
