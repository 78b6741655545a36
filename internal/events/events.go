package events

import (
	"encoding/json"
	"sync"
	"time"

	"staybook/internal/models"

	"github.com/rs/zerolog"
)

const (
	EventBookingCreated    = "booking_created"
	EventBookingConfirmed  = "booking_confirmed"
	EventBookingCancelled  = "booking_cancelled"
	EventBookingCheckedIn  = "booking_checked_in"
	EventBookingCheckedOut = "booking_checked_out"
	EventBookingCompleted  = "booking_completed"
	EventPaymentUpdated    = "booking_payment_updated"
	EventBookingDeleted    = "booking_deleted"

	// AllEvents subscribes a handler to every event type.
	AllEvents = "*"
)

// TypeForStatus maps the status a booking entered to its event type.
func TypeForStatus(s models.BookingStatus) string {
	switch s {
	case models.StatusConfirmed:
		return EventBookingConfirmed
	case models.StatusCancelled:
		return EventBookingCancelled
	case models.StatusCheckedIn:
		return EventBookingCheckedIn
	case models.StatusCheckedOut:
		return EventBookingCheckedOut
	case models.StatusCompleted:
		return EventBookingCompleted
	}
	return EventBookingCreated
}

// BookingEventPayload is the booking snapshot handed to event consumers.
type BookingEventPayload struct {
	BookingID     int64     `json:"booking_id"`
	BookingNumber string    `json:"booking_number"`
	PropertyID    int64     `json:"property_id"`
	GuestID       int64     `json:"guest_id"`
	GuestName     string    `json:"guest_name"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	TotalAmount   int64     `json:"total_amount"`
	Currency      string    `json:"currency"`
	Reason        string    `json:"reason,omitempty"`
	ChangedBy     string    `json:"changed_by,omitempty"`
	ChangedByID   int64     `json:"changed_by_id,omitempty"`
}

func NewBookingPayload(b *models.Booking, changedBy string, changedByID int64, reason string) BookingEventPayload {
	return BookingEventPayload{
		BookingID:     b.ID,
		BookingNumber: b.BookingNumber,
		PropertyID:    b.PropertyID,
		GuestID:       b.GuestID,
		GuestName:     b.GuestName,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		StartDate:     b.StartDate,
		EndDate:       b.EndDate,
		TotalAmount:   b.TotalAmount,
		Currency:      b.Currency,
		Reason:        reason,
		ChangedBy:     changedBy,
		ChangedByID:   changedByID,
	}
}

type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into a booking snapshot.
func (e *Event) Decode() (BookingEventPayload, error) {
	var p BookingEventPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub. Handlers run synchronously in
// subscription order; handler errors are logged and do not stop delivery.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[AllEvents]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			b.logger.Warn().Err(err).Str("event", event.Type).Msg("Event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
