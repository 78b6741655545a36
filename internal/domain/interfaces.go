package domain

import (
	"context"
	"time"

	"staybook/internal/models"
)

type PropertyRepository interface {
	GetProperty(ctx context.Context, id int64) (*models.Property, error)
	CreateProperty(ctx context.Context, p *models.Property) error
	UpdateProperty(ctx context.Context, p *models.Property) error
	ListProperties(ctx context.Context, activeOnly bool) ([]*models.Property, error)
}

type OverrideRepository interface {
	GetOverrides(ctx context.Context, propertyID int64, start, end time.Time) ([]*models.AvailabilityOverride, error)
	SetManualOverrides(ctx context.Context, overrides []*models.AvailabilityOverride) error
	DeleteManualOverrides(ctx context.Context, propertyID int64, start, end time.Time) (int64, error)
	RebuildDerivedOverrides(ctx context.Context, propertyID int64) (int64, error)
	ReleaseOverrides(ctx context.Context, propertyID int64, bookingNumber string) (int64, error)
}

type BookingRepository interface {
	FindOverlappingBookings(ctx context.Context, propertyID int64, start, end time.Time) ([]*models.Booking, error)
	CreateBookingWithLock(ctx context.Context, booking *models.Booking, payment *models.Payment, event *models.BookingEvent) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListPropertyBookings(ctx context.Context, propertyID int64, start, end time.Time) ([]*models.Booking, error)
	ListGuestBookings(ctx context.Context, guestID int64) ([]*models.Booking, error)
	UpdateBookingStatusWithVersion(ctx context.Context, booking *models.Booking, fromVersion int64, event *models.BookingEvent) error
	DeleteBooking(ctx context.Context, id int64) error
	GetBookingEvents(ctx context.Context, bookingID int64) ([]*models.BookingEvent, error)
	GetStalePendingBookings(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Booking, error)
}

type PaymentRepository interface {
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetLatestPayment(ctx context.Context, bookingID int64) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, bookingID int64, status models.PaymentStatus) error
}

type Repository interface {
	PropertyRepository
	OverrideRepository
	BookingRepository
	PaymentRepository
}

// Lease is a held property lock.
type Lease interface {
	Release(ctx context.Context) error
}

// PropertyLocker serializes occupancy mutations of a single property.
type PropertyLocker interface {
	Lock(ctx context.Context, propertyID int64) (Lease, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType string, booking *models.Booking) error
}

type AvailabilityService interface {
	ResolveRange(ctx context.Context, propertyID int64, start, end time.Time) (*models.RangeResult, error)
}

type BookingService interface {
	CreateBooking(ctx context.Context, actor Actor, req BookingRequest) (*models.Booking, error)
	Transition(ctx context.Context, bookingID int64, target models.BookingStatus, actor Actor, reason string) (*models.Booking, error)
	UpdatePaymentStatus(ctx context.Context, bookingID int64, status models.PaymentStatus, actor Actor) (*models.Booking, error)
	RecordPayment(ctx context.Context, bookingID int64, payment *models.Payment, actor Actor) (*models.Booking, error)
	DeleteBooking(ctx context.Context, bookingID int64, actor Actor) error
	GetBooking(ctx context.Context, bookingID int64, actor Actor) (*models.Booking, error)
	BookingHistory(ctx context.Context, bookingID int64, actor Actor) ([]*models.BookingEvent, error)
	ListPropertyBookings(ctx context.Context, propertyID int64, start, end time.Time, actor Actor) ([]*models.Booking, error)
}

// BookingRequest is the input of booking creation.
type BookingRequest struct {
	PropertyID    int64     `json:"property_id"`
	GuestName     string    `json:"guest_name"`
	GuestEmail    string    `json:"guest_email"`
	GuestPhone    string    `json:"guest_phone"`
	GuestCount    int       `json:"guest_count"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	PaymentRef    string    `json:"payment_ref,omitempty"`
	PaymentMethod string    `json:"payment_method,omitempty"`
}
