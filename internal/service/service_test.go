package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"staybook/internal/config"
	"staybook/internal/database"
	"staybook/internal/domain"
	"staybook/internal/models"
	"staybook/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

var (
	guest = domain.Actor{ID: 7, Role: domain.RoleGuest}
	owner = domain.Actor{ID: 100, Role: domain.RoleHost}
	agent = domain.Actor{ID: 101, Role: domain.RoleHost}
	admin = domain.Actor{ID: 1, Role: domain.RoleAdmin}
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishJSON(eventType string, payload interface{}) error {
	return m.Called(eventType, payload).Error(0)
}

type mockSyncWorker struct {
	mock.Mock
}

func (m *mockSyncWorker) EnqueueTask(ctx context.Context, taskType string, booking *models.Booking) error {
	return m.Called(ctx, taskType, booking).Error(0)
}

type fixture struct {
	db       *database.DB
	avail    *AvailabilityService
	bookings *BookingService
	pub      *mockPublisher
	sync     *mockSyncWorker
	property *models.Property
}

func newFixture(t *testing.T, mutate func(p *models.Property)) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "staybook.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	p := &models.Property{
		OwnerID:   owner.ID,
		AgentID:   agent.ID,
		Name:      "Sea View Loft",
		PriceType: models.PriceNightly,
		Price:     10000,
		Currency:  "EUR",
		IsActive:  true,
	}
	if mutate != nil {
		mutate(p)
	}
	require.NoError(t, db.CreateProperty(context.Background(), p))

	pub := &mockPublisher{}
	pub.On("PublishJSON", mock.Anything, mock.Anything).Return(nil).Maybe()
	sync := &mockSyncWorker{}
	sync.On("EnqueueTask", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	avail := NewAvailabilityService(db, models.DefaultMaxRangeDays, &logger)
	cfg := config.BookingConfig{CancellationWindowHours: models.DefaultCancellationWindowHours}
	bookings := NewBookingService(db, avail, repository.NewMemoryPropertyLocker(3*time.Second), pub, sync, cfg, &logger)
	bookings.now = func() time.Time { return testNow }

	return &fixture{db: db, avail: avail, bookings: bookings, pub: pub, sync: sync, property: p}
}

func day(s string) time.Time {
	d, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (f *fixture) request(start, end string) domain.BookingRequest {
	return domain.BookingRequest{
		PropertyID: f.property.ID,
		GuestName:  "Ann Guest",
		GuestEmail: "ann@example.com",
		GuestCount: 2,
		StartDate:  day(start),
		EndDate:    day(end),
	}
}

func (f *fixture) book(t *testing.T, start, end string) *models.Booking {
	t.Helper()
	b, err := f.bookings.CreateBooking(context.Background(), guest, f.request(start, end))
	require.NoError(t, err)
	return b
}

func (f *fixture) setClock(ts time.Time) {
	f.bookings.now = func() time.Time { return ts }
}
