package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"staybook/internal/domain"
	"staybook/internal/events"
	"staybook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateBookingTotals(t *testing.T) {
	f := newFixture(t, func(p *models.Property) {
		p.CleaningFee = 2000
		p.ServiceFee = 500
		p.SecurityDeposit = 3000
	})
	ctx := context.Background()

	price := int64(15000)
	require.NoError(t, f.avail.SetOverride(ctx, owner, f.property.ID, day("2024-03-02"), true, &price, ""))

	b := f.book(t, "2024-03-01", "2024-03-04")

	assert.Regexp(t, `^BK-20240110-[0-9A-F]{8}$`, b.BookingNumber)
	assert.Equal(t, models.StatusPending, b.Status)
	assert.Equal(t, models.PaymentPending, b.PaymentStatus)
	assert.Equal(t, 3, b.TotalDays)
	assert.Equal(t, int64(10000+15000+10000+2000+500+3000), b.TotalAmount)
	assert.Equal(t, guest.ID, b.GuestID)
	assert.Equal(t, int64(1), b.Version)

	overrides, err := f.db.GetOverrides(ctx, f.property.ID, day("2024-03-01"), day("2024-03-04"))
	require.NoError(t, err)
	derived := 0
	for _, o := range overrides {
		if o.Source == models.SourceBooking {
			derived++
			assert.Equal(t, b.BookingNumber, o.BlockedBy)
			assert.False(t, o.Available)
		}
	}
	assert.Equal(t, 3, derived)

	history, err := f.bookings.BookingHistory(ctx, b.ID, guest)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.StatusPending, history[0].ToStatus)

	f.pub.AssertCalled(t, "PublishJSON", events.EventBookingCreated, mock.Anything)
	f.sync.AssertCalled(t, "EnqueueTask", mock.Anything, models.SyncTaskUpsert, mock.Anything)
}

func TestCreateBookingFlatPrice(t *testing.T) {
	f := newFixture(t, func(p *models.Property) {
		p.PriceType = models.PriceFlat
		p.Price = 50000
		p.CleaningFee = 1000
	})

	b := f.book(t, "2024-03-01", "2024-03-08")
	assert.Equal(t, int64(51000), b.TotalAmount)
	assert.Equal(t, 7, b.TotalDays)
}

func TestCreateBookingInstantBook(t *testing.T) {
	f := newFixture(t, func(p *models.Property) { p.InstantBook = true })

	b := f.book(t, "2024-03-01", "2024-03-03")
	assert.Equal(t, models.StatusConfirmed, b.Status)
	require.NotNil(t, b.ConfirmedAt)
	assert.Equal(t, testNow, *b.ConfirmedAt)
}

func TestCreateBookingWithPayment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := f.request("2024-03-01", "2024-03-03")
	req.PaymentRef = "pi_123"
	req.PaymentMethod = "card"
	b, err := f.bookings.CreateBooking(ctx, guest, req)
	require.NoError(t, err)

	payment, err := f.db.GetLatestPayment(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_123", payment.GatewayRef)
	assert.Equal(t, b.TotalAmount, payment.Amount)
	assert.Equal(t, models.PaymentPending, payment.Status)
}

func TestCreateBookingValidation(t *testing.T) {
	f := newFixture(t, func(p *models.Property) {
		p.MinStay = 2
		p.MaxStay = 30
	})
	ctx := context.Background()

	tests := []struct {
		name   string
		actor  domain.Actor
		start  string
		end    string
		wantIs error
	}{
		{"stay too short", guest, "2024-03-01", "2024-03-02", domain.ErrStayTooShort},
		{"stay too long", guest, "2024-03-01", "2024-04-15", domain.ErrStayTooLong},
		{"empty range", guest, "2024-03-01", "2024-03-01", domain.ErrInvalidRange},
		{"reversed range", guest, "2024-03-05", "2024-03-01", domain.ErrInvalidRange},
		{"start in the past", guest, "2024-01-05", "2024-01-08", domain.ErrInvalidRange},
		{"owner books own property", owner, "2024-03-01", "2024-03-04", domain.ErrSelfBooking},
		{"agent books managed property", agent, "2024-03-01", "2024-03-04", domain.ErrSelfBooking},
		{"anonymous caller", domain.Actor{}, "2024-03-01", "2024-03-04", domain.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.bookings.CreateBooking(ctx, tt.actor, f.request(tt.start, tt.end))
			assert.ErrorIs(t, err, tt.wantIs)
		})
	}

	bookings, err := f.db.ListPropertyBookings(ctx, f.property.ID, day("2024-01-01"), day("2024-12-31"))
	require.NoError(t, err)
	assert.Empty(t, bookings)
}

func TestCreateBookingUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.book(t, "2024-03-01", "2024-03-05")
	_, err := f.bookings.CreateBooking(ctx, guest, f.request("2024-03-04", "2024-03-06"))
	assert.ErrorIs(t, err, domain.ErrNotAvailable)

	require.NoError(t, f.avail.SetOverride(ctx, owner, f.property.ID, day("2024-03-10"), false, nil, ""))
	_, err = f.bookings.CreateBooking(ctx, guest, f.request("2024-03-09", "2024-03-11"))
	assert.ErrorIs(t, err, domain.ErrNotAvailable)
}

func TestCreateThenResolveRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.book(t, "2024-05-01", "2024-05-04")

	res, err := f.avail.ResolveRange(ctx, f.property.ID, day("2024-05-01"), day("2024-05-04"))
	require.NoError(t, err)
	assert.False(t, res.IsAvailable)
	for _, d := range res.PerDay {
		assert.Equal(t, models.DayBooked, d.Status)
	}
}

func TestConcurrentCreateBooking(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.bookings.CreateBooking(ctx, guest, f.request("2024-06-10", "2024-06-14"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, err := range failures {
		assert.True(t, errors.Is(err, domain.ErrConcurrentConflict) || errors.Is(err, domain.ErrNotAvailable), err.Error())
	}

	bookings, err := f.db.FindOverlappingBookings(ctx, f.property.ID, day("2024-06-10"), day("2024-06-14"))
	require.NoError(t, err)
	assert.Len(t, bookings, 1)
}

func TestTransitionLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.book(t, "2024-03-01", "2024-03-04")

	b, err := f.bookings.Transition(ctx, b.ID, models.StatusConfirmed, owner, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)
	assert.NotNil(t, b.ConfirmedAt)

	// check-in before the start date is refused
	_, err = f.bookings.Transition(ctx, b.ID, models.StatusCheckedIn, owner, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	f.setClock(time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC))
	b, err = f.bookings.Transition(ctx, b.ID, models.StatusCheckedIn, agent, "")
	require.NoError(t, err)
	assert.NotNil(t, b.CheckInAt)

	_, err = f.bookings.Transition(ctx, b.ID, models.StatusCheckedOut, owner, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	f.setClock(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC))
	b, err = f.bookings.Transition(ctx, b.ID, models.StatusCheckedOut, owner, "")
	require.NoError(t, err)
	assert.NotNil(t, b.CheckOutAt)

	// checked-out nights are free again
	res, err := f.avail.ResolveRange(ctx, f.property.ID, day("2024-03-01"), day("2024-03-04"))
	require.NoError(t, err)
	assert.True(t, res.IsAvailable)

	_, err = f.bookings.Transition(ctx, b.ID, models.StatusCompleted, owner, "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	b, err = f.bookings.Transition(ctx, b.ID, models.StatusCompleted, domain.SystemActor, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, b.Status)
	assert.NotNil(t, b.CompletedAt)
	assert.Equal(t, int64(5), b.Version)

	history, err := f.bookings.BookingHistory(ctx, b.ID, admin)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, models.StatusCheckedOut, history[4].FromStatus)
	assert.Equal(t, models.StatusCompleted, history[4].ToStatus)
}

func TestTransitionPermissions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.book(t, "2024-03-01", "2024-03-04")
	stranger := domain.Actor{ID: 55, Role: domain.RoleGuest}

	_, err := f.bookings.Transition(ctx, b.ID, models.StatusConfirmed, guest, "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.bookings.Transition(ctx, b.ID, models.StatusCancelled, stranger, "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.bookings.Transition(ctx, b.ID, models.StatusConfirmed, domain.Actor{ID: 55, Role: domain.RoleHost}, "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.bookings.Transition(ctx, b.ID, models.StatusConfirmed, domain.SystemActor, "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.bookings.Transition(ctx, b.ID, models.StatusCheckedOut, admin, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.bookings.Transition(ctx, b.ID, models.BookingStatus("ARCHIVED"), admin, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.bookings.Transition(ctx, 9999, models.StatusCancelled, admin, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancellationWindow(t *testing.T) {
	tests := []struct {
		name    string
		policy  models.CancellationPolicy
		now     time.Time
		wantErr error
	}{
		{"default window, 10 hours before", "", time.Date(2024, 2, 29, 14, 0, 0, 0, time.UTC), domain.ErrCancellationWindowExpired},
		{"default window, 2 days before", "", time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC), nil},
		{"moderate, 4 days before", models.PolicyModerate, time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC), domain.ErrCancellationWindowExpired},
		{"moderate, 6 days before", models.PolicyModerate, time.Date(2024, 2, 24, 0, 0, 0, 0, time.UTC), nil},
		{"super strict, 20 days before", models.PolicySuperStrict, time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), domain.ErrCancellationWindowExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(p *models.Property) { p.CancellationPolicy = tt.policy })
			ctx := context.Background()
			b := f.book(t, "2024-03-01", "2024-03-04")
			_, err := f.bookings.Transition(ctx, b.ID, models.StatusConfirmed, owner, "")
			require.NoError(t, err)

			f.setClock(tt.now)
			_, err = f.bookings.Transition(ctx, b.ID, models.StatusCancelled, guest, "changed plans")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCancelTwice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.book(t, "2024-03-01", "2024-03-04")

	cancelled, err := f.bookings.Transition(ctx, b.ID, models.StatusCancelled, guest, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, "changed plans", cancelled.CancellationReason)

	_, err = f.bookings.Transition(ctx, b.ID, models.StatusCancelled, guest, "again")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	history, err := f.bookings.BookingHistory(ctx, b.ID, guest)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	got, err := f.bookings.GetBooking(ctx, b.ID, guest)
	require.NoError(t, err)
	assert.Equal(t, "changed plans", got.CancellationReason)
	assert.Equal(t, int64(2), got.Version)
}

func TestTerminalBookingRejectsEveryActor(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.book(t, "2024-03-01", "2024-03-04")
	_, err := f.bookings.Transition(ctx, b.ID, models.StatusCancelled, guest, "")
	require.NoError(t, err)

	for _, actor := range []domain.Actor{guest, owner, admin, domain.SystemActor} {
		_, err = f.bookings.Transition(ctx, b.ID, models.StatusConfirmed, actor, "")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition, "role %s", actor.Role)
		assert.NotErrorIs(t, err, domain.ErrUnauthorized)
	}
}

func TestCancelledNightsCanBeRebooked(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.book(t, "2024-03-01", "2024-03-04")

	_, err := f.bookings.Transition(ctx, b.ID, models.StatusCancelled, admin, "")
	require.NoError(t, err)

	again := f.book(t, "2024-03-02", "2024-03-05")
	assert.NotEqual(t, b.BookingNumber, again.BookingNumber)
}

func TestPaymentStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.book(t, "2024-03-01", "2024-03-04")

	_, err := f.bookings.RecordPayment(ctx, b.ID, &models.Payment{Amount: b.TotalAmount, Method: "card", GatewayRef: "pi_1"}, guest)
	require.NoError(t, err)

	updated, err := f.bookings.UpdatePaymentStatus(ctx, b.ID, models.PaymentSucceeded, owner)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSucceeded, updated.PaymentStatus)
	assert.Equal(t, models.StatusPending, updated.Status)

	payment, err := f.db.GetLatestPayment(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSucceeded, payment.Status)

	_, err = f.bookings.UpdatePaymentStatus(ctx, b.ID, models.PaymentRefunded, owner)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.bookings.UpdatePaymentStatus(ctx, b.ID, models.PaymentSucceeded, guest)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.bookings.UpdatePaymentStatus(ctx, b.ID, models.PaymentStatus("LOST"), owner)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.bookings.Transition(ctx, b.ID, models.StatusCancelled, guest, "")
	require.NoError(t, err)

	refunded, err := f.bookings.UpdatePaymentStatus(ctx, b.ID, models.PaymentRefunded, admin)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, refunded.PaymentStatus)

	f.pub.AssertCalled(t, "PublishJSON", events.EventPaymentUpdated, mock.Anything)
}

func TestDeleteBooking(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.book(t, "2024-03-01", "2024-03-04")

	assert.ErrorIs(t, f.bookings.DeleteBooking(ctx, b.ID, owner), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.bookings.DeleteBooking(ctx, b.ID, admin), domain.ErrInvalidTransition)

	_, err := f.bookings.Transition(ctx, b.ID, models.StatusCancelled, guest, "")
	require.NoError(t, err)
	require.NoError(t, f.bookings.DeleteBooking(ctx, b.ID, admin))

	_, err = f.bookings.GetBooking(ctx, b.ID, admin)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	f.sync.AssertCalled(t, "EnqueueTask", mock.Anything, models.SyncTaskDelete, mock.Anything)
}

func TestBookingVisibility(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	b := f.book(t, "2024-03-01", "2024-03-04")

	for _, actor := range []domain.Actor{guest, owner, agent, admin} {
		_, err := f.bookings.GetBooking(ctx, b.ID, actor)
		assert.NoError(t, err)
	}
	_, err := f.bookings.GetBooking(ctx, b.ID, domain.Actor{ID: 55, Role: domain.RoleGuest})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	list, err := f.bookings.ListPropertyBookings(ctx, f.property.ID, day("2024-03-01"), day("2024-04-01"), owner)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.bookings.ListPropertyBookings(ctx, f.property.ID, day("2024-03-01"), day("2024-04-01"), guest)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	mine, err := f.bookings.ListGuestBookings(ctx, guest)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestEventPublishFailureDoesNotFailBooking(t *testing.T) {
	f := newFixture(t, nil)
	pub := &mockPublisher{}
	pub.On("PublishJSON", mock.Anything, mock.Anything).Return(errors.New("bus down"))
	f.bookings.eventBus = pub

	b := f.book(t, "2024-03-01", "2024-03-04")
	assert.NotZero(t, b.ID)
	pub.AssertNumberOfCalls(t, "PublishJSON", 1)
}
