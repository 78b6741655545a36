package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"staybook/internal/config"
	"staybook/internal/domain"
	"staybook/internal/events"
	"staybook/internal/metrics"
	"staybook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BookingService is the booking lifecycle manager.
type BookingService struct {
	repo         domain.Repository
	availability *AvailabilityService
	locker       domain.PropertyLocker
	eventBus     domain.EventPublisher
	syncWorker   domain.SyncWorker
	cfg          config.BookingConfig
	logger       *zerolog.Logger
	now          func() time.Time
}

func NewBookingService(
	repo domain.Repository,
	availability *AvailabilityService,
	locker domain.PropertyLocker,
	eventBus domain.EventPublisher,
	syncWorker domain.SyncWorker,
	cfg config.BookingConfig,
	logger *zerolog.Logger,
) *BookingService {
	if cfg.CancellationWindowHours <= 0 {
		cfg.CancellationWindowHours = models.DefaultCancellationWindowHours
	}
	return &BookingService{
		repo:         repo,
		availability: availability,
		locker:       locker,
		eventBus:     eventBus,
		syncWorker:   syncWorker,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// GenerateBookingNumber returns BK-YYYYMMDD-XXXXXXXX.
func GenerateBookingNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("BK-%s-%s", now.Format("20060102"), suffix)
}

func violationError(result *models.RangeResult) error {
	switch {
	case result.HasViolation(models.ConstraintStayTooShort):
		return domain.ErrStayTooShort
	case result.HasViolation(models.ConstraintStayTooLong):
		return domain.ErrStayTooLong
	case result.HasViolation(models.ConstraintBeforeAvailableFrom):
		return domain.ErrInvalidRange
	}
	return domain.ErrNotAvailable
}

func (s *BookingService) CreateBooking(ctx context.Context, actor domain.Actor, req domain.BookingRequest) (*models.Booking, error) {
	if actor.ID == 0 || actor.IsSystem() {
		return nil, fmt.Errorf("create booking: %w", domain.ErrUnauthorized)
	}
	start, end := models.DateOnly(req.StartDate), models.DateOnly(req.EndDate)
	if !start.Before(end) {
		return nil, fmt.Errorf("start must be before end: %w", domain.ErrInvalidRange)
	}
	now := s.now()
	if start.Before(models.DateOnly(now)) {
		return nil, fmt.Errorf("start %s is in the past: %w", start.Format(models.DateLayout), domain.ErrInvalidRange)
	}
	if req.GuestCount < 0 {
		return nil, fmt.Errorf("negative guest count: %w", domain.ErrInvalidInput)
	}
	if req.GuestCount == 0 {
		req.GuestCount = 1
	}

	property, err := s.repo.GetProperty(ctx, req.PropertyID)
	if err != nil {
		return nil, err
	}
	if property.IsHost(actor.ID) {
		return nil, fmt.Errorf("user %d manages property %d: %w", actor.ID, property.ID, domain.ErrSelfBooking)
	}

	lease, err := s.locker.Lock(ctx, property.ID)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentConflict) {
			metrics.IncBookingConflict("lock")
		}
		return nil, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Int64("property_id", property.ID).Msg("Failed to release property lock")
		}
	}()

	result, err := s.availability.ResolveRange(ctx, property.ID, start, end)
	if err != nil {
		return nil, err
	}
	if !result.IsAvailable {
		metrics.IncBookingConflict("unavailable")
		return nil, fmt.Errorf("property %d for %s..%s: %w", property.ID,
			start.Format(models.DateLayout), end.Format(models.DateLayout), violationError(result))
	}

	totalDays := models.DaysBetween(start, end)
	subtotal := result.Subtotal()
	if property.PriceType == models.PriceFlat {
		subtotal = property.Price
	}

	booking := &models.Booking{
		BookingNumber: GenerateBookingNumber(now),
		PropertyID:    property.ID,
		GuestID:       actor.ID,
		GuestName:     req.GuestName,
		GuestEmail:    req.GuestEmail,
		GuestPhone:    req.GuestPhone,
		GuestCount:    req.GuestCount,
		StartDate:     start,
		EndDate:       end,
		TotalDays:     totalDays,
		NightlyPrice:  property.Price,
		TotalAmount:   subtotal + property.CleaningFee + property.ServiceFee + property.SecurityDeposit,
		Currency:      property.Currency,
		Status:        models.StatusPending,
		PaymentStatus: models.PaymentPending,
	}
	if property.InstantBook {
		booking.Status = models.StatusConfirmed
		booking.ConfirmedAt = &now
	}

	var payment *models.Payment
	if req.PaymentRef != "" {
		payment = &models.Payment{
			Amount:     booking.TotalAmount,
			Currency:   booking.Currency,
			Status:     models.PaymentPending,
			Method:     req.PaymentMethod,
			GatewayRef: req.PaymentRef,
		}
	}
	event := &models.BookingEvent{
		ActorID:   actor.ID,
		ActorRole: string(actor.Role),
		ToStatus:  booking.Status,
		Reason:    "created",
	}

	if err := s.repo.CreateBookingWithLock(ctx, booking, payment, event); err != nil {
		if errors.Is(err, domain.ErrConcurrentConflict) {
			metrics.IncBookingConflict("race")
		}
		return nil, err
	}

	metrics.IncBookingCreated(string(booking.Status))
	s.logger.Info().
		Int64("booking_id", booking.ID).
		Str("booking_number", booking.BookingNumber).
		Int64("property_id", booking.PropertyID).
		Str("status", string(booking.Status)).
		Msg("Booking created")

	s.publishEvent(events.EventBookingCreated, booking, actor, "")
	s.enqueueSync(ctx, models.SyncTaskUpsert, booking)
	return booking, nil
}

// authorizeTransition applies the role rules of the state machine.
func authorizeTransition(actor domain.Actor, booking *models.Booking, property *models.Property, target models.BookingStatus) error {
	allowed := false
	switch actor.Role {
	case domain.RoleAdmin:
		allowed = true
	case domain.RoleSystem:
		allowed = target == models.StatusCancelled || target == models.StatusCompleted
	case domain.RoleHost:
		allowed = property.IsHost(actor.ID) && (target == models.StatusConfirmed ||
			target == models.StatusCancelled ||
			target == models.StatusCheckedIn ||
			target == models.StatusCheckedOut)
	case domain.RoleGuest:
		allowed = booking.GuestID == actor.ID && target == models.StatusCancelled
	}
	if !allowed {
		return fmt.Errorf("%s %d cannot move booking %d to %s: %w", actor.Role, actor.ID, booking.ID, target, domain.ErrUnauthorized)
	}
	return nil
}

func (s *BookingService) cancellationWindow(p *models.Property) time.Duration {
	if w := p.CancellationPolicy.Window(); w > 0 {
		return w
	}
	return s.cfg.CancellationWindow()
}

// Transition moves a booking to target, enforcing permissions, the
// transition table and the time rules of each edge.
func (s *BookingService) Transition(ctx context.Context, bookingID int64, target models.BookingStatus, actor domain.Actor, reason string) (*models.Booking, error) {
	return s.transition(ctx, bookingID, "", target, actor, reason)
}

// ExpirePending cancels a booking only while it is still PENDING.
func (s *BookingService) ExpirePending(ctx context.Context, bookingID int64) (*models.Booking, error) {
	return s.transition(ctx, bookingID, models.StatusPending, models.StatusCancelled, domain.SystemActor, models.ExpiredReason)
}

func (s *BookingService) transition(ctx context.Context, bookingID int64, from, target models.BookingStatus, actor domain.Actor, reason string) (*models.Booking, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", target, domain.ErrInvalidTransition)
	}

	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if from != "" && booking.Status != from {
		return nil, fmt.Errorf("booking %d is %s, not %s: %w", bookingID, booking.Status, from, domain.ErrInvalidTransition)
	}
	property, err := s.repo.GetProperty(ctx, booking.PropertyID)
	if err != nil {
		return nil, err
	}

	// Terminal bookings reject every target regardless of who asks.
	if booking.Status.IsTerminal() {
		return nil, fmt.Errorf("booking %d is %s: %w", bookingID, booking.Status, domain.ErrInvalidTransition)
	}
	if err := authorizeTransition(actor, booking, property, target); err != nil {
		return nil, err
	}
	if !models.CanTransition(booking.Status, target) {
		return nil, fmt.Errorf("%s -> %s: %w", booking.Status, target, domain.ErrInvalidTransition)
	}

	now := s.now()
	today := models.DateOnly(now)
	switch target {
	case models.StatusCancelled:
		if booking.Status == models.StatusConfirmed {
			deadline := booking.StartDate.Add(-s.cancellationWindow(property))
			if !now.Before(deadline) {
				return nil, fmt.Errorf("deadline was %s: %w", deadline.Format(time.RFC3339), domain.ErrCancellationWindowExpired)
			}
		}
	case models.StatusCheckedIn:
		if today.Before(booking.StartDate) {
			return nil, fmt.Errorf("check-in opens on %s: %w", booking.StartDate.Format(models.DateLayout), domain.ErrInvalidTransition)
		}
	case models.StatusCheckedOut:
		if today.Before(booking.EndDate) {
			return nil, fmt.Errorf("check-out opens on %s: %w", booking.EndDate.Format(models.DateLayout), domain.ErrInvalidTransition)
		}
	}

	updated := *booking
	updated.Status = target
	switch target {
	case models.StatusConfirmed:
		updated.ConfirmedAt = &now
	case models.StatusCancelled:
		updated.CancelledAt = &now
		updated.CancellationReason = reason
	case models.StatusCheckedIn:
		updated.CheckInAt = &now
	case models.StatusCheckedOut:
		updated.CheckOutAt = &now
	case models.StatusCompleted:
		updated.CompletedAt = &now
	}

	event := &models.BookingEvent{
		ActorID:    actor.ID,
		ActorRole:  string(actor.Role),
		FromStatus: booking.Status,
		ToStatus:   target,
		Reason:     reason,
	}
	if err := s.repo.UpdateBookingStatusWithVersion(ctx, &updated, booking.Version, event); err != nil {
		return nil, err
	}

	metrics.IncTransition(string(booking.Status), string(target))
	s.logger.Info().
		Int64("booking_id", updated.ID).
		Str("from", string(booking.Status)).
		Str("to", string(target)).
		Str("actor_role", string(actor.Role)).
		Int64("actor_id", actor.ID).
		Msg("Booking transitioned")

	s.publishEvent(events.TypeForStatus(target), &updated, actor, reason)
	s.enqueueSync(ctx, models.SyncTaskUpsert, &updated)
	return &updated, nil
}

func (s *BookingService) authorizePayment(ctx context.Context, actor domain.Actor, booking *models.Booking, allowGuest bool) error {
	if actor.IsAdmin() || actor.IsSystem() {
		return nil
	}
	if allowGuest && actor.Role == domain.RoleGuest && booking.GuestID == actor.ID {
		return nil
	}
	if actor.Role == domain.RoleHost {
		property, err := s.repo.GetProperty(ctx, booking.PropertyID)
		if err != nil {
			return err
		}
		if property.IsHost(actor.ID) {
			return nil
		}
	}
	return fmt.Errorf("update payment of booking %d: %w", booking.ID, domain.ErrUnauthorized)
}

func checkRefund(booking *models.Booking, status models.PaymentStatus) error {
	if status.IsRefund() && booking.Status != models.StatusCancelled && booking.Status != models.StatusCompleted {
		return fmt.Errorf("refund of %s booking: %w", booking.Status, domain.ErrInvalidTransition)
	}
	return nil
}

// UpdatePaymentStatus records a payment outcome. The booking status is left
// untouched.
func (s *BookingService) UpdatePaymentStatus(ctx context.Context, bookingID int64, status models.PaymentStatus, actor domain.Actor) (*models.Booking, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown payment status %q: %w", status, domain.ErrInvalidInput)
	}
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizePayment(ctx, actor, booking, false); err != nil {
		return nil, err
	}
	if err := checkRefund(booking, status); err != nil {
		return nil, err
	}

	if err := s.repo.UpdatePaymentStatus(ctx, bookingID, status); err != nil {
		return nil, err
	}
	return s.afterPaymentChange(ctx, bookingID, actor)
}

// RecordPayment appends a payment attempt; the booking payment status
// follows the new row.
func (s *BookingService) RecordPayment(ctx context.Context, bookingID int64, payment *models.Payment, actor domain.Actor) (*models.Booking, error) {
	if payment == nil || payment.Amount < 0 {
		return nil, fmt.Errorf("invalid payment: %w", domain.ErrInvalidInput)
	}
	if payment.Status == "" {
		payment.Status = models.PaymentPending
	}
	if !payment.Status.Valid() {
		return nil, fmt.Errorf("unknown payment status %q: %w", payment.Status, domain.ErrInvalidInput)
	}

	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizePayment(ctx, actor, booking, true); err != nil {
		return nil, err
	}
	if err := checkRefund(booking, payment.Status); err != nil {
		return nil, err
	}

	payment.BookingID = bookingID
	if payment.Currency == "" {
		payment.Currency = booking.Currency
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}
	return s.afterPaymentChange(ctx, bookingID, actor)
}

func (s *BookingService) afterPaymentChange(ctx context.Context, bookingID int64, actor domain.Actor) (*models.Booking, error) {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Int64("booking_id", bookingID).
		Str("payment_status", string(booking.PaymentStatus)).
		Msg("Payment status updated")
	s.publishEvent(events.EventPaymentUpdated, booking, actor, "")
	s.enqueueSync(ctx, models.SyncTaskUpsert, booking)
	return booking, nil
}

// DeleteBooking removes a booking that no longer holds any nights. Admin only.
func (s *BookingService) DeleteBooking(ctx context.Context, bookingID int64, actor domain.Actor) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("delete booking %d: %w", bookingID, domain.ErrUnauthorized)
	}
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Status.IsOccupying() {
		return fmt.Errorf("booking %d is %s: %w", bookingID, booking.Status, domain.ErrInvalidTransition)
	}

	if err := s.repo.DeleteBooking(ctx, bookingID); err != nil {
		return err
	}
	if err := s.availability.Release(ctx, booking.PropertyID, booking.BookingNumber); err != nil {
		s.logger.Warn().Err(err).Str("booking_number", booking.BookingNumber).Msg("Failed to release derived overrides")
	}

	s.logger.Info().Int64("booking_id", bookingID).Int64("actor_id", actor.ID).Msg("Booking deleted")
	s.publishEvent(events.EventBookingDeleted, booking, actor, "")
	s.enqueueSync(ctx, models.SyncTaskDelete, booking)
	return nil
}

func (s *BookingService) canView(ctx context.Context, actor domain.Actor, booking *models.Booking) error {
	if actor.IsAdmin() || actor.IsSystem() || booking.GuestID == actor.ID {
		return nil
	}
	property, err := s.repo.GetProperty(ctx, booking.PropertyID)
	if err != nil {
		return err
	}
	if property.IsHost(actor.ID) {
		return nil
	}
	return fmt.Errorf("view booking %d: %w", booking.ID, domain.ErrUnauthorized)
}

func (s *BookingService) GetBooking(ctx context.Context, bookingID int64, actor domain.Actor) (*models.Booking, error) {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, actor, booking); err != nil {
		return nil, err
	}
	return booking, nil
}

// BookingHistory returns the audit trail, oldest first.
func (s *BookingService) BookingHistory(ctx context.Context, bookingID int64, actor domain.Actor) ([]*models.BookingEvent, error) {
	if _, err := s.GetBooking(ctx, bookingID, actor); err != nil {
		return nil, err
	}
	return s.repo.GetBookingEvents(ctx, bookingID)
}

func (s *BookingService) ListPropertyBookings(ctx context.Context, propertyID int64, start, end time.Time, actor domain.Actor) ([]*models.Booking, error) {
	start, end = models.DateOnly(start), models.DateOnly(end)
	if !start.Before(end) {
		return nil, fmt.Errorf("start must be before end: %w", domain.ErrInvalidRange)
	}
	property, err := s.repo.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !actor.IsSystem() && !property.IsHost(actor.ID) {
		return nil, fmt.Errorf("list bookings of property %d: %w", propertyID, domain.ErrUnauthorized)
	}
	return s.repo.ListPropertyBookings(ctx, propertyID, start, end)
}

func (s *BookingService) ListGuestBookings(ctx context.Context, actor domain.Actor) ([]*models.Booking, error) {
	if actor.ID == 0 {
		return nil, fmt.Errorf("list guest bookings: %w", domain.ErrUnauthorized)
	}
	return s.repo.ListGuestBookings(ctx, actor.ID)
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, actor domain.Actor, reason string) {
	if s.eventBus == nil {
		return
	}
	payload := events.NewBookingPayload(booking, string(actor.Role), actor.ID, reason)
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}

func (s *BookingService) enqueueSync(ctx context.Context, taskType string, booking *models.Booking) {
	if s.syncWorker == nil {
		return
	}
	if err := s.syncWorker.EnqueueTask(ctx, taskType, booking); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", booking.ID).Str("task", taskType).Msg("sheets enqueue error")
	}
}
