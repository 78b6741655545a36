package service

import (
	"context"
	"fmt"
	"time"

	"staybook/internal/domain"
	"staybook/internal/metrics"
	"staybook/internal/models"

	"github.com/rs/zerolog"
)

// AvailabilityService resolves calendar availability and administers
// per-day overrides.
type AvailabilityService struct {
	repo         domain.Repository
	maxRangeDays int
	logger       *zerolog.Logger
}

func NewAvailabilityService(repo domain.Repository, maxRangeDays int, logger *zerolog.Logger) *AvailabilityService {
	if maxRangeDays <= 0 {
		maxRangeDays = models.DefaultMaxRangeDays
	}
	return &AvailabilityService{repo: repo, maxRangeDays: maxRangeDays, logger: logger}
}

func (s *AvailabilityService) validateRange(start, end time.Time) (time.Time, time.Time, error) {
	start, end = models.DateOnly(start), models.DateOnly(end)
	if !start.Before(end) {
		return start, end, fmt.Errorf("start %s must be before end %s: %w",
			start.Format(models.DateLayout), end.Format(models.DateLayout), domain.ErrInvalidRange)
	}
	if days := models.DaysBetween(start, end); days > s.maxRangeDays {
		return start, end, fmt.Errorf("range of %d days exceeds %d: %w", days, s.maxRangeDays, domain.ErrInvalidRange)
	}
	return start, end, nil
}

// ResolveRange reports per-day availability of [start, end) and whether the
// whole range can be booked. It never writes.
func (s *AvailabilityService) ResolveRange(ctx context.Context, propertyID int64, start, end time.Time) (*models.RangeResult, error) {
	began := time.Now()
	defer func() { metrics.ObserveResolve(time.Since(began)) }()

	start, end, err := s.validateRange(start, end)
	if err != nil {
		return nil, err
	}

	property, err := s.repo.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	overrides, err := s.repo.GetOverrides(ctx, propertyID, start, end)
	if err != nil {
		return nil, err
	}
	bookings, err := s.repo.FindOverlappingBookings(ctx, propertyID, start, end)
	if err != nil {
		return nil, err
	}

	// BOOKING-sourced rows are a projection of booking_nights and never gate.
	manual := make(map[string]*models.AvailabilityOverride)
	for _, o := range overrides {
		if o.Source == models.SourceManual {
			manual[o.Date.Format(models.DateLayout)] = o
		}
	}
	occupied := make(map[string]string)
	for _, b := range bookings {
		for _, night := range b.Nights() {
			occupied[night.Format(models.DateLayout)] = b.BookingNumber
		}
	}

	result := &models.RangeResult{
		PropertyID:          propertyID,
		StartDate:           start,
		EndDate:             end,
		ViolatedConstraints: []string{},
	}

	allAvailable := true
	for _, d := range models.EachDay(start, end) {
		key := d.Format(models.DateLayout)
		day := models.DayAvailability{Date: d, Status: models.DayAvailable, Price: property.Price}

		m, hasManual := manual[key]
		switch {
		case hasManual && !m.Available:
			day.Status = models.DayBlocked
			day.Reason = m.BlockedBy
			if day.Reason == "" {
				day.Reason = "blocked"
			}
		case occupied[key] != "":
			day.Status = models.DayBooked
			day.Reason = occupied[key]
		case hasManual && m.Price != nil:
			day.Price = *m.Price
		}

		if day.Status != models.DayAvailable {
			allAvailable = false
		}
		result.PerDay = append(result.PerDay, day)
	}

	result.ViolatedConstraints = checkConstraints(property, start, end)
	result.IsAvailable = allAvailable && len(bookings) == 0 && len(result.ViolatedConstraints) == 0
	return result, nil
}

func checkConstraints(p *models.Property, start, end time.Time) []string {
	violations := []string{}
	days := models.DaysBetween(start, end)
	if p.MinStay > 0 && days < p.MinStay {
		violations = append(violations, models.ConstraintStayTooShort)
	}
	if p.MaxStay > 0 && days > p.MaxStay {
		violations = append(violations, models.ConstraintStayTooLong)
	}
	if p.AvailableFrom != nil && start.Before(models.DateOnly(*p.AvailableFrom)) {
		violations = append(violations, models.ConstraintBeforeAvailableFrom)
	}
	if !p.IsActive {
		violations = append(violations, models.ConstraintPropertyInactive)
	}
	return violations
}

// RebuildDerivedOverrides recomputes the BOOKING-sourced rows of a property
// from its occupied nights.
func (s *AvailabilityService) RebuildDerivedOverrides(ctx context.Context, actor domain.Actor, propertyID int64) (int64, error) {
	if err := s.authorizeHost(ctx, actor, propertyID); err != nil {
		return 0, err
	}
	written, err := s.repo.RebuildDerivedOverrides(ctx, propertyID)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int64("property_id", propertyID).Int64("rows", written).Int64("actor_id", actor.ID).Msg("Derived overrides rebuilt")
	return written, nil
}

// RepairDerivedOverrides rebuilds the derived rows of every property.
func (s *AvailabilityService) RepairDerivedOverrides(ctx context.Context) (int64, error) {
	properties, err := s.repo.ListProperties(ctx, false)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, p := range properties {
		written, err := s.repo.RebuildDerivedOverrides(ctx, p.ID)
		if err != nil {
			return total, fmt.Errorf("rebuild property %d: %w", p.ID, err)
		}
		total += written
	}
	return total, nil
}

// Release removes the derived rows of a booking.
func (s *AvailabilityService) Release(ctx context.Context, propertyID int64, bookingNumber string) error {
	_, err := s.repo.ReleaseOverrides(ctx, propertyID, bookingNumber)
	return err
}

func (s *AvailabilityService) authorizeHost(ctx context.Context, actor domain.Actor, propertyID int64) error {
	property, err := s.repo.GetProperty(ctx, propertyID)
	if err != nil {
		return err
	}
	if actor.IsAdmin() || (actor.Role == domain.RoleHost && property.IsHost(actor.ID)) {
		return nil
	}
	return fmt.Errorf("manage calendar of property %d: %w", propertyID, domain.ErrUnauthorized)
}

// OverrideRequest sets every day of [Start, End) to the same state.
type OverrideRequest struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
	Price     *int64    `json:"price,omitempty"`
	BlockedBy string    `json:"blocked_by,omitempty"`
}

func (s *AvailabilityService) SetOverride(ctx context.Context, actor domain.Actor, propertyID int64, date time.Time, available bool, price *int64, blockedBy string) error {
	date = models.DateOnly(date)
	return s.SetOverrideRange(ctx, actor, propertyID, OverrideRequest{
		Start: date, End: date.AddDate(0, 0, 1), Available: available, Price: price, BlockedBy: blockedBy,
	})
}

// SetOverrideRange applies one override to each day of the range. Opening a
// day held by an occupying booking fails with domain.ErrNotAvailable.
func (s *AvailabilityService) SetOverrideRange(ctx context.Context, actor domain.Actor, propertyID int64, req OverrideRequest) error {
	start, end, err := s.validateRange(req.Start, req.End)
	if err != nil {
		return err
	}
	if req.Price != nil && *req.Price < 0 {
		return fmt.Errorf("negative price: %w", domain.ErrInvalidInput)
	}
	if err := s.authorizeHost(ctx, actor, propertyID); err != nil {
		return err
	}

	days := models.EachDay(start, end)
	overrides := make([]*models.AvailabilityOverride, 0, len(days))
	for _, d := range days {
		overrides = append(overrides, &models.AvailabilityOverride{
			PropertyID: propertyID,
			Date:       d,
			Available:  req.Available,
			Price:      req.Price,
			BlockedBy:  req.BlockedBy,
			Source:     models.SourceManual,
		})
	}

	if err := s.repo.SetManualOverrides(ctx, overrides); err != nil {
		return err
	}
	s.logger.Info().
		Int64("property_id", propertyID).
		Int64("actor_id", actor.ID).
		Int("days", len(days)).
		Bool("available", req.Available).
		Msg("Availability overrides set")
	return nil
}

func (s *AvailabilityService) DeleteOverrides(ctx context.Context, actor domain.Actor, propertyID int64, start, end time.Time) (int64, error) {
	start, end, err := s.validateRange(start, end)
	if err != nil {
		return 0, err
	}
	if err := s.authorizeHost(ctx, actor, propertyID); err != nil {
		return 0, err
	}
	return s.repo.DeleteManualOverrides(ctx, propertyID, start, end)
}

func (s *AvailabilityService) ListOverrides(ctx context.Context, actor domain.Actor, propertyID int64, start, end time.Time) ([]*models.AvailabilityOverride, error) {
	start, end, err := s.validateRange(start, end)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeHost(ctx, actor, propertyID); err != nil {
		return nil, err
	}
	return s.repo.GetOverrides(ctx, propertyID, start, end)
}
