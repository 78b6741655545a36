package service

import (
	"context"
	"errors"
	"time"

	"staybook/internal/domain"
	"staybook/internal/models"

	"github.com/rs/zerolog"
)

const sweepBatchSize = 100

// StaleBookingSource lists PENDING bookings older than a cutoff.
type StaleBookingSource interface {
	GetStalePendingBookings(ctx context.Context, createdBefore time.Time, limit int) ([]*models.Booking, error)
}

// ExpirySweeper cancels PENDING bookings that were never confirmed so their
// nights return to the calendar.
type ExpirySweeper struct {
	source   StaleBookingSource
	bookings *BookingService
	ttl      time.Duration
	interval time.Duration
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewExpirySweeper(source StaleBookingSource, bookings *BookingService, ttl, interval time.Duration, logger *zerolog.Logger) *ExpirySweeper {
	if ttl <= 0 {
		ttl = models.DefaultPendingTTLHours * time.Hour
	}
	if interval <= 0 {
		interval = models.DefaultExpirySweepMinutes * time.Minute
	}
	return &ExpirySweeper{
		source:   source,
		bookings: bookings,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *ExpirySweeper) Start(ctx context.Context) {
	s.logger.Info().Dur("ttl", s.ttl).Dur("interval", s.interval).Msg("Pending expiry sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Pending expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Pending expiry sweep failed")
			}
		}
	}
}

// SweepOnce cancels one batch of stale PENDING bookings and returns how many
// were cancelled. Bookings changed concurrently are skipped.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	stale, err := s.source.GetStalePendingBookings(ctx, s.now().Add(-s.ttl), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, b := range stale {
		_, err := s.bookings.ExpirePending(ctx, b.ID)
		switch {
		case err == nil:
			cancelled++
		case errors.Is(err, domain.ErrConcurrentConflict), errors.Is(err, domain.ErrInvalidTransition):
			s.logger.Debug().Err(err).Int64("booking_id", b.ID).Msg("Skipping booking changed during sweep")
		case ctx.Err() != nil:
			return cancelled, ctx.Err()
		default:
			s.logger.Error().Err(err).Int64("booking_id", b.ID).Msg("Failed to expire pending booking")
		}
	}

	if cancelled > 0 {
		s.logger.Info().Int("cancelled", cancelled).Msg("Expired pending bookings")
	}
	return cancelled, nil
}
