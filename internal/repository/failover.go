package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"staybook/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverPropertyLocker uses the primary locker until it fails with a
// transport error, then serves from the fallback and probes the primary
// again once per recovery interval.
type FailoverPropertyLocker struct {
	primary   domain.PropertyLocker
	fallback  domain.PropertyLocker
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverPropertyLocker(primary, fallback domain.PropertyLocker, logger *zerolog.Logger) *FailoverPropertyLocker {
	return &FailoverPropertyLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverPropertyLocker) markDown() {
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverPropertyLocker) shouldProbe() bool {
	return time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverPropertyLocker) Lock(ctx context.Context, propertyID int64) (domain.Lease, error) {
	if !r.isDown.Load() || r.shouldProbe() {
		lease, err := r.primary.Lock(ctx, propertyID)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("Primary property locker recovered")
			}
			return lease, nil
		}
		if errors.Is(err, domain.ErrConcurrentConflict) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		r.logger.Error().Err(err).Msg("Primary property locker failed, falling back to memory")
		r.markDown()
	}

	return r.fallback.Lock(ctx, propertyID)
}

// Degraded reports whether the fallback is serving locks.
func (r *FailoverPropertyLocker) Degraded() bool {
	return r.isDown.Load()
}
