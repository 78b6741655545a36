package models

const (
	// DefaultMaxRangeDays caps availability queries and bookings.
	DefaultMaxRangeDays = 365

	// DefaultCancellationWindowHours applies when a property has no policy.
	DefaultCancellationWindowHours = 24

	// DefaultPendingTTLHours is how long an unconfirmed booking holds its nights.
	DefaultPendingTTLHours = 48

	// DefaultExpirySweepMinutes is the pending expiry sweep period.
	DefaultExpirySweepMinutes = 10

	// DefaultLockTTLSeconds bounds how long a property lock is held.
	DefaultLockTTLSeconds = 10

	// WorkerQueueSize is the in-memory sync queue capacity.
	WorkerQueueSize = 128

	// ExpiredReason marks bookings cancelled by the pending expiry sweeper.
	ExpiredReason = "expired"
)
