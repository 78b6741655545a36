package models

import "time"

const (
	SyncStatusPending   = "pending"
	SyncStatusRetry     = "retry"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
)

const (
	SyncTaskUpsert = "upsert"
	SyncTaskDelete = "delete"
	// SyncTaskOccupancy redraws the occupancy grid; it carries no booking.
	SyncTaskOccupancy = "sync_occupancy"
	// SyncTaskResync rewrites the bookings tab from the database.
	SyncTaskResync = "resync_bookings"
)

// SyncTask is a durable job mirroring one booking into the spreadsheet.
type SyncTask struct {
	ID          int64      `json:"id"`
	TaskType    string     `json:"task_type"`
	BookingID   int64      `json:"booking_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}
