package database

import (
	"context"
	"fmt"
	"time"

	"staybook/internal/models"
)

const syncTaskColumns = `id, task_type, booking_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func (db *DB) CreateSyncTask(ctx context.Context, task *models.SyncTask) error {
	if task.Status == "" {
		task.Status = models.SyncStatusPending
	}
	now := time.Now()
	result, err := db.ExecContext(ctx, `INSERT INTO sync_queue
				(task_type, booking_id, payload, status, retry_count, last_error, created_at, next_retry_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskType, task.BookingID, task.Payload, task.Status, task.RetryCount, task.LastError, now, task.NextRetryAt)
	if err != nil {
		return fmt.Errorf("failed to create sync task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	return nil
}

func (db *DB) querySyncTasks(ctx context.Context, query string, args ...interface{}) ([]models.SyncTask, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []models.SyncTask
	for rows.Next() {
		var t models.SyncTask
		if err := rows.Scan(&t.ID, &t.TaskType, &t.BookingID, &t.Payload, &t.Status, &t.RetryCount,
			&t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetPendingSyncTasks returns due tasks, oldest first.
func (db *DB) GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error) {
	tasks, err := db.querySyncTasks(ctx, `SELECT `+syncTaskColumns+` FROM sync_queue
			WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
			ORDER BY created_at ASC, id ASC LIMIT ?`,
		models.SyncStatusPending, models.SyncStatusRetry, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending sync tasks: %w", err)
	}
	return tasks, nil
}

func (db *DB) UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now()

	switch status {
	case models.SyncStatusRetry:
		query = `UPDATE sync_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, errMsg, nextRetryAt, id}
	case models.SyncStatusCompleted, models.SyncStatusFailed:
		query = `UPDATE sync_queue SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, nextRetryAt, now, id}
	default:
		query = `UPDATE sync_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, nextRetryAt, id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update sync task status: %w", err)
	}
	return nil
}

// GetFailedSyncTasks returns the dead letter, newest first.
func (db *DB) GetFailedSyncTasks(ctx context.Context) ([]models.SyncTask, error) {
	tasks, err := db.querySyncTasks(ctx, `SELECT `+syncTaskColumns+` FROM sync_queue
			WHERE status = ? ORDER BY created_at DESC, id DESC`, models.SyncStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed sync tasks: %w", err)
	}
	return tasks, nil
}

// RequeueFailedSyncTasks moves dead-lettered tasks back to pending.
func (db *DB) RequeueFailedSyncTasks(ctx context.Context) (int64, error) {
	result, err := db.ExecContext(ctx, `UPDATE sync_queue
			SET status = ?, retry_count = 0, next_retry_at = NULL, processed_at = NULL
			WHERE status = ?`, models.SyncStatusPending, models.SyncStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue sync tasks: %w", err)
	}
	return result.RowsAffected()
}
