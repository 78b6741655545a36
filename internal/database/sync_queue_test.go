package database

import (
	"context"
	"testing"
	"time"

	"staybook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncQueueCRUD(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.SyncTask{
		TaskType:  models.SyncTaskUpsert,
		BookingID: 100,
		Payload:   `{"booking_number":"BK-1"}`,
	}
	require.NoError(t, db.CreateSyncTask(ctx, task))
	assert.Equal(t, models.SyncStatusPending, task.Status)

	tasks, err := db.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, int64(100), tasks[0].BookingID)

	require.NoError(t, db.UpdateSyncTaskStatus(ctx, tasks[0].ID, models.SyncStatusCompleted, "", nil))
	tasks, err = db.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	errMsg := "sheets unavailable"
	require.NoError(t, db.CreateSyncTask(ctx, &models.SyncTask{
		TaskType: models.SyncTaskUpsert, BookingID: 101, Status: models.SyncStatusFailed, LastError: &errMsg,
	}))
	failed, err := db.GetFailedSyncTasks(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "sheets unavailable", *failed[0].LastError)

	requeued, err := db.RequeueFailedSyncTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), requeued)
	tasks, err = db.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestSyncQueueRetrySchedule(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.SyncTask{TaskType: models.SyncTaskDelete, BookingID: 102}
	require.NoError(t, db.CreateSyncTask(ctx, task))

	nextRetry := time.Now().Add(time.Hour)
	require.NoError(t, db.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusRetry, "temporary error", &nextRetry))

	tasks, err := db.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks, "task with future retry should not be due")

	pastRetry := time.Now().Add(-time.Hour)
	require.NoError(t, db.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusRetry, "temporary error", &pastRetry))

	tasks, err = db.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 2, tasks[0].RetryCount)
}
