package worker

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"staybook/internal/database"
	"staybook/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func testBooking(id int64) *models.Booking {
	return &models.Booking{
		ID:            id,
		BookingNumber: "BK-20240301-0000000A",
		PropertyID:    1,
		GuestName:     "tester",
		StartDate:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
		Status:        models.StatusPending,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
}

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := NewSheetsWorker(db, sheets, nil, Options{}, nil)

	ctx := context.Background()
	if err := worker.EnqueueTask(ctx, models.SyncTaskUpsert, testBooking(1)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.SyncStatusCompleted {
		t.Fatalf("expected status=completed, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected retry_count=0, got %d", retryCount)
	}
	if nextRetry.Valid {
		t.Fatalf("expected next_retry_at NULL on success")
	}
	if sheets.upsertCalls != 1 {
		t.Fatalf("expected upsert call, got %d", sheets.upsertCalls)
	}
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{err: errors.New("boom")}
	worker := NewSheetsWorker(db, sheets, nil, Options{Retry: RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}}, nil)

	ctx := context.Background()
	if err := worker.EnqueueTask(ctx, models.SyncTaskUpsert, testBooking(2)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.SyncStatusRetry {
		t.Fatalf("expected status=retry, got %s", status)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", retryCount)
	}
	if !nextRetry.Valid || nextRetry.Time.Before(time.Now()) {
		t.Fatalf("expected next_retry_at in future, got %v", nextRetry)
	}

	// not due yet
	n, err := worker.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("process pending: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no due tasks, got %d", n)
	}
}

func TestProcessTaskFailPushesDeadLetter(t *testing.T) {
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	sheets := &fakeSheets{err: errors.New("fatal")}
	worker := NewSheetsWorker(db, sheets, client, Options{Retry: RetryPolicy{MaxRetries: 1}}, nil)

	ctx := context.Background()
	if err := worker.EnqueueTask(ctx, models.SyncTaskUpsert, testBooking(3)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, ok := worker.tryRedis(ctx)
	if !ok {
		t.Fatalf("expected task in redis queue")
	}
	worker.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != models.SyncStatusFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}
	dead, err := client.LLen(ctx, deadLetterKey).Result()
	if err != nil || dead != 1 {
		t.Fatalf("expected 1 dead letter, got %d (%v)", dead, err)
	}

	n, err := worker.RequeueFailed(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 requeued task, got %d (%v)", n, err)
	}
	if mr.Exists(deadLetterKey) {
		t.Fatalf("expected dead letter list to be cleared")
	}

	sheets.err = nil
	processed, err := worker.ProcessPending(ctx)
	if err != nil || processed != 1 {
		t.Fatalf("expected 1 processed task, got %d (%v)", processed, err)
	}
	status, _, _ = loadTaskStatus(t, db, task.ID)
	if status != models.SyncStatusCompleted {
		t.Fatalf("expected status=completed after requeue, got %s", status)
	}
}

func TestEnqueueFallsBackToMemoryWhenRedisDown(t *testing.T) {
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	worker := NewSheetsWorker(db, &fakeSheets{}, client, Options{}, nil)
	if err := worker.EnqueueTask(context.Background(), models.SyncTaskDelete, testBooking(4)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, ok := worker.tryLocalQueue(); !ok {
		t.Fatalf("expected task in local queue")
	}
}

func TestHandleSheetTask(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := NewSheetsWorker(db, sheets, nil, Options{OccupancySheet: "Grid"}, nil)
	ctx := context.Background()

	t.Run("Upsert", func(t *testing.T) {
		if err := worker.handleSheetTask(ctx, models.SyncTaskUpsert, sheetTaskPayload{Booking: testBooking(1)}); err != nil {
			t.Fatalf("handle: %v", err)
		}
		if sheets.upsertCalls != 1 {
			t.Fatalf("expected 1 upsert call, got %d", sheets.upsertCalls)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := worker.handleSheetTask(ctx, models.SyncTaskDelete, sheetTaskPayload{BookingID: 123}); err != nil {
			t.Fatalf("handle: %v", err)
		}
		if sheets.deleteCalls != 1 {
			t.Fatalf("expected 1 delete call, got %d", sheets.deleteCalls)
		}
	})

	t.Run("Occupancy", func(t *testing.T) {
		p := &models.Property{OwnerID: 1, Name: "Loft", PriceType: models.PriceNightly, Price: 100, IsActive: true}
		if err := db.CreateProperty(ctx, p); err != nil {
			t.Fatalf("create property: %v", err)
		}
		payload := sheetTaskPayload{Start: "2024-03-01", End: "2024-03-08"}
		if err := worker.handleSheetTask(ctx, models.SyncTaskOccupancy, payload); err != nil {
			t.Fatalf("handle: %v", err)
		}
		if sheets.occupancyCalls != 1 || sheets.lastTitle != "Grid" || sheets.lastProperties != 1 {
			t.Fatalf("unexpected occupancy call: %+v", sheets)
		}
	})

	t.Run("Resync", func(t *testing.T) {
		if err := worker.handleSheetTask(ctx, models.SyncTaskResync, sheetTaskPayload{}); err != nil {
			t.Fatalf("handle: %v", err)
		}
		if sheets.replaceCalls != 1 || sheets.lastReplaced != 0 {
			t.Fatalf("unexpected resync call: %+v", sheets)
		}
	})

	t.Run("MissingPayload", func(t *testing.T) {
		if err := worker.handleSheetTask(ctx, models.SyncTaskUpsert, sheetTaskPayload{}); err == nil {
			t.Fatalf("expected error for missing booking")
		}
		if err := worker.handleSheetTask(ctx, "rename", sheetTaskPayload{}); err == nil {
			t.Fatalf("expected error for unknown task type")
		}
	})
}

func TestEnqueueValidation(t *testing.T) {
	db := newTestDB(t)
	worker := NewSheetsWorker(db, &fakeSheets{}, nil, Options{}, nil)
	ctx := context.Background()

	if err := worker.EnqueueTask(ctx, "", testBooking(1)); err == nil {
		t.Fatalf("expected error for empty task type")
	}
	if err := worker.EnqueueTask(ctx, models.SyncTaskUpsert, nil); err == nil {
		t.Fatalf("expected error for missing booking")
	}
	if err := worker.EnqueueTask(ctx, models.SyncTaskUpsert, &models.Booking{}); err == nil {
		t.Fatalf("expected error for missing booking id")
	}

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := worker.EnqueueOccupancySync(ctx, start, start); err == nil {
		t.Fatalf("expected error for empty range")
	}
	if err := worker.EnqueueOccupancySync(ctx, start, start.AddDate(0, 0, 30)); err != nil {
		t.Fatalf("enqueue occupancy: %v", err)
	}
	tasks, err := db.GetPendingSyncTasks(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(tasks) != 1 || tasks[0].TaskType != models.SyncTaskOccupancy {
		t.Fatalf("expected one occupancy task, got %+v", tasks)
	}
}

func TestDecodePayload(t *testing.T) {
	worker := NewSheetsWorker(nil, nil, nil, Options{}, nil)

	decoded, err := worker.decodePayload(`{"booking_id":123,"start":"2024-03-01"}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.BookingID != 123 || decoded.Start != "2024-03-01" {
		t.Fatalf("unexpected decoded payload: %+v", decoded)
	}

	if _, err := worker.decodePayload(`invalid json`); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := NewSheetsWorker(db, sheets, nil, Options{PollInterval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := worker.EnqueueTask(ctx, models.SyncTaskUpsert, testBooking(9)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
	if sheets.upsertCalls == 0 {
		t.Fatalf("expected queued task to be processed")
	}
}

// Helpers

type fakeSheets struct {
	err            error
	upsertCalls    int
	deleteCalls    int
	occupancyCalls int
	lastTitle      string
	lastProperties int
	replaceCalls   int
	lastReplaced   int
}

func (f *fakeSheets) UpsertBooking(ctx context.Context, b *models.Booking) error {
	f.upsertCalls++
	return f.err
}

func (f *fakeSheets) DeleteBookingRow(ctx context.Context, id int64) error {
	f.deleteCalls++
	return f.err
}

func (f *fakeSheets) UpdateOccupancySheet(ctx context.Context, title string, start, end time.Time, properties []*models.Property, bookings []*models.Booking) error {
	f.occupancyCalls++
	f.lastTitle = title
	f.lastProperties = len(properties)
	return f.err
}

func (f *fakeSheets) ReplaceBookingsSheet(ctx context.Context, bookings []*models.Booking) error {
	f.replaceCalls++
	f.lastReplaced = len(bookings)
	return f.err
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "worker.db"), &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func loadTaskStatus(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry sql.NullTime) {
	t.Helper()
	row := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM sync_queue WHERE id = ?`, id)
	if err := row.Scan(&status, &retryCount, &nextRetry); err != nil {
		t.Fatalf("scan task: %v", err)
	}
	return status, retryCount, nextRetry
}
