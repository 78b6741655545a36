package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"staybook/internal/database"
	"staybook/internal/domain"
	"staybook/internal/metrics"
	"staybook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisQueueKey = "staybook:sheets:queue"
	deadLetterKey = "staybook:sheets:deadletter"
)

// SheetsClient is the spreadsheet surface the worker writes to.
type SheetsClient interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
	DeleteBookingRow(ctx context.Context, bookingID int64) error
	ReplaceBookingsSheet(ctx context.Context, bookings []*models.Booking) error
	UpdateOccupancySheet(ctx context.Context, title string, start, end time.Time, properties []*models.Property, bookings []*models.Booking) error
}

// sheetTaskPayload is persisted in SyncTask.Payload as JSON.
type sheetTaskPayload struct {
	BookingID int64           `json:"booking_id"`
	Booking   *models.Booking `json:"booking,omitempty"`
	Start     string          `json:"start,omitempty"`
	End       string          `json:"end,omitempty"`
}

// Options tune a SheetsWorker; zero values take defaults.
type Options struct {
	Retry          RetryPolicy
	PollInterval   time.Duration
	BatchSize      int
	OccupancySheet string
}

// SheetsWorker consumes sync_queue tasks and applies them to Google Sheets.
// Tasks are always persisted first; Redis and the in-memory channel only
// shorten the path to the worker loop.
type SheetsWorker struct {
	db             *database.DB
	sheets         SheetsClient
	redis          *redis.Client
	retryPolicy    RetryPolicy
	queue          chan models.SyncTask
	pollInterval   time.Duration
	batchSize      int
	occupancySheet string
	logger         *zerolog.Logger
	now            func() time.Time
}

func NewSheetsWorker(db *database.DB, sheets SheetsClient, redisClient *redis.Client, opts Options, logger *zerolog.Logger) *SheetsWorker {
	retry := opts.Retry.withDefaults()
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.OccupancySheet == "" {
		opts.OccupancySheet = "Occupancy"
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &SheetsWorker{
		db:             db,
		sheets:         sheets,
		redis:          redisClient,
		retryPolicy:    retry,
		queue:          make(chan models.SyncTask, models.WorkerQueueSize),
		pollInterval:   opts.PollInterval,
		batchSize:      opts.BatchSize,
		occupancySheet: opts.OccupancySheet,
		logger:         logger,
		now:            time.Now,
	}
}

// EnqueueTask schedules a booking upsert or delete.
func (w *SheetsWorker) EnqueueTask(ctx context.Context, taskType string, booking *models.Booking) error {
	if taskType != models.SyncTaskUpsert && taskType != models.SyncTaskDelete {
		return fmt.Errorf("unknown task type %q", taskType)
	}
	if booking == nil || booking.ID == 0 {
		return errors.New("booking id is required")
	}
	return w.enqueue(ctx, taskType, sheetTaskPayload{BookingID: booking.ID, Booking: booking})
}

// EnqueueOccupancySync schedules a redraw of the occupancy grid for [start, end).
func (w *SheetsWorker) EnqueueOccupancySync(ctx context.Context, start, end time.Time) error {
	if !start.Before(end) {
		return fmt.Errorf("occupancy range is empty: %w", domain.ErrInvalidRange)
	}
	return w.enqueue(ctx, models.SyncTaskOccupancy, sheetTaskPayload{
		Start: start.Format(models.DateLayout),
		End:   end.Format(models.DateLayout),
	})
}

// EnqueueFullResync schedules a rewrite of the bookings tab from the database.
func (w *SheetsWorker) EnqueueFullResync(ctx context.Context) error {
	return w.enqueue(ctx, models.SyncTaskResync, sheetTaskPayload{})
}

func (w *SheetsWorker) enqueue(ctx context.Context, taskType string, payload sheetTaskPayload) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.SyncTask{
		TaskType:  taskType,
		BookingID: payload.BookingID,
		Payload:   string(payloadBytes),
		Status:    models.SyncStatusPending,
	}
	if err := w.db.CreateSyncTask(ctx, &task); err != nil {
		return fmt.Errorf("persist sync task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("Redis push failed, falling back to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("Memory queue full, task left to polling")
	}
	return nil
}

// Start runs the worker loop until ctx is done.
func (w *SheetsWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("Sheets worker started")
	defer w.logger.Info().Msg("Sheets worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}
		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		n, err := w.ProcessPending(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("Failed to fetch pending sync tasks")
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// ProcessPending handles one batch of due tasks from the database.
func (w *SheetsWorker) ProcessPending(ctx context.Context) (int, error) {
	tasks, err := w.db.GetPendingSyncTasks(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
	return len(tasks), nil
}

func (w *SheetsWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *SheetsWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.logger.Warn().Err(err).Msg("Redis BRPOP failed")
		}
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("Failed to decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

func (w *SheetsWorker) processTask(ctx context.Context, task *models.SyncTask) {
	payload, err := w.decodePayload(task.Payload)
	if err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.handleSheetTask(ctx, task.TaskType, payload); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	metrics.IncSyncTask(models.SyncStatusCompleted)
	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark sync task completed")
	}
}

func (w *SheetsWorker) handleSheetTask(ctx context.Context, taskType string, payload sheetTaskPayload) error {
	switch taskType {
	case models.SyncTaskUpsert:
		if payload.Booking == nil {
			return errors.New("booking payload missing")
		}
		return w.sheets.UpsertBooking(ctx, payload.Booking)
	case models.SyncTaskDelete:
		if payload.BookingID == 0 {
			return errors.New("booking id missing")
		}
		return w.sheets.DeleteBookingRow(ctx, payload.BookingID)
	case models.SyncTaskOccupancy:
		return w.syncOccupancy(ctx, payload)
	case models.SyncTaskResync:
		bookings, err := w.db.ListAllBookings(ctx)
		if err != nil {
			return err
		}
		return w.sheets.ReplaceBookingsSheet(ctx, bookings)
	default:
		return fmt.Errorf("unknown task type: %s", taskType)
	}
}

func (w *SheetsWorker) syncOccupancy(ctx context.Context, payload sheetTaskPayload) error {
	start, err := models.ParseDate(payload.Start)
	if err != nil {
		return fmt.Errorf("occupancy start: %w", err)
	}
	end, err := models.ParseDate(payload.End)
	if err != nil {
		return fmt.Errorf("occupancy end: %w", err)
	}

	properties, err := w.db.ListProperties(ctx, true)
	if err != nil {
		return err
	}
	var bookings []*models.Booking
	for _, p := range properties {
		list, err := w.db.ListPropertyBookings(ctx, p.ID, start, end)
		if err != nil {
			return err
		}
		bookings = append(bookings, list...)
	}
	return w.sheets.UpdateOccupancySheet(ctx, w.occupancySheet, start, end, properties, bookings)
}

func (w *SheetsWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	metrics.IncSyncTask(models.SyncStatusRetry)
	nextTime := w.now().Add(w.retryPolicy.NextDelay(attempt))
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", nextTime).Msg("Sync task failed, will retry")
	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark sync task for retry")
	}
}

func (w *SheetsWorker) failTask(ctx context.Context, task *models.SyncTask, cause error) {
	metrics.IncSyncTask(models.SyncStatusFailed)
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("task_type", task.TaskType).Msg("Sync task moved to dead letter")
	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark sync task failed")
	}
	w.pushDeadLetter(ctx, task)
}

// RequeueFailed moves dead-lettered tasks back to pending and empties the
// Redis dead letter list.
func (w *SheetsWorker) RequeueFailed(ctx context.Context) (int64, error) {
	n, err := w.db.RequeueFailedSyncTasks(ctx)
	if err != nil {
		return 0, err
	}
	if w.redis != nil {
		if err := w.redis.Del(ctx, deadLetterKey).Err(); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to clear redis dead letter")
		}
	}
	w.logger.Info().Int64("count", n).Msg("Requeued failed sync tasks")
	return n, nil
}

func (w *SheetsWorker) decodePayload(raw string) (sheetTaskPayload, error) {
	var payload sheetTaskPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}

func (w *SheetsWorker) pushRedis(ctx context.Context, task models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, redisQueueKey, data).Err()
}

func (w *SheetsWorker) pushDeadLetter(ctx context.Context, task *models.SyncTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to encode dead letter")
		return
	}
	if err := w.redis.LPush(ctx, deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to push dead letter")
	}
}
