package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"krushilink/internal/domain"
	"krushilink/internal/metrics"
	"krushilink/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	TaskPush         = "push"
	TaskLedgerUpsert = "ledger_upsert"
)

// Handler executes one task. A returned error schedules a retry.
type Handler func(ctx context.Context, task *models.DeliveryTask) error

// ErrPermanent marks a failure that must not be retried.
var ErrPermanent = errors.New("permanent task failure")

// Options tune the worker; zero values get defaults.
type Options struct {
	QueueKey      string
	DeadLetterKey string
	PollInterval  time.Duration
	BatchSize     int
}

// DeliveryWorker consumes delivery_queue tasks. New tasks are persisted first
// and then handed over through redis or, without redis, a local channel. The
// table is polled for retries and for anything the fast path dropped.
type DeliveryWorker struct {
	store         domain.DeliveryTaskRepository
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.DeliveryTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDeliveryWorker(store domain.DeliveryTaskRepository, redisClient *redis.Client, retry RetryPolicy, opts Options, logger *zerolog.Logger) *DeliveryWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if opts.QueueKey == "" {
		opts.QueueKey = "delivery:queue"
	}
	if opts.DeadLetterKey == "" {
		opts.DeadLetterKey = "delivery:dead"
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 20
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "delivery_worker").Logger()

	return &DeliveryWorker{
		store:         store,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.DeliveryTask, models.WorkerQueueSize),
		redisQueueKey: opts.QueueKey,
		deadLetterKey: opts.DeadLetterKey,
		pollInterval:  opts.PollInterval,
		batchSize:     opts.BatchSize,
		logger:        &l,
		handlers:      make(map[string]Handler),
	}
}

// Handle registers the handler for a task type.
func (w *DeliveryWorker) Handle(taskType string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[taskType] = h
}

// Enqueue persists a task and schedules it via redis or the in-memory queue.
func (w *DeliveryWorker) Enqueue(ctx context.Context, taskType, entityID string, payload interface{}) error {
	if taskType == "" {
		return errors.New("task type is required")
	}
	if entityID == "" {
		return errors.New("entity id is required")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.DeliveryTask{
		TaskType:  taskType,
		EntityID:  entityID,
		Payload:   string(raw),
		Status:    models.TaskStatusPending,
		CreatedAt: time.Now(),
	}
	if err := w.store.CreateDeliveryTask(ctx, &task); err != nil {
		return fmt.Errorf("persist delivery task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, &task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("Redis push failed, using memory queue")
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

// Start runs the main loop until ctx is done.
func (w *DeliveryWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("Delivery worker started")
	defer w.logger.Info().Msg("Delivery worker stopped")

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

		if n := w.ProcessPending(ctx); n == 0 {
			select {
			case <-ctx.Done():
				return
			case t := <-w.queue:
				w.processTask(ctx, &t)
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// ProcessPending handles one batch of due tasks from the table and returns
// how many were processed.
func (w *DeliveryWorker) ProcessPending(ctx context.Context) int {
	tasks, err := w.store.GetPendingDeliveryTasks(ctx, w.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("Fetch pending tasks failed")
		}
		return 0
	}
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
	return len(tasks)
}

func (w *DeliveryWorker) tryLocalQueue() (models.DeliveryTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.DeliveryTask{}, false
	}
}

func (w *DeliveryWorker) tryRedis(ctx context.Context) (models.DeliveryTask, bool) {
	if w.redis == nil {
		return models.DeliveryTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.logger.Warn().Err(err).Msg("Redis BRPOP failed")
		}
		return models.DeliveryTask{}, false
	}
	if len(res) != 2 {
		return models.DeliveryTask{}, false
	}
	var task models.DeliveryTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("Decode redis task failed")
		return models.DeliveryTask{}, false
	}
	return task, true
}

func (w *DeliveryWorker) processTask(ctx context.Context, task *models.DeliveryTask) {
	w.mu.RLock()
	handler, ok := w.handlers[task.TaskType]
	w.mu.RUnlock()
	if !ok {
		w.failTask(ctx, task, fmt.Errorf("unknown task type: %s", task.TaskType))
		return
	}

	if err := handler(ctx, task); err != nil {
		if errors.Is(err, ErrPermanent) {
			w.failTask(ctx, task, err)
			return
		}
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.store.UpdateDeliveryTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Mark completed failed")
	}
}

func (w *DeliveryWorker) retryOrFail(ctx context.Context, task *models.DeliveryTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failTask(ctx, task, cause)
		return
	}

	metrics.IncQueueRetry(task.TaskType)
	next := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Str("task_type", task.TaskType).
		Int("attempt", attempt).Time("next_retry_at", next).Msg("Task failed, scheduling retry")
	if err := w.store.UpdateDeliveryTaskStatus(ctx, task.ID, models.TaskStatusRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Mark retry failed")
	}
}

func (w *DeliveryWorker) failTask(ctx context.Context, task *models.DeliveryTask, cause error) {
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("task_type", task.TaskType).Msg("Task failed permanently")
	if err := w.store.UpdateDeliveryTaskStatus(ctx, task.ID, models.TaskStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Update failed status")
	}
	if w.redis != nil {
		if err := w.pushRedis(ctx, w.deadLetterKey, task); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Dead letter push failed")
		}
	}
}

func (w *DeliveryWorker) pushRedis(ctx context.Context, key string, task *models.DeliveryTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}

// DecodePayload unmarshals a task payload into v and marks decode errors permanent.
func DecodePayload(task *models.DeliveryTask, v interface{}) error {
	if err := json.Unmarshal([]byte(task.Payload), v); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", task.TaskType, err, ErrPermanent)
	}
	return nil
}
