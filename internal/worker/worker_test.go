package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"krushilink/internal/database"
	"krushilink/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type ledgerPayload struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

type fakeLedger struct {
	err   error
	calls int
	last  ledgerPayload
}

func (f *fakeLedger) handle(_ context.Context, task *models.DeliveryTask) error {
	f.calls++
	if err := DecodePayload(task, &f.last); err != nil {
		return err
	}
	return f.err
}

func newWorker(t *testing.T, db *database.DB, rdb *redis.Client, retry RetryPolicy, ledger *fakeLedger) *DeliveryWorker {
	t.Helper()
	logger := zerolog.New(io.Discard)
	w := NewDeliveryWorker(db, rdb, retry, Options{PollInterval: 10 * time.Millisecond}, &logger)
	w.Handle(TaskLedgerUpsert, ledger.handle)
	return w
}

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	ledger := &fakeLedger{}
	worker := newWorker(t, db, nil, RetryPolicy{}, ledger)

	ctx := context.Background()
	if err := worker.Enqueue(ctx, TaskLedgerUpsert, "bk-1", ledgerPayload{BookingID: "bk-1", Status: "accepted"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusCompleted {
		t.Fatalf("expected status=completed, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected retry_count=0, got %d", retryCount)
	}
	if nextRetry.Valid {
		t.Fatalf("expected next_retry_at NULL on success")
	}
	if ledger.calls != 1 || ledger.last.Status != "accepted" {
		t.Fatalf("unexpected ledger state: %+v", ledger)
	}
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	ledger := &fakeLedger{err: errors.New("boom")}
	worker := newWorker(t, db, nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}, ledger)

	ctx := context.Background()
	if err := worker.Enqueue(ctx, TaskLedgerUpsert, "bk-2", ledgerPayload{BookingID: "bk-2"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusRetry {
		t.Fatalf("expected status=retry, got %s", status)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", retryCount)
	}
	if !nextRetry.Valid || nextRetry.Time.Before(time.Now()) {
		t.Fatalf("expected next_retry_at in future, got %v", nextRetry)
	}

	// not due yet
	if n := worker.ProcessPending(ctx); n != 0 {
		t.Fatalf("expected no due tasks, got %d", n)
	}
}

func TestProcessTaskFail(t *testing.T) {
	db := newTestDB(t)
	ledger := &fakeLedger{err: errors.New("fatal")}
	worker := newWorker(t, db, nil, RetryPolicy{MaxRetries: 1}, ledger)

	ctx := context.Background()
	_ = worker.Enqueue(ctx, TaskLedgerUpsert, "bk-3", ledgerPayload{BookingID: "bk-3"})
	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}
}

func TestProcessTaskPermanentAndUnknown(t *testing.T) {
	db := newTestDB(t)
	ledger := &fakeLedger{}
	worker := newWorker(t, db, nil, RetryPolicy{MaxRetries: 5}, ledger)
	ctx := context.Background()

	bad := models.DeliveryTask{TaskType: TaskLedgerUpsert, EntityID: "bk-4", Payload: "not json"}
	if err := db.CreateDeliveryTask(ctx, &bad); err != nil {
		t.Fatalf("create: %v", err)
	}
	worker.processTask(ctx, &bad)
	if status, _, _ := loadTaskStatus(t, db, bad.ID); status != models.TaskStatusFailed {
		t.Fatalf("decode error must fail without retry, got %s", status)
	}

	unknown := models.DeliveryTask{TaskType: "carrier_pigeon", EntityID: "x", Payload: "{}"}
	if err := db.CreateDeliveryTask(ctx, &unknown); err != nil {
		t.Fatalf("create: %v", err)
	}
	worker.processTask(ctx, &unknown)
	if status, _, _ := loadTaskStatus(t, db, unknown.ID); status != models.TaskStatusFailed {
		t.Fatalf("unknown type must fail, got %s", status)
	}
}

func TestEnqueueValidation(t *testing.T) {
	db := newTestDB(t)
	worker := newWorker(t, db, nil, RetryPolicy{}, &fakeLedger{})
	ctx := context.Background()

	if err := worker.Enqueue(ctx, "", "bk-1", nil); err == nil {
		t.Fatalf("expected error for empty task type")
	}
	if err := worker.Enqueue(ctx, TaskPush, "", nil); err == nil {
		t.Fatalf("expected error for missing entity id")
	}
	if err := worker.Enqueue(ctx, TaskPush, "n-1", make(chan int)); err == nil {
		t.Fatalf("expected error for unencodable payload")
	}
}

func TestRedisQueueAndDeadLetter(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	db := newTestDB(t)
	ledger := &fakeLedger{err: errors.New("sheet locked")}
	worker := newWorker(t, db, rdb, RetryPolicy{MaxRetries: 1}, ledger)
	ctx := context.Background()

	if err := worker.Enqueue(ctx, TaskLedgerUpsert, "bk-5", ledgerPayload{BookingID: "bk-5"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, ok := worker.tryLocalQueue(); ok {
		t.Fatalf("task should go through redis, not the local queue")
	}

	task, ok := worker.tryRedis(ctx)
	if !ok {
		t.Fatalf("expected task from redis")
	}
	worker.processTask(ctx, &task)

	dead, err := rdb.LRange(ctx, "delivery:dead", 0, -1).Result()
	if err != nil || len(dead) != 1 {
		t.Fatalf("expected one dead letter, got %v (%v)", dead, err)
	}
	var decoded models.DeliveryTask
	if err := json.Unmarshal([]byte(dead[0]), &decoded); err != nil || decoded.EntityID != "bk-5" {
		t.Fatalf("unexpected dead letter %q: %v", dead[0], err)
	}
}

func TestStartDrainsQueue(t *testing.T) {
	db := newTestDB(t)
	done := make(chan struct{})
	logger := zerolog.New(io.Discard)
	worker := NewDeliveryWorker(db, nil, RetryPolicy{}, Options{PollInterval: 10 * time.Millisecond}, &logger)
	worker.Handle(TaskPush, func(_ context.Context, task *models.DeliveryTask) error {
		if task.EntityID == "n-1" {
			close(done)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Start(ctx)

	if err := worker.Enqueue(ctx, TaskPush, "n-1", map[string]string{"id": "n-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("task was not processed")
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
	if d := policy.NextDelay(1); d != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d)
	}
	if d := policy.NextDelay(2); d != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d)
	}
	if d := policy.NextDelay(5); d != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s", d)
	}
	if d := policy.NextDelay(200); d != 5*time.Second {
		t.Fatalf("huge attempt expected capped 5s, got %s", d)
	}
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.db")
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(path, &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func loadTaskStatus(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry sql.NullTime) {
	t.Helper()
	row := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM delivery_queue WHERE id = ?`, id)
	if err := row.Scan(&status, &retryCount, &nextRetry); err != nil {
		t.Fatalf("scan task: %v", err)
	}
	return status, retryCount, nextRetry
}
