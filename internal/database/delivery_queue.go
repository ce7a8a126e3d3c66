package database

import (
	"context"
	"fmt"
	"time"

	"krushilink/internal/models"
)

func (db *DB) CreateDeliveryTask(ctx context.Context, task *models.DeliveryTask) error {
	query := `INSERT INTO delivery_queue (task_type, entity_id, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	result, err := db.ExecContext(ctx, query,
		task.TaskType,
		task.EntityID,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		now,
		utcPtr(task.NextRetryAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	return nil
}

const taskColumns = `id, task_type, entity_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func (db *DB) GetDeliveryTask(ctx context.Context, id int64) (*models.DeliveryTask, error) {
	var t models.DeliveryTask
	err := db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM delivery_queue WHERE id = ?`, id).Scan(
		&t.ID, &t.TaskType, &t.EntityID, &t.Payload, &t.Status, &t.RetryCount, &t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
	)
	if err != nil {
		return nil, notFound(err, "delivery task")
	}
	return &t, nil
}

func (db *DB) GetPendingDeliveryTasks(ctx context.Context, limit int) ([]models.DeliveryTask, error) {
	query := `SELECT ` + taskColumns + `
              FROM delivery_queue
              WHERE status IN ('pending', 'retry') AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC LIMIT ?`
	return db.queryTasks(ctx, "pending delivery tasks", query, time.Now().UTC(), limit)
}

func (db *DB) GetFailedDeliveryTasks(ctx context.Context) ([]models.DeliveryTask, error) {
	query := `SELECT ` + taskColumns + ` FROM delivery_queue WHERE status = 'failed' ORDER BY created_at DESC`
	return db.queryTasks(ctx, "failed delivery tasks", query)
}

func (db *DB) queryTasks(ctx context.Context, what, query string, args ...interface{}) ([]models.DeliveryTask, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	defer rows.Close()

	var tasks []models.DeliveryTask
	for rows.Next() {
		var t models.DeliveryTask
		err := rows.Scan(
			&t.ID, &t.TaskType, &t.EntityID, &t.Payload, &t.Status, &t.RetryCount, &t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (db *DB) UpdateDeliveryTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now().UTC()

	switch status {
	case models.TaskStatusRetry:
		query = `UPDATE delivery_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, errMsg, utcPtr(nextRetryAt), id}
	case models.TaskStatusCompleted, models.TaskStatusFailed:
		query = `UPDATE delivery_queue SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, utcPtr(nextRetryAt), now, id}
	default:
		query = `UPDATE delivery_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, utcPtr(nextRetryAt), id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update delivery task status: %w", err)
	}
	return nil
}

// PurgeDeliveryTasks removes completed tasks processed before the cutoff.
func (db *DB) PurgeDeliveryTasks(ctx context.Context, before time.Time) (int64, error) {
	result, err := db.ExecContext(ctx,
		`DELETE FROM delivery_queue WHERE status = 'completed' AND processed_at < ?`, utc(before))
	if err != nil {
		return 0, fmt.Errorf("failed to purge delivery tasks: %w", err)
	}
	return result.RowsAffected()
}
