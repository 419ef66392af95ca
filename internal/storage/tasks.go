package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/careslot/internal/model"
	"github.com/md-rashed-zaman/careslot/libs/db"
)

type TaskRepository struct {
	pool *db.Pool
}

func NewTaskRepository(pool *db.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

func (r *TaskRepository) CreateTask(ctx context.Context, task model.NotificationTask) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_tasks
			(id, appointment_id, channel, recipient, message, scheduled_at, next_attempt_at,
			status, retry_count, max_retries, traceparent, tracestate, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, task.ID, task.AppointmentID, task.Channel, task.Recipient, task.Message,
		task.ScheduledAt, task.NextAttemptAt, task.Status, task.RetryCount, task.MaxRetries,
		task.Traceparent, task.Tracestate, task.CreatedAt, task.UpdatedAt)
	return err
}

// FetchDue selects tasks eligible for delivery: PENDING first attempts and
// FAILED tasks with retries left, once their next attempt is due.
func (r *TaskRepository) FetchDue(ctx context.Context, now time.Time, limit int) ([]model.NotificationTask, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, channel, recipient, message, scheduled_at, next_attempt_at,
			status, sent_at, COALESCE(last_error, ''), retry_count, max_retries,
			COALESCE(traceparent, ''), COALESCE(tracestate, ''), created_at, updated_at
		FROM notification_tasks
		WHERE (status = 'pending' OR (status = 'failed' AND retry_count < max_retries))
			AND next_attempt_at <= $1
		ORDER BY next_attempt_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []model.NotificationTask
	for rows.Next() {
		var t model.NotificationTask
		if err := rows.Scan(&t.ID, &t.AppointmentID, &t.Channel, &t.Recipient, &t.Message,
			&t.ScheduledAt, &t.NextAttemptAt, &t.Status, &t.SentAt, &t.LastError,
			&t.RetryCount, &t.MaxRetries, &t.Traceparent, &t.Tracestate, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return tasks, nil
}

func (r *TaskRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_tasks
		SET status = 'sent',
			sent_at = $2,
			updated_at = now()
		WHERE id = $1
	`, id, sentAt)
	return err
}

func (r *TaskRepository) MarkFailed(ctx context.Context, id string, retryCount int, lastError string, nextAttemptAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_tasks
		SET status = 'failed',
			retry_count = $2,
			last_error = $3,
			next_attempt_at = $4,
			updated_at = now()
		WHERE id = $1
	`, id, retryCount, lastError, nextAttemptAt)
	return err
}

func (r *TaskRepository) CancelPending(ctx context.Context, appointmentID string) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_tasks
		SET status = 'cancelled',
			updated_at = now()
		WHERE appointment_id = $1
			AND status IN ('pending', 'failed')
	`, appointmentID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
