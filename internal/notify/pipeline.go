package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/careslot/internal/model"
	otelx "github.com/md-rashed-zaman/careslot/libs/otel"
)

const (
	DefaultLead         = 5 * time.Minute
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = time.Minute
	DefaultBatchSize    = 50
)

// TaskStore is the durable task store as the pipeline sees it. FetchDue must
// return tasks that are PENDING, or FAILED with retries left, whose next
// attempt is due.
type TaskStore interface {
	CreateTask(ctx context.Context, task model.NotificationTask) error
	FetchDue(ctx context.Context, now time.Time, limit int) ([]model.NotificationTask, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, retryCount int, lastError string, nextAttemptAt time.Time) error
	// CancelPending flips an appointment's undelivered tasks to CANCELLED
	// and reports how many it touched.
	CancelPending(ctx context.Context, appointmentID string) (int, error)
}

// Pipeline schedules reminder tasks at booking time and delivers due ones on
// dispatch ticks.
//
// Delivery is at-least-once: a crash between a successful send and the SENT
// update re-selects the task on the next tick and sends it again. That is an
// accepted property of the design; channels are not assumed idempotent.
type Pipeline struct {
	tasks        TaskStore
	channels     map[model.Channel]Channel
	logger       *slog.Logger
	lead         time.Duration
	retryBackoff time.Duration
	maxRetries   int
	batchSize    int
}

type PipelineConfig struct {
	Lead         time.Duration
	RetryBackoff time.Duration
	MaxRetries   int
	BatchSize    int
}

func NewPipeline(tasks TaskStore, channels map[model.Channel]Channel, logger *slog.Logger, cfg PipelineConfig) *Pipeline {
	if cfg.Lead <= 0 {
		cfg.Lead = DefaultLead
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Pipeline{
		tasks:        tasks,
		channels:     channels,
		logger:       logger,
		lead:         cfg.Lead,
		retryBackoff: cfg.RetryBackoff,
		maxRetries:   cfg.MaxRetries,
		batchSize:    cfg.BatchSize,
	}
}

// ScheduleReminder persists a PENDING email task firing lead minutes before
// the appointment, plus an SMS task when the requester has a phone number.
// The current trace context is stored on each task so dispatch continues
// the booking trace.
func (p *Pipeline) ScheduleReminder(ctx context.Context, appt model.Appointment, provider model.Provider, requester model.Requester) error {
	scheduledAt := appt.StartAt.Add(-p.lead)
	message := renderReminder(appt, provider, requester)
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	now := time.Now().UTC()

	newTask := func(channel model.Channel, recipient string) model.NotificationTask {
		return model.NotificationTask{
			ID:            uuid.NewString(),
			AppointmentID: appt.ID,
			Channel:       channel,
			Recipient:     recipient,
			Message:       message,
			ScheduledAt:   scheduledAt,
			NextAttemptAt: scheduledAt,
			Status:        model.TaskPending,
			MaxRetries:    p.maxRetries,
			Traceparent:   traceparent,
			Tracestate:    tracestate,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	if err := p.tasks.CreateTask(ctx, newTask(model.ChannelEmail, requester.Email)); err != nil {
		return err
	}
	if requester.Phone != "" {
		if err := p.tasks.CreateTask(ctx, newTask(model.ChannelSMS, requester.Phone)); err != nil {
			return err
		}
	}

	p.logger.Info("reminder scheduled",
		"appointment_id", appt.ID,
		"scheduled_at", scheduledAt.UTC().Format(time.RFC3339),
	)
	return nil
}

// CancelReminders retires the appointment's undelivered tasks so reminders
// for cancelled appointments never fire.
func (p *Pipeline) CancelReminders(ctx context.Context, appointmentID string) error {
	n, err := p.tasks.CancelPending(ctx, appointmentID)
	if err != nil {
		return err
	}
	if n > 0 {
		p.logger.Info("reminders cancelled", "appointment_id", appointmentID, "tasks", n)
	}
	return nil
}

// DispatchTick delivers every task due at now, draining batch by batch so
// one tick leaves no due task behind regardless of the batch size. Tasks are
// processed independently: one failure is recorded on its task and the batch
// moves on.
func (p *Pipeline) DispatchTick(ctx context.Context, now time.Time) error {
	for {
		due, err := p.tasks.FetchDue(ctx, now, p.batchSize)
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}

		advanced := 0
		for _, task := range due {
			if p.dispatchOne(ctx, task) {
				advanced++
			}
		}
		// A task whose status update failed stays selectable; stop rather
		// than re-fetch the same rows forever.
		if advanced == 0 {
			return nil
		}
		if len(due) < p.batchSize {
			return nil
		}
	}
}

// dispatchOne attempts one delivery and reports whether the task's status
// moved on (SENT or FAILED), i.e. whether it left the due set for this tick.
func (p *Pipeline) dispatchOne(ctx context.Context, task model.NotificationTask) bool {
	taskCtx := otelx.ContextWithTraceContext(ctx, task.Traceparent, task.Tracestate)

	var sendErr error
	if channel, ok := p.channels[task.Channel]; ok {
		sendErr = channel.Send(taskCtx, task)
	} else {
		sendErr = fmt.Errorf("%w: no channel registered for %q", ErrDeliveryFailed, task.Channel)
	}

	if sendErr == nil {
		sentAt := time.Now().UTC()
		if err := p.tasks.MarkSent(ctx, task.ID, sentAt); err != nil {
			p.logger.Error("failed to mark task sent", "task_id", task.ID, "err", err)
			return false
		}
		return true
	}

	retryCount := task.RetryCount + 1
	nextAttemptAt := time.Now().UTC().Add(p.retryBackoff)
	if err := p.tasks.MarkFailed(ctx, task.ID, retryCount, sendErr.Error(), nextAttemptAt); err != nil {
		p.logger.Error("failed to mark task failed", "task_id", task.ID, "err", err)
		return false
	}
	p.logger.Error("notification delivery failed",
		"task_id", task.ID,
		"channel", string(task.Channel),
		"retry_count", retryCount,
		"max_retries", task.MaxRetries,
		"err", sendErr,
	)
	return true
}

func renderReminder(appt model.Appointment, provider model.Provider, requester model.Requester) string {
	when := appt.StartAt.UTC().Format("Monday, 02 Jan 2006 at 15:04 MST")
	specialty := provider.Specialty
	if specialty == "" {
		specialty = "General"
	}
	return fmt.Sprintf(
		"Dear %s,\n\nThis is a reminder that you have an appointment with %s (%s) on %s.\n\nPlease arrive 15 minutes early.\n",
		requester.Name,
		provider.Name,
		specialty,
		when,
	)
}
