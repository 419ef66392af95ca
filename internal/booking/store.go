package booking

import (
	"context"

	"github.com/md-rashed-zaman/careslot/internal/model"
	"github.com/md-rashed-zaman/careslot/internal/outbox"
)

// Store is the durable-store contract the coordinator books against.
// Implementations report missing records with model.ErrNotFound.
type Store interface {
	Begin(ctx context.Context) (Session, error)
	// GetAppointment is a plain read, used to resolve an appointment's slot
	// key before its lock is taken.
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
}

// Session scopes one booking or cancellation. Every mutation inside it
// commits or rolls back as a unit, so a failed booking can never leave a
// slot flagged booked or an orphaned appointment behind. Rollback after
// Commit is a no-op.
type Session interface {
	GetSlotForUpdate(ctx context.Context, id string) (model.Slot, error)
	SaveSlot(ctx context.Context, slot model.Slot) error
	GetRequester(ctx context.Context, id string) (model.Requester, error)
	GetProvider(ctx context.Context, id string) (model.Provider, error)
	CreateAppointment(ctx context.Context, appt model.Appointment) error
	GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error)
	SaveAppointment(ctx context.Context, appt model.Appointment) error
	RecordEvent(ctx context.Context, evt outbox.Event) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ReminderScheduler is the notification pipeline as the coordinator sees it.
type ReminderScheduler interface {
	ScheduleReminder(ctx context.Context, appt model.Appointment, provider model.Provider, requester model.Requester) error
	CancelReminders(ctx context.Context, appointmentID string) error
}
