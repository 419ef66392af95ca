package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/careslot/internal/lock"
	"github.com/md-rashed-zaman/careslot/internal/model"
	"github.com/md-rashed-zaman/careslot/internal/outbox"
)

const (
	defaultLockWait  = 10 * time.Second
	defaultLockLease = 30 * time.Second
)

// Coordinator serializes all booking and cancellation work per slot. For any
// slot, across arbitrarily many concurrent Book calls, at most one returns a
// confirmed appointment; the rest observe ErrSlotUnavailable.
type Coordinator struct {
	store     Store
	locks     lock.Manager
	reminders ReminderScheduler
	logger    *slog.Logger
	lockWait  time.Duration
	lockLease time.Duration
}

type Config struct {
	LockWait  time.Duration
	LockLease time.Duration
}

func NewCoordinator(store Store, locks lock.Manager, reminders ReminderScheduler, logger *slog.Logger, cfg Config) *Coordinator {
	if cfg.LockWait <= 0 {
		cfg.LockWait = defaultLockWait
	}
	if cfg.LockLease <= 0 {
		cfg.LockLease = defaultLockLease
	}
	return &Coordinator{
		store:     store,
		locks:     locks,
		reminders: reminders,
		logger:    logger,
		lockWait:  cfg.LockWait,
		lockLease: cfg.LockLease,
	}
}

// Book claims the slot for the requester and confirms an appointment.
func (c *Coordinator) Book(ctx context.Context, requesterID, slotID, notes string) (model.Appointment, error) {
	held, err := c.acquireSlotLock(ctx, slotID)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = held.Release(ctx) }()

	sess, err := c.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = sess.Rollback(ctx) }()

	// The lock serializes writers but proves nothing about state read
	// before acquisition; re-read and re-validate while holding it.
	slot, err := sess.GetSlotForUpdate(ctx, slotID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Appointment{}, ErrSlotNotFound
		}
		return model.Appointment{}, err
	}
	if slot.Booked || !slot.Available {
		return model.Appointment{}, ErrSlotUnavailable
	}

	requester, err := sess.GetRequester(ctx, requesterID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Appointment{}, ErrRequesterNotFound
		}
		return model.Appointment{}, err
	}
	// The provider id comes from the slot row, not the request: a miss here
	// is a corrupt store, not caller input, so it stays an untyped internal
	// error rather than a sentinel.
	provider, err := sess.GetProvider(ctx, slot.ProviderID)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("load provider %s: %w", slot.ProviderID, err)
	}

	now := time.Now().UTC()
	slot.Booked = true
	slot.UpdatedAt = now
	if err := sess.SaveSlot(ctx, slot); err != nil {
		return model.Appointment{}, err
	}

	appt := model.Appointment{
		ID:             uuid.NewString(),
		RequesterID:    requester.ID,
		ProviderID:     slot.ProviderID,
		SlotID:         slot.ID,
		StartAt:        slot.StartAt,
		Status:         model.AppointmentConfirmed,
		RequesterNotes: notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := sess.CreateAppointment(ctx, appt); err != nil {
		return model.Appointment{}, err
	}

	if err := c.recordBooked(ctx, sess, appt); err != nil {
		return model.Appointment{}, err
	}

	if err := sess.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}

	// Reminder scheduling runs outside the booking transaction; a failure
	// here leaves the confirmed booking intact and is only logged.
	if err := c.reminders.ScheduleReminder(ctx, appt, provider, requester); err != nil {
		c.logger.Error("reminder scheduling failed", "appointment_id", appt.ID, "err", err)
	}

	c.logger.Info("slot booked",
		"appointment_id", appt.ID,
		"slot_id", slot.ID,
		"provider_id", slot.ProviderID,
		"requester_id", requester.ID,
	)
	return appt, nil
}

// Cancel sets the appointment to cancelled and returns its slot to the
// bookable pool. It takes the same slot lock as Book so a cancel and a
// racing book cannot interleave inconsistently. Cancelling an already
// cancelled appointment is a no-op returning the current record.
func (c *Coordinator) Cancel(ctx context.Context, appointmentID string) (model.Appointment, error) {
	// Plain read first: the slot key is needed before its lock can be taken.
	peek, err := c.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Appointment{}, ErrAppointmentNotFound
		}
		return model.Appointment{}, err
	}

	held, err := c.acquireSlotLock(ctx, peek.SlotID)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = held.Release(ctx) }()

	sess, err := c.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = sess.Rollback(ctx) }()

	appt, err := sess.GetAppointmentForUpdate(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Appointment{}, ErrAppointmentNotFound
		}
		return model.Appointment{}, err
	}
	if appt.Status == model.AppointmentCancelled {
		return appt, nil
	}

	now := time.Now().UTC()
	appt.Status = model.AppointmentCancelled
	appt.UpdatedAt = now
	if err := sess.SaveAppointment(ctx, appt); err != nil {
		return model.Appointment{}, err
	}

	slot, err := sess.GetSlotForUpdate(ctx, appt.SlotID)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("load slot %s for appointment %s: %w", appt.SlotID, appt.ID, err)
	}
	slot.Booked = false
	slot.Available = true
	slot.UpdatedAt = now
	if err := sess.SaveSlot(ctx, slot); err != nil {
		return model.Appointment{}, err
	}

	if err := c.recordCancelled(ctx, sess, appt); err != nil {
		return model.Appointment{}, err
	}

	if err := sess.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}

	if err := c.reminders.CancelReminders(ctx, appt.ID); err != nil {
		c.logger.Error("reminder cancellation failed", "appointment_id", appt.ID, "err", err)
	}

	c.logger.Info("appointment cancelled", "appointment_id", appt.ID, "slot_id", appt.SlotID)
	return appt, nil
}

func (c *Coordinator) acquireSlotLock(ctx context.Context, slotID string) (lock.Lock, error) {
	held, err := c.locks.Acquire(ctx, "slot:"+slotID, c.lockWait, c.lockLease)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, ErrLockTimeout
		}
		return nil, err
	}
	return held, nil
}

func (c *Coordinator) recordBooked(ctx context.Context, sess Session, appt model.Appointment) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"slot_id":        appt.SlotID,
		"provider_id":    appt.ProviderID,
		"requester_id":   appt.RequesterID,
		"start_at":       appt.StartAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return sess.RecordEvent(ctx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventSlotBooked,
		Payload:       payload,
	})
}

func (c *Coordinator) recordCancelled(ctx context.Context, sess Session, appt model.Appointment) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"slot_id":        appt.SlotID,
		"provider_id":    appt.ProviderID,
		"requester_id":   appt.RequesterID,
		"start_at":       appt.StartAt.UTC().Format(time.RFC3339),
		"cancelled_at":   appt.UpdatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return sess.RecordEvent(ctx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentCancelled,
		Payload:       payload,
	})
}
