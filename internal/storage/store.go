package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/careslot/internal/booking"
	"github.com/md-rashed-zaman/careslot/internal/model"
	"github.com/md-rashed-zaman/careslot/internal/outbox"
	"github.com/md-rashed-zaman/careslot/libs/db"
)

// Store is the pgx-backed booking store. Each session is one database
// transaction; slot and appointment reads inside it take row locks
// (FOR UPDATE), which doubles as the exclusive-read fallback when the engine
// runs with the local lock manager.
type Store struct {
	pool   *db.Pool
	events *outbox.Repository
}

func NewStore(pool *db.Pool) *Store {
	return &Store{pool: pool, events: outbox.NewRepository(pool)}
}

func (s *Store) Begin(ctx context.Context) (booking.Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, events: s.events}, nil
}

func (s *Store) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, requester_id, provider_id, slot_id, start_at, status,
			COALESCE(notes, ''), COALESCE(requester_notes, ''), reminder_sent, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

// Tx implements booking.Session over one pgx transaction.
type Tx struct {
	tx     pgx.Tx
	events *outbox.Repository
}

func (t *Tx) GetSlotForUpdate(ctx context.Context, id string) (model.Slot, error) {
	var s model.Slot
	err := t.tx.QueryRow(ctx, `
		SELECT id, provider_id, start_at, booked, available, created_at, updated_at
		FROM slots
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&s.ID, &s.ProviderID, &s.StartAt, &s.Booked, &s.Available, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return model.Slot{}, notFoundOr(err)
	}
	return s, nil
}

func (t *Tx) SaveSlot(ctx context.Context, slot model.Slot) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE slots
		SET booked = $2,
			available = $3,
			updated_at = $4
		WHERE id = $1
	`, slot.ID, slot.Booked, slot.Available, slot.UpdatedAt)
	return err
}

func (t *Tx) GetRequester(ctx context.Context, id string) (model.Requester, error) {
	var r model.Requester
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, email, COALESCE(phone, '')
		FROM users
		WHERE id = $1 AND role = 'requester'
	`, id).Scan(&r.ID, &r.Name, &r.Email, &r.Phone)
	if err != nil {
		return model.Requester{}, notFoundOr(err)
	}
	return r, nil
}

func (t *Tx) GetProvider(ctx context.Context, id string) (model.Provider, error) {
	var p model.Provider
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, COALESCE(specialty, '')
		FROM users
		WHERE id = $1 AND role = 'provider'
	`, id).Scan(&p.ID, &p.Name, &p.Specialty)
	if err != nil {
		return model.Provider{}, notFoundOr(err)
	}
	return p, nil
}

func (t *Tx) CreateAppointment(ctx context.Context, appt model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, requester_id, provider_id, slot_id, start_at, status, notes, requester_notes, reminder_sent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, appt.ID, appt.RequesterID, appt.ProviderID, appt.SlotID, appt.StartAt, appt.Status,
		appt.Notes, appt.RequesterNotes, appt.ReminderSent, appt.CreatedAt, appt.UpdatedAt)
	return err
}

func (t *Tx) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, requester_id, provider_id, slot_id, start_at, status,
			COALESCE(notes, ''), COALESCE(requester_notes, ''), reminder_sent, created_at, updated_at
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (t *Tx) SaveAppointment(ctx context.Context, appt model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			notes = $3,
			requester_notes = $4,
			reminder_sent = $5,
			updated_at = $6
		WHERE id = $1
	`, appt.ID, appt.Status, appt.Notes, appt.RequesterNotes, appt.ReminderSent, appt.UpdatedAt)
	return err
}

func (t *Tx) RecordEvent(ctx context.Context, evt outbox.Event) error {
	return t.events.Insert(ctx, t.tx, evt)
}

func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(&a.ID, &a.RequesterID, &a.ProviderID, &a.SlotID, &a.StartAt, &a.Status,
		&a.Notes, &a.RequesterNotes, &a.ReminderSent, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Appointment{}, notFoundOr(err)
	}
	return a, nil
}

func notFoundOr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}
