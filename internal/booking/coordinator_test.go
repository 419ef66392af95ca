package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/careslot/internal/lock"
	"github.com/md-rashed-zaman/careslot/internal/model"
	"github.com/md-rashed-zaman/careslot/internal/outbox"
)

type memStore struct {
	mu           sync.Mutex
	slots        map[string]model.Slot
	requesters   map[string]model.Requester
	providers    map[string]model.Provider
	appointments map[string]model.Appointment
	events       []outbox.Event
}

func newMemStore() *memStore {
	return &memStore{
		slots:        make(map[string]model.Slot),
		requesters:   make(map[string]model.Requester),
		providers:    make(map[string]model.Provider),
		appointments: make(map[string]model.Appointment),
	}
}

func (s *memStore) Begin(context.Context) (Session, error) {
	return &memSession{store: s}, nil
}

func (s *memStore) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appointments[id]
	if !ok {
		return model.Appointment{}, model.ErrNotFound
	}
	return appt, nil
}

// memSession stages writes and applies them on Commit, so a rolled-back
// booking leaves no trace, mirroring the transactional store.
type memSession struct {
	store        *memStore
	slots        []model.Slot
	appointments []model.Appointment
	events       []outbox.Event
	done         bool
}

func (t *memSession) GetSlotForUpdate(_ context.Context, id string) (model.Slot, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	slot, ok := t.store.slots[id]
	if !ok {
		return model.Slot{}, model.ErrNotFound
	}
	return slot, nil
}

func (t *memSession) SaveSlot(_ context.Context, slot model.Slot) error {
	t.slots = append(t.slots, slot)
	return nil
}

func (t *memSession) GetRequester(_ context.Context, id string) (model.Requester, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	r, ok := t.store.requesters[id]
	if !ok {
		return model.Requester{}, model.ErrNotFound
	}
	return r, nil
}

func (t *memSession) GetProvider(_ context.Context, id string) (model.Provider, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	p, ok := t.store.providers[id]
	if !ok {
		return model.Provider{}, model.ErrNotFound
	}
	return p, nil
}

func (t *memSession) CreateAppointment(_ context.Context, appt model.Appointment) error {
	t.appointments = append(t.appointments, appt)
	return nil
}

func (t *memSession) GetAppointmentForUpdate(_ context.Context, id string) (model.Appointment, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	appt, ok := t.store.appointments[id]
	if !ok {
		return model.Appointment{}, model.ErrNotFound
	}
	return appt, nil
}

func (t *memSession) SaveAppointment(_ context.Context, appt model.Appointment) error {
	t.appointments = append(t.appointments, appt)
	return nil
}

func (t *memSession) RecordEvent(_ context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}

func (t *memSession) Commit(context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, slot := range t.slots {
		t.store.slots[slot.ID] = slot
	}
	for _, appt := range t.appointments {
		t.store.appointments[appt.ID] = appt
	}
	t.store.events = append(t.store.events, t.events...)
	t.done = true
	return nil
}

func (t *memSession) Rollback(context.Context) error {
	t.done = true
	return nil
}

type fakeReminders struct {
	mu        sync.Mutex
	scheduled []string
	cancelled []string
	failWith  error
}

func (f *fakeReminders) ScheduleReminder(_ context.Context, appt model.Appointment, _ model.Provider, _ model.Requester) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.scheduled = append(f.scheduled, appt.ID)
	return nil
}

func (f *fakeReminders) CancelReminders(_ context.Context, appointmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, appointmentID)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededStore() *memStore {
	store := newMemStore()
	store.slots["slot-1"] = model.Slot{
		ID:         "slot-1",
		ProviderID: "prov-1",
		StartAt:    time.Date(2026, time.September, 7, 9, 0, 0, 0, time.UTC),
		Available:  true,
	}
	store.requesters["req-1"] = model.Requester{ID: "req-1", Name: "Pat", Email: "pat@example.com"}
	store.providers["prov-1"] = model.Provider{ID: "prov-1", Name: "Dr. Lee", Specialty: "Cardiology"}
	return store
}

func newTestCoordinator(store *memStore, reminders *fakeReminders) *Coordinator {
	return NewCoordinator(store, lock.NewLocalManager(), reminders, testLogger(), Config{})
}

func TestBookConfirmsAppointment(t *testing.T) {
	store := seededStore()
	reminders := &fakeReminders{}
	coord := newTestCoordinator(store, reminders)

	appt, err := coord.Book(context.Background(), "req-1", "slot-1", "first visit")
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	if appt.Status != model.AppointmentConfirmed {
		t.Fatalf("status = %q, want confirmed", appt.Status)
	}
	if appt.SlotID != "slot-1" || appt.RequesterID != "req-1" || appt.ProviderID != "prov-1" {
		t.Fatalf("appointment wiring wrong: %+v", appt)
	}
	if appt.RequesterNotes != "first visit" {
		t.Fatalf("requester notes = %q", appt.RequesterNotes)
	}

	slot := store.slots["slot-1"]
	if !slot.Booked {
		t.Fatal("slot not flagged booked after commit")
	}
	if len(reminders.scheduled) != 1 || reminders.scheduled[0] != appt.ID {
		t.Fatalf("reminder scheduling calls = %v", reminders.scheduled)
	}
	if len(store.events) != 1 || store.events[0].EventType != outbox.EventSlotBooked {
		t.Fatalf("outbox events = %+v", store.events)
	}
}

func TestBookConcurrentOnlyOneWins(t *testing.T) {
	store := seededStore()
	coord := newTestCoordinator(store, &fakeReminders{})

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = coord.Book(context.Background(), "req-1", "slot-1", "")
		}(i)
	}
	wg.Wait()

	won, lost := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrSlotUnavailable):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("winners = %d, want exactly 1", won)
	}
	if lost != n-1 {
		t.Fatalf("losers = %d, want %d", lost, n-1)
	}
	if len(store.appointments) != 1 {
		t.Fatalf("appointments created = %d, want 1", len(store.appointments))
	}
}

func TestBookErrors(t *testing.T) {
	store := seededStore()
	coord := newTestCoordinator(store, &fakeReminders{})

	if _, err := coord.Book(context.Background(), "req-1", "no-such-slot", ""); !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("missing slot: got %v, want ErrSlotNotFound", err)
	}
	if _, err := coord.Book(context.Background(), "no-such-requester", "slot-1", ""); !errors.Is(err, ErrRequesterNotFound) {
		t.Fatalf("missing requester: got %v, want ErrRequesterNotFound", err)
	}

	slot := store.slots["slot-1"]
	slot.Available = false
	store.slots["slot-1"] = slot
	if _, err := coord.Book(context.Background(), "req-1", "slot-1", ""); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("unavailable slot: got %v, want ErrSlotUnavailable", err)
	}
}

func TestBookDanglingProviderIsInternalError(t *testing.T) {
	store := seededStore()
	delete(store.providers, "prov-1")
	coord := newTestCoordinator(store, &fakeReminders{})

	_, err := coord.Book(context.Background(), "req-1", "slot-1", "")
	if err == nil {
		t.Fatal("expected error for dangling provider reference")
	}
	// Not a caller fault: the provider id came from the slot row, so none
	// of the request-level sentinels apply.
	for _, sentinel := range []error{ErrSlotNotFound, ErrSlotUnavailable, ErrRequesterNotFound, ErrLockTimeout} {
		if errors.Is(err, sentinel) {
			t.Fatalf("got sentinel %v for a store-integrity failure", sentinel)
		}
	}
	// And the booking must not have gone through.
	if len(store.appointments) != 0 {
		t.Fatalf("appointments created = %d, want 0", len(store.appointments))
	}
	if store.slots["slot-1"].Booked {
		t.Fatal("slot flagged booked after failed booking")
	}
}

func TestBookLockTimeout(t *testing.T) {
	store := seededStore()
	locks := lock.NewLocalManager()
	coord := NewCoordinator(store, locks, &fakeReminders{}, testLogger(), Config{
		LockWait:  50 * time.Millisecond,
		LockLease: time.Minute,
	})

	held, err := locks.Acquire(context.Background(), "slot:slot-1", time.Second, time.Minute)
	if err != nil {
		t.Fatalf("pre-acquire failed: %v", err)
	}
	defer held.Release(context.Background())

	if _, err := coord.Book(context.Background(), "req-1", "slot-1", ""); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("got %v, want ErrLockTimeout", err)
	}
}

func TestBookReminderFailureDoesNotUndoBooking(t *testing.T) {
	store := seededStore()
	reminders := &fakeReminders{failWith: errors.New("smtp down")}
	coord := newTestCoordinator(store, reminders)

	appt, err := coord.Book(context.Background(), "req-1", "slot-1", "")
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	if got := store.appointments[appt.ID].Status; got != model.AppointmentConfirmed {
		t.Fatalf("status = %q, want confirmed despite reminder failure", got)
	}
}

func TestCancelRestoresSlot(t *testing.T) {
	store := seededStore()
	reminders := &fakeReminders{}
	coord := newTestCoordinator(store, reminders)

	appt, err := coord.Book(context.Background(), "req-1", "slot-1", "")
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}

	cancelled, err := coord.Cancel(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != model.AppointmentCancelled {
		t.Fatalf("status = %q, want cancelled", cancelled.Status)
	}

	slot := store.slots["slot-1"]
	if slot.Booked || !slot.Available {
		t.Fatalf("slot not returned to pool: %+v", slot)
	}
	if len(reminders.cancelled) != 1 || reminders.cancelled[0] != appt.ID {
		t.Fatalf("reminder cancellation calls = %v", reminders.cancelled)
	}

	// The freed slot can be booked again.
	if _, err := coord.Book(context.Background(), "req-1", "slot-1", ""); err != nil {
		t.Fatalf("rebook after cancel failed: %v", err)
	}
}

func TestCancelIdempotent(t *testing.T) {
	store := seededStore()
	coord := newTestCoordinator(store, &fakeReminders{})

	appt, err := coord.Book(context.Background(), "req-1", "slot-1", "")
	if err != nil {
		t.Fatalf("Book failed: %v", err)
	}
	if _, err := coord.Cancel(context.Background(), appt.ID); err != nil {
		t.Fatalf("first Cancel failed: %v", err)
	}
	again, err := coord.Cancel(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("second Cancel failed: %v", err)
	}
	if again.Status != model.AppointmentCancelled {
		t.Fatalf("status = %q, want cancelled", again.Status)
	}
}

func TestCancelUnknownAppointment(t *testing.T) {
	store := seededStore()
	coord := newTestCoordinator(store, &fakeReminders{})

	if _, err := coord.Cancel(context.Background(), "no-such-appt"); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("got %v, want ErrAppointmentNotFound", err)
	}
}
