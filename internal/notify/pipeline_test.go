package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/careslot/internal/model"
)

type memTaskStore struct {
	mu    sync.Mutex
	tasks map[string]model.NotificationTask
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: make(map[string]model.NotificationTask)}
}

func (s *memTaskStore) CreateTask(_ context.Context, task model.NotificationTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *memTaskStore) FetchDue(_ context.Context, now time.Time, limit int) ([]model.NotificationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []model.NotificationTask
	for _, t := range s.tasks {
		eligible := t.Status == model.TaskPending ||
			(t.Status == model.TaskFailed && t.RetryCount < t.MaxRetries)
		if eligible && !t.NextAttemptAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memTaskStore) MarkSent(_ context.Context, id string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[id]
	t.Status = model.TaskSent
	t.SentAt = &sentAt
	s.tasks[id] = t
	return nil
}

func (s *memTaskStore) MarkFailed(_ context.Context, id string, retryCount int, lastError string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[id]
	t.Status = model.TaskFailed
	t.RetryCount = retryCount
	t.LastError = lastError
	t.NextAttemptAt = nextAttemptAt
	s.tasks[id] = t
	return nil
}

func (s *memTaskStore) CancelPending(_ context.Context, appointmentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.tasks {
		if t.AppointmentID == appointmentID && (t.Status == model.TaskPending || t.Status == model.TaskFailed) {
			t.Status = model.TaskCancelled
			s.tasks[id] = t
			n++
		}
	}
	return n, nil
}

func (s *memTaskStore) byChannel(channel model.Channel) []model.NotificationTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.NotificationTask
	for _, t := range s.tasks {
		if t.Channel == channel {
			out = append(out, t)
		}
	}
	return out
}

type recordingChannel struct {
	mu    sync.Mutex
	sent  []string
	fails map[string]error
	block chan struct{}
}

func (c *recordingChannel) Send(_ context.Context, task model.NotificationTask) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.fails[task.ID]; ok {
		return err
	}
	c.sent = append(c.sent, task.ID)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var startAt = time.Date(2026, time.September, 7, 9, 0, 0, 0, time.UTC)

func sampleBooking() (model.Appointment, model.Provider, model.Requester) {
	appt := model.Appointment{ID: "appt-1", SlotID: "slot-1", StartAt: startAt}
	provider := model.Provider{ID: "prov-1", Name: "Dr. Lee", Specialty: "Cardiology"}
	requester := model.Requester{ID: "req-1", Name: "Pat", Email: "pat@example.com", Phone: "+15550001111"}
	return appt, provider, requester
}

func TestScheduleReminderLeadTime(t *testing.T) {
	store := newMemTaskStore()
	p := NewPipeline(store, nil, quietLogger(), PipelineConfig{})

	appt, provider, requester := sampleBooking()
	if err := p.ScheduleReminder(context.Background(), appt, provider, requester); err != nil {
		t.Fatalf("ScheduleReminder failed: %v", err)
	}

	emails := store.byChannel(model.ChannelEmail)
	if len(emails) != 1 {
		t.Fatalf("email tasks = %d, want 1", len(emails))
	}
	task := emails[0]
	if want := startAt.Add(-5 * time.Minute); !task.ScheduledAt.Equal(want) {
		t.Fatalf("scheduled at %v, want %v", task.ScheduledAt, want)
	}
	if task.Status != model.TaskPending {
		t.Fatalf("status = %q, want pending", task.Status)
	}
	if task.Recipient != requester.Email {
		t.Fatalf("recipient = %q", task.Recipient)
	}

	sms := store.byChannel(model.ChannelSMS)
	if len(sms) != 1 || sms[0].Recipient != requester.Phone {
		t.Fatalf("sms tasks = %+v", sms)
	}
}

func TestScheduleReminderNoPhoneSkipsSMS(t *testing.T) {
	store := newMemTaskStore()
	p := NewPipeline(store, nil, quietLogger(), PipelineConfig{})

	appt, provider, requester := sampleBooking()
	requester.Phone = ""
	if err := p.ScheduleReminder(context.Background(), appt, provider, requester); err != nil {
		t.Fatalf("ScheduleReminder failed: %v", err)
	}
	if sms := store.byChannel(model.ChannelSMS); len(sms) != 0 {
		t.Fatalf("sms tasks = %d, want 0", len(sms))
	}
}

func TestDispatchTickDeliversDue(t *testing.T) {
	store := newMemTaskStore()
	email := &recordingChannel{}
	p := NewPipeline(store, map[model.Channel]Channel{model.ChannelEmail: email}, quietLogger(), PipelineConfig{})

	now := time.Now().UTC()
	for _, id := range []string{"t1", "t2", "t3"} {
		_ = store.CreateTask(context.Background(), model.NotificationTask{
			ID:            id,
			Channel:       model.ChannelEmail,
			Status:        model.TaskPending,
			NextAttemptAt: now.Add(-time.Minute),
			MaxRetries:    3,
		})
	}
	// Not yet due; must be left alone.
	_ = store.CreateTask(context.Background(), model.NotificationTask{
		ID:            "future",
		Channel:       model.ChannelEmail,
		Status:        model.TaskPending,
		NextAttemptAt: now.Add(time.Hour),
		MaxRetries:    3,
	})

	if err := p.DispatchTick(context.Background(), now); err != nil {
		t.Fatalf("DispatchTick failed: %v", err)
	}

	if len(email.sent) != 3 {
		t.Fatalf("sent = %v, want 3 deliveries", email.sent)
	}
	for _, id := range []string{"t1", "t2", "t3"} {
		if got := store.tasks[id].Status; got != model.TaskSent {
			t.Fatalf("task %s status = %q, want sent", id, got)
		}
		if store.tasks[id].SentAt == nil {
			t.Fatalf("task %s has no sent_at", id)
		}
	}
	if got := store.tasks["future"].Status; got != model.TaskPending {
		t.Fatalf("future task status = %q, want pending", got)
	}
}

func TestDispatchTickDrainsBeyondBatchSize(t *testing.T) {
	store := newMemTaskStore()
	email := &recordingChannel{fails: map[string]error{"task-7": errors.New("mailbox full")}}
	p := NewPipeline(store, map[model.Channel]Channel{model.ChannelEmail: email}, quietLogger(), PipelineConfig{})

	now := time.Now().UTC()
	n := DefaultBatchSize + 1
	for i := 0; i < n; i++ {
		_ = store.CreateTask(context.Background(), model.NotificationTask{
			ID:            fmt.Sprintf("task-%d", i),
			Channel:       model.ChannelEmail,
			Status:        model.TaskPending,
			NextAttemptAt: now.Add(-time.Minute),
			MaxRetries:    3,
		})
	}

	if err := p.DispatchTick(context.Background(), now); err != nil {
		t.Fatalf("DispatchTick failed: %v", err)
	}

	// Every task due at tick start must have left PENDING, batch limit or not.
	for id, task := range store.tasks {
		if task.Status == model.TaskPending {
			t.Fatalf("task %s still pending after one tick", id)
		}
	}
	if got := store.tasks["task-7"].Status; got != model.TaskFailed {
		t.Fatalf("failing task status = %q, want failed", got)
	}
	if len(email.sent) != n-1 {
		t.Fatalf("deliveries = %d, want %d", len(email.sent), n-1)
	}
}

func TestDispatchTickIsolatesFailures(t *testing.T) {
	store := newMemTaskStore()
	email := &recordingChannel{fails: map[string]error{"bad": errors.New("mailbox full")}}
	p := NewPipeline(store, map[model.Channel]Channel{model.ChannelEmail: email}, quietLogger(), PipelineConfig{})

	now := time.Now().UTC()
	for _, id := range []string{"ok1", "bad", "ok2"} {
		_ = store.CreateTask(context.Background(), model.NotificationTask{
			ID:            id,
			Channel:       model.ChannelEmail,
			Status:        model.TaskPending,
			NextAttemptAt: now.Add(-time.Minute),
			MaxRetries:    3,
		})
	}

	if err := p.DispatchTick(context.Background(), now); err != nil {
		t.Fatalf("DispatchTick failed: %v", err)
	}

	if got := store.tasks["ok1"].Status; got != model.TaskSent {
		t.Fatalf("ok1 status = %q, want sent", got)
	}
	if got := store.tasks["ok2"].Status; got != model.TaskSent {
		t.Fatalf("ok2 status = %q, want sent", got)
	}
	bad := store.tasks["bad"]
	if bad.Status != model.TaskFailed {
		t.Fatalf("bad status = %q, want failed", bad.Status)
	}
	if bad.RetryCount != 1 {
		t.Fatalf("bad retry_count = %d, want 1", bad.RetryCount)
	}
	if bad.LastError == "" {
		t.Fatal("bad task has no last_error")
	}
	if !bad.NextAttemptAt.After(now) {
		t.Fatalf("bad next_attempt_at %v not pushed past %v", bad.NextAttemptAt, now)
	}
}

func TestDispatchRetryExhaustion(t *testing.T) {
	store := newMemTaskStore()
	email := &recordingChannel{fails: map[string]error{"doomed": errors.New("always down")}}
	p := NewPipeline(store, map[model.Channel]Channel{model.ChannelEmail: email}, quietLogger(), PipelineConfig{
		RetryBackoff: time.Nanosecond,
	})

	_ = store.CreateTask(context.Background(), model.NotificationTask{
		ID:            "doomed",
		Channel:       model.ChannelEmail,
		Status:        model.TaskPending,
		NextAttemptAt: time.Now().UTC().Add(-time.Minute),
		MaxRetries:    3,
	})

	// Each tick after the backoff elapses re-attempts until retries run out.
	for i := 0; i < 5; i++ {
		time.Sleep(time.Millisecond)
		if err := p.DispatchTick(context.Background(), time.Now().UTC()); err != nil {
			t.Fatalf("DispatchTick %d failed: %v", i, err)
		}
	}

	task := store.tasks["doomed"]
	if task.Status != model.TaskFailed {
		t.Fatalf("status = %q, want failed", task.Status)
	}
	if task.RetryCount != 3 {
		t.Fatalf("retry_count = %d, want 3 (max)", task.RetryCount)
	}
}

func TestDispatchMissingChannelFailsTask(t *testing.T) {
	store := newMemTaskStore()
	p := NewPipeline(store, map[model.Channel]Channel{}, quietLogger(), PipelineConfig{})

	_ = store.CreateTask(context.Background(), model.NotificationTask{
		ID:            "orphan",
		Channel:       model.ChannelPush,
		Status:        model.TaskPending,
		NextAttemptAt: time.Now().UTC().Add(-time.Minute),
		MaxRetries:    3,
	})

	if err := p.DispatchTick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("DispatchTick failed: %v", err)
	}
	if got := store.tasks["orphan"].Status; got != model.TaskFailed {
		t.Fatalf("status = %q, want failed", got)
	}
}

func TestCancelRemindersRetiresTasks(t *testing.T) {
	store := newMemTaskStore()
	p := NewPipeline(store, nil, quietLogger(), PipelineConfig{})

	_ = store.CreateTask(context.Background(), model.NotificationTask{
		ID: "a", AppointmentID: "appt-1", Status: model.TaskPending, MaxRetries: 3,
	})
	_ = store.CreateTask(context.Background(), model.NotificationTask{
		ID: "b", AppointmentID: "appt-1", Status: model.TaskFailed, RetryCount: 1, MaxRetries: 3,
	})
	sentAt := time.Now().UTC()
	_ = store.CreateTask(context.Background(), model.NotificationTask{
		ID: "c", AppointmentID: "appt-1", Status: model.TaskSent, SentAt: &sentAt, MaxRetries: 3,
	})

	if err := p.CancelReminders(context.Background(), "appt-1"); err != nil {
		t.Fatalf("CancelReminders failed: %v", err)
	}
	if got := store.tasks["a"].Status; got != model.TaskCancelled {
		t.Fatalf("pending task status = %q, want cancelled", got)
	}
	if got := store.tasks["b"].Status; got != model.TaskCancelled {
		t.Fatalf("failed task status = %q, want cancelled", got)
	}
	if got := store.tasks["c"].Status; got != model.TaskSent {
		t.Fatalf("sent task status = %q, must stay sent", got)
	}
}

func TestRenderReminderMentionsParticipants(t *testing.T) {
	appt, provider, requester := sampleBooking()
	msg := renderReminder(appt, provider, requester)
	for _, want := range []string{"Pat", "Dr. Lee", "Cardiology", "Monday"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}

func TestDispatcherSingleFlight(t *testing.T) {
	store := newMemTaskStore()
	blocked := &recordingChannel{block: make(chan struct{})}
	p := NewPipeline(store, map[model.Channel]Channel{model.ChannelEmail: blocked}, quietLogger(), PipelineConfig{})
	d := NewDispatcher(p, quietLogger(), time.Minute)

	_ = store.CreateTask(context.Background(), model.NotificationTask{
		ID:            "slow",
		Channel:       model.ChannelEmail,
		Status:        model.TaskPending,
		NextAttemptAt: time.Now().UTC().Add(-time.Minute),
		MaxRetries:    3,
	})

	firstDone := make(chan struct{})
	go func() {
		d.tick(context.Background())
		close(firstDone)
	}()

	// Wait for the first tick to be mid-send, then overlap a second tick.
	deadline := time.After(2 * time.Second)
	for !d.running.Load() {
		select {
		case <-deadline:
			t.Fatal("first tick never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if d.tick(context.Background()) {
		t.Fatal("overlapping tick ran; want it skipped")
	}

	close(blocked.block)
	<-firstDone

	if !d.tick(context.Background()) {
		t.Fatal("tick after completion was skipped")
	}
}
