package model

import (
	"errors"
	"time"
)

// ErrNotFound is returned by store implementations when a record does not
// exist. Domain packages translate it into their own typed errors.
var ErrNotFound = errors.New("not found")

type AppointmentStatus string

const (
	AppointmentConfirmed   AppointmentStatus = "confirmed"
	AppointmentCancelled   AppointmentStatus = "cancelled"
	AppointmentCompleted   AppointmentStatus = "completed"
	AppointmentNoShow      AppointmentStatus = "no_show"
	AppointmentRescheduled AppointmentStatus = "rescheduled"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskSent      TaskStatus = "sent"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// AvailabilityTemplate is a recurring weekly availability rule. Clock fields
// use "15:04" in UTC; BreakStart/BreakEnd are empty when no break is
// configured. Templates are deactivated, never deleted.
type AvailabilityTemplate struct {
	ID          string
	ProviderID  string
	DayOfWeek   time.Weekday
	StartTime   string
	EndTime     string
	SlotMinutes int
	BreakStart  string
	BreakEnd    string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Slot is a single bookable provider-time instant. (ProviderID, StartAt) is
// unique. Cancellation resets the flags; the row is never deleted.
type Slot struct {
	ID         string
	ProviderID string
	StartAt    time.Time
	Booked     bool
	Available  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Appointment references its slot by id only; the slot outlives the
// appointment and neither side owns the other.
type Appointment struct {
	ID             string
	RequesterID    string
	ProviderID     string
	SlotID         string
	StartAt        time.Time
	Status         AppointmentStatus
	Notes          string
	RequesterNotes string
	ReminderSent   bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NotificationTask is a scheduled reminder delivery. AppointmentID is a
// lookup key, not an owning reference: the task survives appointment
// mutation independently.
type NotificationTask struct {
	ID            string
	AppointmentID string
	Channel       Channel
	Recipient     string
	Message       string
	ScheduledAt   time.Time
	NextAttemptAt time.Time
	Status        TaskStatus
	SentAt        *time.Time
	LastError     string
	RetryCount    int
	MaxRetries    int
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Provider struct {
	ID        string
	Name      string
	Specialty string
}

type Requester struct {
	ID    string
	Name  string
	Email string
	Phone string
}
