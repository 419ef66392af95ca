package booking

import "errors"

var (
	// ErrSlotNotFound: the slot id does not exist.
	ErrSlotNotFound = errors.New("slot not found")
	// ErrSlotUnavailable: the slot is already booked or deactivated; the
	// caller lost the race or picked a dead slot.
	ErrSlotUnavailable = errors.New("slot unavailable")
	// ErrRequesterNotFound: the requester id does not exist.
	ErrRequesterNotFound = errors.New("requester not found")
	// ErrAppointmentNotFound: the appointment id does not exist.
	ErrAppointmentNotFound = errors.New("appointment not found")
	// ErrLockTimeout: the slot lock was not acquired within the wait
	// window. Retryable at the caller's discretion; the coordinator never
	// retries on its own.
	ErrLockTimeout = errors.New("slot lock timeout")
)
