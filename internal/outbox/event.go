package outbox

// Event is the domain event envelope written to the outbox table. The Kafka
// topic name equals EventType, one event kind per topic.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Event types emitted by the engine.
const (
	EventSlotBooked           = "careslot.slot.booked.v1"
	EventAppointmentCancelled = "careslot.appointment.cancelled.v1"
)
