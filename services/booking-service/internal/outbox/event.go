package outbox

// AggregateAppointment is the aggregate type of every row this service writes.
const AggregateAppointment = "appointment"

// Event is the envelope written to the outbox table. The Kafka topic equals
// EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
