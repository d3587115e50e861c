package model

// EventKind names a committed change to an appointment. The values double as
// Kafka topic names.
type EventKind string

const (
	EventBooked      EventKind = "booking.appointment.booked.v1"
	EventRescheduled EventKind = "booking.appointment.rescheduled.v1"
	EventCancelled   EventKind = "booking.appointment.cancelled.v1"
)

func EventKinds() []EventKind {
	return []EventKind{EventBooked, EventRescheduled, EventCancelled}
}
