// Package events holds the payloads booking-service publishes and other
// services consume. Field names are part of the wire contract.
package events

import (
	"fmt"
	"time"
)

const (
	AppointmentBooked      = "booking.appointment.booked.v1"
	AppointmentRescheduled = "booking.appointment.rescheduled.v1"
	AppointmentCancelled   = "booking.appointment.cancelled.v1"
)

func AppointmentTopics() []string {
	return []string{AppointmentBooked, AppointmentRescheduled, AppointmentCancelled}
}

type Clinic struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type Owner struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Appointment is the payload of every appointment event. Schedule fields
// are clinic-local: date as 2006-01-02, times as 15:04.
type Appointment struct {
	AppointmentID      string    `json:"appointment_id"`
	ConfirmationCode   string    `json:"confirmation_code"`
	Status             string    `json:"status"`
	AppointmentType    string    `json:"appointment_type"`
	ScheduledDate      string    `json:"scheduled_date"`
	ScheduledStart     string    `json:"scheduled_start"`
	ScheduledEnd       string    `json:"scheduled_end"`
	Clinic             Clinic    `json:"clinic"`
	Owner              Owner     `json:"owner"`
	PetName            string    `json:"pet_name,omitempty"`
	ServiceName        string    `json:"service_name,omitempty"`
	VetName            string    `json:"vet_name,omitempty"`
	IsEmergency        bool      `json:"is_emergency"`
	CancellationReason string    `json:"cancellation_reason,omitempty"`

	// Sequence orders calendar updates for the same appointment.
	Sequence   int       `json:"sequence"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Window parses the schedule fields in the clinic's zone.
func (a Appointment) Window() (start, end time.Time, err error) {
	loc := time.UTC
	if a.Clinic.Timezone != "" {
		if l, lerr := time.LoadLocation(a.Clinic.Timezone); lerr == nil {
			loc = l
		}
	}
	start, err = time.ParseInLocation("2006-01-02 15:04", a.ScheduledDate+" "+a.ScheduledStart, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse start: %w", err)
	}
	end, err = time.ParseInLocation("2006-01-02 15:04", a.ScheduledDate+" "+a.ScheduledEnd, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse end: %w", err)
	}
	return start, end, nil
}
