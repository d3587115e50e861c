package model

import "time"

type Status string

const (
	StatusBooked            Status = "booked"
	StatusRescheduled       Status = "rescheduled"
	StatusCancelledByOwner  Status = "cancelled_by_owner"
	StatusCancelledByClinic Status = "cancelled_by_clinic"
	StatusNoShow            Status = "no_show"
	StatusCompleted         Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusBooked, StatusRescheduled, StatusCancelledByOwner, StatusCancelledByClinic, StatusNoShow, StatusCompleted:
		return true
	}
	return false
}

// Active statuses hold a slot.
func (s Status) Active() bool {
	return s == StatusBooked || s == StatusRescheduled
}

// transitions lists, per target status, the statuses an appointment may move
// from. Statuses reached through clinic tooling are absent: the booking core
// never writes them.
var transitions = map[Status][]Status{
	StatusRescheduled:      {StatusBooked, StatusRescheduled},
	StatusCancelledByOwner: {StatusBooked, StatusRescheduled},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// AllowedFrom returns the statuses that may move to to.
func AllowedFrom(to Status) []Status {
	return append([]Status(nil), transitions[to]...)
}

type HomeAddress struct {
	Line1       string
	Line2       string
	City        string
	State       string
	PostalCode  string
	AccessNotes string
}

type Appointment struct {
	ID               string
	ConfirmationCode string
	ClinicID         string
	SlotID           *string
	OwnerID          string
	PetID            string
	VetID            *string
	ServiceID        int
	Type             SlotType
	ScheduledDate    time.Time
	ScheduledStart   time.Time
	ScheduledEnd     time.Time
	Status           Status
	IsEmergency      bool
	OwnerNotes       string
	HomeAddress      *HomeAddress

	CancelledBy        *string
	CancelledAt        *time.Time
	CancellationReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Appointment) Snapshot() Snapshot {
	s := Snapshot{
		VetID:     a.VetID,
		Date:      a.ScheduledDate,
		StartTime: a.ScheduledStart,
		EndTime:   a.ScheduledEnd,
	}
	if a.SlotID != nil {
		s.SlotID = *a.SlotID
	}
	return s
}

// NewAppointment carries everything the ledger needs to insert a booked row.
type NewAppointment struct {
	ConfirmationCode string
	ClinicID         string
	OwnerID          string
	PetID            string
	ServiceID        int
	Type             SlotType
	Slot             Snapshot
	IsEmergency      bool
	OwnerNotes       string
	HomeAddress      *HomeAddress
}

// Transition is a guarded status change. Only the fields relevant to To are
// written: Slot for a reschedule, the cancellation fields for a cancel.
type Transition struct {
	To                 Status
	Slot               *Snapshot
	CancelledBy        string
	CancellationReason string
	At                 time.Time
}

type ListFilter struct {
	Status   *Status
	Upcoming bool
	Today    time.Time
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 50
	MaxPage         = 10000
)

// Normalize clamps paging to the accepted range.
func (f ListFilter) Normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Page > MaxPage {
		f.Page = MaxPage
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}
