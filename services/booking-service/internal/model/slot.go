package model

import "time"

type SlotType string

const (
	SlotInPerson  SlotType = "in_person"
	SlotHomeVisit SlotType = "home_visit"
)

func (t SlotType) Valid() bool {
	return t == SlotInPerson || t == SlotHomeVisit
}

// Slot is one bookable window of a clinic, optionally tied to a vet and a
// service. Date and times are clinic-local wall-clock values.
type Slot struct {
	ID              string
	ClinicID        string
	VetID           *string
	VetName         string
	ServiceID       *int
	Date            time.Time
	StartTime       time.Time
	EndTime         time.Time
	Type            SlotType
	IsBlocked       bool
	MaxBookings     int
	CurrentBookings int
}

// IsOfferable reports whether a new booking may take the slot.
func (s Slot) IsOfferable() bool {
	return !s.IsBlocked && s.CurrentBookings < s.MaxBookings
}

// IsCompatible reports whether the slot can serve a booking of kind for
// serviceID at clinicID. A slot without a service accepts any service.
func (s Slot) IsCompatible(clinicID string, serviceID int, kind SlotType) bool {
	if s.ClinicID != clinicID || s.Type != kind {
		return false
	}
	return s.ServiceID == nil || *s.ServiceID == serviceID
}

func (s Slot) Available() int {
	if n := s.MaxBookings - s.CurrentBookings; n > 0 {
		return n
	}
	return 0
}

// Snapshot is what an appointment copies from its slot at the moment it is
// booked or rescheduled.
func (s Slot) Snapshot() Snapshot {
	return Snapshot{
		SlotID:    s.ID,
		VetID:     s.VetID,
		Date:      s.Date,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
	}
}

type Snapshot struct {
	SlotID    string
	VetID     *string
	Date      time.Time
	StartTime time.Time
	EndTime   time.Time
}

// Start combines the snapshot date and start time in loc.
func (s Snapshot) Start(loc *time.Location) time.Time {
	return combine(s.Date, s.StartTime, loc)
}

func (s Snapshot) End(loc *time.Location) time.Time {
	return combine(s.Date, s.EndTime, loc)
}

func combine(date, clock time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(date.Year(), date.Month(), date.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, loc)
}
