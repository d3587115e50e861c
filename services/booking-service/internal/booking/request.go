package booking

import (
	"strings"
	"unicode/utf8"

	"github.com/findmyvet/vetbook/services/booking-service/internal/model"
	"github.com/google/uuid"
)

const (
	maxOwnerNotes  = 1000
	maxCancelNotes = 500
)

type BookRequest struct {
	ClinicID    string
	SlotID      string
	PetID       string
	ServiceID   int
	Type        model.SlotType
	OwnerID     string
	OwnerNotes  string
	HomeAddress *model.HomeAddress
}

type RescheduleRequest struct {
	AppointmentID string
	NewSlotID     string
	CallerID      string
}

type CancelRequest struct {
	AppointmentID string
	CallerID      string
	Reason        string
}

// normalize trims input, defaults the kind and drops address fields that do
// not apply, then validates the request shape.
func (r *BookRequest) normalize() error {
	r.OwnerNotes = strings.TrimSpace(r.OwnerNotes)
	if r.Type == "" {
		r.Type = model.SlotInPerson
	}
	if !r.Type.Valid() {
		return invalid("appointment_type must be in_person or home_visit")
	}
	ids := []struct {
		name string
		ref  *string
	}{{"clinic_id", &r.ClinicID}, {"slot_id", &r.SlotID}, {"pet_id", &r.PetID}, {"owner_id", &r.OwnerID}}
	for _, id := range ids {
		canon, ok := canonicalID(*id.ref)
		if !ok {
			return invalid("%s must be a UUID", id.name)
		}
		*id.ref = canon
	}
	if r.ServiceID <= 0 {
		return invalid("service_id must be a positive integer")
	}
	if utf8.RuneCountInString(r.OwnerNotes) > maxOwnerNotes {
		return invalid("owner_notes must be at most %d characters", maxOwnerNotes)
	}

	if r.Type != model.SlotHomeVisit {
		r.HomeAddress = nil
		return nil
	}
	if r.HomeAddress == nil {
		return invalid("home visit requires an address")
	}
	return validateAddress(r.HomeAddress)
}

func validateAddress(a *model.HomeAddress) error {
	fields := []struct {
		name     string
		value    *string
		max      int
		required bool
	}{
		{"home_address_line1", &a.Line1, 255, true},
		{"home_address_line2", &a.Line2, 255, false},
		{"home_city", &a.City, 100, true},
		{"home_state", &a.State, 50, true},
		{"home_postal_code", &a.PostalCode, 20, true},
		{"home_access_notes", &a.AccessNotes, 500, false},
	}
	for _, f := range fields {
		*f.value = strings.TrimSpace(*f.value)
		if f.required && *f.value == "" {
			return invalid("%s is required for a home visit", f.name)
		}
		if utf8.RuneCountInString(*f.value) > f.max {
			return invalid("%s must be at most %d characters", f.name, f.max)
		}
	}
	return nil
}

func (r *RescheduleRequest) normalize() error {
	var ok bool
	if r.AppointmentID, ok = canonicalID(r.AppointmentID); !ok {
		return notFound("appointment not found")
	}
	if r.NewSlotID, ok = canonicalID(r.NewSlotID); !ok {
		return invalid("new_slot_id must be a UUID")
	}
	return nil
}

func (r *CancelRequest) normalize() error {
	var ok bool
	if r.AppointmentID, ok = canonicalID(r.AppointmentID); !ok {
		return notFound("appointment not found")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if utf8.RuneCountInString(r.Reason) > maxCancelNotes {
		return invalid("reason must be at most %d characters", maxCancelNotes)
	}
	return nil
}

// canonicalID parses id in any form uuid.Parse accepts and returns it in the
// lowercase hyphenated form Postgres renders, so ids compare and sort as text.
func canonicalID(id string) (string, bool) {
	u, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return id, false
	}
	return u.String(), true
}
