package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/findmyvet/vetbook/services/booking-service/internal/catalog"
	"github.com/findmyvet/vetbook/services/booking-service/internal/model"
	"github.com/samber/lo"
)

const clockLayout = "15:04:05"

// Catalog supplies display data. Responses degrade to bare ids when a
// lookup fails; the schedule always comes from the appointment itself.
type Catalog interface {
	Clinic(ctx context.Context, id string) (catalog.Clinic, error)
	Service(ctx context.Context, id int) (catalog.Service, error)
	Pet(ctx context.Context, id string) (catalog.Pet, error)
	VetName(ctx context.Context, id string) (string, error)
}

type clinicSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"address_line1"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postal_code"`
}

type petSummary struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	SpeciesName string  `json:"species_name"`
	BreedName   *string `json:"breed_name"`
}

type appointmentView struct {
	ID                 string        `json:"id"`
	ConfirmationCode   string        `json:"confirmation_code"`
	Clinic             clinicSummary `json:"clinic"`
	Pet                petSummary    `json:"pet"`
	VetName            *string       `json:"vet_name"`
	ServiceName        string        `json:"service_name"`
	AppointmentType    string        `json:"appointment_type"`
	ScheduledDate      string        `json:"scheduled_date"`
	ScheduledStart     string        `json:"scheduled_start"`
	ScheduledEnd       string        `json:"scheduled_end"`
	Status             string        `json:"status"`
	IsEmergency        bool          `json:"is_emergency"`
	OwnerNotes         *string       `json:"owner_notes"`
	HomeAddressLine1   *string       `json:"home_address_line1"`
	HomeAddressLine2   *string       `json:"home_address_line2"`
	HomeCity           *string       `json:"home_city"`
	HomeState          *string       `json:"home_state"`
	HomePostalCode     *string       `json:"home_postal_code"`
	HomeAccessNotes    *string       `json:"home_access_notes"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	CancelledAt        *time.Time    `json:"cancelled_at"`
	CancellationReason *string       `json:"cancellation_reason"`
}

type viewer struct {
	catalog Catalog
	logger  *slog.Logger
}

func (v viewer) appointment(ctx context.Context, a model.Appointment) appointmentView {
	out := appointmentView{
		ID:                 a.ID,
		ConfirmationCode:   a.ConfirmationCode,
		Clinic:             clinicSummary{ID: a.ClinicID},
		Pet:                petSummary{ID: a.PetID},
		AppointmentType:    string(a.Type),
		ScheduledDate:      a.ScheduledDate.Format(time.DateOnly),
		ScheduledStart:     a.ScheduledStart.Format(clockLayout),
		ScheduledEnd:       a.ScheduledEnd.Format(clockLayout),
		Status:             string(a.Status),
		IsEmergency:        a.IsEmergency,
		OwnerNotes:         lo.EmptyableToPtr(a.OwnerNotes),
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
		CancelledAt:        a.CancelledAt,
		CancellationReason: lo.EmptyableToPtr(a.CancellationReason),
	}
	if h := a.HomeAddress; h != nil {
		out.HomeAddressLine1 = lo.EmptyableToPtr(h.Line1)
		out.HomeAddressLine2 = lo.EmptyableToPtr(h.Line2)
		out.HomeCity = lo.EmptyableToPtr(h.City)
		out.HomeState = lo.EmptyableToPtr(h.State)
		out.HomePostalCode = lo.EmptyableToPtr(h.PostalCode)
		out.HomeAccessNotes = lo.EmptyableToPtr(h.AccessNotes)
	}

	if c, err := v.catalog.Clinic(ctx, a.ClinicID); err == nil {
		out.Clinic = clinicSummary{
			ID:           c.ID,
			Name:         c.Name,
			Phone:        c.Phone,
			AddressLine1: c.Address,
			City:         c.City,
			State:        c.State,
			PostalCode:   c.PostalCode,
		}
	} else {
		v.miss(ctx, "clinic", a.ID, err)
	}
	if p, err := v.catalog.Pet(ctx, a.PetID); err == nil {
		out.Pet = petSummary{ID: p.ID, Name: p.Name, SpeciesName: p.Species, BreedName: lo.EmptyableToPtr(p.Breed)}
	} else {
		v.miss(ctx, "pet", a.ID, err)
	}
	if s, err := v.catalog.Service(ctx, a.ServiceID); err == nil {
		out.ServiceName = s.Name
	} else {
		v.miss(ctx, "service", a.ID, err)
	}
	if a.VetID != nil {
		if name, err := v.catalog.VetName(ctx, *a.VetID); err == nil {
			out.VetName = &name
		} else {
			v.miss(ctx, "vet", a.ID, err)
		}
	}
	return out
}

func (v viewer) miss(ctx context.Context, what, appointmentID string, err error) {
	v.logger.WarnContext(ctx, "display lookup failed", "lookup", what, "appointment_id", appointmentID, "err", err)
}

type slotView struct {
	ID             string  `json:"id"`
	SlotDate       string  `json:"slot_date"`
	StartTime      string  `json:"start_time"`
	EndTime        string  `json:"end_time"`
	SlotType       string  `json:"slot_type"`
	VetID          *string `json:"vet_id"`
	VetName        *string `json:"vet_name"`
	AvailableCount int     `json:"available_count"`
}

func toSlotView(s model.Slot) slotView {
	return slotView{
		ID:             s.ID,
		SlotDate:       s.Date.Format(time.DateOnly),
		StartTime:      s.StartTime.Format(clockLayout),
		EndTime:        s.EndTime.Format(clockLayout),
		SlotType:       string(s.Type),
		VetID:          s.VetID,
		VetName:        lo.EmptyableToPtr(s.VetName),
		AvailableCount: s.Available(),
	}
}
