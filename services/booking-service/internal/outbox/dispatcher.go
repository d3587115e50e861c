package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/findmyvet/vetbook/libs/events"
	"github.com/findmyvet/vetbook/services/booking-service/internal/catalog"
	"github.com/findmyvet/vetbook/services/booking-service/internal/identity"
	"github.com/findmyvet/vetbook/services/booking-service/internal/model"
)

// Directory resolves the display data an event carries.
type Directory interface {
	Clinic(ctx context.Context, id string) (catalog.Clinic, error)
	Service(ctx context.Context, id int) (catalog.Service, error)
	Pet(ctx context.Context, id string) (catalog.Pet, error)
	VetName(ctx context.Context, id string) (string, error)
}

type Owners interface {
	GetByID(ctx context.Context, id string) (identity.User, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, evt Event) error
}

// Dispatcher turns committed appointment changes into outbox rows. Lookups
// are best effort: a missing name leaves the field empty rather than losing
// the event.
type Dispatcher struct {
	dir    Directory
	owners Owners
	queue  Enqueuer
	logger *slog.Logger
	now    func() time.Time
}

func NewDispatcher(dir Directory, owners Owners, queue Enqueuer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		dir:    dir,
		owners: owners,
		queue:  queue,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) Notify(ctx context.Context, kind model.EventKind, appt model.Appointment) error {
	payload := d.payload(ctx, appt)
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	return d.queue.Enqueue(ctx, Event{
		AggregateType: AggregateAppointment,
		AggregateID:   appt.ID,
		EventType:     string(kind),
		Payload:       raw,
	})
}

func (d *Dispatcher) payload(ctx context.Context, appt model.Appointment) events.Appointment {
	out := events.Appointment{
		AppointmentID:      appt.ID,
		ConfirmationCode:   appt.ConfirmationCode,
		Status:             string(appt.Status),
		AppointmentType:    string(appt.Type),
		ScheduledDate:      appt.ScheduledDate.Format("2006-01-02"),
		ScheduledStart:     appt.ScheduledStart.Format("15:04"),
		ScheduledEnd:       appt.ScheduledEnd.Format("15:04"),
		Clinic:             events.Clinic{ID: appt.ClinicID},
		Owner:              events.Owner{ID: appt.OwnerID},
		IsEmergency:        appt.IsEmergency,
		CancellationReason: appt.CancellationReason,
		Sequence:           Sequence(appt),
		OccurredAt:         d.now(),
	}

	if c, err := d.dir.Clinic(ctx, appt.ClinicID); err == nil {
		out.Clinic = events.Clinic{
			ID:       c.ID,
			Name:     c.Name,
			Email:    c.Email,
			Phone:    c.Phone,
			Address:  joinAddress(c),
			Timezone: c.Timezone,
		}
	} else {
		d.miss(ctx, "clinic", appt.ID, err)
	}
	if u, err := d.owners.GetByID(ctx, appt.OwnerID); err == nil {
		out.Owner = events.Owner{ID: u.ID, Name: u.DisplayName(), Email: u.Email, Phone: u.Phone}
	} else {
		d.miss(ctx, "owner", appt.ID, err)
	}
	if p, err := d.dir.Pet(ctx, appt.PetID); err == nil {
		out.PetName = p.Name
	} else {
		d.miss(ctx, "pet", appt.ID, err)
	}
	if s, err := d.dir.Service(ctx, appt.ServiceID); err == nil {
		out.ServiceName = s.Name
	} else {
		d.miss(ctx, "service", appt.ID, err)
	}
	if appt.VetID != nil {
		if name, err := d.dir.VetName(ctx, *appt.VetID); err == nil {
			out.VetName = name
		} else {
			d.miss(ctx, "vet", appt.ID, err)
		}
	}
	return out
}

func (d *Dispatcher) miss(ctx context.Context, what, appointmentID string, err error) {
	d.logger.WarnContext(ctx, "event enrichment lookup failed", "lookup", what, "appointment_id", appointmentID, "err", err)
}

// Sequence orders calendar revisions of one appointment. It grows with the
// time since creation, and a cancellation outranks a reschedule written in
// the same second.
func Sequence(appt model.Appointment) int {
	var rank int
	switch {
	case appt.Status == model.StatusRescheduled:
		rank = 1
	case !appt.Status.Active():
		rank = 2
	}
	if rank == 0 || appt.CreatedAt.IsZero() || appt.UpdatedAt.Before(appt.CreatedAt) {
		return rank
	}
	return int(appt.UpdatedAt.Sub(appt.CreatedAt)/time.Second) + rank
}

func joinAddress(c catalog.Clinic) string {
	addr := c.Address
	for _, part := range []string{c.City, c.State, c.PostalCode} {
		if part == "" {
			continue
		}
		if addr != "" {
			addr += ", "
		}
		addr += part
	}
	return addr
}
