package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/findmyvet/vetbook/libs/events"
	"github.com/findmyvet/vetbook/libs/kafkax"
	"github.com/findmyvet/vetbook/services/booking-service/internal/catalog"
	"github.com/findmyvet/vetbook/services/booking-service/internal/identity"
	"github.com/findmyvet/vetbook/services/booking-service/internal/model"
	"github.com/segmentio/kafka-go"
)

type fakeDirectory struct {
	clinicErr error
}

func (f fakeDirectory) Clinic(context.Context, string) (catalog.Clinic, error) {
	if f.clinicErr != nil {
		return catalog.Clinic{}, f.clinicErr
	}
	return catalog.Clinic{ID: "c1", Name: "Oak Street Vets", Address: "1 Oak St", City: "Portland", State: "OR", Timezone: "America/Los_Angeles"}, nil
}

func (fakeDirectory) Service(context.Context, int) (catalog.Service, error) {
	return catalog.Service{ID: 3, Name: "Vaccination"}, nil
}

func (fakeDirectory) Pet(context.Context, string) (catalog.Pet, error) {
	return catalog.Pet{ID: "p1", Name: "Biscuit"}, nil
}

func (fakeDirectory) VetName(context.Context, string) (string, error) {
	return "Dr. Reyes", nil
}

type fakeOwners struct{}

func (fakeOwners) GetByID(_ context.Context, id string) (identity.User, error) {
	return identity.User{ID: id, FirstName: "Sam", LastName: "Lee", Email: "sam@example.com"}, nil
}

type captureQueue struct {
	events []Event
	err    error
}

func (q *captureQueue) Enqueue(_ context.Context, evt Event) error {
	if q.err != nil {
		return q.err
	}
	q.events = append(q.events, evt)
	return nil
}

func testAppointment() model.Appointment {
	vet := "v1"
	slot := "s1"
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return model.Appointment{
		ID:               "a1",
		ConfirmationCode: "ABCD-1234",
		ClinicID:         "c1",
		SlotID:           &slot,
		OwnerID:          "u1",
		PetID:            "p1",
		VetID:            &vet,
		ServiceID:        3,
		Type:             model.SlotInPerson,
		ScheduledDate:    time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		ScheduledStart:   time.Date(0, 1, 1, 14, 30, 0, 0, time.UTC),
		ScheduledEnd:     time.Date(0, 1, 1, 15, 0, 0, 0, time.UTC),
		Status:           model.StatusBooked,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
}

func newDispatcher(dir Directory, q Enqueuer) *Dispatcher {
	return NewDispatcher(dir, fakeOwners{}, q, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDispatcherEnqueuesEnrichedPayload(t *testing.T) {
	q := &captureQueue{}
	d := newDispatcher(fakeDirectory{}, q)

	if err := d.Notify(context.Background(), model.EventBooked, testAppointment()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if len(q.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(q.events))
	}
	evt := q.events[0]
	if evt.EventType != events.AppointmentBooked || evt.AggregateID != "a1" || evt.AggregateType != AggregateAppointment {
		t.Fatalf("unexpected envelope: %+v", evt)
	}

	var p events.Appointment
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.ScheduledDate != "2026-03-10" || p.ScheduledStart != "14:30" || p.ScheduledEnd != "15:00" {
		t.Fatalf("unexpected schedule: %s %s-%s", p.ScheduledDate, p.ScheduledStart, p.ScheduledEnd)
	}
	if p.Clinic.Address != "1 Oak St, Portland, OR" || p.Clinic.Timezone != "America/Los_Angeles" {
		t.Fatalf("unexpected clinic: %+v", p.Clinic)
	}
	if p.Owner.Name != "Sam Lee" || p.PetName != "Biscuit" || p.ServiceName != "Vaccination" || p.VetName != "Dr. Reyes" {
		t.Fatalf("payload not enriched: %+v", p)
	}
	if p.Sequence != 0 {
		t.Fatalf("expected sequence 0 for a new booking, got %d", p.Sequence)
	}
}

func TestDispatcherToleratesLookupFailure(t *testing.T) {
	q := &captureQueue{}
	d := newDispatcher(fakeDirectory{clinicErr: catalog.ErrNotFound}, q)

	if err := d.Notify(context.Background(), model.EventCancelled, testAppointment()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	var p events.Appointment
	if err := json.Unmarshal(q.events[0].Payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.Clinic.ID != "c1" || p.Clinic.Name != "" {
		t.Fatalf("expected bare clinic id, got %+v", p.Clinic)
	}
}

func TestDispatcherReturnsEnqueueError(t *testing.T) {
	boom := errors.New("db down")
	d := newDispatcher(fakeDirectory{}, &captureQueue{err: boom})
	if err := d.Notify(context.Background(), model.EventBooked, testAppointment()); !errors.Is(err, boom) {
		t.Fatalf("expected enqueue error, got %v", err)
	}
}

func TestSequenceIncreasesAcrossRevisions(t *testing.T) {
	appt := testAppointment()
	booked := Sequence(appt)

	appt.Status = model.StatusRescheduled
	appt.UpdatedAt = appt.CreatedAt.Add(90 * time.Second)
	rescheduled := Sequence(appt)

	appt.Status = model.StatusCancelledByOwner
	cancelled := Sequence(appt)

	if !(booked < rescheduled && rescheduled < cancelled) {
		t.Fatalf("expected increasing sequence, got %d %d %d", booked, rescheduled, cancelled)
	}
}

type captureWriter struct {
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestWriteRecordsRoutesByEventType(t *testing.T) {
	w := &captureWriter{}
	records := []Record{
		{ID: 1, EventID: "e1", AggregateID: "a1", EventType: events.AppointmentBooked, Payload: []byte(`{}`),
			Traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"},
		{ID: 2, EventID: "e2", AggregateID: "a1", EventType: events.AppointmentCancelled, Payload: []byte(`{}`)},
	}
	if err := writeRecords(context.Background(), w, records); err != nil {
		t.Fatalf("writeRecords failed: %v", err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.msgs))
	}
	first := w.msgs[0]
	if first.Topic != events.AppointmentBooked || string(first.Key) != "a1" {
		t.Fatalf("unexpected routing: topic=%s key=%s", first.Topic, first.Key)
	}
	meta := kafkax.ExtractEventMeta(first)
	if meta.EventID != "e1" || meta.EventType != events.AppointmentBooked {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if w.msgs[1].Topic != events.AppointmentCancelled {
		t.Fatalf("unexpected topic for second record: %s", w.msgs[1].Topic)
	}
}
