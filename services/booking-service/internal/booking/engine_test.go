package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/findmyvet/vetbook/services/booking-service/internal/catalog"
	"github.com/findmyvet/vetbook/services/booking-service/internal/model"
	"github.com/findmyvet/vetbook/services/booking-service/internal/storage"
	"github.com/google/uuid"
)

const (
	clinicC1 = "11111111-1111-4111-8111-111111111111"
	clinicC2 = "22222222-2222-4222-8222-222222222222"
	ownerU1  = "33333333-3333-4333-8333-333333333333"
	ownerU2  = "44444444-4444-4444-8444-444444444444"
	petP1    = "55555555-5555-4555-8555-555555555555"
	petP2    = "66666666-6666-4666-8666-666666666666"
	// S1 sorts after S2 so lock order is observable.
	slotS1 = "bbbbbbbb-0000-4000-8000-000000000001"
	slotS2 = "aaaaaaaa-0000-4000-8000-000000000002"
	slotS3 = "cccccccc-0000-4000-8000-000000000003"

	svcCheckup   = 1
	svcRetired   = 2
	svcEmergency = 3
)

type harness struct {
	store    *memStore
	catalog  *fakeCatalog
	notifier *recordingNotifier
	engine   *Engine
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	store := newMemStore()
	day := time.Date(2030, 5, 14, 0, 0, 0, 0, time.UTC)
	clock := func(h, m int) time.Time { return time.Date(0, 1, 1, h, m, 0, 0, time.UTC) }
	vet := "77777777-7777-4777-8777-777777777777"
	svc := svcCheckup
	store.putSlot(model.Slot{ID: slotS1, ClinicID: clinicC1, VetID: &vet, ServiceID: &svc, Date: day, StartTime: clock(9, 0), EndTime: clock(9, 30), Type: model.SlotInPerson, MaxBookings: 1})
	store.putSlot(model.Slot{ID: slotS2, ClinicID: clinicC1, Date: day, StartTime: clock(10, 0), EndTime: clock(10, 30), Type: model.SlotInPerson, MaxBookings: 1})
	store.putSlot(model.Slot{ID: slotS3, ClinicID: clinicC2, Date: day, StartTime: clock(11, 0), EndTime: clock(11, 30), Type: model.SlotInPerson, MaxBookings: 1})

	cat := &fakeCatalog{
		clinics: map[string]catalog.Clinic{
			clinicC1: {ID: clinicC1, Name: "Riverside Vet", IsActive: true},
			clinicC2: {ID: clinicC2, Name: "Hilltop Animal Care", IsActive: true},
		},
		services: map[int]catalog.Service{
			svcCheckup:   {ID: svcCheckup, Name: "Checkup", IsActive: true},
			svcRetired:   {ID: svcRetired, Name: "Retired", IsActive: false},
			svcEmergency: {ID: svcEmergency, Name: "Emergency", IsActive: true, IsEmergency: true},
		},
		pets: map[string]catalog.Pet{
			petP1: {ID: petP1, OwnerID: ownerU1, Name: "Rex"},
			petP2: {ID: petP2, OwnerID: ownerU2, Name: "Milo"},
		},
	}
	notifier := &recordingNotifier{}
	return &harness{
		store:    store,
		catalog:  cat,
		notifier: notifier,
		engine:   NewEngine(store, cat, nil, notifier, discardLogger(), opts...),
	}
}

func (h *harness) book(t *testing.T, owner, pet, slot string) (model.Appointment, error) {
	t.Helper()
	return h.engine.Book(context.Background(), BookRequest{
		ClinicID:  clinicC1,
		SlotID:    slot,
		PetID:     pet,
		ServiceID: svcCheckup,
		Type:      model.SlotInPerson,
		OwnerID:   owner,
	})
}

func assertKind(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestScenariosAThroughE(t *testing.T) {
	h := newHarness(t)

	// A: book S1.
	appt, err := h.book(t, ownerU1, petP1, slotS1)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if appt.Status != model.StatusBooked {
		t.Fatalf("expected booked, got %s", appt.Status)
	}
	if got := h.store.slot(slotS1).CurrentBookings; got != 1 {
		t.Fatalf("expected S1 occupancy 1, got %d", got)
	}

	// B: another owner, same full slot.
	_, err = h.book(t, ownerU2, petP2, slotS1)
	assertKind(t, err, ErrConflict)
	if got := h.store.slot(slotS1).CurrentBookings; got != 1 {
		t.Fatalf("expected S1 occupancy to stay 1, got %d", got)
	}

	// C: reschedule to S2.
	moved, err := h.engine.Reschedule(context.Background(), RescheduleRequest{AppointmentID: appt.ID, NewSlotID: slotS2, CallerID: ownerU1})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if moved.Status != model.StatusRescheduled || moved.SlotID == nil || *moved.SlotID != slotS2 {
		t.Fatalf("unexpected rescheduled appointment: %+v", moved)
	}
	if moved.VetID != nil {
		t.Fatalf("expected vet copied from S2 (none), got %v", *moved.VetID)
	}
	if s1, s2 := h.store.slot(slotS1).CurrentBookings, h.store.slot(slotS2).CurrentBookings; s1 != 0 || s2 != 1 {
		t.Fatalf("expected S1=0 S2=1, got S1=%d S2=%d", s1, s2)
	}

	// D: cancel.
	cancelled, err := h.engine.Cancel(context.Background(), CancelRequest{AppointmentID: appt.ID, CallerID: ownerU1, Reason: "feeling better"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != model.StatusCancelledByOwner || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected cancelled appointment: %+v", cancelled)
	}
	if cancelled.SlotID == nil || *cancelled.SlotID != slotS2 {
		t.Fatal("expected the slot reference to be kept on cancel")
	}
	if got := h.store.slot(slotS2).CurrentBookings; got != 0 {
		t.Fatalf("expected S2 occupancy 0, got %d", got)
	}

	// E: cancel again.
	_, err = h.engine.Cancel(context.Background(), CancelRequest{AppointmentID: appt.ID, CallerID: ownerU1})
	assertKind(t, err, ErrValidation)
	if got := h.store.slot(slotS2).CurrentBookings; got != 0 {
		t.Fatalf("double cancel must not decrement again, got %d", got)
	}

	want := []model.EventKind{model.EventBooked, model.EventRescheduled, model.EventCancelled}
	got := h.notifier.events()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
}

func TestConcurrentBooksNeverExceedCapacity(t *testing.T) {
	h := newHarness(t)
	const attempts = 25

	// Every attempt uses its own owner and pet.
	owners := make([]string, attempts)
	for i := range owners {
		owners[i] = uuid.NewString()
		pet := uuid.NewString()
		h.catalog.pets[pet] = catalog.Pet{ID: pet, OwnerID: owners[i]}
		owners[i] = owners[i] + "|" + pet
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
		other     []error
	)
	start := make(chan struct{})
	for _, op := range owners {
		parts := strings.SplitN(op, "|", 2)
		wg.Add(1)
		go func(owner, pet string) {
			defer wg.Done()
			<-start
			_, err := h.book(t, owner, pet, slotS1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}(parts[0], parts[1])
	}
	close(start)
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if ok != 1 || conflicts != attempts-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d and %d", attempts-1, ok, conflicts)
	}
	if got := h.store.slot(slotS1).CurrentBookings; got != 1 {
		t.Fatalf("expected occupancy 1, got %d", got)
	}
}

func TestBookCopiesSnapshotAndEmergencyFlag(t *testing.T) {
	h := newHarness(t)
	sl := h.store.slot(slotS2)
	appt, err := h.engine.Book(context.Background(), BookRequest{
		ClinicID: clinicC1, SlotID: slotS2, PetID: petP1, ServiceID: svcEmergency, OwnerID: ownerU1,
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if !appt.IsEmergency {
		t.Fatal("expected emergency flag copied from the service")
	}
	if appt.Type != model.SlotInPerson {
		t.Fatalf("expected default in_person, got %s", appt.Type)
	}

	// The slot moves later; the appointment keeps what it booked.
	moved := h.store.slot(slotS2)
	moved.StartTime = moved.StartTime.Add(2 * time.Hour)
	moved.EndTime = moved.EndTime.Add(2 * time.Hour)
	h.store.putSlot(moved)

	stored := h.store.appointment(appt.ID)
	if !stored.ScheduledStart.Equal(sl.StartTime) || !stored.ScheduledEnd.Equal(sl.EndTime) || !stored.ScheduledDate.Equal(sl.Date) {
		t.Fatalf("snapshot changed: %+v", stored)
	}
}

func TestBookValidation(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name string
		req  BookRequest
		want error
	}{
		{"unknown clinic", BookRequest{ClinicID: uuid.NewString(), SlotID: slotS1, PetID: petP1, ServiceID: svcCheckup, OwnerID: ownerU1}, ErrNotFound},
		{"someone else's pet", BookRequest{ClinicID: clinicC1, SlotID: slotS1, PetID: petP2, ServiceID: svcCheckup, OwnerID: ownerU1}, ErrNotFound},
		{"inactive service", BookRequest{ClinicID: clinicC1, SlotID: slotS1, PetID: petP1, ServiceID: svcRetired, OwnerID: ownerU1}, ErrNotFound},
		{"unknown slot", BookRequest{ClinicID: clinicC1, SlotID: uuid.NewString(), PetID: petP1, ServiceID: svcCheckup, OwnerID: ownerU1}, ErrNotFound},
		{"slot of another clinic", BookRequest{ClinicID: clinicC1, SlotID: slotS3, PetID: petP1, ServiceID: svcCheckup, OwnerID: ownerU1}, ErrValidation},
		{"kind mismatch", BookRequest{ClinicID: clinicC1, SlotID: slotS2, PetID: petP1, ServiceID: svcCheckup, OwnerID: ownerU1, Type: model.SlotHomeVisit,
			HomeAddress: &model.HomeAddress{Line1: "1 Main", City: "Springfield", State: "IL", PostalCode: "62701"}}, ErrValidation},
		{"service mismatch", BookRequest{ClinicID: clinicC1, SlotID: slotS1, PetID: petP1, ServiceID: svcEmergency, OwnerID: ownerU1}, ErrValidation},
		{"home visit without address", BookRequest{ClinicID: clinicC1, SlotID: slotS2, PetID: petP1, ServiceID: svcCheckup, OwnerID: ownerU1, Type: model.SlotHomeVisit}, ErrValidation},
		{"notes too long", BookRequest{ClinicID: clinicC1, SlotID: slotS2, PetID: petP1, ServiceID: svcCheckup, OwnerID: ownerU1, OwnerNotes: strings.Repeat("x", 1001)}, ErrValidation},
		{"bad kind", BookRequest{ClinicID: clinicC1, SlotID: slotS2, PetID: petP1, ServiceID: svcCheckup, OwnerID: ownerU1, Type: "drive_through"}, ErrValidation},
	}
	for _, tc := range cases {
		_, err := h.engine.Book(context.Background(), tc.req)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	for _, id := range []string{slotS1, slotS2, slotS3} {
		if got := h.store.slot(id).CurrentBookings; got != 0 {
			t.Fatalf("slot %s changed to %d by a rejected booking", id, got)
		}
	}
	if len(h.notifier.events()) != 0 {
		t.Fatal("rejected bookings must not notify")
	}
}

func TestBlockedSlotConflicts(t *testing.T) {
	h := newHarness(t)
	sl := h.store.slot(slotS2)
	sl.IsBlocked = true
	h.store.putSlot(sl)
	_, err := h.book(t, ownerU1, petP1, slotS2)
	assertKind(t, err, ErrConflict)
}

func TestCatalogFailureIsInternal(t *testing.T) {
	h := newHarness(t)
	h.catalog.err = errors.New("connection reset")
	_, err := h.book(t, ownerU1, petP1, slotS1)
	assertKind(t, err, ErrInternal)
	if Message(err) == "connection reset" {
		t.Fatal("internal causes must not be exposed")
	}
}

func TestRescheduleFailureLeavesNoPartialChange(t *testing.T) {
	h := newHarness(t)
	appt, err := h.book(t, ownerU1, petP1, slotS1)
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	h.store.failTransition = errors.New("disk full")
	_, err = h.engine.Reschedule(context.Background(), RescheduleRequest{AppointmentID: appt.ID, NewSlotID: slotS2, CallerID: ownerU1})
	assertKind(t, err, ErrInternal)

	if s1, s2 := h.store.slot(slotS1).CurrentBookings, h.store.slot(slotS2).CurrentBookings; s1 != 1 || s2 != 0 {
		t.Fatalf("expected S1=1 S2=0 after rollback, got S1=%d S2=%d", s1, s2)
	}
	if got := h.store.appointment(appt.ID); got.Status != model.StatusBooked || *got.SlotID != slotS1 {
		t.Fatalf("appointment changed despite rollback: %+v", got)
	}
}

func TestRescheduleRules(t *testing.T) {
	h := newHarness(t)
	appt, err := h.book(t, ownerU1, petP1, slotS1)
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	_, err = h.engine.Reschedule(context.Background(), RescheduleRequest{AppointmentID: appt.ID, NewSlotID: slotS1, CallerID: ownerU1})
	assertKind(t, err, ErrValidation)

	_, err = h.engine.Reschedule(context.Background(), RescheduleRequest{AppointmentID: appt.ID, NewSlotID: slotS3, CallerID: ownerU1})
	assertKind(t, err, ErrValidation)

	_, err = h.engine.Reschedule(context.Background(), RescheduleRequest{AppointmentID: appt.ID, NewSlotID: uuid.NewString(), CallerID: ownerU1})
	assertKind(t, err, ErrNotFound)

	_, err = h.engine.Reschedule(context.Background(), RescheduleRequest{AppointmentID: uuid.NewString(), NewSlotID: slotS2, CallerID: ownerU1})
	assertKind(t, err, ErrNotFound)

	// S2 taken by someone else.
	if _, err := h.book(t, ownerU2, petP2, slotS2); err != nil {
		t.Fatalf("book S2: %v", err)
	}
	_, err = h.engine.Reschedule(context.Background(), RescheduleRequest{AppointmentID: appt.ID, NewSlotID: slotS2, CallerID: ownerU1})
	assertKind(t, err, ErrConflict)

	if got := h.store.slot(slotS1).CurrentBookings; got != 1 {
		t.Fatalf("failed reschedules must not touch the old slot, got %d", got)
	}
}

func TestOwnershipEnforcedInEveryState(t *testing.T) {
	for _, status := range []model.Status{
		model.StatusBooked, model.StatusRescheduled, model.StatusCancelledByOwner,
		model.StatusCancelledByClinic, model.StatusNoShow, model.StatusCompleted,
	} {
		h := newHarness(t)
		appt, err := h.book(t, ownerU1, petP1, slotS1)
		if err != nil {
			t.Fatalf("book: %v", err)
		}
		stored := h.store.appointment(appt.ID)
		stored.Status = status
		h.store.appts[appt.ID] = stored

		_, err = h.engine.Reschedule(context.Background(), RescheduleRequest{AppointmentID: appt.ID, NewSlotID: slotS2, CallerID: ownerU2})
		assertKind(t, err, ErrForbidden)
		_, err = h.engine.Cancel(context.Background(), CancelRequest{AppointmentID: appt.ID, CallerID: ownerU2})
		assertKind(t, err, ErrForbidden)
	}
}

func TestTerminalStatesRejectChanges(t *testing.T) {
	for _, status := range []model.Status{model.StatusCancelledByClinic, model.StatusNoShow, model.StatusCompleted} {
		h := newHarness(t)
		appt, _ := h.book(t, ownerU1, petP1, slotS1)
		stored := h.store.appointment(appt.ID)
		stored.Status = status
		h.store.appts[appt.ID] = stored

		_, err := h.engine.Cancel(context.Background(), CancelRequest{AppointmentID: appt.ID, CallerID: ownerU1})
		assertKind(t, err, ErrValidation)
		_, err = h.engine.Reschedule(context.Background(), RescheduleRequest{AppointmentID: appt.ID, NewSlotID: slotS2, CallerID: ownerU1})
		assertKind(t, err, ErrValidation)
	}
}

func TestRescheduleLocksAppointmentThenSlotsAscending(t *testing.T) {
	h := newHarness(t)
	appt, _ := h.book(t, ownerU1, petP1, slotS1)

	if _, err := h.engine.Reschedule(context.Background(), RescheduleRequest{AppointmentID: appt.ID, NewSlotID: slotS2, CallerID: ownerU1}); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	want := []string{"appt:" + appt.ID, "slot:" + slotS2, "slot:" + slotS1}
	if got := h.store.lastLockOrder; fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected lock order %v, got %v", want, got)
	}
}

func TestCrossReschedulesDoNotDeadlock(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{slotS1, slotS2} {
		sl := h.store.slot(id)
		sl.MaxBookings = 3
		sl.ServiceID = nil
		h.store.putSlot(sl)
	}
	a, err := h.book(t, ownerU1, petP1, slotS1)
	if err != nil {
		t.Fatalf("book a: %v", err)
	}
	b, err := h.engine.Book(context.Background(), BookRequest{ClinicID: clinicC1, SlotID: slotS2, PetID: petP2, ServiceID: svcCheckup, OwnerID: ownerU2})
	if err != nil {
		t.Fatalf("book b: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			var wg sync.WaitGroup
			wg.Add(2)
			aTo, bTo := slotS2, slotS1
			if i%2 == 1 {
				aTo, bTo = slotS1, slotS2
			}
			go func() {
				defer wg.Done()
				_, _ = h.engine.Reschedule(context.Background(), RescheduleRequest{AppointmentID: a.ID, NewSlotID: aTo, CallerID: ownerU1})
			}()
			go func() {
				defer wg.Done()
				_, _ = h.engine.Reschedule(context.Background(), RescheduleRequest{AppointmentID: b.ID, NewSlotID: bTo, CallerID: ownerU2})
			}()
			wg.Wait()
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cross reschedules deadlocked")
	}
	if total := h.store.slot(slotS1).CurrentBookings + h.store.slot(slotS2).CurrentBookings; total != 2 {
		t.Fatalf("expected total occupancy 2, got %d", total)
	}
}

func TestConfirmationCodeCollisionRetries(t *testing.T) {
	h := newHarness(t)
	h.store.duplicateCodes = 2
	codes := &sequenceCodes{codes: []string{"AAAA-0001", "AAAA-0002", "AAAA-0003"}}
	h.engine = NewEngine(h.store, h.catalog, codes, h.notifier, discardLogger())

	appt, err := h.book(t, ownerU1, petP1, slotS1)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if appt.ConfirmationCode != "AAAA-0003" {
		t.Fatalf("expected the third code, got %s", appt.ConfirmationCode)
	}
	if got := h.store.slot(slotS1).CurrentBookings; got != 1 {
		t.Fatalf("expected occupancy 1, got %d", got)
	}
}

func TestConfirmationCodeExhaustionIsConflict(t *testing.T) {
	h := newHarness(t, WithCodeAttempts(3))
	h.store.duplicateCodes = 3

	_, err := h.book(t, ownerU1, petP1, slotS1)
	assertKind(t, err, ErrConflict)
	if got := h.store.slot(slotS1).CurrentBookings; got != 0 {
		t.Fatalf("expected no occupancy change, got %d", got)
	}
}

func TestNotifierFailureDoesNotAffectResult(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("smtp down")

	appt, err := h.book(t, ownerU1, petP1, slotS1)
	if err != nil {
		t.Fatalf("book must succeed when notification fails: %v", err)
	}
	if got := h.store.appointment(appt.ID); got.Status != model.StatusBooked {
		t.Fatalf("booking not committed: %+v", got)
	}
}

func TestCancelledContextRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.engine.Book(ctx, BookRequest{ClinicID: clinicC1, SlotID: slotS1, PetID: petP1, ServiceID: svcCheckup, OwnerID: ownerU1})
	assertKind(t, err, ErrInternal)
	if got := h.store.slot(slotS1).CurrentBookings; got != 0 {
		t.Fatalf("expected no occupancy change, got %d", got)
	}
}

func TestRandomCodesShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		code, err := RandomCodes{}.Generate()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != 9 || code[4] != '-' {
			t.Fatalf("unexpected code %q", code)
		}
		for j, c := range code {
			switch {
			case j < 4 && !strings.ContainsRune(codeLetters, c):
				t.Fatalf("unexpected letter in %q", code)
			case j > 4 && (c < '0' || c > '9'):
				t.Fatalf("unexpected digit in %q", code)
			}
		}
		seen[code] = true
	}
	if len(seen) < 190 {
		t.Fatalf("codes repeat too often: %d unique of 200", len(seen))
	}
}

func TestUppercaseIDsAreCanonical(t *testing.T) {
	h := newHarness(t)
	appt, err := h.engine.Book(context.Background(), BookRequest{
		ClinicID:  strings.ToUpper(clinicC1),
		SlotID:    strings.ToUpper(slotS1),
		PetID:     strings.ToUpper(petP1),
		ServiceID: svcCheckup,
		OwnerID:   strings.ToUpper(ownerU1),
	})
	if err != nil {
		t.Fatalf("book with uppercase ids: %v", err)
	}
	if appt.ClinicID != clinicC1 || appt.OwnerID != ownerU1 {
		t.Fatalf("expected canonical ids, got clinic=%s owner=%s", appt.ClinicID, appt.OwnerID)
	}

	_, err = h.engine.Reschedule(context.Background(), RescheduleRequest{
		AppointmentID: strings.ToUpper(appt.ID),
		NewSlotID:     strings.ToUpper(slotS1),
		CallerID:      ownerU1,
	})
	assertKind(t, err, ErrValidation)
	if got := h.store.slot(slotS1).CurrentBookings; got != 1 {
		t.Fatalf("expected S1 occupancy 1, got %d", got)
	}

	if _, err := h.engine.Cancel(context.Background(), CancelRequest{AppointmentID: "{" + strings.ToUpper(appt.ID) + "}", CallerID: ownerU1}); err != nil {
		t.Fatalf("cancel with braced id: %v", err)
	}
	if got := h.store.slot(slotS1).CurrentBookings; got != 0 {
		t.Fatalf("expected S1 occupancy 0, got %d", got)
	}
}

// cancellingNotifier cancels the caller's context before inspecting the one
// it was handed.
type cancellingNotifier struct {
	cancel      context.CancelFunc
	err         error
	hasDeadline bool
}

func (n *cancellingNotifier) Notify(ctx context.Context, _ model.EventKind, _ model.Appointment) error {
	n.cancel()
	n.err = ctx.Err()
	_, n.hasDeadline = ctx.Deadline()
	return nil
}

func TestNotifyOutlivesCallerContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n := &cancellingNotifier{cancel: cancel}
	h.engine = NewEngine(h.store, h.catalog, nil, n, discardLogger())

	if _, err := h.engine.Book(ctx, BookRequest{ClinicID: clinicC1, SlotID: slotS1, PetID: petP1, ServiceID: svcCheckup, OwnerID: ownerU1}); err != nil {
		t.Fatalf("book: %v", err)
	}
	if n.err != nil {
		t.Fatalf("notify context cancelled with caller: %v", n.err)
	}
	if !n.hasDeadline {
		t.Fatal("expected notify context to carry its own deadline")
	}
}

func TestNotFoundMessagesAreLiteral(t *testing.T) {
	err := ledgerErr(storage.ErrNotFound, "slot 50% gone")
	assertKind(t, err, ErrNotFound)
	if err.Error() != "slot 50% gone" {
		t.Fatalf("message mangled: %q", err.Error())
	}
	if err := lookupErr(catalog.ErrNotFound, "clinic 100% closed"); err.Error() != "clinic 100% closed" {
		t.Fatalf("message mangled: %q", err.Error())
	}
}
