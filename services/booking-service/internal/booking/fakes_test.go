package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/findmyvet/vetbook/services/booking-service/internal/catalog"
	"github.com/findmyvet/vetbook/services/booking-service/internal/model"
	"github.com/findmyvet/vetbook/services/booking-service/internal/storage"
	"github.com/google/uuid"
)

// memStore stands in for Postgres: committed rows, per-row locks held until
// the owning transaction ends, and writes that only become visible on commit.
type memStore struct {
	mu    sync.Mutex
	slots map[string]model.Slot
	appts map[string]model.Appointment
	rows  map[string]*sync.Mutex

	// failures to inject
	duplicateCodes int
	failTransition error
	lastLockOrder  []string
	committed      int
}

func newMemStore() *memStore {
	return &memStore{
		slots: map[string]model.Slot{},
		appts: map[string]model.Appointment{},
		rows:  map[string]*sync.Mutex{},
	}
}

func (s *memStore) rowLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[key]
	if !ok {
		m = &sync.Mutex{}
		s.rows[key] = m
	}
	return m
}

func (s *memStore) slot(id string) model.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[id]
}

func (s *memStore) appointment(id string) model.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appts[id]
}

func (s *memStore) putSlot(sl model.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[sl.ID] = sl
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, l storage.Ledgers) error) error {
	tx := &memTx{
		s:     s,
		held:  map[string]bool{},
		slots: map[string]model.Slot{},
		appts: map[string]model.Appointment{},
	}
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	s     *memStore
	held  map[string]bool
	order []string
	slots map[string]model.Slot
	appts map[string]model.Appointment
}

func (t *memTx) Slots() storage.SlotLedger               { return memSlots{t} }
func (t *memTx) Appointments() storage.AppointmentLedger { return memAppts{t} }

func (t *memTx) lock(key string) {
	if t.held[key] {
		return
	}
	t.s.rowLock(key).Lock()
	t.held[key] = true
	t.order = append(t.order, key)
}

func (t *memTx) release() {
	t.s.mu.Lock()
	t.s.lastLockOrder = t.order
	t.s.mu.Unlock()
	for key := range t.held {
		t.s.rowLock(key).Unlock()
	}
}

func (t *memTx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for id, sl := range t.slots {
		t.s.slots[id] = sl
	}
	for id, a := range t.appts {
		t.s.appts[id] = a
	}
	t.s.committed++
}

func (t *memTx) readSlot(id string) (model.Slot, bool) {
	if sl, ok := t.slots[id]; ok {
		return sl, true
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	sl, ok := t.s.slots[id]
	return sl, ok
}

func (t *memTx) readAppt(id string) (model.Appointment, bool) {
	if a, ok := t.appts[id]; ok {
		return a, true
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	a, ok := t.s.appts[id]
	return a, ok
}

type memSlots struct{ t *memTx }

func (m memSlots) LockForUpdate(_ context.Context, id string) (model.Slot, error) {
	m.t.lock("slot:" + id)
	sl, ok := m.t.readSlot(id)
	if !ok {
		return model.Slot{}, storage.ErrNotFound
	}
	return sl, nil
}

func (m memSlots) Increment(_ context.Context, id string) error {
	m.t.lock("slot:" + id)
	sl, ok := m.t.readSlot(id)
	if !ok {
		return storage.ErrNotFound
	}
	if sl.CurrentBookings >= sl.MaxBookings {
		return storage.ErrSlotExhausted
	}
	sl.CurrentBookings++
	m.t.slots[id] = sl
	return nil
}

func (m memSlots) Decrement(_ context.Context, id string) error {
	m.t.lock("slot:" + id)
	sl, ok := m.t.readSlot(id)
	if !ok {
		return storage.ErrNotFound
	}
	if sl.CurrentBookings > 0 {
		sl.CurrentBookings--
	}
	m.t.slots[id] = sl
	return nil
}

type memAppts struct{ t *memTx }

func (m memAppts) Create(_ context.Context, in model.NewAppointment) (model.Appointment, error) {
	s := m.t.s
	s.mu.Lock()
	if s.duplicateCodes > 0 {
		s.duplicateCodes--
		s.mu.Unlock()
		return model.Appointment{}, storage.ErrDuplicateCode
	}
	for _, a := range s.appts {
		if a.ConfirmationCode == in.ConfirmationCode {
			s.mu.Unlock()
			return model.Appointment{}, storage.ErrDuplicateCode
		}
	}
	s.mu.Unlock()

	slotID := in.Slot.SlotID
	now := time.Now().UTC()
	a := model.Appointment{
		ID:               uuid.NewString(),
		ConfirmationCode: in.ConfirmationCode,
		ClinicID:         in.ClinicID,
		SlotID:           &slotID,
		OwnerID:          in.OwnerID,
		PetID:            in.PetID,
		VetID:            in.Slot.VetID,
		ServiceID:        in.ServiceID,
		Type:             in.Type,
		ScheduledDate:    in.Slot.Date,
		ScheduledStart:   in.Slot.StartTime,
		ScheduledEnd:     in.Slot.EndTime,
		Status:           model.StatusBooked,
		IsEmergency:      in.IsEmergency,
		OwnerNotes:       in.OwnerNotes,
		HomeAddress:      in.HomeAddress,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.t.lock("appt:" + a.ID)
	m.t.appts[a.ID] = a
	return a, nil
}

func (m memAppts) LockForUpdate(_ context.Context, id string) (model.Appointment, error) {
	m.t.lock("appt:" + id)
	a, ok := m.t.readAppt(id)
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	return a, nil
}

func (m memAppts) Transition(_ context.Context, id string, tr model.Transition) (model.Appointment, error) {
	if err := m.t.s.failTransition; err != nil {
		return model.Appointment{}, err
	}
	m.t.lock("appt:" + id)
	a, ok := m.t.readAppt(id)
	if !ok || !model.CanTransition(a.Status, tr.To) {
		return model.Appointment{}, storage.ErrInvalidTransition
	}
	a.Status = tr.To
	a.UpdatedAt = tr.At
	switch tr.To {
	case model.StatusRescheduled:
		slotID := tr.Slot.SlotID
		a.SlotID = &slotID
		a.VetID = tr.Slot.VetID
		a.ScheduledDate = tr.Slot.Date
		a.ScheduledStart = tr.Slot.StartTime
		a.ScheduledEnd = tr.Slot.EndTime
	case model.StatusCancelledByOwner:
		by, at := tr.CancelledBy, tr.At
		a.CancelledBy = &by
		a.CancelledAt = &at
		a.CancellationReason = tr.CancellationReason
	}
	m.t.appts[id] = a
	return a, nil
}

type fakeCatalog struct {
	clinics  map[string]catalog.Clinic
	services map[int]catalog.Service
	pets     map[string]catalog.Pet
	err      error
}

func (c *fakeCatalog) Clinic(_ context.Context, id string) (catalog.Clinic, error) {
	if c.err != nil {
		return catalog.Clinic{}, c.err
	}
	cl, ok := c.clinics[id]
	if !ok {
		return catalog.Clinic{}, catalog.ErrNotFound
	}
	return cl, nil
}

func (c *fakeCatalog) Service(_ context.Context, id int) (catalog.Service, error) {
	svc, ok := c.services[id]
	if !ok {
		return catalog.Service{}, catalog.ErrNotFound
	}
	return svc, nil
}

func (c *fakeCatalog) PetOwnedBy(_ context.Context, petID, ownerID string) (catalog.Pet, error) {
	p, ok := c.pets[petID]
	if !ok || p.OwnerID != ownerID {
		return catalog.Pet{}, catalog.ErrNotFound
	}
	return p, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []model.EventKind
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, kind model.EventKind, _ model.Appointment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
	return n.err
}

func (n *recordingNotifier) events() []model.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.EventKind(nil), n.kinds...)
}

type sequenceCodes struct {
	mu    sync.Mutex
	codes []string
	n     int
}

func (s *sequenceCodes) Generate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n >= len(s.codes) {
		return "", errors.New("out of codes")
	}
	c := s.codes[s.n]
	s.n++
	return c, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
