// Package booking couples the slot and appointment ledgers into the three
// atomic operations owners perform: book, reschedule and cancel.
//
// Lock order within a transaction: the appointment row first, then slot rows
// in ascending id order. Every operation follows it, so two transactions
// never wait on each other in a cycle.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/findmyvet/vetbook/libs/db"
	otelx "github.com/findmyvet/vetbook/libs/otel"
	"github.com/findmyvet/vetbook/services/booking-service/internal/catalog"
	"github.com/findmyvet/vetbook/services/booking-service/internal/model"
	"github.com/findmyvet/vetbook/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultCodeAttempts = 5
	notifyTimeout       = 5 * time.Second
)

type Catalog interface {
	Clinic(ctx context.Context, id string) (catalog.Clinic, error)
	Service(ctx context.Context, id int) (catalog.Service, error)
	PetOwnedBy(ctx context.Context, petID, ownerID string) (catalog.Pet, error)
}

// Notifier is told about every committed change. Its errors are logged and
// never affect the result of the operation that triggered it.
type Notifier interface {
	Notify(ctx context.Context, kind model.EventKind, appt model.Appointment) error
}

type Engine struct {
	tx           storage.TxRunner
	catalog      Catalog
	codes        CodeSource
	notifier     Notifier
	logger       *slog.Logger
	tracer       trace.Tracer
	codeAttempts int
	now          func() time.Time
}

type Option func(*Engine)

func WithCodeAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.codeAttempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(tx storage.TxRunner, cat Catalog, codes CodeSource, notifier Notifier, logger *slog.Logger, opts ...Option) *Engine {
	if codes == nil {
		codes = RandomCodes{}
	}
	e := &Engine{
		tx:           tx,
		catalog:      cat,
		codes:        codes,
		notifier:     notifier,
		logger:       logger,
		tracer:       otelx.Tracer("github.com/findmyvet/vetbook/booking"),
		codeAttempts: defaultCodeAttempts,
		now:          time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Book creates an appointment on req.SlotID and takes one unit of its
// capacity, atomically.
func (e *Engine) Book(ctx context.Context, req BookRequest) (model.Appointment, error) {
	ctx, span := e.tracer.Start(ctx, "booking.Book", trace.WithAttributes(
		attribute.String("booking.slot_id", req.SlotID),
		attribute.String("booking.clinic_id", req.ClinicID),
	))
	defer span.End()

	appt, err := e.book(ctx, req)
	if err = e.finish(span, "book", err); err != nil {
		return model.Appointment{}, err
	}
	span.SetAttributes(attribute.String("booking.appointment_id", appt.ID))
	e.notify(ctx, model.EventBooked, appt)
	return appt, nil
}

func (e *Engine) book(ctx context.Context, req BookRequest) (model.Appointment, error) {
	if err := req.normalize(); err != nil {
		return model.Appointment{}, err
	}

	// Reference data is read before the transaction: it is not part of the
	// locked state and holding row locks across these lookups buys nothing.
	clinic, err := e.catalog.Clinic(ctx, req.ClinicID)
	if err != nil || !clinic.IsActive {
		return model.Appointment{}, lookupErr(err, "clinic not found")
	}
	if _, err := e.catalog.PetOwnedBy(ctx, req.PetID, req.OwnerID); err != nil {
		return model.Appointment{}, lookupErr(err, "pet not found")
	}
	svc, err := e.catalog.Service(ctx, req.ServiceID)
	if err != nil || !svc.IsActive {
		return model.Appointment{}, lookupErr(err, "service not found")
	}

	var appt model.Appointment
	err = e.tx.InTx(ctx, func(ctx context.Context, l storage.Ledgers) error {
		slot, err := l.Slots().LockForUpdate(ctx, req.SlotID)
		if err != nil {
			return ledgerErr(err, "slot not found")
		}
		if slot.ClinicID != req.ClinicID {
			return invalid("slot does not belong to this clinic")
		}
		// Authoritative availability check: the row lock is held until commit.
		if !slot.IsOfferable() {
			return conflict("slot is no longer available")
		}
		if !slot.IsCompatible(req.ClinicID, req.ServiceID, req.Type) {
			return invalid("slot does not accept this service or appointment type")
		}

		in := model.NewAppointment{
			ClinicID:    req.ClinicID,
			OwnerID:     req.OwnerID,
			PetID:       req.PetID,
			ServiceID:   req.ServiceID,
			Type:        req.Type,
			Slot:        slot.Snapshot(),
			IsEmergency: svc.IsEmergency,
			OwnerNotes:  req.OwnerNotes,
			HomeAddress: req.HomeAddress,
		}
		appt, err = e.createWithCode(ctx, l.Appointments(), in)
		if err != nil {
			return err
		}
		if err := l.Slots().Increment(ctx, slot.ID); err != nil {
			return ledgerErr(err, "slot not found")
		}
		return nil
	})
	return appt, err
}

// createWithCode inserts the appointment, drawing a fresh code after each
// collision. The ledger isolates each attempt in a savepoint, so the
// enclosing transaction and its slot lock survive a retry.
func (e *Engine) createWithCode(ctx context.Context, appts storage.AppointmentLedger, in model.NewAppointment) (model.Appointment, error) {
	for attempt := 1; ; attempt++ {
		code, err := e.codes.Generate()
		if err != nil {
			return model.Appointment{}, internal("generate confirmation code", err)
		}
		in.ConfirmationCode = code
		appt, err := appts.Create(ctx, in)
		if err == nil {
			return appt, nil
		}
		if !errors.Is(err, storage.ErrDuplicateCode) {
			return model.Appointment{}, ledgerErr(err, "appointment not found")
		}
		e.logger.WarnContext(ctx, "confirmation code collision", "attempt", attempt)
		if attempt >= e.codeAttempts {
			return model.Appointment{}, conflict("could not allocate a unique confirmation code, please retry")
		}
	}
}

// Reschedule moves an appointment to req.NewSlotID, releasing the old slot
// and taking the new one in the same transaction.
func (e *Engine) Reschedule(ctx context.Context, req RescheduleRequest) (model.Appointment, error) {
	ctx, span := e.tracer.Start(ctx, "booking.Reschedule", trace.WithAttributes(
		attribute.String("booking.appointment_id", req.AppointmentID),
		attribute.String("booking.slot_id", req.NewSlotID),
	))
	defer span.End()

	appt, err := e.reschedule(ctx, req)
	if err = e.finish(span, "reschedule", err); err != nil {
		return model.Appointment{}, err
	}
	e.notify(ctx, model.EventRescheduled, appt)
	return appt, nil
}

func (e *Engine) reschedule(ctx context.Context, req RescheduleRequest) (model.Appointment, error) {
	if err := req.normalize(); err != nil {
		return model.Appointment{}, err
	}

	var out model.Appointment
	err := e.tx.InTx(ctx, func(ctx context.Context, l storage.Ledgers) error {
		appt, err := l.Appointments().LockForUpdate(ctx, req.AppointmentID)
		if err != nil {
			return ledgerErr(err, "appointment not found")
		}
		if appt.OwnerID != req.CallerID {
			return forbidden("not allowed to modify this appointment")
		}
		if !appt.Status.Active() {
			return invalid("cannot reschedule an appointment that is %s", appt.Status)
		}
		oldSlotID := ""
		if appt.SlotID != nil {
			oldSlotID = *appt.SlotID
		}
		if oldSlotID == req.NewSlotID {
			return invalid("appointment is already on this slot")
		}

		slots, err := lockSlots(ctx, l.Slots(), oldSlotID, req.NewSlotID)
		if err != nil {
			return err
		}
		next, ok := slots[req.NewSlotID]
		if !ok {
			return notFound("slot not found")
		}
		if next.ClinicID != appt.ClinicID {
			return invalid("new slot belongs to a different clinic")
		}
		if !next.IsOfferable() {
			return conflict("slot is no longer available")
		}
		if !next.IsCompatible(appt.ClinicID, appt.ServiceID, appt.Type) {
			return invalid("new slot does not accept this service or appointment type")
		}

		if _, held := slots[oldSlotID]; held {
			if err := l.Slots().Decrement(ctx, oldSlotID); err != nil {
				return ledgerErr(err, "slot not found")
			}
		} else if oldSlotID != "" {
			e.logger.WarnContext(ctx, "previous slot missing on reschedule", "appointment_id", appt.ID, "slot_id", oldSlotID)
		}
		if err := l.Slots().Increment(ctx, next.ID); err != nil {
			return ledgerErr(err, "slot not found")
		}

		snap := next.Snapshot()
		out, err = l.Appointments().Transition(ctx, appt.ID, model.Transition{
			To:   model.StatusRescheduled,
			Slot: &snap,
			At:   e.now().UTC(),
		})
		if err != nil {
			return ledgerErr(err, "appointment not found")
		}
		return nil
	})
	return out, err
}

// lockSlots locks the given slots in ascending id order and returns the ones
// that exist. Empty ids are skipped.
func lockSlots(ctx context.Context, slots storage.SlotLedger, ids ...string) (map[string]model.Slot, error) {
	ordered := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			ordered = append(ordered, id)
		}
	}
	sort.Strings(ordered)

	locked := make(map[string]model.Slot, len(ordered))
	for _, id := range ordered {
		s, err := slots.LockForUpdate(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, ledgerErr(err, "slot not found")
		}
		locked[id] = s
	}
	return locked, nil
}

// Cancel marks the appointment cancelled by its owner and releases its slot.
func (e *Engine) Cancel(ctx context.Context, req CancelRequest) (model.Appointment, error) {
	ctx, span := e.tracer.Start(ctx, "booking.Cancel", trace.WithAttributes(
		attribute.String("booking.appointment_id", req.AppointmentID),
	))
	defer span.End()

	appt, err := e.cancel(ctx, req)
	if err = e.finish(span, "cancel", err); err != nil {
		return model.Appointment{}, err
	}
	e.notify(ctx, model.EventCancelled, appt)
	return appt, nil
}

func (e *Engine) cancel(ctx context.Context, req CancelRequest) (model.Appointment, error) {
	if err := req.normalize(); err != nil {
		return model.Appointment{}, err
	}

	var out model.Appointment
	err := e.tx.InTx(ctx, func(ctx context.Context, l storage.Ledgers) error {
		appt, err := l.Appointments().LockForUpdate(ctx, req.AppointmentID)
		if err != nil {
			return ledgerErr(err, "appointment not found")
		}
		if appt.OwnerID != req.CallerID {
			return forbidden("not allowed to modify this appointment")
		}
		if !appt.Status.Active() {
			return invalid("cannot cancel an appointment that is %s", appt.Status)
		}

		out, err = l.Appointments().Transition(ctx, appt.ID, model.Transition{
			To:                 model.StatusCancelledByOwner,
			CancelledBy:        req.CallerID,
			CancellationReason: req.Reason,
			At:                 e.now().UTC(),
		})
		if err != nil {
			return ledgerErr(err, "appointment not found")
		}
		if appt.SlotID != nil {
			err := l.Slots().Decrement(ctx, *appt.SlotID)
			if errors.Is(err, storage.ErrNotFound) {
				e.logger.WarnContext(ctx, "slot missing on cancel", "appointment_id", appt.ID, "slot_id", *appt.SlotID)
			} else if err != nil {
				return ledgerErr(err, "slot not found")
			}
		}
		return nil
	})
	return out, err
}

// finish records the outcome on span and makes sure err carries a kind.
func (e *Engine) finish(span trace.Span, op string, err error) error {
	if err == nil {
		span.SetAttributes(attribute.String("booking.outcome", "ok"))
		return nil
	}
	err = ledgerErr(err, "not found")
	kind := Kind(err)
	span.SetAttributes(attribute.String("booking.outcome", kind.Error()))
	if kind == ErrInternal {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("booking operation failed", "op", op, "err", err)
	}
	return err
}

func (e *Engine) notify(ctx context.Context, kind model.EventKind, appt model.Appointment) {
	if e.notifier == nil {
		return
	}
	// The change is committed; a caller that went away must not lose the event.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := e.notifier.Notify(ctx, kind, appt); err != nil {
		e.logger.WarnContext(ctx, "notification dispatch failed",
			"event", string(kind),
			"appointment_id", appt.ID,
			"err", err,
		)
	}
}

func lookupErr(err error, msg string) error {
	if err == nil || errors.Is(err, catalog.ErrNotFound) {
		return notFound("%s", msg)
	}
	return internal("catalog lookup", err)
}

// ledgerErr gives storage errors their kind. Errors that already carry one
// pass through.
func ledgerErr(err error, notFoundMsg string) error {
	var be *Error
	switch {
	case errors.As(err, &be):
		return err
	case errors.Is(err, storage.ErrNotFound):
		return notFound("%s", notFoundMsg)
	case errors.Is(err, storage.ErrLockTimeout), db.IsLockTimeout(err):
		return conflict("resource is busy, try again")
	case errors.Is(err, storage.ErrSlotExhausted):
		return conflict("slot is no longer available")
	case errors.Is(err, storage.ErrInvalidTransition):
		return invalid("appointment can no longer be changed")
	case errors.Is(err, storage.ErrDuplicateCode):
		return conflict("confirmation code already in use")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return internal("request aborted", err)
	default:
		return internal("storage", err)
	}
}
