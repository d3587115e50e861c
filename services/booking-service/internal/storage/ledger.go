package storage

import (
	"context"
	"time"

	"github.com/findmyvet/vetbook/libs/db"
	"github.com/findmyvet/vetbook/services/booking-service/internal/model"
	"github.com/jackc/pgx/v5"
)

// SlotLedger is the locking side of the slot table, bound to one transaction.
type SlotLedger interface {
	LockForUpdate(ctx context.Context, id string) (model.Slot, error)
	Increment(ctx context.Context, id string) error
	Decrement(ctx context.Context, id string) error
}

// AppointmentLedger is the locking side of the appointment table, bound to one
// transaction.
type AppointmentLedger interface {
	Create(ctx context.Context, in model.NewAppointment) (model.Appointment, error)
	LockForUpdate(ctx context.Context, id string) (model.Appointment, error)
	Transition(ctx context.Context, id string, t model.Transition) (model.Appointment, error)
}

type Ledgers interface {
	Slots() SlotLedger
	Appointments() AppointmentLedger
}

// TxRunner runs fn in one transaction. fn returning an error, or ctx ending,
// rolls back everything fn wrote.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, l Ledgers) error) error
}

type PgTxRunner struct {
	pool  *db.Pool
	opts  db.TxOptions
	slots *SlotRepository
	appts *AppointmentRepository
}

func NewTxRunner(pool *db.Pool, slots *SlotRepository, appts *AppointmentRepository, lockTimeout, statementTimeout time.Duration) *PgTxRunner {
	return &PgTxRunner{
		pool:  pool,
		opts:  db.TxOptions{LockTimeout: lockTimeout, StatementTimeout: statementTimeout},
		slots: slots,
		appts: appts,
	}
}

func (r *PgTxRunner) InTx(ctx context.Context, fn func(ctx context.Context, l Ledgers) error) error {
	return db.InTx(ctx, r.pool, r.opts, func(tx pgx.Tx) error {
		return fn(ctx, txLedgers{tx: tx, slots: r.slots, appts: r.appts})
	})
}

type txLedgers struct {
	tx    pgx.Tx
	slots *SlotRepository
	appts *AppointmentRepository
}

func (l txLedgers) Slots() SlotLedger               { return txSlots(l) }
func (l txLedgers) Appointments() AppointmentLedger { return txAppointments(l) }

type txSlots txLedgers

func (s txSlots) LockForUpdate(ctx context.Context, id string) (model.Slot, error) {
	return s.slots.LockForUpdate(ctx, s.tx, id)
}

func (s txSlots) Increment(ctx context.Context, id string) error {
	return s.slots.Increment(ctx, s.tx, id)
}

func (s txSlots) Decrement(ctx context.Context, id string) error {
	return s.slots.Decrement(ctx, s.tx, id)
}

type txAppointments txLedgers

func (a txAppointments) Create(ctx context.Context, in model.NewAppointment) (model.Appointment, error) {
	return a.appts.Create(ctx, a.tx, in)
}

func (a txAppointments) LockForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	return a.appts.LockForUpdate(ctx, a.tx, id)
}

func (a txAppointments) Transition(ctx context.Context, id string, t model.Transition) (model.Appointment, error) {
	return a.appts.Transition(ctx, a.tx, id, t)
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
