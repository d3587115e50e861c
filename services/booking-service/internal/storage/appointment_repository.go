package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/findmyvet/vetbook/libs/db"
	"github.com/findmyvet/vetbook/services/booking-service/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

const appointmentColumns = `
	id::text, confirmation_code, clinic_id::text, slot_id::text, owner_id::text, pet_id::text, vet_id::text,
	service_id, appointment_type, scheduled_date, scheduled_start, scheduled_end, status, is_emergency,
	COALESCE(owner_notes, ''),
	home_address_line1, COALESCE(home_address_line2, ''), COALESCE(home_city, ''), COALESCE(home_state, ''),
	COALESCE(home_postal_code, ''), COALESCE(home_access_notes, ''),
	cancelled_by::text, cancelled_at, COALESCE(cancellation_reason, ''), created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		a          model.Appointment
		serviceID  int32
		kind       string
		status     string
		start, end pgtype.Time
		line1      *string
		addr       model.HomeAddress
	)
	if err := row.Scan(
		&a.ID, &a.ConfirmationCode, &a.ClinicID, &a.SlotID, &a.OwnerID, &a.PetID, &a.VetID,
		&serviceID, &kind, &a.ScheduledDate, &start, &end, &status, &a.IsEmergency,
		&a.OwnerNotes,
		&line1, &addr.Line2, &addr.City, &addr.State, &addr.PostalCode, &addr.AccessNotes,
		&a.CancelledBy, &a.CancelledAt, &a.CancellationReason, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return model.Appointment{}, err
	}
	a.ServiceID = int(serviceID)
	a.Type = model.SlotType(kind)
	a.Status = model.Status(status)
	a.ScheduledStart = clockFromPg(start)
	a.ScheduledEnd = clockFromPg(end)
	if line1 != nil {
		addr.Line1 = *line1
		a.HomeAddress = &addr
	}
	return a, nil
}

// Create inserts a booked appointment inside a savepoint so that a confirmation
// code collision leaves tx usable for a retry with a fresh code.
func (r *AppointmentRepository) Create(ctx context.Context, tx pgx.Tx, in model.NewAppointment) (model.Appointment, error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return model.Appointment{}, classify("savepoint", err)
	}
	defer func() { _ = sp.Rollback(ctx) }()

	var addr model.HomeAddress
	var line1 *string
	if in.HomeAddress != nil {
		addr = *in.HomeAddress
		line1 = &addr.Line1
	}

	a, err := scanAppointment(sp.QueryRow(ctx, `
		INSERT INTO appointments (
			confirmation_code, clinic_id, slot_id, owner_id, pet_id, vet_id, service_id, appointment_type,
			scheduled_date, scheduled_start, scheduled_end, status, is_emergency, owner_notes,
			home_address_line1, home_address_line2, home_city, home_state, home_postal_code, home_access_notes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''),
			$15, NULLIF($16, ''), NULLIF($17, ''), NULLIF($18, ''), NULLIF($19, ''), NULLIF($20, ''))
		RETURNING`+appointmentColumns,
		in.ConfirmationCode, in.ClinicID, in.Slot.SlotID, in.OwnerID, in.PetID, in.Slot.VetID, in.ServiceID, string(in.Type),
		dateOnly(in.Slot.Date), clockToPg(in.Slot.StartTime), clockToPg(in.Slot.EndTime), string(model.StatusBooked), in.IsEmergency, in.OwnerNotes,
		line1, addr.Line2, addr.City, addr.State, addr.PostalCode, addr.AccessNotes,
	))
	if err != nil {
		if db.IsUniqueViolation(err) && strings.Contains(db.ConstraintName(err), "confirmation_code") {
			return model.Appointment{}, ErrDuplicateCode
		}
		return model.Appointment{}, classify("insert appointment", err)
	}
	if err := sp.Commit(ctx); err != nil {
		return model.Appointment{}, classify("release savepoint", err)
	}
	return a, nil
}

func (r *AppointmentRepository) LockForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error) {
	a, err := scanAppointment(tx.QueryRow(ctx, `SELECT`+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE`, id))
	if err != nil {
		return model.Appointment{}, classify("lock appointment", err)
	}
	return a, nil
}

// Transition applies t only if the current status may move to t.To. The
// guard is in the UPDATE itself, so a caller working from a stale read
// cannot write an illegal transition.
func (r *AppointmentRepository) Transition(ctx context.Context, tx pgx.Tx, id string, t model.Transition) (model.Appointment, error) {
	from := model.AllowedFrom(t.To)
	if len(from) == 0 {
		return model.Appointment{}, ErrInvalidTransition
	}
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var row pgx.Row
	switch t.To {
	case model.StatusRescheduled:
		if t.Slot == nil {
			return model.Appointment{}, fmt.Errorf("reschedule transition without slot: %w", ErrInvalidTransition)
		}
		row = tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = $2,
				slot_id = $3,
				vet_id = $4,
				scheduled_date = $5,
				scheduled_start = $6,
				scheduled_end = $7,
				updated_at = $8
			WHERE id = $1 AND status = ANY($9)
			RETURNING`+appointmentColumns,
			id, string(t.To), t.Slot.SlotID, t.Slot.VetID, dateOnly(t.Slot.Date),
			clockToPg(t.Slot.StartTime), clockToPg(t.Slot.EndTime), at, allowed)
	case model.StatusCancelledByOwner:
		row = tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = $2,
				cancelled_by = $3,
				cancelled_at = $4,
				cancellation_reason = NULLIF($5, ''),
				updated_at = $4
			WHERE id = $1 AND status = ANY($6)
			RETURNING`+appointmentColumns,
			id, string(t.To), t.CancelledBy, at, t.CancellationReason, allowed)
	default:
		return model.Appointment{}, ErrInvalidTransition
	}

	a, err := scanAppointment(row)
	if err != nil {
		if db.IsNotFound(err) {
			return model.Appointment{}, ErrInvalidTransition
		}
		return model.Appointment{}, classify("transition appointment", err)
	}
	return a, nil
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	return r.getWhere(ctx, r.pool, "id = $1", id)
}

// GetByCode looks up by confirmation code, case-insensitively.
func (r *AppointmentRepository) GetByCode(ctx context.Context, code string) (model.Appointment, error) {
	return r.getWhere(ctx, r.pool, "confirmation_code = $1", strings.ToUpper(strings.TrimSpace(code)))
}

func (r *AppointmentRepository) getWhere(ctx context.Context, q querier, where string, arg any) (model.Appointment, error) {
	a, err := scanAppointment(q.QueryRow(ctx, `SELECT`+appointmentColumns+`
		FROM appointments
		WHERE `+where, arg))
	if err != nil {
		return model.Appointment{}, classify("get appointment", err)
	}
	return a, nil
}

// ListForOwner returns one page of the owner's appointments, newest schedule
// first, and the total number matching the filter.
func (r *AppointmentRepository) ListForOwner(ctx context.Context, ownerID string, f model.ListFilter) ([]model.Appointment, int, error) {
	f = f.Normalize()
	conds := []string{"owner_id = $1"}
	args := []any{ownerID}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Upcoming {
		today := f.Today
		if today.IsZero() {
			today = time.Now().UTC()
		}
		args = append(args, dateOnly(today))
		conds = append(conds, fmt.Sprintf("scheduled_date >= $%d", len(args)),
			fmt.Sprintf("status IN ('%s', '%s')", model.StatusBooked, model.StatusRescheduled))
	}
	where := strings.Join(conds, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM appointments WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, classify("count appointments", err)
	}

	pageArgs := append(append([]any{}, args...), f.PageSize, f.Offset())
	rows, err := r.pool.Query(ctx, `SELECT`+appointmentColumns+`
		FROM appointments
		WHERE `+where+fmt.Sprintf(`
		ORDER BY scheduled_date DESC, scheduled_start DESC
		LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2), pageArgs...)
	if err != nil {
		return nil, 0, classify("list appointments", err)
	}
	defer rows.Close()

	var items []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, classify("scan appointment", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify("list appointments", err)
	}
	return items, total, nil
}
