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

type SlotRepository struct {
	pool *db.Pool
}

func NewSlotRepository(pool *db.Pool) *SlotRepository {
	return &SlotRepository{pool: pool}
}

// SlotQuery selects offerable slots. From/To bound slot_date inclusively; a
// zero To means no upper bound.
type SlotQuery struct {
	ClinicID  string
	ServiceID int
	Type      model.SlotType
	VetID     string
	From      time.Time
	To        time.Time
}

const slotColumns = `
	s.id::text, s.clinic_id::text, s.vet_id::text, COALESCE(v.display_name, ''), s.service_id,
	s.slot_date, s.start_time, s.end_time, s.slot_type, s.is_blocked, s.max_bookings, s.current_bookings`

const slotFrom = `
	FROM availability_slots s
	LEFT JOIN vets v ON v.id = s.vet_id`

func scanSlot(row pgx.Row) (model.Slot, error) {
	var (
		s          model.Slot
		vetID      *string
		serviceID  *int32
		start, end pgtype.Time
		slotType   string
	)
	if err := row.Scan(
		&s.ID, &s.ClinicID, &vetID, &s.VetName, &serviceID,
		&s.Date, &start, &end, &slotType, &s.IsBlocked, &s.MaxBookings, &s.CurrentBookings,
	); err != nil {
		return model.Slot{}, err
	}
	s.VetID = vetID
	if serviceID != nil {
		id := int(*serviceID)
		s.ServiceID = &id
	}
	s.StartTime = clockFromPg(start)
	s.EndTime = clockFromPg(end)
	s.Type = model.SlotType(slotType)
	return s, nil
}

// LockForUpdate fetches the slot and holds its row lock until tx ends. The
// lock is granted for full or blocked slots too; callers check IsOfferable.
func (r *SlotRepository) LockForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Slot, error) {
	// FOR UPDATE OF s: the vets join is display only and must not be locked.
	s, err := scanSlot(tx.QueryRow(ctx, `SELECT`+slotColumns+slotFrom+`
		WHERE s.id = $1
		FOR UPDATE OF s`, id))
	if err != nil {
		return model.Slot{}, classify("lock slot", err)
	}
	return s, nil
}

// Increment takes one unit of capacity. The guard keeps the counter within
// bounds even if a caller skipped the offerable check.
func (r *SlotRepository) Increment(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE availability_slots
		SET current_bookings = current_bookings + 1,
			updated_at = now()
		WHERE id = $1 AND current_bookings < max_bookings
	`, id)
	if err != nil {
		return classify("increment slot", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotExhausted
	}
	return nil
}

// Decrement releases one unit of capacity, never going below zero.
func (r *SlotRepository) Decrement(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE availability_slots
		SET current_bookings = GREATEST(current_bookings - 1, 0),
			updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return classify("decrement slot", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get is a non-locking read.
func (r *SlotRepository) Get(ctx context.Context, id string) (model.Slot, error) {
	s, err := scanSlot(r.pool.QueryRow(ctx, `SELECT`+slotColumns+slotFrom+`
		WHERE s.id = $1`, id))
	if err != nil {
		return model.Slot{}, classify("get slot", err)
	}
	return s, nil
}

// QueryOfferable lists offerable slots ordered by date then start time. The
// result is a snapshot for display; bookings re-check under lock.
func (r *SlotRepository) QueryOfferable(ctx context.Context, q SlotQuery) ([]model.Slot, error) {
	where, args := offerableWhere(q)
	rows, err := r.pool.Query(ctx, `SELECT`+slotColumns+slotFrom+`
		WHERE `+where+`
		ORDER BY s.slot_date ASC, s.start_time ASC`, args...)
	if err != nil {
		return nil, classify("query slots", err)
	}
	defer rows.Close()

	var slots []model.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, classify("scan slot", err)
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("query slots", err)
	}
	return slots, nil
}

// FindEarliestOfferable returns the first offerable slot on or after q.From.
func (r *SlotRepository) FindEarliestOfferable(ctx context.Context, q SlotQuery) (model.Slot, error) {
	q.To = time.Time{}
	where, args := offerableWhere(q)
	s, err := scanSlot(r.pool.QueryRow(ctx, `SELECT`+slotColumns+slotFrom+`
		WHERE `+where+`
		ORDER BY s.slot_date ASC, s.start_time ASC
		LIMIT 1`, args...))
	if err != nil {
		return model.Slot{}, classify("find earliest slot", err)
	}
	return s, nil
}

func offerableWhere(q SlotQuery) (string, []any) {
	conds := []string{
		"s.clinic_id = $1",
		"s.slot_type = $2",
		"(s.service_id IS NULL OR s.service_id = $3)",
		"s.is_blocked = false",
		"s.current_bookings < s.max_bookings",
		"s.slot_date >= $4",
	}
	args := []any{q.ClinicID, string(q.Type), q.ServiceID, dateOnly(q.From)}
	if !q.To.IsZero() {
		args = append(args, dateOnly(q.To))
		conds = append(conds, fmt.Sprintf("s.slot_date <= $%d", len(args)))
	}
	if q.VetID != "" {
		args = append(args, q.VetID)
		conds = append(conds, fmt.Sprintf("s.vet_id = $%d", len(args)))
	}
	return strings.Join(conds, " AND "), args
}
