package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	slotLength = 30 * time.Minute
	dayOpens   = 9 * time.Hour
	dayCloses  = 17 * time.Hour
	lunchFrom  = 12 * time.Hour
	lunchUntil = 13 * time.Hour
	homeVisits = 15 * time.Hour
)

type slotRow struct {
	ID          uuid.UUID
	ClinicID    uuid.UUID
	VetID       uuid.UUID
	ServiceID   *int
	Date        pgtype.Date
	Start       pgtype.Time
	End         pgtype.Time
	Type        string
	MaxBookings int
}

// buildSlots lays out half-hour slots for every vet on every day except
// Sunday. The last vet of a clinic does home visits in the late afternoon,
// and the emergency service gets the first morning slot.
func buildSlots(clinicID uuid.UUID, vetIDs []uuid.UUID, serviceIDs []int, from time.Time, days int) []slotRow {
	var out []slotRow
	first := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	for d := 0; d < days; d++ {
		date := first.AddDate(0, 0, d)
		if date.Weekday() == time.Sunday {
			continue
		}
		for vi, vetID := range vetIDs {
			for at := dayOpens; at+slotLength <= dayCloses; at += slotLength {
				if at >= lunchFrom && at < lunchUntil {
					continue
				}
				row := slotRow{
					ID:          uuid.New(),
					ClinicID:    clinicID,
					VetID:       vetID,
					Date:        pgtype.Date{Time: date, Valid: true},
					Start:       clock(at),
					End:         clock(at + slotLength),
					Type:        "in_person",
					MaxBookings: 1,
				}
				if vi == len(vetIDs)-1 && len(vetIDs) > 1 && at >= homeVisits {
					row.Type = "home_visit"
				}
				if at == dayOpens && len(serviceIDs) > 0 {
					emergency := serviceIDs[len(serviceIDs)-1]
					row.ServiceID = &emergency
					row.MaxBookings = 2
				}
				out = append(out, row)
			}
		}
	}
	return out
}

func clock(d time.Duration) pgtype.Time {
	return pgtype.Time{Microseconds: d.Microseconds(), Valid: true}
}
