// Package availability answers read-only questions about open slots. Results
// are snapshots; a booking re-checks the slot under lock.
package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/findmyvet/vetbook/services/booking-service/internal/catalog"
	"github.com/findmyvet/vetbook/services/booking-service/internal/model"
	"github.com/findmyvet/vetbook/services/booking-service/internal/storage"
	"github.com/samber/lo"
)

// MaxRangeDays bounds a single availability query.
const MaxRangeDays = 14

var (
	ErrInvalidRange = errors.New("invalid date range")
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("slot is no longer available")
)

type SlotSource interface {
	QueryOfferable(ctx context.Context, q storage.SlotQuery) ([]model.Slot, error)
	FindEarliestOfferable(ctx context.Context, q storage.SlotQuery) (model.Slot, error)
	Get(ctx context.Context, id string) (model.Slot, error)
}

type Catalog interface {
	Clinic(ctx context.Context, id string) (catalog.Clinic, error)
	Service(ctx context.Context, id int) (catalog.Service, error)
}

type Query struct {
	ClinicID  string
	ServiceID int
	Type      model.SlotType
	VetID     string
	StartDate time.Time
	EndDate   time.Time
}

type Day struct {
	Date  time.Time
	Slots []model.Slot
}

type Result struct {
	Clinic  catalog.Clinic
	Service catalog.Service
	Days    []Day
}

type Service struct {
	slots   SlotSource
	catalog Catalog
	now     func() time.Time
}

func NewService(slots SlotSource, cat Catalog) *Service {
	return &Service{slots: slots, catalog: cat, now: time.Now}
}

// Slots lists offerable slots between StartDate and EndDate inclusive, one
// Day per calendar date. Dates without slots are present with no slots.
func (s *Service) Slots(ctx context.Context, q Query) (Result, error) {
	start, end := dayOf(q.StartDate), dayOf(q.EndDate)
	if end.Before(start) {
		return Result{}, fmt.Errorf("%w: end_date must be >= start_date", ErrInvalidRange)
	}
	if end.Sub(start) > MaxRangeDays*24*time.Hour {
		return Result{}, fmt.Errorf("%w: range too large (max %d days)", ErrInvalidRange, MaxRangeDays)
	}
	if q.Type == "" {
		q.Type = model.SlotInPerson
	}

	clinic, svc, err := s.lookup(ctx, q.ClinicID, q.ServiceID)
	if err != nil {
		return Result{}, err
	}

	slots, err := s.slots.QueryOfferable(ctx, storage.SlotQuery{
		ClinicID:  q.ClinicID,
		ServiceID: q.ServiceID,
		Type:      q.Type,
		VetID:     q.VetID,
		From:      start,
		To:        end,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Clinic: clinic, Service: svc, Days: groupByDay(start, end, slots)}, nil
}

// Next returns the earliest offerable slot from today in the clinic's zone.
func (s *Service) Next(ctx context.Context, q Query) (model.Slot, error) {
	if q.Type == "" {
		q.Type = model.SlotInPerson
	}
	clinic, err := s.catalog.Clinic(ctx, q.ClinicID)
	if err != nil {
		return model.Slot{}, notFound(err)
	}
	slot, err := s.slots.FindEarliestOfferable(ctx, storage.SlotQuery{
		ClinicID:  q.ClinicID,
		ServiceID: q.ServiceID,
		Type:      q.Type,
		VetID:     q.VetID,
		From:      dayOf(s.now().In(clinic.Location())),
	})
	if errors.Is(err, storage.ErrNotFound) {
		return model.Slot{}, fmt.Errorf("%w: no availability found", ErrNotFound)
	}
	return slot, err
}

// Check reports whether the slot can still take a booking.
func (s *Service) Check(ctx context.Context, id string) (model.Slot, error) {
	slot, err := s.slots.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Slot{}, fmt.Errorf("%w: slot", ErrNotFound)
	}
	if err != nil {
		return model.Slot{}, err
	}
	if !slot.IsOfferable() {
		return slot, ErrUnavailable
	}
	return slot, nil
}

func (s *Service) lookup(ctx context.Context, clinicID string, serviceID int) (catalog.Clinic, catalog.Service, error) {
	clinic, err := s.catalog.Clinic(ctx, clinicID)
	if err != nil {
		return catalog.Clinic{}, catalog.Service{}, notFound(err)
	}
	if !clinic.IsActive {
		return catalog.Clinic{}, catalog.Service{}, fmt.Errorf("%w: clinic", ErrNotFound)
	}
	svc, err := s.catalog.Service(ctx, serviceID)
	if err != nil {
		return catalog.Clinic{}, catalog.Service{}, notFound(err)
	}
	if !svc.IsActive {
		return catalog.Clinic{}, catalog.Service{}, fmt.Errorf("%w: service", ErrNotFound)
	}
	return clinic, svc, nil
}

func notFound(err error) error {
	if errors.Is(err, catalog.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func groupByDay(start, end time.Time, slots []model.Slot) []Day {
	byDate := lo.GroupBy(slots, func(s model.Slot) string {
		return s.Date.Format(time.DateOnly)
	})
	var days []Day
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, Day{Date: d, Slots: byDate[d.Format(time.DateOnly)]})
	}
	return days
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
