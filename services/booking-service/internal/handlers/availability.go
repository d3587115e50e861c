package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/findmyvet/vetbook/libs/httpx"
	"github.com/findmyvet/vetbook/services/booking-service/internal/availability"
	"github.com/findmyvet/vetbook/services/booking-service/internal/model"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type Availability interface {
	Slots(ctx context.Context, q availability.Query) (availability.Result, error)
	Next(ctx context.Context, q availability.Query) (model.Slot, error)
	Check(ctx context.Context, id string) (model.Slot, error)
}

type AvailabilityHandler struct {
	svc    Availability
	logger *slog.Logger
}

func NewAvailabilityHandler(svc Availability, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{svc: svc, logger: logger}
}

type slotsRequest struct {
	ClinicID  string  `json:"clinic_id"`
	ServiceID int     `json:"service_id"`
	StartDate string  `json:"start_date"`
	EndDate   string  `json:"end_date"`
	VetID     *string `json:"vet_id"`
	SlotType  string  `json:"slot_type"`
}

type dayView struct {
	Date  string     `json:"date"`
	Slots []slotView `json:"slots"`
}

type slotsResponse struct {
	ClinicID    string    `json:"clinic_id"`
	ClinicName  string    `json:"clinic_name"`
	ServiceID   int       `json:"service_id"`
	ServiceName string    `json:"service_name"`
	Days        []dayView `json:"days"`
}

func (h *AvailabilityHandler) Slots(w http.ResponseWriter, r *http.Request) {
	var req slotsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	q, msg := slotQuery(req.ClinicID, req.ServiceID, req.SlotType, lo.FromPtr(req.VetID))
	if msg != "" {
		badRequest(w, msg)
		return
	}
	start, err := time.Parse(time.DateOnly, req.StartDate)
	if err != nil {
		badRequest(w, "start_date must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse(time.DateOnly, req.EndDate)
	if err != nil {
		badRequest(w, "end_date must be YYYY-MM-DD")
		return
	}
	q.StartDate, q.EndDate = start, end

	res, err := h.svc.Slots(r.Context(), q)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	days := lo.Map(res.Days, func(d availability.Day, _ int) dayView {
		return dayView{Date: d.Date.Format(time.DateOnly), Slots: lo.Map(d.Slots, func(s model.Slot, _ int) slotView { return toSlotView(s) })}
	})
	httpx.WriteJSON(w, http.StatusOK, slotsResponse{
		ClinicID:    res.Clinic.ID,
		ClinicName:  res.Clinic.Name,
		ServiceID:   res.Service.ID,
		ServiceName: res.Service.Name,
		Days:        days,
	})
}

func (h *AvailabilityHandler) Next(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	serviceID, err := strconv.Atoi(strings.TrimSpace(params.Get("service_id")))
	if err != nil {
		badRequest(w, "service_id must be an integer")
		return
	}
	q, msg := slotQuery(params.Get("clinic_id"), serviceID, params.Get("slot_type"), params.Get("vet_id"))
	if msg != "" {
		badRequest(w, msg)
		return
	}
	slot, err := h.svc.Next(r.Context(), q)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toSlotView(slot))
}

func (h *AvailabilityHandler) Check(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "slotID"))
	if err != nil {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "slot not found")
		return
	}
	slot, err := h.svc.Check(r.Context(), id.String())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toSlotView(slot))
}

// slotQuery validates the shared filter fields and returns a client message
// when one is wrong.
func slotQuery(clinicID string, serviceID int, slotType, vetID string) (availability.Query, string) {
	clinic, err := uuid.Parse(strings.TrimSpace(clinicID))
	if err != nil {
		return availability.Query{}, "clinic_id must be a UUID"
	}
	if serviceID <= 0 {
		return availability.Query{}, "service_id must be a positive integer"
	}
	kind := model.SlotType(strings.TrimSpace(slotType))
	if kind == "" {
		kind = model.SlotInPerson
	}
	if !kind.Valid() {
		return availability.Query{}, "slot_type must be in_person or home_visit"
	}
	q := availability.Query{ClinicID: clinic.String(), ServiceID: serviceID, Type: kind}
	if vetID = strings.TrimSpace(vetID); vetID != "" {
		vet, err := uuid.Parse(vetID)
		if err != nil {
			return availability.Query{}, "vet_id must be a UUID"
		}
		q.VetID = vet.String()
	}
	return q, ""
}
