package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/findmyvet/vetbook/libs/calendar"
	"github.com/findmyvet/vetbook/libs/httpx"
	"github.com/findmyvet/vetbook/services/booking-service/internal/booking"
	"github.com/findmyvet/vetbook/services/booking-service/internal/identity"
	"github.com/findmyvet/vetbook/services/booking-service/internal/model"
	"github.com/findmyvet/vetbook/services/booking-service/internal/outbox"
	"github.com/findmyvet/vetbook/services/booking-service/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type Engine interface {
	Book(ctx context.Context, req booking.BookRequest) (model.Appointment, error)
	Reschedule(ctx context.Context, req booking.RescheduleRequest) (model.Appointment, error)
	Cancel(ctx context.Context, req booking.CancelRequest) (model.Appointment, error)
}

type AppointmentReader interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	GetByCode(ctx context.Context, code string) (model.Appointment, error)
	ListForOwner(ctx context.Context, ownerID string, f model.ListFilter) ([]model.Appointment, int, error)
}

type AppointmentHandler struct {
	engine Engine
	appts  AppointmentReader
	view   viewer
	logger *slog.Logger
	now    func() time.Time
}

func NewAppointmentHandler(engine Engine, appts AppointmentReader, cat Catalog, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{
		engine: engine,
		appts:  appts,
		view:   viewer{catalog: cat, logger: logger},
		logger: logger,
		now:    time.Now,
	}
}

type createAppointmentRequest struct {
	ClinicID         string  `json:"clinic_id"`
	SlotID           string  `json:"slot_id"`
	PetID            string  `json:"pet_id"`
	ServiceID        int     `json:"service_id"`
	AppointmentType  string  `json:"appointment_type"`
	OwnerNotes       *string `json:"owner_notes"`
	HomeAddressLine1 *string `json:"home_address_line1"`
	HomeAddressLine2 *string `json:"home_address_line2"`
	HomeCity         *string `json:"home_city"`
	HomeState        *string `json:"home_state"`
	HomePostalCode   *string `json:"home_postal_code"`
	HomeAccessNotes  *string `json:"home_access_notes"`
}

func (req createAppointmentRequest) homeAddress() *model.HomeAddress {
	fields := []*string{req.HomeAddressLine1, req.HomeAddressLine2, req.HomeCity, req.HomeState, req.HomePostalCode, req.HomeAccessNotes}
	if lo.EveryBy(fields, func(f *string) bool { return f == nil }) {
		return nil
	}
	return &model.HomeAddress{
		Line1:       lo.FromPtr(req.HomeAddressLine1),
		Line2:       lo.FromPtr(req.HomeAddressLine2),
		City:        lo.FromPtr(req.HomeCity),
		State:       lo.FromPtr(req.HomeState),
		PostalCode:  lo.FromPtr(req.HomePostalCode),
		AccessNotes: lo.FromPtr(req.HomeAccessNotes),
	}
}

type confirmationResponse struct {
	Appointment      appointmentView `json:"appointment"`
	Message          string          `json:"message"`
	AddToCalendarURL string          `json:"add_to_calendar_url"`
}

type listResponse struct {
	Appointments []appointmentView `json:"appointments"`
	Total        int               `json:"total"`
	Page         int               `json:"page"`
	PageSize     int               `json:"page_size"`
}

type rescheduleRequest struct {
	NewSlotID string `json:"new_slot_id"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}

	appt, err := h.engine.Book(r.Context(), booking.BookRequest{
		ClinicID:    strings.TrimSpace(req.ClinicID),
		SlotID:      strings.TrimSpace(req.SlotID),
		PetID:       strings.TrimSpace(req.PetID),
		ServiceID:   req.ServiceID,
		Type:        model.SlotType(strings.TrimSpace(req.AppointmentType)),
		OwnerID:     identity.UserIDFromContext(r.Context()),
		OwnerNotes:  lo.FromPtr(req.OwnerNotes),
		HomeAddress: req.homeAddress(),
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	httpx.AnnotateLog(r.Context(), "appointment_id", appt.ID)

	httpx.WriteJSON(w, http.StatusCreated, confirmationResponse{
		Appointment:      h.view.appointment(r.Context(), appt),
		Message:          "Appointment booked successfully!",
		AddToCalendarURL: calendarPath(appt.ID),
	})
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ListFilter{Upcoming: true, Page: 1, PageSize: model.DefaultPageSize, Today: h.now().UTC()}

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := model.Status(raw)
		if !status.Valid() {
			badRequest(w, "invalid status")
			return
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(q.Get("upcoming")); raw != "" {
		upcoming, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(w, "upcoming must be a boolean")
			return
		}
		filter.Upcoming = upcoming
	}
	if raw := strings.TrimSpace(q.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 || page > model.MaxPage {
			badRequest(w, fmt.Sprintf("page must be between 1 and %d", model.MaxPage))
			return
		}
		filter.Page = page
	}
	if raw := strings.TrimSpace(q.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 || size > model.MaxPageSize {
			badRequest(w, fmt.Sprintf("page_size must be between 1 and %d", model.MaxPageSize))
			return
		}
		filter.PageSize = size
	}

	items, total, err := h.appts.ListForOwner(r.Context(), identity.UserIDFromContext(r.Context()), filter)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	views := make([]appointmentView, 0, len(items))
	for _, a := range items {
		views = append(views, h.view.appointment(r.Context(), a))
	}
	httpx.WriteJSON(w, http.StatusOK, listResponse{
		Appointments: views,
		Total:        total,
		Page:         filter.Page,
		PageSize:     filter.PageSize,
	})
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	appt, ok := h.ownedAppointment(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.view.appointment(r.Context(), appt))
}

// GetByCode needs no credential: the code itself is the bearer of access.
func (h *AppointmentHandler) GetByCode(w http.ResponseWriter, r *http.Request) {
	appt, err := h.appts.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.readError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.view.appointment(r.Context(), appt))
}

func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	appt, err := h.engine.Reschedule(r.Context(), booking.RescheduleRequest{
		AppointmentID: chi.URLParam(r, "id"),
		NewSlotID:     strings.TrimSpace(req.NewSlotID),
		CallerID:      identity.UserIDFromContext(r.Context()),
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.view.appointment(r.Context(), appt))
}

// Cancel accepts an empty body; the reason is optional.
func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid json body")
		return
	}
	appt, err := h.engine.Cancel(r.Context(), booking.CancelRequest{
		AppointmentID: chi.URLParam(r, "id"),
		CallerID:      identity.UserIDFromContext(r.Context()),
		Reason:        req.Reason,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.view.appointment(r.Context(), appt))
}

func (h *AppointmentHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	appt, ok := h.ownedAppointment(w, r)
	if !ok {
		return
	}
	view := h.view.appointment(r.Context(), appt)

	snap := appt.Snapshot()
	doc, err := calendar.Render(calendar.Event{
		UID:         appt.ID + "@findmyvet.com",
		Summary:     fmt.Sprintf("Vet Appointment - %s at %s", view.Pet.Name, view.Clinic.Name),
		Description: fmt.Sprintf("%s for %s\nConfirmation: %s", view.ServiceName, view.Pet.Name, appt.ConfirmationCode),
		Location:    joinNonEmpty(view.Clinic.AddressLine1, view.Clinic.City, view.Clinic.State, view.Clinic.PostalCode),
		Start:       snap.Start(time.UTC),
		End:         snap.End(time.UTC),
		Cancelled:   !appt.Status.Active(),
		Sequence:    outbox.Sequence(appt),
		Stamp:       appt.UpdatedAt,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", calendar.FileName(appt.ConfirmationCode)))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, doc)
}

// ownedAppointment loads the {id} appointment and writes 404/403 itself when
// the caller may not see it.
func (h *AppointmentHandler) ownedAppointment(w http.ResponseWriter, r *http.Request) (model.Appointment, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "appointment not found")
		return model.Appointment{}, false
	}
	appt, err := h.appts.Get(r.Context(), id.String())
	if err != nil {
		h.readError(w, r, err)
		return model.Appointment{}, false
	}
	if appt.OwnerID != identity.UserIDFromContext(r.Context()) {
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "not authorized to view this appointment")
		return model.Appointment{}, false
	}
	return appt, true
}

func (h *AppointmentHandler) readError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "appointment not found")
		return
	}
	writeDomainError(w, r, h.logger, err)
}

func calendarPath(id string) string {
	return "/api/v1/appointments/" + id + "/calendar.ics"
}

func joinNonEmpty(parts ...string) string {
	return strings.Join(lo.Compact(parts), ", ")
}
