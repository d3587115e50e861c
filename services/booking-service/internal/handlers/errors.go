package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/findmyvet/vetbook/libs/httpx"
	"github.com/findmyvet/vetbook/services/booking-service/internal/availability"
	"github.com/findmyvet/vetbook/services/booking-service/internal/booking"
	"github.com/findmyvet/vetbook/services/booking-service/internal/identity"
)

// writeDomainError maps engine and availability errors to HTTP. Internal
// causes are logged, never returned.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var be *booking.Error
	isBooking := errors.As(err, &be)

	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, identity.ErrUnauthenticated):
		status, code = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, availability.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, booking.ErrValidation), errors.Is(err, availability.ErrInvalidRange):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, booking.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, booking.ErrConflict), errors.Is(err, availability.ErrUnavailable):
		status, code = http.StatusConflict, "conflict"
	}

	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, status, code, "internal error")
		return
	}
	details := err.Error()
	if isBooking {
		details = booking.Message(err)
	}
	httpx.WriteError(w, status, code, details)
}

func badRequest(w http.ResponseWriter, details string) {
	httpx.WriteError(w, http.StatusBadRequest, "validation_error", details)
}
