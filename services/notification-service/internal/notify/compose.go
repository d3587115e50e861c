package notify

import (
	"fmt"
	"strings"

	"github.com/findmyvet/vetbook/libs/calendar"
	"github.com/findmyvet/vetbook/libs/events"
	"github.com/findmyvet/vetbook/services/notification-service/internal/email"
)

// Content is what one event sends: an email to the owner and a text to the
// clinic.
type Content struct {
	Email email.Message
	SMS   string
}

type wording struct {
	subject string
	lead    string
	sms     string
}

var wordings = map[string]wording{
	events.AppointmentBooked:      {"Appointment confirmed", "Your appointment is booked.", "New booking"},
	events.AppointmentRescheduled: {"Appointment rescheduled", "Your appointment has moved to a new time.", "Rescheduled"},
	events.AppointmentCancelled:   {"Appointment cancelled", "Your appointment has been cancelled.", "Cancelled"},
}

// Compose renders the messages for eventType. Unknown event types return an
// error so the caller can skip them.
func Compose(eventType string, a events.Appointment) (Content, error) {
	w, ok := wordings[eventType]
	if !ok {
		return Content{}, fmt.Errorf("unsupported event type %q", eventType)
	}
	cancelled := eventType == events.AppointmentCancelled

	when := fmt.Sprintf("%s %s-%s", a.ScheduledDate, a.ScheduledStart, a.ScheduledEnd)
	what := a.ServiceName
	if what == "" {
		what = "Appointment"
	}

	var body strings.Builder
	if a.Owner.Name != "" {
		fmt.Fprintf(&body, "Hi %s,\n\n", a.Owner.Name)
	}
	fmt.Fprintf(&body, "%s\n\n", w.lead)
	fmt.Fprintf(&body, "%s for %s\n", what, petOr(a.PetName))
	fmt.Fprintf(&body, "When: %s\n", when)
	if a.VetName != "" {
		fmt.Fprintf(&body, "With: %s\n", a.VetName)
	}
	fmt.Fprintf(&body, "Where: %s\n", strings.TrimSpace(a.Clinic.Name+", "+a.Clinic.Address))
	fmt.Fprintf(&body, "Confirmation code: %s\n", a.ConfirmationCode)
	if cancelled && a.CancellationReason != "" {
		fmt.Fprintf(&body, "Reason: %s\n", a.CancellationReason)
	}
	if a.Clinic.Phone != "" {
		fmt.Fprintf(&body, "\nQuestions? Call %s at %s.\n", a.Clinic.Name, a.Clinic.Phone)
	}

	msg := email.Message{
		To:      a.Owner.Email,
		Subject: fmt.Sprintf("%s: %s at %s", w.subject, petOr(a.PetName), a.Clinic.Name),
		Body:    body.String(),
	}
	if ics, err := invite(a, cancelled); err == nil {
		msg.Attachments = []email.Attachment{{
			Name:        calendar.FileName(a.ConfirmationCode),
			ContentType: "text/calendar; charset=utf-8; method=" + method(cancelled),
			Data:        []byte(ics),
		}}
	}

	sms := fmt.Sprintf("%s %s: %s (%s) on %s", w.sms, a.ConfirmationCode, petOr(a.PetName), what, when)
	if a.IsEmergency {
		sms = "EMERGENCY " + sms
	}
	return Content{Email: msg, SMS: sms}, nil
}

func invite(a events.Appointment, cancelled bool) (string, error) {
	start, end, err := a.Window()
	if err != nil {
		return "", err
	}
	return calendar.Render(calendar.Event{
		UID:         a.AppointmentID + "@findmyvet.com",
		Summary:     fmt.Sprintf("Vet Appointment - %s at %s", petOr(a.PetName), a.Clinic.Name),
		Description: fmt.Sprintf("%s for %s\nConfirmation: %s", a.ServiceName, petOr(a.PetName), a.ConfirmationCode),
		Location:    a.Clinic.Address,
		Start:       start,
		End:         end,
		Cancelled:   cancelled,
		Sequence:    a.Sequence,
		Stamp:       a.OccurredAt,
	})
}

func method(cancelled bool) string {
	if cancelled {
		return "CANCEL"
	}
	return "REQUEST"
}

func petOr(name string) string {
	if name == "" {
		return "your pet"
	}
	return name
}
