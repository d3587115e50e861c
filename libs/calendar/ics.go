// Package calendar renders appointments as iCalendar documents. Both the
// booking API (calendar download) and the notification worker (email
// attachment) produce the same document for a given appointment.
package calendar

import (
	"errors"
	"strconv"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
)

const (
	productID = "-//FindMyVet//VetBook//EN"
	// Floating local time: clinic slots carry no zone of their own.
	floatingLayout = "20060102T150405"
)

type Event struct {
	// UID must be stable per appointment so calendar clients update the
	// existing entry on reschedule and cancel.
	UID         string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Cancelled   bool

	// Sequence increases with every change a client should apply.
	Sequence int
	Stamp    time.Time
}

func (e Event) validate() error {
	if strings.TrimSpace(e.UID) == "" {
		return errors.New("calendar: uid is required")
	}
	if e.Start.IsZero() || !e.End.After(e.Start) {
		return errors.New("calendar: end must be after start")
	}
	return nil
}

// Render returns the event as a single-event VCALENDAR.
func Render(e Event) (string, error) {
	if err := e.validate(); err != nil {
		return "", err
	}
	if e.Stamp.IsZero() {
		e.Stamp = time.Now()
	}

	cal := ics.NewCalendarFor("VetBook")
	cal.SetProductId(productID)
	if e.Cancelled {
		cal.SetMethod(ics.MethodCancel)
	} else {
		cal.SetMethod(ics.MethodRequest)
	}

	ev := cal.AddEvent(e.UID)
	ev.SetDtStampTime(e.Stamp.UTC())
	ev.SetProperty(ics.ComponentPropertyDtStart, e.Start.Format(floatingLayout))
	ev.SetProperty(ics.ComponentPropertyDtEnd, e.End.Format(floatingLayout))
	ev.SetProperty(ics.ComponentPropertySequence, strconv.Itoa(e.Sequence))
	ev.SetSummary(e.Summary)
	if e.Location != "" {
		ev.SetLocation(e.Location)
	}
	if e.Description != "" {
		ev.SetDescription(e.Description)
	}
	if e.Cancelled {
		ev.SetStatus(ics.ObjectStatusCancelled)
	} else {
		ev.SetStatus(ics.ObjectStatusConfirmed)
	}
	return cal.Serialize(), nil
}

// FileName is the attachment/download name for an appointment's calendar entry.
func FileName(confirmationCode string) string {
	if confirmationCode == "" {
		return "appointment.ics"
	}
	return "appointment-" + strings.ToLower(confirmationCode) + ".ics"
}
