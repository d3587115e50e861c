// Package notify turns appointment events into owner emails and clinic texts
// and records every attempt.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/findmyvet/vetbook/libs/events"
	"github.com/findmyvet/vetbook/libs/kafkax"
	"github.com/findmyvet/vetbook/services/notification-service/internal/email"
	"github.com/findmyvet/vetbook/services/notification-service/internal/sms"
	"github.com/findmyvet/vetbook/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

type Recorder interface {
	Insert(ctx context.Context, n storage.Notification) error
}

type Notifier struct {
	email  email.Sender
	sms    sms.Sender
	record Recorder
	logger *slog.Logger
}

func New(emailSender email.Sender, smsSender sms.Sender, record Recorder, logger *slog.Logger) *Notifier {
	return &Notifier{email: emailSender, sms: smsSender, record: record, logger: logger}
}

// Handle is a consumer.Handler. Malformed or unknown events are logged and
// dropped; only a failure to record an attempt is returned, since that is
// worth a redelivery.
func (n *Notifier) Handle(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)

	var appt events.Appointment
	if err := json.Unmarshal(msg.Value, &appt); err != nil {
		n.logger.ErrorContext(ctx, "invalid appointment payload", "err", err, "event_id", meta.EventID)
		return nil
	}
	if appt.AppointmentID == "" {
		n.logger.ErrorContext(ctx, "appointment payload without id", "event_id", meta.EventID)
		return nil
	}
	content, err := Compose(meta.EventType, appt)
	if err != nil {
		n.logger.WarnContext(ctx, "event skipped", "err", err, "event_id", meta.EventID)
		return nil
	}

	base := storage.Notification{
		EventID:       meta.EventID,
		EventType:     meta.EventType,
		AppointmentID: appt.AppointmentID,
		ClinicID:      appt.Clinic.ID,
		Payload:       appt,
	}

	owner := base
	owner.Channel, owner.Recipient, owner.Provider = "email", appt.Owner.Email, n.email.ProviderID()
	owner.Status, owner.ErrorReason = n.deliver(appt.Owner.Email, func() error {
		return n.email.Send(ctx, content.Email)
	})

	clinic := base
	clinic.Channel, clinic.Recipient, clinic.Provider = "sms", appt.Clinic.Phone, n.sms.ProviderID()
	clinic.Status, clinic.ErrorReason = n.deliver(appt.Clinic.Phone, func() error {
		return n.sms.Send(ctx, appt.Clinic.Phone, content.SMS)
	})

	var errs []error
	for _, rec := range []storage.Notification{owner, clinic} {
		if rec.Status == storage.StatusFailed {
			n.logger.ErrorContext(ctx, "notification failed", "channel", rec.Channel, "appointment_id", rec.AppointmentID, "err", rec.ErrorReason)
		}
		if err := n.record.Insert(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	n.logger.InfoContext(ctx, "appointment notifications processed",
		"event_type", meta.EventType,
		"appointment_id", appt.AppointmentID,
		"email", owner.Status,
		"sms", clinic.Status,
	)
	return nil
}

func (n *Notifier) deliver(recipient string, send func() error) (storage.Status, string) {
	if recipient == "" {
		return storage.StatusSkipped, "no recipient"
	}
	if err := send(); err != nil {
		return storage.StatusFailed, err.Error()
	}
	return storage.StatusSent, ""
}
