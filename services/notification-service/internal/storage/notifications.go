package storage

import (
	"context"
	"embed"
	"encoding/json"

	"github.com/findmyvet/vetbook/libs/db"
)

//go:embed migrations/*.sql
var migrations embed.FS

func Migrate(ctx context.Context, pool *db.Pool) error {
	return db.Migrate(ctx, pool, migrations, "migrations")
}

type Status string

const (
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Notification is one delivery attempt on one channel.
type Notification struct {
	EventID       string
	EventType     string
	AppointmentID string
	ClinicID      string
	Channel       string
	Recipient     string
	Provider      string
	Status        Status
	ErrorReason   string
	Payload       any
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}
	var clinicID *string
	if n.ClinicID != "" {
		clinicID = &n.ClinicID
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (event_id, event_type, appointment_id, clinic_id, channel, recipient, provider, status, error_reason, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, n.EventID, n.EventType, n.AppointmentID, clinicID, n.Channel, n.Recipient, n.Provider, string(n.Status), n.ErrorReason, payload)
	return err
}
