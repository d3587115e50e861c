// Command seed fills a migrated booking database with fake clinics, vets,
// services, owners, pets and a window of bookable slots.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/findmyvet/vetbook/libs/config"
	"github.com/findmyvet/vetbook/libs/db"
	"github.com/findmyvet/vetbook/libs/runtime"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var timezones = []string{"America/New_York", "America/Chicago", "America/Denver", "America/Los_Angeles"}

var services = []serviceRow{
	{Name: "General Exam", Minutes: 30},
	{Name: "Vaccination", Minutes: 30},
	{Name: "Dental Cleaning", Minutes: 60},
	{Name: "Emergency Visit", Minutes: 30, Emergency: true},
}

type serviceRow struct {
	Name      string
	Minutes   int
	Emergency bool
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fatal(err)
	}
	var (
		clinics = flag.Int("clinics", config.Int("SEED_CLINICS", 3), "clinics to create")
		vets    = flag.Int("vets", config.Int("SEED_VETS_PER_CLINIC", 2), "vets per clinic")
		owners  = flag.Int("owners", config.Int("SEED_OWNERS", 20), "pet owners to create")
		days    = flag.Int("days", config.Int("SEED_DAYS", 14), "days of slots from today")
		seed    = flag.Uint64("seed", 0, "faker seed, 0 for random")
	)
	flag.Parse()

	logger := runtime.NewLogger("seed")
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.Open(ctx, dbURL, db.Options{ApplicationName: "vetbook-seed"})
	if err != nil {
		fatal(err)
	}
	defer pool.Close()

	s := &seeder{faker: gofakeit.New(*seed), logger: logger}
	err = db.InTx(ctx, pool, db.TxOptions{}, func(tx pgx.Tx) error {
		serviceIDs, err := s.services(ctx, tx)
		if err != nil {
			return fmt.Errorf("services: %w", err)
		}
		for i := 0; i < *clinics; i++ {
			if err := s.clinic(ctx, tx, *vets, serviceIDs, *days); err != nil {
				return fmt.Errorf("clinic %d: %w", i, err)
			}
		}
		return s.owners(ctx, tx, *owners)
	})
	if err != nil {
		fatal(err)
	}
	logger.Info("seed complete", "clinics", *clinics, "owners", *owners, "days", *days)
}

type seeder struct {
	faker  *gofakeit.Faker
	logger *slog.Logger
}

func (s *seeder) services(ctx context.Context, tx pgx.Tx) ([]int, error) {
	ids := make([]int, 0, len(services))
	for _, svc := range services {
		var id int
		err := tx.QueryRow(ctx, `
			INSERT INTO services (name, duration_minutes, is_emergency)
			VALUES ($1, $2, $3)
			RETURNING id
		`, svc.Name, svc.Minutes, svc.Emergency).Scan(&id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *seeder) clinic(ctx context.Context, tx pgx.Tx, vetCount int, serviceIDs []int, days int) error {
	f := s.faker
	addr := f.Address()
	clinicID := uuid.New()
	tz := timezones[f.Number(0, len(timezones)-1)]

	_, err := tx.Exec(ctx, `
		INSERT INTO clinics (id, name, email, phone, address, city, state, postal_code, timezone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, clinicID, f.Company()+" Animal Clinic", f.Email(), f.Phone(), addr.Street, addr.City, addr.State, addr.Zip, tz)
	if err != nil {
		return err
	}

	vetIDs := make([]uuid.UUID, 0, vetCount)
	for i := 0; i < vetCount; i++ {
		id := uuid.New()
		if _, err := tx.Exec(ctx, `INSERT INTO vets (id, clinic_id, display_name) VALUES ($1, $2, $3)`,
			id, clinicID, "Dr. "+f.LastName()); err != nil {
			return err
		}
		vetIDs = append(vetIDs, id)
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	slots := buildSlots(clinicID, vetIDs, serviceIDs, time.Now().In(loc), days)
	rows := make([][]any, 0, len(slots))
	for _, sl := range slots {
		rows = append(rows, []any{sl.ID, sl.ClinicID, sl.VetID, sl.ServiceID, sl.Date, sl.Start, sl.End, sl.Type, sl.MaxBookings})
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"availability_slots"},
		[]string{"id", "clinic_id", "vet_id", "service_id", "slot_date", "start_time", "end_time", "slot_type", "max_bookings"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return err
	}
	s.logger.Info("clinic seeded", "clinic_id", clinicID, "timezone", tz, "vets", vetCount, "slots", len(slots))
	return nil
}

func (s *seeder) owners(ctx context.Context, tx pgx.Tx, count int) error {
	f := s.faker
	for i := 0; i < count; i++ {
		id := uuid.New()
		first, last := f.FirstName(), f.LastName()
		sub := "seed|" + id.String()
		if _, err := tx.Exec(ctx, `
			INSERT INTO users (id, external_id, email, first_name, last_name, phone)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, sub, f.Email(), first, last, f.Phone()); err != nil {
			return err
		}
		for p := 0; p < f.Number(1, 2); p++ {
			species, breed := "cat", f.Cat()
			if f.Bool() {
				species, breed = "dog", f.Dog()
			}
			if _, err := tx.Exec(ctx, `INSERT INTO pets (owner_id, name, species, breed) VALUES ($1, $2, $3, $4)`,
				id, f.PetName(), species, breed); err != nil {
				return err
			}
		}
		if i == 0 {
			s.logger.Info("sample owner", "user_id", id, "sub", sub)
		}
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "seed:", err)
	os.Exit(1)
}
