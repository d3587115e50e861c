// Package catalog serves the read-only reference data bookings are validated
// against: clinics, services, pets and vets.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/findmyvet/vetbook/libs/db"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

var ErrNotFound = errors.New("catalog entry not found")

type Clinic struct {
	ID         string
	Name       string
	Email      string
	Phone      string
	Address    string
	City       string
	State      string
	PostalCode string
	Timezone   string
	IsActive   bool
}

// Location resolves the clinic's IANA zone, falling back to UTC.
func (c Clinic) Location() *time.Location {
	if c.Timezone != "" {
		if loc, err := time.LoadLocation(c.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

type Service struct {
	ID              int
	Name            string
	DurationMinutes int
	IsEmergency     bool
	IsActive        bool
}

type Pet struct {
	ID      string
	OwnerID string
	Name    string
	Species string
	Breed   string
}

// Store answers point lookups. Clinics and services change rarely and are
// cached for ttl; pet ownership is always read live.
type Store struct {
	pool     *db.Pool
	clinics  *expirable.LRU[string, Clinic]
	services *expirable.LRU[int, Service]
}

func NewStore(pool *db.Pool, size int, ttl time.Duration) *Store {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Store{
		pool:     pool,
		clinics:  expirable.NewLRU[string, Clinic](size, nil, ttl),
		services: expirable.NewLRU[int, Service](size, nil, ttl),
	}
}

func (s *Store) Clinic(ctx context.Context, id string) (Clinic, error) {
	if c, ok := s.clinics.Get(id); ok {
		return c, nil
	}
	var c Clinic
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, name, COALESCE(email, ''), COALESCE(phone, ''), COALESCE(address, ''),
			COALESCE(city, ''), COALESCE(state, ''), COALESCE(postal_code, ''), timezone, is_active
		FROM clinics
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.City, &c.State, &c.PostalCode, &c.Timezone, &c.IsActive)
	if err != nil {
		return Clinic{}, lookupErr("clinic", err)
	}
	s.clinics.Add(id, c)
	return c, nil
}

func (s *Store) Service(ctx context.Context, id int) (Service, error) {
	if svc, ok := s.services.Get(id); ok {
		return svc, nil
	}
	var svc Service
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, duration_minutes, is_emergency, is_active
		FROM services
		WHERE id = $1
	`, id).Scan(&svc.ID, &svc.Name, &svc.DurationMinutes, &svc.IsEmergency, &svc.IsActive)
	if err != nil {
		return Service{}, lookupErr("service", err)
	}
	s.services.Add(id, svc)
	return svc, nil
}

// PetOwnedBy returns the pet only when ownerID owns it. Someone else's pet is
// reported exactly like a missing one.
func (s *Store) PetOwnedBy(ctx context.Context, petID, ownerID string) (Pet, error) {
	var p Pet
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, owner_id::text, name, species, COALESCE(breed, '')
		FROM pets
		WHERE id = $1 AND owner_id = $2
	`, petID, ownerID).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Species, &p.Breed)
	if err != nil {
		return Pet{}, lookupErr("pet", err)
	}
	return p, nil
}

func (s *Store) Pet(ctx context.Context, id string) (Pet, error) {
	var p Pet
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, owner_id::text, name, species, COALESCE(breed, '')
		FROM pets
		WHERE id = $1
	`, id).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Species, &p.Breed)
	if err != nil {
		return Pet{}, lookupErr("pet", err)
	}
	return p, nil
}

func (s *Store) VetName(ctx context.Context, id string) (string, error) {
	var name string
	if err := s.pool.QueryRow(ctx, `SELECT display_name FROM vets WHERE id = $1`, id).Scan(&name); err != nil {
		return "", lookupErr("vet", err)
	}
	return name, nil
}

func lookupErr(what string, err error) error {
	if db.IsNotFound(err) {
		return ErrNotFound
	}
	return fmt.Errorf("lookup %s: %w", what, err)
}
