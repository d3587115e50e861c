package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/findmyvet/vetbook/libs/auth"
	"github.com/findmyvet/vetbook/libs/db"
	"github.com/jackc/pgx/v5"
)

type User struct {
	ID         string
	ExternalID string
	Email      string
	FirstName  string
	LastName   string
	Phone      string
}

func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

type UserRepository struct {
	pool *db.Pool
}

func NewUserRepository(pool *db.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Upsert returns the user for the token subject, creating it on first sight.
// A user created before the identity provider knew them is linked by email.
// An email already linked to a different subject is a conflict unless
// allowRelink is set.
func (r *UserRepository) Upsert(ctx context.Context, c auth.Claims, allowRelink bool) (User, error) {
	var user User
	err := db.InTx(ctx, r.pool, db.TxOptions{}, func(tx pgx.Tx) error {
		u, err := scanUser(tx.QueryRow(ctx, `
			SELECT id::text, COALESCE(external_id, ''), COALESCE(email, ''), COALESCE(first_name, ''),
				COALESCE(last_name, ''), COALESCE(phone, '')
			FROM users
			WHERE external_id = $1
		`, c.Sub))
		if err == nil {
			user = u
			return nil
		}
		if !db.IsNotFound(err) {
			return err
		}

		email := strings.ToLower(strings.TrimSpace(c.Email))
		if email != "" {
			u, err := scanUser(tx.QueryRow(ctx, `
				SELECT id::text, COALESCE(external_id, ''), COALESCE(email, ''), COALESCE(first_name, ''),
					COALESCE(last_name, ''), COALESCE(phone, '')
				FROM users
				WHERE lower(email) = $1
				FOR UPDATE
			`, email))
			switch {
			case err == nil:
				if u.ExternalID != "" && u.ExternalID != c.Sub && !allowRelink {
					return ErrConflict
				}
				if _, err := tx.Exec(ctx, `
					UPDATE users SET external_id = $2, updated_at = now() WHERE id = $1
				`, u.ID, c.Sub); err != nil {
					return err
				}
				u.ExternalID = c.Sub
				user = u
				return nil
			case !db.IsNotFound(err):
				return err
			}
		}

		u, err = scanUser(tx.QueryRow(ctx, `
			INSERT INTO users (external_id, email, first_name, last_name)
			VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''))
			RETURNING id::text, external_id, COALESCE(email, ''), COALESCE(first_name, ''),
				COALESCE(last_name, ''), COALESCE(phone, '')
		`, c.Sub, email, strings.TrimSpace(c.GivenName), strings.TrimSpace(c.FamilyName)))
		if err != nil {
			if db.IsUniqueViolation(err) {
				return ErrConflict
			}
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return User{}, err
		}
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `
		SELECT id::text, COALESCE(external_id, ''), COALESCE(email, ''), COALESCE(first_name, ''),
			COALESCE(last_name, ''), COALESCE(phone, '')
		FROM users
		WHERE id = $1
	`, id))
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.FirstName, &u.LastName, &u.Phone)
	return u, err
}
