package storage

import (
	"context"
	"embed"

	"github.com/findmyvet/vetbook/libs/db"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate brings the booking schema up to date.
func Migrate(ctx context.Context, pool *db.Pool) error {
	return db.Migrate(ctx, pool, migrations, "migrations")
}
