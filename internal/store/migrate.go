package store

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate brings the schema at databaseURL up to the latest version. No
// schema migration beyond this initial creation is in scope; this exists
// purely to create the events table and its indexes on first run.
//
// databaseURL uses the ordinary postgres:// scheme used everywhere else in
// ghpulse (pgxpool, psql, etc); golang-migrate's pgx/v5 driver registers
// itself under the "pgx5" scheme, so it is swapped in only for this call.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	migratorURL := toPgx5Scheme(databaseURL)
	m, err := migrate.NewWithSourceInstance("iofs", src, migratorURL)
	if err != nil {
		return fmt.Errorf("opening migrator: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			slog.Warn("migration source close failed", "error", srcErr)
		}
		if dbErr != nil {
			slog.Warn("migration db close failed", "error", dbErr)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func toPgx5Scheme(databaseURL string) string {
	if idx := strings.Index(databaseURL, "://"); idx != -1 {
		return "pgx5" + databaseURL[idx:]
	}
	return databaseURL
}
