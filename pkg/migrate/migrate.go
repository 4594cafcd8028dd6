package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

// Each service owns its own schema, so migrations live in per-service
// directories keyed by config.ServiceConfig.Kind.
const baseDir = "pkg/migrate/migrations"

// DirFor returns the migration directory for a service kind.
func DirFor(kind string) (string, error) {
	switch kind {
	case "identity", "workforce", "notifications":
		return fmt.Sprintf("%s/%s", baseDir, kind), nil
	default:
		return "", fmt.Errorf("unknown service kind %q", kind)
	}
}

// Run executes a standard goose command that requires a DB connection.
func Run(ctx context.Context, db *sql.DB, dir string, command string, args ...string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	if dir == "" {
		return fmt.Errorf("dir is required")
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	// RunContext prints status output to stdout (goose internal)
	if err := goose.RunContext(ctx, command, db, dir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}
