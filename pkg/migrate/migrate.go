// Package migrate applies the goose SQL migrations that define the order,
// transaction, dispute and refund schema.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/pressly/goose/v3"
)

// DefaultDir is the source tree location, used by create and validate.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Step describes one migration touched or inspected by a command.
type Step struct {
	Version  int64
	Path     string
	Applied  bool
	Duration time.Duration
}

// Source returns the migrations compiled into the binary, or dir when set.
func Source(dir string) (fs.FS, error) {
	if dir == "" {
		return fs.Sub(embedded, "migrations")
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("migrations dir %q: %w", dir, err)
	}
	return os.DirFS(dir), nil
}

func newProvider(db *sql.DB, dir string) (*goose.Provider, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	fsys, err := Source(dir)
	if err != nil {
		return nil, err
	}
	// postgres only; tests build their schema from pkg/db/dbtest
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return provider, nil
}

// Run executes up, down, redo, reset or status against db.
func Run(ctx context.Context, db *sql.DB, dir, command string) ([]Step, error) {
	provider, err := newProvider(db, dir)
	if err != nil {
		return nil, err
	}
	defer provider.Close()

	switch command {
	case "up":
		results, err := provider.Up(ctx)
		return fromResults(results), wrap(command, err)
	case "down":
		result, err := provider.Down(ctx)
		return fromResults([]*goose.MigrationResult{result}), wrap(command, err)
	case "redo":
		down, err := provider.Down(ctx)
		if err != nil {
			return fromResults([]*goose.MigrationResult{down}), wrap(command, err)
		}
		up, err := provider.UpByOne(ctx)
		return fromResults([]*goose.MigrationResult{down, up}), wrap(command, err)
	case "reset":
		results, err := provider.DownTo(ctx, 0)
		return fromResults(results), wrap(command, err)
	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			return nil, wrap(command, err)
		}
		steps := make([]Step, 0, len(statuses))
		for _, st := range statuses {
			if st == nil || st.Source == nil {
				continue
			}
			steps = append(steps, Step{
				Version: st.Source.Version,
				Path:    st.Source.Path,
				Applied: st.State == goose.StateApplied,
			})
		}
		return steps, nil
	default:
		return nil, fmt.Errorf("unsupported migrate command %q", command)
	}
}

// MigrateToVersion moves the schema up or down to target (YYYYMMDDHHMMSS).
func MigrateToVersion(ctx context.Context, db *sql.DB, dir, target string) ([]Step, error) {
	version, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", target, err)
	}
	provider, err := newProvider(db, dir)
	if err != nil {
		return nil, err
	}
	defer provider.Close()

	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("get db version: %w", err)
	}
	var results []*goose.MigrationResult
	switch {
	case current == version:
		return nil, nil
	case current < version:
		results, err = provider.UpTo(ctx, version)
	default:
		results, err = provider.DownTo(ctx, version)
	}
	return fromResults(results), wrap("version "+target, err)
}

func fromResults(results []*goose.MigrationResult) []Step {
	steps := make([]Step, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		steps = append(steps, Step{
			Version:  r.Source.Version,
			Path:     r.Source.Path,
			Applied:  r.Direction == "up",
			Duration: r.Duration,
		})
	}
	return steps
}

func wrap(command string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("goose %s: %w", command, err)
}
