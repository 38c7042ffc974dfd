// migrate применяет и откатывает миграции схемы PostgreSQL.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	dsnEnv         = "FULFILLMENT_STORAGE_DSN"
)

type options struct {
	direction string
	steps     int
	dsn       string
	timeout   time.Duration
}

// migrator — часть postgres.Store, нужная CLI.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.MigrationState, error)
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	var opts options

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status")
	fs.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+dsnEnv+")")
	fs.DurationVar(&opts.timeout, "timeout", defaultTimeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(getenv(dsnEnv))
	}

	switch {
	case opts.dsn == "":
		return options{}, errors.Errorf("%s (or -dsn) is required", dsnEnv)
	case opts.direction != "up" && opts.direction != "down" && opts.direction != "status":
		return options{}, errors.Errorf("unsupported direction: %s (use up|down|status)", opts.direction)
	case opts.steps < 0:
		return options{}, errors.New("steps must be >= 0")
	case opts.timeout <= 0:
		return options{}, errors.New("timeout must be > 0")
	}
	if opts.direction == "down" && opts.steps == 0 {
		opts.steps = 1
	}
	return opts, nil
}

func migrate(ctx context.Context, m migrator, opts options, out io.Writer) error {
	switch opts.direction {
	case "up":
		if err := m.MigrateUp(ctx, opts.steps); err != nil {
			return errors.Wrap(err, "migrate up")
		}
	case "down":
		if err := m.MigrateDown(ctx, opts.steps); err != nil {
			return errors.Wrap(err, "migrate down")
		}
	}

	state, err := m.MigrationStatus(ctx)
	if err != nil {
		return errors.Wrap(err, "migration status")
	}
	_, err = fmt.Fprintf(out, "%s ok: version=%d applied=%d pending=%d\n",
		opts.direction, state.Version, state.Applied, len(state.Pending))
	if err != nil {
		return err
	}
	for _, name := range state.Pending {
		if _, err := fmt.Fprintf(out, "  pending %s\n", name); err != nil {
			return err
		}
	}
	return nil
}

func run(opts options, out io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		return errors.Wrap(err, "open postgres store")
	}
	defer func() { _ = store.Close() }()

	return migrate(ctx, store, opts, out)
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}
	if err := run(opts, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
