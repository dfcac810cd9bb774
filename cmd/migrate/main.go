// Command migrate applies the embedded PostgreSQL schema migrations.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/erp/postingengine/internal/infrastructure/config"
	"github.com/erp/postingengine/internal/infrastructure/logger"
	"github.com/erp/postingengine/internal/infrastructure/migration"
	"github.com/erp/postingengine/migrations"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const usage = `Usage: migrate [-path dir] [-log-level level] <command> [arg]

Commands:
  up               apply every pending migration
  down             roll every migration back
  step <n>         apply n migrations, negative n rolls back
  version          print the applied version
  force <version>  mark version applied without running it

The database comes from the ERP_DATABASE_* environment variables.`

var errUsage = errors.New("usage")

// command runs against an open migrator with the arguments after its name
type command struct {
	args int
	run  func(m *migration.Migrator, log *zap.Logger, args []string) error
}

var commands = map[string]command{
	"up":   {run: func(m *migration.Migrator, _ *zap.Logger, _ []string) error { return m.Up() }},
	"down": {run: func(m *migration.Migrator, _ *zap.Logger, _ []string) error { return m.Down() }},
	"step": {args: 1, run: func(m *migration.Migrator, _ *zap.Logger, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil || n == 0 {
			return fmt.Errorf("step count %q: %w", args[0], errUsage)
		}
		return m.Steps(n)
	}},
	"version": {run: func(m *migration.Migrator, log *zap.Logger, _ []string) error {
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		log.Info("Schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	}},
	"force": {args: 1, run: func(m *migration.Migrator, log *zap.Logger, args []string) error {
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("version %q: %w", args[0], errUsage)
		}
		log.Warn("Forcing schema version", zap.Int("version", version))
		return m.Force(version)
	}},
}

func main() {
	dir := flag.String("path", "", "Read migrations from this directory instead of the embedded set")
	level := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = func() { fmt.Fprintln(flag.CommandLine.Output(), usage) }
	flag.Parse()

	log, err := logger.New(&logger.Config{Level: *level, Format: "console", Output: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	err = run(flag.Args(), *dir, log)
	_ = log.Sync()
	switch {
	case errors.Is(err, errUsage):
		fmt.Fprintf(os.Stderr, "%v\n\n%s\n", err, usage)
		os.Exit(2)
	case err != nil:
		log.Error("Migration failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(args []string, dir string, log *zap.Logger) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command: %w", errUsage)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
	if len(args)-1 != cmd.args {
		return fmt.Errorf("%s takes %d argument(s): %w", args[0], cmd.args, errUsage)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Driver != config.DriverPostgres {
		return fmt.Errorf("driver %q has no migrations, sqlite builds its schema from the models", cfg.Database.Driver)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	var m *migration.Migrator
	if dir != "" {
		m, err = migration.NewFromDir(db, dir, log)
	} else {
		m, err = migration.New(db, migrations.FS, log)
	}
	if err != nil {
		return err
	}
	defer m.Close()

	source := "embedded"
	if dir != "" {
		source = dir
	}
	log.Info("Running migration", zap.String("command", args[0]), zap.String("source", source))
	return cmd.run(m, log, args[1:])
}
