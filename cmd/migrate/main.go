// Command migrate applies the SQL migrations under migrations/ to the
// configured database. Schema state is tracked by golang-migrate in the
// schema_migrations table.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/movalabs/panelgate/internal/config"
)

func main() {
	path := flag.String("path", "migrations", "migrations directory")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	m, err := open(config.Load(), *path)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	defer m.Close()

	if err := run(m, args[0], args[1:]); err != nil {
		log.Fatalf("migrate: %v", err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [-path DIR] <command>

Commands:
  up          apply all pending migrations
  down N      roll back N migrations
  version     print the current schema version
  force V     mark version V as applied without running it (recovers a dirty state)

Database settings come from the same DB_* environment variables the server uses.
`, os.Args[0])
	flag.PrintDefaults()
}

func run(m *migrate.Migrate, cmd string, args []string) error {
	switch cmd {
	case "up":
		if err := m.Up(); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				log.Println("schema is up to date")
				return nil
			}
			return err
		}
		return report(m)
	case "down":
		if len(args) != 1 {
			return fmt.Errorf("down requires the number of migrations to roll back")
		}
		steps, err := strconv.Atoi(args[0])
		if err != nil || steps < 1 {
			return fmt.Errorf("invalid step count %q", args[0])
		}
		if err := m.Steps(-steps); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				log.Println("nothing to roll back")
				return nil
			}
			return err
		}
		return report(m)
	case "version":
		return report(m)
	case "force":
		if len(args) != 1 {
			return fmt.Errorf("force requires a version number")
		}
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[0])
		}
		if err := m.Force(version); err != nil {
			return err
		}
		return report(m)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// report prints the schema version golang-migrate currently records.
func report(m *migrate.Migrate) error {
	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Println("schema version: none applied")
			return nil
		}
		return err
	}
	if dirty {
		log.Printf("schema version: %d (dirty, fix with force)", version)
		return nil
	}
	log.Printf("schema version: %d", version)
	return nil
}

func open(cfg *config.Config, path string) (*migrate.Migrate, error) {
	db, err := sql.Open("pgx", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create driver: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve migrations path: %w", err)
	}
	return migrate.NewWithDatabaseInstance("file://"+abs, "postgres", driver)
}
