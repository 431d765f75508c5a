// Package main applies the embedded schema migrations for the postgres
// record store and execution log.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/archon-research/stl-sentry/db/migrations"
	"github.com/archon-research/stl-sentry/db/migrator"
	"github.com/archon-research/stl-sentry/internal/adapters/outbound/postgres"
	"github.com/archon-research/stl-sentry/internal/application"
	"github.com/archon-research/stl-sentry/internal/pkg/env"
)

func main() {
	_ = godotenv.Load(".env")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	dbURL string
	list  bool
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbURL := fs.String("db", "", "PostgreSQL connection URL")
	list := fs.Bool("list", false, "list applied migrations instead of applying")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{dbURL: *dbURL, list: *list}
	if cfg.dbURL == "" {
		cfg.dbURL = env.Get("DATABASE_URL", "")
	}
	if cfg.dbURL == "" {
		return cliConfig{}, fmt.Errorf("database URL not provided (use -db flag or DATABASE_URL env var)")
	}
	return cfg, nil
}

func run(ctx context.Context, args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	logger := application.NewLogger()

	pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(cfg.dbURL))
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	m := migrator.New(pool, migrations.FS, logger)

	if cfg.list {
		applied, err := m.ListApplied(ctx)
		if err != nil {
			return fmt.Errorf("listing migrations: %w", err)
		}
		for _, name := range applied {
			logger.Info("applied", "migration", name)
		}
		return nil
	}

	n, err := m.ApplyAll(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("schema up to date", "applied", n)
	return nil
}
