// Package migrator applies the embedded schema to PostgreSQL.
//
// Files are applied once each in lexical order, each in its own transaction,
// and recorded in schema_migrations with a SHA-256 of their content. An edited
// file that was already applied is an error. A session advisory lock keeps
// concurrently starting binaries from racing on the same schema.
package migrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// lockKey is an arbitrary constant shared by every sentry process.
const lockKey int64 = 0x53454e545259

const bootstrap = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    name       TEXT PRIMARY KEY,
    checksum   TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Migration is one schema file.
type Migration struct {
	Name     string
	SQL      string
	Checksum string
}

type Migrator struct {
	pool   *pgxpool.Pool
	files  fs.FS
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, files fs.FS, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{pool: pool, files: files, logger: logger.With("component", "migrator")}
}

// Load reads every *.sql file at the root of files, sorted by name.
func Load(files fs.FS) ([]Migration, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, err
	}
	slices.Sort(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(files, name)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		sum := sha256.Sum256(content)
		out = append(out, Migration{Name: name, SQL: string(content), Checksum: hex.EncodeToString(sum[:])})
	}
	return out, nil
}

// ApplyAll applies every pending migration. It returns the number applied.
func (m *Migrator) ApplyAll(ctx context.Context) (int, error) {
	pending, err := Load(m.files)
	if err != nil {
		return 0, fmt.Errorf("loading migrations: %w", err)
	}

	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", lockKey); err != nil {
		return 0, fmt.Errorf("taking migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", lockKey); err != nil {
			m.logger.Warn("releasing migration lock", "error", err)
		}
	}()

	if _, err := conn.Exec(ctx, bootstrap); err != nil {
		return 0, fmt.Errorf("creating schema_migrations: %w", err)
	}

	applied, err := checksums(ctx, conn.Conn())
	if err != nil {
		return 0, fmt.Errorf("reading schema_migrations: %w", err)
	}

	count := 0
	for _, mig := range pending {
		if stored, ok := applied[mig.Name]; ok {
			if stored != mig.Checksum {
				return count, fmt.Errorf("migration %s changed after it was applied (recorded %s, now %s)", mig.Name, stored[:12], mig.Checksum[:12])
			}
			continue
		}
		if err := pgx.BeginFunc(ctx, conn.Conn(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (name, checksum) VALUES ($1, $2)", mig.Name, mig.Checksum)
			return err
		}); err != nil {
			return count, fmt.Errorf("applying %s: %w", mig.Name, err)
		}
		m.logger.Info("applied migration", "migration", mig.Name, "checksum", mig.Checksum[:12])
		count++
	}
	return count, nil
}

func checksums(ctx context.Context, conn *pgx.Conn) (map[string]string, error) {
	rows, err := conn.Query(ctx, "SELECT name, checksum FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	var name, sum string
	_, err = pgx.ForEachRow(rows, []any{&name, &sum}, func() error {
		out[name] = sum
		return nil
	})
	return out, err
}

// ListApplied returns the applied migrations in the order they were applied.
// It returns an empty list on a database that was never migrated.
func (m *Migrator) ListApplied(ctx context.Context) ([]string, error) {
	rows, err := m.pool.Query(ctx, "SELECT name FROM schema_migrations ORDER BY applied_at, name")
	if err != nil {
		var pgErr interface{ SQLState() string }
		if errors.As(err, &pgErr) && pgErr.SQLState() == "42P01" {
			return nil, nil
		}
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
