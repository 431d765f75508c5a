//go:build integration

package migrator_test

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/archon-research/stl-sentry/db/migrations"
	"github.com/archon-research/stl-sentry/db/migrator"
	"github.com/archon-research/stl-sentry/internal/testutil"
)

func TestMigrator_ApplyAll(t *testing.T) {
	ctx := context.Background()
	pool := testutil.ConnectPool(t, testutil.StartPostgres(t))
	m := migrator.New(pool, migrations.FS, testutil.DiscardLogger())

	before, err := m.ListApplied(ctx)
	if err != nil {
		t.Fatalf("ListApplied on empty database: %v", err)
	}
	if len(before) != 0 {
		t.Errorf("applied before migrating = %v", before)
	}

	n, err := m.ApplyAll(ctx)
	if err != nil {
		t.Fatalf("ApplyAll: %v", err)
	}
	if n != 2 {
		t.Errorf("applied %d migrations, want 2", n)
	}
	if n, err := m.ApplyAll(ctx); err != nil || n != 0 {
		t.Fatalf("re-apply = %d, %v; want 0, nil", n, err)
	}

	applied, err := m.ListApplied(ctx)
	if err != nil {
		t.Fatalf("ListApplied: %v", err)
	}
	if len(applied) != 2 || applied[0] != "0001_kv_store.sql" || applied[1] != "0002_execution_log.sql" {
		t.Errorf("applied = %v", applied)
	}

	for _, table := range []string{"kv_store", "execution_log"} {
		var exists bool
		err = pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("checking %s: %v", table, err)
		}
		if !exists {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestMigrator_DetectsModifiedMigration(t *testing.T) {
	ctx := context.Background()
	pool := testutil.ConnectPool(t, testutil.StartPostgres(t))

	original := fstest.MapFS{
		"0001_init.sql": {Data: []byte("CREATE TABLE widgets (id INT PRIMARY KEY);")},
	}
	if _, err := migrator.New(pool, original, nil).ApplyAll(ctx); err != nil {
		t.Fatalf("ApplyAll: %v", err)
	}

	modified := fstest.MapFS{
		"0001_init.sql": {Data: []byte("CREATE TABLE widgets (id BIGINT PRIMARY KEY);")},
	}
	if _, err := migrator.New(pool, modified, nil).ApplyAll(ctx); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestMigrator_FailedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	pool := testutil.ConnectPool(t, testutil.StartPostgres(t))

	files := fstest.MapFS{
		"0001_ok.sql":     {Data: []byte("CREATE TABLE ok_table (id INT);")},
		"0002_broken.sql": {Data: []byte("CREATE TABLE half (id INT); SELECT * FROM missing_table;")},
	}
	m := migrator.New(pool, files, nil)
	n, err := m.ApplyAll(ctx)
	if err == nil {
		t.Fatal("expected error from broken migration")
	}
	if n != 1 {
		t.Errorf("applied %d before failing, want 1", n)
	}

	applied, err := m.ListApplied(ctx)
	if err != nil {
		t.Fatalf("ListApplied: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0001_ok.sql" {
		t.Errorf("applied = %v", applied)
	}

	var exists bool
	if err := pool.QueryRow(ctx, "SELECT to_regclass('half') IS NOT NULL").Scan(&exists); err != nil {
		t.Fatalf("checking half: %v", err)
	}
	if exists {
		t.Error("table from failed migration was not rolled back")
	}
}
