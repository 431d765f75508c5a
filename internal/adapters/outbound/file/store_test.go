package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/archon-research/stl-sentry/internal/testutil"
)

func TestStore_Contract(t *testing.T) {
	store, err := NewStore(t.TempDir(), testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	testutil.RunKVStoreContract(t, store)
}

func TestStore_KeysWithSeparators(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()

	key := "mainnet:sparklend:sync/forward"
	if err := store.Put(ctx, key, []byte(`{}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("files = %d, want 1 (no nested directories, no temp leftovers)", len(entries))
	}
	if strings.Contains(entries[0].Name(), "/") || entries[0].IsDir() {
		t.Errorf("unexpected entry %s", entries[0].Name())
	}

	keys, err := store.List(ctx, "mainnet:sparklend:")
	if err != nil || len(keys) != 1 || keys[0] != key {
		t.Errorf("List = %v, %v", keys, err)
	}
}

func TestStore_IgnoresTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir, nil)
	if err := os.WriteFile(filepath.Join(dir, ".tmp-123"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	keys, err := store.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("List = %v, want empty", keys)
	}
}

func TestNewStore_RequiresDir(t *testing.T) {
	if _, err := NewStore("", nil); err == nil {
		t.Error("expected error for empty dir")
	}
}
