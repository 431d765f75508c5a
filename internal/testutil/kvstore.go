package testutil

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/archon-research/stl-sentry/internal/ports/outbound"
)

// RunKVStoreContract exercises the behavior every outbound.KVStore backend must share.
func RunKVStoreContract(t *testing.T, store outbound.KVStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		_, err := store.Get(ctx, "contract:missing")
		if !errors.Is(err, outbound.ErrNotFound) {
			t.Errorf("Get missing err = %v, want ErrNotFound", err)
		}
	})

	t.Run("put then get", func(t *testing.T) {
		if err := store.Put(ctx, "contract:a", []byte(`{"v":1}`)); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := store.Get(ctx, "contract:a")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !bytes.Equal(got, []byte(`{"v":1}`)) {
			t.Errorf("Get = %s", got)
		}
	})

	t.Run("last write wins", func(t *testing.T) {
		if err := store.Put(ctx, "contract:a", []byte(`{"v":2}`)); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := store.Get(ctx, "contract:a")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !bytes.Equal(got, []byte(`{"v":2}`)) {
			t.Errorf("Get = %s, want overwritten value", got)
		}
	})

	t.Run("list by prefix sorted", func(t *testing.T) {
		for _, k := range []string{"contract:list:b", "contract:list:a", "contract:other"} {
			if err := store.Put(ctx, k, []byte(`1`)); err != nil {
				t.Fatalf("Put %s: %v", k, err)
			}
		}
		keys, err := store.List(ctx, "contract:list:")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(keys) != 2 || keys[0] != "contract:list:a" || keys[1] != "contract:list:b" {
			t.Errorf("List = %v", keys)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := store.Delete(ctx, "contract:a"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := store.Get(ctx, "contract:a"); !errors.Is(err, outbound.ErrNotFound) {
			t.Errorf("Get after Delete err = %v, want ErrNotFound", err)
		}
		if err := store.Delete(ctx, "contract:never-written"); err != nil {
			t.Errorf("Delete missing key: %v", err)
		}
	})

	t.Run("returned value is not aliased", func(t *testing.T) {
		value := []byte(`{"v":3}`)
		if err := store.Put(ctx, "contract:alias", value); err != nil {
			t.Fatalf("Put: %v", err)
		}
		value[0] = 'X'
		got, err := store.Get(ctx, "contract:alias")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got[0] != '{' {
			t.Errorf("stored value changed with caller's slice: %s", got)
		}
	})
}
