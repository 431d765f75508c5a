//go:build integration

package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/archon-research/stl-sentry/internal/testutil"
)

// setupRedis creates a Redis container and returns a connected Store.
func setupRedis(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	store, err := NewStore(Config{Addr: fmt.Sprintf("%s:%s", host, port.Port()), KeyPrefix: "test"}, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	for i := 0; i < 30; i++ {
		if err := store.Ping(ctx); err == nil {
			return store
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("timed out waiting for redis")
	return nil
}

func TestStore_Contract(t *testing.T) {
	testutil.RunKVStoreContract(t, setupRedis(t))
}

func TestStore_ListEscapesGlobCharacters(t *testing.T) {
	store := setupRedis(t)
	ctx := context.Background()

	for _, k := range []string{"glob*:a", "globX:b"} {
		if err := store.Put(ctx, k, []byte(`1`)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	keys, err := store.List(ctx, "glob*")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 1 || keys[0] != "glob*:a" {
		t.Errorf("List = %v, want [glob*:a]", keys)
	}
}
