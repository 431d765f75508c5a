//go:build integration

package postgres

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-sentry/internal/domain/entity"
	"github.com/archon-research/stl-sentry/internal/testutil"
)

func TestStore_Contract(t *testing.T) {
	pool, _ := testutil.SetupPostgres(t)
	store, err := NewStore(pool, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	testutil.RunKVStoreContract(t, store)
}

func TestStore_ListEscapesWildcards(t *testing.T) {
	pool, _ := testutil.SetupPostgres(t)
	store, err := NewStore(pool, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()

	for _, k := range []string{"a_b:1", "axb:1"} {
		if err := store.Put(ctx, k, []byte("1")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	keys, err := store.List(ctx, "a_b")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 1 || keys[0] != "a_b:1" {
		t.Errorf("List(a_b) = %v, want [a_b:1]", keys)
	}
}

func TestOpenStore_ClosesOwnedPool(t *testing.T) {
	_, dsn := testutil.SetupPostgres(t)
	store, err := OpenStore(context.Background(), DefaultDBConfig(dsn), testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	if err := store.Put(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Put(context.Background(), "k", []byte("v")); err == nil {
		t.Error("Put after Close should fail")
	}
}

func TestExecutionLog_Publish(t *testing.T) {
	pool, _ := testutil.SetupPostgres(t)
	log, err := NewExecutionLog(pool, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewExecutionLog: %v", err)
	}
	ctx := context.Background()

	result := &entity.ExecutionResult{
		GeneratedAt:          time.Unix(1_700_000_000, 0).UTC(),
		CandidateID:          "sparklend:" + testutil.Account(1).Hex(),
		Borrower:             testutil.Account(1),
		TransactionReference: common.HexToHash("0xabc"),
		PriorityFee:          big.NewInt(2_000_000_000),
		ExpectedProfitUSD:    decimal.RequireFromString("125.5"),
	}
	if err := log.PublishExecution(ctx, result); err != nil {
		t.Fatalf("PublishExecution: %v", err)
	}

	var (
		candidate string
		fee       string
		profit    string
	)
	err = pool.QueryRow(ctx,
		`SELECT candidate_id, priority_fee::text, expected_profit_usd::text FROM execution_log`).
		Scan(&candidate, &fee, &profit)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if candidate != result.CandidateID {
		t.Errorf("candidate_id = %q", candidate)
	}
	if fee != "2000000000" {
		t.Errorf("priority_fee = %q", fee)
	}
	if profit != "125.5" {
		t.Errorf("expected_profit_usd = %q", profit)
	}
}
