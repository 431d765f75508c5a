package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/archon-research/stl-sentry/internal/adapters/outbound/memory"
	"github.com/archon-research/stl-sentry/internal/domain/entity"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
	"github.com/archon-research/stl-sentry/internal/services/syncstate"
	"github.com/archon-research/stl-sentry/internal/testutil"
)

var (
	pool    = common.HexToAddress("0xC13e21B648A5Ee794902342038FF3aDAB66BE987")
	reserve = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

const floor = 1_000

type fixture struct {
	scanner *Scanner
	chain   *testutil.MockChain
	state   *syncstate.Store
	kv      *memory.Store
	metrics *testutil.MockMetrics
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	kv := memory.NewStore()
	state, err := syncstate.New(kv, syncstate.Config{
		Chain:    "mainnet",
		Protocol: "sparklend",
		Floor:    floor,
		Logger:   testutil.DiscardLogger(),
	})
	if err != nil {
		t.Fatalf("syncstate.New: %v", err)
	}
	chain := &testutil.MockChain{Tip: 100_000}
	metrics := &testutil.MockMetrics{}
	cfg := Config{
		Pool:              pool,
		Known:             map[common.Address]struct{}{reserve: {}},
		WindowSize:        10_000,
		UniverseThreshold: 5,
		CatchupWindows:    5,
		Metrics:           metrics,
		Logger:            testutil.DiscardLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	scanner, err := NewScanner(cfg, chain, state)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	scanner.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return &fixture{scanner: scanner, chain: chain, state: state, kv: kv, metrics: metrics}
}

func TestNewScanner_Validation(t *testing.T) {
	state, _ := syncstate.New(memory.NewStore(), syncstate.Config{Chain: "mainnet", Protocol: "sparklend"})
	chain := &testutil.MockChain{}

	if _, err := NewScanner(Config{Pool: pool}, nil, state); err == nil {
		t.Error("expected error for nil chain")
	}
	if _, err := NewScanner(Config{Pool: pool}, chain, nil); err == nil {
		t.Error("expected error for nil state")
	}
	if _, err := NewScanner(Config{}, chain, state); err == nil {
		t.Error("expected error for missing pool")
	}
}

func TestPlanWindow(t *testing.T) {
	f := newFixture(t, nil)
	fwd := func(last, start uint64) *entity.ForwardCursor {
		return &entity.ForwardCursor{LastBlock: last, StartBlock: start}
	}

	tests := []struct {
		name     string
		pointer  entity.SyncPointer
		tip      uint64
		universe int
		want     Window
	}{
		{
			name:    "first scan covers the latest window",
			pointer: entity.SyncPointer{Floor: floor},
			tip:     100_000,
			want:    Window{Mode: ModeForward, From: 90_001, To: 100_000},
		},
		{
			name:    "first scan clamps to floor",
			pointer: entity.SyncPointer{Floor: floor},
			tip:     5_000,
			want:    Window{Mode: ModeForward, From: floor, To: 5_000},
		},
		{
			name:    "small universe backfills below forward start",
			pointer: entity.SyncPointer{Floor: floor, Forward: fwd(100_000, 90_001)},
			tip:     100_000,
			want:    Window{Mode: ModeBackfill, From: 80_001, To: 90_000},
		},
		{
			name: "backfill clamps to floor",
			pointer: entity.SyncPointer{
				Floor:    floor,
				Forward:  fwd(100_000, 90_001),
				Backfill: &entity.BackfillCursor{DeepBlock: 4_000},
			},
			tip:  100_000,
			want: Window{Mode: ModeBackfill, From: floor, To: 3_999},
		},
		{
			name: "complete backfill falls through to forward",
			pointer: entity.SyncPointer{
				Floor:    floor,
				Forward:  fwd(95_000, 90_001),
				Backfill: &entity.BackfillCursor{DeepBlock: floor},
			},
			tip:  100_000,
			want: Window{Mode: ModeForward, From: 95_001, To: 100_000},
		},
		{
			name:     "large universe goes forward",
			pointer:  entity.SyncPointer{Floor: floor, Forward: fwd(50_000, 40_000)},
			tip:      70_000,
			universe: 5,
			want:     Window{Mode: ModeForward, From: 50_001, To: 60_000},
		},
		{
			name:     "far behind snaps to tip",
			pointer:  entity.SyncPointer{Floor: floor, Forward: fwd(20_000, 10_000)},
			tip:      100_000,
			universe: 5,
			want:     Window{Mode: ModeForward, From: 90_001, To: 100_000},
		},
		{
			name:     "at tip is idle",
			pointer:  entity.SyncPointer{Floor: floor, Forward: fwd(100_000, 90_001)},
			tip:      100_000,
			universe: 5,
			want:     Window{Mode: ModeIdle},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.pointer
			got := f.scanner.PlanWindow(&p, tt.tip, tt.universe)
			if got != tt.want {
				t.Errorf("PlanWindow = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestExtractAccounts(t *testing.T) {
	f := newFixture(t, nil)
	a, b := testutil.Account(1), testutil.Account(2)

	logs := []types.Log{
		testutil.PoolLog(pool, 10, testutil.AddressTopic(reserve), testutil.AddressTopic(a), testutil.AddressTopic(b)),
		testutil.PoolLog(pool, 11, common.Hash{}, testutil.AddressTopic(pool)),
		{Address: pool, Topics: []common.Hash{testutil.AddressTopic(a)}}, // signature only
	}
	got := f.scanner.ExtractAccounts(logs)
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("ExtractAccounts = %v, want [%s %s]", got, a.Hex(), b.Hex())
	}
}

func TestExtractAccounts_TrimsToLow20Bytes(t *testing.T) {
	f := newFixture(t, nil)
	topic := common.HexToHash("0xffffffffffffffffffffffff0000000000000000000000000000000000001234")
	got := f.scanner.ExtractAccounts([]types.Log{testutil.PoolLog(pool, 1, topic)})
	if len(got) != 1 || got[0] != common.HexToAddress("0x1234") {
		t.Errorf("ExtractAccounts = %v", got)
	}
}

func TestScanOnce_FirstScanThenBackfill(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a, b := testutil.Account(1), testutil.Account(2)

	f.chain.FilterLogsFn = func(q ethereum.FilterQuery) ([]types.Log, error) {
		if len(q.Addresses) != 1 || q.Addresses[0] != pool || len(q.Topics) != 0 {
			t.Errorf("unexpected filter %+v", q)
		}
		if q.FromBlock.Uint64() == 90_001 {
			return []types.Log{testutil.PoolLog(pool, 95_000, testutil.AddressTopic(a))}, nil
		}
		return []types.Log{testutil.PoolLog(pool, 85_000, testutil.AddressTopic(a), testutil.AddressTopic(b))}, nil
	}

	res, err := f.scanner.ScanOnce(ctx)
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if res.Window.Mode != ModeForward || res.Discovered != 1 {
		t.Fatalf("first scan = %+v", res)
	}

	res, err = f.scanner.ScanOnce(ctx)
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if res.Window != (Window{Mode: ModeBackfill, From: 80_001, To: 90_000}) {
		t.Errorf("second window = %+v", res.Window)
	}
	if res.Discovered != 1 || res.UniverseSize != 2 {
		t.Errorf("second scan = %+v", res)
	}

	p, err := f.state.LoadPointer(ctx)
	if err != nil {
		t.Fatalf("LoadPointer: %v", err)
	}
	if p.Forward.LastBlock != 100_000 || p.Backfill.DeepBlock != 80_001 {
		t.Errorf("pointer = forward %+v backfill %+v", p.Forward, p.Backfill)
	}
	if len(f.metrics.Scans) != 2 || f.metrics.Scans[1] != "backfill" {
		t.Errorf("metrics scans = %v", f.metrics.Scans)
	}
}

func TestScanOnce_TransportErrorKeepsPointer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	if err := f.state.SaveForward(ctx, &entity.ForwardCursor{LastBlock: 95_000, StartBlock: floor}); err != nil {
		t.Fatalf("SaveForward: %v", err)
	}
	f.chain.FilterLogsFn = func(ethereum.FilterQuery) ([]types.Log, error) {
		return nil, errors.New("503 service unavailable")
	}

	if _, err := f.scanner.ScanOnce(ctx); err == nil {
		t.Fatal("expected error")
	}
	p, err := f.state.LoadPointer(ctx)
	if err != nil {
		t.Fatalf("LoadPointer: %v", err)
	}
	if p.Forward.LastBlock != 95_000 {
		t.Errorf("forward moved to %d after failed scan", p.Forward.LastBlock)
	}

	// The retry plans the same window.
	f.chain.FilterLogsFn = nil
	if _, err := f.scanner.ScanOnce(ctx); err != nil {
		t.Fatalf("retry ScanOnce: %v", err)
	}
	queries := f.chain.LogQueries()
	if queries[0].FromBlock.Cmp(queries[1].FromBlock) != 0 || queries[0].ToBlock.Cmp(queries[1].ToBlock) != 0 {
		t.Errorf("retry window %v-%v differs from %v-%v",
			queries[1].FromBlock, queries[1].ToBlock, queries[0].FromBlock, queries[0].ToBlock)
	}
}

func TestScanOnce_UniverseOnlySavedWhenGrown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	if _, err := f.scanner.ScanOnce(ctx); err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if _, err := f.kv.Get(ctx, f.state.Key(syncstate.KeyUniverse)); !errors.Is(err, outbound.ErrNotFound) {
		t.Errorf("universe written without growth: err = %v", err)
	}
}

func TestScanOnce_PointerMonotonicAcrossCycles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *Config) { c.UniverseThreshold = 1_000_000 })

	var lastForward, lastBackfill uint64
	for i := 0; i < 20; i++ {
		f.chain.Tip += 500
		if _, err := f.scanner.ScanOnce(ctx); err != nil {
			t.Fatalf("ScanOnce %d: %v", i, err)
		}
		p, err := f.state.LoadPointer(ctx)
		if err != nil {
			t.Fatalf("LoadPointer: %v", err)
		}
		if p.Forward.LastBlock < lastForward {
			t.Fatalf("forward decreased: %d -> %d", lastForward, p.Forward.LastBlock)
		}
		lastForward = p.Forward.LastBlock
		if p.Backfill != nil {
			if lastBackfill != 0 && p.Backfill.DeepBlock > lastBackfill {
				t.Fatalf("backfill increased: %d -> %d", lastBackfill, p.Backfill.DeepBlock)
			}
			if p.Backfill.DeepBlock < floor {
				t.Fatalf("backfill %d below floor", p.Backfill.DeepBlock)
			}
			lastBackfill = p.Backfill.DeepBlock
		}
	}
	if lastBackfill != floor {
		t.Errorf("backfill ended at %d, want floor %d", lastBackfill, floor)
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Interval = time.Hour
		c.BusyInterval = time.Millisecond
	})
	f.chain.Tip = floor + 100

	if err := f.scanner.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(f.chain.LogQueries()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if err := f.scanner.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(f.chain.LogQueries()) == 0 {
		t.Error("loop never scanned")
	}
}
