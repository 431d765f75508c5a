package application

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-sentry/internal/pkg/blockchain/multicall"
	"github.com/archon-research/stl-sentry/internal/testutil"
)

func TestOptionsResolve(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		envVars   map[string]string
		needRPC   bool
		want      Options
		wantError string
	}{
		{
			name: "flags only",
			args: []string{"-chain", "mainnet", "-protocol", "aave-v3", "-store", "memory://", "-rpc", "http://node:8545"},
			want: Options{Chain: "mainnet", Protocol: "aave-v3", StoreURL: "memory://", RPCURL: "http://node:8545"},
		},
		{
			name:    "defaults and env fallback",
			envVars: map[string]string{"STORE_URL": "file:///tmp/sentry", "RPC_URL": "http://env:8545"},
			needRPC: true,
			want:    Options{Chain: "mainnet", Protocol: "sparklend", StoreURL: "file:///tmp/sentry", RPCURL: "http://env:8545"},
		},
		{
			name:    "flag takes precedence over env",
			args:    []string{"-store", "memory://"},
			envVars: map[string]string{"STORE_URL": "file:///tmp/sentry"},
			want:    Options{Chain: "mainnet", Protocol: "sparklend", StoreURL: "memory://"},
		},
		{
			name:      "missing store",
			wantError: "store URL not provided",
		},
		{
			name:      "missing rpc when required",
			args:      []string{"-store", "memory://"},
			needRPC:   true,
			wantError: "RPC URL not provided",
		},
		{
			name:      "unknown deployment",
			args:      []string{"-protocol", "compound", "-store", "memory://"},
			wantError: "compound",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"CHAIN", "PROTOCOL", "STORE_URL", "RPC_URL"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			o := BindFlags(fs)
			if err := fs.Parse(tt.args); err != nil {
				t.Fatalf("parse: %v", err)
			}

			err := o.Resolve(tt.needRPC)
			if tt.wantError != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantError) {
					t.Fatalf("expected error containing %q, got %v", tt.wantError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if *o != tt.want {
				t.Errorf("got %+v, want %+v", *o, tt.want)
			}
		})
	}
}

func TestOptionsDeployment(t *testing.T) {
	o := &Options{Chain: "mainnet", Protocol: "sparklend"}
	d := o.Deployment()
	if d.Name != "sparklend" || d.DeploymentBlock == 0 {
		t.Errorf("unexpected deployment %+v", d)
	}
}

type fakeWorker struct {
	startErr error
	started  atomic.Bool
	stopped  atomic.Bool
	stopWait time.Duration
}

func (w *fakeWorker) Start(ctx context.Context) error {
	if w.startErr != nil {
		return w.startErr
	}
	w.started.Store(true)
	return nil
}

func (w *fakeWorker) Stop() error {
	time.Sleep(w.stopWait)
	w.stopped.Store(true)
	return nil
}

func TestServe(t *testing.T) {
	t.Run("stops after cancel", func(t *testing.T) {
		w := &fakeWorker{}
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() { done <- Serve(ctx, w, slog.Default()) }()

		time.Sleep(20 * time.Millisecond)
		if !w.started.Load() {
			t.Fatal("worker not started")
		}
		cancel()

		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Serve: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Serve did not return")
		}
		if !w.stopped.Load() {
			t.Error("worker not stopped")
		}
	})

	t.Run("start error", func(t *testing.T) {
		w := &fakeWorker{startErr: errors.New("boom")}
		err := Serve(context.Background(), w, slog.Default())
		if err == nil || !strings.Contains(err.Error(), "boom") {
			t.Fatalf("expected start error, got %v", err)
		}
	})
}

func TestTelemetryNoEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("TRACE_STDOUT", "")
	t.Setenv("TRACE_SAMPLE_RATE", "")

	tel, err := InitTelemetry(context.Background(), "sentry-test")
	if err != nil {
		t.Fatalf("InitTelemetry: %v", err)
	}
	if tel.Metrics == nil {
		t.Fatal("expected metrics recorder")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestHealthConfig(t *testing.T) {
	d := (&Options{Chain: "mainnet", Protocol: "sparklend"}).Deployment()

	t.Setenv("PRICE_ORACLE", "")
	cfg := HealthConfig(d, slog.Default())
	if cfg.Pool != d.PoolAddress || cfg.DataProvider != d.PoolDataProvider {
		t.Errorf("pool bindings not copied: %+v", cfg)
	}
	if cfg.Oracle != (common.Address{}) {
		t.Errorf("oracle should be resolved lazily, got %s", cfg.Oracle)
	}
	if len(cfg.Reserves) != len(d.Reserves) {
		t.Errorf("reserves = %d, want %d", len(cfg.Reserves), len(d.Reserves))
	}

	oracle := "0x8105f69D9C41644c6A0803fDA7D03Aa70996cFD9"
	t.Setenv("PRICE_ORACLE", oracle)
	if got := HealthConfig(d, slog.Default()).Oracle; got != common.HexToAddress(oracle) {
		t.Errorf("oracle = %s, want %s", got, oracle)
	}
}

func TestDiscoveryConfig(t *testing.T) {
	d := (&Options{Chain: "mainnet", Protocol: "sparklend"}).Deployment()

	t.Setenv("DISCOVERY_WINDOW_SIZE", "2000")
	t.Setenv("UNIVERSE_THRESHOLD", "")
	t.Setenv("DISCOVERY_INTERVAL", "30s")
	cfg, err := DiscoveryConfig(d, nil, slog.Default())
	if err != nil {
		t.Fatalf("DiscoveryConfig: %v", err)
	}
	if cfg.WindowSize != 2000 || cfg.Interval != 30*time.Second {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if cfg.UniverseThreshold != 50_000 {
		t.Errorf("UniverseThreshold = %d, want default", cfg.UniverseThreshold)
	}
	if _, ok := cfg.Known[d.PoolDataProvider]; !ok {
		t.Error("data provider should be a known contract")
	}

	t.Setenv("UNIVERSE_THRESHOLD", "many")
	if _, err := DiscoveryConfig(d, nil, slog.Default()); err == nil {
		t.Error("expected error for malformed threshold")
	}
}

func TestDialChainModes(t *testing.T) {
	node := testutil.StartMockEthRPC(t, nil)
	o := &Options{Chain: "mainnet", Protocol: "sparklend", RPCURL: node.URL}

	t.Run("aggregate by default", func(t *testing.T) {
		t.Setenv("MULTICALL_MODE", "")
		chain, err := DialChain(context.Background(), o, slog.Default())
		if err != nil {
			t.Fatalf("DialChain: %v", err)
		}
		defer chain.Close()
		if _, ok := chain.Multicall.(*multicall.Client); !ok {
			t.Errorf("Multicall = %T, want *multicall.Client", chain.Multicall)
		}
	})

	t.Run("direct batches", func(t *testing.T) {
		t.Setenv("MULTICALL_MODE", "direct")
		chain, err := DialChain(context.Background(), o, slog.Default())
		if err != nil {
			t.Fatalf("DialChain: %v", err)
		}
		defer chain.Close()
		if _, ok := chain.Multicall.(*multicall.DirectCaller); !ok {
			t.Errorf("Multicall = %T, want *multicall.DirectCaller", chain.Multicall)
		}
	})

	t.Run("unknown mode", func(t *testing.T) {
		t.Setenv("MULTICALL_MODE", "parallel")
		if _, err := DialChain(context.Background(), o, slog.Default()); err == nil {
			t.Fatal("expected error for unknown mode")
		}
	})

	t.Run("malformed rate limit", func(t *testing.T) {
		t.Setenv("MULTICALL_MODE", "")
		t.Setenv("RPC_RATE_LIMIT", "fast")
		if _, err := DialChain(context.Background(), o, slog.Default()); err == nil {
			t.Fatal("expected error for malformed RPC_RATE_LIMIT")
		}
	})
}
