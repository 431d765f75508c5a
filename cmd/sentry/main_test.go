package main

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-sentry/internal/application"
	"github.com/archon-research/stl-sentry/internal/domain/entity"
)

var sentryEnv = []string{
	"CHAIN", "PROTOCOL", "STORE_URL", "RPC_URL",
	"SENTRY_DISCOVER", "SENTRY_CHUNK_SIZE", "SENTRY_RELOAD_EVERY",
	"SENTRY_FAST_INTERVAL", "SENTRY_SLOW_INTERVAL",
	"HF_LIQUIDATION", "HF_RISK", "HF_WARNING", "DUST_USD",
}

func TestParseConfig(t *testing.T) {
	custom := entity.DefaultThresholds()
	custom.Risk = decimal.RequireFromString("1.05")
	custom.DustUSD = decimal.NewFromInt(50)

	tests := []struct {
		name      string
		args      []string
		envVars   map[string]string
		wantCfg   cliConfig
		wantError string
	}{
		{
			name: "flags with defaults",
			args: []string{"-store", "memory://", "-rpc", "http://node:8545"},
			wantCfg: cliConfig{
				opts:        application.Options{Chain: "mainnet", Protocol: "sparklend", StoreURL: "memory://", RPCURL: "http://node:8545"},
				thresholds:  entity.DefaultThresholds(),
				chunkSize:   500,
				reloadEvery: 20,
				fast:        3 * time.Second,
				slow:        12 * time.Second,
			},
		},
		{
			name: "everything from env",
			envVars: map[string]string{
				"STORE_URL":            "redis://localhost:6379/0",
				"RPC_URL":              "ws://node:8546",
				"PROTOCOL":             "aave-v3",
				"SENTRY_DISCOVER":      "true",
				"SENTRY_CHUNK_SIZE":    "100",
				"SENTRY_RELOAD_EVERY":  "5",
				"SENTRY_FAST_INTERVAL": "1s",
				"SENTRY_SLOW_INTERVAL": "30s",
				"HF_RISK":              "1.05",
				"DUST_USD":             "50",
			},
			wantCfg: cliConfig{
				opts:        application.Options{Chain: "mainnet", Protocol: "aave-v3", StoreURL: "redis://localhost:6379/0", RPCURL: "ws://node:8546"},
				discover:    true,
				thresholds:  custom,
				chunkSize:   100,
				reloadEvery: 5,
				fast:        time.Second,
				slow:        30 * time.Second,
			},
		},
		{
			name:    "CLI flag takes precedence over env var",
			args:    []string{"-store", "memory://", "-chunk", "42", "-discover"},
			envVars: map[string]string{"STORE_URL": "file:///tmp/x", "RPC_URL": "http://node:8545", "SENTRY_CHUNK_SIZE": "7"},
			wantCfg: cliConfig{
				opts:        application.Options{Chain: "mainnet", Protocol: "sparklend", StoreURL: "memory://", RPCURL: "http://node:8545"},
				discover:    true,
				thresholds:  entity.DefaultThresholds(),
				chunkSize:   42,
				reloadEvery: 20,
				fast:        3 * time.Second,
				slow:        12 * time.Second,
			},
		},
		{
			name:      "missing RPC URL",
			args:      []string{"-store", "memory://"},
			wantError: "RPC URL not provided",
		},
		{
			name:      "misordered thresholds",
			args:      []string{"-store", "memory://", "-rpc", "http://node:8545"},
			envVars:   map[string]string{"HF_WARNING": "1.01"},
			wantError: "warning threshold",
		},
		{
			name:      "malformed threshold",
			args:      []string{"-store", "memory://", "-rpc", "http://node:8545"},
			envVars:   map[string]string{"HF_RISK": "high"},
			wantError: "HF_RISK",
		},
		{
			name:      "invalid flag",
			args:      []string{"--nonexistent"},
			wantError: "flag provided but not defined",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range sentryEnv {
				t.Setenv(k, "")
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := parseConfig(tt.args)

			if tt.wantError != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.wantError)
				}
				if !strings.Contains(err.Error(), tt.wantError) {
					t.Fatalf("expected error containing %q, got %q", tt.wantError, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if cfg.opts != tt.wantCfg.opts {
				t.Errorf("opts = %+v, want %+v", cfg.opts, tt.wantCfg.opts)
			}
			if cfg.discover != tt.wantCfg.discover {
				t.Errorf("discover = %v, want %v", cfg.discover, tt.wantCfg.discover)
			}
			if cfg.chunkSize != tt.wantCfg.chunkSize || cfg.reloadEvery != tt.wantCfg.reloadEvery {
				t.Errorf("chunk/reload = %d/%d, want %d/%d", cfg.chunkSize, cfg.reloadEvery, tt.wantCfg.chunkSize, tt.wantCfg.reloadEvery)
			}
			if cfg.fast != tt.wantCfg.fast || cfg.slow != tt.wantCfg.slow {
				t.Errorf("intervals = %v/%v, want %v/%v", cfg.fast, cfg.slow, tt.wantCfg.fast, tt.wantCfg.slow)
			}
			if !thresholdsEqual(cfg.thresholds, tt.wantCfg.thresholds) {
				t.Errorf("thresholds = %+v, want %+v", cfg.thresholds, tt.wantCfg.thresholds)
			}
		})
	}
}

func thresholdsEqual(a, b entity.Thresholds) bool {
	return a.Liquidation.Equal(b.Liquidation) &&
		a.Risk.Equal(b.Risk) &&
		a.Warning.Equal(b.Warning) &&
		a.DustUSD.Equal(b.DustUSD)
}
