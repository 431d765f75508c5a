package main

import (
	"strings"
	"testing"

	"github.com/archon-research/stl-sentry/internal/application"
)

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		envVars   map[string]string
		wantCfg   cliConfig
		wantError string
	}{
		{
			name: "all flags provided via CLI",
			args: []string{"-chain", "mainnet", "-protocol", "aave-v3", "-store", "bolt:///var/lib/sentry.db", "-rpc", "http://node:8545", "-once"},
			wantCfg: cliConfig{
				opts: application.Options{Chain: "mainnet", Protocol: "aave-v3", StoreURL: "bolt:///var/lib/sentry.db", RPCURL: "http://node:8545"},
				once: true,
			},
		},
		{
			name:    "store and rpc from env vars",
			envVars: map[string]string{"STORE_URL": "s3://sentry-state/mainnet", "RPC_URL": "wss://node:8546"},
			wantCfg: cliConfig{
				opts: application.Options{Chain: "mainnet", Protocol: "sparklend", StoreURL: "s3://sentry-state/mainnet", RPCURL: "wss://node:8546"},
			},
		},
		{
			name:      "missing store URL",
			args:      []string{"-rpc", "http://node:8545"},
			wantError: "store URL not provided",
		},
		{
			name:      "missing RPC URL",
			args:      []string{"-store", "memory://"},
			wantError: "RPC URL not provided",
		},
		{
			name:      "unknown chain",
			args:      []string{"-chain", "gnosis", "-store", "memory://", "-rpc", "http://node:8545"},
			wantError: "no deployment",
		},
		{
			name:      "invalid flag",
			args:      []string{"--nonexistent"},
			wantError: "flag provided but not defined",
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
			if cfg != tt.wantCfg {
				t.Errorf("got %+v, want %+v", cfg, tt.wantCfg)
			}
		})
	}
}
