package main

import (
	"strings"
	"testing"
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
			name:    "db from flag",
			args:    []string{"-db", "postgres://localhost:5432/sentry"},
			wantCfg: cliConfig{dbURL: "postgres://localhost:5432/sentry"},
		},
		{
			name:    "db from env var",
			args:    []string{"-list"},
			envVars: map[string]string{"DATABASE_URL": "postgres://localhost/envdb"},
			wantCfg: cliConfig{dbURL: "postgres://localhost/envdb", list: true},
		},
		{
			name:    "CLI flag takes precedence over env var",
			args:    []string{"-db", "postgres://localhost/cli-db"},
			envVars: map[string]string{"DATABASE_URL": "postgres://localhost/env-db"},
			wantCfg: cliConfig{dbURL: "postgres://localhost/cli-db"},
		},
		{
			name:      "missing database URL",
			wantError: "database URL not provided",
		},
		{
			name:      "invalid flag",
			args:      []string{"--nonexistent"},
			wantError: "flag provided but not defined",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
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
