package env

import (
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestGet(t *testing.T) {
	t.Setenv("SENTRY_TEST_VALUE", "abc")
	if got := Get("SENTRY_TEST_VALUE", "def"); got != "abc" {
		t.Errorf("Get = %q, want abc", got)
	}
	if got := Get("SENTRY_TEST_MISSING", "def"); got != "def" {
		t.Errorf("Get = %q, want def", got)
	}
}

func TestGetInt(t *testing.T) {
	t.Setenv("SENTRY_TEST_INT", " 250 ")
	v, err := GetInt("SENTRY_TEST_INT", 1)
	if err != nil || v != 250 {
		t.Errorf("GetInt = %d, %v; want 250, nil", v, err)
	}

	v, err = GetInt("SENTRY_TEST_INT_MISSING", 7)
	if err != nil || v != 7 {
		t.Errorf("GetInt default = %d, %v; want 7, nil", v, err)
	}

	t.Setenv("SENTRY_TEST_INT", "ten")
	if _, err := GetInt("SENTRY_TEST_INT", 1); err == nil {
		t.Error("expected error for malformed integer")
	}
}

func TestGetUint64(t *testing.T) {
	t.Setenv("SENTRY_TEST_UINT", "17203646")
	v, err := GetUint64("SENTRY_TEST_UINT", 0)
	if err != nil || v != 17203646 {
		t.Errorf("GetUint64 = %d, %v", v, err)
	}
	t.Setenv("SENTRY_TEST_UINT", "-1")
	if _, err := GetUint64("SENTRY_TEST_UINT", 0); err == nil {
		t.Error("expected error for negative value")
	}
}

func TestGetFloat(t *testing.T) {
	t.Setenv("SENTRY_TEST_FLOAT", "1.5")
	v, err := GetFloat("SENTRY_TEST_FLOAT", 0)
	if err != nil || v != 1.5 {
		t.Errorf("GetFloat = %v, %v", v, err)
	}
}

func TestGetDecimal(t *testing.T) {
	t.Setenv("SENTRY_TEST_DECIMAL", " 1.05 ")
	v, err := GetDecimal("SENTRY_TEST_DECIMAL", decimal.Zero)
	if err != nil || !v.Equal(decimal.RequireFromString("1.05")) {
		t.Errorf("GetDecimal = %v, %v", v, err)
	}

	t.Setenv("SENTRY_TEST_DECIMAL", "abc")
	if _, err := GetDecimal("SENTRY_TEST_DECIMAL", decimal.Zero); err == nil {
		t.Error("expected error for malformed decimal")
	}

	v, err = GetDecimal("SENTRY_TEST_DECIMAL_UNSET", decimal.NewFromInt(7))
	if err != nil || !v.Equal(decimal.NewFromInt(7)) {
		t.Errorf("GetDecimal default = %v, %v", v, err)
	}
}

func TestGetDuration(t *testing.T) {
	t.Setenv("SENTRY_TEST_DURATION", "90s")
	v, err := GetDuration("SENTRY_TEST_DURATION", time.Second)
	if err != nil || v != 90*time.Second {
		t.Errorf("GetDuration = %v, %v", v, err)
	}
	t.Setenv("SENTRY_TEST_DURATION", "90")
	if _, err := GetDuration("SENTRY_TEST_DURATION", time.Second); err == nil {
		t.Error("expected error for duration without unit")
	}
}

func TestGetBool(t *testing.T) {
	t.Setenv("SENTRY_TEST_BOOL", "true")
	v, err := GetBool("SENTRY_TEST_BOOL", false)
	if err != nil || !v {
		t.Errorf("GetBool = %v, %v", v, err)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want slog.Level
	}{
		{raw: "debug", want: slog.LevelDebug},
		{raw: "WARN", want: slog.LevelWarn},
		{raw: "error", want: slog.LevelError},
		{raw: " Warning ", want: slog.LevelWarn},
		{raw: "info+2", want: slog.LevelInfo + 2},
		{raw: "verbose", want: slog.LevelInfo},
		{raw: "", want: slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Setenv("LOG_LEVEL", tt.raw)
		if got := ParseLogLevel(slog.LevelInfo); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
