package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "GRPC_PORT", "DB_PATH", "CATALOG_PATH", "OUTPUT_DIR", "OUTPUT_FILE",
		"START_INDEX", "RESUME", "TICK_INTERVAL", "COUNTDOWN_OFFSET", "TRACKER_BUFFER_SIZE", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
	// Setenv registers the restore; the variables must be absent, not empty.
	unset(t, "PORT", "GRPC_PORT", "DB_PATH", "CATALOG_PATH", "OUTPUT_DIR", "OUTPUT_FILE",
		"START_INDEX", "RESUME", "TICK_INTERVAL", "COUNTDOWN_OFFSET", "TRACKER_BUFFER_SIZE", "LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" || cfg.GRPCPort != "9090" {
		t.Errorf("unexpected ports: %s %s", cfg.Port, cfg.GRPCPort)
	}
	if cfg.Calibration.OutputFile != "gaze_data_segments.csv" {
		t.Errorf("unexpected output file: %s", cfg.Calibration.OutputFile)
	}
	if cfg.Calibration.TickInterval != 16*time.Millisecond {
		t.Errorf("unexpected tick interval: %v", cfg.Calibration.TickInterval)
	}
	if cfg.Calibration.CountdownOffset != 0.05 {
		t.Errorf("unexpected countdown offset: %v", cfg.Calibration.CountdownOffset)
	}
	if cfg.Tracker.BufferSize != 4096 || cfg.LogLevel != slog.LevelInfo {
		t.Errorf("unexpected tracker/log config: %+v %v", cfg.Tracker, cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("START_INDEX", "12")
	t.Setenv("RESUME", "yes")
	t.Setenv("TICK_INTERVAL", "0.008")
	t.Setenv("COUNTDOWN_OFFSET", "0.1")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("GRPC_PORT", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Calibration.StartIndex != 12 || !cfg.Calibration.Resume {
		t.Errorf("unexpected start config: %+v", cfg.Calibration)
	}
	if cfg.Calibration.TickInterval != 8*time.Millisecond {
		t.Errorf("expected 8ms tick, got %v", cfg.Calibration.TickInterval)
	}
	if cfg.Calibration.CountdownOffset != 0.1 {
		t.Errorf("expected offset 0.1, got %v", cfg.Calibration.CountdownOffset)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.LogLevel)
	}
	if cfg.GRPCEnabled() {
		t.Error("GRPC_PORT=0 should disable the gRPC server")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"START_INDEX":         "-1",
		"TICK_INTERVAL":       "-5ms",
		"COUNTDOWN_OFFSET":    "2",
		"TRACKER_BUFFER_SIZE": "0",
		"OUTPUT_FILE":         "../escape.csv",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%s to be rejected", key, value)
			}
		})
	}
}

func unset(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unsetenv %s: %v", key, err)
		}
	}
}
