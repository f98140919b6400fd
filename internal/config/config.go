// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	GRPCPort    string
	FrontendURL string
	DBPath      string
	LogLevel    slog.Level
	Calibration CalibrationConfig
	Tracker     TrackerConfig
}

// CalibrationConfig controls the trial catalog and gaze output.
type CalibrationConfig struct {
	CatalogPath     string
	OutputDir       string
	OutputFile      string
	StartIndex      int
	Resume          bool
	TickInterval    time.Duration
	CountdownOffset float64
}

// TrackerConfig sizes the inbound gaze sample buffer.
type TrackerConfig struct {
	BufferSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GRPCPort:    getEnv("GRPC_PORT", "9090"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/gazecal.db"),
		LogLevel:    getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		Calibration: CalibrationConfig{
			CatalogPath:     getEnv("CATALOG_PATH", "./data/calibration.csv"),
			OutputDir:       getEnv("OUTPUT_DIR", "./data/GazeData"),
			OutputFile:      getEnv("OUTPUT_FILE", "gaze_data_segments.csv"),
			StartIndex:      getEnvInt("START_INDEX", 0),
			Resume:          getEnvBool("RESUME", false),
			TickInterval:    getEnvDuration("TICK_INTERVAL", 16*time.Millisecond),
			CountdownOffset: getEnvFloat("COUNTDOWN_OFFSET", 0.05),
		},
		Tracker: TrackerConfig{
			BufferSize: getEnvInt("TRACKER_BUFFER_SIZE", 4096),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Calibration.CatalogPath == "" {
		return fmt.Errorf("CATALOG_PATH cannot be empty")
	}
	if c.Calibration.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR cannot be empty")
	}
	if c.Calibration.OutputFile == "" || strings.ContainsAny(c.Calibration.OutputFile, `/\`) {
		return fmt.Errorf("OUTPUT_FILE must be a bare file name")
	}
	if c.Calibration.StartIndex < 0 {
		return fmt.Errorf("START_INDEX must be >= 0")
	}
	if c.Calibration.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be > 0")
	}
	if c.Calibration.CountdownOffset < 0 || c.Calibration.CountdownOffset > 1 {
		return fmt.Errorf("COUNTDOWN_OFFSET must be within [0, 1]")
	}
	if c.Tracker.BufferSize <= 0 {
		return fmt.Errorf("TRACKER_BUFFER_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// GRPCEnabled reports whether the health server should be started.
func (c *Config) GRPCEnabled() bool {
	return c.GRPCPort != "" && c.GRPCPort != "0"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("16ms") or bare seconds ("0.016").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil && !math.IsNaN(secs) && !math.IsInf(secs, 0) {
		return time.Duration(math.Round(secs * float64(time.Second)))
	}
	return fallback
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
