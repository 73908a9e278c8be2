package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "SCORE_THRESHOLD", "HAZARD_CLASSES", "MAX_CAMERA_PROBE", "MAX_READ_FAILURES", "READ_RETRY_DELAY", "STREAM_BUFFER", "STREAM_KEEPALIVE"} {
		t.Setenv(key, "")
	}

	cfg := fromEnv()

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, expected 8080", cfg.Port)
	}
	if cfg.ScoreThreshold != 0.5 {
		t.Errorf("ScoreThreshold = %v, expected 0.5", cfg.ScoreThreshold)
	}
	if !reflect.DeepEqual(cfg.HazardClasses, []string{"person", "cat", "dog", "bird"}) {
		t.Errorf("HazardClasses = %v", cfg.HazardClasses)
	}
	if cfg.MaxCameraProbe != 5 || cfg.MaxReadFailures != 100 || cfg.StreamBuffer != 2 {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
	if cfg.ReadRetryDelay != 10*time.Millisecond || cfg.StreamKeepalive != 5*time.Second {
		t.Errorf("Unexpected durations: retry=%v keepalive=%v", cfg.ReadRetryDelay, cfg.StreamKeepalive)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}

	// The default list must not be shared with the config.
	cfg.HazardClasses[0] = "car"
	if DefaultHazardClasses[0] != "person" {
		t.Error("Mutating the config changed DefaultHazardClasses")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("SCORE_THRESHOLD", "0.65")
	t.Setenv("HAZARD_CLASSES", " horse, cow ,,sheep ")
	t.Setenv("READ_RETRY_DELAY", "250")
	t.Setenv("STREAM_KEEPALIVE", "2s")
	t.Setenv("MAX_READ_FAILURES", "not-a-number")

	cfg := fromEnv()

	if cfg.Port != 9000 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.ScoreThreshold != 0.65 {
		t.Errorf("ScoreThreshold = %v", cfg.ScoreThreshold)
	}
	if !reflect.DeepEqual(cfg.HazardClasses, []string{"horse", "cow", "sheep"}) {
		t.Errorf("HazardClasses = %v", cfg.HazardClasses)
	}
	if cfg.ReadRetryDelay != 250*time.Millisecond {
		t.Errorf("ReadRetryDelay = %v", cfg.ReadRetryDelay)
	}
	if cfg.StreamKeepalive != 2*time.Second {
		t.Errorf("StreamKeepalive = %v", cfg.StreamKeepalive)
	}
	if cfg.MaxReadFailures != 100 {
		t.Errorf("Invalid MAX_READ_FAILURES should fall back to 100, got %d", cfg.MaxReadFailures)
	}
	if cfg.Addr() != ":9000" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Port = 70000 }, "PORT"},
		{"threshold above one", func(c *Config) { c.ScoreThreshold = 1.5 }, "SCORE_THRESHOLD"},
		{"no hazards", func(c *Config) { c.HazardClasses = nil }, "HAZARD_CLASSES"},
		{"negative failures", func(c *Config) { c.MaxReadFailures = -1 }, "MAX_READ_FAILURES"},
		{"zero buffer", func(c *Config) { c.StreamBuffer = 0 }, "STREAM_BUFFER"},
		{"jpeg quality", func(c *Config) { c.JPEGQuality = 0 }, "JPEG_QUALITY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Port:           8080,
				ScoreThreshold: 0.5,
				HazardClasses:  []string{"person"},
				MaxCameraProbe: 5,
				StreamBuffer:   2,
				JPEGQuality:    95,
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, expected mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "roadsafety_config_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	t.Cleanup(func() { os.Unsetenv("JPEG_QUALITY") })
	os.Unsetenv("JPEG_QUALITY")

	envPath := filepath.Join(tempDir, ".env")
	if err := os.WriteFile(envPath, []byte("JPEG_QUALITY=70\n"), 0644); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}

	cfg, err := LoadFile(envPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if !cfg.EnvFileLoaded {
		t.Error("Expected EnvFileLoaded to be true")
	}
	if cfg.JPEGQuality != 70 {
		t.Errorf("JPEGQuality = %d, expected 70", cfg.JPEGQuality)
	}

	missing, err := LoadFile(filepath.Join(tempDir, "missing.env"))
	if err != nil {
		t.Fatalf("Missing env file should not be an error: %v", err)
	}
	if missing.EnvFileLoaded {
		t.Error("Expected EnvFileLoaded to be false for a missing file")
	}
}
