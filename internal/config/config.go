package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultHazardClasses are the detector labels that raise an alert.
var DefaultHazardClasses = []string{"person", "cat", "dog", "bird"}

type Config struct {
	Port            int
	ModelPath       string
	ConfigPath      string
	ScoreThreshold  float64
	HazardClasses   []string
	MaxCameraProbe  int           // Liczba indeksów urządzeń sprawdzanych przy listowaniu kamer
	MaxReadFailures int           // 0 = ponawiaj odczyt bez limitu
	ReadRetryDelay  time.Duration // Przerwa między nieudanymi odczytami klatki
	StreamBuffer    int           // Liczba klatek buforowanych na klienta
	StreamKeepalive time.Duration
	JPEGQuality     int
	CaptureWidth    int
	CaptureHeight   int
	LogDirectory    string
	LogMaxSizeMB    int
	LogMaxBackups   int
	ShutdownTimeout time.Duration
	EnvFileLoaded   bool
}

// Load reads .env (when present) and builds the configuration from the environment.
func Load() *Config {
	loaded := godotenv.Load() == nil
	cfg := fromEnv()
	cfg.EnvFileLoaded = loaded
	return cfg
}

// LoadFile is Load with an explicit .env path. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	loaded := false
	if _, err := os.Stat(path); err == nil {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
		}
		loaded = true
	}
	cfg := fromEnv()
	cfg.EnvFileLoaded = loaded
	return cfg, nil
}

func fromEnv() *Config {
	return &Config{
		Port:            getEnvAsInt("PORT", 8080),
		ModelPath:       getEnv("MODEL_PATH", filepath.Join(".", "models", "frozen_inference_graph.pb")),
		ConfigPath:      getEnv("CONFIG_PATH", filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt")),
		ScoreThreshold:  getEnvAsFloat("SCORE_THRESHOLD", 0.5),
		HazardClasses:   getEnvAsList("HAZARD_CLASSES", DefaultHazardClasses),
		MaxCameraProbe:  getEnvAsInt("MAX_CAMERA_PROBE", 5),
		MaxReadFailures: getEnvAsInt("MAX_READ_FAILURES", 100),
		ReadRetryDelay:  getEnvAsDuration("READ_RETRY_DELAY", 10*time.Millisecond),
		StreamBuffer:    getEnvAsInt("STREAM_BUFFER", 2),
		StreamKeepalive: getEnvAsDuration("STREAM_KEEPALIVE", 5*time.Second),
		JPEGQuality:     getEnvAsInt("JPEG_QUALITY", 95),
		CaptureWidth:    getEnvAsInt("CAPTURE_WIDTH", 0),
		CaptureHeight:   getEnvAsInt("CAPTURE_HEIGHT", 0),
		LogDirectory:    getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogMaxSizeMB:    getEnvAsInt("LOG_MAX_SIZE_MB", 10),
		LogMaxBackups:   getEnvAsInt("LOG_MAX_BACKUPS", 3),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
	}
}

// Validate reports every out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		errs = append(errs, fmt.Errorf("SCORE_THRESHOLD must be within [0,1]: %v", c.ScoreThreshold))
	}
	if len(c.HazardClasses) == 0 {
		errs = append(errs, errors.New("HAZARD_CLASSES is empty"))
	}
	if c.MaxCameraProbe < 0 {
		errs = append(errs, fmt.Errorf("MAX_CAMERA_PROBE must not be negative: %d", c.MaxCameraProbe))
	}
	if c.MaxReadFailures < 0 {
		errs = append(errs, fmt.Errorf("MAX_READ_FAILURES must not be negative: %d", c.MaxReadFailures))
	}
	if c.StreamBuffer < 1 {
		errs = append(errs, fmt.Errorf("STREAM_BUFFER must be at least 1: %d", c.StreamBuffer))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("JPEG_QUALITY must be within [1,100]: %d", c.JPEGQuality))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("250ms") or plain milliseconds ("250").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return append([]string(nil), defaultValue...)
	}
	return items
}
