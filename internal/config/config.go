// Package config loads agent configuration from environment variables,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all agent configuration
type Config struct {
	ServerURL string
	AuthToken string
	DeviceID  string

	DataDir      string
	DatabasePath string
	PhotoDir     string

	ListenAddr string

	ProbeURL       string
	ProbeInterval  time.Duration
	DebounceWindow time.Duration

	AutoSyncOnReconnect bool
	RetentionDays       int
	Debug               bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	serverURL := os.Getenv("SERVER_URL")
	if serverURL == "" {
		return nil, fmt.Errorf("SERVER_URL is required")
	}

	deviceID := os.Getenv("DEVICE_ID")
	if deviceID == "" {
		return nil, fmt.Errorf("DEVICE_ID is required")
	}

	dataDir := getEnv("DATA_DIR", "./data")

	return &Config{
		ServerURL:           serverURL,
		AuthToken:           os.Getenv("AUTH_TOKEN"),
		DeviceID:            deviceID,
		DataDir:             dataDir,
		DatabasePath:        getEnv("DATABASE_PATH", dataDir+"/fieldsync.db"),
		PhotoDir:            getEnv("PHOTO_DIR", dataDir+"/photos"),
		ListenAddr:          getEnv("LISTEN_ADDR", "127.0.0.1:7411"),
		ProbeURL:            getEnv("PROBE_URL", serverURL+"/health"),
		ProbeInterval:       getEnvDuration("PROBE_INTERVAL", 30*time.Second),
		DebounceWindow:      getEnvDuration("DEBOUNCE_WINDOW", 2*time.Second),
		AutoSyncOnReconnect: getEnv("AUTO_SYNC_ON_RECONNECT", "true") == "true",
		RetentionDays:       getEnvInt("RETENTION_DAYS", 7),
		Debug:               getEnv("DEBUG", "false") == "true",
	}, nil
}

// getEnv returns an environment variable or a default
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
