package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config lists the tunable parameters for the presence server.
type Config struct {
	HTTPPort        int
	MQTTBindAddress string
	DatabasePath    string
	LogLevel        string

	// SignalThreshold is the minimum RSSI for a sighting to count as nearby.
	SignalThreshold int
	// StalenessWindow is how old a sighting may be before it is evicted.
	StalenessWindow time.Duration
	// AggressiveCleanup drops a beacon's whole subtree when nobody is nearby.
	AggressiveCleanup bool
	// MirrorInterval paces the unfiltered snapshot passthrough to the bus.
	MirrorInterval time.Duration

	GenerationURL     string
	GenerationModel   string
	GenerationAPIKey  string
	GenerationTimeout time.Duration

	// MQTTUsers maps usernames to passwords for broker authentication.
	// Empty means unauthenticated.
	MQTTUsers map[string]string
}

const (
	defaultHTTPPort          = 8080
	defaultMQTTBindAddress   = ":1883"
	defaultDatabasePath      = "data/presence.db"
	defaultLogLevel          = "info"
	defaultSignalThreshold   = -60
	defaultStalenessWindow   = 30 * time.Second
	defaultMirrorInterval    = 5 * time.Second
	defaultGenerationURL     = "https://api.openai.com/v1"
	defaultGenerationModel   = "gpt-4o-mini"
	defaultGenerationTimeout = 30 * time.Second
)

// Load derives configuration values from environment variables, falling back to defaults.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:          defaultHTTPPort,
		MQTTBindAddress:   defaultMQTTBindAddress,
		DatabasePath:      defaultDatabasePath,
		LogLevel:          defaultLogLevel,
		SignalThreshold:   defaultSignalThreshold,
		StalenessWindow:   defaultStalenessWindow,
		MirrorInterval:    defaultMirrorInterval,
		GenerationURL:     defaultGenerationURL,
		GenerationModel:   defaultGenerationModel,
		GenerationTimeout: defaultGenerationTimeout,
	}

	if v := os.Getenv("PRESENCE_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PRESENCE_HTTP_PORT: %w", err)
		}
		cfg.HTTPPort = port
	}

	if v := os.Getenv("PRESENCE_MQTT_BIND"); v != "" {
		cfg.MQTTBindAddress = v
	}

	if v := os.Getenv("PRESENCE_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}

	if v := os.Getenv("PRESENCE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("PRESENCE_SIGNAL_THRESHOLD"); v != "" {
		threshold, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PRESENCE_SIGNAL_THRESHOLD: %w", err)
		}
		cfg.SignalThreshold = threshold
	}

	if v := os.Getenv("PRESENCE_STALENESS_WINDOW"); v != "" {
		window, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PRESENCE_STALENESS_WINDOW: %w", err)
		}
		cfg.StalenessWindow = window
	}

	if v := os.Getenv("PRESENCE_AGGRESSIVE_CLEANUP"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PRESENCE_AGGRESSIVE_CLEANUP: %w", err)
		}
		cfg.AggressiveCleanup = enabled
	}

	if v := os.Getenv("PRESENCE_MIRROR_INTERVAL"); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PRESENCE_MIRROR_INTERVAL: %w", err)
		}
		cfg.MirrorInterval = interval
	}

	if v := os.Getenv("PRESENCE_GENERATION_URL"); v != "" {
		cfg.GenerationURL = v
	}

	if v := os.Getenv("PRESENCE_GENERATION_MODEL"); v != "" {
		cfg.GenerationModel = v
	}

	if v := os.Getenv("PRESENCE_GENERATION_API_KEY"); v != "" {
		cfg.GenerationAPIKey = v
	}

	if v := os.Getenv("PRESENCE_GENERATION_TIMEOUT"); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PRESENCE_GENERATION_TIMEOUT: %w", err)
		}
		cfg.GenerationTimeout = timeout
	}

	if v := os.Getenv("PRESENCE_MQTT_USERS"); v != "" {
		users := make(map[string]string)
		if err := json.Unmarshal([]byte(v), &users); err != nil {
			return Config{}, fmt.Errorf("invalid PRESENCE_MQTT_USERS: %w", err)
		}
		cfg.MQTTUsers = users
	}

	return cfg, nil
}
