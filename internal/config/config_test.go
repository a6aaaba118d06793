package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, defaultHTTPPort, cfg.HTTPPort)
	assert.Equal(t, defaultMQTTBindAddress, cfg.MQTTBindAddress)
	assert.Equal(t, defaultSignalThreshold, cfg.SignalThreshold)
	assert.Equal(t, defaultStalenessWindow, cfg.StalenessWindow)
	assert.False(t, cfg.AggressiveCleanup)
	assert.Empty(t, cfg.MQTTUsers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PRESENCE_HTTP_PORT", "9000")
	t.Setenv("PRESENCE_MQTT_BIND", ":2883")
	t.Setenv("PRESENCE_SIGNAL_THRESHOLD", "-75")
	t.Setenv("PRESENCE_STALENESS_WINDOW", "2m")
	t.Setenv("PRESENCE_AGGRESSIVE_CLEANUP", "true")
	t.Setenv("PRESENCE_GENERATION_MODEL", "gpt-4o")
	t.Setenv("PRESENCE_GENERATION_TIMEOUT", "10s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, ":2883", cfg.MQTTBindAddress)
	assert.Equal(t, -75, cfg.SignalThreshold)
	assert.Equal(t, 2*time.Minute, cfg.StalenessWindow)
	assert.True(t, cfg.AggressiveCleanup)
	assert.Equal(t, "gpt-4o", cfg.GenerationModel)
	assert.Equal(t, 10*time.Second, cfg.GenerationTimeout)
}

func TestLoadMQTTUsers(t *testing.T) {
	t.Setenv("PRESENCE_MQTT_USERS", `{"beacon":"hunter2","admin":"s3cret"}`)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.MQTTUsers["beacon"])
	assert.Equal(t, "s3cret", cfg.MQTTUsers["admin"])
}

func TestLoadInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PRESENCE_HTTP_PORT":          "not-a-port",
		"PRESENCE_SIGNAL_THRESHOLD":   "loud",
		"PRESENCE_STALENESS_WINDOW":   "soon",
		"PRESENCE_AGGRESSIVE_CLEANUP": "maybe",
		"PRESENCE_MQTT_USERS":         "{broken",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
