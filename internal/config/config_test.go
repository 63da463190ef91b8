package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	require.Equal(t, ":8080", cfg.HTTPAddress)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 100, cfg.BestEffortsLimit)
	require.Equal(t, 4380*time.Hour, cfg.InactivityThreshold)
	require.False(t, cfg.EarlyBirdsProLogin)
	require.Equal(t, "usd", cfg.Currency)
	require.Equal(t, 5, cfg.TaskMaxRetries)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092 ,")
	t.Setenv("BEST_EFFORTS_LIMIT", "25")
	t.Setenv("INACTIVITY_THRESHOLD", "720h")
	t.Setenv("ENABLE_EARLY_BIRDS_PRO_ON_LOGIN", "true")
	t.Setenv("TASK_BASE_DELAY", "30s")

	cfg := Load()

	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 25, cfg.BestEffortsLimit)
	require.Equal(t, 720*time.Hour, cfg.InactivityThreshold)
	require.True(t, cfg.EarlyBirdsProLogin)
	require.Equal(t, 30*time.Second, cfg.TaskBaseDelay)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("BEST_EFFORTS_LIMIT", "lots")
	t.Setenv("TASK_POLL_INTERVAL", "soon")

	cfg := Load()

	require.Equal(t, 100, cfg.BestEffortsLimit)
	require.Equal(t, 2*time.Second, cfg.TaskPollInterval)
}
