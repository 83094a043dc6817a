package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FRAME_BUDGET", "")
	t.Setenv("DEBOUNCE_WINDOW", "")

	cfg := Load()

	assert.Equal(t, 100*time.Millisecond, cfg.FrameBudget)
	assert.Equal(t, 60*time.Second, cfg.DebounceWindow)
	assert.Equal(t, 20, cfg.PPEFrameInterval)
	assert.InDelta(t, 0.75, cfg.DefaultConfidence, 1e-9)
	assert.Equal(t, 640, cfg.FrameWidth)
	assert.Equal(t, 480, cfg.FrameHeight)
	assert.Equal(t, 3, cfg.SourceRetries)
	assert.Equal(t, 0, cfg.RetryMaxAttempts)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PROXIMITY_THRESHOLD_PX", "50")
	t.Setenv("RETRY_BACKOFF_MAX", "90s")
	t.Setenv("MAX_TASKS", "not-a-number")
	t.Setenv("LOGDY_ENABLED", "true")

	cfg := Load()

	assert.InDelta(t, 50.0, cfg.ProximityThresholdPx, 1e-9)
	assert.Equal(t, 90*time.Second, cfg.RetryBackoffMax)
	assert.Equal(t, 10, cfg.MaxTasks, "unparsable values fall back to the default")
	assert.True(t, cfg.LogdyEnabled)
}

func TestNatsURLPrefersEnvironment(t *testing.T) {
	t.Setenv("NATS_URL", "nats://broker:4222")
	assert.Equal(t, "nats://broker:4222", getNatsURL())
}
