package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "config/reply_rules.yaml", cfg.Rules.Path)
	assert.Equal(t, "wechat", cfg.Source.Platform)
	assert.Equal(t, 5, cfg.Detector.Threshold)
	assert.Equal(t, 3*time.Second, cfg.Dispatch.PollInterval)
	assert.Equal(t, 5, cfg.Dispatch.MaxConsecutiveErrors)
	assert.Equal(t, 3, cfg.Worker.Workers)
	assert.Equal(t, 3, cfg.Worker.MaxRetries)
	assert.Equal(t, time.Minute, cfg.Worker.RetryBase)
	assert.Equal(t, 5*time.Minute, cfg.Worker.RetryCeiling)
	assert.Equal(t, 512, cfg.Dedup.Capacity)
	assert.Equal(t, 9877, cfg.API.Port)
	assert.NotEmpty(t, cfg.DBPath)

	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("WORKERS", "8")
	t.Setenv("SOURCE_PLATFORM", "feishu")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.Dispatch.PollInterval)
	assert.Equal(t, 8, cfg.Worker.Workers)
	assert.Equal(t, "feishu", cfg.Source.Platform)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadFromEnv()
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Rules.Path = ""
	assert.ErrorContains(t, cfg.Validate(), "RULES_PATH")

	cfg = base()
	cfg.Worker.Workers = 0
	assert.ErrorContains(t, cfg.Validate(), "WORKERS")

	cfg = base()
	cfg.Worker.MaxRetries = 0
	assert.ErrorContains(t, cfg.Validate(), "TASK_MAX_RETRIES")

	cfg = base()
	cfg.Detector.Threshold = -1
	assert.ErrorContains(t, cfg.Validate(), "DETECT_THRESHOLD")

	cfg = base()
	cfg.Dispatch.MaxConsecutiveErrors = 0
	assert.ErrorContains(t, cfg.Validate(), "MAX_CONSECUTIVE_ERRORS")
}
