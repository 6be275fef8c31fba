package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	viper.Reset()
	setDefaults()

	var cfg Config
	require.NoError(t, viper.Unmarshal(&cfg))
	return &cfg
}

func TestDefaults_TierPolicy(t *testing.T) {
	cfg := loadDefaults(t)

	assert.Equal(t, 1, cfg.Queue.High.MaxBatch)
	assert.Equal(t, 0, cfg.Queue.High.BatchingDelaySeconds)
	assert.Equal(t, 5, cfg.Queue.Normal.MaxBatch)
	assert.Equal(t, 5, cfg.Queue.Normal.BatchingDelaySeconds)
	assert.Equal(t, 10, cfg.Queue.Low.MaxBatch)
	assert.Equal(t, 10, cfg.Queue.Low.BatchingDelaySeconds)

	// All tiers share the 15 minute visibility window and retry ceiling
	for _, tier := range []TierConfig{cfg.Queue.High, cfg.Queue.Normal, cfg.Queue.Low} {
		assert.Equal(t, 900, tier.VisibilityWindowSeconds)
		assert.Equal(t, 3, tier.MaxReceiveCount)
	}
}

func TestDefaults_BatchTimeout(t *testing.T) {
	cfg := loadDefaults(t)
	assert.Equal(t, 2*time.Hour, cfg.Batch.BatchTimeout())
}

func TestValidate(t *testing.T) {
	cfg := loadDefaults(t)
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.Queue.Normal.MaxReceiveCount = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Worker.GlobalConcurrency = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Batch.TimeoutMinutes = -1
	assert.Error(t, bad.Validate())
}

func TestQueueConfig_Tier(t *testing.T) {
	cfg := loadDefaults(t)

	assert.Equal(t, cfg.Queue.High, cfg.Queue.Tier("high"))
	assert.Equal(t, cfg.Queue.Low, cfg.Queue.Tier("low"))
	assert.Equal(t, cfg.Queue.Normal, cfg.Queue.Tier("normal"))
	// Unknown tiers fall back to normal
	assert.Equal(t, cfg.Queue.Normal, cfg.Queue.Tier("bogus"))
}
