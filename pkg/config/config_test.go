package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
environment: test
provider:
  base_url: http://bars.local
kafka:
  brokers: [localhost:9092]
universe:
  symbols: [AAPL, MSFT]
engine:
  key: smc-v1
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 4, c.Jobs.Concurrency)
	assert.Equal(t, 30*time.Second, c.Jobs.SymbolTimeout)
	assert.Equal(t, "5m", c.Engine.Timeframe)
	assert.Equal(t, "1h", c.Engine.HTFTimeframe)
	assert.Equal(t, 70, c.Engine.Lifecycle.ActiveThreshold)
	assert.Equal(t, 2*time.Minute, c.Engine.Lifecycle.Freshness)
	assert.Equal(t, 14, c.Engine.Momentum.FastPeriod)
	assert.Equal(t, 34, c.Engine.Momentum.SlowPeriod)
	assert.Equal(t, 0.3, c.Engine.Brakes.ThrottleFactor)
	assert.Equal(t, 500.0, c.Engine.Brakes.SoftLockPnL)
	assert.Equal(t, "execution.fills", c.Kafka.FillsTopic)
	assert.Equal(t, "paper", c.Execution.Mode)
	assert.Equal(t, []string{"AAPL", "MSFT"}, c.Universe.Symbols)
	assert.Equal(t, "America/New_York", c.Location().String())
}

func TestApplyEnv(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)

	env := map[string]string{
		"JOBS_BEARER_TOKEN": "s3cret",
		"KAFKA_BROKERS":     "k1:9092, k2:9092",
		"REDIS_ADDR":        "cache:6380",
		"UNIVERSE_SYMBOLS":  "nvda,,tsla",
		"CLICKHOUSE_PORT":   "9440",
	}
	c.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "s3cret", c.Jobs.BearerToken)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "cache", c.Redis.Host)
	assert.Equal(t, 6380, c.Redis.Port)
	assert.Equal(t, []string{"nvda", "tsla"}, c.Universe.Symbols)
	assert.Equal(t, 9440, c.ClickHouse.Port)
	require.NoError(t, c.Validate())
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		extra func(c *Config)
	}{
		{"unknown timeframe", func(c *Config) { c.Engine.Timeframe = "7m" }},
		{"bad timezone", func(c *Config) { c.Engine.Timezone = "Mars/Olympus" }},
		{"bad session start", func(c *Config) { c.Engine.SessionStart = "9am" }},
		{"hard lock below soft lock", func(c *Config) { c.Engine.Brakes.HardLockPnL = 100 }},
		{"positive loss limit", func(c *Config) { c.Engine.Brakes.MaxDailyLoss = 10 }},
		{"kafka without brokers", func(c *Config) { c.Kafka.Brokers = nil }},
		{"http execution without url", func(c *Config) { c.Execution.Mode = "http" }},
		{"missing provider", func(c *Config) { c.Provider.BaseURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse([]byte(minimal))
			require.NoError(t, err)
			tt.extra(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
