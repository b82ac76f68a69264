package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"BACKEND_ADDR", "DB_PATH", "BROADCAST_DELAY", "TAX_RATE",
	"GATEWAY_ADDR", "BACKEND_URL", "REALTIME_MODE", "REQUEST_TIMEOUT",
	"POLL_INTERVAL", "THROTTLE_WINDOW", "RECONNECT_BASE", "RECONNECT_MAX_ATTEMPTS",
	"HEARTBEAT_INTERVAL", "PONG_WAIT", "LOG_LEVEL",
}

// clearEnv blanks every key for the duration of the test.
func clearEnv(t *testing.T) {
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func validConfig(t *testing.T) Config {
	return Config{
		BackendAddr:          ":8080",
		DBPath:               filepath.Join(t.TempDir(), "receipts.db"),
		BroadcastDelay:       2 * time.Second,
		TaxRate:              0.07,
		GatewayAddr:          "localhost:8090",
		BackendURL:           "http://localhost:8080",
		RealtimeMode:         ModePush,
		RequestTimeout:       10 * time.Second,
		PollInterval:         5 * time.Second,
		ThrottleWindow:       100 * time.Millisecond,
		ReconnectBase:        time.Second,
		ReconnectMaxAttempts: 5,
		HeartbeatInterval:    30 * time.Second,
		PongWait:             10 * time.Second,
		LogLevel:             "info",
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))

	assert.Equal(t, ":8080", cfg.BackendAddr)
	assert.Equal(t, ":8090", cfg.GatewayAddr)
	assert.Equal(t, "http://localhost:8080", cfg.BackendURL)
	assert.Equal(t, ModePush, cfg.RealtimeMode)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.ThrottleWindow)
	assert.Equal(t, time.Second, cfg.ReconnectBase)
	assert.Equal(t, 5, cfg.ReconnectMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, cfg.PongWait)
	assert.Equal(t, 2*time.Second, cfg.BroadcastDelay)
	assert.InDelta(t, 0.07, cfg.TaxRate, 1e-9)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.malformed)
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("REALTIME_MODE", "POLL")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("RECONNECT_MAX_ATTEMPTS", "8")
	t.Setenv("TAX_RATE", "0.2")

	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, ModePoll, cfg.RealtimeMode)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 8, cfg.ReconnectMaxAttempts)
	assert.InDelta(t, 0.2, cfg.TaxRate, 1e-9)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	t.Setenv("BACKEND_URL", "http://from-env:1")
	t.Cleanup(func() {
		os.Unsetenv("GATEWAY_ADDR")
	})
	os.Unsetenv("GATEWAY_ADDR")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BACKEND_URL=http://from-file:2\nGATEWAY_ADDR=:9999\n"), 0o600))

	cfg := Load(path)
	assert.Equal(t, "http://from-env:1", cfg.BackendURL)
	assert.Equal(t, ":9999", cfg.GatewayAddr)
}

func TestLoad_MalformedValuesFailValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "receipts.db"))
	t.Setenv("POLL_INTERVAL", "often")
	t.Setenv("RECONNECT_MAX_ATTEMPTS", "lots")

	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, 5*time.Second, cfg.PollInterval, "falls back to the default")

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid POLL_INTERVAL 'often'")
	assert.Contains(t, err.Error(), "invalid RECONNECT_MAX_ATTEMPTS 'lots'")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		errorString string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "poll mode", mutate: func(c *Config) { c.RealtimeMode = ModePoll }},
		{
			name:        "unknown realtime mode",
			mutate:      func(c *Config) { c.RealtimeMode = "sse" },
			errorString: "invalid realtime mode 'sse': must be one of [push poll]",
		},
		{
			name:        "bad gateway address",
			mutate:      func(c *Config) { c.GatewayAddr = "8090" },
			errorString: "invalid GATEWAY_ADDR '8090'",
		},
		{
			name:        "backend URL scheme",
			mutate:      func(c *Config) { c.BackendURL = "ftp://localhost" },
			errorString: "invalid backend URL scheme 'ftp'",
		},
		{
			name:        "backend URL without host",
			mutate:      func(c *Config) { c.BackendURL = "http://" },
			errorString: "missing host",
		},
		{
			name:        "empty database path",
			mutate:      func(c *Config) { c.DBPath = "" },
			errorString: "database path cannot be empty",
		},
		{
			name:        "log level",
			mutate:      func(c *Config) { c.LogLevel = "trace" },
			errorString: "invalid log level 'trace'",
		},
		{
			name:        "tax rate",
			mutate:      func(c *Config) { c.TaxRate = 1.5 },
			errorString: "invalid tax rate 1.5",
		},
		{
			name:        "zero poll interval",
			mutate:      func(c *Config) { c.PollInterval = 0 },
			errorString: "invalid poll interval 0s: must be positive",
		},
		{
			name:        "negative throttle",
			mutate:      func(c *Config) { c.ThrottleWindow = -time.Second },
			errorString: "invalid throttle window -1s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errorString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorString)
		})
	}
}

func TestConfig_ValidateCollectsAllProblems(t *testing.T) {
	cfg := validConfig(t)
	cfg.RealtimeMode = "sse"
	cfg.LogLevel = "loud"
	cfg.PongWait = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "realtime mode")
	assert.Contains(t, err.Error(), "log level")
	assert.Contains(t, err.Error(), "pong wait")
}
