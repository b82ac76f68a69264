// Package config loads daemon settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Realtime modes.
const (
	ModePush = "push"
	ModePoll = "poll"
)

type Config struct {
	// Backing service
	BackendAddr    string
	DBPath         string
	BroadcastDelay time.Duration
	TaxRate        float64

	// Sync gateway
	GatewayAddr    string
	BackendURL     string
	RealtimeMode   string
	RequestTimeout time.Duration

	// Poll channel
	PollInterval time.Duration

	// Push channel
	ThrottleWindow       time.Duration
	ReconnectBase        time.Duration
	ReconnectMaxAttempts int
	HeartbeatInterval    time.Duration
	PongWait             time.Duration

	LogLevel string

	// Values that were set but could not be parsed.
	malformed []string
}

// Load reads the configuration. Variables already set in the environment
// win over the given .env files; missing files are ignored.
func Load(envFiles ...string) *Config {
	_ = godotenv.Load(envFiles...)

	cfg := &Config{
		BackendAddr: getEnv("BACKEND_ADDR", ":8080"),
		DBPath:      getEnv("DB_PATH", "./data/receipts.db"),

		GatewayAddr:  getEnv("GATEWAY_ADDR", ":8090"),
		BackendURL:   getEnv("BACKEND_URL", "http://localhost:8080"),
		RealtimeMode: strings.ToLower(getEnv("REALTIME_MODE", ModePush)),

		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}
	cfg.BroadcastDelay = cfg.duration("BROADCAST_DELAY", 2*time.Second)
	cfg.TaxRate = cfg.float("TAX_RATE", 0.07)
	cfg.RequestTimeout = cfg.duration("REQUEST_TIMEOUT", 10*time.Second)
	cfg.PollInterval = cfg.duration("POLL_INTERVAL", 5*time.Second)
	cfg.ThrottleWindow = cfg.duration("THROTTLE_WINDOW", 100*time.Millisecond)
	cfg.ReconnectBase = cfg.duration("RECONNECT_BASE", time.Second)
	cfg.ReconnectMaxAttempts = cfg.int("RECONNECT_MAX_ATTEMPTS", 5)
	cfg.HeartbeatInterval = cfg.duration("HEARTBEAT_INTERVAL", 30*time.Second)
	cfg.PongWait = cfg.duration("PONG_WAIT", 10*time.Second)

	return cfg
}

// Validate returns every problem with the configuration in one error.
func (c *Config) Validate() error {
	errors := append([]string(nil), c.malformed...)

	for name, addr := range map[string]string{"BACKEND_ADDR": c.BackendAddr, "GATEWAY_ADDR": c.GatewayAddr} {
		if _, port, err := net.SplitHostPort(addr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid %s '%s': %v", name, addr, err))
		} else if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
			errors = append(errors, fmt.Sprintf("invalid %s '%s': port must be between 0 and 65535", name, addr))
		}
	}

	if c.DBPath == "" {
		errors = append(errors, "database path cannot be empty")
	} else if dir := filepath.Dir(c.DBPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			errors = append(errors, fmt.Sprintf("cannot create database directory '%s': %v", dir, err))
		}
	}

	if u, err := url.Parse(c.BackendURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid backend URL '%s': %v", c.BackendURL, err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid backend URL scheme '%s': must be 'http' or 'https'", u.Scheme))
	} else if u.Host == "" {
		errors = append(errors, fmt.Sprintf("invalid backend URL '%s': missing host", c.BackendURL))
	}

	if c.RealtimeMode != ModePush && c.RealtimeMode != ModePoll {
		errors = append(errors, fmt.Sprintf("invalid realtime mode '%s': must be one of [%s %s]", c.RealtimeMode, ModePush, ModePoll))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of [debug info warn error]", c.LogLevel))
	}

	if c.TaxRate < 0 || c.TaxRate >= 1 {
		errors = append(errors, fmt.Sprintf("invalid tax rate %v: must be in [0, 1)", c.TaxRate))
	}
	if c.ReconnectMaxAttempts < 0 {
		errors = append(errors, fmt.Sprintf("invalid reconnect attempts %d: must not be negative", c.ReconnectMaxAttempts))
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"request timeout", c.RequestTimeout},
		{"poll interval", c.PollInterval},
		{"reconnect base", c.ReconnectBase},
		{"heartbeat interval", c.HeartbeatInterval},
		{"pong wait", c.PongWait},
	}
	for _, p := range positive {
		if p.d <= 0 {
			errors = append(errors, fmt.Sprintf("invalid %s %v: must be positive", p.name, p.d))
		}
	}
	if c.ThrottleWindow < 0 {
		errors = append(errors, fmt.Sprintf("invalid throttle window %v: must not be negative", c.ThrottleWindow))
	}
	if c.BroadcastDelay < 0 {
		errors = append(errors, fmt.Sprintf("invalid broadcast delay %v: must not be negative", c.BroadcastDelay))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		c.malformed = append(c.malformed, fmt.Sprintf("invalid %s '%s': must be a duration such as 5s", key, value))
		return defaultValue
	}
	return d
}

func (c *Config) int(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		c.malformed = append(c.malformed, fmt.Sprintf("invalid %s '%s': must be a number", key, value))
		return defaultValue
	}
	return i
}

func (c *Config) float(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		c.malformed = append(c.malformed, fmt.Sprintf("invalid %s '%s': must be a number", key, value))
		return defaultValue
	}
	return f
}
