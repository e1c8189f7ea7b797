package config

import (
	"os"
	"strconv"
)

// Environment overrides applied on top of the YAML file.
const (
	EnvLogLevel   = "MDP_LOG_LEVEL"
	EnvUpdateRate = "MDP_UPDATE_RATE"
	EnvWebPort    = "MDP_WEB_PORT"
	EnvDriverURL  = "MDP_DRIVER_URL"
	EnvRedisAddr  = "MDP_REDIS_ADDR"
	EnvServerURL  = "MDP_SERVER_URL"
)

// DefaultServerURL is where client commands look for a running server.
const DefaultServerURL = "http://localhost:8080"

// ApplyEnv overrides configuration values from environment variables.
// Malformed numbers are ignored.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvUpdateRate); v != "" {
		if hz, err := strconv.ParseFloat(v, 64); err == nil && hz > 0 {
			c.Server.UpdateRateHz = hz
		}
	}
	if v := os.Getenv(EnvWebPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Web.Port = port
		}
	}
	if v := os.Getenv(EnvDriverURL); v != "" {
		c.Drivers.HTTP.BaseURL = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Redis.Address = v
	}
}

// ServerURL returns the server URL from MDP_SERVER_URL.
// Falls back to the provided default if not set.
func ServerURL(defaultURL string) string {
	if u := os.Getenv(EnvServerURL); u != "" {
		return u
	}
	return defaultURL
}
