package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds relay and client settings read from the environment.
type Config struct {
	AppEnv   string // APP_ENV
	AppHost  string // APP_HOST
	HTTPPort string // APP_PORT or HTTP_PORT
	LogLevel string // LOG_LEVEL

	// WebSocket
	WSMaxMessageSize int64

	// Sweeps
	RoomSweepInterval    time.Duration
	RoomIdleTimeout      time.Duration
	SessionSweepInterval time.Duration
	SessionIdleTimeout   time.Duration

	// 0 means unlimited.
	RoomMaxViewers int

	// Client side
	ICEServers []string
	SignalURL  string
}

// Load reads configuration from the environment, loading .env if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	maxMsg, err := strconv.ParseInt(getEnv("WS_MAX_MESSAGE_SIZE", "524288"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("config: WS_MAX_MESSAGE_SIZE: %w", err)
	}
	maxViewers, err := strconv.Atoi(getEnv("ROOM_MAX_VIEWERS", "0"))
	if err != nil {
		return nil, fmt.Errorf("config: ROOM_MAX_VIEWERS: %w", err)
	}

	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		AppHost:          getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:         firstEnv("APP_PORT", "HTTP_PORT", "3002"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		WSMaxMessageSize: maxMsg,
		RoomMaxViewers:   maxViewers,
		ICEServers:       splitList(getEnv("ICE_SERVERS", "stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302")),
		SignalURL:        getEnv("SIGNAL_URL", "ws://127.0.0.1:3002/ws"),
	}

	durations := []struct {
		key, def string
		dst      *time.Duration
	}{
		{"ROOM_SWEEP_INTERVAL", "10m", &cfg.RoomSweepInterval},
		{"ROOM_IDLE_TIMEOUT", "1h", &cfg.RoomIdleTimeout},
		{"SESSION_SWEEP_INTERVAL", "5m", &cfg.SessionSweepInterval},
		{"SESSION_IDLE_TIMEOUT", "30m", &cfg.SessionIdleTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnv(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return cfg, nil
}

// Validate checks values Load cannot reject on its own.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.HTTPPort); err != nil {
		return fmt.Errorf("config: port %q is not numeric", c.HTTPPort)
	}
	if c.RoomSweepInterval <= 0 || c.SessionSweepInterval <= 0 {
		return errors.New("config: sweep intervals must be positive")
	}
	if c.RoomIdleTimeout <= 0 || c.SessionIdleTimeout <= 0 {
		return errors.New("config: idle timeouts must be positive")
	}
	if c.WSMaxMessageSize <= 0 {
		return errors.New("config: WS_MAX_MESSAGE_SIZE must be positive")
	}
	if c.RoomMaxViewers < 0 {
		return errors.New("config: ROOM_MAX_VIEWERS must not be negative")
	}
	return nil
}

// Addr returns listen address for HTTP server.
func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	keys := keysAndDef[:len(keysAndDef)-1]
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
