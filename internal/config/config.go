// Package config loads ~/.relay/config.toml and applies RELAY_* environment
// overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Duration is a time.Duration written as a string ("30s") in TOML and env.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// Config is the whole file.
type Config struct {
	DefaultProfile string `toml:"default_profile" env:"RELAY_PROFILE"`
	Server         Server `toml:"server" envPrefix:"RELAY_SERVER_"`
	Client         Client `toml:"client" envPrefix:"RELAY_CLIENT_"`
}

// Server holds relayd settings.
type Server struct {
	Listen            string   `toml:"listen" env:"LISTEN"`
	HistoryBackend    string   `toml:"history_backend" env:"HISTORY_BACKEND"`
	HistoryCapacity   int      `toml:"history_capacity" env:"HISTORY_CAPACITY"`
	HistorySeed       int      `toml:"history_seed" env:"HISTORY_SEED"`
	DedupWindow       Duration `toml:"dedup_window" env:"DEDUP_WINDOW"`
	GraceWindow       Duration `toml:"grace_window" env:"GRACE_WINDOW"`
	IdleAfter         Duration `toml:"idle_after" env:"IDLE_AFTER"`
	SweepEvery        Duration `toml:"sweep_every" env:"SWEEP_EVERY"`
	StaleAfter        Duration `toml:"stale_after" env:"STALE_AFTER"`
	ClearMaxOccupancy int      `toml:"clear_max_occupancy" env:"CLEAR_MAX_OCCUPANCY"`
	QueryPageSize     int      `toml:"query_page_size" env:"QUERY_PAGE_SIZE"`
	MaxFrameBytes     int64    `toml:"max_frame_bytes" env:"MAX_FRAME_BYTES"`
}

// Client holds relaychat settings.
type Client struct {
	URL                  string   `toml:"url" env:"URL"`
	Username             string   `toml:"username" env:"USERNAME"`
	PersistQueue         bool     `toml:"persist_queue" env:"PERSIST_QUEUE"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts" env:"MAX_RECONNECT_ATTEMPTS"`
	HeartbeatEvery       Duration `toml:"heartbeat_every" env:"HEARTBEAT_EVERY"`
	DeliveryTimeout      Duration `toml:"delivery_timeout" env:"DELIVERY_TIMEOUT"`
	RetryInterval        Duration `toml:"retry_interval" env:"RETRY_INTERVAL"`
	MaxAttempts          int      `toml:"max_attempts" env:"MAX_ATTEMPTS"`
	ReplayStagger        Duration `toml:"replay_stagger" env:"REPLAY_STAGGER"`
	TimelineCap          int      `toml:"timeline_cap" env:"TIMELINE_CAP"`
	AwayAfter            Duration `toml:"away_after" env:"AWAY_AFTER"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Server: Server{
			Listen:            "127.0.0.1:8080",
			HistoryBackend:    "sqlite",
			HistoryCapacity:   1000,
			HistorySeed:       100,
			DedupWindow:       Duration(5 * time.Second),
			GraceWindow:       Duration(30 * time.Second),
			IdleAfter:         Duration(30 * time.Second),
			SweepEvery:        Duration(30 * time.Second),
			StaleAfter:        Duration(45 * time.Second),
			ClearMaxOccupancy: 2,
			QueryPageSize:     50,
			MaxFrameBytes:     8 << 10,
		},
		Client: Client{
			URL:                  "ws://127.0.0.1:8080/ws",
			PersistQueue:         true,
			MaxReconnectAttempts: 5,
			HeartbeatEvery:       Duration(20 * time.Second),
			DeliveryTimeout:      Duration(10 * time.Second),
			RetryInterval:        Duration(5 * time.Second),
			MaxAttempts:          3,
			ReplayStagger:        Duration(500 * time.Millisecond),
			TimelineCap:          200,
			AwayAfter:            Duration(30 * time.Second),
		},
	}
}

// Load reads config from the given path. Returns nil and an error if the
// file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve builds the effective config: defaults, then the file at path if it
// exists, then environment overrides. The result is validated.
func Resolve(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := Load(path)
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseEnv applies environment overrides to target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate rejects settings the relay or client cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	s := c.Server
	switch s.HistoryBackend {
	case "sqlite", "pebble", "none":
	default:
		errs = append(errs, fmt.Errorf("server.history_backend: unknown backend %q", s.HistoryBackend))
	}
	check(s.Listen != "", "server.listen: must not be empty")
	check(s.HistoryCapacity > 0, "server.history_capacity: must be positive")
	check(s.HistorySeed >= 0 && s.HistorySeed <= s.HistoryCapacity, "server.history_seed: must be between 0 and history_capacity")
	check(s.GraceWindow > 0, "server.grace_window: must be positive")
	check(s.IdleAfter > 0, "server.idle_after: must be positive")
	check(s.SweepEvery > 0, "server.sweep_every: must be positive")
	check(s.StaleAfter > 0, "server.stale_after: must be positive")
	check(s.ClearMaxOccupancy >= 0, "server.clear_max_occupancy: must not be negative")
	check(s.QueryPageSize > 0, "server.query_page_size: must be positive")

	cl := c.Client
	check(strings.HasPrefix(cl.URL, "ws://") || strings.HasPrefix(cl.URL, "wss://"), "client.url: %q is not a websocket URL", cl.URL)
	check(cl.MaxReconnectAttempts > 0, "client.max_reconnect_attempts: must be positive")
	check(cl.MaxAttempts > 0, "client.max_attempts: must be positive")
	check(cl.DeliveryTimeout > 0, "client.delivery_timeout: must be positive")
	check(cl.RetryInterval > 0, "client.retry_interval: must be positive")
	check(cl.HeartbeatEvery > 0, "client.heartbeat_every: must be positive")
	return errors.Join(errs...)
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
