package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	UserID         string `toml:"user_id"`
	Premium        bool   `toml:"premium"`
	PINRequired    bool   `toml:"pin_required"`

	Backend  Backend  `toml:"backend"`
	Relay    Relay    `toml:"relay"`
	Poll     Poll     `toml:"poll"`
	Throttle Throttle `toml:"throttle"`
	Overlay  Overlay  `toml:"overlay"`
	Primer   Primer   `toml:"primer"`
}

// Backend locates the authoritative server.
type Backend struct {
	URL     string   `toml:"url"`
	Timeout Duration `toml:"timeout"`
}

// Relay locates the peer relay hub. An empty URL disables peer hints.
type Relay struct {
	URL    string `toml:"url"`
	Listen string `toml:"listen"` // chatsync-relay listen address
}

// Poll holds poll intervals. A zero idle interval stops the job while the
// app is in the background.
type Poll struct {
	ChatInterval        Duration `toml:"chat_interval"`
	ChatIdleInterval    Duration `toml:"chat_idle_interval"`
	UpdatesInterval     Duration `toml:"updates_interval"`
	UpdatesIdleInterval Duration `toml:"updates_idle_interval"`
}

// Throttle bounds local sends per sliding window.
type Throttle struct {
	Window      Duration `toml:"window"`
	StandardCap int      `toml:"standard_cap"`
	PremiumCap  int      `toml:"premium_cap"`
}

// Overlay configures optimistic local state.
type Overlay struct {
	TTL Duration `toml:"ttl"`
}

// Primer configures the background cache primer.
type Primer struct {
	BatchSize int      `toml:"batch_size"`
	IdleSlice Duration `toml:"idle_slice"`
}

func dur(d time.Duration) Duration { return Duration{d} }

// Default returns the configuration used when no file exists. Loaded files
// are laid over it, so a file only needs the keys it changes.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		UserID:         "me",
		Backend:        Backend{URL: "http://127.0.0.1:8080", Timeout: dur(30 * time.Second)},
		Relay:          Relay{Listen: "127.0.0.1:8090"},
		Poll: Poll{
			ChatInterval:        dur(5 * time.Second),
			ChatIdleInterval:    dur(60 * time.Second),
			UpdatesInterval:     dur(4 * time.Second),
			UpdatesIdleInterval: dur(60 * time.Second),
		},
		Throttle: Throttle{Window: dur(60 * time.Second), StandardCap: 10, PremiumCap: 30},
		Overlay:  Overlay{TTL: dur(30 * time.Second)},
		Primer:   Primer{BatchSize: 5, IdleSlice: dur(30 * time.Second)},
	}
}

// Load reads config from the given path on top of Default. Returns nil and
// the error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load that falls back to Default when the file does not
// exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
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
