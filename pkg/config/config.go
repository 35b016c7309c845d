// Package config loads daemon configuration from a TOML file.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that decodes from TOML strings like
// "90s" or "5m".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for toml decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Config holds every daemon setting. All fields are optional; zero
// values fall back to Default().
type Config struct {
	// Listen is the bind host; empty means all interfaces.
	Listen string `toml:"listen"`
	// Port is the TCP port to serve on.
	Port int `toml:"port"`
	// RepoRoot is the repository directory served to all clients.
	RepoRoot string `toml:"repo_root"`
	// MaxConcurrentWalks caps simultaneous negotiation walks.
	MaxConcurrentWalks int `toml:"max_concurrent_walks"`
	// IdleTimeout closes protocol-idle connections; zero disables.
	IdleTimeout Duration `toml:"idle_timeout"`
	// LogLevel is a zap level name: debug, info, warn, error.
	LogLevel string `toml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Port:               9418,
		RepoRoot:           ".",
		MaxConcurrentWalks: 8,
		IdleTimeout:        Duration(5 * time.Minute),
		LogLevel:           "info",
	}
}

// Load reads a TOML config file over the defaults. Unknown keys are
// rejected so typos fail loudly instead of silently using a default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	meta, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("parse config %s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, nil
}

// Addr returns the host:port string to bind.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Listen, strconv.Itoa(c.Port))
}
