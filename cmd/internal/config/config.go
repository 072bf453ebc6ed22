// Package config handles TOML configuration loading and validation for
// the local-proxy daemon.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
)

// configSearchPaths lists paths checked in order when no explicit
// config is given. A missing config file is not an error; the daemon
// runs from defaults and CLI flags alone.
var configSearchPaths = []string{
	"/etc/local-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Listen      string `kong:"short='l',help='Local proxy listen address (overrides config).',env='LISTEN_ADDR'"`
	Upstream    string `kong:"help='Upstream CONNECT proxy URL (overrides config).',env='UPSTREAM_PROXY'"`
	Username    string `kong:"help='Upstream proxy username (overrides config).',env='PROXY_USERNAME'"`
	Password    string `kong:"help='Upstream proxy password (overrides config).',env='PROXY_PASSWORD'"`
	Interactive bool   `kong:"short='i',help='Prompt on the terminal when the upstream proxy rejects the configured credentials.'"`
	AdminAddr   string `kong:"help='Admin/metrics listen address (overrides config).',env='ADMIN_ADDR'"`
	LogLevel    string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level daemon configuration.
type Config struct {
	Listen   ListenConfig   `toml:"listen"`
	Upstream UpstreamConfig `toml:"upstream"`
	Admin    AdminConfig    `toml:"admin"`
	Log      LogConfig      `toml:"log"`

	// Interactive mirrors the CLI flag; it has no TOML form because a
	// terminal prompt only makes sense for a foreground run.
	Interactive bool `toml:"-"`

	filePath string
}

// ListenConfig holds the local CONNECT listener settings.
type ListenConfig struct {
	Addr string `toml:"addr"`

	// Credentials maps usernames to passwords required of local
	// clients. Empty means the listener is open.
	Credentials map[string]string `toml:"credentials"`

	Realm     string          `toml:"realm"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-client-IP tunnel rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// UpstreamConfig names the next-hop CONNECT proxy. With an empty URL
// the daemon dials destinations directly.
type UpstreamConfig struct {
	URL      string `toml:"url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// AdminConfig holds the admin/metrics HTTP server settings. An empty
// Addr disables the admin server.
type AdminConfig struct {
	Addr string `toml:"addr"`
}

// LogConfig holds logging settings. Env selects the zap preset.
type LogConfig struct {
	Level string `toml:"level"`
	Env   string `toml:"env"`
}

// Load reads the TOML config file, if one exists, and applies CLI
// overrides. When no explicit path is given (via --config or
// CONFIG_PATH), it searches /etc/local-proxy/config.toml then
// configs/config.toml; finding none is fine.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Listen != "" {
		c.Listen.Addr = cli.Listen
	}
	if cli.Upstream != "" {
		c.Upstream.URL = cli.Upstream
	}
	if cli.Username != "" {
		c.Upstream.Username = cli.Username
	}
	if cli.Password != "" {
		c.Upstream.Password = cli.Password
	}
	if cli.AdminAddr != "" {
		c.Admin.Addr = cli.AdminAddr
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	c.Interactive = cli.Interactive
}

func (c *Config) validate() error {
	if c.Upstream.URL != "" {
		u, err := url.Parse(c.Upstream.URL)
		if err != nil {
			return fmt.Errorf("upstream.url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("upstream.url scheme must be http or https; got %q", u.Scheme)
		}
	}

	if c.Listen.RateLimit.Enabled && c.Listen.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("listen.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v",
			c.Listen.RateLimit.RequestsPerSecond)
	}
	if c.Listen.RateLimit.Burst < 0 {
		return fmt.Errorf("listen.rate_limit.burst must be non-negative; got %d", c.Listen.RateLimit.Burst)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Env) {
	case "dev", "prod", "":
	default:
		return fmt.Errorf("log.env must be one of: dev, prod; got %q", c.Log.Env)
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
func (c *Config) setDefaults() {
	if c.Listen.Addr == "" {
		c.Listen.Addr = "localhost:8080"
	}
	if c.Listen.Realm == "" {
		c.Listen.Realm = "local-proxy"
	}
	if c.Listen.RateLimit.Burst == 0 {
		c.Listen.RateLimit.Burst = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Env == "" {
		c.Log.Env = "prod"
	}
}

// findConfig returns the first config path that exists, or empty
// string.
func findConfig() string {
	for _, p := range configSearchPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// WarnPermissions logs a warning if a config file carrying secrets is
// readable by group or others.
func (c *Config) WarnPermissions(logger *zap.Logger) {
	if c.filePath == "" {
		return
	}
	if c.Upstream.Password == "" && len(c.Listen.Credentials) == 0 {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file holds credentials but is readable by group/others; consider chmod 600",
			zap.String("path", c.filePath),
			zap.String("mode", fmt.Sprintf("%04o", perm)),
		)
	}
}
