// Package config loads playwire settings from YAML files, .env files and
// PLAYWIRE_* environment variables.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/odvcencio/playwire/pkg/bus"
	"github.com/odvcencio/playwire/pkg/driver"
	perrors "github.com/odvcencio/playwire/pkg/errors"
	"github.com/odvcencio/playwire/pkg/lease"
)

// Coordinator backends.
const (
	BackendNone  = "none"
	BackendRedis = "redis"
	BackendNATS  = "nats"
)

// Config is the full playwire configuration.
type Config struct {
	Driver      driver.Config     `yaml:"driver"`
	Session     SessionConfig     `yaml:"session"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Logging     LoggingConfig     `yaml:"logging"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// SessionConfig holds the defaults for acquisition requests.
type SessionConfig struct {
	Workspace          string        `yaml:"workspace"`
	Namespace          string        `yaml:"namespace"`
	NoProject          bool          `yaml:"no_project"`
	Browser            string        `yaml:"browser"`
	Headless           bool          `yaml:"headless"`
	Refresh            bool          `yaml:"refresh"`
	WaitUntil          string        `yaml:"wait_until"`
	NavigationTimeout  time.Duration `yaml:"navigation_timeout"`
	AuthFile           string        `yaml:"auth_file"`
	Endpoint           string        `yaml:"endpoint"`
	DebugPort          int           `yaml:"debug_port"`
	KeepBrowserRunning bool          `yaml:"keep_browser_running"`
	LaunchServer       bool          `yaml:"launch_server"`
	ProtectedURLs      []string      `yaml:"protected_urls"`
	PreferredURL       string        `yaml:"preferred_url"`
}

// CoordinatorConfig selects where leased browsers come from.
type CoordinatorConfig struct {
	Backend string            `yaml:"backend"`
	Redis   lease.RedisConfig `yaml:"redis"`
	NATS    lease.NATSConfig  `yaml:"nats"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig controls the metrics listener and span export.
type TelemetryConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	Tracing     bool   `yaml:"tracing"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			Browser:           "chromium",
			Headless:          true,
			WaitUntil:         "load",
			NavigationTimeout: 30 * time.Second,
		},
		Coordinator: CoordinatorConfig{
			Backend: BackendNone,
			Redis:   lease.RedisConfig{URL: "redis://127.0.0.1:6379/0", Prefix: "playwire:"},
			NATS: lease.NATSConfig{
				Bus:     bus.DefaultConfig(),
				Subject: lease.DefaultSubjectPrefix,
				Timeout: 2 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "json",
		},
	}
}

// Load builds the configuration from ~/.playwire/config.yaml, then
// ./.playwire/config.yaml, then environment overrides. Variables from
// ~/.playwire/config.env and ./.env apply where the process environment
// leaves them unset.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".playwire", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, loadError(err, userConfigPath)
		}
	}

	projectConfigPath := filepath.Join(".", ".playwire", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, loadError(err, projectConfigPath)
	}

	return finish(cfg, home)
}

// LoadFromPath loads configuration from a specific file on top of the
// defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := loadAndMerge(cfg, path); err != nil {
		return nil, loadError(err, path)
	}
	home, _ := os.UserHomeDir()
	return finish(cfg, home)
}

func finish(cfg *Config, home string) (*Config, error) {
	applyEnvOverrides(cfg, loadEnvFiles(home))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadError(err error, path string) error {
	code := perrors.ErrCodeConfigLoad
	if _, ok := err.(*parseError); ok {
		code = perrors.ErrCodeConfigParse
	}
	return perrors.Wrap(err, code, "load config").WithContext("path", path)
}

// loadEnvFiles reads dotenv files without touching the process environment.
// Later files win.
func loadEnvFiles(home string) map[string]string {
	var paths []string
	if home != "" {
		paths = append(paths, filepath.Join(home, ".playwire", "config.env"))
	}
	paths = append(paths, ".env")

	vars := map[string]string{}
	for _, path := range paths {
		values, err := godotenv.Read(path)
		if err != nil {
			continue
		}
		for k, v := range values {
			vars[k] = v
		}
	}
	return vars
}

// envLookup prefers the process environment over dotenv values.
type envLookup map[string]string

func (e envLookup) get(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(e[key])
}

func (e envLookup) bool(key string) (bool, bool) {
	switch strings.ToLower(e.get(key)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func (e envLookup) duration(key string) (time.Duration, bool) {
	v := e.get(key)
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, true
	}
	return 0, false
}

// ApplyEnvOverridesForTest exposes env override logic for tests without file I/O.
func ApplyEnvOverridesForTest(cfg *Config) {
	applyEnvOverrides(cfg, nil)
}

func applyEnvOverrides(cfg *Config, dotenv map[string]string) {
	env := envLookup(dotenv)

	if v := env.get("PLAYWIRE_NODE_PATH"); v != "" {
		cfg.Driver.NodePath = v
	}
	if v := env.get("PLAYWIRE_DRIVER_CLI"); v != "" {
		cfg.Driver.CLIPath = v
	}
	if v := env.get("PLAYWIRE_DRIVER_DIR"); v != "" {
		cfg.Driver.DriverDir = v
	}
	if v := env.get("PLAYWRIGHT_BROWSERS_PATH"); v != "" {
		cfg.Driver.BrowsersPath = v
	}

	if v := env.get("PLAYWIRE_WORKSPACE"); v != "" {
		cfg.Session.Workspace = v
	}
	if v := env.get("PLAYWIRE_NAMESPACE"); v != "" {
		cfg.Session.Namespace = v
	}
	if val, ok := env.bool("PLAYWIRE_NO_PROJECT"); ok {
		cfg.Session.NoProject = val
	}
	if v := env.get("PLAYWIRE_BROWSER"); v != "" {
		cfg.Session.Browser = v
	}
	if val, ok := env.bool("PLAYWIRE_HEADLESS"); ok {
		cfg.Session.Headless = val
	}
	if val, ok := env.bool("PLAYWIRE_REFRESH"); ok {
		cfg.Session.Refresh = val
	}
	if v := env.get("PLAYWIRE_WAIT_UNTIL"); v != "" {
		cfg.Session.WaitUntil = v
	}
	if d, ok := env.duration("PLAYWIRE_NAV_TIMEOUT"); ok {
		cfg.Session.NavigationTimeout = d
	}
	if v := env.get("PLAYWIRE_AUTH_FILE"); v != "" {
		cfg.Session.AuthFile = v
	}
	if v := env.get("PLAYWIRE_ENDPOINT"); v != "" {
		cfg.Session.Endpoint = v
	}
	if v := env.get("PLAYWIRE_DEBUG_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.DebugPort = n
		}
	}
	if val, ok := env.bool("PLAYWIRE_KEEP_BROWSER"); ok {
		cfg.Session.KeepBrowserRunning = val
	}
	if v := env.get("PLAYWIRE_PROTECTED_URLS"); v != "" {
		cfg.Session.ProtectedURLs = splitCommaList(v)
	}
	if v := env.get("PLAYWIRE_PREFERRED_URL"); v != "" {
		cfg.Session.PreferredURL = v
	}

	if v := env.get("PLAYWIRE_COORDINATOR"); v != "" {
		cfg.Coordinator.Backend = strings.ToLower(v)
	}
	if v := env.get("PLAYWIRE_REDIS_URL"); v != "" {
		cfg.Coordinator.Redis.URL = v
	}
	if v := env.get("PLAYWIRE_NATS_URL"); v != "" {
		cfg.Coordinator.NATS.Bus.URL = v
	}

	if v := env.get("PLAYWIRE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := env.get("PLAYWIRE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := env.get("PLAYWIRE_METRICS_ADDR"); v != "" {
		cfg.Telemetry.MetricsAddr = v
	}
	if val, ok := env.bool("PLAYWIRE_TRACING"); ok {
		cfg.Telemetry.Tracing = val
	}
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Session.Browser)) {
	case "", "chromium", "chrome", "firefox", "webkit":
	default:
		return invalid("session.browser", "invalid browser: %s (valid: chromium, firefox, webkit)", c.Session.Browser)
	}

	switch c.Session.WaitUntil {
	case "", "load", "domcontentloaded", "networkidle", "commit":
	default:
		return invalid("session.wait_until", "invalid wait_until: %s (valid: load, domcontentloaded, networkidle, commit)", c.Session.WaitUntil)
	}

	if c.Session.DebugPort < 0 || c.Session.DebugPort > 65535 {
		return invalid("session.debug_port", "debug port %d out of range", c.Session.DebugPort)
	}
	if c.Session.NavigationTimeout < 0 {
		return invalid("session.navigation_timeout", "navigation timeout must not be negative")
	}

	switch c.Coordinator.Backend {
	case "", BackendNone:
	case BackendRedis:
		if strings.TrimSpace(c.Coordinator.Redis.URL) == "" {
			return invalid("coordinator.redis.url", "redis coordinator requires a url")
		}
	case BackendNATS:
		if strings.TrimSpace(c.Coordinator.NATS.Bus.URL) == "" {
			return invalid("coordinator.nats.url", "nats coordinator requires a url")
		}
	default:
		return invalid("coordinator.backend", "invalid coordinator backend: %s (valid: none, redis, nats)", c.Coordinator.Backend)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return invalid("logging.level", "invalid log level: %s", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		return invalid("logging.format", "invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	if addr := strings.TrimSpace(c.Telemetry.MetricsAddr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return invalid("telemetry.metrics_addr", "invalid metrics address %q: %v", addr, err)
		}
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return perrors.New(perrors.ErrCodeConfigInvalid, fmt.Sprintf(format, args...)).WithContext("field", field)
}

// WorkspacePath returns the configured workspace with ~ expanded.
func (c *Config) WorkspacePath() string {
	return expandHomeDir(c.Session.Workspace)
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
