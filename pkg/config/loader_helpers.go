package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// parseError marks a file that exists but is not valid YAML.
type parseError struct {
	err error
}

func (e *parseError) Error() string { return "parsing YAML: " + e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return &parseError{err: err}
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return &parseError{err: err}
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Zero values in override leave
// base alone, except for booleans and lists that raw shows were set.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if override.Driver.NodePath != "" {
		base.Driver.NodePath = override.Driver.NodePath
	}
	if override.Driver.CLIPath != "" {
		base.Driver.CLIPath = override.Driver.CLIPath
	}
	if override.Driver.DriverDir != "" {
		base.Driver.DriverDir = override.Driver.DriverDir
	}
	if override.Driver.BrowsersPath != "" {
		base.Driver.BrowsersPath = override.Driver.BrowsersPath
	}
	if override.Driver.StartGrace != 0 {
		base.Driver.StartGrace = override.Driver.StartGrace
	}
	if override.Driver.StopGrace != 0 {
		base.Driver.StopGrace = override.Driver.StopGrace
	}

	s, o := &base.Session, &override.Session
	if o.Workspace != "" {
		s.Workspace = o.Workspace
	}
	if o.Namespace != "" {
		s.Namespace = o.Namespace
	}
	if boolFieldSet(raw, "session", "no_project") {
		s.NoProject = o.NoProject
	}
	if o.Browser != "" {
		s.Browser = o.Browser
	}
	if boolFieldSet(raw, "session", "headless") {
		s.Headless = o.Headless
	}
	if boolFieldSet(raw, "session", "refresh") {
		s.Refresh = o.Refresh
	}
	if o.WaitUntil != "" {
		s.WaitUntil = o.WaitUntil
	}
	if o.NavigationTimeout != 0 {
		s.NavigationTimeout = o.NavigationTimeout
	}
	if o.AuthFile != "" {
		s.AuthFile = o.AuthFile
	}
	if o.Endpoint != "" {
		s.Endpoint = o.Endpoint
	}
	if o.DebugPort != 0 {
		s.DebugPort = o.DebugPort
	}
	if boolFieldSet(raw, "session", "keep_browser_running") {
		s.KeepBrowserRunning = o.KeepBrowserRunning
	}
	if boolFieldSet(raw, "session", "launch_server") {
		s.LaunchServer = o.LaunchServer
	}
	if boolFieldSet(raw, "session", "protected_urls") {
		s.ProtectedURLs = append([]string{}, o.ProtectedURLs...)
	}
	if o.PreferredURL != "" {
		s.PreferredURL = o.PreferredURL
	}

	c, oc := &base.Coordinator, &override.Coordinator
	if oc.Backend != "" {
		c.Backend = oc.Backend
	}
	if oc.Redis.URL != "" {
		c.Redis.URL = oc.Redis.URL
	}
	if boolFieldSet(raw, "coordinator", "redis", "prefix") {
		c.Redis.Prefix = oc.Redis.Prefix
	}
	if oc.NATS.Bus.URL != "" {
		c.NATS.Bus.URL = oc.NATS.Bus.URL
	}
	if oc.NATS.Bus.Name != "" {
		c.NATS.Bus.Name = oc.NATS.Bus.Name
	}
	if oc.NATS.Bus.Timeout != 0 {
		c.NATS.Bus.Timeout = oc.NATS.Bus.Timeout
	}
	if oc.NATS.Subject != "" {
		c.NATS.Subject = oc.NATS.Subject
	}
	if oc.NATS.Timeout != 0 {
		c.NATS.Timeout = oc.NATS.Timeout
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Telemetry.MetricsAddr != "" {
		base.Telemetry.MetricsAddr = override.Telemetry.MetricsAddr
	}
	if boolFieldSet(raw, "telemetry", "tracing") {
		base.Telemetry.Tracing = override.Telemetry.Tracing
	}
}

func boolFieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}
