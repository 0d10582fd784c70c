// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Config represents the application configuration.
type Config struct {
	Version string

	Host     string `toml:"host" mapstructure:"host"`
	Port     int    `toml:"port" mapstructure:"port"`
	BaseURL  string `toml:"baseUrl" mapstructure:"baseUrl"`
	APIToken string `toml:"apiToken" mapstructure:"apiToken"`

	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`

	DataDir      string `toml:"dataDir" mapstructure:"dataDir"`
	DatabasePath string `toml:"databasePath" mapstructure:"databasePath"`

	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost    string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort    int    `toml:"metricsPort" mapstructure:"metricsPort"`

	Scan     ScanConfig     `toml:"scan" mapstructure:"scan"`
	Relay    RelayConfig    `toml:"relay" mapstructure:"relay"`
	CineSync CineSyncConfig `toml:"cinesync" mapstructure:"cinesync"`
	Watchdog WatchdogConfig `toml:"watchdog" mapstructure:"watchdog"`
	Actions  ActionsConfig  `toml:"actions" mapstructure:"actions"`
}

// ScanConfig configures symlink discovery.
type ScanConfig struct {
	Roots            []string `toml:"roots" mapstructure:"roots"`
	MountChecks      []string `toml:"mountChecks" mapstructure:"mountChecks"`
	Extensions       []string `toml:"extensions" mapstructure:"extensions"`
	IgnoreSubstrings []string `toml:"ignoreSubstrings" mapstructure:"ignoreSubstrings"`
	IntervalSeconds  int      `toml:"intervalSeconds" mapstructure:"intervalSeconds"`
	BatchSize        int      `toml:"batchSize" mapstructure:"batchSize"`
}

func (c ScanConfig) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

// RelayConfig configures the upstream search relay and path routing.
type RelayConfig struct {
	BaseURL        string  `toml:"baseUrl" mapstructure:"baseUrl"`
	Token          string  `toml:"token" mapstructure:"token"`
	TimeoutSeconds int     `toml:"timeoutSeconds" mapstructure:"timeoutSeconds"`
	Routes         []Route `toml:"routes" mapstructure:"routes"`
}

func (c RelayConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Configured reports whether the relay strategy can run at all. An
// unconfigured relay disables the arr strategy for the run; it is not an
// error.
func (c RelayConfig) Configured() bool {
	return c.BaseURL != "" && c.Token != ""
}

// Route maps a library path prefix to a relay backend type.
type Route struct {
	Prefix string `toml:"prefix" mapstructure:"prefix"`
	Type   string `toml:"type" mapstructure:"type"`
}

// RouteFor selects the route for a path, longest prefix wins.
func (c RelayConfig) RouteFor(path string) (Route, bool) {
	routes := make([]Route, len(c.Routes))
	copy(routes, c.Routes)
	sort.Slice(routes, func(i, j int) bool {
		return len(routes[i].Prefix) > len(routes[j].Prefix)
	})

	for _, r := range routes {
		prefix := strings.TrimSuffix(r.Prefix, "/")
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return r, true
		}
	}
	return Route{}, false
}

// CineSyncConfig configures the mirror-library repair strategy.
type CineSyncConfig struct {
	Base                  string   `toml:"base" mapstructure:"base"`
	AllowedTargetPrefixes []string `toml:"allowedTargetPrefixes" mapstructure:"allowedTargetPrefixes"`
	DryRun                bool     `toml:"dryRun" mapstructure:"dryRun"`
	Limit                 int      `toml:"limit" mapstructure:"limit"`
}

// WatchdogConfig configures the reconciliation loop.
type WatchdogConfig struct {
	IntervalSeconds int    `toml:"intervalSeconds" mapstructure:"intervalSeconds"`
	RunLimit        int    `toml:"runLimit" mapstructure:"runLimit"`
	SeasonThreshold int    `toml:"seasonThreshold" mapstructure:"seasonThreshold"`
	CooldownSeconds int    `toml:"cooldownSeconds" mapstructure:"cooldownSeconds"`
	MaxArrAttempts  int    `toml:"maxArrAttempts" mapstructure:"maxArrAttempts"`
	QuarantineBase  string `toml:"quarantineBase" mapstructure:"quarantineBase"`
}

func (c WatchdogConfig) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c WatchdogConfig) Cooldown() time.Duration {
	if c.CooldownSeconds <= 0 {
		return 6 * time.Hour
	}
	return time.Duration(c.CooldownSeconds) * time.Second
}

// ActionsConfig configures the outbound action queue processor.
type ActionsConfig struct {
	BatchSize      int `toml:"batchSize" mapstructure:"batchSize"`
	TimeoutSeconds int `toml:"timeoutSeconds" mapstructure:"timeoutSeconds"`
	PaceMillis     int `toml:"paceMillis" mapstructure:"paceMillis"`
}

func (c ActionsConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c ActionsConfig) Pace() time.Duration {
	if c.PaceMillis <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.PaceMillis) * time.Millisecond
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior. Absence of a relay token is deliberately not an error.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	for _, r := range c.Relay.Routes {
		if r.Prefix == "" || r.Type == "" {
			return fmt.Errorf("invalid relay route %+v: prefix and type are required", r)
		}
	}
	if c.Watchdog.SeasonThreshold < 1 {
		return errors.New("watchdog seasonThreshold must be >= 1")
	}
	return nil
}
