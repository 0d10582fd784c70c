// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads and persists the application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/relinkarr/relinkarr/internal/domain"
)

const envPrefix = "RELINKARR__"

// AppConfig wraps the active configuration and the viper instance backing it.
type AppConfig struct {
	Config *domain.Config

	viper      *viper.Viper
	configPath string
	mu         sync.RWMutex
}

// New loads configuration from configPath (a config.toml file or a directory
// containing one), creating a default file on first run. Environment
// variables prefixed with RELINKARR__ override file values.
func New(configPath, version string) (*AppConfig, error) {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	// viper joins the prefix and key with a single underscore, so keep one
	// trailing underscore here to end up with the RELINKARR__ form.
	c.viper.SetEnvPrefix(strings.TrimSuffix(envPrefix, "_"))
	c.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.viper.AutomaticEnv()

	if err := c.load(configPath); err != nil {
		return nil, err
	}

	cfg := &domain.Config{}
	if err := c.viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Version = version

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c.Config = cfg
	return c, nil
}

func (c *AppConfig) defaults() {
	v := c.viper
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 7474)
	v.SetDefault("logLevel", "INFO")
	v.SetDefault("logMaxSize", 50)
	v.SetDefault("logMaxBackups", 3)
	v.SetDefault("metricsEnabled", false)
	v.SetDefault("metricsHost", "127.0.0.1")
	v.SetDefault("metricsPort", 9474)
	v.SetDefault("scan.intervalSeconds", 300)
	v.SetDefault("scan.batchSize", 200)
	v.SetDefault("scan.extensions", []string{".mkv", ".mp4", ".avi", ".mov", ".m4v", ".ts"})
	v.SetDefault("relay.timeoutSeconds", 30)
	v.SetDefault("cinesync.limit", 200)
	v.SetDefault("cinesync.dryRun", false)
	v.SetDefault("watchdog.intervalSeconds", 900)
	v.SetDefault("watchdog.runLimit", 50)
	v.SetDefault("watchdog.seasonThreshold", 2)
	v.SetDefault("watchdog.cooldownSeconds", 21600)
	v.SetDefault("watchdog.maxArrAttempts", 3)
	v.SetDefault("actions.batchSize", 25)
	v.SetDefault("actions.timeoutSeconds", 15)
	v.SetDefault("actions.paceMillis", 500)
}

func (c *AppConfig) load(configPath string) error {
	v := c.viper
	v.SetConfigType("toml")

	switch {
	case configPath == "":
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/config")
	case strings.HasSuffix(configPath, ".toml"):
		v.SetConfigFile(configPath)
		c.configPath = filepath.Dir(configPath)
	default:
		v.SetConfigName("config")
		v.AddConfigPath(configPath)
		c.configPath = configPath
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			if c.configPath == "" {
				c.configPath = "."
			}
			if err := c.writeDefault(filepath.Join(c.configPath, "config.toml")); err != nil {
				return err
			}
			return v.ReadInConfig()
		}
		return fmt.Errorf("read config: %w", err)
	}

	if c.configPath == "" {
		c.configPath = filepath.Dir(v.ConfigFileUsed())
	}
	return nil
}

func (c *AppConfig) writeDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	c.viper.SetConfigFile(path)
	log.Info().Msgf("Wrote default config to: %s", path)
	return nil
}

// DatabasePath returns the configured database path, defaulting to
// relinkarr.db under dataDir, or next to the config file when neither is set.
func (c *AppConfig) DatabasePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Config.DatabasePath != "" {
		return c.Config.DatabasePath
	}
	if c.Config.DataDir != "" {
		return filepath.Join(c.Config.DataDir, "relinkarr.db")
	}
	return filepath.Join(c.configPath, "relinkarr.db")
}

// Watch reloads dynamic settings when the config file changes on disk.
// Only the log level is applied live; everything else needs a restart.
func (c *AppConfig) Watch() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Debug().Str("file", e.Name).Msg("config file changed")

		fresh := &domain.Config{}
		if err := c.viper.Unmarshal(fresh); err != nil {
			log.Error().Err(err).Msg("failed to reload config, keeping previous values")
			return
		}

		c.mu.Lock()
		if fresh.LogLevel != c.Config.LogLevel {
			c.Config.LogLevel = fresh.LogLevel
			if level, err := zerolog.ParseLevel(strings.ToLower(fresh.LogLevel)); err == nil {
				zerolog.SetGlobalLevel(level)
				log.Info().Str("logLevel", fresh.LogLevel).Msg("log level updated")
			}
		}
		c.mu.Unlock()
	})
	c.viper.WatchConfig()
}

const defaultConfigTemplate = `# relinkarr configuration
# Values can be overridden with RELINKARR__ environment variables,
# e.g. RELINKARR__PORT=8080 or RELINKARR__RELAY_TOKEN=...

host = "127.0.0.1"
port = 7474

logLevel = "INFO"
# logPath = "/config/logs/relinkarr.log"

# dataDir = "/data"

metricsEnabled = false
metricsHost = "127.0.0.1"
metricsPort = 9474

[scan]
roots = []
mountChecks = []
intervalSeconds = 300
extensions = [".mkv", ".mp4", ".avi", ".mov", ".m4v", ".ts"]
ignoreSubstrings = []

[relay]
baseUrl = ""
token = ""
timeoutSeconds = 30
# [[relay.routes]]
# prefix = "/media/tv"
# type = "sonarr_tv"

[cinesync]
base = ""
allowedTargetPrefixes = ["/mnt/remote"]
dryRun = false
limit = 200

[watchdog]
intervalSeconds = 900
runLimit = 50
seasonThreshold = 2
cooldownSeconds = 21600
maxArrAttempts = 3
quarantineBase = ""

[actions]
batchSize = 25
timeoutSeconds = 15
paceMillis = 500
`
