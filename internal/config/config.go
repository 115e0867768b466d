// Copyright (c) 2025, the PixelStudio contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads and generates the pslicense configuration. Settings
// come from config.toml with PSLICENSE__ environment variables taking
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

const envPrefix = "PSLICENSE__"

type Config struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	DataDir   string `mapstructure:"dataDir"`
	ServerURL string `mapstructure:"serverUrl"`

	LogLevel      string `mapstructure:"logLevel"`
	LogPath       string `mapstructure:"logPath"`
	LogMaxSize    int    `mapstructure:"logMaxSize"`
	LogMaxBackups int    `mapstructure:"logMaxBackups"`
}

type AppConfig struct {
	Config *Config

	viper    *viper.Viper
	configMu sync.Mutex
}

// New loads the configuration, generating a default config.toml on first
// run. configPath may be a directory, a file, or empty for the default
// location.
func New(configPath string) (*AppConfig, error) {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	if err := c.load(configPath); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *AppConfig) defaults() {
	configDir := GetDefaultConfigDir()

	c.viper.SetDefault("host", "0.0.0.0")
	c.viper.SetDefault("port", 8090)
	c.viper.SetDefault("dataDir", configDir)
	c.viper.SetDefault("serverUrl", "http://localhost:8090")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
}

func (c *AppConfig) load(configPath string) error {
	c.viper.SetConfigType("toml")
	c.viper.SetEnvPrefix(strings.TrimSuffix(envPrefix, "_"))
	c.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.viper.AutomaticEnv()

	switch {
	case configPath == "":
		configPath = GetDefaultConfigDir()
		c.viper.AddConfigPath(configPath)
		c.viper.SetConfigName("config")
	case strings.HasSuffix(configPath, ".toml"):
		c.viper.SetConfigFile(configPath)
		configPath = filepath.Dir(configPath)
	default:
		c.viper.AddConfigPath(configPath)
		c.viper.SetConfigName("config")
	}

	if err := c.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("failed to read config: %w", err)
		}

		if err := c.writeDefaultConfig(configPath); err != nil {
			return err
		}

		if err := c.viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read generated config: %w", err)
		}
	}

	cfg := &Config{}
	if err := c.viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config = cfg

	return nil
}

func (c *AppConfig) writeDefaultConfig(configPath string) error {
	if err := os.MkdirAll(configPath, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file := filepath.Join(configPath, "config.toml")
	if _, err := os.Stat(file); err == nil {
		return nil
	}

	template := `# pslicense configuration

# Address the license server binds to
#
host = "0.0.0.0"

# Port the license server listens on
#
port = 8090

# Directory for the license database and agent state
#
#dataDir = ""

# License server URL used by the client agent
#
serverUrl = "http://localhost:8090"

# Log level: TRACE, DEBUG, INFO, WARN, ERROR
#
logLevel = "INFO"

# Optional log file. Empty logs to stderr only.
#
#logPath = "log/pslicense.log"

# Max log file size in MB before rotation
#
logMaxSize = 50

# Rotated log files to keep
#
logMaxBackups = 3
`

	if err := os.WriteFile(file, []byte(template), 0o644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	return nil
}

// DatabasePath returns the SQLite database location under the data dir.
func (c *AppConfig) DatabasePath() string {
	return filepath.Join(c.Config.DataDir, "pslicense.db")
}

// ResolveLogPath resolves a relative log path against the data dir.
func (c *AppConfig) ResolveLogPath(logPath string) string {
	if logPath == "" || filepath.IsAbs(logPath) {
		return logPath
	}
	return filepath.Join(c.Config.DataDir, logPath)
}

// GetDefaultConfigDir returns the platform config directory. A container
// style /config mount wins when XDG_CONFIG_HOME points at it.
func GetDefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		if xdg == "/config" {
			return xdg
		}
		return filepath.Join(xdg, "pslicense")
	}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "pslicense")
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "pslicense")
}
