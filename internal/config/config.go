// Copyright (c) 2026 Kumulus Tools
// Boardflash - firmware lifecycle manager for USB-attached boards
// This source code is licensed under the MIT license found in the LICENSE file.

// Package config loads and persists the Boardflash configuration. It layers
// defaults, the YAML config file, environment variables (BOARDFLASH_*) and
// CLI flags through viper, and hands the engine one explicit Config value
// instead of process-wide mutable configuration state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the explicit configuration injected into source resolvers, the
// backup manager and the flash adapters at construction.
type Config struct {
	Language string `mapstructure:"language" yaml:"language"`
	Debug    bool   `mapstructure:"debug" yaml:"debug"`

	DataDir      string `mapstructure:"data_dir" yaml:"data_dir"`
	DownloadsDir string `mapstructure:"downloads_dir" yaml:"downloads_dir"`
	BackupsDir   string `mapstructure:"backups_dir" yaml:"backups_dir"`

	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Backup   BackupConfig   `mapstructure:"backup" yaml:"backup"`
	Flash    FlashConfig    `mapstructure:"flash" yaml:"flash"`
	History  HistoryConfig  `mapstructure:"history" yaml:"history"`
	GitHub   RemoteConfig   `mapstructure:"github" yaml:"github"`
	GitLab   RemoteConfig   `mapstructure:"gitlab" yaml:"gitlab"`
	SFTP     SFTPConfig     `mapstructure:"sftp" yaml:"sftp"`
}

// DownloadConfig bounds network downloads. Retries apply to transient
// transport failures only; they never apply to flashing itself.
type DownloadConfig struct {
	Retries          int `mapstructure:"retries" yaml:"retries"`
	BackoffMS        int `mapstructure:"backoff_ms" yaml:"backoff_ms"`
	TimeoutSec       int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	ProgressInterval int `mapstructure:"progress_interval_bytes" yaml:"progress_interval_bytes"`
}

// BackupConfig controls snapshot retention. Both limits are configuration,
// not invariants: tests and deployments may tune them freely.
type BackupConfig struct {
	MaxPerDevice int `mapstructure:"max_per_device" yaml:"max_per_device"`
	RetainDays   int `mapstructure:"retain_days" yaml:"retain_days"`
}

// FlashConfig configures external tool invocation.
type FlashConfig struct {
	// ToolPaths maps a tool name (esptool, dfu-util, STM32_Programmer_CLI,
	// avrdude, objcopy) to an absolute executable path, overriding discovery.
	ToolPaths map[string]string `mapstructure:"tool_paths" yaml:"tool_paths"`
	// SearchDirs are extra directories searched before $PATH.
	SearchDirs []string `mapstructure:"search_dirs" yaml:"search_dirs"`
	TimeoutSec int      `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// HistoryConfig selects the flash-history database backend.
type HistoryConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
	Dsn  string `mapstructure:"dsn" yaml:"dsn"`
}

// RemoteConfig holds the API endpoint and optional bearer token for a
// CI/CD platform. Tokens are passed through; storing them securely is the
// caller's concern.
type RemoteConfig struct {
	APIURL string `mapstructure:"api_url" yaml:"api_url"`
	Token  string `mapstructure:"token" yaml:"token"`
}

// SFTPConfig holds credentials for sftp:// firmware sources.
type SFTPConfig struct {
	User       string `mapstructure:"user" yaml:"user"`
	PrivateKey string `mapstructure:"private_key" yaml:"private_key"`
	Password   string `mapstructure:"password" yaml:"password"`
}

// Defaults returns the default configuration values keyed by viper path.
func Defaults() map[string]any {
	return map[string]any{
		"language":                         "en",
		"debug":                            false,
		"data_dir":                         defaultDataDir(),
		"download.retries":                 3,
		"download.backoff_ms":              500,
		"download.timeout_sec":             300,
		"download.progress_interval_bytes": 64 * 1024,
		"backup.max_per_device":            5,
		"backup.retain_days":               30,
		"flash.timeout_sec":                300,
		"history.type":                     "sqlite",
		"history.dsn":                      filepath.Join(defaultDataDir(), "flash_history.db"),
		"github.api_url":                   "https://api.github.com",
		"gitlab.api_url":                   "https://gitlab.com/api/v4",
	}
}

// defaultDataDir returns the per-user application data directory.
func defaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "boardflash")
}

// getConfigPath returns the full path for the configuration file.
func getConfigPath(system bool) (string, error) {
	var configDir string
	var err error

	if system {
		switch runtime.GOOS {
		case "windows":
			configDir = filepath.Join(os.Getenv("ProgramData"), "Boardflash")
		default: // Linux, macOS, etc.
			configDir = "/etc/boardflash"
		}
	} else {
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "boardflash")
	}

	return filepath.Join(configDir, "boardflash.yaml"), nil
}

// LoadConfig builds a Config from defaults, the config file, environment
// variables and the command's flags, in increasing precedence.
func LoadConfig[T any](cmd *cobra.Command, defaults map[string]any, explicitPath *string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("boardflash")
	v.SetConfigType("yaml")

	// An explicit --config path has the highest precedence for file-based
	// configuration.
	if explicitPath != nil {
		v.SetConfigFile(*explicitPath)
	}

	if userConfigPath, err := getConfigPath(false); err == nil {
		v.AddConfigPath(filepath.Dir(userConfigPath))
	}
	if systemConfigPath, err := getConfigPath(true); err == nil {
		v.AddConfigPath(filepath.Dir(systemConfigPath))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine on first run; other errors are fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return c, err
		}
	}

	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	v.SetEnvPrefix("boardflash")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}

	return c, nil
}

// WriteConfigFile persists the configuration to the user or system config
// path, creating the directory if needed.
func WriteConfigFile[T any](c *T, system bool) error {
	path, err := getConfigPath(system)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", configDir, err)
	}

	// 0600: the file may contain API tokens.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return err
	}

	return nil
}

// EnsureDirs resolves the derived directories and creates them. Empty
// downloads/backups paths default to subdirectories of the data dir.
func (c *Config) EnsureDirs() error {
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}
	if c.DownloadsDir == "" {
		c.DownloadsDir = filepath.Join(c.DataDir, "downloads")
	}
	if c.BackupsDir == "" {
		c.BackupsDir = filepath.Join(c.DataDir, "backups")
	}
	for _, dir := range []string{c.DataDir, c.DownloadsDir, c.BackupsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("could not create directory %s: %w", dir, err)
		}
	}
	return nil
}

// RegistryPath returns the path of the firmware registry file.
func (c Config) RegistryPath() string {
	return filepath.Join(c.DataDir, "firmware_registry.json")
}
