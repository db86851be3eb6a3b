// Package config loads mockstore settings from a YAML file and the
// process environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jrepp/mockstore/pkg/intercept"
	"github.com/jrepp/mockstore/pkg/launcher"
	"github.com/jrepp/mockstore/pkg/procmgr"
)

// Environment variables honored by FromEnv. intercept.Install applies the
// same flags on its own.
const (
	EnvVersion       = procmgr.EnvVersion
	EnvPort          = procmgr.EnvPort
	EnvBindAddress   = procmgr.EnvBindAddress
	EnvStorageDir    = procmgr.EnvStorageDir
	EnvStorageEngine = procmgr.EnvStorageEngine
)

// Launcher kinds
const (
	LauncherMongod    = "mongod"
	LauncherContainer = "container"
	LauncherMiniredis = "miniredis"
)

// Config represents the mockstore configuration
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Launcher LauncherConfig `yaml:"launcher"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StoreConfig describes the ephemeral store
type StoreConfig struct {
	Version          string `yaml:"version"`
	StorageEngine    string `yaml:"storage_engine"`
	BindAddress      string `yaml:"bind_address"`
	Port             int    `yaml:"port"`
	StorageDirectory string `yaml:"storage_directory"`
	MaxPortAttempts  int    `yaml:"max_port_attempts"`
}

// LauncherConfig selects and tunes the process launcher
type LauncherConfig struct {
	Kind         string        `yaml:"kind"`
	Binary       string        `yaml:"binary"`
	Image        string        `yaml:"image"`
	Tag          string        `yaml:"tag"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	GracePeriod  time.Duration `yaml:"grace_period"`
}

// MetricsConfig configures the Prometheus collector
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
	Address   string `yaml:"address"`
}

// LoggingConfig configures the slog handler
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load loads configuration from YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Store.BindAddress == "" {
		c.Store.BindAddress = procmgr.DefaultBindAddress
	}
	if c.Store.Port == 0 {
		c.Store.Port = procmgr.DefaultPort
	}
	if c.Store.StorageDirectory == "" {
		c.Store.StorageDirectory = procmgr.DefaultStorageDirectory()
	}
	if c.Launcher.Kind == "" {
		c.Launcher.Kind = LauncherMongod
	}
	if c.Launcher.Image == "" {
		c.Launcher.Image = "mongo"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "mockstore"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// FromEnv overlays the process-wide environment flags
func (c *Config) FromEnv() error {
	if v := os.Getenv(EnvVersion); v != "" {
		c.Store.Version = v
	}
	if v := os.Getenv(EnvStorageEngine); v != "" {
		c.Store.StorageEngine = v
	}
	if v := os.Getenv(EnvBindAddress); v != "" {
		c.Store.BindAddress = v
	}
	if v := os.Getenv(EnvStorageDir); v != "" {
		c.Store.StorageDirectory = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return launcher.NewError(launcher.ErrorCodeInvalidConfiguration, "invalid port in environment").
				WithContext("variable", EnvPort).
				WithContext("value", v).
				WithCause(err)
		}
		c.Store.Port = port
	}
	return c.Validate()
}

// Validate checks value ranges and the launcher kind
func (c *Config) Validate() error {
	if c.Store.Port < 0 || c.Store.Port > 65535 {
		return launcher.NewError(launcher.ErrorCodeInvalidConfiguration, "port out of range").
			WithContext("port", c.Store.Port)
	}
	if c.Store.MaxPortAttempts < 0 {
		return launcher.NewError(launcher.ErrorCodeInvalidConfiguration, "max_port_attempts must not be negative").
			WithContext("max_port_attempts", c.Store.MaxPortAttempts)
	}
	switch c.Launcher.Kind {
	case LauncherMongod, LauncherContainer, LauncherMiniredis:
	default:
		return launcher.NewError(launcher.ErrorCodeInvalidConfiguration, "unknown launcher kind").
			WithContext("kind", c.Launcher.Kind).
			WithSuggestion("Use one of: mongod, container, miniredis")
	}
	return nil
}

// NewLauncher builds the configured launcher
func (c *Config) NewLauncher(logger *slog.Logger) (launcher.Launcher, error) {
	switch c.Launcher.Kind {
	case LauncherMongod:
		m := launcher.NewMongod()
		m.Binary = c.Launcher.Binary
		if c.Launcher.ReadyTimeout > 0 {
			m.ReadyTimeout = c.Launcher.ReadyTimeout
		}
		if c.Launcher.GracePeriod > 0 {
			m.GracePeriod = c.Launcher.GracePeriod
		}
		m.Logger = logger
		return m, nil
	case LauncherContainer:
		tag := c.Launcher.Tag
		if tag == "" {
			tag = c.Store.Version
		}
		ctr := launcher.NewContainer(tag)
		ctr.Image = c.Launcher.Image
		if c.Launcher.ReadyTimeout > 0 {
			ctr.ReadyTimeout = c.Launcher.ReadyTimeout
		}
		ctr.Logger = logger
		return ctr, nil
	case LauncherMiniredis:
		return launcher.NewMiniredis(), nil
	default:
		return nil, launcher.NewError(launcher.ErrorCodeInvalidConfiguration, "unknown launcher kind").
			WithContext("kind", c.Launcher.Kind)
	}
}

// ProcConfig returns the controller launch configuration
func (c *Config) ProcConfig() procmgr.Config {
	return procmgr.Config{
		BindAddress:      c.Store.BindAddress,
		Port:             c.Store.Port,
		StorageDirectory: c.Store.StorageDirectory,
		StorageEngine:    c.Store.StorageEngine,
		Version:          c.Store.Version,
	}
}

// ControllerOptions converts the configuration for procmgr.NewController
func (c *Config) ControllerOptions(logger *slog.Logger, metrics procmgr.MetricsCollector) ([]procmgr.Option, error) {
	l, err := c.NewLauncher(logger)
	if err != nil {
		return nil, err
	}

	opts := []procmgr.Option{
		procmgr.WithConfig(c.ProcConfig()),
		procmgr.WithLauncher(l),
		procmgr.WithMaxPortAttempts(c.Store.MaxPortAttempts),
	}
	if logger != nil {
		opts = append(opts, procmgr.WithLogger(logger))
	}
	if metrics != nil {
		opts = append(opts, procmgr.WithMetricsCollector(metrics))
	}
	return opts, nil
}

// Options converts the configuration for intercept.Install
func (c *Config) Options(logger *slog.Logger) ([]intercept.Option, error) {
	l, err := c.NewLauncher(logger)
	if err != nil {
		return nil, err
	}

	opts := []intercept.Option{
		intercept.WithConfig(c.ProcConfig()),
		intercept.WithLauncher(l),
		intercept.WithMaxPortAttempts(c.Store.MaxPortAttempts),
	}
	if logger != nil {
		opts = append(opts, intercept.WithLogger(logger))
	}
	return opts, nil
}
