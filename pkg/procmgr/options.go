package procmgr

import (
	"log/slog"

	"github.com/jrepp/mockstore/pkg/launcher"
)

// Option configures the Controller
type Option func(*Controller)

// WithLauncher sets the backing-process launcher
func WithLauncher(l launcher.Launcher) Option {
	return func(c *Controller) {
		c.launcher = l
	}
}

// WithConfig replaces the whole launch configuration. Zero fields keep
// their defaults.
func WithConfig(cfg Config) Option {
	return func(c *Controller) {
		if cfg.BindAddress != "" {
			c.cfg.BindAddress = cfg.BindAddress
		}
		if cfg.Port != 0 {
			c.cfg.Port = cfg.Port
		}
		if cfg.StorageDirectory != "" {
			c.cfg.StorageDirectory = cfg.StorageDirectory
		}
		c.cfg.StorageEngine = cfg.StorageEngine
		c.cfg.Version = cfg.Version
	}
}

// WithBindAddress sets the address the process binds to
func WithBindAddress(addr string) Option {
	return func(c *Controller) {
		c.cfg.BindAddress = addr
	}
}

// WithPort sets the first port tried
func WithPort(port int) Option {
	return func(c *Controller) {
		c.cfg.Port = port
	}
}

// WithStorageDirectory sets the storage root
func WithStorageDirectory(dir string) Option {
	return func(c *Controller) {
		c.cfg.StorageDirectory = dir
	}
}

// WithStorageEngine forces a storage engine
func WithStorageEngine(engine string) Option {
	return func(c *Controller) {
		c.cfg.StorageEngine = engine
	}
}

// WithVersion overrides the version used for engine selection
func WithVersion(version string) Option {
	return func(c *Controller) {
		c.cfg.Version = version
	}
}

// WithMaxPortAttempts caps port negotiation. Zero means unbounded.
func WithMaxPortAttempts(n int) Option {
	return func(c *Controller) {
		c.maxPortAttempts = n
	}
}

// WithMetricsCollector sets the metrics collector
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(c *Controller) {
		c.metrics = mc
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}
