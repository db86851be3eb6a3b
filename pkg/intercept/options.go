package intercept

import (
	"log/slog"

	"github.com/jrepp/mockstore/pkg/launcher"
	"github.com/jrepp/mockstore/pkg/procmgr"
)

type options struct {
	ctrl     *procmgr.Controller
	ctrlOpts []procmgr.Option
}

// Option configures Install
type Option func(*options)

func withControllerOption(opt procmgr.Option) Option {
	return func(o *options) {
		o.ctrlOpts = append(o.ctrlOpts, opt)
	}
}

// WithVersion overrides the store version used to pick the storage engine
func WithVersion(version string) Option {
	return withControllerOption(procmgr.WithVersion(version))
}

// WithStorageEngine forces the storage engine
func WithStorageEngine(engine string) Option {
	return withControllerOption(procmgr.WithStorageEngine(engine))
}

// WithBindAddress sets the address the ephemeral service binds to
func WithBindAddress(addr string) Option {
	return withControllerOption(procmgr.WithBindAddress(addr))
}

// WithPort sets the first port tried
func WithPort(port int) Option {
	return withControllerOption(procmgr.WithPort(port))
}

// WithStorageDirectory sets the storage root
func WithStorageDirectory(dir string) Option {
	return withControllerOption(procmgr.WithStorageDirectory(dir))
}

// WithLauncher sets how the ephemeral service is started
func WithLauncher(l launcher.Launcher) Option {
	return withControllerOption(procmgr.WithLauncher(l))
}

// WithMaxPortAttempts caps port negotiation. Zero means unbounded.
func WithMaxPortAttempts(n int) Option {
	return withControllerOption(procmgr.WithMaxPortAttempts(n))
}

// WithMetrics sets the metrics collector
func WithMetrics(mc procmgr.MetricsCollector) Option {
	return withControllerOption(procmgr.WithMetricsCollector(mc))
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return withControllerOption(procmgr.WithLogger(logger))
}

// WithConfig applies a whole launch configuration
func WithConfig(cfg procmgr.Config) Option {
	return withControllerOption(procmgr.WithConfig(cfg))
}

// WithController uses c instead of the process-wide controller
func WithController(c *procmgr.Controller) Option {
	return func(o *options) {
		o.ctrl = c
	}
}
