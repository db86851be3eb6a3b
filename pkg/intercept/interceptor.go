// Package intercept redirects every connection a client library opens to a
// single ephemeral backing store, and reverses that redirection on demand.
//
// Install swaps a redirecting Library into a client.Driver. Intercepted calls
// are recorded in a Registry, wait for the shared procmgr.Controller to bring
// the ephemeral service up, and are then forwarded to the original library
// with their target replaced. When the last redirected connection closes the
// service is stopped.
//
// The MOCKSTORE_VERSION, MOCKSTORE_PORT, MOCKSTORE_BIND, MOCKSTORE_DBPATH and
// MOCKSTORE_STORAGE_ENGINE environment flags are applied by Install before
// its options, so explicit options override them. Restore puts the original library back and
// ReconnectAll additionally replays every recorded call against its real
// target.
package intercept

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/jrepp/mockstore/pkg/client"
	"github.com/jrepp/mockstore/pkg/launcher"
	"github.com/jrepp/mockstore/pkg/procmgr"
)

var tracer = otel.Tracer("github.com/jrepp/mockstore/pkg/intercept")

// ErrAlreadyInstalled is returned by Install for a driver that is already
// intercepted.
var ErrAlreadyInstalled = errors.New("driver is already intercepted")

// Interceptor is one installation on one driver.
type Interceptor struct {
	mu        sync.Mutex
	installed bool

	driver   *client.Driver
	original client.Library
	proxy    *proxy

	registry *Registry
	ctrl     *procmgr.Controller
	metrics  procmgr.MetricsCollector
	logger   *slog.Logger
}

// Install intercepts every connection opened through driver
func Install(driver *client.Driver, opts ...Option) (*Interceptor, error) {
	if driver == nil {
		return nil, errors.New("install: driver is nil")
	}
	if _, ok := driver.Library().(*proxy); ok {
		return nil, ErrAlreadyInstalled
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	ctrl := o.ctrl
	if ctrl == nil {
		ctrl = procmgr.Shared()
	}

	envOpts, err := procmgr.EnvOptions()
	if err != nil {
		return nil, fmt.Errorf("install: %w", err)
	}

	i := &Interceptor{
		driver: driver,
		ctrl:   ctrl,
	}
	if err := ctrl.Acquire(i, append(envOpts, o.ctrlOpts...)...); err != nil {
		return nil, fmt.Errorf("install: %w", err)
	}

	i.metrics = ctrl.Metrics()
	i.logger = ctrl.Logger()

	root := ctrl.Config().StorageDirectory
	if err := os.MkdirAll(root, 0o755); err != nil {
		ctrl.Release(i)
		return nil, launcher.ErrStorageUnavailable(root, err)
	}

	i.registry = NewRegistry(ctrl.SignalIdle, i.metrics, i.logger)
	i.proxy = &proxy{
		registry: i.registry,
		ctrl:     ctrl,
		logger:   i.logger,
	}

	i.mu.Lock()
	i.proxy.orig = driver.Library()
	i.original = driver.Use(i.proxy)
	i.installed = true
	i.mu.Unlock()

	cfg := ctrl.Config()
	i.logger.Info("intercept: installed", "bind_address", cfg.BindAddress, "port", cfg.Port, "storage", root)

	return i, nil
}

// Installed reports whether the driver is still intercepted
func (i *Interceptor) Installed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.installed
}

// Registry returns the call registry
func (i *Interceptor) Registry() *Registry {
	return i.registry
}

// Controller returns the ephemeral service controller
func (i *Interceptor) Controller() *procmgr.Controller {
	return i.ctrl
}

// Driver returns the intercepted driver
func (i *Interceptor) Driver() *client.Driver {
	return i.driver
}

// Addr returns the ephemeral service address, or "" when it is not running
func (i *Interceptor) Addr() string {
	return i.ctrl.Addr()
}
