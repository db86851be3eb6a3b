package procmgr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jrepp/mockstore/pkg/launcher"
)

const (
	// DefaultBindAddress is the address the ephemeral service binds to
	DefaultBindAddress = "127.0.0.1"
	// DefaultPort is the first port tried
	DefaultPort = 27017
)

var tracer = otel.Tracer("github.com/jrepp/mockstore/pkg/procmgr")

// DefaultStorageDirectory returns $TMPDIR/.mockstore
func DefaultStorageDirectory() string {
	return filepath.Join(os.TempDir(), ".mockstore")
}

// NewController creates an idle controller
func NewController(opts ...Option) *Controller {
	c := &Controller{
		cfg: Config{
			BindAddress:      DefaultBindAddress,
			Port:             DefaultPort,
			StorageDirectory: DefaultStorageDirectory(),
		},
		launcher: launcher.NewMongod(),
		metrics:  NewNoopMetricsCollector(),
		logger:   slog.Default(),
		stopped:  NewBroadcaster(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// EnsureRunning returns the latch of the current launch cycle, starting one
// when the controller is idle. The latch fires with nil once the process is
// ready, or with the fatal launch error.
func (c *Controller) EnsureRunning() *Latch {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == PhasePreparing || c.phase == PhaseRunning {
		return c.running
	}

	c.setPhase(PhasePreparing)
	c.generation++
	latch := NewLatch()
	c.running = latch

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	go c.launch(ctx, c.generation, latch, c.cfg, c.launcher, c.maxPortAttempts)

	return latch
}

// launch resolves the spec and starts the process, moving up one port per
// contention until it succeeds or fails for another reason.
func (c *Controller) launch(ctx context.Context, gen uint64, latch *Latch, cfg Config, l launcher.Launcher, maxAttempts int) {
	ctx, span := tracer.Start(ctx, "procmgr.launch",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("launcher", l.Name())))
	defer span.End()

	spec, err := c.resolveSpec(ctx, cfg, l)
	if err != nil {
		c.finishLaunch(gen, latch, spec, nil, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	for attempt := 1; ; attempt++ {
		spec.StorageDirectory = filepath.Join(cfg.StorageDirectory, strconv.Itoa(spec.Port))
		if err := os.MkdirAll(spec.StorageDirectory, 0o755); err != nil {
			err = launcher.ErrStorageUnavailable(spec.StorageDirectory, err)
			c.finishLaunch(gen, latch, spec, nil, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}

		c.logger.Debug("procmgr: launching", "launcher", l.Name(), "addr", spec.Addr(), "engine", spec.StorageEngine, "attempt", attempt)

		start := time.Now()
		proc, err := l.Launch(ctx, spec)
		c.metrics.LaunchAttempt(spec.Port, time.Since(start), err)

		if err == nil {
			span.SetAttributes(attribute.Int("port", spec.Port), attribute.Int("attempts", attempt))
			c.finishLaunch(gen, latch, spec, proc, nil)
			return
		}

		if launcher.IsPortContention(err) && ctx.Err() == nil {
			if maxAttempts > 0 && attempt >= maxAttempts {
				err = launcher.ErrLaunchFailed(l.Name(), err).
					WithContext("attempts", attempt).
					WithSuggestion("Free a port in the range or raise the port attempt limit")
			} else {
				c.metrics.PortRetry(spec.Port)
				c.logger.Debug("procmgr: port in use, retrying", "port", spec.Port, "next", spec.Port+1)
				spec.Port++
				continue
			}
		}

		c.finishLaunch(gen, latch, spec, nil, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
}

// resolveSpec fills the storage engine, asking the launcher for its version
// when neither engine nor version are configured.
func (c *Controller) resolveSpec(ctx context.Context, cfg Config, l launcher.Launcher) (launcher.Spec, error) {
	spec := launcher.Spec{
		BindAddress:   cfg.BindAddress,
		Port:          cfg.Port,
		StorageEngine: cfg.StorageEngine,
		Version:       cfg.Version,
	}

	if err := os.MkdirAll(cfg.StorageDirectory, 0o755); err != nil {
		return spec, launcher.ErrStorageUnavailable(cfg.StorageDirectory, err)
	}

	if spec.StorageEngine != "" {
		return spec, nil
	}

	if spec.Version == "" {
		version, err := l.Version(ctx)
		if err != nil {
			return spec, launcher.ErrVersionUnknown(l.Name(), err)
		}
		spec.Version = version
	}

	engine, err := launcher.StorageEngineFor(spec.Version)
	if err != nil {
		return spec, launcher.ErrVersionUnknown(l.Name(), err)
	}
	spec.StorageEngine = engine

	return spec, nil
}

// finishLaunch publishes the outcome of the launch started for gen. A result
// for an abandoned cycle is discarded and its process shut down.
func (c *Controller) finishLaunch(gen uint64, latch *Latch, spec launcher.Spec, proc launcher.Process, err error) {
	c.mu.Lock()
	if gen != c.generation || c.phase != PhasePreparing {
		c.mu.Unlock()
		if proc != nil {
			c.logger.Debug("procmgr: discarding abandoned launch", "addr", proc.Addr())
			proc.Shutdown()
		}
		latch.Fire(ErrReset)
		return
	}

	c.cancel = nil
	if err != nil {
		c.running = nil
		c.setPhase(PhaseIdle)
		c.logger.Error("procmgr: launch failed", "launcher", c.launcher.Name(), "error", err)
	} else {
		c.spec = spec
		c.process = proc
		c.setPhase(PhaseRunning)
		c.logger.Info("procmgr: ephemeral service running", "launcher", c.launcher.Name(), "addr", proc.Addr(), "engine", spec.StorageEngine)
	}
	c.mu.Unlock()

	latch.Fire(err)
}

// SignalIdle stops a running process once the last caller disconnected.
// It is a no-op unless the controller is Running.
func (c *Controller) SignalIdle() {
	c.mu.Lock()
	if c.phase != PhaseRunning {
		c.mu.Unlock()
		return
	}

	c.setPhase(PhaseStopping)
	proc := c.process
	c.process = nil
	c.running = nil
	c.logger.Debug("procmgr: no callers connected, stopping", "addr", proc.Addr())
	proc.Shutdown()
	c.setPhase(PhaseIdle)
	stopped := c.stopped
	c.mu.Unlock()

	stopped.Publish()
}

// Reset tears down unconditionally: subscribers are dropped, an in-flight
// launch is abandoned and a running process is asked to shut down.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	latch := c.running
	c.running = nil
	if c.process != nil {
		c.process.Shutdown()
		c.process = nil
	}
	if c.phase != PhaseIdle {
		c.setPhase(PhaseIdle)
	}
	c.stopped = NewBroadcaster()
	c.mu.Unlock()

	if latch != nil {
		latch.Fire(ErrReset)
	}
}

// OnStopped calls fn every time a running process is stopped for idleness
func (c *Controller) OnStopped(fn func()) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped.Subscribe(fn)
}

// OnceStopped calls fn the next time a running process is stopped
func (c *Controller) OnceStopped(fn func()) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped.Once(fn)
}

// Acquire marks owner as the single installation using the controller,
// applying opts. Reconfiguring requires the controller to be idle.
func (c *Controller) Acquire(owner any, opts ...Option) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.owner != nil && c.owner != owner {
		return ErrControllerBusy
	}
	if len(opts) > 0 && c.phase != PhaseIdle {
		return fmt.Errorf("reconfigure in phase %s: %w", c.phase, ErrControllerBusy)
	}

	for _, opt := range opts {
		opt(c)
	}
	c.owner = owner

	return nil
}

// Release gives up ownership taken by Acquire
func (c *Controller) Release(owner any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owner == owner {
		c.owner = nil
	}
}

// Owned reports whether an installation holds the controller
func (c *Controller) Owned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner != nil
}

// Phase returns the current phase
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Addr returns host:port of the running process, or "" when not running
func (c *Controller) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseRunning || c.process == nil {
		return ""
	}
	return c.process.Addr()
}

// Port returns the port of the running process, or 0 when not running
func (c *Controller) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseRunning {
		return 0
	}
	return c.spec.Port
}

// Spec returns the spec of the running (or last running) process
func (c *Controller) Spec() launcher.Spec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spec
}

// Config returns the launch configuration
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Metrics returns the metrics collector
func (c *Controller) Metrics() MetricsCollector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Logger returns the logger
func (c *Controller) Logger() *slog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// setPhase must be called with c.mu held
func (c *Controller) setPhase(to Phase) {
	from := c.phase
	c.phase = to
	c.metrics.PhaseTransition(from, to)
}
