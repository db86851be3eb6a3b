package procmgr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/mockstore/pkg/launcher"
)

// fakeLauncher is a mock implementation of launcher.Launcher for testing
type fakeLauncher struct {
	mu sync.Mutex

	ports []int
	procs []*fakeProcess

	busy       map[int]bool
	launchErr  error
	versionErr error
	version    string

	// when set, Launch blocks until it is closed
	release   chan struct{}
	ignoreCtx bool
}

func (f *fakeLauncher) Name() string { return "fake" }

func (f *fakeLauncher) Version(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.versionErr != nil {
		return "", f.versionErr
	}
	if f.version == "" {
		return "4.4.6", nil
	}
	return f.version, nil
}

func (f *fakeLauncher) Launch(ctx context.Context, spec launcher.Spec) (launcher.Process, error) {
	f.mu.Lock()
	f.ports = append(f.ports, spec.Port)
	busy := f.busy[spec.Port]
	launchErr := f.launchErr
	release := f.release
	ignoreCtx := f.ignoreCtx
	f.mu.Unlock()

	if release != nil {
		if ignoreCtx {
			<-release
		} else {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if busy {
		return nil, launcher.ErrPortContention(spec.BindAddress, spec.Port, nil)
	}
	if launchErr != nil {
		return nil, launchErr
	}

	p := &fakeProcess{addr: spec.Addr(), spec: spec}
	f.mu.Lock()
	f.procs = append(f.procs, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakeLauncher) set(fn func(f *fakeLauncher)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeLauncher) getPorts() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.ports...)
}

func (f *fakeLauncher) getProcs() []*fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeProcess(nil), f.procs...)
}

type fakeProcess struct {
	addr      string
	spec      launcher.Spec
	shutdowns atomic.Int32
}

func (p *fakeProcess) Addr() string { return p.addr }
func (p *fakeProcess) Shutdown()    { p.shutdowns.Add(1) }

func newTestController(t *testing.T, l *fakeLauncher, opts ...Option) *Controller {
	t.Helper()
	base := []Option{
		WithLauncher(l),
		WithPort(27100),
		WithStorageDirectory(t.TempDir()),
	}
	return NewController(append(base, opts...)...)
}

func waitLatch(t *testing.T, l *Latch) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := l.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "latch did not fire")
	return err
}

// TestController_EnsureRunningConcurrent tests that concurrent callers share one launch
func TestController_EnsureRunningConcurrent(t *testing.T) {
	fl := &fakeLauncher{}
	c := newTestController(t, fl)

	const callers = 20
	latches := make([]*Latch, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			latches[i] = c.EnsureRunning()
		}(i)
	}
	wg.Wait()

	for _, l := range latches {
		assert.Same(t, latches[0], l, "all callers should share the cycle latch")
		assert.NoError(t, waitLatch(t, l))
	}

	assert.Equal(t, []int{27100}, fl.getPorts(), "exactly one launch")
	assert.Equal(t, PhaseRunning, c.Phase())
	assert.Equal(t, "127.0.0.1:27100", c.Addr())
	assert.Equal(t, 27100, c.Port())
}

// TestController_LateWaiter tests that waiters arriving after readiness are satisfied immediately
func TestController_LateWaiter(t *testing.T) {
	fl := &fakeLauncher{}
	c := newTestController(t, fl)

	require.NoError(t, waitLatch(t, c.EnsureRunning()))

	late := c.EnsureRunning()
	assert.True(t, late.Fired(), "latch of a running controller is already fired")

	called := false
	late.Subscribe(func(err error) {
		called = true
		assert.NoError(t, err)
	})
	assert.True(t, called, "late subscriber should be called synchronously")
	assert.Len(t, fl.getPorts(), 1, "no second launch")
}

// TestController_PortContention tests moving up one port per contention
func TestController_PortContention(t *testing.T) {
	fl := &fakeLauncher{busy: map[int]bool{27100: true, 27101: true}}
	mc := newMockMetricsCollector()
	c := newTestController(t, fl, WithMetricsCollector(mc))

	require.NoError(t, waitLatch(t, c.EnsureRunning()))

	assert.Equal(t, []int{27100, 27101, 27102}, fl.getPorts())
	assert.Equal(t, 27102, c.Port())
	assert.Equal(t, "127.0.0.1:27102", c.Addr())
	assert.Equal(t, []int{27100, 27101}, mc.getPortRetries())

	// each attempt gets its own storage subdirectory
	for _, port := range []int{27100, 27101, 27102} {
		dir := filepath.Join(c.Config().StorageDirectory, strconv.Itoa(port))
		_, err := os.Stat(dir)
		assert.NoError(t, err, "storage directory for port %d", port)
	}
	assert.Equal(t, filepath.Join(c.Config().StorageDirectory, "27102"), c.Spec().StorageDirectory)
}

// TestController_MaxPortAttempts tests the port negotiation cap
func TestController_MaxPortAttempts(t *testing.T) {
	fl := &fakeLauncher{busy: map[int]bool{27100: true, 27101: true, 27102: true}}
	c := newTestController(t, fl, WithMaxPortAttempts(2))

	err := waitLatch(t, c.EnsureRunning())
	require.Error(t, err)
	assert.Equal(t, launcher.ErrorCodeLaunchFailed, launcher.CodeOf(err))
	assert.Equal(t, []int{27100, 27101}, fl.getPorts())
	assert.Equal(t, PhaseIdle, c.Phase())
}

// TestController_FatalLaunchError tests that a fatal error reverts to Idle and allows retry
func TestController_FatalLaunchError(t *testing.T) {
	fatal := launcher.ErrLaunchFailed("fake", errors.New("exit status 100"))
	fl := &fakeLauncher{launchErr: fatal}
	c := newTestController(t, fl)

	first := c.EnsureRunning()
	err := waitLatch(t, first)
	require.Error(t, err)
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, PhaseIdle, c.Phase())
	assert.Equal(t, "", c.Addr())

	fl.set(func(f *fakeLauncher) { f.launchErr = nil })

	second := c.EnsureRunning()
	assert.NotSame(t, first, second, "a new cycle gets a new latch")
	require.NoError(t, waitLatch(t, second))
	assert.Equal(t, PhaseRunning, c.Phase())
}

// TestController_EngineSelection tests the storage engine resolution
func TestController_EngineSelection(t *testing.T) {
	tests := []struct {
		name    string
		version string
		opts    []Option
		want    string
	}{
		{"from launcher version", "4.4.6", nil, launcher.EngineEphemeralForTest},
		{"old launcher version", "3.0.15", nil, launcher.EngineInMemoryExperiment},
		{"version override", "4.4.6", []Option{WithVersion("2.6.0")}, launcher.EngineInMemoryExperiment},
		{"explicit engine", "4.4.6", []Option{WithStorageEngine("wiredTiger")}, "wiredTiger"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fl := &fakeLauncher{version: tt.version}
			c := newTestController(t, fl, tt.opts...)

			require.NoError(t, waitLatch(t, c.EnsureRunning()))
			assert.Equal(t, tt.want, c.Spec().StorageEngine)
		})
	}
}

// TestController_VersionUnknown tests that an unreadable version is fatal
func TestController_VersionUnknown(t *testing.T) {
	fl := &fakeLauncher{versionErr: errors.New("no such file")}
	c := newTestController(t, fl)

	err := waitLatch(t, c.EnsureRunning())
	require.Error(t, err)
	assert.Equal(t, launcher.ErrorCodeVersionUnknown, launcher.CodeOf(err))
	assert.Empty(t, fl.getPorts(), "no launch without an engine")
	assert.Equal(t, PhaseIdle, c.Phase())
}

// TestController_SignalIdle tests idle-triggered shutdown and stopped notifications
func TestController_SignalIdle(t *testing.T) {
	fl := &fakeLauncher{}
	c := newTestController(t, fl)

	var stopped, once atomic.Int32
	c.OnStopped(func() { stopped.Add(1) })
	c.OnceStopped(func() { once.Add(1) })

	// no-op while idle
	c.SignalIdle()
	assert.Equal(t, int32(0), stopped.Load())

	require.NoError(t, waitLatch(t, c.EnsureRunning()))
	c.SignalIdle()
	c.SignalIdle() // duplicate signal is harmless

	assert.Equal(t, PhaseIdle, c.Phase())
	procs := fl.getProcs()
	require.Len(t, procs, 1)
	assert.Equal(t, int32(1), procs[0].shutdowns.Load())
	assert.Equal(t, int32(1), stopped.Load())
	assert.Equal(t, int32(1), once.Load())

	// a second cycle only reaches the persistent subscriber
	require.NoError(t, waitLatch(t, c.EnsureRunning()))
	c.SignalIdle()
	assert.Equal(t, int32(2), stopped.Load())
	assert.Equal(t, int32(1), once.Load())
}

// TestController_SignalIdleWhilePreparing tests that a stop signal does not interrupt a launch
func TestController_SignalIdleWhilePreparing(t *testing.T) {
	fl := &fakeLauncher{release: make(chan struct{})}
	c := newTestController(t, fl)

	latch := c.EnsureRunning()
	assert.Equal(t, PhasePreparing, c.Phase())

	c.SignalIdle()
	assert.Equal(t, PhasePreparing, c.Phase())

	close(fl.release)
	require.NoError(t, waitLatch(t, latch))
	assert.Equal(t, PhaseRunning, c.Phase())
}

// TestController_ResetWhilePreparing tests abandoning an in-flight launch
func TestController_ResetWhilePreparing(t *testing.T) {
	fl := &fakeLauncher{release: make(chan struct{})}
	c := newTestController(t, fl)

	var stopped atomic.Int32
	c.OnStopped(func() { stopped.Add(1) })

	latch := c.EnsureRunning()
	require.Eventually(t, func() bool {
		return len(fl.getPorts()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	c.Reset()

	assert.ErrorIs(t, waitLatch(t, latch), ErrReset)
	assert.Equal(t, PhaseIdle, c.Phase())
	assert.Empty(t, fl.getProcs(), "cancelled launch should not produce a process")
	assert.Equal(t, 0, c.stopped.Len(), "subscribers are dropped")
}

// TestController_ResetDiscardsLateResult tests that a launch finishing after Reset is shut down
func TestController_ResetDiscardsLateResult(t *testing.T) {
	fl := &fakeLauncher{release: make(chan struct{}), ignoreCtx: true}
	c := newTestController(t, fl)

	latch := c.EnsureRunning()
	require.Eventually(t, func() bool {
		return len(fl.getPorts()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	c.Reset()
	close(fl.release)

	require.Eventually(t, func() bool {
		procs := fl.getProcs()
		return len(procs) == 1 && procs[0].shutdowns.Load() == 1
	}, 2*time.Second, 10*time.Millisecond, "late process should be shut down")

	assert.ErrorIs(t, waitLatch(t, latch), ErrReset)
	assert.Equal(t, PhaseIdle, c.Phase())
}

// TestController_ResetWhileRunning tests tearing down a running process
func TestController_ResetWhileRunning(t *testing.T) {
	fl := &fakeLauncher{}
	c := newTestController(t, fl)

	require.NoError(t, waitLatch(t, c.EnsureRunning()))
	c.Reset()

	procs := fl.getProcs()
	require.Len(t, procs, 1)
	assert.Equal(t, int32(1), procs[0].shutdowns.Load())
	assert.Equal(t, PhaseIdle, c.Phase())
	assert.Equal(t, 0, c.Port())
}

// TestController_Acquire tests the single installation guard
func TestController_Acquire(t *testing.T) {
	fl := &fakeLauncher{}
	c := newTestController(t, fl)

	first, second := new(int), new(int)

	require.NoError(t, c.Acquire(first, WithPort(27200)))
	assert.True(t, c.Owned())
	assert.Equal(t, 27200, c.Config().Port)

	assert.ErrorIs(t, c.Acquire(second), ErrControllerBusy)
	assert.NoError(t, c.Acquire(first), "re-acquire by the owner")

	c.Release(second)
	assert.True(t, c.Owned(), "release by a non-owner is ignored")

	require.NoError(t, waitLatch(t, c.EnsureRunning()))
	assert.ErrorIs(t, c.Acquire(first, WithPort(27300)), ErrControllerBusy, "reconfigure while running")

	c.Release(first)
	assert.False(t, c.Owned())
	assert.NoError(t, c.Acquire(second))
}

// TestShared tests the process-wide controller
func TestShared(t *testing.T) {
	assert.Same(t, Shared(), Shared())
}
