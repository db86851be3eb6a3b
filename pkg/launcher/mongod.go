package launcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// mongod exits with this status when it cannot bind its listener
const mongodExitNetError = 48

var mongodVersionPattern = regexp.MustCompile(`db version v(\d+\.\d+\.\d+\S*)`)

// Mongod launches a local mongod executable.
type Mongod struct {
	// Binary is an explicit executable path. Empty means the locally built
	// binary from MONGODB_LOCAL_BUILD, else mongod on PATH.
	Binary string

	// ReadyTimeout bounds the wait for "waiting for connections".
	ReadyTimeout time.Duration

	// GracePeriod is how long Shutdown waits after SIGTERM before SIGKILL.
	GracePeriod time.Duration

	// Output receives the process output (optional).
	Output io.Writer

	Logger *slog.Logger
}

// NewMongod creates a mongod launcher with defaults
func NewMongod() *Mongod {
	return &Mongod{
		ReadyTimeout: 30 * time.Second,
		GracePeriod:  5 * time.Second,
	}
}

// Name returns the backing store name
func (m *Mongod) Name() string {
	return "mongod"
}

func (m *Mongod) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// executable resolves the mongod binary
func (m *Mongod) executable() (string, error) {
	if m.Binary != "" {
		return m.Binary, nil
	}

	if dir := os.Getenv(EnvLocalBuild); dir != "" {
		path := filepath.Join(dir, "mongod")
		if _, err := os.Stat(path); err != nil {
			return "", ErrExecutableNotFound("mongod", dir).WithCause(err)
		}
		m.logger().Warn("launcher: using locally built mongod, development only", "path", path)
		return path, nil
	}

	path, err := exec.LookPath("mongod")
	if err != nil {
		return "", ErrExecutableNotFound("mongod", "PATH").WithCause(err)
	}
	return path, nil
}

// Version runs mongod --version and extracts the db version
func (m *Mongod) Version(ctx context.Context) (string, error) {
	bin, err := m.executable()
	if err != nil {
		return "", err
	}

	out, err := exec.CommandContext(ctx, bin, "--version").Output()
	if err != nil {
		return "", ErrVersionUnknown(m.Name(), err)
	}

	match := mongodVersionPattern.FindSubmatch(out)
	if match == nil {
		return "", ErrVersionUnknown(m.Name(), fmt.Errorf("unrecognized output: %q", firstLine(string(out))))
	}
	return string(match[1]), nil
}

// Launch starts mongod for spec and waits until it accepts connections
func (m *Mongod) Launch(ctx context.Context, spec Spec) (Process, error) {
	bin, err := m.executable()
	if err != nil {
		return nil, err
	}

	args := []string{
		"--bind_ip", spec.BindAddress,
		"--port", strconv.Itoa(spec.Port),
		"--dbpath", spec.StorageDirectory,
		"--storageEngine", spec.StorageEngine,
		"--nounixsocket",
	}

	// The process outlives ctx, so it is not bound to it
	cmd := exec.Command(bin, args...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, ErrLaunchFailed(m.Name(), err)
	}

	m.logger().Debug("launcher: mongod started",
		"pid", cmd.Process.Pid,
		"port", spec.Port,
		"dbpath", spec.StorageDirectory,
		"storage_engine", spec.StorageEngine)

	proc := &mongodProcess{
		cmd:         cmd,
		addr:        spec.Addr(),
		gracePeriod: m.GracePeriod,
		exited:      make(chan struct{}),
		logger:      m.logger(),
	}

	ready := make(chan struct{})
	var readyOnce sync.Once
	var addrInUse atomic.Bool
	var tail lineTail

	go func() {
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if m.Output != nil {
				fmt.Fprintln(m.Output, line)
			}
			tail.add(line)

			lower := strings.ToLower(line)
			switch {
			case strings.Contains(lower, "waiting for connections"):
				readyOnce.Do(func() { close(ready) })
			case strings.Contains(lower, "address already in use"):
				addrInUse.Store(true)
			}
		}
		// keep the pipe drained until the writer closes
		io.Copy(io.Discard, pr)
	}()

	go func() {
		proc.waitErr = cmd.Wait()
		pw.Close()
		close(proc.exited)
	}()

	timeout := m.ReadyTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		return proc, nil

	case <-proc.exited:
		var exitErr *exec.ExitError
		if addrInUse.Load() || (errors.As(proc.waitErr, &exitErr) && exitErr.ExitCode() == mongodExitNetError) {
			return nil, ErrPortContention(spec.BindAddress, spec.Port, proc.waitErr)
		}
		return nil, ErrLaunchFailed(m.Name(), fmt.Errorf("exited before ready: %v", proc.waitErr)).
			WithContext("output", tail.String())

	case <-timer.C:
		proc.kill()
		return nil, ErrReadyTimeout(m.Name(), spec.Port, timeout)

	case <-ctx.Done():
		proc.kill()
		return nil, ctx.Err()
	}
}

// mongodProcess is a running mongod
type mongodProcess struct {
	cmd         *exec.Cmd
	addr        string
	gracePeriod time.Duration
	logger      *slog.Logger

	exited  chan struct{}
	waitErr error

	shutdownOnce sync.Once
}

// Addr returns the listening address
func (p *mongodProcess) Addr() string {
	return p.addr
}

// Shutdown sends SIGTERM and escalates to SIGKILL after the grace period.
// It does not wait for the process to exit.
func (p *mongodProcess) Shutdown() {
	p.shutdownOnce.Do(func() {
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			p.logger.Debug("launcher: SIGTERM failed", "pid", p.cmd.Process.Pid, "error", err)
		}

		go func() {
			grace := p.gracePeriod
			if grace == 0 {
				grace = 5 * time.Second
			}
			select {
			case <-p.exited:
				p.logger.Debug("launcher: mongod exited", "pid", p.cmd.Process.Pid, "error", p.waitErr)
			case <-time.After(grace):
				p.logger.Warn("launcher: mongod did not exit within grace period, force killing",
					"pid", p.cmd.Process.Pid)
				p.cmd.Process.Kill()
			}
		}()
	})
}

func (p *mongodProcess) kill() {
	p.shutdownOnce.Do(func() {
		p.cmd.Process.Kill()
	})
}

// lineTail keeps the last few output lines for error reports
type lineTail struct {
	mu    sync.Mutex
	lines []string
}

func (t *lineTail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > 10 {
		t.lines = t.lines[1:]
	}
}

func (t *lineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
