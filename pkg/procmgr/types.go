package procmgr

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jrepp/mockstore/pkg/launcher"
)

// Phase represents the lifecycle phase of the ephemeral service
type Phase int

const (
	// PhaseIdle - no process, nothing in flight
	PhaseIdle Phase = iota
	// PhasePreparing - a launch is in flight, possibly retrying ports
	PhasePreparing
	// PhaseRunning - the process is ready and accepting connections
	PhaseRunning
	// PhaseStopping - shutdown has been requested
	PhaseStopping
)

// String returns the string representation of a Phase
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhasePreparing:
		return "Preparing"
	case PhaseRunning:
		return "Running"
	case PhaseStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

var (
	// ErrControllerBusy is returned when a second installation tries to take
	// over a controller that is still owned, or reconfigure one that is not idle.
	ErrControllerBusy = errors.New("controller is owned by another installation")

	// ErrReset is delivered to launch waiters abandoned by Reset.
	ErrReset = errors.New("controller was reset")
)

// Config is the launch configuration of the ephemeral service
type Config struct {
	BindAddress string
	Port        int

	// StorageDirectory is the root; each launch attempt uses <root>/<port>.
	StorageDirectory string

	// StorageEngine overrides the engine chosen from Version.
	StorageEngine string

	// Version overrides the version reported by the launcher.
	Version string
}

// Controller owns the single ephemeral backing-store process and its
// Idle -> Preparing -> Running -> Stopping -> Idle lifecycle.
type Controller struct {
	mu sync.Mutex

	// Configuration
	cfg             Config
	launcher        launcher.Launcher
	maxPortAttempts int
	metrics         MetricsCollector
	logger          *slog.Logger

	// Current cycle
	phase      Phase
	generation uint64
	running    *Latch
	cancel     context.CancelFunc
	spec       launcher.Spec
	process    launcher.Process

	stopped *Broadcaster
	owner   any
}
