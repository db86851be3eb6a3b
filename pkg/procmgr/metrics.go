package procmgr

import (
	"time"
)

// MetricsCollector defines the interface for collecting ephemeral service metrics
type MetricsCollector interface {
	// PhaseTransition records a lifecycle phase change
	PhaseTransition(from, to Phase)

	// LaunchAttempt records one launch attempt on port
	LaunchAttempt(port int, duration time.Duration, err error)

	// PortRetry records a retry after port contention
	PortRetry(port int)

	// CallRegistered records an intercepted entry point call
	CallRegistered(method string)

	// ConnectedCallers records the number of connected callers
	ConnectedCallers(n int)

	// DataReset records a data reset over n collections
	DataReset(collections int, duration time.Duration, err error)
}

// noopMetricsCollector is a no-op implementation of MetricsCollector
type noopMetricsCollector struct{}

func (n *noopMetricsCollector) PhaseTransition(from, to Phase)                            {}
func (n *noopMetricsCollector) LaunchAttempt(port int, duration time.Duration, err error) {}
func (n *noopMetricsCollector) PortRetry(port int)                                        {}
func (n *noopMetricsCollector) CallRegistered(method string)                              {}
func (n *noopMetricsCollector) ConnectedCallers(count int)                                {}
func (n *noopMetricsCollector) DataReset(collections int, duration time.Duration, err error) {
}

// NewNoopMetricsCollector creates a no-op metrics collector
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}
