package launcher

import (
	"context"
	"net"
	"strconv"
)

// EnvLocalBuild names a directory holding a locally built mongod. When set,
// it is used instead of the binary found on PATH.
const EnvLocalBuild = "MONGODB_LOCAL_BUILD"

// Spec is the resolved configuration of one launch attempt.
type Spec struct {
	BindAddress      string
	Port             int
	StorageDirectory string
	StorageEngine    string
	Version          string
}

// Addr returns BindAddress:Port
func (s Spec) Addr() string {
	return net.JoinHostPort(s.BindAddress, strconv.Itoa(s.Port))
}

// Launcher starts backing store processes.
type Launcher interface {
	// Name identifies the backing store in logs and errors.
	Name() string

	// Version reports the version of the store this launcher starts.
	Version(ctx context.Context) (string, error)

	// Launch starts a store for spec and blocks until it accepts
	// connections. A port that is already bound is reported with
	// ErrorCodePortContention; every other failure is fatal.
	Launch(ctx context.Context, spec Spec) (Process, error)
}

// Process is a running backing store.
type Process interface {
	// Addr is the host:port clients connect to.
	Addr() string

	// Shutdown requests termination and returns without waiting for it.
	Shutdown()
}
