// Package client defines the contract between application code, a database
// client library and the interception layer.
//
// Application code opens connections through a Driver. The Driver forwards
// every entry point to whichever Library is currently in use, which lets the
// interception layer substitute a redirecting Library and later put the
// original one back without touching application code.
package client

import (
	"context"
	"sync"
)

// MethodKind identifies the entry point a connection attempt went through.
type MethodKind int

const (
	// MethodOpen connects to a single host.
	MethodOpen MethodKind = iota
	// MethodOpenSet connects to a set of hosts (replica set or cluster seeds).
	MethodOpenSet
)

// String returns the string representation of a MethodKind
func (k MethodKind) String() string {
	switch k {
	case MethodOpen:
		return "Open"
	case MethodOpenSet:
		return "OpenSet"
	default:
		return "Unknown"
	}
}

// Library is the capability set of a client library that establishes
// connections. Implementations must reach the socket level through
// conn.Driver().InternalConnect so that a substituted Library observes it.
//
// When Args.Done is set, Open and OpenSet return nil as soon as the call is
// accepted and report the outcome through Done exactly once. Otherwise they
// block until the connection is established or failed.
type Library interface {
	Open(ctx context.Context, conn Conn, args Args) error
	OpenSet(ctx context.Context, conn Conn, args Args) error
	InternalConnect(ctx context.Context, conn Conn, dial *Dial) error
}

// Conn is a connection object owned by the client library.
type Conn interface {
	// Driver returns the driver this connection was created from.
	Driver() *Driver

	// OnConnected registers fn for every completed handshake.
	OnConnected(fn func()) (unsubscribe func())

	// OnDisconnected registers fn for every disconnect.
	OnDisconnected(fn func()) (unsubscribe func())

	// Close disconnects. Disconnect notifications fire before Close returns.
	Close(ctx context.Context) error

	// Collections returns the collection handles this connection has resolved.
	Collections() []Collection
}

// Driver is the application-facing handle on a client library.
type Driver struct {
	mu  sync.RWMutex
	lib Library
}

// NewDriver creates a driver that forwards to lib
func NewDriver(lib Library) *Driver {
	return &Driver{lib: lib}
}

// Library returns the library currently in use
func (d *Driver) Library() Library {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lib
}

// Use installs lib and returns the previously installed library
func (d *Driver) Use(lib Library) Library {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.lib
	d.lib = lib
	return prev
}

// Open connects conn to a single host
func (d *Driver) Open(ctx context.Context, conn Conn, args Args) error {
	return d.Library().Open(ctx, conn, args)
}

// OpenSet connects conn to a set of hosts
func (d *Driver) OpenSet(ctx context.Context, conn Conn, args Args) error {
	return d.Library().OpenSet(ctx, conn, args)
}

// InternalConnect performs the socket-level connect for conn
func (d *Driver) InternalConnect(ctx context.Context, conn Conn, dial *Dial) error {
	return d.Library().InternalConnect(ctx, conn, dial)
}

// Dispatch runs fn and delivers its result. Without a done callback fn runs
// on the calling goroutine and its error is returned. With one, fn runs on a
// new goroutine, done receives the result and Dispatch returns nil.
func Dispatch(done func(error), fn func() error) error {
	if done == nil {
		return fn()
	}
	go func() {
		done(fn())
	}()
	return nil
}
