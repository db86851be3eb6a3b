package launcher

import (
	"context"
	"errors"
	"syscall"

	"github.com/alicebob/miniredis/v2"
)

// miniredisVersion is the Redis version miniredis emulates
const miniredisVersion = "7.2.0"

// Miniredis runs an in-process Redis stand-in. Storage directory and engine
// are ignored; all data lives in memory.
type Miniredis struct{}

// NewMiniredis creates a miniredis launcher
func NewMiniredis() *Miniredis {
	return &Miniredis{}
}

// Name returns the backing store name
func (l *Miniredis) Name() string {
	return "miniredis"
}

// Version returns the emulated Redis version
func (l *Miniredis) Version(ctx context.Context) (string, error) {
	return miniredisVersion, nil
}

// Launch starts a miniredis server listening on spec's address
func (l *Miniredis) Launch(ctx context.Context, spec Spec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	srv := miniredis.NewMiniRedis()
	if err := srv.StartAddr(spec.Addr()); err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, ErrPortContention(spec.BindAddress, spec.Port, err)
		}
		return nil, ErrLaunchFailed(l.Name(), err)
	}
	return &miniredisProcess{srv: srv}, nil
}

// miniredisProcess is a running miniredis server
type miniredisProcess struct {
	srv *miniredis.Miniredis
}

// Addr returns the listening address
func (p *miniredisProcess) Addr() string {
	return p.srv.Addr()
}

// Shutdown closes the server. It is in-process, so this completes immediately.
func (p *miniredisProcess) Shutdown() {
	p.srv.Close()
}

// Server exposes the underlying miniredis for test assertions
func (p *miniredisProcess) Server() *miniredis.Miniredis {
	return p.srv
}
