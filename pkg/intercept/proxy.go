package intercept

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/jrepp/mockstore/pkg/client"
	"github.com/jrepp/mockstore/pkg/procmgr"
)

// ErrNotRunning is returned when the ephemeral service was torn down, or the
// call's record cleared by a restore, before the redirected call could start.
var ErrNotRunning = errors.New("ephemeral service is not running")

// proxy is the Library installed in place of the original. Every entry point
// call is registered, waits for the ephemeral service and is then forwarded
// to the original library with its target substituted.
type proxy struct {
	orig     client.Library
	registry *Registry
	ctrl     *procmgr.Controller
	logger   *slog.Logger
}

func (p *proxy) Open(ctx context.Context, conn client.Conn, args client.Args) error {
	return p.intercept(ctx, conn, client.MethodOpen, args)
}

func (p *proxy) OpenSet(ctx context.Context, conn client.Conn, args client.Args) error {
	return p.intercept(ctx, conn, client.MethodOpenSet, args)
}

func (p *proxy) intercept(ctx context.Context, conn client.Conn, kind client.MethodKind, args client.Args) error {
	// registered before any wait so reset and restore see in-flight calls
	id := p.registry.Register(conn, kind, args)
	p.registry.Track(id,
		conn.OnConnected(func() { p.registry.MarkConnected(id) }),
		conn.OnDisconnected(func() { p.registry.MarkDisconnected(id) }),
	)

	if done := args.Done; done != nil {
		p.whenReady(id, func(err error) {
			if err != nil {
				done(err)
				return
			}
			go func() {
				if err := p.forward(ctx, id, conn, kind, args); err != nil {
					done(err)
				}
			}()
		})
		return nil
	}

	latch := p.ctrl.EnsureRunning()
	for {
		if err := latch.Wait(ctx); err != nil {
			return err
		}
		err := p.registry.BeginConnect(id, p.running)
		if err == nil {
			break
		}
		if !errors.Is(err, errServiceGone) {
			return err
		}
		// stopped by an idle signal after the latch fired
		latch = p.ctrl.EnsureRunning()
	}
	return p.forward(ctx, id, conn, kind, args)
}

// whenReady calls fn once the ephemeral service runs and a handshake slot
// for id is reserved, or with the launch error.
func (p *proxy) whenReady(id uuid.UUID, fn func(error)) {
	p.ctrl.EnsureRunning().Subscribe(func(err error) {
		if err == nil {
			err = p.registry.BeginConnect(id, p.running)
			if errors.Is(err, errServiceGone) {
				p.whenReady(id, fn)
				return
			}
		}
		fn(err)
	})
}

func (p *proxy) running() bool {
	return p.ctrl.Phase() == procmgr.PhaseRunning
}

// forward calls the original entry point with the target replaced by the
// ephemeral service address. It ends the handshake reserved for id once the
// original entry point completes.
func (p *proxy) forward(ctx context.Context, id uuid.UUID, conn client.Conn, kind client.MethodKind, args client.Args) error {
	var once sync.Once
	end := func() { once.Do(func() { p.registry.EndConnect(id) }) }

	redirected := args.Clone()
	if done := args.Done; done != nil {
		redirected.Done = func(err error) {
			end()
			done(err)
		}
	}

	err := p.redirect(ctx, conn, kind, redirected)
	if err != nil || redirected.Done == nil {
		end()
	}
	return err
}

func (p *proxy) redirect(ctx context.Context, conn client.Conn, kind client.MethodKind, redirected client.Args) error {
	addr := p.ctrl.Addr()
	if addr == "" {
		return ErrNotRunning
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("ephemeral address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("ephemeral address %q: %w", addr, err)
	}

	switch kind {
	case client.MethodOpen:
		redirected.Host = host
		redirected.Port = port
		return p.orig.Open(ctx, conn, redirected)
	case client.MethodOpenSet:
		redirected.Seeds = []string{addr}
		return p.orig.OpenSet(ctx, conn, redirected)
	default:
		return fmt.Errorf("unknown method kind: %v", kind)
	}
}

// InternalConnect points socket-level connects at the ephemeral service
// while it runs. Host-set requests become single-host connections.
func (p *proxy) InternalConnect(ctx context.Context, conn client.Conn, dial *client.Dial) error {
	addr := p.ctrl.Addr()
	if addr == "" {
		return p.orig.InternalConnect(ctx, conn, dial)
	}

	d := *dial
	d.Hosts = []string{addr}
	if d.ReplicaSet != "" || !d.Direct {
		p.logger.Debug("intercept: coercing host set to single host", "replica_set", d.ReplicaSet, "hosts", dial.Hosts, "addr", addr)
	}
	d.ReplicaSet = ""
	d.Direct = true

	return p.orig.InternalConnect(ctx, conn, &d)
}

var _ client.Library = (*proxy)(nil)
