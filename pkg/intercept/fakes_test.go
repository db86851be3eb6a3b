package intercept

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrepp/mockstore/pkg/client"
	"github.com/jrepp/mockstore/pkg/launcher"
	"github.com/jrepp/mockstore/pkg/procmgr"
)

// fakeLibrary is a mock client.Library recording every entry point call
type fakeLibrary struct {
	mu sync.Mutex

	calls []libCall
	dials []client.Dial

	// hosts that refuse connections
	refuse map[string]error

	// when set, InternalConnect waits for it to close before connecting
	hold chan struct{}
}

type libCall struct {
	kind client.MethodKind
	args client.Args
	conn client.Conn
}

func newFakeLibrary() *fakeLibrary {
	return &fakeLibrary{refuse: map[string]error{}}
}

func (l *fakeLibrary) Open(ctx context.Context, conn client.Conn, args client.Args) error {
	l.record(client.MethodOpen, conn, args)
	return client.Connect(ctx, conn, client.MethodOpen, args)
}

func (l *fakeLibrary) OpenSet(ctx context.Context, conn client.Conn, args client.Args) error {
	l.record(client.MethodOpenSet, conn, args)
	return client.Connect(ctx, conn, client.MethodOpenSet, args)
}

func (l *fakeLibrary) InternalConnect(ctx context.Context, conn client.Conn, dial *client.Dial) error {
	l.mu.Lock()
	l.dials = append(l.dials, *dial)
	var err error
	for _, h := range dial.Hosts {
		if e, ok := l.refuse[h]; ok {
			err = e
		}
	}
	hold := l.hold
	l.mu.Unlock()

	if hold != nil {
		<-hold
	}

	if err != nil {
		return err
	}
	if fc, ok := conn.(*fakeConn); ok {
		fc.connect(dial.Hosts)
	}
	return nil
}

func (l *fakeLibrary) record(kind client.MethodKind, conn client.Conn, args client.Args) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, libCall{kind: kind, args: args.Clone(), conn: conn})
}

func (l *fakeLibrary) getCalls() []libCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]libCall(nil), l.calls...)
}

func (l *fakeLibrary) getDials() []client.Dial {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]client.Dial(nil), l.dials...)
}

// fakeConn is a mock client.Conn
type fakeConn struct {
	driver *client.Driver

	connectedN    client.Notifier
	disconnectedN client.Notifier

	mu        sync.Mutex
	connected bool
	hosts     []string
	cols      []client.Collection

	// when set, Close does not disconnect
	stuck bool
}

func newFakeConn(d *client.Driver, cols ...client.Collection) *fakeConn {
	return &fakeConn{driver: d, cols: cols}
}

func (c *fakeConn) Driver() *client.Driver { return c.driver }

func (c *fakeConn) OnConnected(fn func()) func() { return c.connectedN.Subscribe(fn) }

func (c *fakeConn) OnDisconnected(fn func()) func() { return c.disconnectedN.Subscribe(fn) }

func (c *fakeConn) Collections() []client.Collection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]client.Collection(nil), c.cols...)
}

func (c *fakeConn) connect(hosts []string) {
	c.mu.Lock()
	c.connected = true
	c.hosts = append([]string(nil), hosts...)
	c.mu.Unlock()
	c.connectedN.Notify()
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.stuck {
		c.mu.Unlock()
		return errors.New("close timed out")
	}
	was := c.connected
	c.connected = false
	c.mu.Unlock()

	if was {
		c.disconnectedN.Notify()
	}
	return nil
}

func (c *fakeConn) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) getHosts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.hosts...)
}

// fakeCollection supports DeleteMany
type fakeCollection struct {
	name    string
	delay   time.Duration
	err     error
	deletes atomic.Int32
	done    atomic.Int32
}

func (c *fakeCollection) Name() string { return c.name }

func (c *fakeCollection) DeleteMany(ctx context.Context, filter any) error {
	c.deletes.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.done.Add(1)
	return c.err
}

// legacyCollection only supports Remove
type legacyCollection struct {
	name    string
	removes atomic.Int32
}

func (c *legacyCollection) Name() string { return c.name }

func (c *legacyCollection) Remove(ctx context.Context, filter any) error {
	c.removes.Add(1)
	return nil
}

// fakeLauncher starts pretend processes
type fakeLauncher struct {
	mu       sync.Mutex
	launches int
	procs    []*fakeProcess
	err      error
	release  chan struct{}
}

func (f *fakeLauncher) Name() string { return "fake" }

func (f *fakeLauncher) Version(ctx context.Context) (string, error) { return "4.4.6", nil }

func (f *fakeLauncher) Launch(ctx context.Context, spec launcher.Spec) (launcher.Process, error) {
	f.mu.Lock()
	f.launches++
	release := f.release
	err := f.err
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	p := &fakeProcess{addr: spec.Addr()}
	f.mu.Lock()
	f.procs = append(f.procs, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakeLauncher) getLaunches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches
}

func (f *fakeLauncher) getProcs() []*fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeProcess(nil), f.procs...)
}

type fakeProcess struct {
	addr      string
	shutdowns atomic.Int32
}

func (p *fakeProcess) Addr() string { return p.addr }
func (p *fakeProcess) Shutdown()    { p.shutdowns.Add(1) }

const testPort = 27300

// install intercepts driver with a private controller backed by fl
func install(t *testing.T, driver *client.Driver, fl *fakeLauncher, opts ...Option) *Interceptor {
	t.Helper()
	ctrl := procmgr.NewController()
	base := []Option{
		WithController(ctrl),
		WithLauncher(fl),
		WithPort(testPort),
		WithStorageDirectory(t.TempDir()),
	}
	i, err := Install(driver, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = i.Restore(ctx)
	})
	return i
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
