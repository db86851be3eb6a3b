package intercept

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/mockstore/pkg/client"
)

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	conn := newFakeConn(nil)

	args := client.Args{Host: "db.example", Port: 27017, Seeds: []string{"a:1"}}
	first := r.Register(conn, client.MethodOpen, args)
	second := r.Register(conn, client.MethodOpenSet, args)
	assert.NotEqual(t, first, second)

	// the registry keeps its own copy
	args.Seeds[0] = "changed:1"

	records := r.Records()
	require.Len(t, records, 2)
	assert.Equal(t, 0, records[0].Index)
	assert.Equal(t, 1, records[1].Index)
	assert.Equal(t, client.MethodOpenSet, records[1].Kind)
	assert.Equal(t, []string{"a:1"}, records[0].Args.Seeds)
	assert.False(t, records[0].Connected)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_IdleOnLastDisconnect(t *testing.T) {
	var idle atomic.Int32
	r := NewRegistry(func() { idle.Add(1) }, nil, nil)

	a := r.Register(newFakeConn(nil), client.MethodOpen, client.Args{})
	b := r.Register(newFakeConn(nil), client.MethodOpen, client.Args{})

	r.MarkConnected(a)
	r.MarkConnected(b)
	require.Len(t, r.Connected(), 2)

	r.MarkDisconnected(a)
	assert.Equal(t, int32(0), idle.Load(), "one caller still connected")

	r.MarkDisconnected(b)
	assert.Equal(t, int32(1), idle.Load())

	// repeated disconnects are not transitions
	r.MarkDisconnected(b)
	r.MarkDisconnected(a)
	assert.Equal(t, int32(1), idle.Load())
}

func TestRegistry_DisconnectWithoutConnect(t *testing.T) {
	var idle atomic.Int32
	r := NewRegistry(func() { idle.Add(1) }, nil, nil)

	id := r.Register(newFakeConn(nil), client.MethodOpen, client.Args{})
	r.MarkDisconnected(id)

	assert.Equal(t, int32(0), idle.Load())
}

func TestRegistry_ConcurrentDisconnects(t *testing.T) {
	var idle atomic.Int32
	r := NewRegistry(func() { idle.Add(1) }, nil, nil)

	const n = 50
	for i := 0; i < n; i++ {
		id := r.Register(newFakeConn(nil), client.MethodOpen, client.Args{})
		r.MarkConnected(id)
	}
	all := r.Records()

	var wg sync.WaitGroup
	for _, rec := range all {
		rec := rec
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.MarkDisconnected(rec.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), idle.Load(), "idle fires exactly once")
	assert.Empty(t, r.Connected())
}

func TestRegistry_Collections(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	shared := &fakeCollection{name: "shared"}

	r.Register(newFakeConn(nil, shared, &fakeCollection{name: "a"}), client.MethodOpen, client.Args{})
	r.Register(newFakeConn(nil, shared), client.MethodOpen, client.Args{})
	r.Register(newFakeConn(nil), client.MethodOpen, client.Args{})

	cols := r.Collections()
	require.Len(t, cols, 3, "shared handles are not deduplicated")
	assert.Equal(t, "shared", cols[0].Name())
	assert.Equal(t, "a", cols[1].Name())
	assert.Equal(t, "shared", cols[2].Name())
}

func TestRegistry_Clear(t *testing.T) {
	var idle atomic.Int32
	r := NewRegistry(func() { idle.Add(1) }, nil, nil)
	conn := newFakeConn(nil)

	id := r.Register(conn, client.MethodOpen, client.Args{})
	r.Track(id,
		conn.OnConnected(func() { r.MarkConnected(id) }),
		conn.OnDisconnected(func() { r.MarkDisconnected(id) }),
	)
	assert.Equal(t, 1, conn.connectedN.Len())

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, conn.connectedN.Len(), "subscriptions are dropped")
	assert.Equal(t, 0, conn.disconnectedN.Len())

	// unknown records are ignored
	r.MarkConnected(id)
	r.MarkDisconnected(id)
	assert.Equal(t, int32(0), idle.Load())
}

func TestRegistry_TrackAfterClear(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	id := r.Register(newFakeConn(nil), client.MethodOpen, client.Args{})
	r.Clear()

	called := false
	r.Track(id, func() { called = true })
	assert.True(t, called, "subscriptions for cleared records are dropped immediately")
}

func TestRegistry_IdleDeferredDuringHandshake(t *testing.T) {
	var idle atomic.Int32
	r := NewRegistry(func() { idle.Add(1) }, nil, nil)
	running := func() bool { return true }

	a := r.Register(newFakeConn(nil), client.MethodOpen, client.Args{})
	b := r.Register(newFakeConn(nil), client.MethodOpen, client.Args{})

	r.MarkConnected(a)
	require.NoError(t, r.BeginConnect(b, running))

	r.MarkDisconnected(a)
	assert.Equal(t, int32(0), idle.Load(), "b is mid-handshake")

	r.MarkConnected(b)
	r.EndConnect(b)
	assert.Equal(t, int32(0), idle.Load(), "b connected")

	r.MarkDisconnected(b)
	assert.Equal(t, int32(1), idle.Load())
}

func TestRegistry_DeferredIdleAfterFailedHandshake(t *testing.T) {
	var idle atomic.Int32
	r := NewRegistry(func() { idle.Add(1) }, nil, nil)

	a := r.Register(newFakeConn(nil), client.MethodOpen, client.Args{})
	b := r.Register(newFakeConn(nil), client.MethodOpen, client.Args{})

	r.MarkConnected(a)
	require.NoError(t, r.BeginConnect(b, func() bool { return true }))
	r.MarkDisconnected(a)
	assert.Equal(t, int32(0), idle.Load())

	// b never connected
	r.EndConnect(b)
	assert.Equal(t, int32(1), idle.Load())

	r.EndConnect(b)
	assert.Equal(t, int32(1), idle.Load(), "the deferred hook runs once")
}

func TestRegistry_ConnectWaitsForIdleHook(t *testing.T) {
	var running atomic.Bool
	running.Store(true)

	entered := make(chan struct{})
	release := make(chan struct{})
	r := NewRegistry(func() {
		close(entered)
		<-release
		running.Store(false)
	}, nil, nil)

	a := r.Register(newFakeConn(nil), client.MethodOpen, client.Args{})
	b := r.Register(newFakeConn(nil), client.MethodOpen, client.Args{})
	r.MarkConnected(a)

	go r.MarkDisconnected(a)
	<-entered

	begun := make(chan error, 1)
	go func() { begun <- r.BeginConnect(b, running.Load) }()

	select {
	case <-begun:
		t.Fatal("handshake started while the idle hook was stopping the service")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-begun:
		assert.ErrorIs(t, err, errServiceGone)
	case <-time.After(5 * time.Second):
		t.Fatal("BeginConnect did not return")
	}
}

func TestRegistry_BeginConnectAfterClear(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	id := r.Register(newFakeConn(nil), client.MethodOpen, client.Args{})
	r.Clear()

	assert.ErrorIs(t, r.BeginConnect(id, func() bool { return true }), ErrNotRunning)
	r.EndConnect(id)
}
