package intercept

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/jrepp/mockstore/pkg/client"
	"github.com/jrepp/mockstore/pkg/procmgr"
)

// Record is one intercepted connection attempt.
type Record struct {
	ID uuid.UUID

	// Index is the position in submission order.
	Index int

	Caller client.Conn
	Kind   client.MethodKind

	// Args are the arguments exactly as the caller passed them.
	Args client.Args

	Connected bool
}

type entry struct {
	rec    Record
	unsubs []func()

	// connecting is set while a redirected handshake is in flight
	connecting bool
}

// errServiceGone is returned by BeginConnect when the ephemeral service left
// Running before the handshake could start.
var errServiceGone = errors.New("ephemeral service stopped before connect")

// Registry tracks intercepted calls and whether their callers are connected
// to the ephemeral service. When the last connected caller disconnects it
// invokes the idle hook.
//
// Connect transitions, disconnect transitions and the idle decision are
// serialized by idleMu, so the service is never stopped while a caller is
// connected or a redirected handshake is in flight. A disconnect that
// empties the registry during a handshake defers the idle hook until the
// handshake ends.
type Registry struct {
	idleMu sync.Mutex

	mu       sync.Mutex
	entries  []*entry
	byID     map[uuid.UUID]*entry
	deferred bool

	onIdle  func()
	metrics procmgr.MetricsCollector
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. onIdle runs outside the record lock
// after a disconnect leaves no caller connected. It must not call back into
// BeginConnect, EndConnect or the Mark methods.
func NewRegistry(onIdle func(), metrics procmgr.MetricsCollector, logger *slog.Logger) *Registry {
	if metrics == nil {
		metrics = procmgr.NewNoopMetricsCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byID:    make(map[uuid.UUID]*entry),
		onIdle:  onIdle,
		metrics: metrics,
		logger:  logger,
	}
}

// Register appends a record holding a copy of args and returns its ID
func (r *Registry) Register(caller client.Conn, kind client.MethodKind, args client.Args) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := &entry{rec: Record{
		ID:     uuid.New(),
		Index:  len(r.entries),
		Caller: caller,
		Kind:   kind,
		Args:   args.Clone(),
	}}
	r.entries = append(r.entries, e)
	r.byID[e.rec.ID] = e

	r.metrics.CallRegistered(kind.String())
	return e.rec.ID
}

// Track attaches notification subscriptions to a record so Clear can drop them
func (r *Registry) Track(id uuid.UUID, unsubs ...func()) {
	r.mu.Lock()
	e, ok := r.byID[id]
	if ok {
		e.unsubs = append(e.unsubs, unsubs...)
	}
	r.mu.Unlock()

	if !ok {
		for _, fn := range unsubs {
			fn()
		}
	}
}

// BeginConnect reserves a redirected handshake for id. ready reports whether
// the ephemeral service is Running; it is evaluated atomically with the idle
// decision. It returns errServiceGone when the service is not running and
// ErrNotRunning when the record was cleared by a restore. Every nil return
// must be paired with EndConnect.
func (r *Registry) BeginConnect(id uuid.UUID, ready func() bool) error {
	r.idleMu.Lock()
	defer r.idleMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return ErrNotRunning
	}
	if !ready() {
		return errServiceGone
	}
	e.connecting = true
	return nil
}

// EndConnect releases the handshake reserved by BeginConnect. A deferred
// idle hook runs if nothing is connected or connecting any more.
func (r *Registry) EndConnect(id uuid.UUID) {
	r.idleMu.Lock()
	defer r.idleMu.Unlock()

	r.mu.Lock()
	if e, ok := r.byID[id]; ok {
		e.connecting = false
	}
	idle := r.deferred && r.connectedLocked() == 0 && !r.connectingLocked()
	if idle {
		r.deferred = false
	}
	onIdle := r.onIdle
	r.mu.Unlock()

	if idle && onIdle != nil {
		r.logger.Debug("intercept: deferred idle after handshake", "id", id)
		onIdle()
	}
}

// MarkConnected records a completed handshake
func (r *Registry) MarkConnected(id uuid.UUID) {
	r.idleMu.Lock()
	defer r.idleMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok || e.rec.Connected {
		return
	}
	e.rec.Connected = true
	r.deferred = false
	n := r.connectedLocked()
	r.metrics.ConnectedCallers(n)
	r.logger.Debug("intercept: caller connected", "index", e.rec.Index, "id", id, "connected", n)
}

// MarkDisconnected records a disconnect. The transition that leaves no
// caller connected invokes the idle hook, once.
func (r *Registry) MarkDisconnected(id uuid.UUID) {
	r.idleMu.Lock()
	defer r.idleMu.Unlock()

	r.mu.Lock()
	e, ok := r.byID[id]
	if !ok || !e.rec.Connected {
		r.mu.Unlock()
		return
	}
	e.rec.Connected = false
	n := r.connectedLocked()
	r.metrics.ConnectedCallers(n)
	r.logger.Debug("intercept: caller disconnected", "index", e.rec.Index, "id", id, "connected", n)

	idle := n == 0
	if idle && r.connectingLocked() {
		r.deferred = true
		idle = false
	}
	onIdle := r.onIdle
	r.mu.Unlock()

	if idle && onIdle != nil {
		onIdle()
	}
}

func (r *Registry) connectingLocked() bool {
	for _, e := range r.entries {
		if e.connecting {
			return true
		}
	}
	return false
}

func (r *Registry) connectedLocked() int {
	n := 0
	for _, e := range r.entries {
		if e.rec.Connected {
			n++
		}
	}
	return n
}

// Collections returns every collection of every registered caller. Callers
// sharing a collection contribute it once each.
func (r *Registry) Collections() []client.Collection {
	r.mu.Lock()
	callers := make([]client.Conn, 0, len(r.entries))
	for _, e := range r.entries {
		callers = append(callers, e.rec.Caller)
	}
	r.mu.Unlock()

	var cols []client.Collection
	for _, c := range callers {
		cols = append(cols, c.Collections()...)
	}
	return cols
}

// Records returns a snapshot of every record in submission order
func (r *Registry) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.rec)
	}
	return out
}

// Connected returns a snapshot of the connected records
func (r *Registry) Connected() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Record
	for _, e := range r.entries {
		if e.rec.Connected {
			out = append(out, e.rec)
		}
	}
	return out
}

// Len returns the number of records
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear removes every record and drops their notification subscriptions
func (r *Registry) Clear() {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.byID = make(map[uuid.UUID]*entry)
	r.deferred = false
	r.mu.Unlock()

	for _, e := range entries {
		for _, fn := range e.unsubs {
			fn()
		}
	}
	r.metrics.ConnectedCallers(0)
}
