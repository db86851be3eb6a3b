package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jrepp/mockstore/pkg/client"
)

// ErrNotConnected is returned by collection operations before Open completed
// or after Close.
var ErrNotConnected = errors.New("redis: not connected")

// Conn is a Redis connection created from a driver
type Conn struct {
	driver *client.Driver

	connected    client.Notifier
	disconnected client.Notifier

	mu          sync.Mutex
	rdb         redis.UniversalClient
	hosts       []string
	collections []*Collection
}

// NewConn creates an unconnected connection bound to driver
func NewConn(driver *client.Driver) *Conn {
	return &Conn{driver: driver}
}

// Driver returns the driver the connection was created from
func (c *Conn) Driver() *client.Driver {
	return c.driver
}

// OnConnected registers fn for completed connects
func (c *Conn) OnConnected(fn func()) func() {
	return c.connected.Subscribe(fn)
}

// OnDisconnected registers fn for disconnects
func (c *Conn) OnDisconnected(fn func()) func() {
	return c.disconnected.Subscribe(fn)
}

func (c *Conn) attach(rdb redis.UniversalClient, hosts []string) {
	c.mu.Lock()
	prev := c.rdb
	c.rdb = rdb
	c.hosts = append([]string(nil), hosts...)
	c.mu.Unlock()

	c.connected.Notify()

	// the Conn stays connected across a reopen, so the swapped client is
	// closed without a disconnect notification
	if prev != nil {
		prev.Close()
	}
}

// Close disconnects. Closing an unconnected Conn is a no-op.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	rdb := c.rdb
	c.rdb = nil
	c.mu.Unlock()

	if rdb == nil {
		return nil
	}
	err := rdb.Close()
	c.disconnected.Notify()
	return err
}

// Connected reports whether the connection is open
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rdb != nil
}

// Hosts returns the hosts of the current connection
func (c *Conn) Hosts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.hosts...)
}

// Client returns the go-redis client, nil when not connected
func (c *Conn) Client() redis.UniversalClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rdb
}

// Collection returns the named key namespace, resolving it on first use
func (c *Conn) Collection(name string) *Collection {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, col := range c.collections {
		if col.name == name {
			return col
		}
	}
	col := &Collection{name: name, conn: c}
	c.collections = append(c.collections, col)
	return col
}

// Collections returns every resolved collection
func (c *Conn) Collections() []client.Collection {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]client.Collection, 0, len(c.collections))
	for _, col := range c.collections {
		out = append(out, col)
	}
	return out
}

// Collection is a key namespace on a Conn
type Collection struct {
	name string
	conn *Conn
}

// Name returns the namespace name
func (col *Collection) Name() string {
	return col.name
}

func (col *Collection) key(k string) string {
	return col.name + ":" + k
}

func (col *Collection) client() (redis.UniversalClient, error) {
	rdb := col.conn.Client()
	if rdb == nil {
		return nil, ErrNotConnected
	}
	return rdb, nil
}

// Set stores a value with optional TTL
func (col *Collection) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	rdb, err := col.client()
	if err != nil {
		return err
	}
	return rdb.Set(ctx, col.key(key), value, ttl).Err()
}

// Get retrieves a value by key
func (col *Collection) Get(ctx context.Context, key string) ([]byte, bool, error) {
	rdb, err := col.client()
	if err != nil {
		return nil, false, err
	}

	value, err := rdb.Get(ctx, col.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil // Key not found
	}
	if err != nil {
		return nil, false, err
	}

	return value, true, nil
}

// Delete removes a key
func (col *Collection) Delete(ctx context.Context, key string) error {
	rdb, err := col.client()
	if err != nil {
		return err
	}
	return rdb.Del(ctx, col.key(key)).Err()
}

// Exists checks if a key exists
func (col *Collection) Exists(ctx context.Context, key string) (bool, error) {
	rdb, err := col.client()
	if err != nil {
		return false, err
	}

	count, err := rdb.Exists(ctx, col.key(key)).Result()
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// DeleteMany removes every key of the collection matching filter, a glob
// pattern relative to the namespace. A nil filter matches every key.
func (col *Collection) DeleteMany(ctx context.Context, filter any) error {
	rdb, err := col.client()
	if err != nil {
		return err
	}

	pattern := col.key("*")
	if p, ok := filter.(string); ok && p != "" {
		pattern = col.key(p)
	}

	if cc, ok := rdb.(*redis.ClusterClient); ok {
		return cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return deleteMatching(ctx, node, pattern)
		})
	}
	return deleteMatching(ctx, rdb, pattern)
}

func deleteMatching(ctx context.Context, rdb redis.Cmdable, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

var (
	_ client.Conn        = (*Conn)(nil)
	_ client.ManyDeleter = (*Collection)(nil)
)
