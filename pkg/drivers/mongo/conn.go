package mongo

import (
	"context"
	"errors"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/jrepp/mockstore/pkg/client"
)

// ErrNotConnected is returned by collection operations without an open
// connection.
var ErrNotConnected = errors.New("mongo: not connected")

// Conn is a MongoDB connection created from a driver
type Conn struct {
	driver *client.Driver

	connected    client.Notifier
	disconnected client.Notifier

	mu          sync.Mutex
	cli         *mongo.Client
	database    string
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

func (c *Conn) attach(ctx context.Context, cli *mongo.Client, database string, hosts []string) {
	c.mu.Lock()
	prev := c.cli
	c.cli = cli
	c.database = database
	c.hosts = append([]string(nil), hosts...)
	c.mu.Unlock()

	c.connected.Notify()

	// the Conn stays connected across a reopen, so the swapped client is
	// closed without a disconnect notification
	if prev != nil {
		_ = prev.Disconnect(context.WithoutCancel(ctx))
	}
}

// Close disconnects. Closing an unconnected Conn is a no-op.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	cli := c.cli
	c.cli = nil
	c.mu.Unlock()

	if cli == nil {
		return nil
	}
	err := cli.Disconnect(ctx)
	c.disconnected.Notify()
	return err
}

// Connected reports whether the connection is open
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cli != nil
}

// Hosts returns the hosts of the current connection
func (c *Conn) Hosts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.hosts...)
}

// Client returns the mongo client, nil when not connected
func (c *Conn) Client() *mongo.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cli
}

// Database returns the database named at Open, nil when not connected
func (c *Conn) Database() *mongo.Database {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli == nil {
		return nil
	}
	return c.cli.Database(c.databaseName())
}

func (c *Conn) databaseName() string {
	if c.database == "" {
		return "test"
	}
	return c.database
}

// Collection returns the named collection, resolving the handle on first
// use. The handle follows reconnects.
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

// Collection is a lazily resolved collection handle
type Collection struct {
	name string
	conn *Conn
}

// Name returns the collection name
func (col *Collection) Name() string {
	return col.name
}

// Mongo returns the driver collection on the current connection
func (col *Collection) Mongo() (*mongo.Collection, error) {
	db := col.conn.Database()
	if db == nil {
		return nil, ErrNotConnected
	}
	return db.Collection(col.name), nil
}

// InsertOne inserts doc
func (col *Collection) InsertOne(ctx context.Context, doc any) error {
	mc, err := col.Mongo()
	if err != nil {
		return err
	}
	_, err = mc.InsertOne(ctx, doc)
	return err
}

// CountDocuments counts documents matching filter, every document for nil
func (col *Collection) CountDocuments(ctx context.Context, filter any) (int64, error) {
	mc, err := col.Mongo()
	if err != nil {
		return 0, err
	}
	return mc.CountDocuments(ctx, filterOrAll(filter))
}

// FindOne decodes the first document matching filter into out
func (col *Collection) FindOne(ctx context.Context, filter any, out any) error {
	mc, err := col.Mongo()
	if err != nil {
		return err
	}
	return mc.FindOne(ctx, filterOrAll(filter)).Decode(out)
}

// DeleteMany removes every document matching filter, every document for nil
func (col *Collection) DeleteMany(ctx context.Context, filter any) error {
	mc, err := col.Mongo()
	if err != nil {
		return err
	}
	_, err = mc.DeleteMany(ctx, filterOrAll(filter))
	return err
}

func filterOrAll(filter any) any {
	if filter == nil {
		return bson.D{}
	}
	return filter
}

var (
	_ client.Conn        = (*Conn)(nil)
	_ client.ManyDeleter = (*Collection)(nil)
)
