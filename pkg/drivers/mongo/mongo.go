// Package mongo adapts the official MongoDB Go driver to the client.Library
// contract so that MongoDB connections can be intercepted.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/jrepp/mockstore/pkg/client"
)

// Config holds driver tuning
type Config struct {
	AppName                string        `yaml:"app_name"`
	ConnectTimeout         time.Duration `yaml:"connect_timeout"`
	ServerSelectionTimeout time.Duration `yaml:"server_selection_timeout"`
	MaxPoolSize            uint64        `yaml:"max_pool_size"`
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ServerSelectionTimeout == 0 {
		c.ServerSelectionTimeout = 10 * time.Second
	}
	if c.MaxPoolSize == 0 {
		c.MaxPoolSize = 100
	}
}

// Library is the mongo-driver backed client.Library
type Library struct {
	config Config
}

// New creates a MongoDB library
func New(cfg Config) *Library {
	cfg.applyDefaults()
	return &Library{config: cfg}
}

// Open connects to a single mongod
func (l *Library) Open(ctx context.Context, conn client.Conn, args client.Args) error {
	return client.Connect(ctx, conn, client.MethodOpen, args)
}

// OpenSet connects to a replica set (Options.ReplicaSet) or a sharded
// cluster through its seed list
func (l *Library) OpenSet(ctx context.Context, conn client.Conn, args client.Args) error {
	return client.Connect(ctx, conn, client.MethodOpenSet, args)
}

// InternalConnect creates the mongo client for dial, pings the primary and
// attaches the client to conn
func (l *Library) InternalConnect(ctx context.Context, conn client.Conn, dial *client.Dial) error {
	c, ok := conn.(*Conn)
	if !ok {
		return fmt.Errorf("mongo: unsupported connection type %T", conn)
	}
	if len(dial.Hosts) == 0 {
		return errors.New("mongo: no hosts to connect to")
	}

	cli, err := mongo.Connect(l.clientOptions(dial))
	if err != nil {
		return fmt.Errorf("mongo: connect %v: %w", dial.Hosts, err)
	}

	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.WithoutCancel(ctx))
		return fmt.Errorf("failed to connect to MongoDB at %v: %w", dial.Hosts, err)
	}

	c.attach(ctx, cli, dial.Database, dial.Hosts)
	return nil
}

func (l *Library) clientOptions(dial *client.Dial) *options.ClientOptions {
	opts := options.Client().
		SetHosts(dial.Hosts).
		SetConnectTimeout(l.config.ConnectTimeout).
		SetServerSelectionTimeout(l.config.ServerSelectionTimeout).
		SetMaxPoolSize(l.config.MaxPoolSize)

	if dial.Direct {
		opts.SetDirect(true)
	}
	if dial.ReplicaSet != "" {
		opts.SetReplicaSet(dial.ReplicaSet)
	}
	if l.config.AppName != "" {
		opts.SetAppName(l.config.AppName)
	}
	if app := dial.Options.Extra["appName"]; app != "" {
		opts.SetAppName(app)
	}
	if dial.Options.Username != "" {
		opts.SetAuth(options.Credential{
			Username:   dial.Options.Username,
			Password:   dial.Options.Password,
			AuthSource: dial.Options.Extra["authSource"],
		})
	}

	return opts
}

var _ client.Library = (*Library)(nil)
