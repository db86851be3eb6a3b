// Package redis adapts go-redis to the client.Library contract so Redis
// connections can be intercepted. A collection is a key namespace: every key
// of collection "users" is stored as "users:<key>".
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jrepp/mockstore/pkg/client"
)

// Config holds Redis-specific connection tuning
type Config struct {
	MaxRetries      int           `yaml:"max_retries"`
	PoolSize        int           `yaml:"pool_size"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
}

func (c *Config) applyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 3 * time.Second
	}
}

// Library is the go-redis backed client.Library
type Library struct {
	config Config
}

// New creates a Redis library
func New(cfg Config) *Library {
	cfg.applyDefaults()
	return &Library{config: cfg}
}

// Open connects to a single Redis server
func (l *Library) Open(ctx context.Context, conn client.Conn, args client.Args) error {
	return client.Connect(ctx, conn, client.MethodOpen, args)
}

// OpenSet connects through Sentinel when a master name is given in
// Options.ReplicaSet, and to a cluster otherwise
func (l *Library) OpenSet(ctx context.Context, conn client.Conn, args client.Args) error {
	return client.Connect(ctx, conn, client.MethodOpenSet, args)
}

// InternalConnect builds the go-redis client for dial, pings it and
// attaches it to conn
func (l *Library) InternalConnect(ctx context.Context, conn client.Conn, dial *client.Dial) error {
	c, ok := conn.(*Conn)
	if !ok {
		return fmt.Errorf("redis: unsupported connection type %T", conn)
	}
	if len(dial.Hosts) == 0 {
		return errors.New("redis: no hosts to connect to")
	}

	db, err := database(dial.Database)
	if err != nil {
		return err
	}

	var rdb redis.UniversalClient
	switch {
	case dial.Direct || (dial.ReplicaSet == "" && len(dial.Hosts) == 1):
		rdb = redis.NewClient(&redis.Options{
			Addr:            dial.Hosts[0],
			Username:        dial.Options.Username,
			Password:        dial.Options.Password,
			DB:              db,
			MaxRetries:      l.config.MaxRetries,
			PoolSize:        l.config.PoolSize,
			ConnMaxIdleTime: l.config.ConnMaxIdleTime,
			DialTimeout:     l.config.DialTimeout,
			ReadTimeout:     l.config.ReadTimeout,
			WriteTimeout:    l.config.WriteTimeout,
		})
	case dial.ReplicaSet != "":
		rdb = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:      dial.ReplicaSet,
			SentinelAddrs:   dial.Hosts,
			Username:        dial.Options.Username,
			Password:        dial.Options.Password,
			DB:              db,
			MaxRetries:      l.config.MaxRetries,
			PoolSize:        l.config.PoolSize,
			ConnMaxIdleTime: l.config.ConnMaxIdleTime,
			DialTimeout:     l.config.DialTimeout,
			ReadTimeout:     l.config.ReadTimeout,
			WriteTimeout:    l.config.WriteTimeout,
		})
	default:
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           dial.Hosts,
			Username:        dial.Options.Username,
			Password:        dial.Options.Password,
			MaxRetries:      l.config.MaxRetries,
			PoolSize:        l.config.PoolSize,
			ConnMaxIdleTime: l.config.ConnMaxIdleTime,
			DialTimeout:     l.config.DialTimeout,
			ReadTimeout:     l.config.ReadTimeout,
			WriteTimeout:    l.config.WriteTimeout,
		})
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return fmt.Errorf("failed to connect to Redis at %v: %w", dial.Hosts, err)
	}

	c.attach(rdb, dial.Hosts)
	return nil
}

func database(name string) (int, error) {
	if name == "" {
		return 0, nil
	}
	db, err := strconv.Atoi(name)
	if err != nil || db < 0 {
		return 0, fmt.Errorf("redis: database must be a non-negative number, got %q", name)
	}
	return db, nil
}

var _ client.Library = (*Library)(nil)
