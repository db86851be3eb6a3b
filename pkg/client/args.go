package client

import (
	"context"
	"fmt"
	"maps"
	"net"
	"strconv"
)

// Args are the arguments of an Open or OpenSet call.
type Args struct {
	// Host and Port address the server for Open.
	Host string
	Port int

	// Seeds are "host:port" addresses for OpenSet.
	Seeds []string

	Database string
	Options  Options

	// Done is the optional completion callback.
	Done func(error)
}

// Options are connection options understood by the adapters.
type Options struct {
	// ReplicaSet names the replica set (or sentinel master) for host-set
	// connections.
	ReplicaSet string
	Username   string
	Password   string
	Extra      map[string]string
}

// Clone returns a deep copy of the arguments, callback included
func (a Args) Clone() Args {
	c := a
	if a.Seeds != nil {
		c.Seeds = append([]string(nil), a.Seeds...)
	}
	if a.Options.Extra != nil {
		c.Options.Extra = maps.Clone(a.Options.Extra)
	}
	return c
}

// Addr returns Host:Port
func (a Args) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Dial describes one socket-level connect.
type Dial struct {
	Hosts      []string
	Database   string
	ReplicaSet string

	// Direct asks for a single-host connection without topology discovery.
	Direct bool

	Options Options
}

// DialFor derives the socket-level request for an entry point call
func DialFor(kind MethodKind, args Args) (*Dial, error) {
	d := &Dial{
		Database: args.Database,
		Options:  args.Options,
	}
	switch kind {
	case MethodOpen:
		if args.Host == "" {
			return nil, fmt.Errorf("open: host is required")
		}
		d.Hosts = []string{args.Addr()}
		d.Direct = true
	case MethodOpenSet:
		if len(args.Seeds) == 0 {
			return nil, fmt.Errorf("open set: at least one seed is required")
		}
		d.Hosts = append([]string(nil), args.Seeds...)
		d.ReplicaSet = args.Options.ReplicaSet
	default:
		return nil, fmt.Errorf("unknown method kind: %v", kind)
	}
	return d, nil
}

// Connect is the common body of Library.Open and Library.OpenSet: it derives
// the dial and routes it through the connection's driver.
func Connect(ctx context.Context, conn Conn, kind MethodKind, args Args) error {
	return Dispatch(args.Done, func() error {
		dial, err := DialFor(kind, args)
		if err != nil {
			return err
		}
		return conn.Driver().InternalConnect(ctx, conn, dial)
	})
}
