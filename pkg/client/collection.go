package client

import (
	"context"
	"errors"
	"fmt"
)

// Collection is a named data collection resolved by a connection.
type Collection interface {
	Name() string
}

// ManyDeleter deletes every document matching filter. A nil filter matches
// everything.
type ManyDeleter interface {
	DeleteMany(ctx context.Context, filter any) error
}

// Remover is the older generic removal operation.
type Remover interface {
	Remove(ctx context.Context, filter any) error
}

// ErrNoDeleteOperation is returned for collections that support neither
// DeleteMany nor Remove.
var ErrNoDeleteOperation = errors.New("collection supports neither DeleteMany nor Remove")

// DeleteAll empties c, preferring DeleteMany and falling back to Remove
func DeleteAll(ctx context.Context, c Collection) error {
	switch col := c.(type) {
	case ManyDeleter:
		return col.DeleteMany(ctx, nil)
	case Remover:
		return col.Remove(ctx, nil)
	default:
		return fmt.Errorf("collection %s: %w", c.Name(), ErrNoDeleteOperation)
	}
}
