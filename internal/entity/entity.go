// Package entity holds the live entity instances (contacts, rooms, tags and
// so on) that reconciliation operates on, and the pool that caches them by
// kind and id.
package entity

import (
	"context"
	"errors"

	"github.com/juzibot/wechaty/internal/bus"
	"github.com/juzibot/wechaty/internal/payload"
)

// ErrNotFound is returned when no entity exists for a kind and id.
var ErrNotFound = errors.New("entity not found")

// Handle is a live entity instance.
type Handle interface {
	ID() string
	Kind() payload.Kind
	// Payload returns the currently cached snapshot, or nil if the entity
	// has never been loaded.
	Payload() payload.Snapshot
	// Refresh re-reads the payload from the driver. Without force a cached
	// payload is kept.
	Refresh(ctx context.Context, force bool) error
	// Bus is the entity's own event bus.
	Bus() *bus.Bus
}

// Registry resolves entity instances.
type Registry interface {
	Find(ctx context.Context, kind payload.Kind, id string) (Handle, error)
}
