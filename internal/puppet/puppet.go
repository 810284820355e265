// Package puppet is the boundary to the backend driver: payload reads and
// the dirty signals the driver emits when a cached payload may be stale.
package puppet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/juzibot/wechaty/internal/payload"
)

// ErrNotFound is returned by a Driver that holds no payload for an id.
var ErrNotFound = errors.New("payload not found")

// Driver reads the current payload of an entity from the backend.
type Driver interface {
	Payload(ctx context.Context, kind payload.Kind, id string) (payload.Snapshot, error)
}

// Notifier delivers dirty signals until ctx is done, then closes the channel.
type Notifier interface {
	Subscribe(ctx context.Context) (<-chan DirtySignal, error)
}

// DirtySignal reports that the cached payload for one entity may be stale.
type DirtySignal struct {
	PayloadType payload.Kind `json:"payloadType" yaml:"payloadType"`
	PayloadID   string       `json:"payloadId" yaml:"payloadId"`
}

func (s DirtySignal) String() string {
	return fmt.Sprintf("%s:%s", s.PayloadType, s.PayloadID)
}

// DecodeDirty parses a JSON dirty signal. The payload type may be given by
// name or by number.
func DecodeDirty(data []byte) (DirtySignal, error) {
	var sig DirtySignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return DirtySignal{}, fmt.Errorf("decode dirty signal: %w", err)
	}
	if sig.PayloadID == "" {
		return DirtySignal{}, errors.New("decode dirty signal: missing payloadId")
	}
	return sig, nil
}

// TagEventType is the change carried by a TagEvent.
type TagEventType string

const (
	TagEventCreate TagEventType = "create"
	TagEventDelete TagEventType = "delete"
	TagEventRename TagEventType = "rename"
)

// TagEvent reports created, deleted or renamed tags or tag groups.
// Kind is payload.KindTag or payload.KindTagGroup.
type TagEvent struct {
	Type      TagEventType `json:"type" yaml:"type"`
	Kind      payload.Kind `json:"kind" yaml:"kind"`
	IDs       []string     `json:"ids" yaml:"ids"`
	Timestamp time.Time    `json:"timestamp" yaml:"timestamp"`
}
