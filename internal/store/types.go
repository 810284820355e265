package store

import (
	"time"

	"github.com/juzibot/wechaty/internal/payload"
)

// PassStatus is the outcome of a reconciliation pass.
type PassStatus string

const (
	StatusOK      PassStatus = "ok"
	StatusFailed  PassStatus = "failed"
	StatusSkipped PassStatus = "skipped"
)

// Bus names the event bus an event was emitted on.
type Bus string

const (
	BusGlobal Bus = "global"
	BusEntity Bus = "entity"
)

// PassRecord is one journaled reconciliation pass.
type PassRecord struct {
	ID       string
	Seq      int64
	Trigger  string
	Kind     payload.Kind
	EntityID string
	Status   PassStatus
	Error    string

	BeforeHash string
	AfterHash  string
	// ChangedKeys names the top-level keys the pass saw change. The old and
	// new values themselves are never journaled.
	ChangedKeys []string

	StartedAt time.Time
	Duration  time.Duration

	Events []EventRecord
}

// EventRecord is one event emitted during a pass. Args holds a JSON-safe
// description of the emitted arguments.
type EventRecord struct {
	Bus  Bus
	Name string
	Args payload.List
}

// Filter narrows ReadPasses. Zero fields match everything.
type Filter struct {
	Kind     payload.Kind
	EntityID string
	Status   PassStatus
	// Limit keeps only the most recent passes. Zero means no limit.
	Limit int
}
