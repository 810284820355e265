package puppet

import (
	"context"
	"sync"

	"github.com/juzibot/wechaty/internal/payload"
)

type memoryKey struct {
	kind payload.Kind
	id   string
}

type memoryEntry struct {
	current payload.Snapshot
	// previous is served instead of current while stale > 0.
	previous payload.Snapshot
	stale    int
}

// Memory is an in-process Driver and Notifier. It can simulate a backend
// whose read path lags behind its writes.
type Memory struct {
	mu      sync.Mutex
	entries map[memoryKey]*memoryEntry
	reads   map[memoryKey]int
	errs    map[memoryKey]error
	signals chan DirtySignal
}

// NewMemory returns an empty Memory driver.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[memoryKey]*memoryEntry),
		reads:   make(map[memoryKey]int),
		errs:    make(map[memoryKey]error),
		signals: make(chan DirtySignal, 64),
	}
}

// Set stores snap as the payload for (kind, id).
func (m *Memory) Set(kind payload.Kind, id string, snap payload.Snapshot) {
	m.SetLagged(kind, id, snap, 0)
}

// SetLagged stores snap but keeps serving the previous payload for the next
// lag reads.
func (m *Memory) SetLagged(kind payload.Kind, id string, snap payload.Snapshot, lag int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey{kind, id}
	e, ok := m.entries[key]
	if !ok {
		e = &memoryEntry{}
		m.entries[key] = e
	}
	e.previous = e.current
	e.current = snap.Clone()
	e.stale = lag
}

// Delete removes the payload for (kind, id).
func (m *Memory) Delete(kind payload.Kind, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, memoryKey{kind, id})
}

// Fail makes reads of (kind, id) return err until cleared with a nil err.
func (m *Memory) Fail(kind payload.Kind, id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey{kind, id}
	if err == nil {
		delete(m.errs, key)
		return
	}
	m.errs[key] = err
}

// Reads returns how many times (kind, id) has been read.
func (m *Memory) Reads(kind payload.Kind, id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[memoryKey{kind, id}]
}

func (m *Memory) Payload(ctx context.Context, kind payload.Kind, id string) (payload.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{kind, id}
	m.reads[key]++
	if err := m.errs[key]; err != nil {
		return nil, err
	}
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if e.stale > 0 {
		e.stale--
		if e.previous == nil {
			return nil, ErrNotFound
		}
		return e.previous.Clone(), nil
	}
	return e.current.Clone(), nil
}

// MarkDirty queues a dirty signal for subscribers. It blocks when the
// signal buffer is full.
func (m *Memory) MarkDirty(kind payload.Kind, id string) {
	m.signals <- DirtySignal{PayloadType: kind, PayloadID: id}
}

// Subscribe returns the dirty signal stream. Memory has a single stream; the
// channel is closed once ctx is done.
func (m *Memory) Subscribe(ctx context.Context) (<-chan DirtySignal, error) {
	out := make(chan DirtySignal)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-m.signals:
				select {
				case out <- sig:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
