// Package bus is a synchronous, in-process event emitter.
//
// Emit calls every listener registered for the event name, in registration
// order, on the caller's goroutine. There is no buffering and no delivery
// guarantee beyond that.
package bus

import "sync"

// Listener receives the arguments passed to Emit.
type Listener func(args ...any)

type subscription struct {
	id uint64
	fn Listener
}

// Bus holds listeners keyed by event name. The zero value is ready to use.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscription
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{}
}

// On registers fn for name and returns a function that removes it.
func (b *Bus) On(name string, fn Listener) (unsubscribe func()) {
	id := b.add(name, func(uint64) Listener { return fn })
	return b.remover(name, id)
}

// Once registers fn to run at most one time. The returned function removes
// it before it fires.
func (b *Bus) Once(name string, fn Listener) (unsubscribe func()) {
	id := b.add(name, func(id uint64) Listener {
		var once sync.Once
		return func(args ...any) {
			once.Do(func() {
				b.remove(name, id)
				fn(args...)
			})
		}
	})
	return b.remover(name, id)
}

// add stores the listener built for the next id. build runs under the lock,
// so the listener never observes an unassigned id.
func (b *Bus) add(name string, build func(id uint64) Listener) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[string][]subscription)
	}
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, fn: build(id)})
	return id
}

func (b *Bus) remover(name string, id uint64) func() {
	var once sync.Once
	return func() {
		once.Do(func() { b.remove(name, id) })
	}
}

func (b *Bus) remove(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[name]
	for i, s := range subs {
		if s.id == id {
			b.subs[name] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[name]) == 0 {
		delete(b.subs, name)
	}
}

// Emit delivers args to the listeners registered for name and reports
// whether there were any. The listener list is snapshotted before delivery,
// so listeners may subscribe or unsubscribe while running.
func (b *Bus) Emit(name string, args ...any) bool {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[name]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(args...)
	}
	return len(subs) > 0
}

// ListenerCount returns the number of listeners for name.
func (b *Bus) ListenerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}
