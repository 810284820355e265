// Package testutil holds shared test doubles: a bus event recorder, an error
// sink, and snapshot helpers.
package testutil

import (
	"sync"
	"testing"

	"github.com/juzibot/wechaty/internal/bus"
	"github.com/juzibot/wechaty/internal/payload"
)

// Event is one recorded emission.
type Event struct {
	Name string
	Args []any
}

// Recorder captures events from one or more buses in emission order.
//
// Thread-safety: safe for concurrent emitters.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Listen subscribes to names on b.
func (r *Recorder) Listen(b *bus.Bus, names ...string) *Recorder {
	for _, name := range names {
		b.On(name, func(args ...any) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, Event{Name: name, Args: args})
		})
	}
	return r
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns the recorded events called name.
func (r *Recorder) Named(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Names returns the recorded event names in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// ErrorSink collects reported errors. Report has the shape of an error
// reporter callback.
type ErrorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *ErrorSink) Report(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

// Errors returns a copy of the collected errors.
func (s *ErrorSink) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

// Snapshot parses a JSON object literal, failing the test on error.
func Snapshot(t testing.TB, js string) payload.Snapshot {
	t.Helper()
	s, err := payload.Parse([]byte(js))
	if err != nil {
		t.Fatalf("parse snapshot %s: %v", js, err)
	}
	return s
}
