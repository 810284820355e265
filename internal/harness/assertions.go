package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/juzibot/wechaty/internal/diff"
	"github.com/juzibot/wechaty/internal/entity"
	"github.com/juzibot/wechaty/internal/payload"
	"github.com/juzibot/wechaty/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] pass %d %s:%s %s\n", i+1, ev.Pass, ev.Bus, ev.Name, payload.Canonical(ev.Args))
		}
	}
	return buf.String()
}

func busMatches(want, got string) bool {
	return want == "" || want == got
}

func busLabel(a Assertion) string {
	if a.Bus == "" {
		return a.Name
	}
	return a.Bus + ":" + a.Name
}

// assertEventEmitted checks for an event whose leading args match.
func assertEventEmitted(trace []TraceEvent, a Assertion) error {
	want, err := toList(a.Args)
	if err != nil {
		return fmt.Errorf("event_emitted %s: args: %w", a.Name, err)
	}
	for _, ev := range trace {
		if ev.Name == a.Name && busMatches(a.Bus, ev.Bus) && matchArgs(ev.Args, want) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertEventEmitted,
		Expected: fmt.Sprintf("event %s with args %s", busLabel(a), payload.Canonical(want)),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertEventOrder checks that the first occurrence of each name comes
// after the previous one. Other events may come in between.
func assertEventOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if !busMatches(a.Bus, ev.Bus) {
			continue
		}
		if _, seen := positions[ev.Name]; !seen {
			positions[ev.Name] = i + 1
		}
	}

	for _, name := range a.Names {
		if positions[name] == 0 {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("all events present: %v", a.Names),
				Actual:   fmt.Sprintf("missing event: %s", name),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Names); i++ {
		prev, curr := a.Names[i-1], a.Names[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Names),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertEventCount checks the exact number of events with a name.
func assertEventCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Name == a.Name && busMatches(a.Bus, ev.Bus) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, busLabel(a)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertErrorReported checks the exact number of reported errors with a
// code.
func assertErrorReported(reported []ReportedError, a Assertion) error {
	count := 0
	var messages []string
	for _, r := range reported {
		messages = append(messages, r.Message)
		if r.Code == a.Code {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertErrorReported,
			Expected: fmt.Sprintf("%d errors with code %s", a.Count, a.Code),
			Actual:   fmt.Sprintf("%d errors %q", count, messages),
		}
	}
	return nil
}

// assertFinalPayload checks fields of a pooled entity (subset match).
func assertFinalPayload(pool *entity.Pool, a Assertion) error {
	e, ok := pool.Cached(a.Kind, a.ID)
	if !ok {
		return &AssertionError{
			Type:     AssertFinalPayload,
			Expected: fmt.Sprintf("%s %s in the pool", a.Kind, a.ID),
			Actual:   "not cached",
		}
	}
	snap := e.Payload()
	for _, key := range sortedKeys(a.Expect) {
		want, err := payload.FromAny(a.Expect[key])
		if err != nil {
			return fmt.Errorf("final_payload %s: expect %q: %w", a.ID, key, err)
		}
		got := snap.Get(key)
		if got == nil || !diff.Equal(want, got) {
			return &AssertionError{
				Type:     AssertFinalPayload,
				Expected: fmt.Sprintf("%s %s field %q = %s", a.Kind, a.ID, key, payload.Canonical(want)),
				Actual:   fmt.Sprintf("field %q = %s", key, describeField(got)),
			}
		}
	}
	return nil
}

// assertPassCount checks how many journaled passes have a status.
func assertPassCount(ctx context.Context, st *store.Store, a Assertion) error {
	passes, err := st.ReadPasses(ctx, store.Filter{Status: store.PassStatus(a.Status)})
	if err != nil {
		return fmt.Errorf("pass_count: %w", err)
	}
	if len(passes) != a.Count {
		return &AssertionError{
			Type:     AssertPassCount,
			Expected: fmt.Sprintf("%d passes with status %s", a.Count, a.Status),
			Actual:   fmt.Sprintf("%d passes", len(passes)),
		}
	}
	return nil
}

func describeField(v payload.Value) string {
	if v == nil {
		return "(undefined)"
	}
	return payload.Canonical(v)
}

func sortedKeys(m map[string]any) []string {
	o := make(payload.Object, len(m))
	for k := range m {
		o[k] = nil
	}
	return o.SortedKeys()
}

func toList(args []any) (payload.List, error) {
	out := make(payload.List, len(args))
	for i, a := range args {
		v, err := payload.FromAny(a)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// matchArgs reports whether actual starts with expected. Objects match as
// subsets, at any depth, so an entity can be written as just {id}.
func matchArgs(actual, expected payload.List) bool {
	if len(expected) > len(actual) {
		return false
	}
	for i, want := range expected {
		if !valueMatches(actual[i], want) {
			return false
		}
	}
	return true
}

func valueMatches(actual, expected payload.Value) bool {
	switch want := expected.(type) {
	case payload.Object:
		got, ok := actual.(payload.Object)
		if !ok {
			return false
		}
		for k, w := range want {
			g, exists := got[k]
			if !exists || !valueMatches(g, w) {
				return false
			}
		}
		return true
	case payload.List:
		got, ok := actual.(payload.List)
		if !ok || len(got) != len(want) {
			return false
		}
		for i := range want {
			if !valueMatches(got[i], want[i]) {
				return false
			}
		}
		return true
	default:
		return diff.Equal(actual, expected)
	}
}

// AssertionContext provides the state that non-trace assertions inspect.
type AssertionContext struct {
	Ctx   context.Context
	Store *store.Store
	Pool  *entity.Pool
}

// EvaluateAssertions evaluates all assertions against the result and
// returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	trace := result.Events()

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertEventEmitted:
			err = assertEventEmitted(trace, a)
		case AssertEventOrder:
			err = assertEventOrder(trace, a)
		case AssertEventCount:
			err = assertEventCount(trace, a)
		case AssertErrorReported:
			err = assertErrorReported(result.Reported, a)
		case AssertFinalPayload:
			if actx == nil || actx.Pool == nil {
				err = fmt.Errorf("assertion[%d]: final_payload requires a pool", i)
			} else {
				err = assertFinalPayload(actx.Pool, a)
			}
		case AssertPassCount:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: pass_count requires a journal", i)
			} else {
				err = assertPassCount(actx.Ctx, actx.Store, a)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
