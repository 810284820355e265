package harness

import (
	"github.com/juzibot/wechaty/internal/payload"
	"github.com/juzibot/wechaty/internal/store"
)

// TraceEvent is one emitted event with its arguments in described form.
type TraceEvent struct {
	Pass int64        `json:"pass"`
	Bus  string       `json:"bus"`
	Name string       `json:"name"`
	Args payload.List `json:"args"`
}

// PassTrace is one journaled pass.
type PassTrace struct {
	Seq         int64        `json:"seq"`
	Trigger     string       `json:"trigger"`
	Kind        string       `json:"kind"`
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	Error       string       `json:"error,omitempty"`
	Differences []string     `json:"differences"`
	Events      []TraceEvent `json:"events"`
}

// ReportedError is one error handed to the error reporter.
type ReportedError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	Passes   []PassTrace     `json:"passes"`
	Reported []ReportedError `json:"reported"`

	// Errors holds assertion failures.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Passes:   []PassTrace{},
		Reported: []ReportedError{},
		Errors:   []string{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddPass appends a journaled pass to the trace.
func (r *Result) AddPass(rec store.PassRecord) {
	pt := PassTrace{
		Seq:         rec.Seq,
		Trigger:     rec.Trigger,
		Kind:        rec.Kind.String(),
		ID:          rec.EntityID,
		Status:      string(rec.Status),
		Error:       rec.Error,
		Differences: append([]string{}, rec.ChangedKeys...),
		Events:      make([]TraceEvent, len(rec.Events)),
	}
	for i, ev := range rec.Events {
		pt.Events[i] = TraceEvent{Pass: rec.Seq, Bus: string(ev.Bus), Name: ev.Name, Args: ev.Args}
	}
	r.Passes = append(r.Passes, pt)
}

// Events returns every traced event in emission order.
func (r *Result) Events() []TraceEvent {
	var out []TraceEvent
	for _, p := range r.Passes {
		out = append(out, p.Events...)
	}
	return out
}
