package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/juzibot/wechaty/internal/diff"
	"github.com/juzibot/wechaty/internal/entity"
	"github.com/juzibot/wechaty/internal/payload"
	"github.com/juzibot/wechaty/internal/store"
)

// Pass is one reconciliation pass. Field handlers receive it to emit events,
// resolve related entities and report failures.
type Pass struct {
	ID       string
	Seq      int64
	Trigger  string
	Kind     payload.Kind
	EntityID string

	// Entity is nil until resolved, and stays nil for tag events.
	Entity entity.Handle

	Before      payload.Snapshot
	After       payload.Snapshot
	Differences []diff.FieldDifference

	o       *Orchestrator
	started time.Time

	mu      sync.Mutex
	status  store.PassStatus
	failure error
	errs    []error
	events  []store.EventRecord
}

func (o *Orchestrator) newPass(trigger string, kind payload.Kind, id string) *Pass {
	return &Pass{
		ID:       o.passIDs.Generate(),
		Seq:      o.seq.Next(),
		Trigger:  trigger,
		Kind:     kind,
		EntityID: id,
		o:        o,
		started:  o.clock.Now(),
		status:   store.StatusOK,
	}
}

// EmitGlobal emits name on the global bus.
func (p *Pass) EmitGlobal(name string, args ...any) {
	p.record(store.BusGlobal, name, args)
	p.o.global.Emit(name, args...)
}

// EmitEntity emits name on the pass entity's own bus. It does nothing when
// the pass has no entity.
func (p *Pass) EmitEntity(name string, args ...any) {
	if p.Entity == nil {
		return
	}
	p.record(store.BusEntity, name, args)
	p.Entity.Bus().Emit(name, args...)
}

func (p *Pass) record(b store.Bus, name string, args []any) {
	p.o.metrics.observeEvent(b, name)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, store.EventRecord{Bus: b, Name: name, Args: DescribeArgs(args)})
}

// Report sends a non-fatal failure to the error reporter. The pass goes on.
func (p *Pass) Report(err error) {
	if err == nil {
		return
	}
	err = p.wrap(ErrCodeHandlerFailed, "", err)
	p.mu.Lock()
	p.errs = append(p.errs, err)
	p.mu.Unlock()
	p.o.report(err)
}

// Resolve finds entities of kind for ids with bounded concurrency. Ids that
// fail to resolve are reported individually and left out; the order of the
// rest follows ids.
func (p *Pass) Resolve(ctx context.Context, kind payload.Kind, ids []string, field string) []entity.Handle {
	found, errs := p.o.resolveAll(ctx, kind, ids)
	for i, err := range errs {
		if err != nil {
			p.Report(&Error{Code: ErrCodeSubResolutionFailed, Kind: kind, EntityID: ids[i], Field: field, PassID: p.ID, Err: err})
		}
	}
	out := make([]entity.Handle, 0, len(found))
	for _, h := range found {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

// ResolveOne finds a single entity. An empty id resolves to nil without
// error; a failed lookup is reported and also gives nil.
func (p *Pass) ResolveOne(ctx context.Context, kind payload.Kind, id, field string) entity.Handle {
	if id == "" {
		return nil
	}
	found := p.Resolve(ctx, kind, []string{id}, field)
	if len(found) == 0 {
		return nil
	}
	return found[0]
}

// wrap returns err as an *Error carrying this pass's identity. An *Error
// already in the chain is completed and returned as is.
func (p *Pass) wrap(code ErrorCode, field string, err error) error {
	var re *Error
	if errors.As(err, &re) {
		if re.Kind == payload.KindUnspecified && re.EntityID == "" {
			re.Kind = p.Kind
			re.EntityID = p.EntityID
		}
		if re.Field == "" {
			re.Field = field
		}
		if re.PassID == "" {
			re.PassID = p.ID
		}
		return err
	}
	return &Error{Code: code, Kind: p.Kind, EntityID: p.EntityID, Field: field, PassID: p.ID, Err: err}
}

// fail aborts the pass with err and reports it.
func (p *Pass) fail(err error) {
	err = p.wrap(ErrCodeHandlerFailed, "", err)
	p.mu.Lock()
	p.status = store.StatusFailed
	p.failure = err
	p.errs = append(p.errs, err)
	p.mu.Unlock()
	p.o.report(err)
}

func (p *Pass) skip() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = store.StatusSkipped
}

// Status returns the pass outcome so far.
func (p *Pass) Status() store.PassStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Events returns a copy of the events emitted so far.
func (p *Pass) Events() []store.EventRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]store.EventRecord(nil), p.events...)
}

// Record returns the journal form of the pass.
func (p *Pass) Record(duration time.Duration) store.PassRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := store.PassRecord{
		ID:          p.ID,
		Seq:         p.Seq,
		Trigger:     p.Trigger,
		Kind:        p.Kind,
		EntityID:    p.EntityID,
		Status:      p.status,
		ChangedKeys: changedKeys(p.Differences),
		StartedAt:   p.started,
		Duration:    duration,
		Events:      append([]store.EventRecord(nil), p.events...),
	}
	if len(p.errs) > 0 {
		msgs := make([]string, len(p.errs))
		for i, err := range p.errs {
			msgs[i] = err.Error()
		}
		rec.Error = strings.Join(msgs, "; ")
	}
	rec.BeforeHash, _ = payload.Fingerprint(p.Before)
	rec.AfterHash, _ = payload.Fingerprint(p.After)
	return rec
}

// finish closes the span, counts the pass and journals it.
func (o *Orchestrator) finish(ctx context.Context, p *Pass, span trace.Span) {
	duration := o.clock.Now().Sub(p.started)
	rec := p.Record(duration)

	span.SetAttributes(
		attribute.String("wechaty.status", string(rec.Status)),
		attribute.Int("wechaty.differences", len(rec.ChangedKeys)),
		attribute.Int("wechaty.events", len(rec.Events)),
	)
	if p.failure != nil {
		span.RecordError(p.failure)
		span.SetStatus(codes.Error, p.failure.Error())
	}
	span.End()

	o.metrics.observePass(p.Kind, rec.Status, duration)

	if o.journal != nil {
		if err := o.journal.RecordPass(context.WithoutCancel(ctx), rec); err != nil {
			o.logger.Error("journal write failed", "pass_id", p.ID, "error", err)
		}
	}

	o.logger.Debug("pass finished",
		"pass_id", p.ID,
		"seq", p.Seq,
		"kind", p.Kind,
		"id", p.EntityID,
		"status", rec.Status,
		"differences", len(rec.ChangedKeys),
		"events", len(rec.Events),
	)
}

// changedKeys keeps only the keys of diffs; difference values stay with the
// pass and are never journaled.
func changedKeys(diffs []diff.FieldDifference) []string {
	keys := make([]string, len(diffs))
	for i, d := range diffs {
		keys[i] = d.Key
	}
	return keys
}
