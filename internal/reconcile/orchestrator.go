package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/juzibot/wechaty/internal/bus"
	"github.com/juzibot/wechaty/internal/classify"
	"github.com/juzibot/wechaty/internal/clock"
	"github.com/juzibot/wechaty/internal/diff"
	"github.com/juzibot/wechaty/internal/entity"
	"github.com/juzibot/wechaty/internal/payload"
	"github.com/juzibot/wechaty/internal/puppet"
	"github.com/juzibot/wechaty/internal/store"
)

const (
	// DefaultSyncGap is the wait between convergence polls.
	DefaultSyncGap = 500 * time.Millisecond

	// DefaultSyncMaxRetry is the number of convergence polls.
	DefaultSyncMaxRetry = 10

	// DefaultResolveConcurrency bounds concurrent sub-entity resolution.
	DefaultResolveConcurrency = 17

	// MemberSplitter joins room and member ids in room-member payload ids
	// (U+2005 FOUR-PER-EM SPACE). Such ids name one member, not a room.
	MemberSplitter = "\u2005"

	tracerName = "github.com/juzibot/wechaty/internal/reconcile"
)

// ErrorReporter receives every reconciliation failure. It must not block.
type ErrorReporter func(err error)

// Journal records finished passes.
type Journal interface {
	RecordPass(ctx context.Context, p store.PassRecord) error
}

// Orchestrator runs reconciliation passes.
type Orchestrator struct {
	registry   entity.Registry
	global     *bus.Bus
	classifier *classify.Classifier

	hmu      sync.RWMutex
	handlers map[payload.Kind]map[string]FieldHandler

	reporter ErrorReporter
	journal  Journal
	metrics  *Metrics
	logger   *slog.Logger
	tracer   trace.Tracer

	clock   clock.Clock
	seq     *clock.Seq
	passIDs PassIDGenerator

	syncGap            time.Duration
	syncMaxRetry       int
	resolveConcurrency int
	maxInFlight        int

	serialize bool
	locks     *keyedMutex

	queue *jobQueue
	done  chan struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClassifier replaces the default important-field table.
func WithClassifier(c *classify.Classifier) Option {
	return func(o *Orchestrator) { o.classifier = c }
}

// WithErrorReporter replaces the default reporter, which emits "error" on
// the global bus.
func WithErrorReporter(r ErrorReporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

// WithJournal records every pass.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithMetrics records pass, event and error counters.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer sets the tracer used for pass spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithClock sets the clock used for convergence waits and pass timing.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithSeq resumes pass numbering, typically from Store.LastSeq.
func WithSeq(s *clock.Seq) Option {
	return func(o *Orchestrator) { o.seq = s }
}

// WithPassIDGenerator sets how pass ids are generated.
func WithPassIDGenerator(g PassIDGenerator) Option {
	return func(o *Orchestrator) { o.passIDs = g }
}

// WithSyncGap sets the convergence poll interval.
func WithSyncGap(d time.Duration) Option {
	return func(o *Orchestrator) { o.syncGap = d }
}

// WithSyncMaxRetry sets the number of convergence polls.
func WithSyncMaxRetry(n int) Option {
	return func(o *Orchestrator) { o.syncMaxRetry = n }
}

// WithResolveConcurrency bounds concurrent resolution and convergence.
func WithResolveConcurrency(n int) Option {
	return func(o *Orchestrator) { o.resolveConcurrency = n }
}

// WithMaxInFlight bounds the passes Run executes at once. Zero or negative
// means unbounded.
func WithMaxInFlight(n int) Option {
	return func(o *Orchestrator) { o.maxInFlight = n }
}

// WithSerializedPasses makes passes for the same entity wait for each other.
// Without it, overlapping passes for one entity race on its payload.
func WithSerializedPasses() Option {
	return func(o *Orchestrator) { o.serialize = true }
}

// New returns an Orchestrator resolving entities through registry and
// emitting global events on global.
func New(registry entity.Registry, global *bus.Bus, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:           registry,
		global:             global,
		classifier:         classify.New(nil),
		handlers:           defaultHandlers(),
		logger:             slog.Default().With("component", "reconcile"),
		tracer:             otel.Tracer(tracerName),
		clock:              clock.Real(),
		seq:                clock.NewSeq(),
		passIDs:            UUIDv7Generator{},
		syncGap:            DefaultSyncGap,
		syncMaxRetry:       DefaultSyncMaxRetry,
		resolveConcurrency: DefaultResolveConcurrency,
		locks:              newKeyedMutex(),
		queue:              newJobQueue(),
		done:               make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.global == nil {
		o.global = bus.New()
	}
	if o.reporter == nil {
		o.reporter = func(err error) { o.global.Emit(EventError, err) }
	}
	if o.resolveConcurrency < 1 {
		o.resolveConcurrency = 1
	}
	return o
}

// Global returns the global event bus.
func (o *Orchestrator) Global() *bus.Bus {
	return o.global
}

// RegisterHandler sets the handler for an important field of kind,
// replacing any existing one. Whether a field is important is decided by
// the classifier, not by registration.
func (o *Orchestrator) RegisterHandler(kind payload.Kind, field string, h FieldHandler) {
	o.hmu.Lock()
	defer o.hmu.Unlock()
	if o.handlers[kind] == nil {
		o.handlers[kind] = make(map[string]FieldHandler)
	}
	o.handlers[kind][field] = h
}

func (o *Orchestrator) handler(kind payload.Kind, field string) FieldHandler {
	o.hmu.RLock()
	defer o.hmu.RUnlock()
	return o.handlers[kind][field]
}

// HandleDirty runs one pass for sig. It does not return errors; failures go
// to the error reporter.
func (o *Orchestrator) HandleDirty(ctx context.Context, sig puppet.DirtySignal) {
	p := o.newPass("dirty", sig.PayloadType, sig.PayloadID)

	ctx, span := o.tracer.Start(ctx, "reconcile.dirty", trace.WithAttributes(
		attribute.String("wechaty.kind", sig.PayloadType.String()),
		attribute.String("wechaty.id", sig.PayloadID),
		attribute.String("wechaty.pass_id", p.ID),
	))

	if o.serialize {
		unlock := o.locks.Lock(sig.String())
		defer unlock()
	}

	o.logger.Debug("pass started", "pass_id", p.ID, "kind", p.Kind, "id", p.EntityID)

	err := o.guard(func() error {
		if err := o.dispatchDirty(ctx, p); err != nil {
			return err
		}
		p.EmitGlobal(EventDirty, p.EntityID, p.Kind)
		return nil
	})
	if err != nil {
		p.fail(err)
	}
	o.finish(ctx, p, span)
}

// guard runs fn, turning a panic into an error.
func (o *Orchestrator) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Code: ErrCodePanic, Err: panicError(r)}
		}
	}()
	return fn()
}

func (o *Orchestrator) dispatchDirty(ctx context.Context, p *Pass) error {
	switch p.Kind {
	case payload.KindContact, payload.KindRoom:
		return o.reconcile(ctx, p)

	case payload.KindRoomMember:
		if strings.Contains(p.EntityID, MemberSplitter) {
			p.skip()
			return nil
		}
		return o.refreshOnly(ctx, p, payload.KindRoom, false)

	case payload.KindMessage:
		return o.refreshOnly(ctx, p, payload.KindMessage, true)

	case payload.KindFriendship, payload.KindTag, payload.KindTagGroup, payload.KindPost:
		p.skip()
		return nil

	default:
		o.logger.Warn("unknown payload type", "kind", p.Kind, "id", p.EntityID)
		p.skip()
		return nil
	}
}

// refreshOnly refreshes the entity without diffing. An entity that does not
// exist is not an error here.
func (o *Orchestrator) refreshOnly(ctx context.Context, p *Pass, kind payload.Kind, force bool) error {
	h, err := o.registry.Find(ctx, kind, p.EntityID)
	if errors.Is(err, entity.ErrNotFound) {
		o.logger.Debug("dirty entity not loaded", "kind", kind, "id", p.EntityID)
		p.skip()
		return nil
	}
	if err != nil {
		return p.wrap(ErrCodeResolutionFailed, "", err)
	}
	p.Entity = h
	if err := h.Refresh(ctx, force); err != nil {
		return p.wrap(ErrCodeRefreshFailed, "", err)
	}
	return nil
}

// reconcile is the full snapshot/refresh/diff/classify/dispatch pass.
func (o *Orchestrator) reconcile(ctx context.Context, p *Pass) error {
	h, err := o.registry.Find(ctx, p.Kind, p.EntityID)
	if err != nil {
		return p.wrap(ErrCodeResolutionFailed, "", err)
	}
	p.Entity = h

	p.Before = h.Payload().Clone()
	if err := h.Refresh(ctx, true); err != nil {
		return p.wrap(ErrCodeRefreshFailed, "", err)
	}
	p.After = h.Payload().Clone()

	if p.Before == nil {
		// First observation: nothing to compare against.
		o.logger.Debug("first observation, no diff", "kind", p.Kind, "id", p.EntityID)
		return nil
	}

	p.Differences = diff.Diff(p.Before, p.After)
	part := o.classifier.Classify(p.Kind, p.Differences)
	o.metrics.observeDifferences(p.Kind, len(part.Regular), len(part.Important))

	if len(part.Regular) > 0 {
		ev := UpdateEvent{Type: p.Kind, ID: p.EntityID, Updates: part.Regular}
		p.EmitGlobal(EventUpdate, ev)
		p.EmitEntity(EventUpdate, ev)
	}

	for _, d := range part.Important {
		o.dispatchField(ctx, p, d)
	}
	return nil
}

// dispatchField runs the handler for one important difference. Failures are
// reported and never stop the remaining fields.
func (o *Orchestrator) dispatchField(ctx context.Context, p *Pass, d diff.FieldDifference) {
	h := o.handler(p.Kind, d.Key)
	if h == nil {
		o.logger.Warn("no handler for important field", "kind", p.Kind, "field", d.Key, "id", p.EntityID)
		return
	}

	c := Change{
		Field:      d.Key,
		Difference: d,
		Old:        p.Before.Get(d.Key),
		New:        p.After.Get(d.Key),
	}
	if err := o.guard(func() error { return h(ctx, p, c) }); err != nil {
		p.Report(p.wrap(ErrCodeHandlerFailed, d.Key, err))
	}
}

// report logs err, counts it and hands it to the reporter. A reporter that
// panics is logged and otherwise ignored.
func (o *Orchestrator) report(err error) {
	o.metrics.observeError(CodeOf(err))
	o.logger.Error("reconcile error", "code", CodeOf(err), "error", err)

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("error reporter panicked", "panic", r)
		}
	}()
	o.reporter(err)
}
