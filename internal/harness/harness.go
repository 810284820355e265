package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juzibot/wechaty/internal/bus"
	"github.com/juzibot/wechaty/internal/clock"
	"github.com/juzibot/wechaty/internal/converge"
	"github.com/juzibot/wechaty/internal/entity"
	"github.com/juzibot/wechaty/internal/payload"
	"github.com/juzibot/wechaty/internal/policy"
	"github.com/juzibot/wechaty/internal/puppet"
	"github.com/juzibot/wechaty/internal/reconcile"
	"github.com/juzibot/wechaty/internal/store"
	"github.com/juzibot/wechaty/internal/testutil"
)

// Epoch is the fake clock start for every run.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness holds the components of one scenario run.
type Harness struct {
	driver  *puppet.Memory
	pool    *entity.Pool
	orch    *reconcile.Orchestrator
	journal *traceJournal
	errs    *testutil.ErrorSink
	logger  *slog.Logger
}

type runConfig struct {
	dbPath string
	logger *slog.Logger
}

// Option configures Run.
type Option func(*runConfig)

// WithDatabase journals passes to path instead of an in-memory database.
func WithDatabase(path string) Option {
	return func(c *runConfig) { c.dbPath = path }
}

// WithLogger sets the logger passed to every component. Logs are
// discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) { c.logger = l }
}

// Run executes a scenario and evaluates its assertions. The returned error
// covers setup problems only; failed assertions are reported in the Result.
func Run(s *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{
		dbPath: ":memory:",
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := store.Open(cfg.dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer st.Close()

	h, err := newHarness(s, st, cfg.logger)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := h.seed(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to seed: %w", err)
	}
	for i, step := range s.Steps {
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	result := NewResult()
	for _, rec := range h.journal.Records() {
		result.AddPass(rec)
	}
	for _, err := range h.errs.Errors() {
		result.Reported = append(result.Reported, ReportedError{
			Code:    string(reconcile.CodeOf(err)),
			Message: err.Error(),
		})
	}

	actx := &AssertionContext{Ctx: ctx, Store: st, Pool: h.pool}
	for _, msg := range EvaluateAssertions(result, s.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(s *Scenario, st *store.Store, logger *slog.Logger) (*Harness, error) {
	clk := clock.NewFake(Epoch)
	driver := puppet.NewMemory()
	pool := entity.NewPool(driver,
		entity.WithRetryPolicy(converge.RetryPolicy{Attempts: 1, Clock: clk}),
		entity.WithPoolLogger(logger),
	)

	h := &Harness{
		driver:  driver,
		pool:    pool,
		journal: &traceJournal{next: st},
		errs:    &testutil.ErrorSink{},
		logger:  logger,
	}

	opts := []reconcile.Option{
		reconcile.WithClock(clk),
		reconcile.WithErrorReporter(h.errs.Report),
		reconcile.WithJournal(h.journal),
		reconcile.WithLogger(logger),
		reconcile.WithPassIDGenerator(&sequentialIDs{}),
	}
	if s.Policy != "" {
		p, err := policy.Load(s.Policy)
		if err != nil {
			return nil, fmt.Errorf("failed to load policy: %w", err)
		}
		opts = append(opts, reconcile.WithClassifier(p.Classifier()))
	}
	if s.Options.SyncGap > 0 {
		opts = append(opts, reconcile.WithSyncGap(s.Options.SyncGap))
	}
	if s.Options.SyncMaxRetry > 0 {
		opts = append(opts, reconcile.WithSyncMaxRetry(s.Options.SyncMaxRetry))
	}
	if s.Options.ResolveConcurrency > 0 {
		opts = append(opts, reconcile.WithResolveConcurrency(s.Options.ResolveConcurrency))
	}
	if s.Options.SerializePasses {
		opts = append(opts, reconcile.WithSerializedPasses())
	}

	h.orch = reconcile.New(pool, bus.New(), opts...)
	return h, nil
}

func (h *Harness) seed(ctx context.Context, s *Scenario) error {
	for i, p := range s.Backend {
		if err := h.put(p); err != nil {
			return fmt.Errorf("backend[%d]: %w", i, err)
		}
	}
	for i, p := range s.Seed {
		if err := h.put(p); err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		if _, err := h.pool.Load(ctx, p.Kind, p.ID); err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
	}
	return nil
}

func (h *Harness) put(p PayloadStep) error {
	snap, err := toSnapshot(p.Payload)
	if err != nil {
		return fmt.Errorf("%s %s payload: %w", p.Kind, p.ID, err)
	}
	h.driver.SetLagged(p.Kind, p.ID, snap, p.Lag)
	return nil
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	switch {
	case step.Set != nil:
		return h.put(*step.Set)

	case step.Delete != nil:
		h.driver.Delete(step.Delete.Kind, step.Delete.ID)

	case step.Fail != nil:
		var err error
		if step.Fail.Error != "" {
			err = errors.New(step.Fail.Error)
		}
		h.driver.Fail(step.Fail.Kind, step.Fail.ID, err)

	case step.Dirty != nil:
		h.orch.HandleDirty(ctx, puppet.DirtySignal{PayloadType: step.Dirty.Kind, PayloadID: step.Dirty.ID})

	case step.Tag != nil:
		h.orch.HandleTagEvent(ctx, puppet.TagEvent{
			Type:      step.Tag.Type,
			Kind:      step.Tag.Kind,
			IDs:       step.Tag.IDs,
			Timestamp: step.Tag.Timestamp,
		})
	}
	h.logger.Debug("step executed", "step", fmt.Sprintf("%+v", step))
	return nil
}

func toSnapshot(m map[string]any) (payload.Snapshot, error) {
	if m == nil {
		return payload.Snapshot{}, nil
	}
	v, err := payload.FromAny(m)
	if err != nil {
		return nil, err
	}
	return v.(payload.Object), nil
}

// traceJournal keeps every pass in memory and writes it through to the
// store.
type traceJournal struct {
	next reconcile.Journal

	mu      sync.Mutex
	records []store.PassRecord
}

func (j *traceJournal) RecordPass(ctx context.Context, rec store.PassRecord) error {
	j.mu.Lock()
	j.records = append(j.records, rec)
	j.mu.Unlock()
	return j.next.RecordPass(ctx, rec)
}

func (j *traceJournal) Records() []store.PassRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]store.PassRecord(nil), j.records...)
}

// sequentialIDs yields pass-1, pass-2, ...
type sequentialIDs struct {
	n atomic.Int64
}

func (g *sequentialIDs) Generate() string {
	return fmt.Sprintf("pass-%d", g.n.Add(1))
}
