package reconcile

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/juzibot/wechaty/internal/bus"
	"github.com/juzibot/wechaty/internal/clock"
	"github.com/juzibot/wechaty/internal/converge"
	"github.com/juzibot/wechaty/internal/entity"
	"github.com/juzibot/wechaty/internal/payload"
	"github.com/juzibot/wechaty/internal/puppet"
	"github.com/juzibot/wechaty/internal/testutil"
)

type fixture struct {
	t      *testing.T
	driver *puppet.Memory
	pool   *entity.Pool
	global *bus.Bus
	clock  *clock.Fake
	errs   *testutil.ErrorSink
	orch   *Orchestrator
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	fc := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	driver := puppet.NewMemory()
	pool := entity.NewPool(driver,
		entity.WithRetryPolicy(converge.RetryPolicy{Attempts: 1, Clock: fc}),
		entity.WithPoolLogger(quietLogger()),
	)
	f := &fixture{
		t:      t,
		driver: driver,
		pool:   pool,
		global: bus.New(),
		clock:  fc,
		errs:   &testutil.ErrorSink{},
	}
	base := []Option{
		WithClock(fc),
		WithErrorReporter(f.errs.Report),
		WithLogger(quietLogger()),
	}
	f.orch = New(pool, f.global, append(base, opts...)...)
	return f
}

func (f *fixture) set(kind payload.Kind, id, js string) {
	f.driver.Set(kind, id, testutil.Snapshot(f.t, js))
}

// load seeds the driver and pulls the entity into the pool so the next
// dirty pass has a "before" snapshot.
func (f *fixture) load(kind payload.Kind, id, js string) *entity.Entity {
	f.t.Helper()
	f.set(kind, id, js)
	e, err := f.pool.Load(context.Background(), kind, id)
	require.NoError(f.t, err)
	return e
}

func (f *fixture) dirty(kind payload.Kind, id string) {
	f.orch.HandleDirty(context.Background(), puppet.DirtySignal{PayloadType: kind, PayloadID: id})
}

func handleIDs(t *testing.T, arg any) []string {
	t.Helper()
	hs, ok := arg.([]entity.Handle)
	require.True(t, ok, "expected []entity.Handle, got %T", arg)
	ids := make([]string, len(hs))
	for i, h := range hs {
		ids[i] = h.ID()
	}
	return ids
}
