package reconcile

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juzibot/wechaty/internal/bus"
	"github.com/juzibot/wechaty/internal/entity"
	"github.com/juzibot/wechaty/internal/payload"
	"github.com/juzibot/wechaty/internal/puppet"
	"github.com/juzibot/wechaty/internal/testutil"
)

// peakGauge records the highest number of callers inside hold at once.
type peakGauge struct {
	active, peak atomic.Int32
}

func (g *peakGauge) hold() {
	n := g.active.Add(1)
	for {
		m := g.peak.Load()
		if n <= m || g.peak.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	g.active.Add(-1)
}

type gaugedRegistry struct {
	staticRegistry
	gauge *peakGauge
	finds atomic.Int32
}

func (r *gaugedRegistry) Find(ctx context.Context, kind payload.Kind, id string) (entity.Handle, error) {
	r.finds.Add(1)
	r.gauge.hold()
	return r.staticRegistry.Find(ctx, kind, id)
}

func tagHandles(reg staticRegistry, n int, refresh func()) []string {
	ids := make([]string, n)
	for i := range ids {
		id := fmt.Sprintf("t%d", i)
		ids[i] = id
		reg[id] = &nilPayloadHandle{
			id:      id,
			b:       bus.New(),
			snap:    payload.Snapshot{"name": payload.String("old")},
			next:    payload.Snapshot{"name": payload.String("new")},
			refresh: refresh,
		}
	}
	return ids
}

func TestResolveConcurrency_TagDelta(t *testing.T) {
	reg := &gaugedRegistry{staticRegistry: staticRegistry{}, gauge: &peakGauge{}}
	ids := tagHandles(reg.staticRegistry, 40, nil)

	tags := make(payload.List, len(ids))
	for i, id := range ids {
		tags[i] = payload.String(id)
	}
	reg.staticRegistry["c1"] = &nilPayloadHandle{
		id:   "c1",
		b:    bus.New(),
		snap: payload.Snapshot{"tags": payload.List{}},
		next: payload.Snapshot{"tags": tags},
	}

	global := bus.New()
	errs := &testutil.ErrorSink{}
	orch := New(reg, global, WithLogger(quietLogger()), WithErrorReporter(errs.Report), WithResolveConcurrency(3))
	rec := testutil.NewRecorder().Listen(global, GlobalEventName(payload.KindContact, EventTagAdd))

	orch.HandleDirty(context.Background(), puppet.DirtySignal{PayloadType: payload.KindContact, PayloadID: "c1"})

	require.Empty(t, errs.Errors())
	require.Len(t, rec.Events(), 1)
	assert.Len(t, handleIDs(t, rec.Events()[0].Args[1]), 40)
	assert.Equal(t, int32(41), reg.finds.Load(), "the contact plus every added tag")
	assert.LessOrEqual(t, reg.gauge.peak.Load(), int32(3))
	assert.GreaterOrEqual(t, reg.gauge.peak.Load(), int32(2))
}

func TestResolveConcurrency_TagEvent(t *testing.T) {
	reg := &gaugedRegistry{staticRegistry: staticRegistry{}, gauge: &peakGauge{}}
	ids := tagHandles(reg.staticRegistry, 40, nil)

	global := bus.New()
	orch := New(reg, global, WithLogger(quietLogger()), WithResolveConcurrency(4))
	rec := testutil.NewRecorder().Listen(global, EventTag)

	orch.HandleTagEvent(context.Background(), puppet.TagEvent{Type: puppet.TagEventCreate, Kind: payload.KindTag, IDs: ids})

	require.Len(t, rec.Events(), 1)
	assert.Len(t, handleIDs(t, rec.Events()[0].Args[1]), 40)
	assert.LessOrEqual(t, reg.gauge.peak.Load(), int32(4))
}

func TestResolveConcurrency_AwaitRenames(t *testing.T) {
	polls := &peakGauge{}
	reg := staticRegistry{}
	ids := tagHandles(reg, 40, polls.hold)

	global := bus.New()
	orch := New(reg, global, WithLogger(quietLogger()), WithResolveConcurrency(3))
	rec := testutil.NewRecorder().Listen(global, EventTag)

	orch.HandleTagEvent(context.Background(), puppet.TagEvent{Type: puppet.TagEventRename, Kind: payload.KindTag, IDs: ids})

	require.Len(t, rec.Events(), 1)
	for _, id := range ids {
		h := reg[id].(*nilPayloadHandle)
		assert.Equal(t, int32(1), h.refreshN.Load(), id)
		assert.Equal(t, "new", nameOf(h))
	}
	assert.LessOrEqual(t, polls.peak.Load(), int32(3))
	assert.GreaterOrEqual(t, polls.peak.Load(), int32(2))
}
