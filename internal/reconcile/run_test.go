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
	"github.com/juzibot/wechaty/internal/payload"
	"github.com/juzibot/wechaty/internal/puppet"
	"github.com/juzibot/wechaty/internal/testutil"
)

func TestRun_DrainsQueueAfterStop(t *testing.T) {
	f := newFixture(t)
	f.load(payload.KindContact, "c1", `{"name":"a"}`)
	f.set(payload.KindTag, "t1", `{"name":"vip"}`)
	rec := testutil.NewRecorder().Listen(f.global, EventDirty, EventTag)

	require.True(t, f.orch.EnqueueDirty(puppet.DirtySignal{PayloadType: payload.KindContact, PayloadID: "c1"}))
	require.True(t, f.orch.EnqueueTag(puppet.TagEvent{Type: puppet.TagEventCreate, Kind: payload.KindTag, IDs: []string{"t1"}}))
	f.orch.Stop()

	require.NoError(t, f.orch.Run(context.Background()))
	f.orch.Wait()

	assert.ElementsMatch(t, []string{EventDirty, EventTag}, rec.Names())
	assert.False(t, f.orch.EnqueueDirty(puppet.DirtySignal{PayloadType: payload.KindContact, PayloadID: "c1"}))
}

func TestRun_StopWhileRunningDrainsQueuedRename(t *testing.T) {
	f := newFixture(t)
	f.load(payload.KindContact, "c1", `{"name":"Alice"}`)
	f.set(payload.KindContact, "c1", `{"name":"Alicia"}`)
	rec := testutil.NewRecorder().Listen(f.global, "contact-name", EventDirty)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- f.orch.Run(ctx) }()

	require.True(t, f.orch.EnqueueDirty(puppet.DirtySignal{PayloadType: payload.KindContact, PayloadID: "c1"}))
	f.orch.Stop()

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Equal(t, []string{"contact-name", EventDirty}, rec.Names())
	assert.Empty(t, f.errs.Errors())
}

func TestRun_ContextCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_MaxInFlight(t *testing.T) {
	var active, maxActive atomic.Int32
	track := func() {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
	}
	reg := staticRegistry{}
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("c%d", i)
		reg[id] = &nilPayloadHandle{id: id, b: bus.New(), snap: payload.Snapshot{}, next: payload.Snapshot{}, refresh: track}
	}
	orch := New(reg, bus.New(), WithLogger(quietLogger()), WithMaxInFlight(2))
	for id := range reg {
		orch.EnqueueDirty(puppet.DirtySignal{PayloadType: payload.KindContact, PayloadID: id})
	}
	orch.Stop()

	require.NoError(t, orch.Run(context.Background()))
	assert.LessOrEqual(t, maxActive.Load(), int32(2))
	for _, h := range reg {
		assert.Equal(t, int32(1), h.(*nilPayloadHandle).refreshN.Load())
	}
}

func TestListen_FeedsRun(t *testing.T) {
	f := newFixture(t)
	f.load(payload.KindContact, "c1", `{"name":"a"}`)
	f.set(payload.KindContact, "c1", `{"name":"b"}`)
	rec := testutil.NewRecorder().Listen(f.global, "contact-name", EventDirty)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- f.orch.Run(ctx) }()
	go func() { _ = f.orch.Listen(ctx, f.driver) }()

	f.driver.MarkDirty(payload.KindContact, "c1")

	require.Eventually(t, func() bool {
		return len(rec.Named(EventDirty)) == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"contact-name", EventDirty}, rec.Names())

	cancel()
	assert.ErrorIs(t, <-runErr, context.Canceled)
}

func TestJobQueue(t *testing.T) {
	q := newJobQueue()
	_, ok := q.TryDequeue()
	assert.False(t, ok)

	a := puppet.DirtySignal{PayloadType: payload.KindContact, PayloadID: "a"}
	b := puppet.DirtySignal{PayloadType: payload.KindContact, PayloadID: "b"}
	require.True(t, q.Enqueue(Job{Dirty: &a}))
	require.True(t, q.Enqueue(Job{Dirty: &b}))
	assert.Equal(t, 2, q.Len())

	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a pending signal")
	}

	j, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "a", j.Dirty.PayloadID)

	q.Close()
	q.Close()
	assert.False(t, q.Enqueue(Job{Dirty: &a}))

	j, ok = q.TryDequeue()
	require.True(t, ok, "closing keeps queued jobs")
	assert.Equal(t, "b", j.Dirty.PayloadID)

	// A closed queue keeps waking waiters.
	<-q.Wait()
	<-q.Wait()
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock on a held key must block")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	<-acquired
	unlockB()
	require.Eventually(t, func() bool { return k.size() == 0 }, time.Second, time.Millisecond)
}
