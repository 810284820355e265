package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_AfterAdvancesAndRecords(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	got := <-f.After(500 * time.Millisecond)
	assert.Equal(t, start.Add(500*time.Millisecond), got)

	<-f.After(time.Second)
	assert.Equal(t, start.Add(1500*time.Millisecond), f.Now())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, f.Sleeps())
}

func TestFake_AdvanceNotRecorded(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	f.Advance(time.Minute)
	assert.Equal(t, time.Unix(60, 0), f.Now())
	assert.Empty(t, f.Sleeps())
}

func TestReal_AfterFires(t *testing.T) {
	c := Real()
	select {
	case <-c.After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("real clock did not fire")
	}
	assert.False(t, c.Now().IsZero())
}

func TestSeq_Monotonic(t *testing.T) {
	s := NewSeq()
	assert.Equal(t, int64(1), s.Next())
	assert.Equal(t, int64(2), s.Next())
	assert.Equal(t, int64(2), s.Current())

	r := NewSeqAt(41)
	assert.Equal(t, int64(42), r.Next())
}

func TestSeq_ConcurrentUnique(t *testing.T) {
	s := NewSeq()
	const n = 100
	seen := make(chan int64, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- s.Next()
		}()
	}
	wg.Wait()
	close(seen)

	unique := map[int64]bool{}
	for v := range seen {
		require.False(t, unique[v], "duplicate seq %d", v)
		unique[v] = true
	}
	assert.Len(t, unique, n)
}
