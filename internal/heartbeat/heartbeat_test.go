package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) CheckState() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestBeatChecksEveryTarget(t *testing.T) {
	r := New(nil)
	a, b := &counter{}, &counter{}
	r.Add("a", a)
	r.Add("b", b)

	r.Beat()
	r.Beat()

	assert.Equal(t, 2, a.count())
	assert.Equal(t, 2, b.count())
}

func TestPanickingTargetDoesNotStopOthers(t *testing.T) {
	r := New(nil)
	var failed []string
	r.OnError = func(name string, err error) {
		failed = append(failed, name)
		assert.ErrorContains(t, err, "boom")
	}
	before, after := &counter{}, &counter{}
	r.Add("a-before", before)
	r.Add("b-broken", TargetFunc(func() { panic("boom") }))
	r.Add("c-after", after)

	r.Beat()
	r.Beat()

	assert.Equal(t, []string{"b-broken", "b-broken"}, failed)
	assert.Equal(t, 2, before.count())
	assert.Equal(t, 2, after.count())
}

func TestAddRemove(t *testing.T) {
	r := New(nil)
	c := &counter{}
	r.Add("traffic-1", c)
	assert.Equal(t, 1, r.Len())

	r.Beat()
	r.Remove("traffic-1")
	r.Beat()

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 1, c.count())
}

func TestTargetMayRemoveItself(t *testing.T) {
	r := New(nil)
	calls := 0
	r.Add("once", TargetFunc(func() {
		calls++
		r.Remove("once")
	}))

	r.Beat()
	r.Beat()

	assert.Equal(t, 1, calls)
}

func TestOnTick(t *testing.T) {
	r := New(nil)
	var checked []int
	r.OnTick = func(n int) { checked = append(checked, n) }
	r.Beat()
	r.Add("a", &counter{})
	r.Beat()

	assert.Equal(t, []int{0, 1}, checked)
}

func TestRunStopsOnCancel(t *testing.T) {
	r := New(nil)
	c := &counter{}
	r.Add("a", c)

	tick := make(chan time.Time)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, tick)
		close(done)
	}()

	tick <- time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick <- time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.Equal(t, 2, c.count())
}

func TestRunStopsOnClosedTick(t *testing.T) {
	r := New(nil)
	tick := make(chan time.Time)
	close(tick)

	r.Run(context.Background(), tick)
}
