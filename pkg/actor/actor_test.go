package actor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClockAdvanceFiresInDeadlineOrder(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))

	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	clock.AfterFunc(3*time.Second, record("c"))
	clock.AfterFunc(1*time.Second, record("a"))
	clock.AfterFunc(2*time.Second, record("b"))

	clock.Advance(5 * time.Second)

	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, clock.Pending())
	assert.Equal(t, time.Unix(5, 0), clock.Now())
}

func TestFakeClockCallbackMaySchedule(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))

	var fired int32
	clock.AfterFunc(time.Second, func() {
		// Rescheduled timer lands inside the advanced window and must
		// fire during the same Advance call.
		clock.AfterFunc(time.Second, func() {
			atomic.AddInt32(&fired, 1)
		})
	})

	clock.Advance(3 * time.Second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestFakeClockCancel(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))

	var fired bool
	cancel := clock.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, cancel())
	clock.Advance(2 * time.Second)
	assert.False(t, fired)
	assert.False(t, cancel())
}

func TestTimerResetSupersedes(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	timer := NewTimer(clock)

	var first, second int32
	timer.Reset(time.Second, func() { atomic.AddInt32(&first, 1) })
	timer.Reset(2*time.Second, func() { atomic.AddInt32(&second, 1) })

	clock.Advance(time.Second)
	assert.Equal(t, int32(0), atomic.LoadInt32(&first), "superseded callback must not fire")
	assert.Equal(t, int32(0), atomic.LoadInt32(&second))
	require.True(t, timer.Pending())

	clock.Advance(time.Second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&second))
	assert.False(t, timer.Pending())
}

func TestTimerStop(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	timer := NewTimer(clock)

	var fired int32
	timer.Reset(time.Second, func() { atomic.AddInt32(&fired, 1) })
	timer.Stop()

	clock.Advance(5 * time.Second)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
	assert.False(t, timer.Pending())
}

func TestTimerRearmFromCallback(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	timer := NewTimer(clock)

	var count int32
	var tick func()
	tick = func() {
		if atomic.AddInt32(&count, 1) < 3 {
			timer.Reset(time.Second, tick)
		}
	}
	timer.Reset(time.Second, tick)

	clock.Advance(10 * time.Second)
	assert.Equal(t, int32(3), atomic.LoadInt32(&count))
}

func TestGroupCreatesOnce(t *testing.T) {
	var created int32
	group := NewGroup(func(name string) *int {
		atomic.AddInt32(&created, 1)
		n := len(name)
		return &n
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			group.Get("task-1")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&created))
	assert.Equal(t, 1, group.Len())

	first := group.Get("task-1")
	second := group.Get("task-1")
	assert.Same(t, first, second)
}

func TestGroupLookupAndDelete(t *testing.T) {
	group := NewGroup(func(name string) string { return name })

	_, ok := group.Lookup("absent")
	assert.False(t, ok)

	group.Get("a")
	group.Get("b")
	require.ElementsMatch(t, []string{"a", "b"}, group.Names())

	group.Delete("a")
	_, ok = group.Lookup("a")
	assert.False(t, ok)
	assert.Equal(t, 1, group.Len())
}

func TestGroupRange(t *testing.T) {
	group := NewGroup(func(name string) string { return name })
	group.Get("a")
	group.Get("b")
	group.Get("c")

	seen := map[string]bool{}
	group.Range(func(name string, item string) bool {
		seen[name] = true
		return true
	})
	assert.Len(t, seen, 3)

	// Early exit stops iteration
	visits := 0
	group.Range(func(name string, item string) bool {
		visits++
		return false
	})
	assert.Equal(t, 1, visits)
}
