package timerpool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterTimerFires(t *testing.T) {
	p := New(Config{ResolutionMS: 10, Rounding: RoundUp})
	defer p.Close()

	fired := make(chan uint64, 1)
	id := p.RegisterTimer(20*time.Millisecond, func(id uint64) { fired <- id })

	select {
	case got := <-fired:
		assert.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestUnregisterTimerPreventsFire(t *testing.T) {
	p := New(Config{ResolutionMS: 10, Rounding: RoundUp})
	defer p.Close()

	var fired int32
	id := p.RegisterTimer(30*time.Millisecond, func(id uint64) { atomic.AddInt32(&fired, 1) })
	assert.True(t, p.UnregisterTimer(id))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))

	assert.False(t, p.UnregisterTimer(id))
}

func TestCoalescesMultipleEntriesIntoOneBucket(t *testing.T) {
	p := New(Config{ResolutionMS: 50, Rounding: RoundUp})
	defer p.Close()

	var fired int32
	for i := 0; i < 5; i++ {
		p.RegisterTimer(5*time.Millisecond, func(id uint64) { atomic.AddInt32(&fired, 1) })
	}

	stats := p.Stats()
	assert.Equal(t, 1, stats.Buckets)
	assert.Equal(t, 5, stats.Entries)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&fired) == 5 }, time.Second, 5*time.Millisecond)
}

func TestFreeTimerReusedAfterFire(t *testing.T) {
	p := New(Config{ResolutionMS: 5, Rounding: RoundUp})
	defer p.Close()

	done := make(chan struct{})
	p.RegisterTimer(10*time.Millisecond, func(id uint64) { close(done) })
	<-done

	require.Eventually(t, func() bool { return p.Stats().OSTimersFree >= 1 }, time.Second, 5*time.Millisecond)

	before := p.Stats().OSTimersFree
	done2 := make(chan struct{})
	p.RegisterTimer(10*time.Millisecond, func(id uint64) { close(done2) })
	<-done2
	_ = before
}
