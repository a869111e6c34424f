package esync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSemaphoreWaitPost(t *testing.T) {
	s := NewSemaphore(2, 0)
	assert.False(t, s.TryWait())

	s.Post()
	assert.True(t, s.TryWait())
	assert.False(t, s.TryWait())

	s.Post()
	s.Post()
	assert.Equal(t, 2, s.Count())
}

func TestSemaphoreWaitTimeout(t *testing.T) {
	s := NewSemaphore(1, 0)
	start := time.Now()
	ok := s.WaitTimeout(20 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	s.Post()
	ok = s.WaitTimeout(20 * time.Millisecond)
	assert.True(t, ok)
}

func TestRecursiveMutexReentrant(t *testing.T) {
	m := NewRecursiveMutex()
	owner := "thread-1"

	m.Lock(owner)
	m.Lock(owner) // re-entrant, must not deadlock
	m.Unlock(owner)
	m.Unlock(owner)
}

func TestRecursiveMutexExcludesOtherOwner(t *testing.T) {
	m := NewRecursiveMutex()
	m.Lock("a")

	acquired := make(chan struct{})
	go func() {
		m.Lock("b")
		close(acquired)
		m.Unlock("b")
	}()

	select {
	case <-acquired:
		t.Fatal("owner b should not have acquired the lock while a holds it")
	case <-time.After(30 * time.Millisecond):
	}

	m.Unlock("a")
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("owner b never acquired the lock after a released it")
	}
}

func TestEventSetWaitClear(t *testing.T) {
	e := NewEvent()
	assert.False(t, e.IsSet())
	assert.False(t, e.Wait(10*time.Millisecond))

	e.Set()
	assert.True(t, e.IsSet())
	assert.True(t, e.Wait(10*time.Millisecond))

	e.Clear()
	assert.False(t, e.IsSet())
	assert.False(t, e.Wait(10*time.Millisecond))
}

func TestEventWaitWakesConcurrentWaiter(t *testing.T) {
	e := NewEvent()
	done := make(chan struct{})
	go func() {
		e.Wait(time.Second)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	e.Set()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Set")
	}
}
