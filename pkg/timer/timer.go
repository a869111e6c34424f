// Package timer binds a single logical deadline to an evthread.EventThread:
// when it expires, a mqueue.MsgTimer message carrying the timer's id is
// delivered to the owning thread's inbox, the same way any other event
// arrives (spec §4.2/§4.3's "pre-built TIMER message" pattern).
//
// Grounded on original_source/include/epc/etbasic.h (EThreadBasic's
// init_timer/start_timer/stop_timer surface) layered on pkg/timerpool for
// the actual OS-timer multiplexing.
package timer

import (
	"sync"
	"time"

	"github.com/cuemby/epctools/pkg/evthread"
	"github.com/cuemby/epctools/pkg/mqueue"
	"github.com/cuemby/epctools/pkg/timerpool"
)

// Timer is a single logical deadline bound to one EventThread.
type Timer struct {
	pool   *timerpool.Pool
	thread *evthread.EventThread

	mu       sync.Mutex
	periodic bool
	interval time.Duration

	id     uint64
	active bool
}

// New creates a Timer bound to thread and backed by pool. The timer does
// not run until Start is called.
func New(pool *timerpool.Pool, thread *evthread.EventThread) *Timer {
	return &Timer{pool: pool, thread: thread}
}

// Start arms the timer to fire once after d.
func (t *Timer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disarmLocked()
	t.periodic = false
	t.interval = d
	t.armLocked(d)
}

// StartPeriodic arms the timer to fire every d until Stop is called.
func (t *Timer) StartPeriodic(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disarmLocked()
	t.periodic = true
	t.interval = d
	t.armLocked(d)
}

func (t *Timer) armLocked(d time.Duration) {
	t.active = true
	t.id = t.pool.RegisterTimer(d, t.onExpire)
}

func (t *Timer) onExpire(id uint64) {
	var msg mqueue.Message
	msg.ID = mqueue.MsgTimer
	msg.Payload.SetUint64(id)
	// Non-blocking: if the inbox is full the expiry is dropped (and counted
	// by the inbox's DroppedCount), not retried.
	_, _ = t.thread.Send(msg, false)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.periodic && t.active {
		t.id = t.pool.RegisterTimer(t.interval, t.onExpire)
	}
}

// Stop disarms the timer. It is safe to call Stop on a timer that was
// never started or has already fired.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disarmLocked()
}

func (t *Timer) disarmLocked() {
	if t.active {
		t.pool.UnregisterTimer(t.id)
		t.active = false
	}
}

// ID returns the id of the timer's most recently armed registration, for
// matching against an incoming MsgTimer message's payload.
func (t *Timer) ID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}
