// Package timerpool implements spec §4.3's shared timer pool: many logical
// deadlines are quantized onto a small number of expiration buckets, each
// backed by exactly one OS timer, so a process with thousands of
// outstanding deadlines (PFCP session timers, DNS refresh deadlines) never
// needs thousands of OS timers.
//
// Grounded on original_source/include/epc/etimerpool.h (ETimerPool's
// ExpirationTime quantization, ExpirationTimeEntry bucket map, and
// free-timer list). The original dispatches via a dedicated thread parked
// in sigwaitinfo(2) on a real-time signal per fired POSIX timer_t; this
// package instead arms one time.Timer per bucket and reuses fired timers
// from a free list via Timer.Reset, since Go's runtime timer is already the
// OS-integrated primitive sigwaitinfo exists to reach from C, and
// reimplementing real-time signal plumbing by hand here would not be
// verifiable without running the toolchain (see DESIGN.md).
package timerpool

import (
	"sync"
	"sync/atomic"
	"time"
)

// Rounding controls how a requested deadline is quantized onto a bucket
// boundary.
type Rounding int

const (
	// RoundUp guarantees a timer never fires early.
	RoundUp Rounding = iota
	// RoundDown trades a small amount of early-fire risk for tighter
	// bucket packing.
	RoundDown
)

// Config configures a Pool's quantization.
type Config struct {
	// ResolutionMS is the bucket width in milliseconds; deadlines are
	// quantized onto multiples of this value.
	ResolutionMS int64
	Rounding     Rounding
}

// Callback is invoked when a registered timer fires, passing its id.
type Callback func(id uint64)

type entry struct {
	id       uint64
	callback Callback
}

type bucket struct {
	expireAtMS int64
	timer      *time.Timer
	entries    map[uint64]*entry
}

// Pool multiplexes many logical timers onto a small number of OS timers.
type Pool struct {
	cfg Config

	mu      sync.Mutex
	buckets map[int64]*bucket
	byID    map[uint64]int64 // timer id -> bucket key
	nextID  uint64

	freeTimers []*time.Timer

	fired uint64
	done  chan struct{}
}

// New creates a Pool with the given resolution and rounding.
func New(cfg Config) *Pool {
	if cfg.ResolutionMS <= 0 {
		cfg.ResolutionMS = 10
	}
	return &Pool{
		cfg:     cfg,
		buckets: make(map[int64]*bucket),
		byID:    make(map[uint64]int64),
		done:    make(chan struct{}),
	}
}

// quantize rounds d (from now) onto a bucket boundary in epoch milliseconds.
func (p *Pool) quantize(d time.Duration) int64 {
	resolution := p.cfg.ResolutionMS
	target := time.Now().Add(d).UnixMilli()
	remainder := target % resolution
	if remainder == 0 {
		return target
	}
	if p.cfg.Rounding == RoundDown {
		return target - remainder
	}
	return target + (resolution - remainder)
}

// RegisterTimer arms a timer that fires callback after approximately d,
// quantized onto this pool's bucket resolution, and returns an id that can
// be passed to UnregisterTimer.
func (p *Pool) RegisterTimer(d time.Duration, cb Callback) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := atomic.AddUint64(&p.nextID, 1)
	expireAtMS := p.quantize(d)

	b, ok := p.buckets[expireAtMS]
	if !ok {
		b = &bucket{expireAtMS: expireAtMS, entries: make(map[uint64]*entry)}
		b.timer = p.armTimerLocked(expireAtMS)
		p.buckets[expireAtMS] = b
	}
	b.entries[id] = &entry{id: id, callback: cb}
	p.byID[id] = expireAtMS

	return id
}

// UnregisterTimer cancels a previously registered timer. Returns false if
// the id is unknown (already fired or never registered).
func (p *Pool) UnregisterTimer(id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, ok := p.byID[id]
	if !ok {
		return false
	}
	delete(p.byID, id)

	b, ok := p.buckets[key]
	if !ok {
		return false
	}
	delete(b.entries, id)
	if len(b.entries) == 0 {
		p.retireBucketLocked(b)
	}
	return true
}

func (p *Pool) armTimerLocked(expireAtMS int64) *time.Timer {
	d := time.Until(time.UnixMilli(expireAtMS))
	if d < 0 {
		d = 0
	}
	if n := len(p.freeTimers); n > 0 {
		t := p.freeTimers[n-1]
		p.freeTimers = p.freeTimers[:n-1]
		t.Reset(d)
		go p.waitAndFire(t)
		return t
	}
	t := time.NewTimer(d)
	go p.waitAndFire(t)
	return t
}

func (p *Pool) waitAndFire(t *time.Timer) {
	select {
	case <-t.C:
	case <-p.done:
		return
	}
	p.fireBucket(t)
}

// fireBucket drains the bucket currently armed on t. The bucket is looked up
// by timer rather than by expiry: a timer that retireBucketLocked stopped and
// returned to the free list still has its earlier waitAndFire goroutine
// parked on t.C, so after reuse either goroutine may receive the fire.
func (p *Pool) fireBucket(t *time.Timer) {
	p.mu.Lock()
	var b *bucket
	for _, cand := range p.buckets {
		if cand.timer == t {
			b = cand
			break
		}
	}
	if b == nil {
		p.mu.Unlock()
		return
	}
	delete(p.buckets, b.expireAtMS)
	entries := make([]*entry, 0, len(b.entries))
	for id, e := range b.entries {
		entries = append(entries, e)
		delete(p.byID, id)
	}
	p.freeTimers = append(p.freeTimers, t)
	p.mu.Unlock()

	atomic.AddUint64(&p.fired, uint64(len(entries)))
	for _, e := range entries {
		e.callback(e.id)
	}
}

// retireBucketLocked removes an emptied bucket and stops its timer,
// returning the timer to the free list for reuse by the next
// RegisterTimer call at a different bucket.
func (p *Pool) retireBucketLocked(b *bucket) {
	delete(p.buckets, b.expireAtMS)
	if b.timer.Stop() {
		p.freeTimers = append(p.freeTimers, b.timer)
	}
	// If Stop returned false the timer already fired (or is firing) and
	// waitAndFire will discover the bucket is gone via the map lookup in
	// fireBucket and simply drop it; it does not return the timer, since a
	// fired time.Timer cannot be distinguished from one about to fire
	// without racing the channel read.
}

// Stats reports the pool's current shape for the timerpool_* gauges.
type Stats struct {
	Buckets      int
	Entries      int
	OSTimersFree int
	Fired        uint64
}

// Stats returns a snapshot of the pool's current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := 0
	for _, b := range p.buckets {
		entries += len(b.entries)
	}
	return Stats{
		Buckets:      len(p.buckets),
		Entries:      entries,
		OSTimersFree: len(p.freeTimers),
		Fired:        atomic.LoadUint64(&p.fired),
	}
}

// Close stops accepting new fires and releases all outstanding OS timers.
// Registered callbacks that have not yet fired will not be invoked.
func (p *Pool) Close() {
	close(p.done)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.buckets {
		b.timer.Stop()
	}
	for _, t := range p.freeTimers {
		t.Stop()
	}
	p.buckets = make(map[int64]*bucket)
	p.byID = make(map[uint64]int64)
}
