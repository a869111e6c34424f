package evthread

import (
	"sync"
	"time"

	"github.com/cuemby/epctools/pkg/log"
	"github.com/cuemby/epctools/pkg/mqueue"
)

// popPollInterval bounds how long a worker blocks on an empty inbox before
// rechecking the stop channel, so Stop returns promptly without every
// worker needing its own wakeup message.
const popPollInterval = 200 * time.Millisecond

// WorkGroup fans a single shared inbox out across a pool of worker
// goroutines, each dispatching through the same handler — spec §4.2's
// multi-reader queue variant used for CPU-bound fan-out work (e.g. PFCP
// header parsing across many sessions) rather than one dedicated thread
// per logical unit of work.
type WorkGroup struct {
	id      string
	inbox   *mqueue.Queue
	handler Handler

	mu      sync.Mutex
	workers int
	min     int
	max     int
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewWorkGroup creates a work group with the given shared-inbox capacity
// and worker bounds. min workers start running immediately when Start is
// called; AddWorker can grow the pool up to max.
func NewWorkGroup(id string, inboxCapacity, min, max int, handler Handler) *WorkGroup {
	return &WorkGroup{
		id:      id,
		inbox:   mqueue.NewPrivateQueue(id, inboxCapacity, true, true),
		handler: handler,
		min:     min,
		max:     max,
		stop:    make(chan struct{}),
	}
}

// ID returns the work group's identifier.
func (g *WorkGroup) ID() string { return g.id }

// Inbox returns the group's shared inbox queue.
func (g *WorkGroup) Inbox() *mqueue.Queue { return g.inbox }

// Send enqueues msg on the shared inbox for whichever worker pops it next.
func (g *WorkGroup) Send(msg mqueue.Message, wait bool) (bool, error) {
	return g.inbox.Push(msg, wait)
}

// Start launches min worker goroutines.
func (g *WorkGroup) Start() error {
	if err := g.inbox.OpenWriter(); err != nil {
		return err
	}
	for i := 0; i < g.min; i++ {
		g.addWorkerLocked()
	}
	return nil
}

// AddWorker grows the pool by one worker, up to max. Returns false if the
// pool is already at its maximum.
func (g *WorkGroup) AddWorker() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.workers >= g.max {
		return false
	}
	g.addWorkerLocked()
	return true
}

func (g *WorkGroup) addWorkerLocked() {
	if err := g.inbox.OpenReader(); err != nil {
		log.WithThread(g.id).Error().Err(err).Msg("failed to attach work-group worker")
		return
	}
	g.workers++
	g.wg.Add(1)
	go g.worker()
}

// WorkerCount returns the current number of running workers.
func (g *WorkGroup) WorkerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.workers
}

// Stop signals all workers to exit after draining in-flight pops and waits
// for them to finish.
func (g *WorkGroup) Stop() {
	close(g.stop)
	g.wg.Wait()
}

func (g *WorkGroup) worker() {
	defer g.wg.Done()
	logger := log.WithThread(g.id)
	for {
		select {
		case <-g.stop:
			return
		default:
		}

		msg, ok, err := g.inbox.PopTimeout(popPollInterval)
		if err != nil {
			logger.Error().Err(err).Msg("work-group inbox pop failed")
			continue
		}
		if !ok {
			continue
		}
		if err := g.handler(msg); err != nil {
			logger.Error().Err(err).Msg("work-group handler returned error")
		}
	}
}
