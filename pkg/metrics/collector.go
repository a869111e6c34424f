package metrics

import (
	"sync"
	"time"

	"github.com/cuemby/epctools/pkg/dnscache"
	"github.com/cuemby/epctools/pkg/evthread"
	"github.com/cuemby/epctools/pkg/refreshcoord"
	"github.com/cuemby/epctools/pkg/shmem"
	"github.com/cuemby/epctools/pkg/teid"
	"github.com/cuemby/epctools/pkg/timerpool"
)

// namedQueue is the subset of mqueue.Queue/mqueue.PublicQueue a Collector
// needs, so both queue flavors can be registered interchangeably.
type namedQueue interface {
	ID() string
	Len() int
	DroppedCount() uint64
}

// Collector polls the toolkit's core subsystems on a ticker and publishes
// their state into the package's Prometheus gauges/counters. Grounded on
// the teacher's pkg/metrics.Collector, which polls a single *manager.Manager
// on a ticker; here the subsystems are independent, so the collector holds
// a registry of each kind instead of one aggregate root.
type Collector struct {
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu           sync.Mutex
	queues       map[string]namedQueue
	threads      map[string]*evthread.EventThread
	timerPool    *timerpool.Pool
	dnsCaches    map[string]*dnscache.Cache
	refreshers   map[string]*dnscache.Refresher
	teidManagers map[string]*teid.Manager
	shmemPool    *shmem.PrimitivePool
	coordinator  *refreshcoord.Coordinator

	// lastDropped/lastFired/lastRefreshed track cumulative counters last
	// observed, so repeated polls emit only the delta into CounterVecs
	// (Prometheus counters only ever go up via Add, never Set).
	lastDropped    map[string]uint64
	lastDispatched map[string]uint64
	lastFired      uint64
	lastRefreshed  map[string]int64
	lastHits       map[string]int64
	lastMisses     map[string]int64
	lastAllocs     map[string]uint64
	lastWraps      map[string]uint64
}

// NewCollector creates a Collector that polls every interval.
func NewCollector(interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		interval:      interval,
		stopCh:        make(chan struct{}),
		queues:        make(map[string]namedQueue),
		threads:       make(map[string]*evthread.EventThread),
		dnsCaches:     make(map[string]*dnscache.Cache),
		refreshers:    make(map[string]*dnscache.Refresher),
		teidManagers:  make(map[string]*teid.Manager),
		lastDropped:    make(map[string]uint64),
		lastDispatched: make(map[string]uint64),
		lastRefreshed:  make(map[string]int64),
		lastHits:       make(map[string]int64),
		lastMisses:     make(map[string]int64),
		lastAllocs:     make(map[string]uint64),
		lastWraps:      make(map[string]uint64),
	}
}

// RegisterQueue adds a queue to be polled for depth and drop metrics.
func (c *Collector) RegisterQueue(q namedQueue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues[q.ID()] = q
}

// RegisterThread adds an event thread to be polled for dispatch metrics.
func (c *Collector) RegisterThread(t *evthread.EventThread) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads[t.ID()] = t
}

// RegisterTimerPool sets the timer pool polled for bucket/entry/fired
// metrics. There is normally exactly one per process.
func (c *Collector) RegisterTimerPool(p *timerpool.Pool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timerPool = p
}

// RegisterDNSCache adds a DNS cache, and its refresher if any, to be
// polled for hit/miss/size/refresh metrics.
func (c *Collector) RegisterDNSCache(label string, cache *dnscache.Cache, refresher *dnscache.Refresher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dnsCaches[label] = cache
	if refresher != nil {
		c.refreshers[label] = refresher
	}
}

// RegisterTEIDManager adds a TEID allocator to be polled for allocation
// and wraparound counts.
func (c *Collector) RegisterTEIDManager(m *teid.Manager) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teidManagers[m.Label()] = m
}

// RegisterShmemPool sets the shared-memory primitive pool polled for
// slot high-water-mark gauges.
func (c *Collector) RegisterShmemPool(p *shmem.PrimitivePool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shmemPool = p
}

// RegisterCoordinator sets the refresh-leadership coordinator polled for
// the is-leader gauge.
func (c *Collector) RegisterCoordinator(coord *refreshcoord.Coordinator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.coordinator = coord
}

// Start begins polling on a ticker, collecting once immediately.
func (c *Collector) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts polling and waits for the in-flight collection to finish.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) collect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.collectQueues()
	c.collectThreads()
	c.collectTimerPool()
	c.collectDNSCaches()
	c.collectTEIDManagers()
	c.collectShmemPool()
	c.collectCoordinator()
}

func (c *Collector) collectQueues() {
	for id, q := range c.queues {
		QueueDepth.WithLabelValues(id).Set(float64(q.Len()))

		dropped := q.DroppedCount()
		delta := dropped - c.lastDropped[id]
		if delta > 0 {
			QueueDroppedTotal.WithLabelValues(id).Add(float64(delta))
		}
		c.lastDropped[id] = dropped
	}
}

func (c *Collector) collectThreads() {
	for id, t := range c.threads {
		dispatched := t.DispatchedCount()
		if delta := dispatched - c.lastDispatched[id]; delta > 0 {
			ThreadDispatchedTotal.WithLabelValues(id).Add(float64(delta))
		}
		c.lastDispatched[id] = dispatched
	}
}

func (c *Collector) collectTimerPool() {
	if c.timerPool == nil {
		return
	}
	stats := c.timerPool.Stats()
	TimerPoolBuckets.Set(float64(stats.Buckets))
	TimerPoolEntries.Set(float64(stats.Entries))
	TimerPoolOSTimersFree.Set(float64(stats.OSTimersFree))

	delta := stats.Fired - c.lastFired
	if delta > 0 {
		TimerPoolFiredTotal.Add(float64(delta))
	}
	c.lastFired = stats.Fired
}

func (c *Collector) collectDNSCaches() {
	for label, cache := range c.dnsCaches {
		DNSCacheSize.WithLabelValues(label).Set(float64(cache.Size()))

		hits := cache.Hits()
		if delta := hits - c.lastHits[label]; delta > 0 {
			DNSCacheHitsTotal.WithLabelValues(label).Add(float64(delta))
		}
		c.lastHits[label] = hits

		misses := cache.Misses()
		if delta := misses - c.lastMisses[label]; delta > 0 {
			DNSCacheMissesTotal.WithLabelValues(label).Add(float64(delta))
		}
		c.lastMisses[label] = misses

		if refresher, ok := c.refreshers[label]; ok {
			refreshed := refresher.RefreshCount()
			delta := refreshed - c.lastRefreshed[label]
			if delta > 0 {
				DNSRefreshesTotal.WithLabelValues(label).Add(float64(delta))
			}
			c.lastRefreshed[label] = refreshed
		}
	}
}

func (c *Collector) collectTEIDManagers() {
	for label, m := range c.teidManagers {
		allocs := m.AllocCount()
		if delta := allocs - c.lastAllocs[label]; delta > 0 {
			TEIDAllocationsTotal.WithLabelValues(label).Add(float64(delta))
		}
		c.lastAllocs[label] = allocs

		wraps := m.WrapCount()
		if delta := wraps - c.lastWraps[label]; delta > 0 {
			TEIDWrapsTotal.WithLabelValues(label).Add(float64(delta))
		}
		c.lastWraps[label] = wraps
	}
}

func (c *Collector) collectShmemPool() {
	if c.shmemPool == nil {
		return
	}
	semaphores, mutexes := c.shmemPool.HighWaterMarks()
	ShmemSemSlotsInUse.Set(float64(semaphores))
	ShmemMutexSlotsInUse.Set(float64(mutexes))
}

func (c *Collector) collectCoordinator() {
	if c.coordinator == nil {
		return
	}
	if c.coordinator.IsLeader() {
		RefreshCoordIsLeader.Set(1)
	} else {
		RefreshCoordIsLeader.Set(0)
	}
}
