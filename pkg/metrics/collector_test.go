package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/epctools/pkg/dnscache"
	"github.com/cuemby/epctools/pkg/mqueue"
	"github.com/cuemby/epctools/pkg/teid"
	"github.com/cuemby/epctools/pkg/timerpool"
)

func TestCollectorPollsQueueDepthAndDrops(t *testing.T) {
	q := mqueue.NewPrivateQueue("test-queue-depth", 1, false, false)
	require.NoError(t, mustOpen(q))

	_, err := q.Push(mqueue.Message{ID: 10000}, false)
	require.NoError(t, err)
	ok, err := q.Push(mqueue.Message{ID: 10001}, false) // dropped, queue full
	require.NoError(t, err)
	assert.False(t, ok)

	c := NewCollector(0)
	c.RegisterQueue(q)
	c.collect()

	assert.InDelta(t, 1, testutil.ToFloat64(QueueDepth.WithLabelValues("test-queue-depth")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(QueueDroppedTotal.WithLabelValues("test-queue-depth")), 0.001)
}

func TestCollectorPollsTimerPool(t *testing.T) {
	pool := timerpool.New(timerpool.Config{ResolutionMS: 10})
	defer pool.Close()
	pool.RegisterTimer(0, func(uint64) {})

	c := NewCollector(0)
	c.RegisterTimerPool(pool)
	c.collect()

	assert.InDelta(t, 1, testutil.ToFloat64(TimerPoolBuckets), 0.001)
}

func TestCollectorPollsTEIDManager(t *testing.T) {
	m, err := teid.New(1, 0)
	require.NoError(t, err)
	m.Alloc()
	m.Alloc()

	c := NewCollector(0)
	c.RegisterTEIDManager(m)
	c.collect()

	assert.InDelta(t, 2, testutil.ToFloat64(TEIDAllocationsTotal.WithLabelValues(m.Label())), 0.001)
}

func TestCollectorPollsDNSCache(t *testing.T) {
	cache := dnscache.New(dnscache.DefaultNamedServerID, nil)

	c := NewCollector(0)
	c.RegisterDNSCache("default-test", cache, nil)
	c.collect()

	assert.InDelta(t, 0, testutil.ToFloat64(DNSCacheSize.WithLabelValues("default-test")), 0.001)
}

func mustOpen(q *mqueue.Queue) error {
	if err := q.OpenWriter(); err != nil {
		return err
	}
	return q.OpenReader()
}
