package mqueue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/epctools/pkg/epcerr"
	"github.com/cuemby/epctools/pkg/esync"
)

// Queue is a fixed-capacity FIFO ring of Messages. It implements the
// two-semaphore push/pop algorithm from spec §4.1: a "free" semaphore
// gates writers on available slots, a "filled" semaphore gates readers on
// available messages, and a mutex protects the head/tail indices whenever
// more than one writer or reader may be active concurrently.
//
// A Queue must be opened for reading and/or writing before Push/Pop will
// succeed; this mirrors EQueueBase::Mode (original_source/eqbase.h) and
// lets a misconfigured attach (a second reader on a single-reader queue)
// fail at attach time rather than silently corrupt ordering.
type Queue struct {
	id       string
	capacity int

	mu   sync.Mutex
	ring []Message
	head int
	tail int

	free   *esync.Semaphore
	filled *esync.Semaphore

	allowMultipleReaders bool
	allowMultipleWriters bool

	readers int32
	writers int32

	dropped uint64
}

// NewPrivateQueue creates a heap-backed queue of the given capacity,
// visible to any goroutine in this process — the Go analogue of
// EQueuePrivate.
func NewPrivateQueue(id string, capacity int, allowMultipleReaders, allowMultipleWriters bool) *Queue {
	return &Queue{
		id:                   id,
		capacity:             capacity,
		ring:                 make([]Message, capacity),
		free:                 esync.NewSemaphore(capacity, capacity),
		filled:               esync.NewSemaphore(capacity, 0),
		allowMultipleReaders: allowMultipleReaders,
		allowMultipleWriters: allowMultipleWriters,
	}
}

// ID returns the queue's identifier, used for log and metric labels.
func (q *Queue) ID() string { return q.id }

// Capacity returns the maximum number of messages the queue holds.
func (q *Queue) Capacity() int { return q.capacity }

// Len returns the approximate number of queued messages.
func (q *Queue) Len() int { return q.filled.Count() }

// DroppedCount returns the number of messages dropped by non-blocking
// pushes against a full queue (spec §9 Open Question: dropped-message
// visibility), for the queue_dropped_total metric.
func (q *Queue) DroppedCount() uint64 { return atomic.LoadUint64(&q.dropped) }

// OpenReader attaches a reader to the queue, failing if the queue already
// has a reader and does not allow multiple readers.
func (q *Queue) OpenReader() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.readers > 0 && !q.allowMultipleReaders {
		return epcerr.New(epcerr.KindProtocolMisuse, "mqueue.OpenReader", epcerr.ErrMultipleReadersNotAllowed)
	}
	q.readers++
	return nil
}

// CloseReader detaches a reader from the queue.
func (q *Queue) CloseReader() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.readers > 0 {
		q.readers--
	}
}

// OpenWriter attaches a writer to the queue, failing if the queue already
// has a writer and does not allow multiple writers.
func (q *Queue) OpenWriter() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.writers > 0 && !q.allowMultipleWriters {
		return epcerr.New(epcerr.KindProtocolMisuse, "mqueue.OpenWriter", epcerr.ErrMultipleWritersNotAllowed)
	}
	q.writers++
	return nil
}

// CloseWriter detaches a writer from the queue.
func (q *Queue) CloseWriter() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.writers > 0 {
		q.writers--
	}
}

// Push enqueues msg, stamping its QueuedAt. If wait is true, Push blocks
// until space is available; otherwise it returns immediately with ok=false
// (and increments DroppedCount) if the queue is full.
func (q *Queue) Push(msg Message, wait bool) (ok bool, err error) {
	q.mu.Lock()
	writers := q.writers
	q.mu.Unlock()
	if writers == 0 {
		return false, epcerr.New(epcerr.KindProtocolMisuse, "mqueue.Push", epcerr.ErrNotOpenForWriting)
	}

	if wait {
		q.free.Wait()
	} else if !q.free.TryWait() {
		atomic.AddUint64(&q.dropped, 1)
		return false, nil
	}

	msg.QueuedAt = time.Now()

	q.mu.Lock()
	q.ring[q.tail] = msg
	q.tail = (q.tail + 1) % q.capacity
	q.mu.Unlock()

	q.filled.Post()
	return true, nil
}

// Pop dequeues the next message. If wait is true, Pop blocks until a
// message is available; otherwise it returns immediately with ok=false if
// the queue is empty.
func (q *Queue) Pop(wait bool) (msg Message, ok bool, err error) {
	q.mu.Lock()
	readers := q.readers
	q.mu.Unlock()
	if readers == 0 {
		return Message{}, false, epcerr.New(epcerr.KindProtocolMisuse, "mqueue.Pop", epcerr.ErrNotOpenForReading)
	}

	if wait {
		q.filled.Wait()
	} else if !q.filled.TryWait() {
		return Message{}, false, nil
	}

	q.mu.Lock()
	msg = q.ring[q.head]
	q.head = (q.head + 1) % q.capacity
	q.mu.Unlock()

	q.free.Post()
	return msg, true, nil
}

// PopTimeout dequeues the next message, waiting at most d for one to
// become available.
func (q *Queue) PopTimeout(d time.Duration) (msg Message, ok bool, err error) {
	q.mu.Lock()
	readers := q.readers
	q.mu.Unlock()
	if readers == 0 {
		return Message{}, false, epcerr.New(epcerr.KindProtocolMisuse, "mqueue.PopTimeout", epcerr.ErrNotOpenForReading)
	}

	if !q.filled.WaitTimeout(d) {
		return Message{}, false, nil
	}

	q.mu.Lock()
	msg = q.ring[q.head]
	q.head = (q.head + 1) % q.capacity
	q.mu.Unlock()

	q.free.Post()
	return msg, true, nil
}
