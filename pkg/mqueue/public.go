package mqueue

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/cuemby/epctools/pkg/epcerr"
	"github.com/cuemby/epctools/pkg/esync"
	"github.com/cuemby/epctools/pkg/shmem"
)

// wireMsgSize is the on-the-wire size of a Message inside a public queue's
// shared-memory ring: a 4-byte ID, an 8-byte Payload, and an 8-byte Unix
// nanosecond timestamp. time.Time itself is never written to shared
// memory — it carries a monotonic-clock reading and a *Location pointer,
// neither of which is meaningful across process boundaries.
const wireMsgSize = 4 + 8 + 8

// ctrlSize is the size of the queue control block at the front of a public
// queue's region payload: head(4) tail(4) capacity(4) flags(4), mirroring
// esharedqueue_ctrl_t (original_source/eqpub.h) minus the semaphore/mutex
// ids; a PublicQueue holds its free/filled semaphores as process-local
// esync.Semaphore fields instead.
const ctrlSize = 16

// PublicQueue is a Queue backed by a shmem.Region instead of the heap, so
// its control block (head/tail/capacity) is visible to every process
// attached to the region. See pkg/shmem's doc comment for why the
// free/filled semaphores guarding it remain process-local.
type PublicQueue struct {
	id       string
	region   *shmem.Region
	capacity int

	free   *esync.Semaphore
	filled *esync.Semaphore

	allowMultipleReaders bool
	allowMultipleWriters bool

	readers int32
	writers int32

	dropped uint64
}

// NewPublicQueue creates a public queue of the given capacity inside a
// freshly-created or existing shmem.Region keyed by queueKey. created
// reports whether this call created the backing region.
func NewPublicQueue(id string, queueKey int, capacity int, allowMultipleReaders, allowMultipleWriters bool) (q *PublicQueue, created bool, err error) {
	size := ctrlSize + capacity*wireMsgSize
	region, created, err := shmem.OpenOrCreate(queueKey, size)
	if err != nil {
		return nil, false, err
	}

	q = &PublicQueue{
		id:                   id,
		region:               region,
		capacity:             capacity,
		free:                 esync.NewSemaphore(capacity, capacity),
		filled:               esync.NewSemaphore(capacity, 0),
		allowMultipleReaders: allowMultipleReaders,
		allowMultipleWriters: allowMultipleWriters,
	}
	if created {
		q.setHead(0)
		q.setTail(0)
		q.setCapacity(int32(capacity))
	} else {
		// An existing region may already hold messages from before this
		// process attached; seed the filled semaphore from its occupancy so
		// Pop can drain them without a protocol violation.
		occupied := q.occupancy()
		q.filled = esync.NewSemaphore(capacity, occupied)
		q.free = esync.NewSemaphore(capacity, capacity-occupied)
	}
	region.Attach()
	return q, created, nil
}

// Close detaches from the backing region without destroying it.
func (q *PublicQueue) Close() error {
	q.region.Detach()
	return q.region.Close()
}

// ID returns the queue's identifier.
func (q *PublicQueue) ID() string { return q.id }

// Capacity returns the maximum number of messages the queue holds.
func (q *PublicQueue) Capacity() int { return q.capacity }

// Len returns the approximate number of queued messages.
func (q *PublicQueue) Len() int { return q.filled.Count() }

// DroppedCount returns the number of messages dropped by non-blocking
// pushes against a full queue.
func (q *PublicQueue) DroppedCount() uint64 { return atomic.LoadUint64(&q.dropped) }

func (q *PublicQueue) ctrl() []byte { return q.region.Payload()[:ctrlSize] }
func (q *PublicQueue) ring() []byte { return q.region.Payload()[ctrlSize:] }

func (q *PublicQueue) headPtr() *int32 { return (*int32)(unsafe.Pointer(&q.ctrl()[0])) }
func (q *PublicQueue) tailPtr() *int32 { return (*int32)(unsafe.Pointer(&q.ctrl()[4])) }

func (q *PublicQueue) head() int32      { return atomic.LoadInt32(q.headPtr()) }
func (q *PublicQueue) setHead(v int32)  { atomic.StoreInt32(q.headPtr(), v) }
func (q *PublicQueue) tail() int32      { return atomic.LoadInt32(q.tailPtr()) }
func (q *PublicQueue) setTail(v int32)  { atomic.StoreInt32(q.tailPtr(), v) }
func (q *PublicQueue) setCapacity(v int32) {
	binary.LittleEndian.PutUint32(q.ctrl()[8:12], uint32(v))
}

// occupancy computes how many messages are currently between head and
// tail, used only when attaching to a pre-existing region.
func (q *PublicQueue) occupancy() int {
	h, t, cap := int(q.head()), int(q.tail()), q.capacity
	if cap == 0 {
		return 0
	}
	return ((t - h) + cap) % cap
}

// OpenReader attaches a reader, failing if the queue already has one and
// does not allow multiple readers.
func (q *PublicQueue) OpenReader() error {
	if !atomic.CompareAndSwapInt32(&q.readers, 0, 1) {
		if !q.allowMultipleReaders {
			return epcerr.New(epcerr.KindProtocolMisuse, "mqueue.PublicQueue.OpenReader", epcerr.ErrMultipleReadersNotAllowed)
		}
		atomic.AddInt32(&q.readers, 1)
	}
	return nil
}

// CloseReader detaches a reader.
func (q *PublicQueue) CloseReader() {
	if atomic.LoadInt32(&q.readers) > 0 {
		atomic.AddInt32(&q.readers, -1)
	}
}

// OpenWriter attaches a writer, failing if the queue already has one and
// does not allow multiple writers.
func (q *PublicQueue) OpenWriter() error {
	if !atomic.CompareAndSwapInt32(&q.writers, 0, 1) {
		if !q.allowMultipleWriters {
			return epcerr.New(epcerr.KindProtocolMisuse, "mqueue.PublicQueue.OpenWriter", epcerr.ErrMultipleWritersNotAllowed)
		}
		atomic.AddInt32(&q.writers, 1)
	}
	return nil
}

// CloseWriter detaches a writer.
func (q *PublicQueue) CloseWriter() {
	if atomic.LoadInt32(&q.writers) > 0 {
		atomic.AddInt32(&q.writers, -1)
	}
}

func (q *PublicQueue) encode(msg Message, dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(msg.ID))
	raw := msg.Payload.Bytes()
	copy(dst[4:12], raw[:])
	binary.LittleEndian.PutUint64(dst[12:20], uint64(msg.QueuedAt.UnixNano()))
}

func (q *PublicQueue) decode(src []byte) Message {
	var p Payload
	var raw [8]byte
	copy(raw[:], src[4:12])
	p.SetBytes(raw)
	return Message{
		ID:       int32(binary.LittleEndian.Uint32(src[0:4])),
		Payload:  p,
		QueuedAt: time.Unix(0, int64(binary.LittleEndian.Uint64(src[12:20]))),
	}
}

// Push enqueues msg into the shared ring, stamping its QueuedAt.
func (q *PublicQueue) Push(msg Message, wait bool) (ok bool, err error) {
	if atomic.LoadInt32(&q.writers) == 0 {
		return false, epcerr.New(epcerr.KindProtocolMisuse, "mqueue.PublicQueue.Push", epcerr.ErrNotOpenForWriting)
	}

	if wait {
		q.free.Wait()
	} else if !q.free.TryWait() {
		atomic.AddUint64(&q.dropped, 1)
		return false, nil
	}

	msg.QueuedAt = time.Now()

	t := q.tail()
	offset := int(t) * wireMsgSize
	q.encode(msg, q.ring()[offset:offset+wireMsgSize])
	q.setTail((t + 1) % int32(q.capacity))

	q.filled.Post()
	return true, nil
}

// Pop dequeues the next message from the shared ring.
func (q *PublicQueue) Pop(wait bool) (msg Message, ok bool, err error) {
	if atomic.LoadInt32(&q.readers) == 0 {
		return Message{}, false, epcerr.New(epcerr.KindProtocolMisuse, "mqueue.PublicQueue.Pop", epcerr.ErrNotOpenForReading)
	}

	if wait {
		q.filled.Wait()
	} else if !q.filled.TryWait() {
		return Message{}, false, nil
	}

	h := q.head()
	offset := int(h) * wireMsgSize
	msg = q.decode(q.ring()[offset : offset+wireMsgSize])
	q.setHead((h + 1) % int32(q.capacity))

	q.free.Post()
	return msg, true, nil
}

func (q *PublicQueue) String() string {
	return fmt.Sprintf("PublicQueue{id=%s, cap=%d, len=%d}", q.id, q.capacity, q.Len())
}
