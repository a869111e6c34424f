package shmem

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cuemby/epctools/pkg/epcerr"
)

// headerSize is the fixed control header at the front of every region:
// magic(4) + refcount(4) + generation(4) + reserved(4).
const headerSize = 16

const regionMagic uint32 = 0x45504331 // "EPC1"

// Region is a named System V shared-memory segment with a small control
// header tracking attach refcount and generation. Generation is set to a new
// value only when the segment is (re)created; OpenPrimitivePool compares it
// with its ledger to tell a fresh segment from one surviving from a prior
// process (spec §9's public queue cold-start question).
type Region struct {
	id   int
	key  int
	size int
	data []byte
}

// OpenOrCreate attaches to the System V shared-memory segment identified by
// key, creating it with the given payload size (excluding the control
// header) if it does not already exist. created reports whether this call
// created the segment (as opposed to attaching to an existing one).
func OpenOrCreate(key int, payloadSize int) (r *Region, created bool, err error) {
	total := headerSize + payloadSize

	id, err := unix.SysvShmGet(key, total, unix.IPC_CREAT|unix.IPC_EXCL|0o600)
	if err == unix.EEXIST {
		id, err = unix.SysvShmGet(key, total, 0o600)
		created = false
	} else if err == nil {
		created = true
	}
	if err != nil {
		return nil, false, epcerr.New(epcerr.KindKernelPrimitive, "shmem.OpenOrCreate", err)
	}

	data, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, false, epcerr.New(epcerr.KindKernelPrimitive, "shmem.OpenOrCreate", err)
	}

	r = &Region{id: id, key: key, size: total, data: data}
	if created {
		atomic.StoreUint32(r.magicPtr(), regionMagic)
		atomic.StoreInt32(r.refcountPtr(), 0)
		// A clock-derived value, so a segment recreated after a previous
		// one was removed does not repeat the generation a ledger recorded.
		atomic.StoreUint32(r.generationPtr(), uint32(time.Now().UnixNano())|1)
	}
	return r, created, nil
}

// Payload returns the bytes of the segment following the control header.
func (r *Region) Payload() []byte {
	return r.data[headerSize:]
}

// Close detaches from the segment. It does not destroy it; other attached
// processes keep running against it.
func (r *Region) Close() error {
	if err := unix.SysvShmDetach(r.data); err != nil {
		return epcerr.New(epcerr.KindKernelPrimitive, "shmem.Close", err)
	}
	return nil
}

// Destroy marks the segment for removal once the last process detaches.
// Callers should only do this when Attach() has dropped to zero.
func (r *Region) Destroy() error {
	if _, err := unix.SysvShmCtl(r.id, unix.IPC_RMID, nil); err != nil {
		return epcerr.New(epcerr.KindKernelPrimitive, "shmem.Destroy", err)
	}
	return nil
}

func (r *Region) magicPtr() *uint32      { return (*uint32)(unsafe.Pointer(&r.data[0])) }
func (r *Region) refcountPtr() *int32    { return (*int32)(unsafe.Pointer(&r.data[4])) }
func (r *Region) generationPtr() *uint32 { return (*uint32)(unsafe.Pointer(&r.data[8])) }

// Attach increments the region's usage count and returns the new value.
func (r *Region) Attach() int32 { return atomic.AddInt32(r.refcountPtr(), 1) }

// Detach decrements the region's usage count and returns the new value.
func (r *Region) Detach() int32 { return atomic.AddInt32(r.refcountPtr(), -1) }

// UsageCount returns the current attach count.
func (r *Region) UsageCount() int32 { return atomic.LoadInt32(r.refcountPtr()) }

// Generation returns the segment's creation generation, set to a new value
// each time the segment is created from scratch (as opposed to attached to).
func (r *Region) Generation() uint32 { return atomic.LoadUint32(r.generationPtr()) }

// Valid reports whether the control header carries the expected magic,
// i.e. this key maps to a region this package created.
func (r *Region) Valid() bool { return atomic.LoadUint32(r.magicPtr()) == regionMagic }
