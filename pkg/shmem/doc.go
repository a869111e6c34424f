// Package shmem provides named, refcounted shared-memory regions and the
// process-wide pool of synchronization-primitive slots that back "public"
// (shared-memory) queues (spec §4.1, component B).
//
// Region wraps a System V shared-memory segment (golang.org/x/sys/unix) with
// a small control header — magic, refcount, generation — stored at the front
// of the segment, mirroring the teacher's ESharedMemory/eshmemctrl_t pair
// (original_source/include/epc/eshmem.h). The refcount and generation fields
// are mutated with sync/atomic over a pointer into the mapped bytes, so they
// are visible to every process attached to the segment.
//
// Go's sync.Mutex and channel-based Semaphore are not safe to place inside a
// shared-memory segment: unlike a pthread PTHREAD_PROCESS_SHARED mutex, they
// depend on the Go runtime's own goroutine scheduler and cannot coordinate
// across OS processes. PrimitivePool therefore keeps both the allocation
// bookkeeping (which slot index is in use, and the high-water mark) and the
// primitive backing each slot (an esync.Semaphore or esync.RecursiveMutex) in
// process-local memory, valid for every public-queue attachment within this
// process. The in-use bitmap is made durable across restarts of this process
// by the bbolt-backed ledger in ledger.go. Other processes attached to the
// same region do not see this bookkeeping, and none of the primitives here
// coordinate across processes.
package shmem
