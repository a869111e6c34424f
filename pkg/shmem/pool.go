package shmem

import (
	"fmt"
	"sync"

	"github.com/cuemby/epctools/pkg/epcerr"
	"github.com/cuemby/epctools/pkg/esync"
)

// PrimitivePool is the process-wide allocator of synchronization-primitive
// slots backing public queues: a fixed number of semaphore slots and a
// fixed number of mutex slots, each handed out by index so a public queue's
// control block (stored in shared memory, see Region) can record which
// slots it owns and have any process reconstruct the same primitives from
// those indices. See doc.go for why the primitives themselves are
// process-local rather than truly shared.
type PrimitivePool struct {
	mu sync.Mutex

	sems    []*esync.Semaphore
	semUsed []bool
	semHigh int

	mutexes    []*esync.RecursiveMutex
	mutexUsed  []bool
	mutexHigh  int

	ledger *ledger
}

// NewPrimitivePool creates a pool with the given number of semaphore and
// mutex slots. ledgerPath, if non-empty, persists slot allocation state to a
// bbolt database so OpenPrimitivePool can recover it across restarts.
func NewPrimitivePool(numSemaphores, numMutexes int, ledgerPath string) (*PrimitivePool, error) {
	p := &PrimitivePool{
		sems:      make([]*esync.Semaphore, numSemaphores),
		semUsed:   make([]bool, numSemaphores),
		mutexes:   make([]*esync.RecursiveMutex, numMutexes),
		mutexUsed: make([]bool, numMutexes),
	}

	if ledgerPath != "" {
		l, recoveredSems, recoveredMutexes, err := openLedger(ledgerPath, numSemaphores, numMutexes)
		if err != nil {
			return nil, err
		}
		p.ledger = l
		copy(p.semUsed, recoveredSems)
		copy(p.mutexUsed, recoveredMutexes)
	}

	p.initPrimitives()
	return p, nil
}

// newPoolWithRecoveredState builds a pool whose slot-used bitmaps were
// already recovered from a ledger by OpenPrimitivePool.
func newPoolWithRecoveredState(semUsed, mutexUsed []bool, l *ledger) *PrimitivePool {
	p := &PrimitivePool{
		sems:      make([]*esync.Semaphore, len(semUsed)),
		semUsed:   semUsed,
		mutexes:   make([]*esync.RecursiveMutex, len(mutexUsed)),
		mutexUsed: mutexUsed,
		ledger:    l,
	}
	for i, used := range semUsed {
		if used && i+1 > p.semHigh {
			p.semHigh = i + 1
		}
	}
	for i, used := range mutexUsed {
		if used && i+1 > p.mutexHigh {
			p.mutexHigh = i + 1
		}
	}
	p.initPrimitives()
	return p
}

func (p *PrimitivePool) initPrimitives() {
	for i := range p.sems {
		p.sems[i] = esync.NewSemaphore(1<<30, 0)
	}
	for i := range p.mutexes {
		p.mutexes[i] = esync.NewRecursiveMutex()
	}
}

// Close releases the pool's ledger handle, if any.
func (p *PrimitivePool) Close() error {
	if p.ledger != nil {
		return p.ledger.close()
	}
	return nil
}

// AllocSemaphore reserves and returns the index of a free semaphore slot.
func (p *PrimitivePool) AllocSemaphore() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, used := range p.semUsed {
		if !used {
			p.semUsed[i] = true
			if i+1 > p.semHigh {
				p.semHigh = i + 1
			}
			if p.ledger != nil {
				if err := p.ledger.markSemaphore(i, true); err != nil {
					return 0, err
				}
			}
			return i, nil
		}
	}
	return 0, epcerr.New(epcerr.KindResourceExhaustion, "shmem.AllocSemaphore", fmt.Errorf("no free semaphore slots (of %d)", len(p.semUsed)))
}

// FreeSemaphore releases a previously allocated semaphore slot.
func (p *PrimitivePool) FreeSemaphore(index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.semUsed) {
		return epcerr.New(epcerr.KindProtocolMisuse, "shmem.FreeSemaphore", fmt.Errorf("index %d out of range", index))
	}
	p.semUsed[index] = false
	if p.ledger != nil {
		return p.ledger.markSemaphore(index, false)
	}
	return nil
}

// Semaphore returns the primitive backing a previously allocated slot.
func (p *PrimitivePool) Semaphore(index int) *esync.Semaphore { return p.sems[index] }

// AllocMutex reserves and returns the index of a free mutex slot.
func (p *PrimitivePool) AllocMutex() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, used := range p.mutexUsed {
		if !used {
			p.mutexUsed[i] = true
			if i+1 > p.mutexHigh {
				p.mutexHigh = i + 1
			}
			if p.ledger != nil {
				if err := p.ledger.markMutex(i, true); err != nil {
					return 0, err
				}
			}
			return i, nil
		}
	}
	return 0, epcerr.New(epcerr.KindResourceExhaustion, "shmem.AllocMutex", fmt.Errorf("no free mutex slots (of %d)", len(p.mutexUsed)))
}

// FreeMutex releases a previously allocated mutex slot.
func (p *PrimitivePool) FreeMutex(index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.mutexUsed) {
		return epcerr.New(epcerr.KindProtocolMisuse, "shmem.FreeMutex", fmt.Errorf("index %d out of range", index))
	}
	p.mutexUsed[index] = false
	if p.ledger != nil {
		return p.ledger.markMutex(index, false)
	}
	return nil
}

// Mutex returns the primitive backing a previously allocated slot.
func (p *PrimitivePool) Mutex(index int) *esync.RecursiveMutex { return p.mutexes[index] }

// HighWaterMarks returns the largest number of semaphore and mutex slots
// ever simultaneously in use, for the shmem_*_slots_in_use gauges.
func (p *PrimitivePool) HighWaterMarks() (semaphores, mutexes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.semHigh, p.mutexHigh
}

// InUse returns the current number of allocated semaphore and mutex slots.
func (p *PrimitivePool) InUse() (semaphores, mutexes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.semUsed {
		if u {
			semaphores++
		}
	}
	for _, u := range p.mutexUsed {
		if u {
			mutexes++
		}
	}
	return semaphores, mutexes
}
