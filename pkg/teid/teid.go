// Package teid implements spec §4.6's range-partitioned, lock-free TEID
// (Tunnel Endpoint Identifier) allocator: a 32-bit id space is split into
// 2^range_bits partitions, and each Manager owns one partition, handing
// out successive values via an atomic fetch-add with wraparound.
//
// Grounded on original_source/include/epc/teidalloc.h's TeidAllocator,
// reimplemented with sync/atomic in place of a mutex-guarded counter - the
// original already documents the allocation as safe without a free list,
// which is exactly what Go's atomic.CompareAndSwap gives lock-free.
package teid

import (
	"fmt"
	"sync/atomic"

	"github.com/cuemby/epctools/pkg/epcerr"
)

// Manager allocates TEIDs from one partition of the 32-bit id space.
type Manager struct {
	rangeBits  uint
	rangeValue uint32
	min        uint32
	max        uint32
	next       uint32 // atomic
	allocs     uint64 // atomic
	wraps      uint64 // atomic
}

// New creates a Manager for the partition identified by rangeBits and
// rangeValue. rangeBits must be in [0,7]; rangeValue must be in
// [0, 2^rangeBits - 1].
func New(rangeBits uint, rangeValue uint32) (*Manager, error) {
	if rangeBits > 7 {
		return nil, epcerr.New(epcerr.KindProtocolMisuse, "teid.New", fmt.Errorf("%w: %d", epcerr.ErrInvalidRangeBits, rangeBits))
	}
	limit := uint32(1) << rangeBits
	if rangeValue >= limit {
		return nil, epcerr.New(epcerr.KindProtocolMisuse, "teid.New", fmt.Errorf("%w: %d (must be < %d)", epcerr.ErrInvalidRangeValue, rangeValue, limit))
	}

	shift := 32 - rangeBits
	min := rangeValue << shift
	if min == 0 {
		// Reserve TEID 0 (spec §4.6's "never zero" invariant - 0 is
		// conventionally "no tunnel" in GTP-U).
		min = 1
	}
	max := min | ((uint32(1) << shift) - 1)

	return &Manager{
		rangeBits:  rangeBits,
		rangeValue: rangeValue,
		min:        min,
		max:        max,
		next:       min,
	}, nil
}

// Range returns the inclusive [min, max] bounds this Manager allocates
// within.
func (m *Manager) Range() (min, max uint32) { return m.min, m.max }

// Label identifies this Manager's partition for metrics purposes
// (metrics.TEIDAllocationsTotal/TEIDWrapsTotal's "range" label).
func (m *Manager) Label() string { return fmt.Sprintf("%d/%d", m.rangeBits, m.rangeValue) }

// AllocCount returns the number of TEIDs handed out by Alloc so far.
func (m *Manager) AllocCount() uint64 { return atomic.LoadUint64(&m.allocs) }

// WrapCount returns the number of times Alloc has wrapped from max back
// to min.
func (m *Manager) WrapCount() uint64 { return atomic.LoadUint64(&m.wraps) }

// Alloc returns the next TEID in this Manager's partition, wrapping from
// max+1 back to min. Lock-free and linearizable: a fetch-add claims a
// slot, and a losing racer whose claim overflowed max compare-exchanges
// the counter back to min before retrying.
func (m *Manager) Alloc() uint32 {
	defer atomic.AddUint64(&m.allocs, 1)
	for {
		v := atomic.AddUint32(&m.next, 1) - 1
		// v >= min also catches the uint32 counter itself wrapping past
		// zero when max is 0xFFFFFFFF.
		if v >= m.min && v <= m.max {
			return v
		}
		// v overflowed; wrap the shared counter back to min. Only one
		// racer needs to succeed here - others will simply retry and see
		// the wrapped counter (or another racer's fresh claim).
		if atomic.CompareAndSwapUint32(&m.next, v+1, m.min+1) {
			atomic.AddUint64(&m.wraps, 1)
		}
		if v == m.max+1 {
			return m.min
		}
	}
}
