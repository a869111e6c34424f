// Package mqueue implements the bounded, FIFO message queue spec §4.1
// describes: a fixed-capacity ring of Messages shared between a single or
// multiple writer(s) and a single or multiple reader(s), backed either by
// the heap (NewPrivateQueue) or by a shmem.Region (NewPublicQueue).
//
// Grounded on original_source/include/epc/eqbase.h (EQueueBase, the
// push/pop contract and its Mode enum) and eqpub.h/eqpriv.h (the
// shared-memory vs heap split).
package mqueue

import "time"

// System message IDs below SystemMessageThreshold are reserved for the
// queue/thread runtime itself (spec §4.2); user-defined message IDs start
// at SystemMessageThreshold.
const (
	MsgInit           int32 = 1
	MsgQuit           int32 = 2
	MsgSuspend        int32 = 3
	MsgTimer          int32 = 4
	MsgSocketReadable int32 = 5
	MsgSocketWritable int32 = 6
	MsgSocketError    int32 = 7
	MsgSocketClosed   int32 = 8

	// SystemMessageThreshold is the first message ID available to callers.
	SystemMessageThreshold int32 = 10000
)

// Payload is the small inline union spec §4.1 describes: a message carries
// one of a handful of scalar shapes without heap-allocating, represented
// here as a fixed byte array with typed accessors rather than a literal C
// union, so it copies cleanly into a shmem.Region's shared bytes.
type Payload struct {
	raw [8]byte
}

func (p *Payload) SetPtr(v uintptr) { putUint64(&p.raw, uint64(v)) }
func (p Payload) Ptr() uintptr      { return uintptr(getUint64(&p.raw)) }

func (p *Payload) SetInt64(v int64) { putUint64(&p.raw, uint64(v)) }
func (p Payload) Int64() int64      { return int64(getUint64(&p.raw)) }

func (p *Payload) SetUint64(v uint64) { putUint64(&p.raw, v) }
func (p Payload) Uint64() uint64      { return getUint64(&p.raw) }

func (p *Payload) SetInt32Pair(a, b int32) {
	putUint32(p.raw[0:4], uint32(a))
	putUint32(p.raw[4:8], uint32(b))
}
func (p Payload) Int32Pair() (int32, int32) {
	return int32(getUint32(p.raw[0:4])), int32(getUint32(p.raw[4:8]))
}

func (p *Payload) SetInt16Quad(a, b, c, d int16) {
	putUint16(p.raw[0:2], uint16(a))
	putUint16(p.raw[2:4], uint16(b))
	putUint16(p.raw[4:6], uint16(c))
	putUint16(p.raw[6:8], uint16(d))
}
func (p Payload) Int16Quad() (int16, int16, int16, int16) {
	return int16(getUint16(p.raw[0:2])), int16(getUint16(p.raw[2:4])),
		int16(getUint16(p.raw[4:6])), int16(getUint16(p.raw[6:8]))
}

func (p *Payload) SetBytes(v [8]byte) { p.raw = v }
func (p Payload) Bytes() [8]byte      { return p.raw }

func putUint64(b *[8]byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func getUint64(b *[8]byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
func putUint32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func getUint32(b []byte) uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(b[i]) << (8 * i)
	}
	return v
}
func putUint16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
func getUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

// Message is the unit of exchange on a Queue: a message ID, an inline
// Payload, and the time it was enqueued (stamped by Queue.Push, not the
// caller — spec §4.1).
type Message struct {
	ID       int32
	Payload  Payload
	QueuedAt time.Time
}
