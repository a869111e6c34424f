package shmem

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/epctools/pkg/epcerr"
)

var (
	bucketMeta      = []byte("meta")
	bucketSemaphore = []byte("semaphores")
	bucketMutex     = []byte("mutexes")
	keyGeneration   = []byte("generation")
)

// ledger persists a PrimitivePool's slot-allocation bitmap to a bbolt
// database, so a process restarting against the same shared-memory region
// can recover which slots were in use rather than starting from an empty
// pool every time (spec §9, public-queue cold-start recovery).
//
// Recovery policy (DESIGN.md): on open, the ledger's last-seen generation
// is compared against the shared region's current generation (changed only
// when the region is actually recreated). If they match, the region
// survived an ordinary process restart and the ledger's in-use bitmap is
// trusted as-is — conservative, since a slot held by a crashed holder stays
// marked in-use until explicitly freed or the region is recreated. If they
// differ, the region is new, so every slot is free regardless of what the
// ledger last recorded.
type ledger struct {
	db *bolt.DB
}

func openLedgerFile(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, epcerr.New(epcerr.KindKernelPrimitive, "shmem.openLedgerFile", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketSemaphore, bucketMutex} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, epcerr.New(epcerr.KindKernelPrimitive, "shmem.openLedgerFile", err)
	}
	return db, nil
}

// openLedger opens (creating if absent) a standalone ledger not tied to a
// shared-memory region's generation; used by private (in-process-only)
// pools that still want allocation state to survive a process restart.
func openLedger(path string, numSemaphores, numMutexes int) (*ledger, []bool, []bool, error) {
	db, err := openLedgerFile(path)
	if err != nil {
		return nil, nil, nil, err
	}
	l := &ledger{db: db}
	sems := make([]bool, numSemaphores)
	mutexes := make([]bool, numMutexes)
	err = db.View(func(tx *bolt.Tx) error {
		readBitmap(tx.Bucket(bucketSemaphore), sems)
		readBitmap(tx.Bucket(bucketMutex), mutexes)
		return nil
	})
	if err != nil {
		db.Close()
		return nil, nil, nil, epcerr.New(epcerr.KindKernelPrimitive, "shmem.openLedger", err)
	}
	return l, sems, mutexes, nil
}

// OpenPrimitivePool opens a ledger-backed pool whose recovery decision is
// keyed off region's generation counter, per the cold-start policy above.
// If region is nil, behaves like NewPrimitivePool with no ledger reset
// logic beyond what openLedger already provides.
func OpenPrimitivePool(region *Region, numSemaphores, numMutexes int, ledgerPath string) (*PrimitivePool, error) {
	if ledgerPath == "" || region == nil {
		return NewPrimitivePool(numSemaphores, numMutexes, ledgerPath)
	}

	db, err := openLedgerFile(ledgerPath)
	if err != nil {
		return nil, err
	}
	l := &ledger{db: db}

	sems := make([]bool, numSemaphores)
	mutexes := make([]bool, numMutexes)
	currentGen := region.Generation()

	err = db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		lastGen := uint32(0)
		if v := meta.Get(keyGeneration); v != nil {
			lastGen = binary.BigEndian.Uint32(v)
		}

		if lastGen == currentGen {
			readBitmap(tx.Bucket(bucketSemaphore), sems)
			readBitmap(tx.Bucket(bucketMutex), mutexes)
		} else {
			if err := clearBitmapBucket(tx, bucketSemaphore); err != nil {
				return err
			}
			if err := clearBitmapBucket(tx, bucketMutex); err != nil {
				return err
			}
		}

		genBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(genBuf, currentGen)
		return meta.Put(keyGeneration, genBuf)
	})
	if err != nil {
		db.Close()
		return nil, epcerr.New(epcerr.KindKernelPrimitive, "shmem.OpenPrimitivePool", err)
	}

	return newPoolWithRecoveredState(sems, mutexes, l), nil
}

func readBitmap(b *bolt.Bucket, out []bool) {
	if b == nil {
		return
	}
	for i := range out {
		k := make([]byte, 4)
		binary.BigEndian.PutUint32(k, uint32(i))
		if v := b.Get(k); v != nil && len(v) == 1 && v[0] == 1 {
			out[i] = true
		}
	}
}

func clearBitmapBucket(tx *bolt.Tx, name []byte) error {
	if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
		return err
	}
	_, err := tx.CreateBucket(name)
	return err
}

func (l *ledger) markSemaphore(index int, used bool) error {
	return l.mark(bucketSemaphore, index, used)
}

func (l *ledger) markMutex(index int, used bool) error {
	return l.mark(bucketMutex, index, used)
}

func (l *ledger) mark(bucket []byte, index int, used bool) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		k := make([]byte, 4)
		binary.BigEndian.PutUint32(k, uint32(index))
		v := byte(0)
		if used {
			v = 1
		}
		return b.Put(k, []byte{v})
	})
}

func (l *ledger) close() error {
	if err := l.db.Close(); err != nil {
		return epcerr.New(epcerr.KindKernelPrimitive, "shmem.ledger.close", err)
	}
	return nil
}

func fmtSlot(bucket string, index int) string {
	return fmt.Sprintf("%s[%d]", bucket, index)
}
