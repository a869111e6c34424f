package refreshcoord

import (
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/raft"
)

// tickCommand encodes a heartbeat tick as an 8-byte big-endian unix
// timestamp; this FSM's log entries carry nothing else, so there is no
// need for pkg/manager/fsm.go's JSON command envelope.
func tickCommand(unixSeconds int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(unixSeconds))
	return buf
}

// tickFSM is the Raft FSM backing a Coordinator: it tracks only the
// timestamp of the most recently committed tick.
type tickFSM struct {
	last int64 // atomic
}

func newTickFSM() *tickFSM { return &tickFSM{} }

func (f *tickFSM) Apply(entry *raft.Log) interface{} {
	if len(entry.Data) != 8 {
		return nil
	}
	ts := int64(binary.BigEndian.Uint64(entry.Data))
	atomic.StoreInt64(&f.last, ts)
	return nil
}

func (f *tickFSM) lastTick() int64 { return atomic.LoadInt64(&f.last) }

func (f *tickFSM) Snapshot() (raft.FSMSnapshot, error) {
	return &tickSnapshot{last: atomic.LoadInt64(&f.last)}, nil
}

func (f *tickFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	buf := make([]byte, 8)
	if _, err := io.ReadFull(rc, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		return err
	}
	atomic.StoreInt64(&f.last, int64(binary.BigEndian.Uint64(buf)))
	return nil
}

type tickSnapshot struct {
	mu   sync.Mutex
	last int64
}

func (s *tickSnapshot) Persist(sink raft.SnapshotSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(s.last))
	if _, err := sink.Write(buf); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *tickSnapshot) Release() {}
