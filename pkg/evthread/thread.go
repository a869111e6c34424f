package evthread

import (
	"fmt"
	"sync/atomic"

	"github.com/cuemby/epctools/pkg/esync"
	"github.com/cuemby/epctools/pkg/log"
	"github.com/cuemby/epctools/pkg/mqueue"
)

// State is an EventThread's position in its lifecycle, spec §4.2.
type State int32

const (
	StateCreated State = iota
	StateWaitingToRun
	StateRunning
	StateSuspended
	StateDoneRunning
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateWaitingToRun:
		return "waiting_to_run"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateDoneRunning:
		return "done_running"
	default:
		return "unknown"
	}
}

// Handler processes one message. Returning an error does not stop the
// thread; it is logged against the thread's id.
type Handler func(msg mqueue.Message) error

type mapping struct {
	id      int32
	handler Handler
}

// Hook is a lifecycle callback: OnInit runs before the dispatch loop
// starts, OnQuit after MsgQuit is received and before the loop exits,
// OnSuspend each time MsgSuspend is received.
type Hook func(t *EventThread) error

// EventThread is a single goroutine with its own inbox queue, dispatching
// each message to the first handler registered for its ID (spec §4.2's
// "first-match-wins message-map"). Unmatched messages are dropped and
// counted, same as a full inbox.
type EventThread struct {
	id    string
	inbox *mqueue.Queue

	mappings []mapping

	onInit    Hook
	onQuit    Hook
	onSuspend Hook

	state int32 // atomic State

	suspendCount int32
	resumeEvent  *esync.Event

	dispatched uint64
	unhandled  uint64
	done       chan struct{}
}

// New creates an EventThread with an inbox of the given capacity. The
// thread does not start running until Start is called.
func New(id string, inboxCapacity int) *EventThread {
	t := &EventThread{
		id:          id,
		inbox:       mqueue.NewPrivateQueue(id, inboxCapacity, false, true),
		resumeEvent: esync.NewEvent(),
		done:        make(chan struct{}),
	}
	t.resumeEvent.Set() // not suspended initially
	atomic.StoreInt32(&t.state, int32(StateCreated))
	return t
}

// ID returns the thread's identifier, used for log fields and metric
// labels (pkg/log.WithThread, metrics.ThreadDispatchedTotal).
func (t *EventThread) ID() string { return t.id }

// State returns the thread's current lifecycle state.
func (t *EventThread) State() State { return State(atomic.LoadInt32(&t.state)) }

// OnInit registers the hook run once before the dispatch loop starts.
func (t *EventThread) OnInit(h Hook) { t.onInit = h }

// OnQuit registers the hook run once after MsgQuit is received.
func (t *EventThread) OnQuit(h Hook) { t.onQuit = h }

// OnSuspend registers the hook run each time MsgSuspend is received.
func (t *EventThread) OnSuspend(h Hook) { t.onSuspend = h }

// HandleMessage registers a handler for a specific message ID. Handlers
// are tried in registration order; the first one whose ID matches wins.
func (t *EventThread) HandleMessage(id int32, h Handler) {
	t.mappings = append(t.mappings, mapping{id: id, handler: h})
}

// Inbox returns the thread's inbox queue, so a caller can Send to it.
func (t *EventThread) Inbox() *mqueue.Queue { return t.inbox }

// Send enqueues msg on the thread's inbox. The message ID is not checked
// against mqueue.SystemMessageThreshold.
func (t *EventThread) Send(msg mqueue.Message, wait bool) (bool, error) {
	return t.inbox.Push(msg, wait)
}

// UnhandledCount returns the number of messages for which no handler
// matched, surfaced alongside queue drops as a sign of a misconfigured
// dispatch chain.
func (t *EventThread) UnhandledCount() uint64 { return atomic.LoadUint64(&t.unhandled) }

// DispatchedCount returns the number of messages run through dispatch,
// matched or not, surfaced as metrics.ThreadDispatchedTotal.
func (t *EventThread) DispatchedCount() uint64 { return atomic.LoadUint64(&t.dispatched) }

// Start launches the thread's dispatch goroutine. Start must be called
// exactly once; a thread cannot be restarted after it reaches
// StateDoneRunning.
func (t *EventThread) Start() error {
	if err := t.inbox.OpenWriter(); err != nil {
		return err
	}
	if err := t.inbox.OpenReader(); err != nil {
		return err
	}
	atomic.StoreInt32(&t.state, int32(StateWaitingToRun))
	go t.run()
	return nil
}

// Quit sends MsgQuit to the thread and blocks until its dispatch loop has
// exited.
func (t *EventThread) Quit() {
	_, _ = t.Send(mqueue.Message{ID: mqueue.MsgQuit}, true)
	<-t.done
}

// Suspend pauses dispatch after the in-flight message completes; messages
// sent while suspended still enqueue but are not processed until Resume.
// Nested Suspend calls require an equal number of Resume calls, mirroring
// spec §4.2's suspend/resume counter. The counter lives entirely on the
// caller side: only the 0->1 transition pushes MsgSuspend, so a Resume
// racing ahead of a still-queued MsgSuspend can never observe a stale
// dispatch-loop-owned count and deadlock the thread.
func (t *EventThread) Suspend() (bool, error) {
	if atomic.AddInt32(&t.suspendCount, 1) != 1 {
		return true, nil
	}
	t.resumeEvent.Clear()
	return t.Send(mqueue.Message{ID: mqueue.MsgSuspend}, true)
}

// Resume decrements the suspend counter, waking the dispatch loop once it
// reaches zero.
func (t *EventThread) Resume() {
	if atomic.AddInt32(&t.suspendCount, -1) <= 0 {
		atomic.StoreInt32(&t.suspendCount, 0)
		t.resumeEvent.Set()
	}
}

func (t *EventThread) run() {
	logger := log.WithThread(t.id)
	defer close(t.done)

	if t.onInit != nil {
		if err := t.onInit(t); err != nil {
			logger.Error().Err(err).Msg("on_init hook failed")
		}
	}
	atomic.StoreInt32(&t.state, int32(StateRunning))

	for {
		msg, ok, err := t.inbox.Pop(true)
		if err != nil {
			logger.Error().Err(err).Msg("inbox pop failed")
			continue
		}
		if !ok {
			continue
		}

		if msg.ID == mqueue.MsgQuit {
			atomic.StoreInt32(&t.state, int32(StateDoneRunning))
			if t.onQuit != nil {
				if err := t.onQuit(t); err != nil {
					logger.Error().Err(err).Msg("on_quit hook failed")
				}
			}
			return
		}

		if msg.ID == mqueue.MsgSuspend {
			atomic.StoreInt32(&t.state, int32(StateSuspended))
			if t.onSuspend != nil {
				if err := t.onSuspend(t); err != nil {
					logger.Error().Err(err).Msg("on_suspend hook failed")
				}
			}
			t.resumeEvent.Wait(0)
			atomic.StoreInt32(&t.state, int32(StateRunning))
			continue
		}

		t.dispatch(msg)
	}
}

func (t *EventThread) dispatch(msg mqueue.Message) {
	atomic.AddUint64(&t.dispatched, 1)
	for _, m := range t.mappings {
		if m.id == msg.ID {
			if err := m.handler(msg); err != nil {
				log.WithThread(t.id).Error().Err(fmt.Errorf("message %d: %w", msg.ID, err)).Msg("handler returned error")
			}
			return
		}
	}
	atomic.AddUint64(&t.unhandled, 1)
}
