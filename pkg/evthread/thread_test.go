package evthread

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/epctools/pkg/mqueue"
)

func TestEventThreadDispatchesInRegistrationOrder(t *testing.T) {
	var calls []int32
	th := New("t1", 8)
	th.HandleMessage(mqueue.SystemMessageThreshold, func(msg mqueue.Message) error {
		calls = append(calls, 1)
		return nil
	})
	th.HandleMessage(mqueue.SystemMessageThreshold, func(msg mqueue.Message) error {
		calls = append(calls, 2)
		return nil
	})

	require.NoError(t, th.Start())
	defer th.Quit()

	ok, err := th.Send(mqueue.Message{ID: mqueue.SystemMessageThreshold}, true)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool { return len(calls) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []int32{1}, calls)
}

func TestEventThreadUnmatchedMessageCounted(t *testing.T) {
	th := New("t2", 8)
	require.NoError(t, th.Start())
	defer th.Quit()

	_, err := th.Send(mqueue.Message{ID: mqueue.SystemMessageThreshold + 999}, true)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return th.UnhandledCount() == 1 }, time.Second, time.Millisecond)
}

func TestEventThreadOnInitAndOnQuit(t *testing.T) {
	var initCalled, quitCalled int32
	th := New("t3", 4)
	th.OnInit(func(t *EventThread) error {
		atomic.StoreInt32(&initCalled, 1)
		return nil
	})
	th.OnQuit(func(t *EventThread) error {
		atomic.StoreInt32(&quitCalled, 1)
		return nil
	})

	require.NoError(t, th.Start())
	require.Eventually(t, func() bool { return atomic.LoadInt32(&initCalled) == 1 }, time.Second, time.Millisecond)

	th.Quit()
	assert.Equal(t, int32(1), atomic.LoadInt32(&quitCalled))
	assert.Equal(t, StateDoneRunning, th.State())
}

func TestEventThreadSuspendResume(t *testing.T) {
	var processed int32
	th := New("t4", 8)
	th.HandleMessage(mqueue.SystemMessageThreshold, func(msg mqueue.Message) error {
		atomic.AddInt32(&processed, 1)
		return nil
	})
	require.NoError(t, th.Start())
	defer th.Quit()

	_, err := th.Suspend()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return th.State() == StateSuspended }, time.Second, time.Millisecond)

	_, err = th.Send(mqueue.Message{ID: mqueue.SystemMessageThreshold}, true)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&processed))

	th.Resume()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&processed) == 1 }, time.Second, time.Millisecond)
}

func TestWorkGroupFansOutAcrossWorkers(t *testing.T) {
	var processed int32
	g := NewWorkGroup("wg1", 32, 2, 4, func(msg mqueue.Message) error {
		atomic.AddInt32(&processed, 1)
		return nil
	})
	require.NoError(t, g.Start())
	defer g.Stop()

	for i := 0; i < 10; i++ {
		ok, err := g.Send(mqueue.Message{ID: mqueue.SystemMessageThreshold}, true)
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&processed) == 10 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, g.WorkerCount())
}

func TestWorkGroupAddWorkerRespectsMax(t *testing.T) {
	g := NewWorkGroup("wg2", 8, 1, 2, func(msg mqueue.Message) error { return nil })
	require.NoError(t, g.Start())
	defer g.Stop()

	assert.True(t, g.AddWorker())
	assert.False(t, g.AddWorker())
	assert.Equal(t, 2, g.WorkerCount())
}
