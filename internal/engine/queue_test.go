package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandQueue_PriorityThenFIFO(t *testing.T) {
	q := NewCommandQueue(nil)

	normalA := q.Enqueue(newCommand(CmdPrepare, true, nil))
	normalB := q.Enqueue(newCommand(CmdStart, true, nil))
	cancel := q.Enqueue(newCommand(CmdCancelAllCommands, true, nil))
	internal := q.Enqueue(newCommand(CmdStopDueToError, false, nil))

	// priority(a) < priority(b), or equal priority and id(a) < id(b).
	assert.Equal(t, internal, q.Pop().CmdID) // priority 2
	assert.Equal(t, cancel, q.Pop().CmdID)   // priority 3
	assert.Equal(t, normalA, q.Pop().CmdID)  // priority 5, lower id
	assert.Equal(t, normalB, q.Pop().CmdID)
	assert.Nil(t, q.Pop())
}

func TestCommandQueue_IDsAreMonotonic(t *testing.T) {
	q := NewCommandQueue(nil)

	var last uint64
	for i := 0; i < 100; i++ {
		id := q.Enqueue(newCommand(CmdInit, true, nil))
		assert.Greater(t, id, last)
		last = id
	}
}

func TestCommandQueue_OnReadyInvokedPerEnqueue(t *testing.T) {
	fired := 0
	q := NewCommandQueue(func() { fired++ })

	q.Enqueue(newCommand(CmdInit, true, nil))
	q.Enqueue(newCommand(CmdStart, true, nil))
	assert.Equal(t, 2, fired)
}

func TestCommandQueue_PopCancelOnlyYieldsCancelClass(t *testing.T) {
	q := NewCommandQueue(nil)

	q.Enqueue(newCommand(CmdPrepare, true, nil))
	assert.Nil(t, q.PopCancel(), "a normal command must not preempt")

	cancelID := q.Enqueue(newCommand(CmdCancelAllCommands, true, nil))
	got := q.PopCancel()
	require.NotNil(t, got)
	assert.Equal(t, cancelID, got.CmdID)

	// The ordinary command is still pending.
	assert.Equal(t, 1, q.Len())
}

func TestCommandQueue_DrainPendingPreservesDispatchOrder(t *testing.T) {
	q := NewCommandQueue(nil)

	a := q.Enqueue(newCommand(CmdPrepare, true, nil))
	b := q.Enqueue(newCommand(CmdStart, true, nil))
	c := q.Enqueue(newCommand(CmdStopDueToError, false, nil))

	drained := q.DrainPendingAsCancelled()
	require.Len(t, drained, 3)
	assert.Equal(t, c, drained[0].CmdID)
	assert.Equal(t, a, drained[1].CmdID)
	assert.Equal(t, b, drained[2].CmdID)
	assert.Equal(t, 0, q.Len())
}

func TestCommandQueue_RemoveByID(t *testing.T) {
	q := NewCommandQueue(nil)

	keep := q.Enqueue(newCommand(CmdPrepare, true, nil))
	target := q.Enqueue(newCommand(CmdAcquireLicense, true, nil))

	removed := q.RemoveByID(target)
	require.NotNil(t, removed)
	assert.Equal(t, CmdAcquireLicense, removed.CmdType)

	assert.Nil(t, q.RemoveByID(target), "already removed")
	assert.Equal(t, keep, q.Pop().CmdID)
}

func TestCommandQueue_CancelByIDOnlyAcquireLicense(t *testing.T) {
	q := NewCommandQueue(nil)

	_, err := q.CancelByID(42, CmdPrepare, nil)
	assert.Error(t, err)

	id, err := q.CancelByID(42, CmdAcquireLicense, nil)
	require.NoError(t, err)
	assert.NotZero(t, id)
}

func TestCommandQueue_RequeuePreservesID(t *testing.T) {
	q := NewCommandQueue(nil)

	first := q.Enqueue(newCommand(CmdSetPlaybackRange, true, nil))
	cmd := q.Pop()
	require.Equal(t, first, cmd.CmdID)

	// A later enqueue gets a newer id; the requeued command still wins the
	// FIFO tie-break at equal priority.
	second := q.Enqueue(newCommand(CmdPrepare, true, nil))
	q.Requeue(cmd)

	assert.Equal(t, first, q.Pop().CmdID)
	assert.Equal(t, second, q.Pop().CmdID)
}
