package engine

import (
	"container/heap"
	"sync"

	"github.com/hbomb79/pvplayer/internal/perr"
)

// cmdHeap orders commands by priority first, then id: a dispatches before b
// iff priority(a) < priority(b), or the priorities match and id(a) < id(b).
type cmdHeap []*Command

func (h cmdHeap) Len() int { return len(h) }
func (h cmdHeap) Less(i, j int) bool {
	if h[i].Priority() != h[j].Priority() {
		return h[i].Priority() < h[j].Priority()
	}
	return h[i].CmdID < h[j].CmdID
}
func (h cmdHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cmdHeap) Push(x any) { *h = append(*h, x.(*Command)) }

func (h *cmdHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// CommandQueue is the engine-facing priority queue and dispatcher. It is safe to call
// Enqueue from any goroutine; Pop and the
// cancellation operations are only ever called from the scheduler thread.
type CommandQueue struct {
	mu      sync.Mutex
	heap    cmdHeap
	nextID  uint64
	onReady func()
}

// NewCommandQueue builds an empty queue. onReady is invoked (off the caller's
// goroutine state, synchronously) every time Enqueue adds a command, so the
// owner can wake the scheduler; it may be nil.
func NewCommandQueue(onReady func()) *CommandQueue {
	q := &CommandQueue{onReady: onReady}
	heap.Init(&q.heap)
	return q
}

// Enqueue assigns the next command id, inserts cmd into the priority queue,
// and requests the scheduler run. It never fails for resource reasons - the
// queue is unbounded.
func (q *CommandQueue) Enqueue(cmd *Command) uint64 {
	q.mu.Lock()
	q.nextID++
	cmd.CmdID = q.nextID
	heap.Push(&q.heap, cmd)
	q.mu.Unlock()

	if q.onReady != nil {
		q.onReady()
	}

	return cmd.CmdID
}

// Pop removes and returns the highest-priority pending command, or nil if the
// queue is empty.
func (q *CommandQueue) Pop() *Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(*Command)
}

// Len reports the number of commands still pending (excludes whatever the
// engine currently holds as its "current command").
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// PopCancel removes and returns the top pending command only if it is a
// cancel-class command (CancelAllCommands or CancelDueToError). These are the
// only commands permitted to claim the engine while another command still
// occupies the current-command slot; everything
// else waits for the slot to free up.
func (q *CommandQueue) PopCancel() *Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return nil
	}
	switch q.heap[0].CmdType {
	case CmdCancelAllCommands, CmdCancelDueToError:
		return heap.Pop(&q.heap).(*Command)
	default:
		return nil
	}
}

// Requeue reinserts a previously dequeued command without assigning a new id,
// preserving its original dispatch-order position among equal-priority
// commands. Used for a deferred seek that waited out a transitional state
// .
func (q *CommandQueue) Requeue(cmd *Command) {
	q.mu.Lock()
	heap.Push(&q.heap, cmd)
	q.mu.Unlock()

	if q.onReady != nil {
		q.onReady()
	}
}

// RemoveByID removes and returns the pending command with the given id, or nil
// if no such command is still queued.
func (q *CommandQueue) RemoveByID(id uint64) *Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, c := range q.heap {
		if c.CmdID == id {
			return heap.Remove(&q.heap, i).(*Command)
		}
	}
	return nil
}

// CancelAll enqueues a CancelAllCommands command. Dispatch of this command
// (cancelall.go) is what actually drains the pending queue with a Cancelled
// status; CancelAll itself only schedules that work.
func (q *CommandQueue) CancelAll(ctx any) uint64 {
	return q.Enqueue(newCommand(CmdCancelAllCommands, true, ctx))
}

// CancelByID supports cancellation of AcquireLicense only; every
// other id is a no-op, matching the upward CancelAcquireLicense command which
// is the only cancel-by-id entry point in the public surface.
func (q *CommandQueue) CancelByID(id uint64, cmdType CmdType, ctx any) (uint64, error) {
	if cmdType != CmdAcquireLicense {
		return 0, perr.New(perr.ErrNotSupported, "cancelById is only supported for AcquireLicense, got %s", cmdType)
	}

	cmd := newCommand(CmdCancelAcquireLicense, true, ctx, CmdParam{Kind: ParamU32, U32: uint32(id)})
	return q.Enqueue(cmd), nil
}

// DrainPendingAsCancelled removes every command still in the queue (but not
// whatever the caller is separately holding as "current") and returns them in
// dispatch order, so the caller can complete each with a Cancelled status
// .
func (q *CommandQueue) DrainPendingAsCancelled() []*Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := make([]*Command, 0, q.heap.Len())
	for q.heap.Len() > 0 {
		drained = append(drained, heap.Pop(&q.heap).(*Command))
	}
	return drained
}
