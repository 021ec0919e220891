package engine

import (
	"container/heap"
	"sync"
	"time"

	"github.com/hbomb79/pvplayer/pkg/logger"
)

var schedLog = logger.Get("Scheduler")

// AOStatus is the lifecycle state of an active object inside the scheduler's
// ready set.
type AOStatus int

const (
	NotScheduled AOStatus = iota
	Scheduled
	Running
	Cancelled
)

// ActiveObject is anything the scheduler can run to completion. Run must
// never block - long work is expressed as a phase that reschedules the
// active object once a sub-command callback fires.
type ActiveObject interface {
	Priority() Priority
	Run()
}

// schedEntry is one ready-set row: an active object plus the time it becomes
// eligible to run.
type schedEntry struct {
	ao      ActiveObject
	readyAt time.Time
	status  AOStatus
	index   int // heap.Interface bookkeeping

	// rearmRequested/rearmReadyAt record a RunIfNotReady call that arrived
	// while this entry's Run() was already executing; runOne consults these
	// once Run returns instead of silently dropping the request.
	rearmRequested bool
	rearmReadyAt   time.Time
}

type readyHeap []*schedEntry

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if !h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].readyAt.Before(h[j].readyAt)
	}
	return h[i].ao.Priority() < h[j].ao.Priority()
}
func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *readyHeap) Push(x any) {
	e := x.(*schedEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler is the cooperative active-object runtime: single-threaded, cooperative, no
// preemption. Callers from other goroutines may only call Schedule /
// RunIfNotReady - the actual Run loop executes on whatever goroutine calls
// Loop, normally one dedicated goroutine per engine instance.
type Scheduler struct {
	mu      sync.Mutex
	ready   readyHeap
	entries map[ActiveObject]*schedEntry
	wake    chan struct{}
	clock   func() time.Time
}

// NewScheduler constructs an idle scheduler. clock defaults to time.Now; a
// substitute clock is accepted so tests can control timer-driven
// rescheduling deterministically.
func NewScheduler(clock func() time.Time) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	s := &Scheduler{
		entries: make(map[ActiveObject]*schedEntry),
		wake:    make(chan struct{}, 1),
		clock:   clock,
	}
	heap.Init(&s.ready)
	return s
}

// Schedule arms ao to run as soon as possible.
func (s *Scheduler) Schedule(ao ActiveObject) {
	s.RunIfNotReady(ao, 0)
}

// RunIfNotReady arms ao to become eligible after deferMicros microseconds. If
// ao is already scheduled or running, this call is folded into the existing
// entry rather than creating a duplicate (an active object appears at most
// once in the ready set).
func (s *Scheduler) RunIfNotReady(ao ActiveObject, deferMicros int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	readyAt := s.clock().Add(time.Duration(deferMicros) * time.Microsecond)

	if e, ok := s.entries[ao]; ok {
		if e.status == Running {
			if !e.rearmRequested || readyAt.Before(e.rearmReadyAt) {
				e.rearmRequested = true
				e.rearmReadyAt = readyAt
			}
			return
		}
		if e.status == Scheduled && e.readyAt.Before(readyAt) {
			return // already scheduled to run sooner
		}
		e.readyAt = readyAt
		e.status = Scheduled
		heap.Fix(&s.ready, e.index)
		s.notify()
		return
	}

	e := &schedEntry{ao: ao, readyAt: readyAt, status: Scheduled}
	s.entries[ao] = e
	heap.Push(&s.ready, e)
	s.notify()
}

// Cancel removes ao from the ready set if it is merely pending; a Run
// currently in progress cannot be interrupted.
func (s *Scheduler) Cancel(ao ActiveObject) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[ao]
	if !ok || e.status == Running {
		return
	}

	heap.Remove(&s.ready, e.index)
	delete(s.entries, ao)
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Loop runs until done is closed, repeatedly picking the highest-priority
// active object among those already eligible and invoking Run() to completion
// before looping again. It is intended to run on a single dedicated goroutine.
func (s *Scheduler) Loop(done <-chan struct{}) {
	for {
		ao, wait := s.next()
		if ao != nil {
			s.runOne(ao)
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-done:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// next returns the next ready active object, or nil plus how long to wait
// for the earliest pending one to become ready.
func (s *Scheduler) next() (ActiveObject, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready.Len() == 0 {
		return nil, time.Hour
	}

	top := s.ready[0]
	now := s.clock()
	if top.readyAt.After(now) {
		return nil, top.readyAt.Sub(now)
	}

	// The heap surfaces the earliest-ready entry; among every entry already
	// eligible, the highest priority runs first and readyAt breaks ties.
	best := top
	for _, e := range s.ready {
		if e.readyAt.After(now) {
			continue
		}
		if bp, ep := best.ao.Priority(), e.ao.Priority(); ep < bp || (ep == bp && e.readyAt.Before(best.readyAt)) {
			best = e
		}
	}

	heap.Remove(&s.ready, best.index)
	best.status = Running
	// Entry stays in s.entries (keyed by ao) while running so a concurrent
	// RunIfNotReady from within Run is recognized as a re-arm rather than a
	// second ready-set row.
	return best.ao, 0
}

func (s *Scheduler) runOne(ao ActiveObject) {
	defer func() {
		if r := recover(); r != nil {
			schedLog.Errorf("active object %T raised a leave during Run: %v\n", ao, r)
		}

		s.mu.Lock()
		if e, ok := s.entries[ao]; ok && e.status == Running {
			if e.rearmRequested {
				e.status = Scheduled
				e.readyAt = e.rearmReadyAt
				e.rearmRequested = false
				heap.Push(&s.ready, e)
				s.notify()
			} else {
				delete(s.entries, ao)
			}
		}
		s.mu.Unlock()
	}()

	ao.Run()
}
