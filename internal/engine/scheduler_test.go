package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAO struct {
	priority Priority
	onRun    func()
	runs     int
}

func (a *recordingAO) Priority() Priority { return a.priority }
func (a *recordingAO) Run() {
	a.runs++
	if a.onRun != nil {
		a.onRun()
	}
}

func TestScheduler_PriorityOrderAmongSimultaneouslyReady(t *testing.T) {
	// A pinned clock makes both entries ready at the identical instant, so
	// ordering falls through to AO priority.
	pinned := time.Unix(5000, 0)
	s := NewScheduler(func() time.Time { return pinned })

	var order []string
	low := &recordingAO{priority: PriorityNormal, onRun: func() { order = append(order, "low") }}
	high := &recordingAO{priority: PriorityReserved, onRun: func() { order = append(order, "high") }}

	s.Schedule(low)
	s.Schedule(high)

	for i := 0; i < 2; i++ {
		ao, _ := s.next()
		require.NotNil(t, ao)
		s.runOne(ao)
	}

	assert.Equal(t, []string{"high", "low"}, order)
}

func TestScheduler_RunIfNotReadyDefersEligibility(t *testing.T) {
	now := time.Unix(5000, 0)
	s := NewScheduler(func() time.Time { return now })

	ao := &recordingAO{priority: PriorityNormal}
	s.RunIfNotReady(ao, 50_000) // 50ms

	got, wait := s.next()
	assert.Nil(t, got)
	assert.Equal(t, 50*time.Millisecond, wait)

	now = now.Add(50 * time.Millisecond)
	got, _ = s.next()
	require.NotNil(t, got)
	s.runOne(got)
	assert.Equal(t, 1, ao.runs)
}

func TestScheduler_CancelRemovesPendingEntry(t *testing.T) {
	pinned := time.Unix(5000, 0)
	s := NewScheduler(func() time.Time { return pinned })

	ao := &recordingAO{priority: PriorityNormal}
	s.Schedule(ao)
	s.Cancel(ao)

	got, _ := s.next()
	assert.Nil(t, got)
	assert.Equal(t, 0, ao.runs)
}

func TestScheduler_RescheduleFromWithinRun(t *testing.T) {
	pinned := time.Unix(5000, 0)
	s := NewScheduler(func() time.Time { return pinned })

	ao := &recordingAO{priority: PriorityNormal}
	ao.onRun = func() {
		if ao.runs == 1 {
			s.Schedule(ao)
		}
	}

	s.Schedule(ao)
	got, _ := s.next()
	require.NotNil(t, got)
	s.runOne(got)

	// The re-arm requested mid-Run must surface as a fresh ready entry.
	got, _ = s.next()
	require.NotNil(t, got)
	s.runOne(got)
	assert.Equal(t, 2, ao.runs)

	got, _ = s.next()
	assert.Nil(t, got)
}

func TestScheduler_RunSurvivesPanickingActiveObject(t *testing.T) {
	pinned := time.Unix(5000, 0)
	s := NewScheduler(func() time.Time { return pinned })

	bad := &recordingAO{priority: PriorityNormal, onRun: func() { panic("leave") }}
	good := &recordingAO{priority: PriorityNormal}

	s.Schedule(bad)
	s.Schedule(good)

	for i := 0; i < 2; i++ {
		ao, _ := s.next()
		require.NotNil(t, ao)
		s.runOne(ao)
	}

	assert.Equal(t, 1, good.runs, "a crashed active object must not take the scheduler down")
}

func TestScheduler_AtMostOneEntryPerActiveObject(t *testing.T) {
	pinned := time.Unix(5000, 0)
	s := NewScheduler(func() time.Time { return pinned })

	ao := &recordingAO{priority: PriorityNormal}
	s.Schedule(ao)
	s.Schedule(ao)
	s.Schedule(ao)

	got, _ := s.next()
	require.NotNil(t, got)
	s.runOne(got)

	got, _ = s.next()
	assert.Nil(t, got, "duplicate Schedule calls fold into one ready entry")
	assert.Equal(t, 1, ao.runs)
}

func TestScheduler_LoopDrivesScheduledWork(t *testing.T) {
	s := NewScheduler(nil)

	ran := make(chan struct{})
	ao := &recordingAO{priority: PriorityNormal, onRun: func() { close(ran) }}

	done := make(chan struct{})
	defer close(done)
	go s.Loop(done)

	s.Schedule(ao)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler loop never ran the active object")
	}
}
