package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeNow gives tests a hand-cranked monotonic source.
type fakeNow struct {
	t time.Time
}

func (f *fakeNow) now() time.Time          { return f.t }
func (f *fakeNow) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestClock_RealTimeRate(t *testing.T) {
	src := &fakeNow{t: time.Unix(1000, 0)}
	c := NewClock(src.now)

	assert.EqualValues(t, 0, c.CurrentTime())

	src.advance(2 * time.Second)
	assert.EqualValues(t, 2000, c.CurrentTime())
	assert.Equal(t, 1, c.Direction())
}

func TestClock_SetRateSnapshotsAccumulators(t *testing.T) {
	src := &fakeNow{t: time.Unix(1000, 0)}
	c := NewClock(src.now)

	src.advance(1 * time.Second)
	c.SetRate(200000) // 2x

	// time(t + d) = time(t) + d*rate/100000 until the next SetRate.
	src.advance(1 * time.Second)
	assert.EqualValues(t, 3000, c.CurrentTime())

	c.SetRate(50000) // 0.5x
	src.advance(2 * time.Second)
	assert.EqualValues(t, 4000, c.CurrentTime())
}

func TestClock_NegativeRateDecreases(t *testing.T) {
	src := &fakeNow{t: time.Unix(1000, 0)}
	c := NewClock(src.now)

	src.advance(10 * time.Second)
	c.SetRate(-100000)
	assert.Equal(t, -1, c.Direction())

	src.advance(3 * time.Second)
	assert.EqualValues(t, 7000, c.CurrentTime())
}

func TestClock_StopFreezesAndRestartResumes(t *testing.T) {
	src := &fakeNow{t: time.Unix(1000, 0)}
	c := NewClock(src.now)

	src.advance(5 * time.Second)
	c.Stop()

	src.advance(60 * time.Second)
	assert.EqualValues(t, 5000, c.CurrentTime())

	c.Restart()
	src.advance(1 * time.Second)
	assert.EqualValues(t, 6000, c.CurrentTime())
}

func TestClock_SetPositionReanchors(t *testing.T) {
	src := &fakeNow{t: time.Unix(1000, 0)}
	c := NewClock(src.now)

	src.advance(10 * time.Second)
	c.Stop()
	c.SetPosition(30000)

	assert.EqualValues(t, 30000, c.CurrentTime())

	c.Restart()
	src.advance(500 * time.Millisecond)
	assert.EqualValues(t, 30500, c.CurrentTime())
}

func TestPositionTicker_FiresOnIntervalAndResets(t *testing.T) {
	src := &fakeNow{t: time.Unix(0, 0)}
	c := NewClock(src.now)

	var ticks []int64
	ticker := NewPositionTicker(c, 1000, func(npt int64) { ticks = append(ticks, npt) })

	ticker.MaybeFire(500)
	assert.Empty(t, ticks)

	src.advance(1 * time.Second)
	ticker.MaybeFire(1000)
	assert.Equal(t, []int64{1000}, ticks)

	// A reset pushes the next fire a full interval out.
	ticker.Reset(1500)
	ticker.MaybeFire(2000)
	assert.Len(t, ticks, 1)
	ticker.MaybeFire(2500)
	assert.Len(t, ticks, 2)
}
