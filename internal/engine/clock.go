package engine

import "time"

// Clock models the playback timebase: a monotonic source scaled
// by a rate multiplier expressed in millipercent (100000 = real time).
// Invariant: current playback time = rateChangeClockTime +
// (monotonic_now - rateChangeMonoTime) * (rate / 100000). SetRate snapshots
// both accumulators at the instant of change.
type Clock struct {
	now func() time.Time

	rateChangeClockTime int64 // NPT milliseconds at the last rate change
	rateChangeMonoTime  time.Time
	rateMilliPct        int64
	stopped             bool
}

// NewClock builds a clock starting at NPT 0 with rate 100000 (real time).
// nowFn defaults to time.Now; tests substitute a controllable source.
func NewClock(nowFn func() time.Time) *Clock {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Clock{
		now:                nowFn,
		rateChangeMonoTime: nowFn(),
		rateMilliPct:       100000,
	}
}

// CurrentTime returns the current NPT in milliseconds.
func (c *Clock) CurrentTime() int64 {
	if c.stopped {
		return c.rateChangeClockTime
	}

	elapsed := c.now().Sub(c.rateChangeMonoTime)
	return c.rateChangeClockTime + (elapsed.Milliseconds() * c.rateMilliPct / 100000)
}

// SetRate snapshots the clock at the instant of change and applies the new
// rate, expressed in millipercent. A negative rate makes
// CurrentTime decrease; Direction reports the sign.
func (c *Clock) SetRate(rateMilliPct int64) {
	c.rateChangeClockTime = c.CurrentTime()
	c.rateChangeMonoTime = c.now()
	c.rateMilliPct = rateMilliPct
}

// Rate returns the current rate in millipercent.
func (c *Clock) Rate() int64 { return c.rateMilliPct }

// Direction reports the playback direction implied by the current rate: 1
// forward, -1 reverse, 0 stopped (rate exactly zero).
func (c *Clock) Direction() int {
	switch {
	case c.rateMilliPct > 0:
		return 1
	case c.rateMilliPct < 0:
		return -1
	default:
		return 0
	}
}

// SetPosition re-anchors the clock to an explicit NPT, used by Seek to
// align the restarted clock with the first post-skip sample.
func (c *Clock) SetPosition(npt int64) {
	c.rateChangeClockTime = npt
	c.rateChangeMonoTime = c.now()
}

// Stop freezes CurrentTime at its value the instant Stop is called.
func (c *Clock) Stop() {
	c.rateChangeClockTime = c.CurrentTime()
	c.stopped = true
}

// Restart resumes the clock from its frozen value.
func (c *Clock) Restart() {
	if !c.stopped {
		return
	}
	c.rateChangeMonoTime = c.now()
	c.stopped = false
}

// PositionTicker periodically reports the current NPT while pbpos_enable is
// set, at pbpos_interval milliseconds. Resolved Open Question
// : a rate change restarts the interval timer rather than trying to
// preserve phase across the discontinuity in elapsed-time-per-wall-clock-
// tick that a rate change otherwise introduces.
type PositionTicker struct {
	clock        *Clock
	intervalMS   int64
	lastFireTime int64
	onTick       func(npt int64)
}

// NewPositionTicker builds a ticker that calls onTick every intervalMS
// milliseconds of wall-clock time, reporting the clock's current NPT.
func NewPositionTicker(clock *Clock, intervalMS int64, onTick func(npt int64)) *PositionTicker {
	return &PositionTicker{clock: clock, intervalMS: intervalMS, onTick: onTick}
}

// Reset restarts the interval from now; called whenever SetRate fires so the
// next tick is intervalMS of wall-clock time away from the rate change
// rather than from whenever the previous tick happened to land.
func (t *PositionTicker) Reset(nowWallMS int64) {
	t.lastFireTime = nowWallMS
}

// MaybeFire invokes onTick if at least intervalMS wall-clock milliseconds
// have elapsed since the last fire (or Reset).
func (t *PositionTicker) MaybeFire(nowWallMS int64) {
	if nowWallMS-t.lastFireTime < t.intervalMS {
		return
	}
	t.lastFireTime = nowWallMS
	t.onTick(t.clock.CurrentTime())
}
