// Package clock projects 27 MHz PCR ticks onto broadcaster wall-clock time
// and back. A baseline pairs a PCR observation with the TDT/TOT time at which
// it was seen; projections are linear around the baseline with wrap-aware
// PCR arithmetic.
package clock

import (
	"time"

	"github.com/aribtools/arib-ts/internal/logging"
	"github.com/aribtools/arib-ts/internal/ts"
)

// A PCR jump beyond this many ticks counts as a gap. Encoders occasionally
// emit isolated bogus PCRs; only consecutive gaps invalidate the baseline.
const (
	pcrGapThreshold  = ts.PCRTicksPerSec // 1 s
	pcrGapCountLimit = 2
)

// Clock is the PCR⇄time converter used by the program filter and the service
// recorder.
type Clock struct {
	pid      uint16
	hasPID   bool
	latest   ts.PCR
	hasPCR   bool
	basePCR  ts.PCR
	baseTime time.Time
	hasTime  bool
	gapCount int
}

// New returns an unsynchronized clock.
func New() *Clock {
	return &Clock{}
}

// NewWithBaseline returns a clock pre-synchronized to the given baseline, as
// supplied by the sync-clocks subcommand.
func NewWithBaseline(pid uint16, pcr ts.PCR, t time.Time) *Clock {
	return &Clock{
		pid: pid, hasPID: true,
		latest: pcr, hasPCR: true,
		basePCR: pcr, baseTime: t, hasTime: true,
	}
}

// SetPID pins the clock to a PCR PID. Changing the PID drops the baseline
// and waits for a fresh PCR/time pair.
func (c *Clock) SetPID(pid uint16) {
	if c.hasPID && c.pid == pid {
		return
	}
	c.pid = pid
	c.hasPID = true
	c.hasPCR = false
	c.hasTime = false
	c.gapCount = 0
}

// PID returns the pinned PCR PID.
func (c *Clock) PID() uint16 { return c.pid }

// HasPID reports whether a PCR PID has been pinned.
func (c *Clock) HasPID() bool { return c.hasPID }

// UpdatePCR records the latest PCR observation. Consecutive jumps in either
// direction larger than the gap threshold invalidate the baseline until the next
// UpdateTime.
func (c *Clock) UpdatePCR(pcr ts.PCR) {
	if c.hasPCR {
		delta := pcr.SubTicks(c.latest)
		if delta < -pcrGapThreshold || delta > pcrGapThreshold {
			c.gapCount++
			logging.Debug("PCR gap: %s -> %s", c.latest, pcr)
			if c.gapCount >= pcrGapCountLimit {
				logging.Warn("Consecutive PCR gaps, need resync")
				c.hasTime = false
				c.gapCount = 0
			}
		} else {
			c.gapCount = 0
		}
	}
	c.latest = pcr
	c.hasPCR = true
}

// UpdateTime pairs a TDT/TOT wall-clock time with the last observed PCR to
// (re-)establish the baseline. Later updates are ignored while the baseline
// holds; drift is bounded by the gap detector forcing a resync.
func (c *Clock) UpdateTime(t time.Time) {
	if c.hasTime || !c.hasPCR {
		return
	}
	c.basePCR = c.latest
	c.baseTime = t
	c.hasTime = true
	logging.Debug("Clock synced: %s @ %s", c.basePCR, t.Format(time.RFC3339))
}

// Ready reports whether Now and the projections are usable.
func (c *Clock) Ready() bool {
	return c.hasPCR && c.hasTime
}

// Now returns the wall-clock time of the latest PCR observation.
func (c *Clock) Now() time.Time {
	return c.PCRToTime(c.latest)
}

// PCRToTime projects a PCR value onto the wall clock.
func (c *Clock) PCRToTime(pcr ts.PCR) time.Time {
	ms := pcr.SubTicks(c.basePCR) / ts.PCRTicksPerMs
	return c.baseTime.Add(time.Duration(ms) * time.Millisecond)
}

// TimeToPCR projects a wall-clock time onto the PCR axis, normalized into
// [0, PCRUpperBound).
func (c *Clock) TimeToPCR(t time.Time) ts.PCR {
	return c.basePCR.AddMs(t.Sub(c.baseTime).Milliseconds())
}
