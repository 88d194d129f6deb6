package clock

import (
	"testing"
	"time"

	"github.com/aribtools/arib-ts/internal/ts"
)

func jst(year int, month time.Month, day, hour, min, sec int) time.Time {
	return time.Date(year, month, day, hour, min, sec, 0, ts.JST)
}

func TestClockBaseline(t *testing.T) {
	c := New()
	c.SetPID(0x901)
	if c.Ready() {
		t.Fatal("fresh clock must not be ready")
	}

	c.UpdatePCR(0)
	if c.Ready() {
		t.Fatal("PCR alone must not make the clock ready")
	}

	base := jst(2021, 1, 1, 0, 0, 0)
	c.UpdateTime(base)
	if !c.Ready() {
		t.Fatal("clock must be ready after PCR+time")
	}
	if !c.Now().Equal(base) {
		t.Errorf("Now = %s, want %s", c.Now(), base)
	}

	// One second of PCR ticks advances Now by one second.
	c.UpdatePCR(ts.PCR(ts.PCRTicksPerSec))
	if !c.Now().Equal(base.Add(time.Second)) {
		t.Errorf("Now = %s, want %s", c.Now(), base.Add(time.Second))
	}
}

func TestClockProjections(t *testing.T) {
	c := New()
	c.SetPID(0x901)
	c.UpdatePCR(1000 * ts.PCR(ts.PCRTicksPerMs))
	base := jst(2021, 1, 1, 0, 0, 0)
	c.UpdateTime(base)

	pcr := c.TimeToPCR(base.Add(2 * time.Second))
	want := ts.PCR(3000 * ts.PCRTicksPerMs)
	if pcr != want {
		t.Errorf("TimeToPCR = %d, want %d", pcr, want)
	}
	back := c.PCRToTime(pcr)
	if !back.Equal(base.Add(2 * time.Second)) {
		t.Errorf("PCRToTime = %s", back)
	}

	// Times before the baseline wrap into the upper PCR range.
	early := c.TimeToPCR(base.Add(-2 * time.Second))
	if !early.IsValid() {
		t.Fatalf("negative projection out of range: %d", early)
	}
	if ts.ComparePCR(early, c.TimeToPCR(base)) >= 0 {
		t.Error("earlier time must project to an earlier PCR")
	}
}

func TestClockPIDChangeDropsBaseline(t *testing.T) {
	c := New()
	c.SetPID(0x901)
	c.UpdatePCR(0)
	c.UpdateTime(jst(2021, 1, 1, 0, 0, 0))
	if !c.Ready() {
		t.Fatal("setup failed")
	}
	c.SetPID(0x902)
	if c.Ready() {
		t.Error("PID change must invalidate the baseline")
	}
	// Re-pinning the same PID keeps the state.
	c.UpdatePCR(0)
	c.UpdateTime(jst(2021, 1, 1, 0, 0, 1))
	c.SetPID(0x902)
	if !c.Ready() {
		t.Error("same PID must not reset the clock")
	}
}

func TestClockGapDetection(t *testing.T) {
	c := New()
	c.SetPID(0x901)
	c.UpdatePCR(0)
	c.UpdateTime(jst(2021, 1, 1, 0, 0, 0))

	// A single out-of-band jump is tolerated.
	c.UpdatePCR(ts.PCR(100 * ts.PCRTicksPerSec))
	if !c.Ready() {
		t.Fatal("one gap must not invalidate the clock")
	}

	// A second consecutive gap invalidates the baseline.
	c.UpdatePCR(ts.PCR(500 * ts.PCRTicksPerSec))
	if c.Ready() {
		t.Fatal("consecutive gaps must invalidate the clock")
	}

	// A new time observation re-establishes the baseline at the latest PCR.
	c.UpdateTime(jst(2021, 1, 1, 0, 10, 0))
	if !c.Ready() {
		t.Fatal("UpdateTime must resync the clock")
	}
	if !c.Now().Equal(jst(2021, 1, 1, 0, 10, 0)) {
		t.Errorf("Now = %s", c.Now())
	}
}

func TestClockWithBaseline(t *testing.T) {
	base := jst(2021, 6, 1, 12, 0, 0)
	c := NewWithBaseline(0x901, 0, base)
	if !c.Ready() {
		t.Fatal("preconfigured clock must be ready")
	}
	if c.PID() != 0x901 {
		t.Errorf("PID = %04X", c.PID())
	}
	if !c.PCRToTime(ts.PCR(ts.PCRTicksPerSec)).Equal(base.Add(time.Second)) {
		t.Error("projection from the supplied baseline is off")
	}
}
