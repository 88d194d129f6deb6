package ts

import (
	"fmt"

	"github.com/Comcast/gots/packet"
)

// PCR is a 42-bit program clock reference counted in 27 MHz ticks.
// All arithmetic wraps modulo PCRUpperBound.
type PCR int64

// PCRUpperBound is one past the largest PCR value.
const PCRUpperBound = PCR(1) << 42

// Tick rates of the 27 MHz system clock.
const (
	PCRTicksPerSec int64 = 27_000_000
	PCRTicksPerMs  int64 = PCRTicksPerSec / 1000
)

// InvalidPCR marks a missing PCR.
const InvalidPCR PCR = -1

// IsValid reports whether p is inside [0, PCRUpperBound).
func (p PCR) IsValid() bool {
	return p >= 0 && p < PCRUpperBound
}

// ComparePCR orders two PCR values under the half-range wrap rule: if the
// forward distance from b to a is less than half the PCR range, a comes
// after b. Returns -1 if a is earlier, 0 if equal, +1 if a is later.
func ComparePCR(a, b PCR) int {
	d := int64(a-b) & (int64(PCRUpperBound) - 1)
	switch {
	case d == 0:
		return 0
	case d < int64(PCRUpperBound)/2:
		return 1
	default:
		return -1
	}
}

// AddMs returns p advanced by ms milliseconds, wrapped into the PCR range.
// Negative values move the clock backwards.
func (p PCR) AddMs(ms int64) PCR {
	v := (int64(p) + ms*PCRTicksPerMs) % int64(PCRUpperBound)
	if v < 0 {
		v += int64(PCRUpperBound)
	}
	return PCR(v)
}

// AddTicks returns p advanced by ticks, wrapped into the PCR range.
func (p PCR) AddTicks(ticks int64) PCR {
	v := (int64(p) + ticks) % int64(PCRUpperBound)
	if v < 0 {
		v += int64(PCRUpperBound)
	}
	return PCR(v)
}

// SubTicks returns the wrap-aware signed distance p-b in ticks. The result is
// inside [-2^41, 2^41).
func (p PCR) SubTicks(b PCR) int64 {
	d := int64(p-b) & (int64(PCRUpperBound) - 1)
	if d >= int64(PCRUpperBound)/2 {
		d -= int64(PCRUpperBound)
	}
	return d
}

// String formats the PCR the way tooling around recpt1 does: base+extension.
func (p PCR) String() string {
	return fmt.Sprintf("%010d+%03d", int64(p)/300, int64(p)%300)
}

// ReadPCR extracts the PCR from the adaptation field of pkt. Returns
// InvalidPCR when the packet carries no PCR.
func ReadPCR(pkt *packet.Packet) PCR {
	if pkt[3]&0x20 == 0 {
		return InvalidPCR // no adaptation field
	}
	afLen := int(pkt[4])
	if afLen < 7 {
		return InvalidPCR
	}
	af := pkt[5 : 5+afLen]
	if af[0]&0x10 == 0 {
		return InvalidPCR // PCR flag off
	}
	base := int64(af[1])<<25 | int64(af[2])<<17 | int64(af[3])<<9 |
		int64(af[4])<<1 | int64(af[5]&0x80)>>7
	ext := int64(af[5]&0x01)<<8 | int64(af[6])
	return PCR(base*300 + ext)
}
