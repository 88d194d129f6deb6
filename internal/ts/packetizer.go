package ts

import "github.com/Comcast/gots/packet"

// CyclingPacketizer turns table sections into an endless stream of TS
// packets. The service filter uses one per rewritten table: every time the
// original table would have occupied a packet on the wire, the packetizer
// supplies a packet of the rewritten table instead. The continuity counter
// survives table updates so the output stream stays contiguous.
type CyclingPacketizer struct {
	pid      uint16
	cc       byte
	sections [][]byte
	secIdx   int
	rem      []byte // unsent bytes of the section in progress
	pusi     bool
}

// NewCyclingPacketizer returns a packetizer emitting on pid.
func NewCyclingPacketizer(pid uint16) *CyclingPacketizer {
	return &CyclingPacketizer{pid: pid}
}

// PID returns the current output PID.
func (cp *CyclingPacketizer) PID() uint16 { return cp.pid }

// SetPID changes the output PID for subsequently produced packets.
func (cp *CyclingPacketizer) SetPID(pid uint16) { cp.pid = pid }

// SetSections replaces the cycled table. The section in progress is dropped;
// the next packet starts the new table's first section.
func (cp *CyclingPacketizer) SetSections(sections [][]byte) {
	cp.sections = sections
	cp.secIdx = 0
	cp.rem = nil
}

// NextPacket produces the next packet of the cycle. With no table installed
// it emits a null packet.
func (cp *CyclingPacketizer) NextPacket() packet.Packet {
	var pkt packet.Packet
	if len(cp.sections) == 0 {
		pkt[0] = SyncByte
		pkt[1] = byte(PIDNull >> 8)
		pkt[2] = byte(PIDNull & 0xFF)
		pkt[3] = 0x10
		for i := 4; i < PacketSize; i++ {
			pkt[i] = 0xFF
		}
		return pkt
	}
	if cp.rem == nil {
		cp.rem = cp.sections[cp.secIdx]
		cp.secIdx = (cp.secIdx + 1) % len(cp.sections)
		cp.pusi = true
	}
	pkt[0] = SyncByte
	pkt[1] = byte(cp.pid >> 8 & 0x1F)
	if cp.pusi {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(cp.pid)
	pkt[3] = 0x10 | cp.cc
	cp.cc = (cp.cc + 1) & 0x0F
	pos := 4
	if cp.pusi {
		pkt[pos] = 0x00 // pointer_field
		pos++
		cp.pusi = false
	}
	n := copy(pkt[pos:], cp.rem)
	cp.rem = cp.rem[n:]
	if len(cp.rem) == 0 {
		cp.rem = nil
	}
	for i := pos + n; i < PacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}
