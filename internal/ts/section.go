package ts

import (
	"errors"
	"fmt"
)

// Section is one complete PSI/SI section, raw bytes included, as reassembled
// from TS packet payloads.
type Section struct {
	PID uint16
	// Bytes holds the whole section: 3-byte header, body, and (for long
	// sections) the trailing CRC.
	Bytes []byte
	// PacketIndex is the index of the TS packet in which this section
	// started, counted from the first packet fed to the demux.
	PacketIndex uint64
}

var errSectionTooShort = errors.New("section too short")

// TableID returns the section's table_id.
func (s *Section) TableID() uint8 { return s.Bytes[0] }

// IsLong reports whether the section uses the long (syntax=1) header.
func (s *Section) IsLong() bool { return s.Bytes[1]&0x80 != 0 }

// Length returns section_length, the number of bytes following the 3-byte
// header.
func (s *Section) Length() int {
	return int(s.Bytes[1]&0x0F)<<8 | int(s.Bytes[2])
}

// TableIDExtension returns the table_id_extension of a long section
// (transport_stream_id for PAT, service_id for PMT and EIT, ...).
func (s *Section) TableIDExtension() uint16 {
	return uint16(s.Bytes[3])<<8 | uint16(s.Bytes[4])
}

// Version returns the 5-bit version_number of a long section.
func (s *Section) Version() uint8 { return s.Bytes[5] >> 1 & 0x1F }

// IsCurrent reports the current_next_indicator of a long section.
func (s *Section) IsCurrent() bool { return s.Bytes[5]&0x01 != 0 }

// SectionNumber returns the section_number of a long section.
func (s *Section) SectionNumber() uint8 { return s.Bytes[6] }

// LastSectionNumber returns the last_section_number of a long section.
func (s *Section) LastSectionNumber() uint8 { return s.Bytes[7] }

// Payload returns the section body: everything after the header, without the
// CRC for long sections.
func (s *Section) Payload() []byte {
	if s.IsLong() {
		return s.Bytes[8 : len(s.Bytes)-4]
	}
	return s.Bytes[3:]
}

// validate checks structural constraints and the CRC where one is defined.
// TOT carries a CRC despite using the short header.
func (s *Section) validate() error {
	if len(s.Bytes) < 3 {
		return errSectionTooShort
	}
	if s.IsLong() {
		if len(s.Bytes) < 12 {
			return errSectionTooShort
		}
		if CRC32(s.Bytes) != 0 {
			return fmt.Errorf("CRC mismatch in table#%02X", s.TableID())
		}
		return nil
	}
	if s.TableID() == TIDTOT {
		if len(s.Bytes) < 8 {
			return errSectionTooShort
		}
		if CRC32(s.Bytes) != 0 {
			return fmt.Errorf("CRC mismatch in TOT")
		}
	}
	return nil
}

// sectionAssembler rebuilds sections from the payloads of one PID.
type sectionAssembler struct {
	pid     uint16
	buf     []byte
	start   uint64 // packet index of the pending section start
	lastCC  int
	haveCC  bool
	syncing bool // waiting for the next payload-unit start
}

func newSectionAssembler(pid uint16) *sectionAssembler {
	return &sectionAssembler{pid: pid, syncing: true}
}

// sectionTotalLength returns the full section length implied by the
// buffered header, or -1 while the header is still incomplete.
func sectionTotalLength(buf []byte) int {
	if len(buf) < 3 {
		return -1
	}
	return 3 + (int(buf[1]&0x0F)<<8 | int(buf[2]))
}

// feed consumes one packet payload and returns any sections it completed.
func (a *sectionAssembler) feed(payload []byte, pusi bool, cc int, pktIndex uint64) []*Section {
	if a.haveCC {
		if cc == a.lastCC {
			// Duplicate packet retransmission; the payload was already
			// consumed.
			return nil
		}
		if cc != (a.lastCC+1)&0x0F {
			// Discontinuity: whatever was pending is unusable.
			a.buf = nil
			a.syncing = true
		}
	}
	a.lastCC = cc
	a.haveCC = true

	var out []*Section

	if pusi {
		if len(payload) < 1 {
			return out
		}
		pointer := int(payload[0])
		if 1+pointer > len(payload) {
			a.buf = nil
			a.syncing = true
			return out
		}
		// Bytes before the pointer target belong to the pending section.
		if a.buf != nil && !a.syncing {
			a.buf = append(a.buf, payload[1:1+pointer]...)
			out = append(out, a.complete()...)
		}
		a.buf = nil
		a.syncing = false
		a.start = pktIndex
		a.buf = append(a.buf, payload[1+pointer:]...)
		out = append(out, a.complete()...)
		return out
	}

	if a.syncing || a.buf == nil {
		return out
	}
	a.buf = append(a.buf, payload...)
	return append(out, a.complete()...)
}

// complete pops every full section currently in the buffer.
func (a *sectionAssembler) complete() []*Section {
	var out []*Section
	for {
		if len(a.buf) > 0 && a.buf[0] == 0xFF {
			// Stuffing: the rest of the payload carries no section.
			a.buf = nil
			return out
		}
		total := sectionTotalLength(a.buf)
		if total < 0 || len(a.buf) < total {
			return out
		}
		sec := &Section{
			PID:         a.pid,
			Bytes:       append([]byte(nil), a.buf[:total]...),
			PacketIndex: a.start,
		}
		a.buf = a.buf[total:]
		out = append(out, sec)
	}
}
