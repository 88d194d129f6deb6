package ts

import (
	"fmt"
	"time"
)

// Sizes of the fixed parts of an EIT section payload and of one event entry.
const (
	eitPayloadFixedSize = 6
	eitEventFixedSize   = 12
)

// EitSection is a raw EIT section with the header fields the collectors need
// for progress tracking, plus the undecoded events area.
type EitSection struct {
	PID                      uint16
	SID                      uint16
	TID                      uint8
	NID                      uint16
	TSID                     uint16
	LastTableID              uint8
	SectionNumber            uint8
	LastSectionNumber        uint8
	SegmentLastSectionNumber uint8
	Version                  uint8
	EventsData               []byte
	HasTimestamp             bool
	Timestamp                time.Time // JST, from concurrently demuxed TDT/TOT
}

// NewEitSection wraps a reassembled EIT section. The payload must contain at
// least the fixed EIT header.
func NewEitSection(s *Section) (*EitSection, error) {
	p := s.Payload()
	if len(p) < eitPayloadFixedSize {
		return nil, fmt.Errorf("EIT payload too short: %d bytes", len(p))
	}
	return &EitSection{
		PID:                      s.PID,
		SID:                      s.TableIDExtension(),
		TID:                      s.TableID(),
		TSID:                     uint16(p[0])<<8 | uint16(p[1]),
		NID:                      uint16(p[2])<<8 | uint16(p[3]),
		SegmentLastSectionNumber: p[4],
		LastTableID:              p[5],
		SectionNumber:            s.SectionNumber(),
		LastSectionNumber:        s.LastSectionNumber(),
		Version:                  s.Version(),
		EventsData:               p[eitPayloadFixedSize:],
	}, nil
}

// ServiceTriple packs (nid, tsid, sid) into the 64-bit key that identifies a
// service in the broadcast universe.
func (e *EitSection) ServiceTriple() uint64 {
	return uint64(e.NID)<<48 | uint64(e.TSID)<<32 | uint64(e.SID)<<16
}

// Sub-table and segment indexing of the EIT schedule matrix.
func (e *EitSection) TableIndex() int       { return int(e.TID & 0x07) }
func (e *EitSection) LastTableIndex() int   { return int(e.LastTableID & 0x07) }
func (e *EitSection) SegmentIndex() int     { return int(e.SectionNumber >> 3) }
func (e *EitSection) SectionIndex() int     { return int(e.SectionNumber & 0x07) }
func (e *EitSection) LastSegmentIndex() int { return int(e.LastSectionNumber >> 3) }
func (e *EitSection) LastSectionIndex() int { return int(e.SegmentLastSectionNumber & 0x07) }

// IsBasic reports whether the section belongs to the basic schedule group
// (sub-tables 0..7) rather than the extra group (8..15).
func (e *EitSection) IsBasic() bool { return e.TID&0x0F < 8 }

// Event is one decoded EIT event.
type Event struct {
	EventID       uint16
	StartTime     time.Time // JST
	HasStartTime  bool
	Duration      time.Duration
	HasDuration   bool
	RunningStatus uint8
	Scrambled     bool
	Descriptors   []Descriptor
}

// EndTime returns StartTime+Duration. Only meaningful when both are defined.
func (e *Event) EndTime() time.Time {
	return e.StartTime.Add(e.Duration)
}

// DecodeEvents parses the events area of the section.
func (e *EitSection) DecodeEvents() []Event {
	var events []Event
	data := e.EventsData
	for len(data) >= eitEventFixedSize {
		var ev Event
		ev.EventID = uint16(data[0])<<8 | uint16(data[1])
		ev.StartTime, ev.HasStartTime = DecodeMJDTime(data[2:7])
		ev.Duration, ev.HasDuration = DecodeBCDDuration(data[7:10])
		ev.RunningStatus = data[10] >> 5 & 0x07
		ev.Scrambled = data[10]>>4&0x01 != 0
		infoLen := int(data[10]&0x0F)<<8 | int(data[11])
		data = data[eitEventFixedSize:]
		if infoLen > len(data) {
			infoLen = len(data)
		}
		ev.Descriptors = parseDescriptors(data[:infoLen])
		data = data[infoLen:]
		events = append(events, ev)
	}
	return events
}

// EIT is a parsed EIT table. For p/f tables, Events[0] is the present event
// (section 0) and Events[1] the following event (section 1).
type EIT struct {
	TableID     uint8
	SID         uint16
	TSID        uint16
	NID         uint16
	Version     uint8
	LastTableID uint8
	Events      []Event
}

// ParseEIT decodes a complete EIT table, concatenating the events of its
// sections in section-number order.
func ParseEIT(t *Table) (*EIT, error) {
	if t.TableID < TIDEITPFAct || t.TableID > TIDEITMax {
		return nil, fmt.Errorf("not an EIT: table#%02X", t.TableID)
	}
	eit := &EIT{
		TableID: t.TableID,
		SID:     t.TableIDExtension,
		Version: t.Version,
	}
	for _, sec := range t.Sections {
		es, err := NewEitSection(sec)
		if err != nil {
			return nil, err
		}
		eit.TSID = es.TSID
		eit.NID = es.NID
		eit.LastTableID = es.LastTableID
		eit.Events = append(eit.Events, es.DecodeEvents()...)
	}
	return eit, nil
}
