package collector

import (
	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/tsio"
)

// TimetableEntryJSON is one print-timetable record.
type TimetableEntryJSON struct {
	NID       uint16 `json:"nid"`
	TSID      uint16 `json:"tsid"`
	SID       uint16 `json:"sid"`
	TableID   uint8  `json:"tableId"`
	EventID   uint16 `json:"eventId"`
	StartTime *int64 `json:"startTime"`
	Duration  *int64 `json:"duration"`
	Name      string `json:"name,omitempty"`
}

// TimetablePrinter walks EIT schedule sections and prints one line per
// event: a flattened, human-greppable view of the timetable.
type TimetablePrinter struct {
	option   ProgramMetadataFilterOption
	demux    *ts.Demux
	jsonl    tsio.JsonlSink
	versions map[uint64]uint8
}

// NewTimetablePrinter returns a printer for option.SID (zero prints every
// service).
func NewTimetablePrinter(option ProgramMetadataFilterOption) *TimetablePrinter {
	p := &TimetablePrinter{
		option:   option,
		demux:    ts.NewDemux(),
		versions: make(map[uint64]uint8),
	}
	p.demux.SetSectionHandler(p.handleSection)
	p.demux.AddPID(ts.PIDEIT)
	return p
}

// Connect installs the JSONL sink.
func (p *TimetablePrinter) Connect(sink tsio.JsonlSink) {
	p.jsonl = sink
}

func (p *TimetablePrinter) Start() bool { return true }
func (p *TimetablePrinter) End()        {}

func (p *TimetablePrinter) ExitCode() int { return tsio.ExitSuccess }

func (p *TimetablePrinter) HandlePacket(pkt *packet.Packet) bool {
	p.demux.Feed(pkt)
	return true
}

func (p *TimetablePrinter) handleSection(sec *ts.Section) {
	tid := sec.TableID()
	if tid < ts.TIDEITSchedMin || tid > ts.TIDEITMax {
		return
	}
	if !sec.IsLong() || !sec.IsCurrent() {
		return
	}
	eit, err := ts.NewEitSection(sec)
	if err != nil {
		return
	}
	if p.option.SID != 0 && eit.SID != p.option.SID {
		return
	}
	key := eit.ServiceTriple() | uint64(eit.TID)<<8 | uint64(eit.SectionNumber)
	if v, ok := p.versions[key]; ok && v == eit.Version {
		return
	}
	p.versions[key] = eit.Version

	for _, ev := range eit.DecodeEvents() {
		entry := TimetableEntryJSON{
			NID:     eit.NID,
			TSID:    eit.TSID,
			SID:     eit.SID,
			TableID: eit.TID,
			EventID: ev.EventID,
		}
		if ev.HasStartTime {
			ms := ts.UnixMs(ev.StartTime)
			entry.StartTime = &ms
		}
		if ev.HasDuration {
			ms := ev.Duration.Milliseconds()
			entry.Duration = &ms
		}
		for _, d := range ev.Descriptors {
			if d.Tag == ts.DescShortEvent {
				j := ts.MakeEventJSON(&ts.Event{Descriptors: []ts.Descriptor{d}})
				if len(j.Descriptors) > 0 {
					if se, ok := j.Descriptors[0].(ts.ShortEventJSON); ok {
						entry.Name = se.EventName
					}
				}
				break
			}
		}
		if p.jsonl != nil {
			p.jsonl.HandleDocument(entry)
		}
	}
}
