package collector

import (
	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/logging"
	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/tsio"
)

// ProgramMetadataFilterOption configures a ProgramMetadataFilter.
type ProgramMetadataFilterOption struct {
	// SID selects one service; zero collects every service.
	SID uint16
}

// ProgramMetadataJSON is the document emitted per EIT p/f update.
type ProgramMetadataJSON struct {
	NID    uint16         `json:"nid"`
	TSID   uint16         `json:"tsid"`
	SID    uint16         `json:"sid"`
	Events []ts.EventJSON `json:"events"`
}

// ProgramMetadataFilter emits the present/following events of the selected
// service(s) on every EIT p/f update.
type ProgramMetadataFilter struct {
	option ProgramMetadataFilterOption
	demux  *ts.Demux
	jsonl  tsio.JsonlSink
}

// NewProgramMetadataFilter returns a metadata filter.
func NewProgramMetadataFilter(option ProgramMetadataFilterOption) *ProgramMetadataFilter {
	f := &ProgramMetadataFilter{
		option: option,
		demux:  ts.NewDemux(),
	}
	f.demux.SetTableHandler(f.handleTable)
	f.demux.AddPID(ts.PIDEIT)
	logging.Debug("Demux EIT")
	return f
}

// Connect installs the JSONL sink.
func (f *ProgramMetadataFilter) Connect(sink tsio.JsonlSink) {
	f.jsonl = sink
}

func (f *ProgramMetadataFilter) Start() bool { return true }
func (f *ProgramMetadataFilter) End()        {}

func (f *ProgramMetadataFilter) ExitCode() int { return tsio.ExitSuccess }

func (f *ProgramMetadataFilter) HandlePacket(pkt *packet.Packet) bool {
	f.demux.Feed(pkt)
	return true
}

func (f *ProgramMetadataFilter) handleTable(t *ts.Table) {
	if t.TableID != ts.TIDEITPFAct {
		return
	}
	eit, err := ts.ParseEIT(t)
	if err != nil {
		logging.Warn("Broken EIT, skip: %v", err)
		return
	}
	if f.option.SID != 0 && eit.SID != f.option.SID {
		return
	}
	if len(eit.Events) == 0 {
		logging.Warn("No event in EIT")
		return
	}
	if f.jsonl == nil {
		return
	}
	events := make([]ts.EventJSON, 0, len(eit.Events))
	for i := range eit.Events {
		events = append(events, ts.MakeEventJSON(&eit.Events[i]))
	}
	f.jsonl.HandleDocument(ProgramMetadataJSON{
		NID:    eit.NID,
		TSID:   eit.TSID,
		SID:    eit.SID,
		Events: events,
	})
}
