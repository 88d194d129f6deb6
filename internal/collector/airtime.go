package collector

import (
	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/logging"
	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/tsio"
)

// AirtimeTrackerOption configures an AirtimeTracker.
type AirtimeTrackerOption struct {
	SID uint16
	EID uint16
}

// AirtimeJSON is the airtime record of the tracked event.
type AirtimeJSON struct {
	NID       uint16 `json:"nid"`
	TSID      uint16 `json:"tsid"`
	SID       uint16 `json:"sid"`
	EID       uint16 `json:"eid"`
	StartTime int64  `json:"startTime"`
	Duration  int64  `json:"duration"`
}

// AirtimeTracker follows EIT p/f updates of one event and emits its
// (possibly re-scheduled) start time and duration; it stops once the event
// leaves the present/following pair.
type AirtimeTracker struct {
	option AirtimeTrackerOption
	demux  *ts.Demux
	jsonl  tsio.JsonlSink
	done   bool
}

// NewAirtimeTracker returns a tracker for (option.SID, option.EID).
func NewAirtimeTracker(option AirtimeTrackerOption) *AirtimeTracker {
	t := &AirtimeTracker{
		option: option,
		demux:  ts.NewDemux(),
	}
	t.demux.SetTableHandler(t.handleTable)
	t.demux.AddPID(ts.PIDEIT)
	logging.Debug("Demux EIT")
	return t
}

// Connect installs the JSONL sink.
func (t *AirtimeTracker) Connect(sink tsio.JsonlSink) {
	t.jsonl = sink
}

func (t *AirtimeTracker) Start() bool { return true }
func (t *AirtimeTracker) End()        {}

func (t *AirtimeTracker) ExitCode() int { return tsio.ExitSuccess }

func (t *AirtimeTracker) HandlePacket(pkt *packet.Packet) bool {
	t.demux.Feed(pkt)
	return !t.done
}

func (t *AirtimeTracker) handleTable(tbl *ts.Table) {
	if tbl.TableID != ts.TIDEITPFAct {
		return
	}
	eit, err := ts.ParseEIT(tbl)
	if err != nil {
		logging.Warn("Broken EIT, skip: %v", err)
		return
	}
	if eit.SID != t.option.SID {
		return
	}
	if len(eit.Events) == 0 {
		logging.Error("No event in EIT")
		t.done = true
		return
	}

	present := &eit.Events[0]
	if present.EventID == t.option.EID {
		logging.Debug("Event#%04X has started", t.option.EID)
		t.writeEventInfo(eit, present)
		return
	}
	if len(eit.Events) < 2 {
		logging.Warn("No following event in EIT")
		t.done = true
		return
	}
	following := &eit.Events[1]
	if following.EventID == t.option.EID {
		logging.Debug("Event#%04X will start soon", t.option.EID)
		t.writeEventInfo(eit, following)
		return
	}
	logging.Error("Event#%04X might have been canceled", t.option.EID)
	t.done = true
}

func (t *AirtimeTracker) writeEventInfo(eit *ts.EIT, ev *ts.Event) {
	if t.jsonl == nil {
		return
	}
	t.jsonl.HandleDocument(AirtimeJSON{
		NID:       eit.NID,
		TSID:      eit.TSID,
		SID:       eit.SID,
		EID:       ev.EventID,
		StartTime: ts.UnixMs(ev.StartTime),
		Duration:  ev.Duration.Milliseconds(),
	})
}
