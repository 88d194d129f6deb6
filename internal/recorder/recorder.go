// Package recorder implements the long-running service recorder: a
// continuous ring-buffer recording of one service with JSON lifecycle
// messages (start, chunk, event-start, event-update, event-end, stop) on
// stdout.
package recorder

import (
	"time"

	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/clock"
	"github.com/aribtools/arib-ts/internal/logging"
	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/tsio"
)

// ServiceRecorderOption configures a ServiceRecorder.
type ServiceRecorderOption struct {
	File      string
	SID       uint16
	ChunkSize uint64
	NumChunks uint64
	StartPos  uint64
}

type recorderState int

const (
	statePreparing recorderState = iota
	stateRecording
	stateDone
)

// Message is one JSON lifecycle document.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type chunkRef struct {
	Timestamp int64  `json:"timestamp"`
	Pos       uint64 `json:"pos"`
}

type chunkData struct {
	Chunk chunkRef `json:"chunk"`
}

type stopData struct {
	Reset bool `json:"reset"`
}

type eventData struct {
	OriginalNetworkID uint16       `json:"originalNetworkId"`
	TransportStreamID uint16       `json:"transportStreamId"`
	ServiceID         uint16       `json:"serviceId"`
	Event             ts.EventJSON `json:"event"`
	Record            chunkRef     `json:"record"`
}

// ServiceRecorder records the (already service-filtered) stream into a ring
// file, annotating event boundaries learned from EIT p/f with ring positions
// and broadcast timestamps.
type ServiceRecorder struct {
	option ServiceRecorderOption
	demux  *ts.Demux
	sink   tsio.PacketRingSink
	jsonl  tsio.JsonlSink
	clk    *clock.Clock
	state  recorderState

	eit    *ts.EIT
	newEIT *ts.EIT

	eventBoundaryTime time.Time
	eventBoundaryPos  uint64

	pmtPID       uint16
	endOfChunk   bool
	eventStarted bool
}

// NewServiceRecorder returns a recorder for option.SID.
func NewServiceRecorder(option ServiceRecorderOption) *ServiceRecorder {
	r := &ServiceRecorder{
		option: option,
		demux:  ts.NewDemux(),
		clk:    clock.New(),
		pmtPID: ts.PIDNull,
	}
	r.demux.SetTableHandler(r.handleTable)
	r.demux.AddPID(ts.PIDPAT)
	logging.Debug("service-recorder: Demux PAT")
	r.demux.AddPID(ts.PIDEIT)
	logging.Debug("service-recorder: Demux EIT")
	r.demux.AddPID(ts.PIDTOT)
	logging.Debug("service-recorder: Demux TDT/TOT")
	return r
}

// Connect installs the ring sink and registers for its chunk callbacks.
func (r *ServiceRecorder) Connect(sink tsio.PacketRingSink) {
	r.sink = sink
	sink.SetObserver(r)
}

// ConnectJsonl installs the sink for lifecycle messages.
func (r *ServiceRecorder) ConnectJsonl(sink tsio.JsonlSink) {
	r.jsonl = sink
}

func (r *ServiceRecorder) Start() bool {
	if r.sink == nil {
		logging.Error("service-recorder: No sink has been connected")
		return false
	}
	if !r.sink.Start() {
		return false
	}
	if r.option.StartPos != 0 {
		if !r.sink.SetPosition(r.option.StartPos) {
			return false
		}
	}
	r.sendStartMessage()
	return true
}

func (r *ServiceRecorder) End() {
	if r.sink == nil {
		return
	}
	r.sink.End()
	r.sendStopMessage(!r.sink.IsBroken())
}

func (r *ServiceRecorder) ExitCode() int {
	if r.sink == nil {
		return tsio.ExitFailure
	}
	return r.sink.ExitCode()
}

func (r *ServiceRecorder) HandlePacket(pkt *packet.Packet) bool {
	if r.sink == nil {
		logging.Error("service-recorder: No sink has been connected")
		return false
	}

	pid := uint16(pkt.PID())
	if r.clk.HasPID() && r.clk.PID() == pid {
		if pcr := ts.ReadPCR(pkt); pcr.IsValid() {
			r.clk.UpdatePCR(pcr)
		}
	}

	r.demux.Feed(pkt)

	switch r.state {
	case statePreparing:
		return r.onPreparing()
	case stateRecording:
		return r.onRecording(pkt)
	default:
		return false
	}
}

// OnEndOfChunk implements tsio.RingObserver.
func (r *ServiceRecorder) OnEndOfChunk(uint64) {
	r.endOfChunk = true
}

func (r *ServiceRecorder) handleTable(t *ts.Table) {
	switch t.TableID {
	case ts.TIDPAT:
		r.handlePAT(t)
	case ts.TIDPMT:
		r.handlePMT(t)
	case ts.TIDEITPFAct:
		r.handleEIT(t)
	case ts.TIDTDT, ts.TIDTOT:
		r.handleDateTime(t)
	}
}

func (r *ServiceRecorder) handlePAT(t *ts.Table) {
	if t.PID != ts.PIDPAT {
		logging.Warn("service-recorder: PAT delivered with PID#%04X, skip", t.PID)
		return
	}
	pat, err := ts.ParsePAT(t)
	if err != nil {
		logging.Warn("service-recorder: Broken PAT, skip: %v", err)
		return
	}
	if pat.TSID == 0 {
		logging.Warn("service-recorder: PAT for TSID#0000, skip")
		return
	}
	newPMTPID, ok := pat.PMTs[r.option.SID]
	if !ok {
		logging.Warn("service-recorder: SID#%04X not in PAT, skip", r.option.SID)
		return
	}
	if r.pmtPID != ts.PIDNull {
		logging.Debug("service-recorder: Demux -= PMT#%04X", r.pmtPID)
		r.demux.RemovePID(r.pmtPID)
		r.pmtPID = ts.PIDNull
	}
	r.pmtPID = newPMTPID
	r.demux.AddPID(r.pmtPID)
	logging.Debug("service-recorder: Demux += PMT#%04X", r.pmtPID)
}

func (r *ServiceRecorder) handlePMT(t *ts.Table) {
	pmt, err := ts.ParsePMT(t)
	if err != nil {
		logging.Warn("service-recorder: Broken PMT, skip: %v", err)
		return
	}
	if pmt.SID != r.option.SID {
		logging.Warn("service-recorder: PMT.SID#%d not matched, skip", pmt.SID)
		return
	}
	if !r.clk.HasPID() {
		logging.Debug("service-recorder: PCR#%04X", pmt.PCRPID)
	} else if r.clk.PID() != pmt.PCRPID {
		logging.Warn("service-recorder: PCR#%04X -> %04X, need resync",
			r.clk.PID(), pmt.PCRPID)
	}
	r.clk.SetPID(pmt.PCRPID)
}

func (r *ServiceRecorder) handleEIT(t *ts.Table) {
	eit, err := ts.ParseEIT(t)
	if err != nil {
		logging.Warn("service-recorder: Broken EIT, skip: %v", err)
		return
	}
	if eit.SID != r.option.SID {
		logging.Trace("SID#%04X not matched with %04X, skip", eit.SID, r.option.SID)
		return
	}
	if len(eit.Events) == 0 {
		logging.Warn("service-recorder: No event in EIT, skip")
		return
	}
	ev := &eit.Events[0]
	logging.Debug("service-recorder: Event#%04X: %s .. %s", ev.EventID,
		ev.StartTime.Format(time.RFC3339), ev.EndTime().Format(time.RFC3339))

	// Keep only the present event: the messages always describe a single
	// event, and an emergency p/f may carry a bogus second event.
	eit.Events = eit.Events[:1]

	// For keeping the locality of side effects, eit is not installed here;
	// the state machine picks it up.
	r.newEIT = eit
}

func (r *ServiceRecorder) handleDateTime(t *ts.Table) {
	when, err := ts.ParseDateTime(t)
	if err != nil {
		logging.Warn("service-recorder: Broken TDT/TOT, skip: %v", err)
		return
	}
	r.clk.UpdateTime(when)
}

func (r *ServiceRecorder) onPreparing() bool {
	if !r.clk.Ready() || r.newEIT == nil {
		// Packets are dropped until ready.
		return true
	}
	r.eit = r.newEIT
	r.newEIT = nil
	r.state = stateRecording
	logging.Info("service-recorder: Ready for recording")

	now := r.clk.Now()

	r.sendChunkMessage(now, r.sink.SyncPos())
	r.endOfChunk = false

	r.updateEventBoundary(now, r.sink.Pos())

	endTime := r.eit.Events[0].EndTime()
	if now.Before(endTime) {
		r.sendEventStartMessage(r.eit)
		r.eventStarted = true
	} else {
		r.eventStarted = false
	}
	return true
}

func (r *ServiceRecorder) onRecording(pkt *packet.Packet) bool {
	now := r.clk.Now()
	if r.endOfChunk {
		// The event-update message must precede the chunk message: the
		// application may purge expired programs when it sees the chunk
		// message, so the program data has to be current by then.
		r.sendEventUpdateMessage(r.eit, now, r.sink.SyncPos())
		r.sendChunkMessage(now, r.sink.SyncPos())
		r.endOfChunk = false
	}

	eit := r.eit
	newEIT := r.newEIT
	eventChanged := false
	if r.newEIT != nil {
		if r.eit.Events[0].EventID != r.newEIT.Events[0].EventID {
			eventChanged = true
		} else {
			// Same EID; the event data might have changed.
			eit = newEIT
		}
		r.eit = r.newEIT
		r.newEIT = nil
	}

	if r.eventStarted {
		if eventChanged {
			logging.Warn("service-recorder: Event#%04X has started before Event#%04X ends",
				newEIT.Events[0].EventID, eit.Events[0].EventID)
			r.updateEventBoundary(now, r.sink.Pos())
			r.sendEventEndMessage(eit)
			r.sendEventStartMessage(newEIT)
		} else {
			endTime := eit.Events[0].EndTime()
			if !now.Before(endTime) {
				r.updateEventBoundary(endTime, r.sink.Pos())
				r.sendEventEndMessage(eit)
				r.eventStarted = false // wait for the next event
			}
		}
	} else if eventChanged {
		r.sendEventStartMessage(newEIT)
		r.eventStarted = true
	}

	return r.sink.HandlePacket(pkt)
}

func (r *ServiceRecorder) updateEventBoundary(t time.Time, pos uint64) {
	logging.Debug("service-recorder: Update event boundary with %s@%d",
		t.Format(time.RFC3339), pos)
	r.eventBoundaryTime = t
	r.eventBoundaryPos = pos
}

func (r *ServiceRecorder) feed(msg Message) {
	if r.jsonl != nil {
		r.jsonl.HandleDocument(msg)
	}
}

func (r *ServiceRecorder) sendStartMessage() {
	logging.Info("service-recorder: Started recording SID#%04X", r.option.SID)
	r.feed(Message{Type: "start"})
}

func (r *ServiceRecorder) sendStopMessage(success bool) {
	logging.Info("service-recorder: Stopped recording SID#%04X", r.option.SID)
	r.feed(Message{Type: "stop", Data: stopData{Reset: !success}})
}

func (r *ServiceRecorder) sendChunkMessage(t time.Time, pos uint64) {
	logging.Info("service-recorder: Reached next chunk: %s@%d", t.Format(time.RFC3339), pos)
	r.feed(Message{Type: "chunk", Data: chunkData{
		Chunk: chunkRef{Timestamp: ts.UnixMs(t), Pos: pos},
	}})
}

func (r *ServiceRecorder) sendEventStartMessage(eit *ts.EIT) {
	logging.Info("service-recorder: Event#%04X: Started: %s@%d",
		eit.Events[0].EventID, r.eventBoundaryTime.Format(time.RFC3339), r.eventBoundaryPos)
	r.sendEventMessage("event-start", eit, r.eventBoundaryTime, r.eventBoundaryPos)
}

func (r *ServiceRecorder) sendEventUpdateMessage(eit *ts.EIT, t time.Time, pos uint64) {
	logging.Info("service-recorder: Event#%04X: Updated: %s@%d",
		eit.Events[0].EventID, t.Format(time.RFC3339), pos)
	r.sendEventMessage("event-update", eit, t, pos)
}

func (r *ServiceRecorder) sendEventEndMessage(eit *ts.EIT) {
	logging.Info("service-recorder: Event#%04X: Ended: %s@%d",
		eit.Events[0].EventID, r.eventBoundaryTime.Format(time.RFC3339), r.eventBoundaryPos)
	r.sendEventMessage("event-end", eit, r.eventBoundaryTime, r.eventBoundaryPos)
}

func (r *ServiceRecorder) sendEventMessage(typ string, eit *ts.EIT, t time.Time, pos uint64) {
	r.feed(Message{Type: typ, Data: eventData{
		OriginalNetworkID: eit.NID,
		TransportStreamID: eit.TSID,
		ServiceID:         eit.SID,
		Event:             ts.MakeEventJSON(&eit.Events[0]),
		Record:            chunkRef{Timestamp: ts.UnixMs(t), Pos: pos},
	}})
}
