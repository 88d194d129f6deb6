package filter

import (
	"time"

	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/logging"
	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/tsio"
)

// ProgramFilterOption configures a ProgramFilter.
type ProgramFilterOption struct {
	SID uint16
	EID uint16
	// Initial clock baseline, as reported by sync-clocks.
	ClockPID  uint16
	ClockPCR  ts.PCR
	ClockTime time.Time // JST
	// Margins applied around the event boundaries.
	StartMargin time.Duration
	EndMargin   time.Duration
	// PreStreaming feeds PAT packets downstream while waiting for the start
	// boundary instead of buffering them.
	PreStreaming bool
	// WaitUntil bounds the WaitReady state: when the broadcast clock reaches
	// it before readiness, the filter exits with the retry code. Zero means
	// no bound.
	WaitUntil time.Time // JST
	// Component-tag allow-lists. When non-empty, the PMT is rewritten to
	// contain only video/audio streams with matching stream identifiers and
	// the excluded PES packets are dropped.
	VideoTags []uint8
	AudioTags []uint8
}

type programFilterState int

const (
	programWaitReady programFilterState = iota
	programStreaming
)

// ProgramFilter emits only the packets of one event, delimited by start/end
// PCR boundaries derived from EIT p/f and the PCR⇄time baseline.
type ProgramFilter struct {
	option ProgramFilterOption
	demux  *ts.Demux
	sink   tsio.PacketSink
	state  programFilterState

	lastPATPackets []packet.Packet
	lastPMTPackets []packet.Packet

	clockPID  uint16
	clockPCR  ts.PCR
	clockTime time.Time

	pmtPID uint16
	pcrPID uint16

	eventStartTime time.Time
	eventEndTime   time.Time
	startPCR       ts.PCR
	endPCR         ts.PCR

	pcrPIDReady    bool
	eventTimeReady bool
	clockPCRReady  bool
	clockTimeReady bool
	stop           bool

	// PMT rewriting, active only when component-tag allow-lists are set.
	rewritePMT    bool
	pmtPacketizer *ts.CyclingPacketizer
	pmtPacketCnt  int
	excludedPIDs  map[uint16]bool
}

// NewProgramFilter returns a filter for event option.EID of service
// option.SID.
func NewProgramFilter(option ProgramFilterOption) *ProgramFilter {
	f := &ProgramFilter{
		option:    option,
		demux:     ts.NewDemux(),
		clockPID:  option.ClockPID,
		clockPCR:  option.ClockPCR,
		clockTime: option.ClockTime,
		pmtPID:    ts.PIDNull,
		pcrPID:    ts.PIDNull,
		// The initial baseline counts as synchronized until the PCR PID
		// turns out to be different.
		clockPCRReady:  true,
		clockTimeReady: true,
		rewritePMT:     len(option.VideoTags) > 0 || len(option.AudioTags) > 0,
		pmtPacketizer:  ts.NewCyclingPacketizer(ts.PIDNull),
		excludedPIDs:   make(map[uint16]bool),
	}
	logging.Debug("Initial clock: PCR#%04X, %s (%s)",
		f.clockPID, f.clockPCR, f.clockTime.Format(time.RFC3339))
	f.demux.SetTableHandler(f.handleTable)
	f.demux.AddPID(ts.PIDPAT)
	f.demux.AddPID(ts.PIDEIT)
	f.demux.AddPID(ts.PIDTOT)
	logging.Debug("Demux += PAT EIT TDT/TOT")
	return f
}

// Connect installs the downstream sink.
func (f *ProgramFilter) Connect(sink tsio.PacketSink) {
	f.sink = sink
}

func (f *ProgramFilter) Start() bool {
	if f.sink == nil {
		logging.Error("No sink has been connected")
		return false
	}
	return f.sink.Start()
}

func (f *ProgramFilter) End() {
	if f.sink != nil {
		f.sink.End()
	}
}

func (f *ProgramFilter) ExitCode() int {
	if f.sink == nil {
		return tsio.ExitFailure
	}
	if f.state == programWaitReady {
		// Stopped before the program began: the caller may reschedule.
		return tsio.ExitRetry
	}
	return f.sink.ExitCode()
}

func (f *ProgramFilter) HandlePacket(pkt *packet.Packet) bool {
	if f.sink == nil {
		logging.Error("No sink has been connected")
		return false
	}
	f.demux.Feed(pkt)
	switch f.state {
	case programWaitReady:
		return f.waitReady(pkt)
	default:
		return f.doStreaming(pkt)
	}
}

func (f *ProgramFilter) waitReady(pkt *packet.Packet) bool {
	if f.stop {
		logging.Warn("Canceled")
		return false
	}

	pid := uint16(pkt.PID())
	switch {
	case pid == ts.PIDPAT:
		if f.option.PreStreaming {
			return f.sink.HandlePacket(pkt)
		}
		if pkt.PayloadUnitStartIndicator() {
			f.lastPATPackets = f.lastPATPackets[:0]
		}
		f.lastPATPackets = append(f.lastPATPackets, *pkt)
	case f.pmtPID != ts.PIDNull && pid == f.pmtPID:
		if !f.rewritePMT {
			if pkt.PayloadUnitStartIndicator() {
				f.lastPMTPackets = f.lastPMTPackets[:0]
			}
			f.lastPMTPackets = append(f.lastPMTPackets, *pkt)
		}
	default:
		// Drop other packets.
	}

	if !f.pcrPIDReady || !f.eventTimeReady {
		return true
	}
	if pid != f.pcrPID {
		return true
	}

	pcr := ts.ReadPCR(pkt)
	if !pcr.IsValid() {
		// Many PCR packets in a specific channel have no valid PCR.
		logging.Trace("PCR#%04X has no valid PCR...", pid)
		return true
	}

	if f.needClockSync() {
		f.updateClockPCR(pcr)
	}
	if f.needClockSync() {
		// Wait for the next TDT/TOT.
		return true
	}

	if ts.ComparePCR(pcr, f.endPCR) >= 0 {
		logging.Info("Reached the end PCR")
		return false
	}
	if ts.ComparePCR(pcr, f.startPCR) < 0 {
		return true
	}

	logging.Info("Reached the start PCR")

	if !f.option.PreStreaming {
		for i := range f.lastPATPackets {
			if !f.sink.HandlePacket(&f.lastPATPackets[i]) {
				return false
			}
		}
		f.lastPATPackets = nil
	}
	if f.rewritePMT {
		for i := 0; i < f.pmtPacketCnt; i++ {
			rewritten := f.pmtPacketizer.NextPacket()
			if !f.sink.HandlePacket(&rewritten) {
				return false
			}
		}
	} else {
		for i := range f.lastPMTPackets {
			if !f.sink.HandlePacket(&f.lastPMTPackets[i]) {
				return false
			}
		}
		f.lastPMTPackets = nil
	}

	f.state = programStreaming
	return f.sink.HandlePacket(pkt)
}

func (f *ProgramFilter) doStreaming(pkt *packet.Packet) bool {
	if f.stop {
		logging.Info("Done")
		return false
	}

	pid := uint16(pkt.PID())
	if f.excludedPIDs[pid] {
		return true
	}

	if pid == f.pcrPID {
		pcr := ts.ReadPCR(pkt)
		if !pcr.IsValid() {
			logging.Trace("PCR#%04X has no valid PCR...", pid)
			return f.sink.HandlePacket(pkt)
		}
		if f.needClockSync() {
			f.updateClockPCR(pcr)
		}
		if f.needClockSync() {
			// Postpone the stop until the clock is synchronized again.
			return f.sink.HandlePacket(pkt)
		}
		if ts.ComparePCR(pcr, f.endPCR) >= 0 {
			logging.Info("Reached the end PCR")
			return false
		}
	}

	if f.rewritePMT && f.pmtPID != ts.PIDNull && pid == f.pmtPID {
		rewritten := f.pmtPacketizer.NextPacket()
		return f.sink.HandlePacket(&rewritten)
	}

	return f.sink.HandlePacket(pkt)
}

func (f *ProgramFilter) handleTable(t *ts.Table) {
	switch t.TableID {
	case ts.TIDPAT:
		f.handlePAT(t)
	case ts.TIDPMT:
		f.handlePMT(t)
	case ts.TIDEITPFAct:
		f.handleEIT(t)
	case ts.TIDTDT, ts.TIDTOT:
		f.handleDateTime(t)
	}
}

func (f *ProgramFilter) handlePAT(t *ts.Table) {
	// A strange PAT is delivered with PID#0012 around midnight at least on
	// BS-NTV and BS11: its ts_id is 0 and it carries no NIT PID.
	if t.PID != ts.PIDPAT {
		logging.Warn("PAT delivered with PID#%04X, skip", t.PID)
		return
	}
	pat, err := ts.ParsePAT(t)
	if err != nil {
		logging.Warn("Broken PAT, skip: %v", err)
		return
	}
	if pat.TSID == 0 {
		logging.Warn("PAT for TSID#0000, skip")
		return
	}
	newPMTPID, ok := pat.PMTs[f.option.SID]
	if !ok {
		// The service filter upstream guarantees the SID; treat this as a
		// broken PAT.
		logging.Warn("SID#%04X not in PAT, skip", f.option.SID)
		return
	}
	if f.pmtPID != ts.PIDNull {
		logging.Debug("Demux -= PMT#%04X", f.pmtPID)
		f.demux.RemovePID(f.pmtPID)
		f.pmtPID = ts.PIDNull
	}
	f.pmtPID = newPMTPID
	f.demux.AddPID(f.pmtPID)
	logging.Debug("Demux += PMT#%04X", f.pmtPID)
}

func (f *ProgramFilter) handlePMT(t *ts.Table) {
	pmt, err := ts.ParsePMT(t)
	if err != nil {
		logging.Warn("Broken PMT, skip: %v", err)
		return
	}
	if pmt.SID != f.option.SID {
		logging.Warn("PMT.SID#%d unmatched, skip", pmt.SID)
		return
	}

	f.pcrPID = pmt.PCRPID
	logging.Debug("PCR#%04X", f.pcrPID)
	f.pcrPIDReady = true

	if f.clockPID != f.pcrPID {
		logging.Warn("PID of PCR has been changed: %04X -> %04X, need resync",
			f.clockPID, f.pcrPID)
		f.clockPID = f.pcrPID
		f.clockPCRReady = false
		f.clockTimeReady = false
	}

	if f.rewritePMT {
		f.rebuildPMT(pmt)
	}
}

// rebuildPMT applies the component-tag allow-lists to the PMT and prepares
// the packetizer that replaces the original PMT packets on the wire.
func (f *ProgramFilter) rebuildPMT(pmt *ts.PMT) {
	rewritten := &ts.PMT{
		SID:         pmt.SID,
		Version:     pmt.Version,
		PCRPID:      pmt.PCRPID,
		Descriptors: pmt.Descriptors,
	}
	f.excludedPIDs = make(map[uint16]bool)
	for _, s := range pmt.Streams {
		keep := true
		if s.IsVideo() && len(f.option.VideoTags) > 0 {
			keep = tagAllowed(&s, f.option.VideoTags)
		} else if s.IsAudio() && len(f.option.AudioTags) > 0 {
			keep = tagAllowed(&s, f.option.AudioTags)
		}
		if keep {
			rewritten.Streams = append(rewritten.Streams, s)
		} else {
			f.excludedPIDs[s.PID] = true
			logging.Debug("Exclude PES#%04X by component tag", s.PID)
		}
	}
	section := ts.EncodePMT(rewritten)
	f.pmtPacketizer.SetPID(f.pmtPID)
	f.pmtPacketizer.SetSections([][]byte{section})
	f.pmtPacketCnt = (len(section) + 1 + 183) / 184
}

func tagAllowed(s *ts.PMTStream, tags []uint8) bool {
	tag, ok := s.ComponentTag()
	if !ok {
		return false
	}
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (f *ProgramFilter) handleEIT(t *ts.Table) {
	eit, err := ts.ParseEIT(t)
	if err != nil {
		logging.Warn("Broken EIT, skip: %v", err)
		return
	}
	if eit.SID != f.option.SID {
		return
	}
	if len(eit.Events) == 0 {
		logging.Error("No event in EIT, stop")
		f.stop = true
		return
	}

	present := &eit.Events[0]
	if present.EventID == f.option.EID {
		logging.Debug("Event#%04X has started", f.option.EID)
		f.updateEventTime(present)
		return
	}

	if len(eit.Events) < 2 {
		logging.Warn("No following event in EIT")
		if f.state == programStreaming {
			// Continue streaming until PCR reaches the end boundary.
			return
		}
		logging.Error("Event#%04X might have been canceled", f.option.EID)
		f.stop = true
		return
	}

	following := &eit.Events[1]
	if following.EventID == f.option.EID {
		logging.Debug("Event#%04X will start soon", f.option.EID)
		f.updateEventTime(following)
		return
	}

	if f.state == programStreaming {
		return
	}
	logging.Error("Event#%04X might have been canceled", f.option.EID)
	f.stop = true
}

func (f *ProgramFilter) handleDateTime(t *ts.Table) {
	when, err := ts.ParseDateTime(t)
	if err != nil {
		logging.Warn("Broken TDT/TOT, skip: %v", err)
		return
	}
	if f.state == programWaitReady && !f.option.WaitUntil.IsZero() &&
		!when.Before(f.option.WaitUntil) {
		logging.Error("Reached the wait-until time before the program started")
		f.stop = true
		return
	}
	if f.clockTimeReady {
		return
	}
	f.updateClockTime(when)
}

func (f *ProgramFilter) updateEventTime(ev *ts.Event) {
	f.eventStartTime = ev.StartTime.Add(-f.option.StartMargin)
	f.eventEndTime = ev.StartTime.Add(ev.Duration + f.option.EndMargin)
	logging.Info("Updated event time: (%s) .. (%s)",
		f.eventStartTime.Format(time.RFC3339), f.eventEndTime.Format(time.RFC3339))
	f.eventTimeReady = true
	if f.clockTimeReady && f.clockPCRReady {
		f.updatePCRRange()
	}
}

func (f *ProgramFilter) updateClockPCR(pcr ts.PCR) {
	f.clockPCR = pcr
	logging.Trace("Updated clock PCR: %s", pcr)
	f.clockPCRReady = true
	if f.eventTimeReady && f.clockTimeReady {
		f.updatePCRRange()
	}
}

func (f *ProgramFilter) updateClockTime(t time.Time) {
	f.clockTime = t
	logging.Trace("Updated clock time: %s", t.Format(time.RFC3339))
	f.clockTimeReady = true
	if f.eventTimeReady && f.clockPCRReady {
		f.updatePCRRange()
	}
}

func (f *ProgramFilter) needClockSync() bool {
	return !f.clockTimeReady || !f.clockPCRReady
}

func (f *ProgramFilter) updatePCRRange() {
	f.startPCR = f.convertTimeToPCR(f.eventStartTime)
	f.endPCR = f.convertTimeToPCR(f.eventEndTime)
	logging.Info("Updated PCR range: %s (%s) .. %s (%s)",
		f.startPCR, f.eventStartTime.Format(time.RFC3339),
		f.endPCR, f.eventEndTime.Format(time.RFC3339))
}

func (f *ProgramFilter) convertTimeToPCR(t time.Time) ts.PCR {
	ms := t.Sub(f.clockTime).Milliseconds() // may be negative
	return f.clockPCR.AddMs(ms)
}
