// Package filter implements the stream-filtering state machines: the
// service filter (PID allow-listing with PAT/PMT rewriting), the program
// filter (event-bounded extraction synchronized via PCR), and the start
// seeker.
package filter

import (
	"time"

	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/logging"
	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/tsio"
)

// ServiceFilterOption configures a ServiceFilter.
type ServiceFilterOption struct {
	SID       uint16
	TimeLimit time.Time // JST; zero means no limit
}

// ServiceFilter drops every packet that does not belong to the selected
// service and rewrites PAT/PMT so each carries only the selected service's
// entries.
type ServiceFilter struct {
	option        ServiceFilterOption
	demux         *ts.Demux
	sink          tsio.PacketSink
	patPacketizer *ts.CyclingPacketizer
	pmtPacketizer *ts.CyclingPacketizer
	psiFilter     map[uint16]bool
	contentFilter map[uint16]bool
	emmFilter     map[uint16]bool
	pmtPID        uint16
	done          bool
	failed        bool
}

// NewServiceFilter returns a filter for option.SID.
func NewServiceFilter(option ServiceFilterOption) *ServiceFilter {
	f := &ServiceFilter{
		option:        option,
		demux:         ts.NewDemux(),
		patPacketizer: ts.NewCyclingPacketizer(ts.PIDPAT),
		pmtPacketizer: ts.NewCyclingPacketizer(ts.PIDPAT),
		psiFilter:     make(map[uint16]bool),
		contentFilter: make(map[uint16]bool),
		emmFilter:     make(map[uint16]bool),
		pmtPID:        ts.PIDNull,
	}
	f.demux.SetTableHandler(f.handleTable)
	f.demux.AddPID(ts.PIDPAT)
	logging.Debug("Demux PAT")
	f.demux.AddPID(ts.PIDCAT)
	logging.Debug("Demux CAT for detecting EMM PIDs")
	if !option.TimeLimit.IsZero() {
		f.demux.AddPID(ts.PIDTOT)
		logging.Debug("Demux TDT/TOT for checking the time limit")
	}
	return f
}

// Connect installs the downstream sink.
func (f *ServiceFilter) Connect(sink tsio.PacketSink) {
	f.sink = sink
}

func (f *ServiceFilter) Start() bool {
	if f.sink == nil {
		logging.Error("No sink has been connected")
		return false
	}
	return f.sink.Start()
}

func (f *ServiceFilter) End() {
	if f.sink != nil {
		f.sink.End()
	}
}

func (f *ServiceFilter) ExitCode() int {
	if f.failed {
		return tsio.ExitFailure
	}
	if f.sink == nil {
		return tsio.ExitFailure
	}
	return f.sink.ExitCode()
}

func (f *ServiceFilter) HandlePacket(pkt *packet.Packet) bool {
	if f.sink == nil {
		logging.Error("No sink has been connected")
		return false
	}

	f.demux.Feed(pkt)

	if f.done {
		return false
	}

	pid := uint16(pkt.PID())
	if !f.allowed(pid) {
		return true
	}

	if pid == ts.PIDPAT {
		// Substitute a rewritten-PAT packet at the original's position.
		pat := f.patPacketizer.NextPacket()
		return f.sink.HandlePacket(&pat)
	}
	if pid == f.pmtPID {
		pmt := f.pmtPacketizer.NextPacket()
		return f.sink.HandlePacket(&pmt)
	}
	return f.sink.HandlePacket(pkt)
}

func (f *ServiceFilter) allowed(pid uint16) bool {
	return f.contentFilter[pid] || f.psiFilter[pid] || f.emmFilter[pid]
}

func (f *ServiceFilter) handleTable(t *ts.Table) {
	switch t.TableID {
	case ts.TIDPAT:
		f.handlePAT(t)
	case ts.TIDCAT:
		f.handleCAT(t)
	case ts.TIDPMT:
		f.handlePMT(t)
	case ts.TIDTDT, ts.TIDTOT:
		f.handleDateTime(t)
	}
}

func (f *ServiceFilter) handlePAT(t *ts.Table) {
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
		logging.Error("SID#%04X not found in PAT", f.option.SID)
		f.done = true
		f.failed = true
		return
	}

	f.psiFilter = make(map[uint16]bool)
	logging.Debug("Clear PSI/SI filter")

	if f.pmtPID != ts.PIDNull {
		logging.Info("PID of PMT has been changed: %04X -> %04X", f.pmtPID, newPMTPID)
		f.demux.RemovePID(f.pmtPID)
		logging.Debug("Stop to demux PMT#%04X", f.pmtPID)
		// contentFilter is kept until the new PMT arrives.
	}
	f.pmtPID = newPMTPID
	f.demux.AddPID(f.pmtPID)
	logging.Debug("Demux PMT#%04X", f.pmtPID)

	// Rewrite the PAT: only the selected service remains; the NIT PID of the
	// upstream PAT is preserved.
	rewritten := &ts.PAT{
		TSID:    pat.TSID,
		Version: pat.Version,
		NITPID:  pat.NITPID,
		PMTs:    map[uint16]uint16{f.option.SID: newPMTPID},
		Order:   []uint16{f.option.SID},
	}
	f.patPacketizer.SetSections([][]byte{ts.EncodePAT(rewritten)})

	for _, pid := range []uint16{
		ts.PIDPAT, ts.PIDCAT, ts.PIDNIT, ts.PIDSDT, ts.PIDEIT,
		ts.PIDRST, ts.PIDTOT, ts.PIDBIT, ts.PIDCDT,
	} {
		f.psiFilter[pid] = true
	}
	logging.Debug("PSI/SI filter += PAT CAT NIT SDT EIT RST TDT/TOT BIT CDT")
}

func (f *ServiceFilter) handleCAT(t *ts.Table) {
	cat, err := ts.ParseCAT(t)
	if err != nil {
		logging.Warn("Broken CAT, skip: %v", err)
		return
	}
	f.emmFilter = make(map[uint16]bool)
	logging.Debug("Clear EMM filter")
	for _, pid := range cat.EMMPIDs() {
		f.emmFilter[pid] = true
		logging.Debug("EMM filter += EMM#%04X", pid)
	}
}

func (f *ServiceFilter) handlePMT(t *ts.Table) {
	pmt, err := ts.ParsePMT(t)
	if err != nil {
		logging.Warn("Broken PMT, skip: %v", err)
		return
	}
	if pmt.SID != f.option.SID {
		logging.Warn("PMT.SID#%d unmatched, skip", pmt.SID)
		return
	}

	f.contentFilter = make(map[uint16]bool)
	logging.Debug("Clear content filter")

	f.contentFilter[pmt.PCRPID] = true
	logging.Debug("Content filter += PCR#%04X", pmt.PCRPID)

	for _, pid := range pmt.ECMPIDs() {
		f.contentFilter[pid] = true
		logging.Debug("Content filter += ECM#%04X", pid)
	}

	// Keep only streams needed for playback. DSM-CC for BML and PES private
	// data are dropped to reduce the stream size.
	rewritten := &ts.PMT{
		SID:         pmt.SID,
		Version:     pmt.Version,
		PCRPID:      pmt.PCRPID,
		Descriptors: pmt.Descriptors,
	}
	for _, s := range pmt.Streams {
		keep := false
		switch {
		case s.IsVideo():
			logging.Debug("Content filter += PES/Video#%04X", s.PID)
			keep = true
		case s.IsAudio():
			logging.Debug("Content filter += PES/Audio#%04X", s.PID)
			keep = true
		case s.IsSubtitles():
			logging.Debug("Content filter += PES/Subtitle#%04X", s.PID)
			keep = true
		}
		if keep {
			f.contentFilter[s.PID] = true
			rewritten.Streams = append(rewritten.Streams, s)
		}
	}

	f.pmtPacketizer.SetPID(f.pmtPID)
	f.pmtPacketizer.SetSections([][]byte{ts.EncodePMT(rewritten)})

	f.psiFilter[f.pmtPID] = true
	logging.Debug("PSI/SI filter += PMT#%04X", f.pmtPID)
}

func (f *ServiceFilter) handleDateTime(t *ts.Table) {
	when, err := ts.ParseDateTime(t)
	if err != nil {
		logging.Warn("Broken TDT/TOT, skip: %v", err)
		return
	}
	if f.option.TimeLimit.IsZero() || when.Before(f.option.TimeLimit) {
		return
	}
	f.done = true
	logging.Info("Over the time limit, stop streaming")
}
