package collector

import (
	"sort"
	"time"

	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/logging"
	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/tsio"
)

// PcrSynchronizerOption configures a PcrSynchronizer.
type PcrSynchronizerOption struct {
	Sids  *SidSet
	XSids *SidSet
}

// ClockJSON is the PCR⇄time baseline of one service.
type ClockJSON struct {
	PID  uint16 `json:"pid"`
	PCR  int64  `json:"pcr"`
	Time int64  `json:"time"`
}

// SyncJSON is one entry of the sync-clocks output.
type SyncJSON struct {
	NID   uint16    `json:"nid"`
	TSID  uint16    `json:"tsid"`
	SID   uint16    `json:"sid"`
	Clock ClockJSON `json:"clock"`
}

// PcrSynchronizer captures, for every selected service, the first valid PCR
// of its PCR PID together with a TDT/TOT wall-clock observation, producing
// the clock baselines consumed by filter-program.
type PcrSynchronizer struct {
	option    PcrSynchronizerOption
	demux     *ts.Demux
	jsonl     tsio.JsonlSink
	pmtPIDs   map[uint16]uint16 // SID -> PMT PID
	nid       uint16
	tsid      uint16
	pmtCnt    int
	pcrPIDMap map[uint16]uint16 // SID -> PCR PID
	pcrPIDs   map[uint16]bool
	pcrMap    map[uint16]ts.PCR // PCR PID -> PCR
	time      time.Time         // JST
	started   bool
	done      bool
}

// NewPcrSynchronizer returns a synchronizer honoring the given SID lists.
func NewPcrSynchronizer(option PcrSynchronizerOption) *PcrSynchronizer {
	s := &PcrSynchronizer{
		option:    option,
		demux:     ts.NewDemux(),
		pmtPIDs:   make(map[uint16]uint16),
		pcrPIDMap: make(map[uint16]uint16),
		pcrPIDs:   make(map[uint16]bool),
		pcrMap:    make(map[uint16]ts.PCR),
	}
	s.demux.SetTableHandler(s.handleTable)
	s.demux.AddPID(ts.PIDPAT)
	return s
}

// Connect installs the JSONL sink.
func (s *PcrSynchronizer) Connect(sink tsio.JsonlSink) {
	s.jsonl = sink
}

func (s *PcrSynchronizer) Start() bool { return true }

func (s *PcrSynchronizer) End() {
	if !s.done {
		return
	}
	timeMs := ts.UnixMs(s.time)
	sids := make([]int, 0, len(s.pcrPIDMap))
	for sid := range s.pcrPIDMap {
		sids = append(sids, int(sid))
	}
	sort.Ints(sids)
	out := []SyncJSON{}
	for _, sid := range sids {
		pcrPID := s.pcrPIDMap[uint16(sid)]
		pcr, ok := s.pcrMap[pcrPID]
		if !ok {
			continue
		}
		out = append(out, SyncJSON{
			NID:  s.nid,
			TSID: s.tsid,
			SID:  uint16(sid),
			Clock: ClockJSON{
				PID:  pcrPID,
				PCR:  int64(pcr),
				Time: timeMs,
			},
		})
	}
	s.jsonl.HandleDocument(out)
}

func (s *PcrSynchronizer) ExitCode() int {
	if !s.done {
		return tsio.ExitFailure
	}
	return tsio.ExitSuccess
}

func (s *PcrSynchronizer) HandlePacket(pkt *packet.Packet) bool {
	pid := uint16(pkt.PID())
	if pid == ts.PIDNull {
		return true
	}

	s.demux.Feed(pkt)
	if s.done {
		return false
	}

	if s.started && s.pcrPIDs[pid] {
		if _, seen := s.pcrMap[pid]; !seen {
			pcr := ts.ReadPCR(pkt)
			if !pcr.IsValid() {
				logging.Trace("PCR#%04X has no valid PCR...", pid)
			} else {
				logging.Info("PCR#%04X: %s", pid, pcr)
				s.pcrMap[pid] = pcr
				if len(s.pcrMap) == len(s.pcrPIDs) {
					s.done = true
					return false
				}
			}
		}
	}
	return true
}

func (s *PcrSynchronizer) handleTable(t *ts.Table) {
	switch t.TableID {
	case ts.TIDPAT:
		s.handlePAT(t)
	case ts.TIDPMT:
		s.handlePMT(t)
	case ts.TIDSDTAct:
		s.handleSDT(t)
	case ts.TIDTDT, ts.TIDTOT:
		s.handleTime(t)
	}
}

func (s *PcrSynchronizer) handlePAT(t *ts.Table) {
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
	if len(s.pmtPIDs) > 0 {
		s.resetStates()
	}
	for sid, pmtPID := range pat.PMTs {
		if !s.option.Sids.IsEmpty() && !s.option.Sids.Contains(sid) {
			logging.Debug("Ignore SID#%04X according to the inclusion list", sid)
			continue
		}
		if s.option.XSids.Contains(sid) {
			logging.Debug("Ignore SID#%04X according to the exclusion list", sid)
			continue
		}
		s.pmtPIDs[sid] = pmtPID
	}
	if len(s.pmtPIDs) == 0 {
		s.done = true
		logging.Warn("No service defined in PAT, done")
		return
	}
	s.demux.AddPID(ts.PIDSDT)
	logging.Debug("Demux SDT")
}

func (s *PcrSynchronizer) handleSDT(t *ts.Table) {
	sdt, err := ts.ParseSDT(t)
	if err != nil {
		logging.Warn("Broken SDT, skip: %v", err)
		return
	}
	s.nid = sdt.ONID
	s.tsid = sdt.TSID
	for sid, pid := range s.pmtPIDs {
		svc, ok := sdt.Services[sid]
		if !ok {
			continue
		}
		if !isAudioVideoService(svc.Type) {
			continue
		}
		s.pmtCnt++
		s.demux.AddPID(pid)
		logging.Debug("Demux PMT#%04X for SID#%04X ServiceType(%02X)",
			pid, sid, svc.Type)
	}
}

func (s *PcrSynchronizer) handlePMT(t *ts.Table) {
	pmt, err := ts.ParsePMT(t)
	if err != nil {
		logging.Warn("Broken PMT, skip: %v", err)
		return
	}
	pid, ok := s.pmtPIDs[pmt.SID]
	if !ok {
		logging.Warn("PMT.SID#%d unmatched, skip", pmt.SID)
		return
	}
	if pid != t.PID {
		logging.Warn("PMT.PID#%d unmatched, skip", t.PID)
		return
	}
	logging.Debug("PCR#%04X for SID#%04X", pmt.PCRPID, pmt.SID)
	s.pcrPIDMap[pmt.SID] = pmt.PCRPID
	if pmt.PCRPID != ts.PIDNull {
		s.pcrPIDs[pmt.PCRPID] = true
	}
	if len(s.pcrPIDMap) == s.pmtCnt {
		s.demux.AddPID(ts.PIDTOT)
		logging.Debug("Demux TDT/TOT")
	}
}

func (s *PcrSynchronizer) handleTime(t *ts.Table) {
	when, err := ts.ParseDateTime(t)
	if err != nil {
		logging.Warn("Broken TDT/TOT, skip: %v", err)
		return
	}
	logging.Info("Time: %s", when.Format(time.RFC3339))
	s.time = when
	s.started = true
}

func (s *PcrSynchronizer) resetStates() {
	logging.Info("Reset states")
	s.demux.RemovePID(ts.PIDTOT)
	for _, pid := range s.pmtPIDs {
		s.demux.RemovePID(pid)
	}
	s.demux.RemovePID(ts.PIDSDT)
	s.pmtPIDs = make(map[uint16]uint16)
	s.nid = 0
	s.tsid = 0
	s.pmtCnt = 0
	s.pcrPIDMap = make(map[uint16]uint16)
	s.pcrPIDs = make(map[uint16]bool)
	s.pcrMap = make(map[uint16]ts.PCR)
	s.started = false
	s.done = false
}
