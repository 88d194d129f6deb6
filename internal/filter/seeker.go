package filter

import (
	"time"

	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/logging"
	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/tsio"
)

// StartSeekerOption configures a StartSeeker.
type StartSeekerOption struct {
	SID uint16
	// MaxDuration bounds the seek by PCR-measured elapsed time.
	MaxDuration time.Duration
	// MaxPackets bounds the seek by buffered packet count. Zero means no
	// packet bound.
	MaxPackets int
}

type seekerState int

const (
	seekerSeek seekerState = iota
	seekerStreaming
)

// StartSeeker buffers the stream until a content transition is observed: a
// PMT whose video or audio PID set differs from the previously seen one.
// The buffer is then replayed from the transition point (prefixed with the
// latest PAT packet) and the seeker becomes a pass-through. Time and packet
// budgets bound the buffering.
type StartSeeker struct {
	option StartSeekerOption
	demux  *ts.Demux
	sink   tsio.PacketSink
	state  seekerState

	packets   []packet.Packet
	pmtPID    uint16
	pcrPID    uint16
	videoPIDs map[uint16]bool
	audioPIDs map[uint16]bool
	endPCR    ts.PCR

	transitionIndex uint64
	patIndex        uint64
}

// NewStartSeeker returns a seeker for option.SID.
func NewStartSeeker(option StartSeekerOption) *StartSeeker {
	s := &StartSeeker{
		option: option,
		demux:  ts.NewDemux(),
		pmtPID: ts.PIDNull,
		pcrPID: ts.PIDNull,
		endPCR: ts.InvalidPCR,
	}
	s.demux.SetTableHandler(s.handleTable)
	s.demux.AddPID(ts.PIDPAT)
	logging.Debug("Demux += PAT")
	return s
}

// Connect installs the downstream sink.
func (s *StartSeeker) Connect(sink tsio.PacketSink) {
	s.sink = sink
}

func (s *StartSeeker) Start() bool {
	if s.sink == nil {
		logging.Error("No sink has been connected")
		return false
	}
	return s.sink.Start()
}

func (s *StartSeeker) End() {
	if s.sink == nil {
		return
	}
	s.sendPackets(0) // flush whatever is still buffered
	s.sink.End()
}

func (s *StartSeeker) ExitCode() int {
	if s.sink == nil {
		return tsio.ExitFailure
	}
	return s.sink.ExitCode()
}

func (s *StartSeeker) HandlePacket(pkt *packet.Packet) bool {
	if s.sink == nil {
		logging.Error("No sink has been connected")
		return false
	}
	s.demux.Feed(pkt)
	switch s.state {
	case seekerSeek:
		return s.seek(pkt)
	default:
		return s.sink.HandlePacket(pkt)
	}
}

func (s *StartSeeker) seek(pkt *packet.Packet) bool {
	pid := uint16(pkt.PID())

	s.packets = append(s.packets, *pkt)

	if s.transitionIndex > 0 {
		logging.Info("Found transition point, start streaming")
		if !s.sink.HandlePacket(&s.packets[s.patIndex]) {
			return false
		}
		if !s.sendPackets(int(s.transitionIndex)) {
			return false
		}
		s.state = seekerStreaming
		return true
	}

	if s.option.MaxPackets != 0 && len(s.packets) >= s.option.MaxPackets {
		logging.Info("The number of packets reached the limit, start streaming")
		if !s.sendPackets(0) {
			return false
		}
		s.state = seekerStreaming
		return true
	}

	if s.pcrPID == ts.PIDNull || s.pcrPID != pid {
		return true
	}
	pcr := ts.ReadPCR(pkt)
	if !pcr.IsValid() {
		logging.Trace("PCR#%04X has no valid PCR...", pid)
		return true
	}

	if s.endPCR == ts.InvalidPCR {
		s.endPCR = pcr.AddMs(s.option.MaxDuration.Milliseconds())
		logging.Debug("End PCR: %s", s.endPCR)
		return true
	}
	if ts.ComparePCR(pcr, s.endPCR) < 0 {
		return true
	}

	logging.Info("The duration reached the limit, start streaming")
	if !s.sendPackets(0) {
		return false
	}
	s.state = seekerStreaming
	return true
}

// sendPackets replays the buffer from index and clears it.
func (s *StartSeeker) sendPackets(index int) bool {
	ok := true
	for i := index; i < len(s.packets); i++ {
		if ok = s.sink.HandlePacket(&s.packets[i]); !ok {
			break
		}
	}
	s.packets = nil
	return ok
}

func (s *StartSeeker) handleTable(t *ts.Table) {
	switch t.TableID {
	case ts.TIDPAT:
		s.handlePAT(t)
	case ts.TIDPMT:
		s.handlePMT(t)
	}
}

func (s *StartSeeker) handlePAT(t *ts.Table) {
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
	newPMTPID, ok := pat.PMTs[s.option.SID]
	if !ok {
		logging.Warn("SID#%04X not in PAT, skip", s.option.SID)
		return
	}
	if s.pmtPID != ts.PIDNull {
		logging.Debug("Demux -= PMT#%04X", s.pmtPID)
		s.demux.RemovePID(s.pmtPID)
		s.pmtPID = ts.PIDNull
	}
	s.pmtPID = newPMTPID
	s.demux.AddPID(s.pmtPID)
	logging.Debug("Demux += PMT#%04X", s.pmtPID)

	// A PAT fits a single packet, so the table's first packet is the packet
	// to replay.
	s.patIndex = t.PacketIndex
	logging.Debug("PAT packet#%d", s.patIndex)
}

func (s *StartSeeker) handlePMT(t *ts.Table) {
	pmt, err := ts.ParsePMT(t)
	if err != nil {
		logging.Warn("Broken PMT, skip: %v", err)
		return
	}
	if pmt.SID != s.option.SID {
		logging.Warn("PMT.SID#%d unmatched, skip", pmt.SID)
		return
	}

	s.pcrPID = pmt.PCRPID
	logging.Debug("PCR#%04X", s.pcrPID)

	videoPIDs := make(map[uint16]bool)
	audioPIDs := make(map[uint16]bool)
	for i := range pmt.Streams {
		st := &pmt.Streams[i]
		if st.IsVideo() {
			logging.Debug("Found video#%04X", st.PID)
			videoPIDs[st.PID] = true
		}
		if st.IsAudio() {
			logging.Debug("Found audio#%04X", st.PID)
			audioPIDs[st.PID] = true
		}
	}

	changed := false
	if len(s.videoPIDs) > 0 && !equalPIDSets(s.videoPIDs, videoPIDs) {
		changed = true
		logging.Debug("video streams change")
	}
	if len(s.audioPIDs) > 0 && !equalPIDSets(s.audioPIDs, audioPIDs) {
		changed = true
		logging.Debug("audio streams change")
	}
	s.videoPIDs = videoPIDs
	s.audioPIDs = audioPIDs

	if changed {
		s.transitionIndex = t.PacketIndex
		logging.Debug("The content changes at packet#%d", s.transitionIndex)
		logging.Debug("Demux -= PAT PMT#%04X", s.pmtPID)
		s.demux.RemovePID(s.pmtPID)
		s.demux.RemovePID(ts.PIDPAT)
		s.pmtPID = ts.PIDNull
	}
}

func equalPIDSets(a, b map[uint16]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for pid := range a {
		if !b[pid] {
			return false
		}
	}
	return true
}
