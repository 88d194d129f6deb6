package collector

import (
	"github.com/Comcast/gots/packet"
	"github.com/Comcast/gots/pes"

	"github.com/aribtools/arib-ts/internal/logging"
	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/tsio"
)

// PesTimeJSON is one print-pes record: the timing fields observed at a PES
// packet start or at a PCR-bearing packet of the clock PID.
type PesTimeJSON struct {
	PID      uint16 `json:"pid"`
	StreamID uint8  `json:"streamId,omitempty"`
	PTS      *int64 `json:"pts,omitempty"`
	DTS      *int64 `json:"dts,omitempty"`
	PCR      *int64 `json:"pcr,omitempty"`
}

// PesPrinter emits one JSON line per PES header and per PCR observation of
// the selected service's elementary streams. It is a diagnostic tool for
// inspecting the timing layout of a stream.
type PesPrinter struct {
	option ProgramMetadataFilterOption
	demux  *ts.Demux
	jsonl  tsio.JsonlSink
	pmtPID uint16
	pcrPID uint16
	esPIDs map[uint16]bool
}

// NewPesPrinter returns a printer for option.SID (zero selects the first
// service in PAT).
func NewPesPrinter(option ProgramMetadataFilterOption) *PesPrinter {
	p := &PesPrinter{
		option: option,
		demux:  ts.NewDemux(),
		pmtPID: ts.PIDNull,
		pcrPID: ts.PIDNull,
		esPIDs: make(map[uint16]bool),
	}
	p.demux.SetTableHandler(p.handleTable)
	p.demux.AddPID(ts.PIDPAT)
	return p
}

// Connect installs the JSONL sink.
func (p *PesPrinter) Connect(sink tsio.JsonlSink) {
	p.jsonl = sink
}

func (p *PesPrinter) Start() bool { return true }
func (p *PesPrinter) End()        {}

func (p *PesPrinter) ExitCode() int { return tsio.ExitSuccess }

func (p *PesPrinter) HandlePacket(pkt *packet.Packet) bool {
	p.demux.Feed(pkt)

	pid := uint16(pkt.PID())
	if pid == p.pcrPID {
		if pcr := ts.ReadPCR(pkt); pcr.IsValid() {
			v := int64(pcr)
			p.write(PesTimeJSON{PID: pid, PCR: &v})
		}
	}
	if p.esPIDs[pid] && pkt.PayloadUnitStartIndicator() {
		p.printPES(pid, pkt)
	}
	return true
}

func (p *PesPrinter) printPES(pid uint16, pkt *packet.Packet) {
	pesBytes, err := packet.PESHeader(pkt)
	if err != nil {
		return
	}
	header, err := pes.NewPESHeader(pesBytes)
	if err != nil {
		logging.Debug("Broken PES header on PID#%04X: %v", pid, err)
		return
	}
	doc := PesTimeJSON{PID: pid, StreamID: header.StreamId()}
	if header.HasPTS() {
		v := int64(header.PTS())
		doc.PTS = &v
	}
	if header.HasDTS() {
		v := int64(header.DTS())
		doc.DTS = &v
	}
	p.write(doc)
}

func (p *PesPrinter) write(doc PesTimeJSON) {
	if p.jsonl != nil {
		p.jsonl.HandleDocument(doc)
	}
}

func (p *PesPrinter) handleTable(t *ts.Table) {
	switch t.TableID {
	case ts.TIDPAT:
		p.handlePAT(t)
	case ts.TIDPMT:
		p.handlePMT(t)
	}
}

func (p *PesPrinter) handlePAT(t *ts.Table) {
	if t.PID != ts.PIDPAT {
		return
	}
	pat, err := ts.ParsePAT(t)
	if err != nil {
		logging.Warn("Broken PAT, skip: %v", err)
		return
	}
	sid := p.option.SID
	if sid == 0 && len(pat.Order) > 0 {
		sid = pat.Order[0]
	}
	pmtPID, ok := pat.PMTs[sid]
	if !ok {
		return
	}
	if p.pmtPID != ts.PIDNull {
		p.demux.RemovePID(p.pmtPID)
	}
	p.pmtPID = pmtPID
	p.demux.AddPID(p.pmtPID)
}

func (p *PesPrinter) handlePMT(t *ts.Table) {
	pmt, err := ts.ParsePMT(t)
	if err != nil {
		logging.Warn("Broken PMT, skip: %v", err)
		return
	}
	p.pcrPID = pmt.PCRPID
	p.esPIDs = make(map[uint16]bool)
	for i := range pmt.Streams {
		s := &pmt.Streams[i]
		if s.IsVideo() || s.IsAudio() || s.IsSubtitles() {
			p.esPIDs[s.PID] = true
		}
	}
}
