package collector

import (
	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/logging"
	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/tsio"
)

// ServiceScannerOption configures a ServiceScanner.
type ServiceScannerOption struct {
	Sids  *SidSet
	XSids *SidSet
}

// ServiceJSON is one scanned service entry.
type ServiceJSON struct {
	NID                uint16 `json:"nid"`
	TSID               uint16 `json:"tsid"`
	SID                uint16 `json:"sid"`
	Name               string `json:"name"`
	Type               uint8  `json:"type"`
	LogoID             int    `json:"logoId"`
	RemoteControlKeyID uint8  `json:"remoteControlKeyId,omitempty"`
}

// ServiceScanner waits for PAT, SDT and NIT, then emits one JSON array
// describing the audio/video services of the stream.
type ServiceScanner struct {
	option ServiceScannerOption
	demux  *ts.Demux
	jsonl  tsio.JsonlSink
	pat    *ts.PAT
	sdt    *ts.SDT
	nit    *ts.NIT
}

// NewServiceScanner returns a scanner honoring the given SID lists.
func NewServiceScanner(option ServiceScannerOption) *ServiceScanner {
	s := &ServiceScanner{
		option: option,
		demux:  ts.NewDemux(),
	}
	s.demux.SetTableHandler(s.handleTable)
	s.demux.AddPID(ts.PIDPAT)
	s.demux.AddPID(ts.PIDNIT)
	s.demux.AddPID(ts.PIDSDT)
	return s
}

// Connect installs the JSONL sink.
func (s *ServiceScanner) Connect(sink tsio.JsonlSink) {
	s.jsonl = sink
}

func (s *ServiceScanner) Start() bool { return true }

func (s *ServiceScanner) End() {
	if !s.completed() {
		return
	}
	s.jsonl.HandleDocument(s.collectServices())
}

func (s *ServiceScanner) ExitCode() int {
	if !s.completed() {
		return tsio.ExitFailure
	}
	return tsio.ExitSuccess
}

func (s *ServiceScanner) HandlePacket(pkt *packet.Packet) bool {
	s.demux.Feed(pkt)
	if s.completed() {
		logging.Info("Ready to collect services")
		return false
	}
	return true
}

func (s *ServiceScanner) completed() bool {
	return s.pat != nil && s.sdt != nil && s.nit != nil
}

func (s *ServiceScanner) handleTable(t *ts.Table) {
	switch t.TableID {
	case ts.TIDPAT:
		s.handlePAT(t)
	case ts.TIDNITAct:
		s.handleNIT(t)
	case ts.TIDSDTAct:
		s.handleSDT(t)
	}
}

func (s *ServiceScanner) handlePAT(t *ts.Table) {
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
	if pat.NITPID != ts.PIDNull && pat.NITPID != ts.PIDNIT {
		logging.Info("Non-standard NIT#%04X, reset NIT", pat.NITPID)
		s.nit = nil
		s.demux.RemovePID(ts.PIDNIT)
		s.demux.AddPID(pat.NITPID)
	}
	s.pat = pat
	logging.Info("PAT ready")
}

func (s *ServiceScanner) handleNIT(t *ts.Table) {
	nit, err := ts.ParseNIT(t)
	if err != nil {
		logging.Warn("Broken NIT, skip: %v", err)
		return
	}
	s.nit = nit
	logging.Info("NIT ready")
}

func (s *ServiceScanner) handleSDT(t *ts.Table) {
	sdt, err := ts.ParseSDT(t)
	if err != nil {
		logging.Warn("Broken SDT, skip: %v", err)
		return
	}
	if sdt.TSID == 0 {
		logging.Warn("SDT for TSID#0000, skip")
		return
	}
	s.sdt = sdt
	logging.Info("SDT ready")
}

// isAudioVideoService reports whether the SDT service type is one of the
// digital TV / audio types worth listing.
func isAudioVideoService(typ uint8) bool {
	switch typ {
	case 0x01, 0x02, 0xA1, 0xA2, 0xA5, 0xA6:
		return true
	}
	return false
}

func (s *ServiceScanner) collectServices() []ServiceJSON {
	services := []ServiceJSON{}
	for _, sid := range s.pat.Order {
		if !s.option.Sids.IsEmpty() && !s.option.Sids.Contains(sid) {
			logging.Debug("Ignore SID#%04X according to the inclusion list", sid)
			continue
		}
		if s.option.XSids.Contains(sid) {
			logging.Debug("Ignore SID#%04X according to the exclusion list", sid)
			continue
		}
		svc, ok := s.sdt.Services[sid]
		if !ok {
			continue
		}
		if !isAudioVideoService(svc.Type) {
			continue
		}
		entry := ServiceJSON{
			NID:    s.sdt.ONID,
			TSID:   s.sdt.TSID,
			SID:    sid,
			Name:   svc.Name,
			Type:   svc.Type,
			LogoID: svc.LogoID(),
		}
		if tr := s.nit.Transport(s.sdt.TSID, s.sdt.ONID); tr != nil {
			if key, ok := tr.RemoteControlKeyID(); ok {
				entry.RemoteControlKeyID = key
			}
		}
		services = append(services, entry)
	}
	return services
}
