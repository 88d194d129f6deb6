package collector

import (
	"encoding/base64"

	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/logging"
	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/tsio"
)

// LogoJSON is one collected channel logo. Data is the raw logo data module
// payload; splicing the PNG palette chunks is left to the consumer.
type LogoJSON struct {
	NID         uint16 `json:"nid"`
	LogoID      int    `json:"logoId"`
	LogoType    uint8  `json:"logoType"`
	LogoVersion uint16 `json:"logoVersion"`
	Data        string `json:"data"`
}

// LogoCollector reassembles CDT sections (PID 0x0029) and emits one JSON
// document per (network, type, id, version) logo.
type LogoCollector struct {
	demux *ts.Demux
	jsonl tsio.JsonlSink
	seen  map[uint64]bool
}

// NewLogoCollector returns a collector for CDT logo data.
func NewLogoCollector() *LogoCollector {
	c := &LogoCollector{
		demux: ts.NewDemux(),
		seen:  make(map[uint64]bool),
	}
	c.demux.SetSectionHandler(c.handleSection)
	c.demux.AddPID(ts.PIDCDT)
	logging.Debug("Demux CDT")
	return c
}

// Connect installs the JSONL sink.
func (c *LogoCollector) Connect(sink tsio.JsonlSink) {
	c.jsonl = sink
}

func (c *LogoCollector) Start() bool { return true }
func (c *LogoCollector) End()        {}

func (c *LogoCollector) ExitCode() int { return tsio.ExitSuccess }

func (c *LogoCollector) HandlePacket(pkt *packet.Packet) bool {
	c.demux.Feed(pkt)
	return true
}

func (c *LogoCollector) handleSection(sec *ts.Section) {
	if sec.TableID() != ts.TIDCDT || !sec.IsLong() || !sec.IsCurrent() {
		return
	}
	p := sec.Payload()
	// original_network_id, data_type, descriptors_loop_length, descriptors,
	// then the data module.
	if len(p) < 5 {
		logging.Warn("Too short CDT payload, skip")
		return
	}
	nid := uint16(p[0])<<8 | uint16(p[1])
	dataType := p[2]
	if dataType != 0x01 { // 0x01 = logo data
		return
	}
	descLen := int(p[3]&0x0F)<<8 | int(p[4])
	if 5+descLen > len(p) {
		logging.Warn("Broken CDT descriptor loop, skip")
		return
	}
	mod := p[5+descLen:]
	// Logo data module: logo_type, logo_id (9 bits), logo_version (12 bits),
	// data_size, data.
	if len(mod) < 7 {
		logging.Warn("Too short CDT logo module, skip")
		return
	}
	logoType := mod[0]
	logoID := int(uint16(mod[1]&0x01)<<8 | uint16(mod[2]))
	logoVersion := uint16(mod[3]&0x0F)<<8 | uint16(mod[4])
	dataSize := int(mod[5])<<8 | int(mod[6])
	data := mod[7:]
	if dataSize < len(data) {
		data = data[:dataSize]
	}

	key := uint64(nid)<<32 | uint64(logoType)<<24 | uint64(logoID)<<12 | uint64(logoVersion)
	if c.seen[key] {
		return
	}
	c.seen[key] = true

	logging.Info("Logo: nid(%04X) type(%02X) id(%03X) ver(%03X) %d bytes",
		nid, logoType, logoID, logoVersion, len(data))

	if c.jsonl != nil {
		c.jsonl.HandleDocument(LogoJSON{
			NID:         nid,
			LogoID:      logoID,
			LogoType:    logoType,
			LogoVersion: logoVersion,
			Data:        base64.StdEncoding.EncodeToString(data),
		})
	}
}
