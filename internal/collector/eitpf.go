package collector

import (
	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/logging"
	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/tsio"
)

// EitpfCollectorOption configures an EitpfCollector.
type EitpfCollectorOption struct {
	Sids *SidSet
	// Streaming keeps the collector running after every configured service
	// has been seen once.
	Streaming bool
	// Present/Following select which sections are emitted.
	Present   bool
	Following bool
}

// EitpfCollector emits EIT present/following (Actual) sections for the
// configured services as JSON documents, deduplicated per version.
type EitpfCollector struct {
	option            EitpfCollectorOption
	demux             *ts.Demux
	jsonl             tsio.JsonlSink
	presentVersions   map[uint64]uint8
	followingVersions map[uint64]uint8
}

// NewEitpfCollector returns a collector for option.Sids.
func NewEitpfCollector(option EitpfCollectorOption) *EitpfCollector {
	c := &EitpfCollector{
		option:            option,
		demux:             ts.NewDemux(),
		presentVersions:   make(map[uint64]uint8),
		followingVersions: make(map[uint64]uint8),
	}
	c.demux.SetSectionHandler(c.handleSection)
	c.demux.AddPID(ts.PIDEIT)
	logging.Debug("Demux EIT")
	return c
}

// Connect installs the JSONL sink.
func (c *EitpfCollector) Connect(sink tsio.JsonlSink) {
	c.jsonl = sink
}

func (c *EitpfCollector) Start() bool { return true }
func (c *EitpfCollector) End()        {}

func (c *EitpfCollector) ExitCode() int { return tsio.ExitSuccess }

func (c *EitpfCollector) HandlePacket(pkt *packet.Packet) bool {
	c.demux.Feed(pkt)
	return !c.done()
}

func (c *EitpfCollector) done() bool {
	if c.option.Streaming {
		return false
	}
	if c.option.Present && len(c.presentVersions) != c.option.Sids.Size() {
		return false
	}
	if c.option.Following && len(c.followingVersions) != c.option.Sids.Size() {
		return false
	}
	logging.Info("Collected all sections")
	return true
}

func isCollected(eit *ts.EitSection, versions map[uint64]uint8) bool {
	v, ok := versions[eit.ServiceTriple()]
	return ok && v == eit.Version
}

func (c *EitpfCollector) handleSection(sec *ts.Section) {
	if sec.TableID() != ts.TIDEITPFAct {
		return
	}
	if !sec.IsLong() || !sec.IsCurrent() {
		return
	}
	eit, err := ts.NewEitSection(sec)
	if err != nil {
		logging.Warn("Too short payload, skip")
		return
	}
	if !c.option.Sids.IsEmpty() && !c.option.Sids.Contains(eit.SID) {
		logging.Debug("Ignore SID#%04X according to the inclusion list", eit.SID)
		return
	}

	switch eit.SectionNumber {
	case 0:
		if isCollected(eit, c.presentVersions) {
			return
		}
		logging.Info("EIT[p]: onid(%04X) tsid(%04X) sid(%04X) ver(%02d)",
			eit.NID, eit.TSID, eit.SID, eit.Version)
		if c.option.Present {
			c.write(eit)
		}
		c.presentVersions[eit.ServiceTriple()] = eit.Version
	case 1:
		if isCollected(eit, c.followingVersions) {
			return
		}
		logging.Info("EIT[f]: onid(%04X) tsid(%04X) sid(%04X) ver(%02d)",
			eit.NID, eit.TSID, eit.SID, eit.Version)
		if c.option.Following {
			c.write(eit)
		}
		c.followingVersions[eit.ServiceTriple()] = eit.Version
	default:
		logging.Debug("Ignore unknown section#%02X", eit.SectionNumber)
	}
}

func (c *EitpfCollector) write(eit *ts.EitSection) {
	if c.jsonl != nil {
		c.jsonl.HandleDocument(makeEitSectionJSON(eit))
	}
}
