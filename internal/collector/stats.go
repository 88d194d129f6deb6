package collector

import (
	"sort"

	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/tsio"
)

// PidStatsJSON is the per-PID entry of the packet statistics document.
type PidStatsJSON struct {
	PID       uint16 `json:"pid"`
	Packets   uint64 `json:"packets"`
	CCErrors  uint64 `json:"ccErrors"`
	Scrambled uint64 `json:"scrambled"`
}

// PacketStatsJSON is the document emitted by collect-packet-stats on End.
type PacketStatsJSON struct {
	Packets uint64         `json:"packets"`
	Pids    []PidStatsJSON `json:"pids"`
}

type pidStats struct {
	packets   uint64
	ccErrors  uint64
	scrambled uint64
	lastCC    int
	hasCC     bool
}

// PacketStatsCollector counts packets, continuity errors and scrambled
// packets per PID and emits one summary document at end of stream.
type PacketStatsCollector struct {
	jsonl tsio.JsonlSink
	total uint64
	pids  map[uint16]*pidStats
}

// NewPacketStatsCollector returns an empty stats collector.
func NewPacketStatsCollector() *PacketStatsCollector {
	return &PacketStatsCollector{pids: make(map[uint16]*pidStats)}
}

// Connect installs the JSONL sink.
func (c *PacketStatsCollector) Connect(sink tsio.JsonlSink) {
	c.jsonl = sink
}

func (c *PacketStatsCollector) Start() bool { return true }

func (c *PacketStatsCollector) End() {
	if c.jsonl == nil {
		return
	}
	pids := make([]int, 0, len(c.pids))
	for pid := range c.pids {
		pids = append(pids, int(pid))
	}
	sort.Ints(pids)
	doc := PacketStatsJSON{Packets: c.total, Pids: []PidStatsJSON{}}
	for _, pid := range pids {
		st := c.pids[uint16(pid)]
		doc.Pids = append(doc.Pids, PidStatsJSON{
			PID:       uint16(pid),
			Packets:   st.packets,
			CCErrors:  st.ccErrors,
			Scrambled: st.scrambled,
		})
	}
	c.jsonl.HandleDocument(doc)
}

func (c *PacketStatsCollector) ExitCode() int { return tsio.ExitSuccess }

func (c *PacketStatsCollector) HandlePacket(pkt *packet.Packet) bool {
	c.total++
	pid := uint16(pkt.PID())
	st := c.pids[pid]
	if st == nil {
		st = &pidStats{}
		c.pids[pid] = st
	}
	st.packets++
	if pkt[3]&0xC0 != 0 {
		st.scrambled++
	}
	cc := pkt.ContinuityCounter()
	if pid != ts.PIDNull && st.hasCC && pkt.HasPayload() {
		if cc != (st.lastCC+1)&0x0F && cc != st.lastCC {
			st.ccErrors++
		}
	}
	st.lastCC = cc
	st.hasCC = true
	return true
}
