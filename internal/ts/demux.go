package ts

import (
	"sort"

	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/logging"
)

// Table is a complete PSI/SI table: every section of one
// (table_id, table_id_extension, version), in section-number order.
// Short-header tables (TDT/TOT) are delivered as single-section tables.
type Table struct {
	PID              uint16
	TableID          uint8
	TableIDExtension uint16
	Version          uint8
	Sections         []*Section
	// PacketIndex is the packet index at which the table's first section
	// started.
	PacketIndex uint64
}

// SectionHandler receives every valid section of a subscribed PID.
type SectionHandler func(s *Section)

// TableHandler receives complete tables of subscribed PIDs. Long tables are
// delivered once per version; TDT/TOT are delivered on every occurrence.
type TableHandler func(t *Table)

// Demux extracts PSI/SI sections from a chosen set of PIDs and reassembles
// them into tables. PIDs can be added and removed while feeding, which is how
// the filters chase PMT PIDs learned from PAT.
type Demux struct {
	assemblers     map[uint16]*sectionAssembler
	tables         map[uint64]*tableAssembly
	sectionHandler SectionHandler
	tableHandler   TableHandler
	packetCount    uint64
}

type tableAssembly struct {
	version     uint8
	hasVersion  bool
	sections    map[uint8]*Section
	last        uint8
	reportedVer uint8
	reported    bool
}

// NewDemux returns an empty demux; subscribe PIDs with AddPID.
func NewDemux() *Demux {
	return &Demux{
		assemblers: make(map[uint16]*sectionAssembler),
		tables:     make(map[uint64]*tableAssembly),
	}
}

// SetSectionHandler installs h for raw section delivery.
func (d *Demux) SetSectionHandler(h SectionHandler) { d.sectionHandler = h }

// SetTableHandler installs h for complete-table delivery.
func (d *Demux) SetTableHandler(h TableHandler) { d.tableHandler = h }

// AddPID subscribes pid. Adding an already subscribed PID is a no-op.
func (d *Demux) AddPID(pid uint16) {
	if _, ok := d.assemblers[pid]; !ok {
		d.assemblers[pid] = newSectionAssembler(pid)
	}
}

// RemovePID unsubscribes pid and drops any partially assembled state.
func (d *Demux) RemovePID(pid uint16) {
	delete(d.assemblers, pid)
	for key := range d.tables {
		if uint16(key>>32) == pid {
			delete(d.tables, key)
		}
	}
}

// PacketCount returns the number of packets fed so far.
func (d *Demux) PacketCount() uint64 { return d.packetCount }

// Feed routes one packet into the demux. Packets of unsubscribed PIDs only
// advance the packet counter.
func (d *Demux) Feed(pkt *packet.Packet) {
	index := d.packetCount
	d.packetCount++

	asm, ok := d.assemblers[uint16(pkt.PID())]
	if !ok || !pkt.HasPayload() {
		return
	}
	payload, err := pkt.Payload()
	if err != nil {
		return
	}
	sections := asm.feed(payload, pkt.PayloadUnitStartIndicator(), pkt.ContinuityCounter(), index)
	for _, sec := range sections {
		d.handleSection(sec)
	}
}

func (d *Demux) handleSection(sec *Section) {
	if err := sec.validate(); err != nil {
		logging.Debug("Dropped section on PID#%04X: %v", sec.PID, err)
		return
	}
	if d.sectionHandler != nil {
		d.sectionHandler(sec)
	}
	if d.tableHandler == nil {
		return
	}
	if !sec.IsLong() {
		d.tableHandler(&Table{
			PID:         sec.PID,
			TableID:     sec.TableID(),
			Sections:    []*Section{sec},
			PacketIndex: sec.PacketIndex,
		})
		return
	}
	if !sec.IsCurrent() {
		return
	}
	key := uint64(sec.PID)<<32 | uint64(sec.TableID())<<16 | uint64(sec.TableIDExtension())
	ta := d.tables[key]
	if ta == nil {
		ta = &tableAssembly{}
		d.tables[key] = ta
	}
	if !ta.hasVersion || ta.version != sec.Version() || ta.last != sec.LastSectionNumber() {
		ta.version = sec.Version()
		ta.hasVersion = true
		ta.last = sec.LastSectionNumber()
		ta.sections = make(map[uint8]*Section)
	}
	ta.sections[sec.SectionNumber()] = sec
	if ta.reported && ta.reportedVer == ta.version {
		return
	}
	if len(ta.sections) != int(ta.last)+1 {
		return
	}
	nums := make([]int, 0, len(ta.sections))
	for n := range ta.sections {
		nums = append(nums, int(n))
	}
	sort.Ints(nums)
	tbl := &Table{
		PID:              sec.PID,
		TableID:          sec.TableID(),
		TableIDExtension: sec.TableIDExtension(),
		Version:          ta.version,
	}
	for _, n := range nums {
		tbl.Sections = append(tbl.Sections, ta.sections[uint8(n)])
	}
	tbl.PacketIndex = tbl.Sections[0].PacketIndex
	ta.reported = true
	ta.reportedVer = ta.version
	d.tableHandler(tbl)
}
