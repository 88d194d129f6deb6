package collector

import (
	"time"

	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/logging"
	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/tsio"
)

// EitCollectorOption configures an EitCollector.
type EitCollectorOption struct {
	XSids *SidSet
}

// EitCollector collects EIT schedule sections (tables 0x50..0x6F) and emits
// one JSON document per newly observed section. It stops once the
// completion matrix of every observed service is satisfied.
type EitCollector struct {
	option       EitCollectorOption
	demux        *ts.Demux
	jsonl        tsio.JsonlSink
	hasTimestamp bool
	timestamp    time.Time // JST
	progress     *collectProgress
	showProgress bool
	startTime    time.Time
}

// NewEitCollector returns a collector excluding option.XSids.
func NewEitCollector(option EitCollectorOption) *EitCollector {
	c := &EitCollector{
		option:       option,
		demux:        ts.NewDemux(),
		progress:     newCollectProgress(),
		showProgress: logging.DebugEnabled(),
	}
	c.demux.SetSectionHandler(c.handleSection)
	c.demux.SetTableHandler(c.handleTable)
	c.demux.AddPID(ts.PIDEIT)
	c.demux.AddPID(ts.PIDTOT)
	return c
}

// Connect installs the JSONL sink.
func (c *EitCollector) Connect(sink tsio.JsonlSink) {
	c.jsonl = sink
}

func (c *EitCollector) Start() bool {
	c.startTime = time.Now()
	return true
}

func (c *EitCollector) End() {
	elapsed := time.Since(c.startTime)
	logging.Info("Collected %d services, %d sections, %s elapsed",
		c.progress.countServices(), c.progress.countSections(), elapsed.Round(time.Millisecond))
}

func (c *EitCollector) ExitCode() int {
	return tsio.ExitSuccess
}

func (c *EitCollector) HandlePacket(pkt *packet.Packet) bool {
	c.demux.Feed(pkt)
	if c.progress.isCompleted() {
		logging.Info("Completed")
		return false
	}
	return true
}

func (c *EitCollector) handleSection(sec *ts.Section) {
	tid := sec.TableID()
	if tid < ts.TIDEITSchedMin || tid > ts.TIDEITMax {
		return
	}
	if !sec.IsLong() || !sec.IsCurrent() {
		return
	}
	eit, err := ts.NewEitSection(sec)
	if err != nil {
		return
	}
	eit.HasTimestamp = c.hasTimestamp
	eit.Timestamp = c.timestamp

	if c.checkCollected(eit) {
		return
	}

	logging.Info("EIT: onid(%04X) tsid(%04X) sid(%04X) tid(%04X/%02X)"+
		" sec(%02X:%02X/%02X) ver(%02d)",
		eit.NID, eit.TSID, eit.SID, eit.TID, eit.LastTableID,
		eit.SectionNumber, eit.SegmentLastSectionNumber,
		eit.LastSectionNumber, eit.Version)

	c.writeEitSection(eit)
	c.updateProgress(eit)
}

func (c *EitCollector) handleTable(t *ts.Table) {
	// In ARIB the timezone of TDT/TOT is JST.
	switch t.TableID {
	case ts.TIDTDT, ts.TIDTOT:
		when, err := ts.ParseDateTime(t)
		if err != nil {
			logging.Warn("Broken TDT/TOT, skip: %v", err)
			return
		}
		c.hasTimestamp = true
		c.timestamp = when
		logging.Info("Timestamp: %s", when.Format(time.RFC3339))
	}
}

func (c *EitCollector) checkCollected(eit *ts.EitSection) bool {
	if c.option.XSids.Contains(eit.SID) {
		return true
	}
	return c.progress.checkCollected(eit)
}

func (c *EitCollector) writeEitSection(eit *ts.EitSection) {
	if c.jsonl != nil {
		c.jsonl.HandleDocument(makeEitSectionJSON(eit))
	}
}

func (c *EitCollector) updateProgress(eit *ts.EitSection) {
	c.progress.update(eit)
	if c.showProgress {
		c.progress.show()
	}
}
