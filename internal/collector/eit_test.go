package collector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/ts/tstest"
)

// smallSchedule builds the four sections of a minimal complete schedule:
// two segments with two sections each, one sub-table, basic group only.
func smallSchedule(version uint8) []tstest.EitConfig {
	base := tstest.EitConfig{
		TableID: 0x50, SID: 0x0400, TSID: 0x7FE0, NID: 0x7FE0,
		Version:           version,
		LastSectionNumber: 0x09,
		LastTableID:       0x50,
	}
	var cfgs []tstest.EitConfig
	for _, sn := range []uint8{0x00, 0x01, 0x08, 0x09} {
		cfg := base
		cfg.SectionNumber = sn
		if sn < 0x08 {
			cfg.SegmentLastSectionNumber = 0x01
		} else {
			cfg.SegmentLastSectionNumber = 0x09
		}
		cfg.Events = []tstest.EitEvent{{
			EventID:   0x1000 + uint16(sn),
			StartTime: jst(2021, 1, 1, 0, 0, 0),
			Duration:  30 * time.Minute,
		}}
		cfgs = append(cfgs, cfg)
	}
	return cfgs
}

func TestEitCollectorCompletes(t *testing.T) {
	c := NewEitCollector(EitCollectorOption{XSids: NewSidSet()})
	jsonl := &captureJsonl{}
	c.Connect(jsonl)
	require.True(t, c.Start())

	cc := byte(0)
	cfgs := smallSchedule(1)
	for i, cfg := range cfgs {
		ok := feed(c, tstest.EitPackets(&cc, cfg))
		if i < len(cfgs)-1 {
			require.True(t, ok, "section %d must not complete the matrix", i)
		} else {
			require.False(t, ok, "the last section completes the matrix")
		}
	}
	c.End()

	require.Len(t, jsonl.docs, 4)
	doc := jsonl.docs[0].(EitSectionJSON)
	assert.Equal(t, uint16(0x7FE0), doc.OriginalNetworkID)
	assert.Equal(t, uint16(0x0400), doc.ServiceID)
	assert.Equal(t, uint8(0x50), doc.TableID)
	require.Len(t, doc.Events, 1)
	assert.Equal(t, uint16(0x1000), doc.Events[0].EventID)
}

func TestEitCollectorIdempotentAccept(t *testing.T) {
	// The same section presented twice produces exactly one document.
	c := NewEitCollector(EitCollectorOption{XSids: NewSidSet()})
	jsonl := &captureJsonl{}
	c.Connect(jsonl)
	require.True(t, c.Start())

	cfg := smallSchedule(1)[0]
	cc := byte(0)
	require.True(t, feed(c, tstest.EitPackets(&cc, cfg)))
	require.True(t, feed(c, tstest.EitPackets(&cc, cfg)))
	assert.Len(t, jsonl.docs, 1)
}

func TestEitCollectorVersionBumpReaccepts(t *testing.T) {
	c := NewEitCollector(EitCollectorOption{XSids: NewSidSet()})
	jsonl := &captureJsonl{}
	c.Connect(jsonl)
	require.True(t, c.Start())

	cc := byte(0)
	cfg := smallSchedule(1)[0]
	require.True(t, feed(c, tstest.EitPackets(&cc, cfg)))
	cfg.Version = 2
	require.True(t, feed(c, tstest.EitPackets(&cc, cfg)))
	assert.Len(t, jsonl.docs, 2)
}

func TestEitCollectorExcludedSid(t *testing.T) {
	c := NewEitCollector(EitCollectorOption{XSids: NewSidSet(0x0400)})
	jsonl := &captureJsonl{}
	c.Connect(jsonl)
	require.True(t, c.Start())

	cc := byte(0)
	require.True(t, feed(c, tstest.EitPackets(&cc, smallSchedule(1)[0])))
	assert.Empty(t, jsonl.docs)
}

func TestEitCollectorIgnoresPF(t *testing.T) {
	c := NewEitCollector(EitCollectorOption{XSids: NewSidSet()})
	jsonl := &captureJsonl{}
	c.Connect(jsonl)
	require.True(t, c.Start())

	cc := byte(0)
	pkts := tstest.EitPFPackets(&cc, 1, 2, 3, 0,
		tstest.EitEvent{EventID: 1, StartTime: jst(2021, 1, 1, 0, 0, 0), Duration: time.Hour},
		tstest.EitEvent{EventID: 2, StartTime: jst(2021, 1, 1, 1, 0, 0), Duration: time.Hour},
	)
	require.True(t, feed(c, pkts))
	assert.Empty(t, jsonl.docs, "p/f sections are not schedule sections")
}

func TestTableProgressTimestampMarksPastSegments(t *testing.T) {
	// With a 06:00 timestamp the first two 3-hour segments of sub-table 0
	// are unused; only the remaining segment of this tiny matrix is needed.
	tp := newTableProgress()
	cfg := tstest.EitConfig{
		TableID: 0x50, SID: 1, TSID: 2, NID: 3,
		SectionNumber: 0x10, LastSectionNumber: 0x10,
		SegmentLastSectionNumber: 0x10,
		LastTableID:              0x50,
	}
	sec := sectionOf(t, cfg)
	eit, err := ts.NewEitSection(sec)
	require.NoError(t, err)
	eit.HasTimestamp = true
	eit.Timestamp = jst(2021, 1, 1, 6, 0, 0)

	tp.update(eit)
	assert.True(t, tp.isCompleted(),
		"segments before the timestamp and after the last section must be unused")
}

func sectionOf(t *testing.T, cfg tstest.EitConfig) *ts.Section {
	t.Helper()
	demux := ts.NewDemux()
	var sec *ts.Section
	demux.SetSectionHandler(func(s *ts.Section) { sec = s })
	demux.AddPID(ts.PIDEIT)
	cc := byte(0)
	for _, pkt := range tstest.EitPackets(&cc, cfg) {
		p := pkt
		demux.Feed(&p)
	}
	require.NotNil(t, sec)
	return sec
}
