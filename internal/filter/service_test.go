package filter

import (
	"testing"
	"time"

	"github.com/Comcast/gots/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/ts/tstest"
	"github.com/aribtools/arib-ts/internal/tsio"
)

func jst(year int, month time.Month, day, hour, min, sec int) time.Time {
	return time.Date(year, month, day, hour, min, sec, 0, ts.JST)
}

func twoServicePAT() *ts.PAT {
	return &ts.PAT{
		TSID:   0x1234,
		NITPID: ts.PIDNIT,
		PMTs:   map[uint16]uint16{0x0001: 0x0101, 0x0002: 0x0102},
		Order:  []uint16{0x0001, 0x0002},
	}
}

func serviceOnePMT() *ts.PMT {
	return &ts.PMT{
		SID:    0x0001,
		PCRPID: 0x0901,
		Streams: []ts.PMTStream{
			{Type: ts.StreamTypeMPEG2Video, PID: 0x0301},
			{Type: ts.StreamTypeADTSAudio, PID: 0x0302},
			{Type: ts.StreamTypePrivate, PID: 0x0303,
				Descriptors: []ts.Descriptor{{Tag: ts.DescStreamIdentifier, Data: []byte{0x30}}}},
			{Type: ts.StreamTypePrivate, PID: 0x0304,
				Descriptors: []ts.Descriptor{{Tag: ts.DescStreamIdentifier, Data: []byte{0x40}}}},
		},
	}
}

// Reassembles the PAT a filter wrote to its sink.
func parseSinkPAT(t *testing.T, pkts []packet.Packet) *ts.PAT {
	t.Helper()
	demux := ts.NewDemux()
	var pat *ts.PAT
	demux.SetTableHandler(func(tbl *ts.Table) {
		if tbl.TableID == ts.TIDPAT {
			p, err := ts.ParsePAT(tbl)
			require.NoError(t, err)
			pat = p
		}
	})
	demux.AddPID(ts.PIDPAT)
	for i := range pkts {
		demux.Feed(&pkts[i])
	}
	require.NotNil(t, pat, "no PAT in the filter output")
	return pat
}

func parseSinkPMT(t *testing.T, pmtPID uint16, pkts []packet.Packet) *ts.PMT {
	t.Helper()
	demux := ts.NewDemux()
	var pmt *ts.PMT
	demux.SetTableHandler(func(tbl *ts.Table) {
		if tbl.TableID == ts.TIDPMT {
			p, err := ts.ParsePMT(tbl)
			require.NoError(t, err)
			pmt = p
		}
	})
	demux.AddPID(pmtPID)
	for i := range pkts {
		demux.Feed(&pkts[i])
	}
	require.NotNil(t, pmt, "no PMT in the filter output")
	return pmt
}

func TestServiceFilterRewrite(t *testing.T) {
	f := NewServiceFilter(ServiceFilterOption{SID: 0x0001})
	sink := &memorySink{}
	f.Connect(sink)
	require.True(t, f.Start())

	cc := byte(0)
	var input []packet.Packet
	input = append(input, tstest.PATPackets(&cc, twoServicePAT())...)
	input = append(input, tstest.PMTPackets(0x0101, &cc, serviceOnePMT())...)
	input = append(input, tstest.TOTPackets(&cc, jst(2019, 1, 2, 3, 4, 5))...)
	input = append(input, tstest.PESPacket(0x0301, 0))
	input = append(input, tstest.PESPacket(0x0302, 0))
	input = append(input, tstest.PESPacket(0x0303, 0))
	// Packets of the other service and of dropped streams must not appear.
	input = append(input, tstest.PESPacket(0x0304, 0))
	input = append(input, tstest.PESPacket(0x0401, 0))

	require.True(t, feed(f, input))
	f.End()

	assert.Equal(t, []uint16{ts.PIDPAT, 0x0101, ts.PIDTOT, 0x0301, 0x0302, 0x0303}, sink.pids())
	assert.Equal(t, tsio.ExitSuccess, f.ExitCode())

	pat := parseSinkPAT(t, sink.packets)
	assert.Equal(t, uint16(0x1234), pat.TSID)
	assert.Equal(t, uint16(ts.PIDNIT), pat.NITPID)
	require.Len(t, pat.PMTs, 1)
	assert.Equal(t, uint16(0x0101), pat.PMTs[0x0001])

	pmt := parseSinkPMT(t, 0x0101, sink.packets)
	assert.Equal(t, uint16(0x0901), pmt.PCRPID)
	require.Len(t, pmt.Streams, 3)
	assert.Equal(t, uint16(0x0301), pmt.Streams[0].PID)
	assert.Equal(t, uint16(0x0302), pmt.Streams[1].PID)
	assert.Equal(t, uint16(0x0303), pmt.Streams[2].PID)
}

func TestServiceFilterMissingSID(t *testing.T) {
	f := NewServiceFilter(ServiceFilterOption{SID: 0x0003})
	sink := &memorySink{}
	f.Connect(sink)
	require.True(t, f.Start())

	cc := byte(0)
	input := tstest.PATPackets(&cc, twoServicePAT())
	input = append(input, tstest.PESPacket(0x0301, 0))

	assert.False(t, feed(f, input), "missing SID must stop the pipeline")
	assert.Equal(t, tsio.ExitFailure, f.ExitCode())
	assert.Empty(t, sink.packets)
}

func TestServiceFilterTimeLimit(t *testing.T) {
	limit := jst(2021, 1, 1, 0, 0, 30)
	f := NewServiceFilter(ServiceFilterOption{SID: 0x0001, TimeLimit: limit})
	sink := &memorySink{}
	f.Connect(sink)
	require.True(t, f.Start())

	cc := byte(0)
	var input []packet.Packet
	input = append(input, tstest.PATPackets(&cc, twoServicePAT())...)
	input = append(input, tstest.TOTPackets(&cc, jst(2021, 1, 1, 0, 0, 0))...)
	require.True(t, feed(f, input), "before the limit the filter keeps running")

	// The packet completing the over-limit TOT stops the pipeline cleanly.
	over := tstest.TOTPackets(&cc, limit)
	assert.False(t, feed(f, over))
	assert.Equal(t, tsio.ExitSuccess, f.ExitCode())
}

func TestServiceFilterCATUpdatesEMMFilter(t *testing.T) {
	f := NewServiceFilter(ServiceFilterOption{SID: 0x0001})
	sink := &memorySink{}
	f.Connect(sink)
	require.True(t, f.Start())

	cc := byte(0)
	var input []packet.Packet
	input = append(input, tstest.PATPackets(&cc, twoServicePAT())...)
	input = append(input, tstest.CATPackets(&cc, 0, 0x0501)...)
	input = append(input, tstest.PESPacket(0x0501, 0)) // EMM
	input = append(input, tstest.PESPacket(0x0502, 0)) // unrelated
	require.True(t, feed(f, input))

	pids := sink.pids()
	assert.Contains(t, pids, uint16(0x0501))
	assert.NotContains(t, pids, uint16(0x0502))
}

func TestServiceFilterNoSink(t *testing.T) {
	f := NewServiceFilter(ServiceFilterOption{SID: 1})
	assert.False(t, f.Start())
	assert.Equal(t, tsio.ExitFailure, f.ExitCode())
}
