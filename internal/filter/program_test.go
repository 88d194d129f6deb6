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

// The scenario of the original start-detection test: the initial clock pairs
// PCR 0 with the Unix epoch; the target event starts one second later and
// runs for an hour.
func startDetectionFilter() *ProgramFilter {
	return NewProgramFilter(ProgramFilterOption{
		SID:       0x0001,
		EID:       0x1001,
		ClockPID:  0x0901,
		ClockPCR:  0,
		ClockTime: ts.FromUnixMs(0),
	})
}

func singleServicePAT() *ts.PAT {
	return &ts.PAT{
		TSID:   0x1234,
		NITPID: ts.PIDNIT,
		PMTs:   map[uint16]uint16{0x0001: 0x0101},
		Order:  []uint16{0x0001},
	}
}

func pcrPMT() *ts.PMT {
	return &ts.PMT{
		SID:    0x0001,
		PCRPID: 0x0901,
		Streams: []ts.PMTStream{
			{Type: ts.StreamTypeMPEG2Video, PID: 0x0301,
				Descriptors: []ts.Descriptor{{Tag: ts.DescStreamIdentifier, Data: []byte{0x00}}}},
			{Type: ts.StreamTypeADTSAudio, PID: 0x0302,
				Descriptors: []ts.Descriptor{{Tag: ts.DescStreamIdentifier, Data: []byte{0x10}}}},
		},
	}
}

func startDetectionPrelude(cc *byte) []packet.Packet {
	var pkts []packet.Packet
	pkts = append(pkts, tstest.PATPackets(cc, singleServicePAT())...)
	pkts = append(pkts, tstest.PMTPackets(0x0101, cc, pcrPMT())...)
	pkts = append(pkts, tstest.EitPFPackets(cc, 0x0001, 0x1234, 0x0003, 1,
		tstest.EitEvent{EventID: 0x1000, StartTime: ts.FromUnixMs(0), Duration: time.Second},
		tstest.EitEvent{EventID: 0x1001, StartTime: ts.FromUnixMs(1000), Duration: time.Hour},
	)...)
	return pkts
}

func TestProgramFilterStartDetection(t *testing.T) {
	f := startDetectionFilter()
	sink := &memorySink{}
	f.Connect(sink)
	require.True(t, f.Start())

	cc := byte(0)
	require.True(t, feed(f, startDetectionPrelude(&cc)))
	assert.Empty(t, sink.packets, "nothing may be emitted before the start PCR")

	// Below the start boundary: still waiting.
	early := tstest.PCRPacket(0x0901, 0, 26_000_000)
	require.True(t, f.HandlePacket(&early))
	assert.Empty(t, sink.packets)

	// At start_pcr the buffered PAT and PMT are flushed, then the trigger.
	trigger := tstest.PCRPacket(0x0901, 1, 27_000_000)
	require.True(t, f.HandlePacket(&trigger))
	require.Len(t, sink.packets, 3)
	assert.Equal(t, []uint16{ts.PIDPAT, 0x0101, 0x0901}, sink.pids())

	// Streaming forwards payload packets.
	pes := tstest.PESPacket(0x0301, 0)
	require.True(t, f.HandlePacket(&pes))
	assert.Equal(t, uint16(0x0301), uint16(sink.packets[3].PID()))

	// The end PCR is one hour after the start.
	endPCR := ts.PCR(27_000_000).AddTicks(3600 * ts.PCRTicksPerSec)
	last := tstest.PCRPacket(0x0901, 2, endPCR)
	assert.False(t, f.HandlePacket(&last))
	assert.Equal(t, tsio.ExitSuccess, f.ExitCode())
}

func TestProgramFilterEndBeforeStart(t *testing.T) {
	// A PCR at or beyond end_pcr while waiting means the event is over
	// before it started; the filter stops without streaming.
	f := startDetectionFilter()
	sink := &memorySink{}
	f.Connect(sink)
	require.True(t, f.Start())

	cc := byte(0)
	require.True(t, feed(f, startDetectionPrelude(&cc)))
	late := tstest.PCRPacket(0x0901, 0, ts.PCR(27_000_000).AddTicks(3601*ts.PCRTicksPerSec))
	assert.False(t, f.HandlePacket(&late))
	assert.Equal(t, tsio.ExitRetry, f.ExitCode())
	assert.Empty(t, sink.packets)
}

func TestProgramFilterCanceledEvent(t *testing.T) {
	// Neither present nor following matches the target event: canceled.
	f := startDetectionFilter()
	sink := &memorySink{}
	f.Connect(sink)
	require.True(t, f.Start())

	cc := byte(0)
	var pkts []packet.Packet
	pkts = append(pkts, tstest.PATPackets(&cc, singleServicePAT())...)
	pkts = append(pkts, tstest.EitPFPackets(&cc, 0x0001, 0x1234, 0x0003, 1,
		tstest.EitEvent{EventID: 0x2000, StartTime: ts.FromUnixMs(0), Duration: time.Second},
		tstest.EitEvent{EventID: 0x2001, StartTime: ts.FromUnixMs(1000), Duration: time.Hour},
	)...)
	assert.False(t, feed(f, pkts), "cancellation stops the pipeline")
	assert.Equal(t, tsio.ExitRetry, f.ExitCode())
	assert.Empty(t, sink.packets)
}

func TestProgramFilterWaitUntil(t *testing.T) {
	f := NewProgramFilter(ProgramFilterOption{
		SID: 0x0001, EID: 0x1001,
		ClockPID: 0x0901, ClockPCR: 0, ClockTime: ts.FromUnixMs(0),
		WaitUntil: ts.FromUnixMs(60_000),
	})
	sink := &memorySink{}
	f.Connect(sink)
	require.True(t, f.Start())

	cc := byte(0)
	require.True(t, feed(f, tstest.PATPackets(&cc, singleServicePAT())))
	// A TDT past the wait-until bound triggers the retry exit.
	assert.False(t, feed(f, tstest.TDTPackets(&cc, ts.FromUnixMs(60_000))))
	assert.Equal(t, tsio.ExitRetry, f.ExitCode())
	assert.Empty(t, sink.packets)
}

func TestProgramFilterPreStreaming(t *testing.T) {
	f := NewProgramFilter(ProgramFilterOption{
		SID: 0x0001, EID: 0x1001,
		ClockPID: 0x0901, ClockPCR: 0, ClockTime: ts.FromUnixMs(0),
		PreStreaming: true,
	})
	sink := &memorySink{}
	f.Connect(sink)
	require.True(t, f.Start())

	cc := byte(0)
	require.True(t, feed(f, tstest.PATPackets(&cc, singleServicePAT())))
	// With pre-streaming, PAT packets pass through while waiting.
	assert.Equal(t, []uint16{ts.PIDPAT}, sink.pids())
}

func TestProgramFilterComponentTagRewrite(t *testing.T) {
	f := NewProgramFilter(ProgramFilterOption{
		SID: 0x0001, EID: 0x1001,
		ClockPID: 0x0901, ClockPCR: 0, ClockTime: ts.FromUnixMs(0),
		VideoTags: []uint8{0x00},
		AudioTags: []uint8{0x11}, // drops the 0x10-tagged audio stream
	})
	sink := &memorySink{}
	f.Connect(sink)
	require.True(t, f.Start())

	cc := byte(0)
	require.True(t, feed(f, startDetectionPrelude(&cc)))

	trigger := tstest.PCRPacket(0x0901, 1, 27_000_000)
	require.True(t, f.HandlePacket(&trigger))

	// The rewritten PMT keeps only the allow-listed video stream.
	pmt := parseSinkPMT(t, 0x0101, sink.packets)
	require.Len(t, pmt.Streams, 1)
	assert.Equal(t, uint16(0x0301), pmt.Streams[0].PID)

	// The excluded audio PES packets are dropped during streaming.
	audio := tstest.PESPacket(0x0302, 0)
	require.True(t, f.HandlePacket(&audio))
	video := tstest.PESPacket(0x0301, 0)
	require.True(t, f.HandlePacket(&video))
	got := sink.pids()
	assert.NotContains(t, got, uint16(0x0302))
	assert.Contains(t, got, uint16(0x0301))
}

func TestProgramFilterNoSink(t *testing.T) {
	f := startDetectionFilter()
	assert.False(t, f.Start())
	assert.Equal(t, tsio.ExitFailure, f.ExitCode())
}
