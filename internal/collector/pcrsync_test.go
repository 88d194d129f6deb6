package collector

import (
	"testing"

	"github.com/Comcast/gots/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/ts/tstest"
	"github.com/aribtools/arib-ts/internal/tsio"
)

func TestPcrSynchronizer(t *testing.T) {
	s := NewPcrSynchronizer(PcrSynchronizerOption{})
	jsonl := &captureJsonl{}
	s.Connect(jsonl)
	require.True(t, s.Start())

	cc := byte(0)
	var pkts []packet.Packet
	pat := &ts.PAT{
		TSID:   0x7FE0,
		NITPID: ts.PIDNIT,
		PMTs:   map[uint16]uint16{0x0400: 0x0101, 0x0401: 0x0102},
		Order:  []uint16{0x0400, 0x0401},
	}
	pkts = append(pkts, tstest.PATPackets(&cc, pat)...)
	pkts = append(pkts, tstest.SDTPackets(&cc, 0x7FE0, 0x7FE0, 0,
		tstest.SdtService{SID: 0x0400, Type: 0x01, Name: "a", LogoID: -1},
		tstest.SdtService{SID: 0x0401, Type: 0x01, Name: "b", LogoID: -1},
	)...)
	pkts = append(pkts, tstest.PMTPackets(0x0101, &cc,
		&ts.PMT{SID: 0x0400, PCRPID: 0x0901})...)
	pkts = append(pkts, tstest.PMTPackets(0x0102, &cc,
		&ts.PMT{SID: 0x0401, PCRPID: 0x0902})...)
	pkts = append(pkts, tstest.TOTPackets(&cc, jst(2021, 1, 1, 0, 0, 0))...)
	pkts = append(pkts, tstest.PCRPacket(0x0901, 0, 1000))
	require.True(t, feed(s, pkts))

	// The second PCR completes the collection and stops the pipeline.
	last := tstest.PCRPacket(0x0902, 0, 2000)
	assert.False(t, s.HandlePacket(&last))
	s.End()
	assert.Equal(t, tsio.ExitSuccess, s.ExitCode())

	require.Len(t, jsonl.docs, 1)
	out := jsonl.docs[0].([]SyncJSON)
	require.Len(t, out, 2)
	assert.Equal(t, uint16(0x0400), out[0].SID)
	assert.Equal(t, uint16(0x0901), out[0].Clock.PID)
	assert.Equal(t, int64(1000), out[0].Clock.PCR)
	assert.Equal(t, ts.UnixMs(jst(2021, 1, 1, 0, 0, 0)), out[0].Clock.Time)
	assert.Equal(t, uint16(0x0401), out[1].SID)
	assert.Equal(t, int64(2000), out[1].Clock.PCR)
}

func TestPcrSynchronizerIncomplete(t *testing.T) {
	s := NewPcrSynchronizer(PcrSynchronizerOption{})
	jsonl := &captureJsonl{}
	s.Connect(jsonl)
	require.True(t, s.Start())

	cc := byte(0)
	pat := &ts.PAT{TSID: 1, PMTs: map[uint16]uint16{1: 0x101}, Order: []uint16{1}}
	require.True(t, feed(s, tstest.PATPackets(&cc, pat)))
	s.End()
	assert.Equal(t, tsio.ExitFailure, s.ExitCode())
	assert.Empty(t, jsonl.docs)
}

func TestPcrSynchronizerInclusionList(t *testing.T) {
	s := NewPcrSynchronizer(PcrSynchronizerOption{Sids: NewSidSet(0x0400)})
	jsonl := &captureJsonl{}
	s.Connect(jsonl)
	require.True(t, s.Start())

	cc := byte(0)
	var pkts []packet.Packet
	pat := &ts.PAT{
		TSID:  0x7FE0,
		PMTs:  map[uint16]uint16{0x0400: 0x0101, 0x0401: 0x0102},
		Order: []uint16{0x0400, 0x0401},
	}
	pkts = append(pkts, tstest.PATPackets(&cc, pat)...)
	pkts = append(pkts, tstest.SDTPackets(&cc, 0x7FE0, 0x7FE0, 0,
		tstest.SdtService{SID: 0x0400, Type: 0x01, Name: "a", LogoID: -1},
		tstest.SdtService{SID: 0x0401, Type: 0x01, Name: "b", LogoID: -1},
	)...)
	pkts = append(pkts, tstest.PMTPackets(0x0101, &cc,
		&ts.PMT{SID: 0x0400, PCRPID: 0x0901})...)
	pkts = append(pkts, tstest.TOTPackets(&cc, jst(2021, 1, 1, 0, 0, 0))...)
	require.True(t, feed(s, pkts))

	last := tstest.PCRPacket(0x0901, 0, 7)
	assert.False(t, s.HandlePacket(&last))
	s.End()
	out := jsonl.docs[0].([]SyncJSON)
	require.Len(t, out, 1)
	assert.Equal(t, uint16(0x0400), out[0].SID)
}
