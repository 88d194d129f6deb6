package tsio

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aribtools/arib-ts/internal/ts/tstest"
)

// fileCall records one operation on the mock file.
type fileCall struct {
	op   string
	size int64
}

// mockFile is an in-memory File recording sync/trunc/seek calls.
type mockFile struct {
	data    []byte
	off     int64
	calls   []fileCall
	failAll bool
}

func (m *mockFile) Path() string { return "<mock>" }

func (m *mockFile) Read([]byte) (int, error) { return 0, io.EOF }

func (m *mockFile) Write(p []byte) (int, error) {
	if m.failAll {
		return 0, io.ErrClosedPipe
	}
	end := m.off + int64(len(p))
	if int64(len(m.data)) < end {
		m.data = append(m.data, make([]byte, end-int64(len(m.data)))...)
	}
	copy(m.data[m.off:end], p)
	m.off = end
	return len(p), nil
}

func (m *mockFile) Sync() error {
	m.calls = append(m.calls, fileCall{op: "sync"})
	return nil
}

func (m *mockFile) Trunc(size int64) error {
	m.calls = append(m.calls, fileCall{op: "trunc", size: size})
	if int64(len(m.data)) > size {
		m.data = m.data[:size]
	}
	return nil
}

func (m *mockFile) Seek(offset int64, whence int) (int64, error) {
	m.calls = append(m.calls, fileCall{op: "seek", size: offset})
	m.off = offset
	return offset, nil
}

type chunkObserver struct {
	positions []uint64
}

func (o *chunkObserver) OnEndOfChunk(pos uint64) {
	o.positions = append(o.positions, pos)
}

func TestRingFileSinkGeometryChecks(t *testing.T) {
	f := &mockFile{}
	assert.Nil(t, NewRingFileSink(f, RingBufferSize+1, 2), "unaligned chunk size")
	assert.Nil(t, NewRingFileSink(f, 0, 2), "zero chunk size")
	assert.Nil(t, NewRingFileSink(f, RingBufferSize, 0), "zero chunks")
	assert.NotNil(t, NewRingFileSink(f, RingBufferSize, 1))
}

func TestRingFileSinkWrap(t *testing.T) {
	// chunk = 2 buffers, 2 chunks: ring = 4 buffers. Writing one packet
	// beyond the ring size forces two chunk syncs, a truncate and a rewind.
	f := &mockFile{}
	chunkSize := uint64(2 * RingBufferSize)
	sink := NewRingFileSink(f, chunkSize, 2)
	require.NotNil(t, sink)
	obs := &chunkObserver{}
	sink.SetObserver(obs)

	ringSize := 4 * RingBufferSize
	numPackets := ringSize/188 + 1 // first write crossing the ring end

	for i := 0; i < numPackets; i++ {
		pkt := tstest.NullPacket(byte(i & 0x0F))
		require.True(t, sink.HandlePacket(&pkt))
	}

	require.Equal(t, []uint64{chunkSize, uint64(ringSize)}, obs.positions)

	var truncs, seeks []fileCall
	syncs := 0
	for _, c := range f.calls {
		switch c.op {
		case "trunc":
			truncs = append(truncs, c)
		case "seek":
			seeks = append(seeks, c)
		case "sync":
			syncs++
		}
	}
	require.Len(t, truncs, 1)
	assert.Equal(t, int64(ringSize), truncs[0].size)
	require.Len(t, seeks, 1)
	assert.Equal(t, int64(0), seeks[0].size)
	assert.Equal(t, 2, syncs)

	// The write position wrapped: the next bytes resume at the ring start.
	wantPos := uint64(numPackets*188 - ringSize)
	assert.Equal(t, wantPos, sink.Pos())
	assert.False(t, sink.IsBroken())
	assert.Equal(t, ExitSuccess, sink.ExitCode())

	// The file never grows beyond the ring size.
	assert.LessOrEqual(t, len(f.data), ringSize)
}

func TestRingFileSinkSetPosition(t *testing.T) {
	f := &mockFile{}
	chunkSize := uint64(2 * RingBufferSize)
	sink := NewRingFileSink(f, chunkSize, 4)
	require.NotNil(t, sink)

	assert.False(t, sink.SetPosition(1), "unaligned position")
	assert.False(t, sink.SetPosition(sink.RingSize()), "position beyond the ring")
	require.True(t, sink.SetPosition(chunkSize))
	assert.Equal(t, chunkSize, sink.Pos())
	assert.Equal(t, chunkSize, sink.SyncPos())
	require.Len(t, f.calls, 1)
	assert.Equal(t, fileCall{op: "seek", size: int64(chunkSize)}, f.calls[0])
}

func TestRingFileSinkBrokenOnWriteError(t *testing.T) {
	f := &mockFile{failAll: true}
	sink := NewRingFileSink(f, uint64(RingBufferSize), 2)
	require.NotNil(t, sink)

	ok := true
	for i := 0; ok && i < RingBufferSize/188+1; i++ {
		pkt := tstest.NullPacket(byte(i & 0x0F))
		ok = sink.HandlePacket(&pkt)
	}
	assert.False(t, ok, "write failure must stop the pipeline")
	assert.True(t, sink.IsBroken())
	assert.Equal(t, ExitFailure, sink.ExitCode())
}

func TestRingFileSinkSyncPosLagsBehindPos(t *testing.T) {
	f := &mockFile{}
	sink := NewRingFileSink(f, uint64(2*RingBufferSize), 2)
	require.NotNil(t, sink)
	pkt := tstest.NullPacket(0)
	require.True(t, sink.HandlePacket(&pkt))
	assert.Equal(t, uint64(188), sink.Pos())
	assert.Equal(t, uint64(0), sink.SyncPos())
}
