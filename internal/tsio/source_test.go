package tsio

import (
	"bytes"
	"testing"

	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/ts/tstest"
)

// collectSink records every packet it is handed.
type collectSink struct {
	packets  []packet.Packet
	started  bool
	ended    bool
	exitCode int
	// stopAfter makes HandlePacket return false after n packets; 0 = never.
	stopAfter int
}

func (s *collectSink) Start() bool { s.started = true; return true }
func (s *collectSink) End()        { s.ended = true }
func (s *collectSink) ExitCode() int {
	return s.exitCode
}
func (s *collectSink) HandlePacket(pkt *packet.Packet) bool {
	s.packets = append(s.packets, *pkt)
	return s.stopAfter == 0 || len(s.packets) < s.stopAfter
}

func feedBytes(t *testing.T, data []byte, sink PacketSink) int {
	t.Helper()
	src := NewFileSource(&ReaderFile{R: bytes.NewReader(data)})
	src.Connect(sink)
	return src.FeedPackets()
}

func TestFileSourceAlignedStream(t *testing.T) {
	var pkts []packet.Packet
	for i := 0; i < 10; i++ {
		pkts = append(pkts, tstest.NullPacket(byte(i&0x0F)))
	}
	sink := &collectSink{}
	code := feedBytes(t, tstest.Bytes(nil, pkts...), sink)
	if code != ExitSuccess {
		t.Fatalf("exit code = %d", code)
	}
	if len(sink.packets) != 10 {
		t.Fatalf("got %d packets, want 10", len(sink.packets))
	}
	if !sink.started || !sink.ended {
		t.Error("lifecycle hooks not invoked")
	}
}

func TestFileSourceResyncAfterNoise(t *testing.T) {
	// One byte of garbage followed by five aligned null packets: the noise
	// is dropped with a single resync and all five packets come through.
	var pkts []packet.Packet
	for i := 0; i < 5; i++ {
		pkts = append(pkts, tstest.NullPacket(byte(i)))
	}
	sink := &collectSink{}
	code := feedBytes(t, tstest.Bytes([]byte{0x00}, pkts...), sink)
	if code != ExitSuccess {
		t.Fatalf("exit code = %d", code)
	}
	if len(sink.packets) != 5 {
		t.Fatalf("got %d packets, want 5", len(sink.packets))
	}
	for i := range sink.packets {
		if sink.packets[i][0] != ts.SyncByte {
			t.Fatalf("packet %d lost alignment", i)
		}
	}
}

func TestFileSourceResyncLongerNoise(t *testing.T) {
	noise := bytes.Repeat([]byte{0x12}, 200) // within the drop window
	var pkts []packet.Packet
	for i := 0; i < 6; i++ {
		pkts = append(pkts, tstest.NullPacket(byte(i)))
	}
	sink := &collectSink{}
	code := feedBytes(t, tstest.Bytes(noise, pkts...), sink)
	if code != ExitSuccess {
		t.Fatalf("exit code = %d", code)
	}
	if len(sink.packets) != 6 {
		t.Fatalf("got %d packets, want 6", len(sink.packets))
	}
}

func TestFileSourceResyncFailure(t *testing.T) {
	// Nothing but garbage: resync cannot find four aligned sync bytes and
	// the pipeline fails.
	data := bytes.Repeat([]byte{0x00}, 8*ts.PacketSize)
	sink := &collectSink{}
	code := feedBytes(t, data, sink)
	if code != ExitFailure {
		t.Fatalf("exit code = %d, want %d", code, ExitFailure)
	}
	if len(sink.packets) != 0 {
		t.Fatalf("no packets expected, got %d", len(sink.packets))
	}
}

func TestFileSourceShortTail(t *testing.T) {
	// A truncated trailing packet is dropped silently at EOF.
	pkt := tstest.NullPacket(0)
	data := append(tstest.Bytes(nil, pkt), pkt[:100]...)
	sink := &collectSink{}
	code := feedBytes(t, data, sink)
	if code != ExitSuccess {
		t.Fatalf("exit code = %d", code)
	}
	if len(sink.packets) != 1 {
		t.Fatalf("got %d packets, want 1", len(sink.packets))
	}
}

func TestFileSourceSinkStops(t *testing.T) {
	var pkts []packet.Packet
	for i := 0; i < 10; i++ {
		pkts = append(pkts, tstest.NullPacket(byte(i)))
	}
	sink := &collectSink{stopAfter: 3, exitCode: ExitRetry}
	code := feedBytes(t, tstest.Bytes(nil, pkts...), sink)
	if code != ExitRetry {
		t.Fatalf("exit code = %d, want %d", code, ExitRetry)
	}
	if len(sink.packets) != 3 {
		t.Fatalf("got %d packets, want 3", len(sink.packets))
	}
	if !sink.ended {
		t.Error("End must run after the sink stops the pipeline")
	}
}

func TestFileSourceNoSink(t *testing.T) {
	src := NewFileSource(&ReaderFile{R: bytes.NewReader(nil)})
	if code := src.FeedPackets(); code != ExitFailure {
		t.Fatalf("exit code = %d, want %d", code, ExitFailure)
	}
}
