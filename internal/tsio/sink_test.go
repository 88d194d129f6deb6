package tsio

import (
	"bytes"
	"strings"
	"testing"

	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/ts/tstest"
)

func TestStdoutSinkBuffersAndFlushes(t *testing.T) {
	var out bytes.Buffer
	sink := NewWriterSink(&out)
	if !sink.Start() {
		t.Fatal("Start failed")
	}

	// Fewer packets than the buffer holds: nothing is written until End.
	pkt := tstest.NullPacket(0)
	for i := 0; i < 10; i++ {
		if !sink.HandlePacket(&pkt) {
			t.Fatal("HandlePacket failed")
		}
	}
	if out.Len() != 0 {
		t.Fatalf("premature write of %d bytes", out.Len())
	}
	sink.End()
	if out.Len() != 10*ts.PacketSize {
		t.Fatalf("flushed %d bytes, want %d", out.Len(), 10*ts.PacketSize)
	}
}

func TestStdoutSinkLargeStream(t *testing.T) {
	var out bytes.Buffer
	sink := NewWriterSink(&out)
	var want bytes.Buffer
	// Enough packets to force several intermediate flushes.
	for i := 0; i < 1000; i++ {
		pkt := tstest.NullPacket(byte(i & 0x0F))
		want.Write(pkt[:])
		if !sink.HandlePacket(&pkt) {
			t.Fatal("HandlePacket failed")
		}
	}
	sink.End()
	if !bytes.Equal(out.Bytes(), want.Bytes()) {
		t.Fatalf("output differs: %d bytes vs %d bytes", out.Len(), want.Len())
	}
	if sink.ExitCode() != ExitSuccess {
		t.Errorf("exit code = %d", sink.ExitCode())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, bytes.ErrTooLarge
}

func TestStdoutSinkWriteError(t *testing.T) {
	sink := NewWriterSink(failingWriter{})
	pkt := tstest.NullPacket(0)
	ok := true
	for i := 0; ok && i < 100; i++ {
		ok = sink.HandlePacket(&pkt)
	}
	if ok {
		t.Fatal("write error must stop the pipeline")
	}
	if sink.ExitCode() != ExitFailure {
		t.Errorf("exit code = %d, want %d", sink.ExitCode(), ExitFailure)
	}
}

func TestStdoutJsonlSink(t *testing.T) {
	var out bytes.Buffer
	sink := NewJsonlWriterSink(&out)
	if !sink.HandleDocument(map[string]int{"sid": 1}) {
		t.Fatal("HandleDocument failed")
	}
	if !sink.HandleDocument(map[string]int{"sid": 2}) {
		t.Fatal("HandleDocument failed")
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0] != `{"sid":1}` {
		t.Errorf("line 0 = %q", lines[0])
	}
}
