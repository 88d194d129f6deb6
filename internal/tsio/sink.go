package tsio

import (
	"encoding/json"
	"io"
	"os"

	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/logging"
)

// PacketSink consumes the packets of one pipeline run. HandlePacket returns
// false to stop the pipeline; the driver then calls End and reads the exit
// code.
type PacketSink interface {
	Start() bool
	End()
	ExitCode() int
	HandlePacket(pkt *packet.Packet) bool
}

// RingObserver is notified whenever a ring sink finishes a chunk.
type RingObserver interface {
	OnEndOfChunk(pos uint64)
}

// PacketRingSink is a PacketSink writing into a fixed-size ring.
type PacketRingSink interface {
	PacketSink
	RingSize() uint64
	// Pos is the ring position of the next byte to be buffered.
	Pos() uint64
	// SyncPos is the position of the last chunk boundary synced to storage.
	SyncPos() uint64
	SetPosition(pos uint64) bool
	SetObserver(o RingObserver)
	IsBroken() bool
}

// StdoutSink buffers packets and writes them to stdout (or any substitute
// writer) in few large writes. Four pages of buffer keep the write count per
// pipe transfer low.
type StdoutSink struct {
	w      io.Writer
	buf    [stdoutBufferSize]byte
	pos    int
	broken bool
}

const stdoutBufferSize = 4096 * 4

// NewStdoutSink returns a sink writing to stdout.
func NewStdoutSink() *StdoutSink { return &StdoutSink{w: os.Stdout} }

// NewWriterSink returns a sink writing to w. Used by tests.
func NewWriterSink(w io.Writer) *StdoutSink { return &StdoutSink{w: w} }

func (s *StdoutSink) Start() bool { return true }

func (s *StdoutSink) End() {
	s.flush()
}

func (s *StdoutSink) ExitCode() int {
	if s.broken {
		return ExitFailure
	}
	return ExitSuccess
}

func (s *StdoutSink) HandlePacket(pkt *packet.Packet) bool {
	if s.pos+len(pkt) < stdoutBufferSize {
		copy(s.buf[s.pos:], pkt[:])
		s.pos += len(pkt)
		return true
	}
	remaining := stdoutBufferSize - s.pos
	copy(s.buf[s.pos:], pkt[:remaining])
	s.pos = stdoutBufferSize
	if !s.flush() {
		return false
	}
	if len(pkt) > remaining {
		copy(s.buf[:], pkt[remaining:])
		s.pos = len(pkt) - remaining
	}
	return true
}

func (s *StdoutSink) flush() bool {
	if s.pos == 0 {
		return true
	}
	if _, err := s.w.Write(s.buf[:s.pos]); err != nil {
		logging.Error("Failed to write packets: %v", err)
		s.broken = true
		return false
	}
	s.pos = 0
	return true
}

// JsonlSink consumes JSON documents, one per line.
type JsonlSink interface {
	HandleDocument(v any) bool
}

// StdoutJsonlSink writes each document as one JSON line on stdout.
type StdoutJsonlSink struct {
	enc *json.Encoder
}

// NewStdoutJsonlSink returns a sink writing JSON lines to stdout.
func NewStdoutJsonlSink() *StdoutJsonlSink { return NewJsonlWriterSink(os.Stdout) }

// NewJsonlWriterSink returns a sink writing JSON lines to w.
func NewJsonlWriterSink(w io.Writer) *StdoutJsonlSink {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &StdoutJsonlSink{enc: enc}
}

func (s *StdoutJsonlSink) HandleDocument(v any) bool {
	if err := s.enc.Encode(v); err != nil {
		logging.Error("Failed to write document: %v", err)
		return false
	}
	return true
}
