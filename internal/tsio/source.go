package tsio

import (
	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/logging"
	"github.com/aribtools/arib-ts/internal/ts"
)

// Resync tuning. A stream that cannot produce four consecutive aligned sync
// bytes within the drop window is considered unrecoverable.
const (
	blockSize      = 4096
	readChunkSize  = 4 * blockSize
	maxDropBytes   = 2 * ts.PacketSize
	maxResyncBytes = maxDropBytes + 3*ts.PacketSize
	srcBufferSize  = readChunkSize + maxResyncBytes
)

// FileSource reads a TS byte stream from a File, locating 188-byte packet
// boundaries and recovering from loss of synchronization.
type FileSource struct {
	file   File
	sink   PacketSink
	buf    [srcBufferSize]byte
	pos    int
	end    int
	eof    bool
	broken bool
}

// NewFileSource returns a source reading from file.
func NewFileSource(file File) *FileSource {
	return &FileSource{file: file}
}

// Connect installs the sink the packets are fed into.
func (s *FileSource) Connect(sink PacketSink) {
	s.sink = sink
}

// FeedPackets runs the pipeline to completion and returns the exit code.
func (s *FileSource) FeedPackets() int {
	if s.sink == nil {
		logging.Error("No sink has been connected")
		return ExitFailure
	}
	logging.Info("Feed packets...")
	if !s.sink.Start() {
		logging.Error("Failed to start")
		return ExitFailure
	}
	var pkt packet.Packet
	for s.nextPacket(&pkt) {
		if !s.sink.HandlePacket(&pkt) {
			break
		}
	}
	s.sink.End()
	code := s.sink.ExitCode()
	if s.broken && code == ExitSuccess {
		code = ExitFailure
	}
	logging.Info("Ended with exit-code(%d)", code)
	return code
}

// nextPacket copies the next valid packet into pkt. Returns false on EOF or
// after an unrecoverable loss of synchronization.
func (s *FileSource) nextPacket(pkt *packet.Packet) bool {
	if !s.fillBuffer(ts.PacketSize) {
		return false
	}
	if s.buf[s.pos] != ts.SyncByte {
		logging.Warn("Synchronization was lost")
		if !s.resync() {
			return false
		}
	}
	copy(pkt[:], s.buf[s.pos:s.pos+ts.PacketSize])
	s.pos += ts.PacketSize
	return true
}

// fillBuffer ensures at least minBytes are buffered, reading whole chunks
// from the file. Returns false when EOF cuts the stream short.
func (s *FileSource) fillBuffer(minBytes int) bool {
	if s.eof {
		return false
	}
	if s.end-s.pos >= minBytes {
		return true
	}
	copy(s.buf[:], s.buf[s.pos:s.end])
	s.end -= s.pos
	s.pos = 0
	for s.end < minBytes {
		n, err := s.file.Read(s.buf[s.end : s.end+readChunkSize])
		if n > 0 {
			s.end += n
			continue
		}
		if err != nil || n <= 0 {
			s.eof = true
			logging.Info("EOF reached")
			return false
		}
	}
	return true
}

// resync scans forward for a sync byte that is followed by three more at
// packet boundaries. At most maxDropBytes of noise are skipped.
func (s *FileSource) resync() bool {
	logging.Warn("Resync...")
	if !s.fillBuffer(maxResyncBytes) {
		return false
	}
	start := s.pos
	limit := s.pos + maxDropBytes
	for s.pos < limit {
		if s.buf[s.pos] != ts.SyncByte {
			s.pos++
			continue
		}
		if s.validateResync() {
			logging.Warn("Resynced, %d bytes dropped", s.pos-start)
			return true
		}
		s.pos++
	}
	logging.Error("Resync failed")
	s.broken = true
	return false
}

func (s *FileSource) validateResync() bool {
	return s.buf[s.pos+1*ts.PacketSize] == ts.SyncByte &&
		s.buf[s.pos+2*ts.PacketSize] == ts.SyncByte &&
		s.buf[s.pos+3*ts.PacketSize] == ts.SyncByte
}
