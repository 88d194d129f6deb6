package tsio

import (
	"io"

	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/logging"
)

// Ring sink geometry. The write buffer is two storage blocks; chunks must be
// a multiple of the buffer so that a chunk boundary always coincides with a
// buffer flush.
const (
	RingBufferSize = 2 * blockSize
	MaxChunkSize   = RingBufferSize * 0x3FFFF
	MaxNumChunks   = 0x7FFFFFFF
)

// RingFileSink records packets into a fixed-size ring over a seekable file.
// The file is synced at every chunk boundary and truncated back to the ring
// size when the write position wraps.
type RingFileSink struct {
	file      File
	observer  RingObserver
	ringSize  uint64
	ringPos   uint64
	chunkSize uint64
	chunkPos  uint64
	buf       [RingBufferSize]byte
	bufPos    int
	broken    bool
}

// NewRingFileSink builds a sink over file with num chunks of chunkSize bytes
// each. chunkSize must be a positive multiple of RingBufferSize and no
// larger than MaxChunkSize; numChunks must be in [1, MaxNumChunks].
func NewRingFileSink(file File, chunkSize, numChunks uint64) *RingFileSink {
	if chunkSize == 0 || chunkSize > MaxChunkSize || chunkSize%RingBufferSize != 0 {
		logging.Error("Invalid chunk size: %d", chunkSize)
		return nil
	}
	if numChunks == 0 || numChunks > MaxNumChunks {
		logging.Error("Invalid number of chunks: %d", numChunks)
		return nil
	}
	s := &RingFileSink{
		file:      file,
		chunkSize: chunkSize,
		ringSize:  chunkSize * numChunks,
	}
	logging.Info("%s: %d bytes * %d chunks = %d bytes",
		file.Path(), chunkSize, numChunks, s.ringSize)
	return s
}

func (s *RingFileSink) Start() bool { return true }

func (s *RingFileSink) End() {
	// A partially filled buffer is intentionally not flushed: readers only
	// consume chunk-aligned data.
}

func (s *RingFileSink) ExitCode() int {
	if s.broken {
		return ExitFailure
	}
	return ExitSuccess
}

func (s *RingFileSink) HandlePacket(pkt *packet.Packet) bool {
	nwritten := 0
	for nwritten < len(pkt) {
		nwritten += s.fillBuffer(pkt[nwritten:])
		if s.bufPos == RingBufferSize {
			if !s.flush() {
				logging.Error("Failed flushing, need reset")
				s.broken = true
				return false
			}
		}
	}
	return true
}

func (s *RingFileSink) RingSize() uint64 { return s.ringSize }

func (s *RingFileSink) Pos() uint64 { return s.ringPos }

// SyncPos returns the ring position of the last chunk boundary, i.e. the end
// of the data known to be on storage.
func (s *RingFileSink) SyncPos() uint64 {
	return s.ringPos - s.chunkPos - uint64(s.bufPos)
}

// SetPosition repositions the ring at pos, which must be chunk-aligned and
// inside the ring.
func (s *RingFileSink) SetPosition(pos uint64) bool {
	if pos >= s.ringSize || pos%s.chunkSize != 0 || pos%RingBufferSize != 0 {
		logging.Error("Invalid ring position: %d", pos)
		return false
	}
	if off, err := s.file.Seek(int64(pos), io.SeekStart); err != nil || off != int64(pos) {
		return false
	}
	s.bufPos = 0
	s.ringPos = pos
	s.chunkPos = 0
	return true
}

func (s *RingFileSink) SetObserver(o RingObserver) { s.observer = o }

func (s *RingFileSink) IsBroken() bool { return s.broken }

// fillBuffer copies as much of data as fits into the write buffer and
// advances the ring position accordingly.
func (s *RingFileSink) fillBuffer(data []byte) int {
	n := copy(s.buf[s.bufPos:], data)
	s.bufPos += n
	s.ringPos += uint64(n)
	return n
}

func (s *RingFileSink) flush() bool {
	nwritten := 0
	for nwritten < RingBufferSize {
		n, err := s.file.Write(s.buf[nwritten:RingBufferSize])
		if n <= 0 || err != nil {
			if err != nil {
				logging.Error("%s: write: %v", s.file.Path(), err)
			}
			return false
		}
		nwritten += n
	}
	s.bufPos = 0

	s.chunkPos += RingBufferSize
	if s.chunkPos == s.chunkSize {
		logging.Debug("%s: Reached the chunk boundary %d, sync", s.file.Path(), s.ringPos)
		if err := s.file.Sync(); err != nil {
			logging.Error("%s: sync: %v", s.file.Path(), err)
			return false
		}
		s.chunkPos = 0
		if s.observer != nil {
			s.observer.OnEndOfChunk(s.ringPos)
		}
	}

	if s.ringPos == s.ringSize {
		logging.Debug("%s: Reached the end of the ring, truncate at %d", s.file.Path(), s.ringPos)
		if err := s.file.Trunc(int64(s.ringSize)); err != nil {
			logging.Error("%s: truncate: %v", s.file.Path(), err)
			return false
		}
		if off, err := s.file.Seek(0, io.SeekStart); err != nil || off != 0 {
			logging.Error("%s: seek: %v", s.file.Path(), err)
			return false
		}
		s.ringPos = 0
	}
	return true
}
