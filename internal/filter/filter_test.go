package filter

import (
	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/tsio"
)

// memorySink records packets for assertions.
type memorySink struct {
	packets []packet.Packet
	started bool
	ended   bool
	code    int
}

func (s *memorySink) Start() bool { s.started = true; return true }
func (s *memorySink) End()        { s.ended = true }
func (s *memorySink) ExitCode() int {
	return s.code
}
func (s *memorySink) HandlePacket(pkt *packet.Packet) bool {
	s.packets = append(s.packets, *pkt)
	return true
}

func (s *memorySink) pids() []uint16 {
	out := make([]uint16, len(s.packets))
	for i := range s.packets {
		out[i] = uint16(s.packets[i].PID())
	}
	return out
}

// feed pushes packets through a sink chain the way the driver loop does and
// reports whether the chain is still accepting input.
func feed(sink tsio.PacketSink, pkts []packet.Packet) bool {
	for i := range pkts {
		if !sink.HandlePacket(&pkts[i]) {
			return false
		}
	}
	return true
}
