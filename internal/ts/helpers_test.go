package ts

import "github.com/Comcast/gots/packet"

// toPacket converts a raw byte array into a gots packet for tests.
func toPacket(b [PacketSize]byte) *packet.Packet {
	p := packet.Packet(b)
	return &p
}
