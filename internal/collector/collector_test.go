package collector

import (
	"time"

	"github.com/Comcast/gots/packet"

	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/tsio"
)

// captureJsonl records every document a collector emits.
type captureJsonl struct {
	docs []any
}

func (c *captureJsonl) HandleDocument(v any) bool {
	c.docs = append(c.docs, v)
	return true
}

// feed drives packets into a sink, reporting whether it is still accepting.
func feed(sink tsio.PacketSink, pkts []packet.Packet) bool {
	for i := range pkts {
		if !sink.HandlePacket(&pkts[i]) {
			return false
		}
	}
	return true
}

func jst(year int, month time.Month, day, hour, min, sec int) time.Time {
	return time.Date(year, month, day, hour, min, sec, 0, ts.JST)
}
