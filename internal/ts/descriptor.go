package ts

// Descriptor is a raw tag/length/value descriptor as carried in PSI/SI
// descriptor loops. Decoding is left to the accessors below so that broken
// descriptors can be skipped individually.
type Descriptor struct {
	Tag  uint8
	Data []byte
}

// parseDescriptors splits a descriptor loop. Truncated trailing descriptors
// are dropped.
func parseDescriptors(b []byte) []Descriptor {
	var out []Descriptor
	for len(b) >= 2 {
		tag := b[0]
		length := int(b[1])
		if 2+length > len(b) {
			break
		}
		out = append(out, Descriptor{Tag: tag, Data: append([]byte(nil), b[2:2+length]...)})
		b = b[2+length:]
	}
	return out
}

// CADescriptor is the conditional access descriptor (tag 0x09) which names
// the EMM/ECM PID of a CA system.
type CADescriptor struct {
	SystemID uint16
	PID      uint16
}

// ParseCA decodes a CA descriptor. ok is false when d is not a CA descriptor
// or too short.
func ParseCA(d Descriptor) (CADescriptor, bool) {
	if d.Tag != DescCA || len(d.Data) < 4 {
		return CADescriptor{}, false
	}
	return CADescriptor{
		SystemID: uint16(d.Data[0])<<8 | uint16(d.Data[1]),
		PID:      uint16(d.Data[2]&0x1F)<<8 | uint16(d.Data[3]),
	}, true
}

// caPIDs collects the PIDs of every CA descriptor in descs.
func caPIDs(descs []Descriptor) []uint16 {
	var pids []uint16
	for _, d := range descs {
		if ca, ok := ParseCA(d); ok {
			pids = append(pids, ca.PID)
		}
	}
	return pids
}
