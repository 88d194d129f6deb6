package ts

import "fmt"

// PAT is the Program Association Table: the SID to PMT-PID map of the
// transport stream.
type PAT struct {
	TSID    uint16
	Version uint8
	NITPID  uint16
	// PMTs maps service_id to the PID its PMT is delivered on.
	PMTs map[uint16]uint16
	// Order preserves the service order of the wire encoding; PMTs alone
	// would re-serialize in map order.
	Order []uint16
}

// ParsePAT decodes a complete PAT table.
func ParsePAT(t *Table) (*PAT, error) {
	if t.TableID != TIDPAT {
		return nil, fmt.Errorf("not a PAT: table#%02X", t.TableID)
	}
	pat := &PAT{
		TSID:    t.TableIDExtension,
		Version: t.Version,
		NITPID:  PIDNull,
		PMTs:    make(map[uint16]uint16),
	}
	for _, sec := range t.Sections {
		p := sec.Payload()
		for len(p) >= 4 {
			program := uint16(p[0])<<8 | uint16(p[1])
			pid := uint16(p[2]&0x1F)<<8 | uint16(p[3])
			if program == 0 {
				pat.NITPID = pid
			} else {
				if _, dup := pat.PMTs[program]; !dup {
					pat.Order = append(pat.Order, program)
				}
				pat.PMTs[program] = pid
			}
			p = p[4:]
		}
	}
	return pat, nil
}

// EncodePAT serializes pat into a single PAT section with a valid CRC.
func EncodePAT(pat *PAT) []byte {
	var body []byte
	if pat.NITPID != PIDNull {
		body = append(body, 0x00, 0x00, byte(pat.NITPID>>8)|0xE0, byte(pat.NITPID))
	}
	for _, sid := range pat.Order {
		pid := pat.PMTs[sid]
		body = append(body, byte(sid>>8), byte(sid), byte(pid>>8)|0xE0, byte(pid))
	}
	return encodeLongSection(TIDPAT, pat.TSID, pat.Version, 0, 0, body)
}

// encodeLongSection builds a long-form section around body and appends the
// CRC.
func encodeLongSection(tid uint8, tidExt uint16, version, secNum, lastSecNum uint8, body []byte) []byte {
	length := 5 + len(body) + 4 // tail of header + body + CRC
	sec := make([]byte, 0, 3+length)
	sec = append(sec,
		tid,
		0xB0|byte(length>>8), byte(length),
		byte(tidExt>>8), byte(tidExt),
		0xC1|version<<1,
		secNum, lastSecNum,
	)
	sec = append(sec, body...)
	crc := CRC32(sec)
	return append(sec, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
}
